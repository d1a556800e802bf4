package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	offeringdomain "github.com/smallbiznis/agentmarket/internal/offering/domain"
	"github.com/smallbiznis/agentmarket/pkg/db/pagination"
)

type listResponse[T any] struct {
	Data []T `json:"data"`
}

func (s *Server) RegisterOffering(c *gin.Context) {
	var req offeringdomain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id, err := s.offeringSvc.Register(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, idResponse{ID: id})
}

func (s *Server) ListActiveOfferings(c *gin.Context) {
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	limit, err := queryInt(c, "limit", pagination.DefaultPageSize)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.offeringSvc.ListActive(c.Request.Context(), offset, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse[offeringdomain.Offering]{Data: items})
}

func (s *Server) CountOfferings(c *gin.Context) {
	total, err := s.offeringSvc.CountTotal(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total})
}

func (s *Server) GetOffering(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.offeringSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) UpdateOffering(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req offeringdomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.ID = id

	if err := s.offeringSvc.Update(c.Request.Context(), req); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ActivateOffering(c *gin.Context) {
	s.setOfferingActive(c, s.offeringSvc.Activate)
}

func (s *Server) DeactivateOffering(c *gin.Context) {
	s.setOfferingActive(c, s.offeringSvc.Deactivate)
}

func (s *Server) setOfferingActive(c *gin.Context, apply func(context.Context, uint64) error) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := apply(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) AddReview(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req offeringdomain.AddReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.OfferingID = id

	if err := s.offeringSvc.AddReview(c.Request.Context(), req); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (s *Server) ListReviews(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.offeringSvc.ListReviews(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse[offeringdomain.Review]{Data: items})
}

func (s *Server) GetAgentUsageStats(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	stats, err := s.usageSvc.GetAgentUsageStats(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) ListOfferingsByOwner(c *gin.Context) {
	items, err := s.offeringSvc.ListByOwner(c.Request.Context(), c.Param("address"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse[offeringdomain.Offering]{Data: items})
}

func (s *Server) ListOfferingsByCategory(c *gin.Context) {
	items, err := s.offeringSvc.ListByCategory(c.Request.Context(), c.Param("category"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse[offeringdomain.Offering]{Data: items})
}
