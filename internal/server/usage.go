package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
)

func (s *Server) RegisterComputeProvider(c *gin.Context) {
	var req usagedomain.RegisterComputeProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.usageSvc.RegisterComputeProvider(c.Request.Context(), req); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) GetComputeProvider(c *gin.Context) {
	provider, err := s.usageSvc.GetComputeProvider(c.Request.Context(), c.Param("address"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, provider)
}

func (s *Server) RecordUsage(c *gin.Context) {
	var req usagedomain.RecordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id, err := s.usageSvc.RecordUsage(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, idResponse{ID: id})
}

func (s *Server) GetUsageRecord(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	record, err := s.usageSvc.GetUsageRecord(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) VerifyUsage(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req usagedomain.VerifyUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.RecordID = id

	ctx := c.Request.Context()
	if err := s.usageSvc.VerifyUsage(ctx, req); err != nil {
		AbortWithError(c, err)
		return
	}
	record, err := s.usageSvc.GetUsageRecord(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) ListUsageByRental(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.usageSvc.ListUsageByRental(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse[usagedomain.UsageRecord]{Data: items})
}
