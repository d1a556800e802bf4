package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/agentmarket/internal/callerctx"
	"github.com/smallbiznis/agentmarket/internal/escrow"
	rentaldomain "github.com/smallbiznis/agentmarket/internal/rental/domain"
	"github.com/smallbiznis/agentmarket/internal/settlement"
)

type rentSubscriptionRequest struct {
	OfferingID      uint64 `json:"offering_id"`
	DurationSeconds int64  `json:"duration_seconds"`
	Payment         int64  `json:"payment"`
}

type rentalEscrowResponse struct {
	Account   escrow.Account        `json:"account"`
	Held      int64                 `json:"held"`
	Transfers []settlement.Transfer `json:"transfers"`
}

func (s *Server) RentPayPerUse(c *gin.Context) {
	var req rentaldomain.RentPayPerUseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id, err := s.rentalSvc.RentPayPerUse(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, idResponse{ID: id})
}

func (s *Server) RentSubscription(c *gin.Context) {
	var req rentSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if req.DurationSeconds > int64(time.Duration(1<<63-1)/time.Second) {
		AbortWithError(c, rentaldomain.ErrInvalidDuration)
		return
	}

	id, err := s.rentalSvc.RentSubscription(c.Request.Context(), rentaldomain.RentSubscriptionRequest{
		OfferingID: req.OfferingID,
		Duration:   time.Duration(req.DurationSeconds) * time.Second,
		Payment:    req.Payment,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, idResponse{ID: id})
}

func (s *Server) GetRental(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	rental, err := s.rentalSvc.GetRental(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rental)
}

func (s *Server) UseAgent(c *gin.Context) {
	s.rentalAction(c, s.rentalSvc.UseAgent)
}

func (s *Server) CancelRental(c *gin.Context) {
	s.rentalAction(c, s.rentalSvc.CancelRental)
}

func (s *Server) CompleteRental(c *gin.Context) {
	s.rentalAction(c, s.rentalSvc.CompleteRental)
}

// rentalAction runs a state transition and answers with the updated rental.
func (s *Server) rentalAction(c *gin.Context, apply func(context.Context, uint64) error) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := apply(ctx, id); err != nil {
		AbortWithError(c, err)
		return
	}

	rental, err := s.rentalSvc.GetRental(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rental)
}

func (s *Server) GetRentalEscrow(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	ctx := c.Request.Context()

	account, err := s.escrowSvc.Get(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	held, err := s.escrowSvc.HeldBalance(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	transfers, err := s.settlements.ListByRental(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rentalEscrowResponse{Account: account, Held: held, Transfers: transfers})
}

func (s *Server) ListRentalsByRenter(c *gin.Context) {
	items, err := s.rentalSvc.ListByRenter(c.Request.Context(), c.Param("address"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse[rentaldomain.Rental]{Data: items})
}

func (s *Server) GetAccountBalance(c *gin.Context) {
	address := callerctx.Normalize(c.Param("address"))
	if address == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	balance, err := s.settlements.Balance(c.Request.Context(), address)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": address, "balance": balance})
}
