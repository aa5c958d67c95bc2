package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/eventpay/internal/payment/domain"
)

type manualPaymentRequest struct {
	Status domain.Status `json:"status" binding:"required"`
	Amount *int64        `json:"amount"`
}

type transitionRequest struct {
	Status          domain.Status `json:"status" binding:"required"`
	ExpectedVersion *int64        `json:"expected_version"`
}

type payoutAccountRequest struct {
	ProviderAccountID string `json:"provider_account_id" binding:"required"`
}

func (s *Server) GetPaymentEligibility(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	s.respondEligibility(c, id)
}

func (s *Server) StartCheckout(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	s.respondCheckout(c, id)
}

func (s *Server) respondEligibility(c *gin.Context, attendanceID snowflake.ID) {
	res, err := s.sessionSvc.Eligibility(c.Request.Context(), attendanceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (s *Server) respondCheckout(c *gin.Context, attendanceID snowflake.ID) {
	ref, err := s.sessionSvc.Start(c.Request.Context(), attendanceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": ref})
}

func (s *Server) ListPayments(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	items, err := s.reconcileSvc.ListByAttendance(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"payments": items,
		"current":  domain.SelectCurrent(items),
	}})
}

func (s *Server) RecordManualPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req manualPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	payment, err := s.reconcileSvc.RecordManual(c.Request.Context(), domain.ManualPaymentRequest{
		AttendanceID: id,
		Status:       req.Status,
		Amount:       req.Amount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

func (s *Server) TransitionPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	payment, err := s.reconcileSvc.Transition(c.Request.Context(), domain.TransitionRequest{
		PaymentID:       id,
		To:              req.Status,
		ExpectedVersion: req.ExpectedVersion,
		Source:          domain.SourceManual,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

func (s *Server) RegisterPayoutAccount(c *gin.Context) {
	ownerID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req payoutAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.payoutSvc.RegisterPayoutAccount(c.Request.Context(), ownerID, req.ProviderAccountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}
