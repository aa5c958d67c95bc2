package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/eventpay/internal/attendance/domain"
)

type guestStatusRequest struct {
	Status domain.Status `json:"status" binding:"required"`
}

// guestAttendance resolves the attendance behind the X-Guest-Token header.
func (s *Server) guestAttendance(c *gin.Context) (domain.Attendance, bool) {
	token := guestToken(c)
	if token == "" {
		AbortWithError(c, newValidationError("guest_token", "invalid_guest_token", "missing guest token"))
		return domain.Attendance{}, false
	}

	item, err := s.attendanceSvc.GetByGuestToken(c.Request.Context(), token)
	if err != nil {
		AbortWithError(c, err)
		return domain.Attendance{}, false
	}
	return item, true
}

func (s *Server) GetGuestAttendance(c *gin.Context) {
	item, ok := s.guestAttendance(c)
	if !ok {
		return
	}

	event, err := s.eventSvc.Get(c.Request.Context(), item.EventID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"attendance": item,
		"event":      s.view(event),
	}})
}

// ChangeGuestStatus never bypasses capacity and is bound by the
// registration deadline.
func (s *Server) ChangeGuestStatus(c *gin.Context) {
	item, ok := s.guestAttendance(c)
	if !ok {
		return
	}

	var req guestStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, err := s.attendanceSvc.ChangeStatus(c.Request.Context(), domain.ChangeStatusRequest{
		ID:     item.ID,
		Status: req.Status,
		Source: domain.SourceGuest,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (s *Server) GetGuestPaymentEligibility(c *gin.Context) {
	item, ok := s.guestAttendance(c)
	if !ok {
		return
	}
	s.respondEligibility(c, item.ID)
}

func (s *Server) StartGuestCheckout(c *gin.Context) {
	item, ok := s.guestAttendance(c)
	if !ok {
		return
	}
	s.respondCheckout(c, item.ID)
}
