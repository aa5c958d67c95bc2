package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/eventpay/internal/attendance/domain"
)

type admitRequest struct {
	Name           string        `json:"name" binding:"required"`
	Status         domain.Status `json:"status"`
	Source         domain.Source `json:"source"`
	BypassCapacity bool          `json:"bypass_capacity"`
}

type changeStatusRequest struct {
	Status         domain.Status `json:"status" binding:"required"`
	Source         domain.Source `json:"source"`
	BypassCapacity bool          `json:"bypass_capacity"`
}

func (s *Server) AdmitAttendance(c *gin.Context) {
	eventID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req admitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, err := s.attendanceSvc.Admit(c.Request.Context(), domain.AdmitRequest{
		EventID: eventID,
		Name:    req.Name,
		Status:  req.Status,
		Source:  req.Source,
		Bypass:  req.BypassCapacity,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": res})
}

func (s *Server) ListAttendances(c *gin.Context) {
	eventID, ok := pathID(c, "id")
	if !ok {
		return
	}

	items, err := s.attendanceSvc.ListByEvent(c.Request.Context(), eventID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GetAttendance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	item, err := s.attendanceSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) ChangeAttendanceStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req changeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, err := s.attendanceSvc.ChangeStatus(c.Request.Context(), domain.ChangeStatusRequest{
		ID:     id,
		Status: req.Status,
		Source: req.Source,
		Bypass: req.BypassCapacity,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (s *Server) ReissueGuestToken(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	res, err := s.attendanceSvc.ReissueGuestToken(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}
