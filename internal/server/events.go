package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/eventpay/internal/event/domain"
	"github.com/smallbiznis/eventpay/internal/event/lifecycle"
)

// eventView adds the derived lifecycle status to a stored event.
type eventView struct {
	domain.Event
	Status domain.Status `json:"status"`
}

type cancelEventRequest struct {
	Note *string `json:"note"`
}

func (s *Server) view(event domain.Event) eventView {
	return eventView{Event: event, Status: lifecycle.Of(event, s.clock.Now())}
}

func (s *Server) CreateEvent(c *gin.Context) {
	var req domain.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	event, err := s.eventSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": s.view(event)})
}

func (s *Server) GetEvent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	event, err := s.eventSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.view(event)})
}

func (s *Server) UpdateEvent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var patch domain.EventPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.eventSvc.Update(c.Request.Context(), domain.UpdateEventRequest{ID: id, Patch: patch})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"event":      s.view(resp.Event),
		"advisories": resp.Advisories,
	}})
}

func (s *Server) DeleteEvent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := s.eventSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// CancelEvent answers repeated cancellations with the stored event and
// already_canceled set, so clients can retry safely.
func (s *Server) CancelEvent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req cancelEventRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	event, err := s.canceler.Cancel(c.Request.Context(), id, req.Note)
	alreadyCanceled := errors.Is(err, domain.ErrAlreadyCanceled)
	if err != nil && !alreadyCanceled {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"event":            s.view(event),
		"already_canceled": alreadyCanceled,
	}})
}
