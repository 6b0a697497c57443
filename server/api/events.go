package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cyp0633/librecur/server/event"
	"github.com/cyp0633/librecur/server/series"
)

type createEventRequest struct {
	Name        string     `json:"name" binding:"required,max=255"`
	Description string     `json:"description"`
	Location    string     `json:"location" binding:"max=255"`
	Start       time.Time  `json:"start" binding:"required"`
	End         *time.Time `json:"end"`
}

type eventResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
	CreatorID   string     `json:"creatorId"`
}

func toEventResponse(evt *event.Event) eventResponse {
	resp := eventResponse{
		ID:          evt.ID,
		Name:        evt.Name,
		Description: evt.Description,
		Location:    evt.Location,
		Start:       evt.Start,
		CreatorID:   evt.CreatorID,
	}
	if !evt.End.IsZero() {
		end := evt.End
		resp.End = &end
	}
	return resp
}

func (s *Server) createEvent(c *gin.Context) {
	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err)
		return
	}

	evt := &event.Event{
		Name:        req.Name,
		Description: req.Description,
		Location:    req.Location,
		Start:       req.Start,
		CreatorID:   actorID(c),
	}
	if req.End != nil {
		if req.End.Before(req.Start) {
			writeBadRequest(c, errors.New("event end must not be before its start"))
			return
		}
		evt.End = *req.End
	}

	created, err := s.events.Create(c.Request.Context(), evt)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Location", "/api/v1/events/"+created.ID)
	c.JSON(http.StatusCreated, toEventResponse(created))
}

func (s *Server) getEvent(c *gin.Context) {
	evt, err := s.events.GetByID(c.Request.Context(), c.Param("eventID"))
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Message: "event not found", Code: string(series.KindNotFound)})
			return
		}
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toEventResponse(evt))
}
