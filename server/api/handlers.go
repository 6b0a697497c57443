package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/emersion/go-ical"
	"github.com/gin-gonic/gin"

	"github.com/cyp0633/librecur/server/auth"
	"github.com/cyp0633/librecur/server/recurrence"
	"github.com/cyp0633/librecur/server/series"
)

func actorID(c *gin.Context) string {
	if p := auth.GetPrincipalFromContext(c.Request.Context()); p != nil {
		return p.ID
	}
	return ""
}

func dateParam(c *gin.Context) (time.Time, bool) {
	d, err := recurrence.ParseDate(c.Param("date"))
	if err != nil {
		writeBadRequest(c, err)
		return time.Time{}, false
	}
	return d, true
}

func (s *Server) createSeries(c *gin.Context) {
	var req createSeriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err)
		return
	}
	pattern, err := req.Pattern.toPattern()
	if err != nil {
		writeBadRequest(c, err)
		return
	}

	rec, err := s.svc.CreateSeries(c.Request.Context(), actorID(c), req.ParentEventID, pattern)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Location", "/api/v1/series/"+rec.ID)
	c.JSON(http.StatusCreated, toSeriesResponse(rec))
}

func (s *Server) getSeries(c *gin.Context) {
	rec, err := s.svc.GetSeries(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSeriesResponse(rec))
}

func (s *Server) getSeriesByParent(c *gin.Context) {
	rec, err := s.svc.GetSeriesByParent(c.Request.Context(), c.Param("eventID"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, errorResponse{
			Message: "event has no recurring series",
			Code:    string(series.KindNotFound),
		})
		return
	}
	c.JSON(http.StatusOK, toSeriesResponse(rec))
}

func (s *Server) updateSeries(c *gin.Context) {
	var req updateSeriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err)
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		writeBadRequest(c, err)
		return
	}

	upd := series.Update{Pattern: &patch, Version: req.Version}
	if req.ExcludedDates != nil {
		dates, err := parseDates(req.ExcludedDates)
		if err != nil {
			writeBadRequest(c, err)
			return
		}
		upd.ExcludedDates = &dates
	}

	rec, err := s.svc.UpdateSeries(c.Request.Context(), actorID(c), c.Param("id"), upd)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSeriesResponse(rec))
}

func (s *Server) deleteSeries(c *gin.Context) {
	if err := s.svc.DeleteSeries(c.Request.Context(), actorID(c), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listOccurrences(c *gin.Context) {
	var q occurrencesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeBadRequest(c, err)
		return
	}
	from, _ := recurrence.ParseDate(q.From)
	to, _ := recurrence.ParseDate(q.To)
	if s.maxWindowDays > 0 && to.Sub(from) > time.Duration(s.maxWindowDays)*24*time.Hour {
		writeBadRequest(c, fmt.Errorf("window may span at most %d days", s.maxWindowDays))
		return
	}

	project := s.svc.Project
	if q.Active {
		project = s.svc.ProjectActive
	}
	occs, err := project(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := make([]occurrenceResponse, 0, len(occs))
	for _, occ := range occs {
		resp = append(resp, toOccurrenceResponse(occ))
	}
	c.JSON(http.StatusOK, gin.H{"occurrences": resp})
}

func (s *Server) nextOccurrence(c *gin.Context) {
	var after time.Time
	if v := c.Query("after"); v != "" {
		d, err := recurrence.ParseDate(v)
		if err != nil {
			writeBadRequest(c, err)
			return
		}
		after = d
	}

	occ, ok, err := s.svc.NextOccurrence(c.Request.Context(), c.Param("id"), after)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, toOccurrenceResponse(occ))
}

func (s *Server) excludeDate(c *gin.Context) {
	date, ok := dateParam(c)
	if !ok {
		return
	}
	rec, err := s.svc.ExcludeDate(c.Request.Context(), actorID(c), c.Param("id"), date)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSeriesResponse(rec))
}

func (s *Server) includeDate(c *gin.Context) {
	date, ok := dateParam(c)
	if !ok {
		return
	}
	rec, err := s.svc.IncludeDate(c.Request.Context(), actorID(c), c.Param("id"), date)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSeriesResponse(rec))
}

func (s *Server) modifyOccurrence(c *gin.Context) {
	date, ok := dateParam(c)
	if !ok {
		return
	}
	var req modifyOccurrenceRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBadRequest(c, err)
			return
		}
	}

	rec, err := s.svc.ModifyOccurrence(c.Request.Context(), actorID(c), c.Param("id"), date, req.overrides())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSeriesResponse(rec))
}

func (s *Server) restoreOccurrence(c *gin.Context) {
	date, ok := dateParam(c)
	if !ok {
		return
	}
	rec, err := s.svc.RestoreOccurrence(c.Request.Context(), actorID(c), c.Param("id"), date)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSeriesResponse(rec))
}

func (s *Server) exportCalendar(c *gin.Context) {
	cal, err := s.svc.ExportCalendar(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		s.writeError(c, fmt.Errorf("failed to encode calendar: %w", err))
		return
	}
	c.Data(http.StatusOK, mimeTypeCalendar, buf.Bytes())
}

func (s *Server) importCalendar(c *gin.Context) {
	rec, err := s.svc.ImportCalendar(c.Request.Context(), actorID(c), c.Param("eventID"), c.Request.Body)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Location", "/api/v1/series/"+rec.ID)
	c.JSON(http.StatusCreated, toSeriesResponse(rec))
}
