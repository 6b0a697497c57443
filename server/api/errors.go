package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/cyp0633/librecur/server/recurrence"
	"github.com/cyp0633/librecur/server/series"
)

type fieldErrorResponse struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorResponse struct {
	Message string               `json:"message"`
	Code    string               `json:"code"`
	Fields  []fieldErrorResponse `json:"fields,omitempty"`
}

var statusByKind = map[series.Kind]int{
	series.KindNotFound:     http.StatusNotFound,
	series.KindForbidden:    http.StatusForbidden,
	series.KindConflict:     http.StatusConflict,
	series.KindInvalidInput: http.StatusBadRequest,
}

// writeError maps service errors onto HTTP responses.
func (s *Server) writeError(c *gin.Context, err error) {
	kind := series.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		s.logger.Error("request failed",
			"path", c.FullPath(),
			"request_id", c.GetString("request_id"),
			"error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{
			Message: "internal server error",
			Code:    string(series.KindInternal),
		})
		return
	}

	resp := errorResponse{Message: err.Error(), Code: string(kind)}
	var serr *series.Error
	if errors.As(err, &serr) {
		resp.Message = serr.Message
	}
	var verr *recurrence.ValidationError
	if errors.As(err, &verr) {
		for _, f := range verr.Fields {
			resp.Fields = append(resp.Fields, fieldErrorResponse{Field: f.Field, Message: f.Message})
		}
	}
	c.AbortWithStatusJSON(status, resp)
}

// writeBadRequest reports malformed input that never reached the service.
func writeBadRequest(c *gin.Context, err error) {
	resp := errorResponse{Message: err.Error(), Code: string(series.KindInvalidInput)}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		resp.Message = "invalid request"
		for _, fe := range verrs {
			resp.Fields = append(resp.Fields, fieldErrorResponse{
				Field:   fe.Field(),
				Message: "failed on the '" + fe.Tag() + "' rule",
			})
		}
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, resp)
}
