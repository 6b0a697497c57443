// Package api exposes the series service over a JSON HTTP API built on gin,
// plus an iCalendar feed per series.
package api

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cyp0633/librecur/server/auth"
	"github.com/cyp0633/librecur/server/event"
	"github.com/cyp0633/librecur/server/series"
)

const (
	headerRequestID  = "X-Request-ID"
	mimeTypeCalendar = "text/calendar; charset=utf-8"
)

// Server routes HTTP requests to the series service
type Server struct {
	svc           *series.Service
	authenticator auth.Authenticator
	events        event.Store
	router        *gin.Engine
	logger        *slog.Logger
	realm         string
	maxWindowDays int
}

// Option represents a configuration option for the Server
type Option func(*Server)

// WithLogger sets the logger for the server
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxWindowDays caps the length of occurrence queries. Zero disables the cap.
func WithMaxWindowDays(days int) Option {
	return func(s *Server) {
		if days >= 0 {
			s.maxWindowDays = days
		}
	}
}

// WithEventStore exposes minimal create/read routes for events, for
// deployments where no host application owns them.
func WithEventStore(events event.Store) Option {
	return func(s *Server) {
		s.events = events
	}
}

// WithRealm sets the Basic authentication realm.
func WithRealm(realm string) Option {
	return func(s *Server) {
		s.realm = realm
	}
}

// New creates the HTTP server. Every /api/v1 route requires a principal
// authenticated by authenticator.
func New(svc *series.Service, authenticator auth.Authenticator, opts ...Option) *Server {
	s := &Server{
		svc:           svc,
		authenticator: authenticator,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxWindowDays: 366,
	}
	for _, opt := range opts {
		opt(s)
	}

	registerValidations()

	s.router = gin.New()
	s.router.Use(requestID(), s.requestLogger(), gin.Recovery())
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	v1 := s.router.Group("/api/v1")
	v1.Use(auth.Middleware(s.authenticator, s.realm))

	v1.GET("/events/:eventID/series", s.getSeriesByParent)
	v1.PUT("/events/:eventID/series.ics", s.importCalendar)
	if s.events != nil {
		v1.POST("/events", s.createEvent)
		v1.GET("/events/:eventID", s.getEvent)
	}

	seriesRoutes := v1.Group("/series")
	{
		seriesRoutes.POST("", s.createSeries)
		seriesRoutes.GET("/:id", s.getSeries)
		seriesRoutes.PATCH("/:id", s.updateSeries)
		seriesRoutes.DELETE("/:id", s.deleteSeries)
		seriesRoutes.GET("/:id/occurrences", s.listOccurrences)
		seriesRoutes.GET("/:id/next", s.nextOccurrence)
		seriesRoutes.PUT("/:id/exclusions/:date", s.excludeDate)
		seriesRoutes.DELETE("/:id/exclusions/:date", s.includeDate)
		seriesRoutes.PUT("/:id/modifications/:date", s.modifyOccurrence)
		seriesRoutes.DELETE("/:id/modifications/:date", s.restoreOccurrence)
		seriesRoutes.GET("/:id/calendar.ics", s.exportCalendar)
	}
}

// requestID propagates or assigns an X-Request-ID header.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"status", status,
			"method", c.Request.Method,
			"path", path,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"request_id", c.GetString("request_id"),
		}
		switch {
		case status >= 500:
			s.logger.Error("server error", attrs...)
		case status >= 400:
			s.logger.Warn("client error", attrs...)
		default:
			s.logger.Info("request processed", attrs...)
		}
	}
}
