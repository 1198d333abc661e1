// Package handler provides the HTTP surface of the memory companion.
package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/memoria-labs/memoria/internal/domain"
	"github.com/memoria-labs/memoria/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	logger  *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// RegisterRoutes registers all story routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/stories/sessions", h.StartSession)
	e.GET("/api/stories/sessions", h.ListSessions)
	e.GET("/api/stories/sessions/:id", h.GetSession)
	e.GET("/api/stories/sessions/:id/messages", h.GetSessionMessages)
	e.POST("/api/stories/sessions/:id/messages", h.SendMessage)
	e.POST("/api/stories/sessions/:id/end", h.EndSession)
	e.GET("/api/stories/last-summary", h.LastSummary)

	e.GET("/api/stories/entities", h.ListEntities)
	e.GET("/api/stories/entities/search", h.SearchEntities)
	e.GET("/api/stories/coverage", h.Coverage)
	e.POST("/api/stories/ask", h.Ask)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// errorResponse maps the domain error taxonomy onto HTTP status codes:
// validation 400, not-found 404, conflict 409, AI-unavailable 503.
func (h *Handler) errorResponse(c echo.Context, err error) error {
	switch domain.KindOf(err) {
	case domain.ErrorValidation:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": errMessage(err)})
	case domain.ErrorNotFound:
		return c.JSON(http.StatusNotFound, map[string]string{"error": errMessage(err)})
	case domain.ErrorConflict:
		return c.JSON(http.StatusConflict, map[string]string{"error": errMessage(err)})
	case domain.ErrorAIUnavailable:
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "AI service is currently unavailable. Please try again.",
		})
	default:
		h.logger.Error("internal error", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
}

func errMessage(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
