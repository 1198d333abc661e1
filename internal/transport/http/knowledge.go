package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memoria-labs/memoria/internal/domain"
	"github.com/memoria-labs/memoria/internal/service"
)

// ListEntities lists entities with optional type/decade filters.
// GET /api/stories/entities
func (h *Handler) ListEntities(c echo.Context) error {
	filter := service.EntityFilter{
		Type:   c.QueryParam("type"),
		Decade: c.QueryParam("decade"),
		Limit:  clampQueryInt(c.QueryParam("limit"), 100, 1, 500),
		Offset: clampQueryInt(c.QueryParam("offset"), 0, 0, 1<<30),
	}

	entities, total, err := h.service.ListEntities(c.Request().Context(), filter)
	if err != nil {
		return h.errorResponse(c, err)
	}
	if entities == nil {
		entities = []domain.Entity{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"entities": entities,
		"total":    total,
	})
}

// SearchEntities runs the ranked entity search.
// GET /api/stories/entities/search
func (h *Handler) SearchEntities(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Search query is required"})
	}

	entities, err := h.service.SearchEntities(c.Request().Context(), q)
	if err != nil {
		return h.errorResponse(c, err)
	}
	if entities == nil {
		entities = []domain.Entity{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"entities": entities,
		"total":    len(entities),
	})
}

// Coverage returns decade coverage plus the gap list.
// GET /api/stories/coverage
func (h *Handler) Coverage(c echo.Context) error {
	coverage, err := h.service.Coverage(c.Request().Context())
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"decades": coverage,
		"gaps":    service.CoverageGaps(coverage),
	})
}

type askRequest struct {
	Question string `json:"question"`
}

// Ask answers a free-form question about the accumulated memories.
// POST /api/stories/ask
func (h *Handler) Ask(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	answer, err := h.service.AnswerQuestion(c.Request().Context(), req.Question)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, answer)
}
