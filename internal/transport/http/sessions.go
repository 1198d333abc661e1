package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/memoria-labs/memoria/internal/domain"
)

// StartSession creates a new session with a welcome message.
// POST /api/stories/sessions
func (h *Handler) StartSession(c echo.Context) error {
	ctx := c.Request().Context()

	session, welcome, err := h.service.StartSession(ctx)
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"session":        session,
		"welcomeMessage": welcome,
	})
}

// ListSessions lists all sessions with pagination.
// GET /api/stories/sessions
func (h *Handler) ListSessions(c echo.Context) error {
	limit := clampQueryInt(c.QueryParam("limit"), 20, 1, 100)
	offset := clampQueryInt(c.QueryParam("offset"), 0, 0, 1<<30)

	sessions, err := h.service.ListSessions(c.Request().Context())
	if err != nil {
		return h.errorResponse(c, err)
	}

	total := len(sessions)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": sessions[offset:end],
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// GetSession returns a single session.
// GET /api/stories/sessions/:id
func (h *Handler) GetSession(c echo.Context) error {
	session, err := h.service.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"session": session})
}

// GetSessionMessages returns a session's transcript.
// GET /api/stories/sessions/:id/messages
func (h *Handler) GetSessionMessages(c echo.Context) error {
	messages, err := h.service.SessionMessages(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.errorResponse(c, err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"messages": messages})
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

// SendMessage runs one conversational turn.
// POST /api/stories/sessions/:id/messages
func (h *Handler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	userMsg, assistantMsg, err := h.service.HandleTurn(c.Request().Context(), c.Param("id"), req.Message)
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"userMessage":      userMsg,
		"assistantMessage": assistantMsg,
	})
}

// EndSession ends a session. The session always ends; when summarization
// failed the ended session is returned alongside a 503 so the caller knows
// the summary is missing and retryable.
// POST /api/stories/sessions/:id/end
func (h *Handler) EndSession(c echo.Context) error {
	session, err := h.service.EndSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) && de.Kind == domain.ErrorAIUnavailable && session != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"error":   "Session ended but summary generation failed. It will be retried.",
				"session": session,
			})
		}
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"session": session})
}

// LastSummary returns the most recent ended session's summary.
// GET /api/stories/last-summary
func (h *Handler) LastSummary(c echo.Context) error {
	summary, err := h.service.LastSummary(c.Request().Context())
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"summary": summary})
}

func clampQueryInt(raw string, def, min, max int) int {
	val := def
	if raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			val = parsed
		}
	}
	if val < min {
		val = min
	}
	if val > max {
		val = max
	}
	return val
}
