package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/services"
)

// Transcripts reads archived conversation history.
type Transcripts interface {
	Transcript(ctx context.Context, ownerID string, conversationID int64, limit int) ([]models.ArchivedMessage, error)
}

type SessionHandler struct {
	sessions *services.SessionManager
	archive  Transcripts
	validate *validator.Validate
}

// NewSessionHandler creates the handler; archive may be nil when no database
// is configured.
func NewSessionHandler(sessions *services.SessionManager, archive Transcripts) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		archive:  archive,
		validate: validator.New(),
	}
}

type sendRequest struct {
	Text string `json:"text"`
}

type privateRequest struct {
	Private bool `json:"private"`
}

type appStateRequest struct {
	State string `json:"state" validate:"required,oneof=active background inactive"`
}

func (h *SessionHandler) current(c echo.Context) (*services.ChatSession, error) {
	auth, ok := authOf(c)
	if !ok {
		return nil, unauthorized(c)
	}
	session, ok := h.sessions.Current(auth)
	if !ok {
		return nil, errorJSON(c, http.StatusNotFound, "no open conversation")
	}
	return session, nil
}

func (h *SessionHandler) GetSession(c echo.Context) error {
	session, err := h.current(c)
	if session == nil {
		return err
	}
	return c.JSON(http.StatusOK, session.Snapshot())
}

func (h *SessionHandler) CloseSession(c echo.Context) error {
	auth, ok := authOf(c)
	if !ok {
		return unauthorized(c)
	}
	h.sessions.Close(auth)
	return c.NoContent(http.StatusNoContent)
}

func (h *SessionHandler) LoadOlder(c echo.Context) error {
	session, err := h.current(c)
	if session == nil {
		return err
	}
	added, err := session.LoadOlder(c.Request().Context())
	if err != nil {
		switch {
		case errors.Is(err, services.ErrHistoryBusy):
			return errorJSON(c, http.StatusConflict, err.Error())
		case errors.Is(err, services.ErrSessionClosed), errors.Is(err, services.ErrStaleResult):
			return errorJSON(c, http.StatusGone, err.Error())
		default:
			return errorJSON(c, backendStatus(err), "failed to load older messages")
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"added":   added,
		"hasMore": session.Snapshot().HasMore,
	})
}

func (h *SessionHandler) SendMessage(c echo.Context) error {
	session, err := h.current(c)
	if session == nil {
		return err
	}
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request")
	}

	msg, err := session.Send(c.Request().Context(), req.Text)
	if err != nil {
		return sendError(c, err)
	}
	if msg != nil {
		return c.JSON(http.StatusCreated, msg)
	}
	return c.NoContent(http.StatusAccepted)
}

func sendError(c echo.Context, err error) error {
	var gateErr *services.GateError
	var remoteErr *services.RemoteError
	switch {
	case errors.Is(err, services.ErrEmptyMessage):
		return errorJSON(c, http.StatusBadRequest, err.Error())
	case errors.As(err, &gateErr):
		return c.JSON(http.StatusForbidden, map[string]string{
			"error":         err.Error(),
			"ticket_status": gateErr.Status,
		})
	case errors.Is(err, services.ErrNotConnected):
		return errorJSON(c, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrRateLimited):
		return errorJSON(c, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, services.ErrSessionClosed):
		return errorJSON(c, http.StatusGone, err.Error())
	case errors.As(err, &remoteErr):
		return errorJSON(c, http.StatusBadGateway, err.Error())
	default:
		return errorJSON(c, http.StatusInternalServerError, "failed to send message")
	}
}

func (h *SessionHandler) SetPrivate(c echo.Context) error {
	session, err := h.current(c)
	if session == nil {
		return err
	}
	var req privateRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request")
	}
	session.SetPrivate(req.Private)
	return c.JSON(http.StatusOK, map[string]bool{"private": session.Private()})
}

func (h *SessionHandler) AppState(c echo.Context) error {
	session, err := h.current(c)
	if session == nil {
		return err
	}
	var req appStateRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request")
	}
	if err := h.validate.Struct(req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "state must be active, background or inactive")
	}
	if err := session.AppStateChanged(c.Request().Context(), req.State); err != nil {
		if errors.Is(err, services.ErrSessionClosed) {
			return errorJSON(c, http.StatusGone, err.Error())
		}
		return errorJSON(c, http.StatusBadGateway, "failed to resume connection")
	}
	return c.JSON(http.StatusOK, session.Snapshot().Connection)
}

// Transcript returns archived messages of a conversation.
func (h *SessionHandler) Transcript(c echo.Context) error {
	auth, ok := authOf(c)
	if !ok {
		return unauthorized(c)
	}
	if h.archive == nil {
		return errorJSON(c, http.StatusNotFound, "transcript archive disabled")
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return errorJSON(c, http.StatusBadRequest, "invalid conversation ID")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	rows, err := h.archive.Transcript(c.Request().Context(), auth.UserID, id, limit)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "failed to read transcript")
	}
	return c.JSON(http.StatusOK, rows)
}
