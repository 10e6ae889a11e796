package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/services"
)

type ConversationHandler struct {
	sessions *services.SessionManager
}

func NewConversationHandler(sessions *services.SessionManager) *ConversationHandler {
	return &ConversationHandler{sessions: sessions}
}

type conversationListResponse struct {
	services.ConversationListState
	View services.ListView `json:"view"`
}

// ListConversations loads the caller's conversations. refresh=true is the
// pull-to-refresh variant.
func (h *ConversationHandler) ListConversations(c echo.Context) error {
	auth, ok := authOf(c)
	if !ok {
		return unauthorized(c)
	}
	refresh, _ := strconv.ParseBool(c.QueryParam("refresh"))

	list := h.sessions.Conversations(auth)
	err := list.LoadConversations(c.Request().Context(), refresh)
	state := list.State()
	resp := conversationListResponse{ConversationListState: state, View: state.View()}
	if err != nil {
		return c.JSON(backendStatus(err), resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *ConversationHandler) FindOrCreate(c echo.Context) error {
	auth, ok := authOf(c)
	if !ok {
		return unauthorized(c)
	}
	var req models.FindOrCreateRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request")
	}

	convCtx, err := h.sessions.Conversations(auth).FindOrCreate(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRequest) {
			return errorJSON(c, http.StatusBadRequest, err.Error())
		}
		return errorJSON(c, backendStatus(err), "failed to open conversation")
	}
	return c.JSON(http.StatusOK, convCtx)
}

func (h *ConversationHandler) MarkRead(c echo.Context) error {
	auth, ok := authOf(c)
	if !ok {
		return unauthorized(c)
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return errorJSON(c, http.StatusBadRequest, "invalid conversation ID")
	}
	if err := h.sessions.Conversations(auth).MarkRead(c.Request().Context(), id); err != nil {
		return errorJSON(c, backendStatus(err), "failed to mark conversation as read")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversationId":     id,
		"unreadMessageCount": 0,
	})
}

// OpenConversation mounts the conversation view. The body may carry a full
// conversation context (e.g. from find-or-create); otherwise the context is
// taken from the loaded list.
func (h *ConversationHandler) OpenConversation(c echo.Context) error {
	auth, ok := authOf(c)
	if !ok {
		return unauthorized(c)
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return errorJSON(c, http.StatusBadRequest, "invalid conversation ID")
	}

	var convCtx models.ConversationContext
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&convCtx); err != nil {
			return errorJSON(c, http.StatusBadRequest, "invalid request")
		}
	}
	if convCtx.ConversationID == 0 {
		list := h.sessions.Conversations(auth)
		conv, found := list.Lookup(id)
		if !found {
			return errorJSON(c, http.StatusNotFound, "conversation not found")
		}
		convCtx = list.Select(conv)
	}
	if convCtx.ConversationID != id {
		return errorJSON(c, http.StatusBadRequest, "conversation ID mismatch")
	}

	session, err := h.sessions.Open(c.Request().Context(), auth, convCtx)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRequest) {
			return errorJSON(c, http.StatusBadRequest, err.Error())
		}
		return errorJSON(c, http.StatusInternalServerError, "failed to open conversation")
	}
	return c.JSON(http.StatusOK, session.Snapshot())
}
