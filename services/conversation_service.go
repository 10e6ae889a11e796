package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
)

var ErrInvalidRequest = errors.New("invalid request")

type ConversationsAPI interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	MarkAsRead(ctx context.Context, conversationID int64) error
	FindOrCreate(ctx context.Context, req models.FindOrCreateRequest) (models.FindOrCreateResponse, error)
}

// ListView is the one display condition a conversation list is in.
type ListView string

const (
	ViewLoading ListView = "loading"
	ViewError   ListView = "error"
	ViewEmpty   ListView = "empty"
	ViewList    ListView = "list"
)

type ConversationListState struct {
	Conversations []models.Conversation `json:"conversations"`
	Loading       bool                  `json:"loading"`
	Refreshing    bool                  `json:"refreshing"`
	Loaded        bool                  `json:"loaded"`
	Error         string                `json:"error,omitempty"`
}

func (s ConversationListState) View() ListView {
	switch {
	case s.Loading:
		return ViewLoading
	case s.Error != "":
		return ViewError
	case !s.Loaded:
		return ViewLoading
	case len(s.Conversations) == 0:
		return ViewEmpty
	default:
		return ViewList
	}
}

// ConversationList keeps the current user's conversations, most recent first.
type ConversationList struct {
	api      ConversationsAPI
	timeout  time.Duration
	validate *validator.Validate

	mu            sync.Mutex
	conversations []models.Conversation
	loading       int
	refreshing    int
	loaded        bool
	err           string
}

func NewConversationList(api ConversationsAPI, timeout time.Duration) *ConversationList {
	return &ConversationList{
		api:      api,
		timeout:  timeout,
		validate: validator.New(),
	}
}

// LoadConversations fetches and replaces the list. refresh marks a silent
// reload instead of a spinner-visible one. Overlapping calls are allowed and
// the last one to complete wins. An empty result is not an error.
func (c *ConversationList) LoadConversations(ctx context.Context, refresh bool) error {
	c.mu.Lock()
	if refresh {
		c.refreshing++
	} else {
		c.loading++
	}
	c.mu.Unlock()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	list, err := c.api.ListConversations(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if refresh {
		c.refreshing--
	} else {
		c.loading--
	}
	if err != nil {
		c.err = fmt.Sprintf("Failed to load conversations: %v", err)
		return err
	}
	SortConversations(list)
	c.conversations = list
	c.loaded = true
	c.err = ""
	return nil
}

func (c *ConversationList) State() ConversationListState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Conversation, len(c.conversations))
	copy(out, c.conversations)
	return ConversationListState{
		Conversations: out,
		Loading:       c.loading > 0,
		Refreshing:    c.refreshing > 0,
		Loaded:        c.loaded,
		Error:         c.err,
	}
}

// Select builds the context handed to the conversation view. It does not
// fetch anything.
func (c *ConversationList) Select(conv models.Conversation) models.ConversationContext {
	return conv.Context()
}

// Lookup returns the listed conversation with the given id.
func (c *ConversationList) Lookup(id int64) (models.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conv := range c.conversations {
		if conv.ID == id {
			return conv, true
		}
	}
	return models.Conversation{}, false
}

// MarkRead marks the conversation read on the backend and zeroes its local
// unread count. Repeating it is harmless.
func (c *ConversationList) MarkRead(ctx context.Context, id int64) error {
	if err := c.api.MarkAsRead(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.conversations {
		if c.conversations[i].ID == id {
			c.conversations[i].UnreadMessageCount = 0
		}
	}
	return nil
}

// Touch updates the preview of a listed conversation after a new message and
// restores recency order.
func (c *ConversationList) Touch(msg models.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.conversations {
		if c.conversations[i].ID != msg.ConversationID {
			continue
		}
		if msg.CreatedAt.Before(c.conversations[i].LastMessageSentAt.Time) {
			return
		}
		c.conversations[i].LastMessageContent = msg.Text
		c.conversations[i].LastMessageSentAt = models.FlexTime{Time: msg.CreatedAt}
		SortConversations(c.conversations)
		return
	}
}

// FindOrCreate opens (creating if needed) the conversation with a store,
// optionally about an order or product.
func (c *ConversationList) FindOrCreate(ctx context.Context, req models.FindOrCreateRequest) (models.ConversationContext, error) {
	if err := c.validate.Struct(req); err != nil {
		return models.ConversationContext{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	resp, err := c.api.FindOrCreate(ctx, req)
	if err != nil {
		return models.ConversationContext{}, err
	}
	convCtx := resp.Context(req)
	if convCtx.ConversationID == 0 {
		return models.ConversationContext{}, fmt.Errorf("%w: find-or-create returned no conversation id", ErrInvalidRequest)
	}
	return convCtx, nil
}

// SortConversations orders by last message time, newest first; conversations
// without messages go last.
func SortConversations(list []models.Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].LastMessageSentAt, list[j].LastMessageSentAt
		switch {
		case a.IsZero():
			return false
		case b.IsZero():
			return true
		default:
			return a.After(b.Time)
		}
	})
}
