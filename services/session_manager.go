package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/gommon/log"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
)

// Backend is the full REST surface used on behalf of one user.
type Backend interface {
	ConversationsAPI
	ChatAPI
}

// BackendFactory returns a backend authenticated as auth.
type BackendFactory func(auth models.AuthContext) Backend

type userState struct {
	api     Backend
	list    *ConversationList
	session *ChatSession
}

// SessionManager keeps a conversation list and at most one open conversation
// view per bearer token. Opening a conversation closes the one the token had
// open. State is keyed by the token, so a token only reaches its own session.
type SessionManager struct {
	backend  BackendFactory
	opts     SessionOptions
	validate *validator.Validate
	logger   *log.Logger

	mu    sync.Mutex
	users map[string]*userState
}

func NewSessionManager(backend BackendFactory, opts SessionOptions) *SessionManager {
	return &SessionManager{
		backend:  backend,
		opts:     opts,
		validate: validator.New(),
		logger:   log.New("sessions"),
		users:    make(map[string]*userState),
	}
}

func sessionKey(auth models.AuthContext) string {
	sum := sha256.Sum256([]byte(auth.Token))
	return hex.EncodeToString(sum[:])
}

func displayName(auth models.AuthContext) string {
	if auth.UserID != "" {
		return auth.UserID
	}
	return auth.Username
}

// user returns the state for auth's token, creating it on first use.
func (m *SessionManager) user(auth models.AuthContext) *userState {
	key := sessionKey(auth)
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[key]
	if !ok {
		api := m.backend(auth)
		u = &userState{
			api:  api,
			list: NewConversationList(api, m.opts.Timeout),
		}
		m.users[key] = u
	}
	return u
}

// Conversations returns the user's conversation list.
func (m *SessionManager) Conversations(auth models.AuthContext) *ConversationList {
	return m.user(auth).list
}

// Open closes the user's current session, if any, and mounts conv.
func (m *SessionManager) Open(ctx context.Context, auth models.AuthContext, conv models.ConversationContext) (*ChatSession, error) {
	if err := m.validate.Struct(conv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	u := m.user(auth)

	opts := m.opts
	opts.MarkRead = u.list.MarkRead
	session := NewChatSession(auth, conv, u.api, opts)
	session.Subscribe(func(ev Event) {
		if ev.Type != EventMessages || ev.Kind != StoreAppended {
			return
		}
		for _, msg := range ev.Messages {
			u.list.Touch(msg)
		}
	})

	m.mu.Lock()
	prev := u.session
	u.session = session
	m.mu.Unlock()
	if prev != nil {
		m.logger.Debugf("user %s: closing conversation %d", displayName(auth), prev.Conversation().ConversationID)
		prev.Close()
	}

	if err := session.Open(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

// Current returns the user's open session.
func (m *SessionManager) Current(auth models.AuthContext) (*ChatSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[sessionKey(auth)]
	if !ok || u.session == nil {
		return nil, false
	}
	return u.session, true
}

// Close unmounts the user's session. Closing without one is a no-op.
func (m *SessionManager) Close(auth models.AuthContext) {
	m.mu.Lock()
	var s *ChatSession
	if u, ok := m.users[sessionKey(auth)]; ok {
		s = u.session
		u.session = nil
	}
	m.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	users := m.users
	m.users = make(map[string]*userState)
	m.mu.Unlock()
	for _, u := range users {
		if u.session != nil {
			u.session.Close()
		}
	}
}

// ApplyTicketStatus forwards a ticket status change to every open session on
// that ticket and reports how many were updated.
func (m *SessionManager) ApplyTicketStatus(ev models.TicketStatusEvent) int {
	m.mu.Lock()
	targets := make([]*ChatSession, 0, len(m.users))
	for _, u := range m.users {
		if u.session == nil {
			continue
		}
		if id := u.session.TicketID(); id != nil && *id == ev.TicketID {
			targets = append(targets, u.session)
		}
	}
	m.mu.Unlock()
	for _, s := range targets {
		s.ApplyTicketStatus(ev.Status)
	}
	return len(targets)
}
