package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/gommon/log"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/realtime"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrNotConnected = realtime.ErrNotConnected
	ErrRateLimited  = errors.New("sending too fast, try again shortly")
)

// GateError rejects a send on a ticket that is not open.
type GateError struct {
	Status string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("ticket is %s, messages can't be sent", e.Status)
}

// RemoteError wraps a failed hub invocation.
type RemoteError struct {
	Err error
}

func (e *RemoteError) Error() string { return "send failed: " + e.Err.Error() }
func (e *RemoteError) Unwrap() error { return e.Err }

// MessageHub is the part of the realtime connection the pipeline needs.
type MessageHub interface {
	Connected() bool
	SendMessage(ctx context.Context, payload models.SendMessagePayload) error
}

// SendLimiter throttles sends per user. It is optional.
type SendLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type sendInput struct {
	Text string `validate:"required"`
}

// SendPipeline turns composer text into a hub invocation, or into a local
// message in demo mode. It never echoes locally when connected; the hub
// broadcast is the only source of the sent message.
type SendPipeline struct {
	auth           models.AuthContext
	conversationID int64
	gate           *TicketGate
	store          *MessageStore
	hub            MessageHub
	limiter        SendLimiter
	demo           bool
	now            func() time.Time
	validate       *validator.Validate
	logger         *log.Logger

	mu      sync.Mutex
	private bool
}

type SendPipelineConfig struct {
	Auth           models.AuthContext
	ConversationID int64
	Gate           *TicketGate
	Store          *MessageStore
	Hub            MessageHub
	Limiter        SendLimiter
	DemoMode       bool
}

func NewSendPipeline(cfg SendPipelineConfig) *SendPipeline {
	return &SendPipeline{
		auth:           cfg.Auth,
		conversationID: cfg.ConversationID,
		gate:           cfg.Gate,
		store:          cfg.Store,
		hub:            cfg.Hub,
		limiter:        cfg.Limiter,
		demo:           cfg.DemoMode,
		now:            time.Now,
		validate:       validator.New(),
		logger:         log.New("send"),
	}
}

// SetPrivate sets the visibility applied to every following send.
func (p *SendPipeline) SetPrivate(private bool) {
	p.mu.Lock()
	p.private = private
	p.mu.Unlock()
}

func (p *SendPipeline) Private() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.private
}

// Send submits text. In demo mode the returned message is the one appended to
// the store; otherwise it is nil and the message arrives via the hub.
func (p *SendPipeline) Send(ctx context.Context, text string) (*models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if err := p.validate.Struct(sendInput{Text: text}); err != nil {
		return nil, ErrEmptyMessage
	}
	if p.gate != nil && !p.gate.Allowed() {
		return nil, &GateError{Status: p.gate.Status()}
	}
	private := p.Private()

	if p.demo {
		msg := NewLocalMessage(p.auth, p.conversationID, text, private, p.now())
		if p.store != nil {
			p.store.AppendLocal(msg)
		}
		return &msg, nil
	}

	if p.conversationID == 0 || p.hub == nil || !p.hub.Connected() {
		return nil, ErrNotConnected
	}
	if p.limiter != nil {
		ok, err := p.limiter.Allow(ctx, p.limitKey())
		if err != nil {
			p.logger.Warnf("send limiter unavailable: %v", err)
		} else if !ok {
			return nil, ErrRateLimited
		}
	}

	payload := models.SendMessagePayload{
		ConversationID: p.conversationID,
		Content:        text,
		IsPrivate:      private,
	}
	if p.gate != nil {
		payload.TicketID = p.gate.TicketID()
	}
	if err := p.hub.SendMessage(ctx, payload); err != nil {
		if errors.Is(err, ErrNotConnected) {
			return nil, err
		}
		p.logger.Warnf("conversation %d: send failed: %v", p.conversationID, err)
		return nil, &RemoteError{Err: err}
	}
	return nil, nil
}

func (p *SendPipeline) limitKey() string {
	if p.auth.UserID != "" {
		return p.auth.UserID
	}
	return strconv.FormatInt(p.conversationID, 10)
}
