package services

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/realtime"
)

var ErrSessionClosed = errors.New("chat session closed")

// ChatAPI is the REST surface a conversation view uses.
type ChatAPI interface {
	HistoryLoader
	TicketsAPI
	MarkAsRead(ctx context.Context, conversationID int64) error
}

// Connection is a realtime hub connection scoped to one conversation.
type Connection interface {
	MessageHub
	Start(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop()
	State() (realtime.State, string)
}

type ConnectionFactory func(auth models.AuthContext, conversationID int64, handlers realtime.Handlers) Connection

// RealtimeConnections builds hub connections with the given options.
func RealtimeConnections(opts realtime.Options) ConnectionFactory {
	return func(auth models.AuthContext, conversationID int64, handlers realtime.Handlers) Connection {
		return realtime.NewManager(auth, conversationID, opts, handlers)
	}
}

// MessageSink receives every message that enters a session's store.
type MessageSink interface {
	HandleMessages(ctx context.Context, auth models.AuthContext, msgs []models.ChatMessage) error
}

type SessionOptions struct {
	PageSize int
	Timeout  time.Duration
	DemoMode bool
	Connect  ConnectionFactory
	Limiter  SendLimiter
	Sinks    []MessageSink
	// MarkRead replaces the plain API call, e.g. to keep a conversation list
	// in sync.
	MarkRead func(ctx context.Context, conversationID int64) error
}

type EventType string

const (
	EventMessages   EventType = "messages"
	EventNotice     EventType = "notice"
	EventConnection EventType = "connection"
	EventGate       EventType = "gate"
)

type NoticeLevel string

const (
	// NoticeBlocking must be acknowledged before continuing.
	NoticeBlocking  NoticeLevel = "blocking"
	NoticeTransient NoticeLevel = "transient"
)

type Notice struct {
	Level NoticeLevel `json:"level"`
	Text  string      `json:"text"`
}

type ConnectionStatus struct {
	State  realtime.State `json:"state"`
	Status string         `json:"status"`
}

type Event struct {
	Type           EventType            `json:"type"`
	ConversationID int64                `json:"conversationId"`
	Kind           StoreChangeKind      `json:"kind,omitempty"`
	Messages       []models.ChatMessage `json:"messages,omitempty"`
	HasMore        bool                 `json:"hasMore,omitempty"`
	Notice         *Notice              `json:"notice,omitempty"`
	Connection     *ConnectionStatus    `json:"connection,omitempty"`
	Gate           *GateState           `json:"gate,omitempty"`
}

type SessionSnapshot struct {
	Conversation models.ConversationContext `json:"conversation"`
	Messages     []models.ChatMessage       `json:"messages"`
	HasMore      bool                       `json:"hasMore"`
	Gate         GateState                  `json:"gate"`
	Connection   ConnectionStatus           `json:"connection"`
	Private      bool                       `json:"private"`
	DemoMode     bool                       `json:"demoMode"`
}

// ChatSession is one mounted conversation view: its store, gate, connection
// and send pipeline. Failures inside it become events, never panics.
type ChatSession struct {
	auth     models.AuthContext
	conv     models.ConversationContext
	api      ChatAPI
	opts     SessionOptions
	store    *MessageStore
	gate     *TicketGate
	conn     Connection
	pipeline *SendPipeline
	now      func() time.Time
	logger   *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	listeners    map[int]func(Event)
	nextListener int
	appState     string
	closed       bool
}

func NewChatSession(auth models.AuthContext, conv models.ConversationContext, api ChatAPI, opts SessionOptions) *ChatSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &ChatSession{
		auth:      auth,
		conv:      conv,
		api:       api,
		opts:      opts,
		store:     NewMessageStore(api, conv.ConversationID, opts.PageSize, opts.Timeout),
		gate:      NewTicketGate(api, opts.Timeout),
		now:       time.Now,
		logger:    log.New("session"),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[int]func(Event)),
		appState:  "active",
	}

	connect := opts.Connect
	if connect == nil {
		connect = RealtimeConnections(realtime.Options{})
	}
	s.conn = connect(auth, conv.ConversationID, realtime.Handlers{
		OnMessage:     s.handleLive,
		OnSendFailed:  func(reason string) { s.notify(NoticeTransient, reason) },
		OnStateChange: s.handleState,
		OnReconnected: func() {
			s.logger.Infof("conversation %d: reconnected", conv.ConversationID)
		},
	})

	s.pipeline = NewSendPipeline(SendPipelineConfig{
		Auth:           auth,
		ConversationID: conv.ConversationID,
		Gate:           s.gate,
		Store:          s.store,
		Hub:            s.conn,
		Limiter:        opts.Limiter,
		DemoMode:       opts.DemoMode,
	})
	s.store.OnChange(s.handleStoreChange)
	return s
}

func (s *ChatSession) Conversation() models.ConversationContext { return s.conv }
func (s *ChatSession) Auth() models.AuthContext                 { return s.auth }

// Open mounts the view: ticket gate, first history page, mark-as-read and the
// hub connection, in that order. Only a closed session is an error; every
// other failure is reported as an event.
func (s *ChatSession) Open(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	state := s.gate.Load(ctx, s.conv.TicketID)
	s.emit(Event{Type: EventGate, Gate: &state})
	if state.Notice != "" {
		s.notify(NoticeBlocking, state.Notice)
	}

	if err := s.store.Hydrate(ctx); err != nil && !errors.Is(err, ErrStaleResult) {
		s.logger.Warnf("conversation %d: history load failed: %v", s.conv.ConversationID, err)
		s.notify(NoticeTransient, "Failed to load messages.")
	}

	markRead := s.opts.MarkRead
	if markRead == nil {
		markRead = s.api.MarkAsRead
	}
	if err := markRead(ctx, s.conv.ConversationID); err != nil {
		s.logger.Warnf("conversation %d: mark as read failed: %v", s.conv.ConversationID, err)
	}

	if s.opts.DemoMode {
		return nil
	}
	if err := s.conn.Start(ctx); err != nil {
		if errors.Is(err, realtime.ErrDisabled) {
			state, status := s.conn.State()
			s.emit(Event{Type: EventConnection, Connection: &ConnectionStatus{State: state, Status: status}})
		} else if !errors.Is(err, realtime.ErrStopped) {
			s.notify(NoticeTransient, "Could not connect to chat.")
		}
	}
	return nil
}

// LoadOlder fetches the next history page.
func (s *ChatSession) LoadOlder(ctx context.Context) (int, error) {
	if s.isClosed() {
		return 0, ErrSessionClosed
	}
	ctx, cancel := s.scoped(ctx)
	defer cancel()
	n, err := s.store.LoadOlder(ctx)
	switch {
	case err == nil, errors.Is(err, ErrHistoryBusy), errors.Is(err, ErrStaleResult):
	default:
		s.notify(NoticeTransient, "Failed to load older messages.")
	}
	return n, err
}

// Send runs the send pipeline and reports rejections as notices.
func (s *ChatSession) Send(ctx context.Context, text string) (*models.ChatMessage, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	ctx, cancel := s.scoped(ctx)
	defer cancel()
	msg, err := s.pipeline.Send(ctx, text)
	if err == nil {
		return msg, nil
	}

	var gateErr *GateError
	var remoteErr *RemoteError
	switch {
	case errors.Is(err, ErrEmptyMessage):
		s.notify(NoticeBlocking, "Message cannot be empty.")
	case errors.As(err, &gateErr):
		s.notify(NoticeBlocking, "This ticket is "+gateErr.Status+". Messages can't be sent.")
	case errors.Is(err, ErrNotConnected):
		s.notify(NoticeTransient, "Not connected. Message was not sent.")
	case errors.Is(err, ErrRateLimited):
		s.notify(NoticeTransient, "You are sending messages too fast.")
	case errors.As(err, &remoteErr):
		s.notify(NoticeTransient, "Message could not be sent.")
	}
	return nil, err
}

func (s *ChatSession) SetPrivate(private bool) { s.pipeline.SetPrivate(private) }
func (s *ChatSession) Private() bool           { return s.pipeline.Private() }

// AppStateChanged tracks host foreground transitions. Returning to active
// from background or inactive resumes the connection.
func (s *ChatSession) AppStateChanged(ctx context.Context, state string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	prev := s.appState
	s.appState = state
	s.mu.Unlock()

	if state != "active" || (prev != "background" && prev != "inactive") {
		return nil
	}
	if s.opts.DemoMode {
		return nil
	}
	if err := s.conn.Resume(ctx); err != nil && !errors.Is(err, realtime.ErrDisabled) {
		s.logger.Warnf("conversation %d: resume failed: %v", s.conv.ConversationID, err)
		return err
	}
	return nil
}

// ApplyTicketStatus re-evaluates the gate from a pushed ticket status.
func (s *ChatSession) ApplyTicketStatus(status string) {
	if s.isClosed() {
		return
	}
	s.gate.Apply(status)
	state := s.gate.State()
	s.emit(Event{Type: EventGate, Gate: &state})
}

func (s *ChatSession) TicketID() *int64 { return s.gate.TicketID() }

func (s *ChatSession) Snapshot() SessionSnapshot {
	state, status := s.conn.State()
	return SessionSnapshot{
		Conversation: s.conv,
		Messages:     s.store.Messages(),
		HasMore:      s.store.HasMore(),
		Gate:         s.gate.State(),
		Connection:   ConnectionStatus{State: state, Status: status},
		Private:      s.pipeline.Private(),
		DemoMode:     s.opts.DemoMode,
	}
}

// Subscribe registers fn for session events until the returned func is called
// or the session closes.
func (s *ChatSession) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Close unmounts the view: in-flight fetches are cancelled, the connection is
// stopped and listeners are dropped.
func (s *ChatSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.listeners = make(map[int]func(Event))
	s.mu.Unlock()

	s.cancel()
	s.conn.Stop()
	s.store.OnChange(nil)
}

func (s *ChatSession) Closed() bool { return s.isClosed() }

// Done is closed when the session closes.
func (s *ChatSession) Done() <-chan struct{} { return s.ctx.Done() }

func (s *ChatSession) handleLive(dto models.MessageDTO) {
	if dto.ConversationID == "" {
		dto.ConversationID = models.FlexID(strconv.FormatInt(s.conv.ConversationID, 10))
	}
	msg := NormalizeMessage(dto, models.SourceLive, s.now())
	s.store.AppendLive(msg)
}

func (s *ChatSession) handleState(state realtime.State, status string) {
	s.emit(Event{Type: EventConnection, Connection: &ConnectionStatus{State: state, Status: status}})
}

func (s *ChatSession) handleStoreChange(change StoreChange) {
	s.emit(Event{
		Type:     EventMessages,
		Kind:     change.Kind,
		Messages: change.Added,
		HasMore:  change.HasMore,
	})
	if len(change.Added) == 0 || len(s.opts.Sinks) == 0 {
		return
	}
	for _, sink := range s.opts.Sinks {
		go func(sink MessageSink) {
			if err := sink.HandleMessages(s.ctx, s.auth, change.Added); err != nil {
				s.logger.Warnf("conversation %d: message sink: %v", s.conv.ConversationID, err)
			}
		}(sink)
	}
}

func (s *ChatSession) notify(level NoticeLevel, text string) {
	s.emit(Event{Type: EventNotice, Notice: &Notice{Level: level, Text: text}})
}

func (s *ChatSession) emit(ev Event) {
	ev.ConversationID = s.conv.ConversationID
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *ChatSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// scoped derives a context that is also cancelled when the session closes.
func (s *ChatSession) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
