package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/gommon/log"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
)

var (
	ErrDisabled     = errors.New("realtime connection disabled")
	ErrNotConnected = errors.New("not connected")
	ErrStopped      = errors.New("realtime connection stopped")

	errConnClosed = errors.New("connection closed")
)

// Hub method names.
const (
	MethodJoinConversation = "JoinConversation"
	MethodSendMessage      = "SendMessage"

	eventReceiveMessage    = "receivemessage"
	eventSendMessageFailed = "sendmessagefailed"
)

const (
	StatusDisabledNoCredential   = "disabled — no credential"
	StatusDisabledNoConversation = "disabled — no conversation"
	StatusDisconnected           = "Disconnected"
	StatusConnecting             = "Connecting..."
	StatusConnected              = "Connected"
	StatusReconnecting           = "Reconnecting..."
	StatusStopped                = "Stopped"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "connecting":
		*s = Connecting
	case "connected":
		*s = Connected
	case "reconnecting":
		*s = Reconnecting
	default:
		*s = Disconnected
	}
	return nil
}

var DefaultReconnectDelays = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

type Options struct {
	URL              string
	ReconnectDelays  []time.Duration
	KeepAlive        time.Duration
	ServerTimeout    time.Duration
	HandshakeTimeout time.Duration
	InvokeTimeout    time.Duration
	Dialer           *websocket.Dialer
}

func (o Options) withDefaults() Options {
	if o.ReconnectDelays == nil {
		o.ReconnectDelays = DefaultReconnectDelays
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = 15 * time.Second
	}
	if o.ServerTimeout <= 0 {
		o.ServerTimeout = 30 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 15 * time.Second
	}
	if o.InvokeTimeout <= 0 {
		o.InvokeTimeout = 15 * time.Second
	}
	return o
}

// Handlers are called from the connection's reading goroutine.
type Handlers struct {
	OnMessage     func(models.MessageDTO)
	OnSendFailed  func(reason string)
	OnStateChange func(state State, status string)
	OnReconnected func()
}

// Manager owns at most one hub connection scoped to one conversation. It
// joins the conversation after every successful (re)connection and gives up
// after the configured reconnect delays are exhausted.
type Manager struct {
	opts           Options
	token          string
	conversationID int64
	logger         *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	status   string
	disabled bool
	stopped  bool
	handlers Handlers
	conn     *hubConn
}

func NewManager(auth models.AuthContext, conversationID int64, opts Options, handlers Handlers) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		opts:           opts.withDefaults(),
		token:          auth.Token,
		conversationID: conversationID,
		logger:         log.New("realtime"),
		ctx:            ctx,
		cancel:         cancel,
		handlers:       handlers,
		state:          Disconnected,
		status:         StatusDisconnected,
	}
	switch {
	case !auth.HasToken():
		m.disabled = true
		m.status = StatusDisabledNoCredential
	case conversationID == 0:
		m.disabled = true
		m.status = StatusDisabledNoConversation
	}
	return m
}

func (m *Manager) State() (State, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.status
}

func (m *Manager) Connected() bool {
	s, _ := m.State()
	return s == Connected
}

func (m *Manager) Disabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disabled
}

func (m *Manager) ConversationID() int64 { return m.conversationID }

// Start connects and joins the conversation. Starting a manager that is not
// disconnected is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.disabled:
		m.mu.Unlock()
		return ErrDisabled
	case m.stopped:
		m.mu.Unlock()
		return ErrStopped
	case m.state != Disconnected:
		m.mu.Unlock()
		return nil
	}
	m.state = Connecting
	m.status = StatusConnecting
	fn := m.handlers.OnStateChange
	m.mu.Unlock()
	if fn != nil {
		fn(Connecting, StatusConnecting)
	}

	conn, err := dial(ctx, m.opts, m.token)
	if err != nil {
		m.logger.Warnf("conversation %d: connect failed: %v", m.conversationID, err)
		m.setState(Disconnected, "Connection failed: "+err.Error())
		return err
	}
	if !m.attach(conn) {
		conn.close()
		return ErrStopped
	}
	m.join(conn)
	return nil
}

// Resume reconnects after the host returned to the foreground. It only acts
// when the manager is fully disconnected.
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	idle := !m.disabled && !m.stopped && m.state == Disconnected
	m.mu.Unlock()
	if !idle {
		return nil
	}
	return m.Start(ctx)
}

// Stop closes the connection and drops all handlers. Nothing is delivered
// after Stop returns.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.handlers = Handlers{}
	conn := m.conn
	m.conn = nil
	m.state = Disconnected
	if !m.disabled {
		m.status = StatusStopped
	}
	m.mu.Unlock()

	m.cancel()
	if conn != nil {
		conn.close()
	}
}

// SendMessage invokes SendMessage on the hub. It fails with ErrNotConnected
// unless a connection is established.
func (m *Manager) SendMessage(ctx context.Context, payload models.SendMessagePayload) error {
	_, err := m.Invoke(ctx, MethodSendMessage, payload)
	return err
}

func (m *Manager) Invoke(ctx context.Context, target string, args ...interface{}) (json.RawMessage, error) {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == Connected
	m.mu.Unlock()
	if !connected || conn == nil {
		return nil, ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, m.opts.InvokeTimeout)
	defer cancel()
	return conn.invoke(ctx, target, args...)
}

func (m *Manager) attach(conn *hubConn) bool {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	m.state = Connected
	m.status = StatusConnected
	fn := m.handlers.OnStateChange
	m.mu.Unlock()
	if fn != nil {
		fn(Connected, StatusConnected)
	}

	go conn.writePump()
	go m.run(conn)
	return true
}

func (m *Manager) join(conn *hubConn) {
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.InvokeTimeout)
	defer cancel()
	if _, err := conn.invoke(ctx, MethodJoinConversation, m.conversationID); err != nil {
		m.logger.Warnf("conversation %d: join failed: %v", m.conversationID, err)
		return
	}
	m.logger.Debugf("conversation %d: joined", m.conversationID)
}

func (m *Manager) run(conn *hubConn) {
	err := conn.readPump(m.dispatch)

	m.mu.Lock()
	current := m.conn == conn && !m.stopped
	if current {
		m.conn = nil
	}
	m.mu.Unlock()
	if !current {
		return
	}

	var closed *closedError
	if errors.As(err, &closed) && !closed.allowReconnect {
		m.logger.Infof("conversation %d: %v", m.conversationID, closed)
		m.setState(Disconnected, StatusDisconnected)
		return
	}
	m.logger.Warnf("conversation %d: connection lost: %v", m.conversationID, err)
	m.reconnect()
}

func (m *Manager) reconnect() {
	m.setState(Reconnecting, StatusReconnecting)
	for i, delay := range m.opts.ReconnectDelays {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-m.ctx.Done():
			timer.Stop()
			return
		}

		conn, err := dial(m.ctx, m.opts, m.token)
		if err != nil {
			m.logger.Warnf("conversation %d: reconnect attempt %d failed: %v", m.conversationID, i+1, err)
			continue
		}
		if !m.attach(conn) {
			conn.close()
			return
		}
		m.join(conn)
		if fn := m.snapshot().OnReconnected; fn != nil {
			fn()
		}
		return
	}
	m.logger.Errorf("conversation %d: giving up after %d reconnect attempts", m.conversationID, len(m.opts.ReconnectDelays))
	m.setState(Disconnected, StatusDisconnected)
}

func (m *Manager) dispatch(msg hubMessage) {
	h := m.snapshot()
	switch strings.ToLower(msg.Target) {
	case eventReceiveMessage:
		if h.OnMessage == nil || len(msg.Arguments) == 0 {
			return
		}
		var dto models.MessageDTO
		if err := json.Unmarshal(msg.Arguments[0], &dto); err != nil {
			m.logger.Warnf("conversation %d: undecodable message: %v", m.conversationID, err)
			return
		}
		h.OnMessage(dto)

	case eventSendMessageFailed:
		if h.OnSendFailed == nil {
			return
		}
		h.OnSendFailed(failureReason(msg.Arguments))

	default:
		m.logger.Debugf("conversation %d: ignoring hub event %q", m.conversationID, msg.Target)
	}
}

func failureReason(args []json.RawMessage) string {
	if len(args) == 0 {
		return "Message could not be sent."
	}
	var s string
	if err := json.Unmarshal(args[0], &s); err == nil && s != "" {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(args[0], &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Error != "" {
			return obj.Error
		}
	}
	return "Message could not be sent."
}

func (m *Manager) snapshot() Handlers {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers
}

func (m *Manager) setState(state State, status string) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.status = status
	fn := m.handlers.OnStateChange
	m.mu.Unlock()
	if fn != nil {
		fn(state, status)
	}
}
