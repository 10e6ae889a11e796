package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/realtime"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeBackend serves canned REST responses and counts calls.
type fakeBackend struct {
	mu sync.Mutex

	conversations []models.Conversation
	listErr       error
	pages         map[int][]models.MessageDTO
	historyErr    error
	ticket        models.Ticket
	ticketErr     error
	findResp      models.FindOrCreateResponse

	listCalls     int
	historyCalls  []int
	ticketCalls   int
	markReadCalls []int64
}

func (f *fakeBackend) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.Conversation, len(f.conversations))
	copy(out, f.conversations)
	return out, nil
}

func (f *fakeBackend) MarkAsRead(ctx context.Context, conversationID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadCalls = append(f.markReadCalls, conversationID)
	return nil
}

func (f *fakeBackend) FindOrCreate(ctx context.Context, req models.FindOrCreateRequest) (models.FindOrCreateResponse, error) {
	return f.findResp, nil
}

func (f *fakeBackend) ListMessages(ctx context.Context, conversationID int64, page, pageSize int) ([]models.MessageDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls = append(f.historyCalls, page)
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.pages[page], nil
}

func (f *fakeBackend) GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticketCalls++
	if f.ticketErr != nil {
		return models.Ticket{}, f.ticketErr
	}
	return f.ticket, nil
}

func (f *fakeBackend) historyCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.historyCalls)
}

func ticketWithStatus(id int64, status string) models.Ticket {
	raw, _ := json.Marshal(status)
	return models.Ticket{ID: id, Status: raw}
}

// loaderFunc adapts a function to HistoryLoader.
type loaderFunc func(ctx context.Context, conversationID int64, page, pageSize int) ([]models.MessageDTO, error)

func (f loaderFunc) ListMessages(ctx context.Context, conversationID int64, page, pageSize int) ([]models.MessageDTO, error) {
	return f(ctx, conversationID, page, pageSize)
}

// historyPage builds n messages with ids start..start+n-1, each a minute older
// than the previous one.
func historyPage(conversationID int64, start, n int) []models.MessageDTO {
	out := make([]models.MessageDTO, 0, n)
	for i := 0; i < n; i++ {
		id := start + i
		out = append(out, models.MessageDTO{
			ID:             models.FlexID(fmt.Sprint(id)),
			ConversationID: models.FlexID(fmt.Sprint(conversationID)),
			SenderID:       "seller-1",
			SenderUsername: "seller",
			Content:        fmt.Sprintf("message %d", id),
			SentAt:         models.FlexTime{Time: baseTime.Add(-time.Duration(id) * time.Minute)},
		})
	}
	return out
}

// fakeConn stands in for the hub connection.
type fakeConn struct {
	mu        sync.Mutex
	auth      models.AuthContext
	convID    int64
	handlers  realtime.Handlers
	connected bool
	startErr  error
	starts    int
	resumes   int
	stopped   bool
	sent      []models.SendMessagePayload
	sendErr   error
}

func (c *fakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) SendMessage(ctx context.Context, payload models.SendMessagePayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeConn) Start(ctx context.Context) error {
	c.mu.Lock()
	c.starts++
	if c.startErr != nil {
		err := c.startErr
		c.mu.Unlock()
		return err
	}
	c.connected = true
	h := c.handlers
	c.mu.Unlock()
	if h.OnStateChange != nil {
		h.OnStateChange(realtime.Connected, realtime.StatusConnected)
	}
	return nil
}

func (c *fakeConn) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumes++
	return nil
}

func (c *fakeConn) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.connected = false
}

func (c *fakeConn) State() (realtime.State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return realtime.Connected, realtime.StatusConnected
	}
	return realtime.Disconnected, realtime.StatusDisconnected
}

func (c *fakeConn) push(dto models.MessageDTO) {
	c.mu.Lock()
	h := c.handlers
	c.mu.Unlock()
	h.OnMessage(dto)
}

func (c *fakeConn) sentPayloads() []models.SendMessagePayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.SendMessagePayload, len(c.sent))
	copy(out, c.sent)
	return out
}

// connFactory records every connection it hands out.
type connFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
	setup func(*fakeConn)
}

func (f *connFactory) connect(auth models.AuthContext, conversationID int64, handlers realtime.Handlers) Connection {
	c := &fakeConn{auth: auth, convID: conversationID, handlers: handlers}
	if f.setup != nil {
		f.setup(c)
	}
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	return c
}

func (f *connFactory) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

// eventLog collects session events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) notices() []Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Notice
	for _, ev := range l.events {
		if ev.Type == EventNotice && ev.Notice != nil {
			out = append(out, *ev.Notice)
		}
	}
	return out
}

func (l *eventLog) ofType(t EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
