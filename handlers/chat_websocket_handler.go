package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/services"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// streamFrame is what the event stream writes to its clients.
type streamFrame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// clientCommand is what a client may send over the event stream.
type clientCommand struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// StreamClient is one websocket watching a session. Send is owned and closed
// by the room; replies carries answers to the client's own commands.
type StreamClient struct {
	ID      string
	Conn    *websocket.Conn
	Room    *SessionRoom
	Send    chan streamFrame
	replies chan streamFrame
	ctx     context.Context
	cancel  context.CancelFunc
}

// SessionRoom fans one session's events out to every connected client.
// register is unbuffered so a client is only accepted by a running room.
type SessionRoom struct {
	session     *services.ChatSession
	clients     map[string]*StreamClient
	mu          sync.RWMutex
	broadcast   chan streamFrame
	register    chan *StreamClient
	unregister  chan *StreamClient
	unsubscribe func()
	done        chan struct{}
	logger      *log.Logger
}

func newSessionRoom(session *services.ChatSession) *SessionRoom {
	room := &SessionRoom{
		session:    session,
		clients:    make(map[string]*StreamClient),
		broadcast:  make(chan streamFrame, 256),
		register:   make(chan *StreamClient),
		unregister: make(chan *StreamClient, 16),
		done:       make(chan struct{}),
		logger:     log.New("stream"),
	}
	room.unsubscribe = session.Subscribe(func(ev services.Event) {
		select {
		case room.broadcast <- streamFrame{Type: "event", Payload: ev}:
		default:
			room.logger.Warnf("conversation %d: event buffer full, dropping %s event", ev.ConversationID, ev.Type)
		}
	})
	go room.run()
	return room
}

func (room *SessionRoom) run() {
	defer func() {
		room.unsubscribe()
		room.mu.Lock()
		for id, client := range room.clients {
			delete(room.clients, id)
			close(client.Send)
		}
		room.mu.Unlock()
		close(room.done)
	}()

	for {
		select {
		case <-room.session.Done():
			return

		case client := <-room.register:
			room.mu.Lock()
			room.clients[client.ID] = client
			room.mu.Unlock()

		case client := <-room.unregister:
			room.mu.Lock()
			if _, ok := room.clients[client.ID]; ok {
				delete(room.clients, client.ID)
				close(client.Send)
			}
			room.mu.Unlock()

		case frame := <-room.broadcast:
			room.mu.Lock()
			for id, client := range room.clients {
				select {
				case client.Send <- frame:
				default:
					room.logger.Warnf("client %s send buffer full, disconnecting", id)
					delete(room.clients, id)
					close(client.Send)
				}
			}
			room.mu.Unlock()
		}
	}
}

func (room *SessionRoom) Len() int {
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.clients)
}

// ChatWebSocketHandler streams the caller's open session to websocket
// clients and accepts composer commands from them.
type ChatWebSocketHandler struct {
	sessions *services.SessionManager
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu    sync.Mutex
	rooms map[*services.ChatSession]*SessionRoom
}

func NewChatWebSocketHandler(sessions *services.SessionManager, allowOrigins []string) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{CheckOrigin: originChecker(allowOrigins)},
		logger:   log.New("stream"),
		rooms:    make(map[*services.ChatSession]*SessionRoom),
	}
}

// originChecker accepts same-host requests, requests without Origin and the
// configured origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return strings.EqualFold(strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://"), r.Host)
	}
}

func (h *ChatWebSocketHandler) roomFor(session *services.ChatSession) *SessionRoom {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[session]; ok {
		select {
		case <-room.done:
		default:
			return room
		}
	}
	for s, room := range h.rooms {
		select {
		case <-room.done:
			delete(h.rooms, s)
		default:
		}
	}
	room := newSessionRoom(session)
	h.rooms[session] = room
	return room
}

func (h *ChatWebSocketHandler) HandleWebSocket(c echo.Context) error {
	auth, ok := authOf(c)
	if !ok {
		return unauthorized(c)
	}
	session, ok := h.sessions.Current(auth)
	if !ok {
		return errorJSON(c, http.StatusNotFound, "no open conversation")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	room := h.roomFor(session)
	client := &StreamClient{
		ID:      uuid.New().String(),
		Conn:    ws,
		Room:    room,
		Send:    make(chan streamFrame, 256),
		replies: make(chan streamFrame, 16),
		ctx:     ctx,
		cancel:  cancel,
	}

	// snapshot first so the client starts from a complete view
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(streamFrame{Type: "init", Payload: session.Snapshot()}); err != nil {
		cancel()
		ws.Close()
		return nil
	}
	select {
	case room.register <- client:
	case <-room.done:
		close(client.Send)
	}

	go h.writePump(client)
	h.readPump(client, session)
	return nil
}

func (h *ChatWebSocketHandler) readPump(client *StreamClient, session *services.ChatSession) {
	defer func() {
		client.cancel()
		select {
		case client.Room.unregister <- client:
		case <-client.Room.done:
		}
		client.Conn.Close()
	}()

	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var cmd clientCommand
		if err := client.Conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warnf("websocket error: %v", err)
			}
			return
		}
		h.handleCommand(client, session, cmd)
	}
}

func (h *ChatWebSocketHandler) writePump(client *StreamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case <-client.ctx.Done():
			return

		case frame, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteJSON(frame); err != nil {
				h.logger.Warnf("WriteJSON error: %v", err)
				return
			}

		case frame := <-client.replies:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteJSON(frame); err != nil {
				h.logger.Warnf("WriteJSON error: %v", err)
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleCommand runs a client command against the session. Results go back
// to the issuing client only; resulting store changes reach everyone as
// events.
func (h *ChatWebSocketHandler) handleCommand(client *StreamClient, session *services.ChatSession, cmd clientCommand) {
	ctx := client.ctx
	var err error
	switch cmd.Type {
	case "send":
		var p sendRequest
		if err = json.Unmarshal(cmd.Payload, &p); err == nil {
			_, err = session.Send(ctx, p.Text)
		}
	case "load_older":
		_, err = session.LoadOlder(ctx)
	case "private":
		var p privateRequest
		if err = json.Unmarshal(cmd.Payload, &p); err == nil {
			session.SetPrivate(p.Private)
		}
	case "app_state":
		var p appStateRequest
		if err = json.Unmarshal(cmd.Payload, &p); err == nil {
			err = session.AppStateChanged(ctx, p.State)
		}
	default:
		h.reply(client, streamFrame{Type: "error", Payload: map[string]string{"error": "unknown command " + cmd.Type}})
		return
	}

	if err != nil {
		h.reply(client, streamFrame{Type: "error", Payload: map[string]string{"command": cmd.Type, "error": err.Error()}})
		return
	}
	h.reply(client, streamFrame{Type: "ack", Payload: map[string]string{"command": cmd.Type}})
}

func (h *ChatWebSocketHandler) reply(client *StreamClient, frame streamFrame) {
	select {
	case client.replies <- frame:
	case <-client.ctx.Done():
	default:
		h.logger.Warnf("client %s send buffer full, dropping reply", client.ID)
	}
}
