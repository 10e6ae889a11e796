package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	sendBufSize = 64
)

// HubError is a failed invocation reported by the hub.
type HubError struct {
	Target  string
	Message string
}

func (e *HubError) Error() string {
	return fmt.Sprintf("hub invocation %s failed: %s", e.Target, e.Message)
}

// closedError carries a close frame sent by the hub.
type closedError struct {
	reason         string
	allowReconnect bool
}

func (e *closedError) Error() string {
	if e.reason == "" {
		return "connection closed by hub"
	}
	return "connection closed by hub: " + e.reason
}

type completion struct {
	result json.RawMessage
	err    string
}

// hubConn is one established hub connection. writePump is its only writer.
type hubConn struct {
	ws            *websocket.Conn
	send          chan []byte
	done          chan struct{}
	closeOnce     sync.Once
	keepAlive     time.Duration
	serverTimeout time.Duration
	initial       [][]byte

	nextID  int64
	mu      sync.Mutex
	pending map[string]chan completion
}

func hubURL(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported hub url scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dial opens the websocket and completes the JSON protocol handshake.
func dial(ctx context.Context, opts Options, token string) (*hubConn, error) {
	target, err := hubURL(opts.URL, token)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("hub dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("hub dial: %w", err)
	}

	req, err := encodeRecord(handshakeRequest{Protocol: "json", Version: 1})
	if err != nil {
		ws.Close()
		return nil, err
	}
	ws.SetWriteDeadline(time.Now().Add(opts.HandshakeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, req); err != nil {
		ws.Close()
		return nil, fmt.Errorf("hub handshake: %w", err)
	}
	ws.SetReadDeadline(time.Now().Add(opts.HandshakeTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("hub handshake: %w", err)
	}
	records := splitRecords(data)
	if len(records) == 0 {
		ws.Close()
		return nil, fmt.Errorf("hub handshake: empty response")
	}
	var hs handshakeResponse
	if err := json.Unmarshal(records[0], &hs); err != nil {
		ws.Close()
		return nil, fmt.Errorf("hub handshake: %w", err)
	}
	if hs.Error != "" {
		ws.Close()
		return nil, fmt.Errorf("hub handshake rejected: %s", hs.Error)
	}
	ws.SetWriteDeadline(time.Time{})

	return &hubConn{
		ws:            ws,
		send:          make(chan []byte, sendBufSize),
		done:          make(chan struct{}),
		keepAlive:     opts.KeepAlive,
		serverTimeout: opts.ServerTimeout,
		initial:       records[1:],
		pending:       make(map[string]chan completion),
	}, nil
}

// readPump decodes frames until the connection fails or the hub closes it.
// Invocations are handed to dispatch on the reading goroutine.
func (c *hubConn) readPump(dispatch func(hubMessage)) error {
	defer c.close()

	handle := func(rec []byte) error {
		var msg hubMessage
		if err := json.Unmarshal(rec, &msg); err != nil {
			return nil
		}
		switch msg.Type {
		case typeInvocation:
			dispatch(msg)
		case typeCompletion:
			c.complete(msg)
		case typeClose:
			return &closedError{reason: msg.Error, allowReconnect: msg.AllowReconnect}
		}
		return nil
	}

	for _, rec := range c.initial {
		if err := handle(rec); err != nil {
			return err
		}
	}
	c.initial = nil

	for {
		c.ws.SetReadDeadline(time.Now().Add(c.serverTimeout))
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return errConnClosed
			default:
			}
			return err
		}
		for _, rec := range splitRecords(data) {
			if err := handle(rec); err != nil {
				return err
			}
		}
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *hubConn) writePump() {
	ticker := time.NewTicker(c.keepAlive)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	ping, _ := encodeRecord(pingMessage{Type: typePing})
	for {
		select {
		case <-c.done:
			return

		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, ping); err != nil {
				return
			}
		}
	}
}

// invoke calls a hub method and waits for its completion.
func (c *hubConn) invoke(ctx context.Context, target string, args ...interface{}) (json.RawMessage, error) {
	id := strconv.FormatInt(atomic.AddInt64(&c.nextID, 1), 10)
	frame, err := encodeRecord(invocationMessage{
		Type:         typeInvocation,
		InvocationID: id,
		Target:       target,
		Arguments:    args,
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan completion, 1)
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.pending != nil {
			delete(c.pending, id)
		}
		c.mu.Unlock()
	}()

	select {
	case c.send <- frame:
	case <-c.done:
		return nil, ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if res.err != "" {
			return nil, &HubError{Target: target, Message: res.err}
		}
		return res.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *hubConn) complete(msg hubMessage) {
	c.mu.Lock()
	ch, ok := c.pending[msg.InvocationID]
	if ok {
		delete(c.pending, msg.InvocationID)
	}
	c.mu.Unlock()
	if ok {
		ch <- completion{result: msg.Result, err: msg.Error}
	}
}

// close tears the connection down once and fails every pending invocation.
func (c *hubConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
		c.mu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pending = nil
		c.mu.Unlock()
	})
}
