package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// testHub is a minimal JSON hub protocol server.
type testHub struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu          sync.Mutex
	connections int
	rejectNext  int
	joins       []json.RawMessage
	invocations []hubMessage
	failSend    string
	tokens      []string
	authHeaders []string
	current     *hubPeer
}

type hubPeer struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (p *hubPeer) write(frame string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ws.WriteMessage(websocket.TextMessage, []byte(frame+"\x1e"))
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	h := &testHub{t: t}
	h.srv = httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *testHub) url() string { return h.srv.URL + "/chathub" }

func (h *testHub) serve(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.tokens = append(h.tokens, r.URL.Query().Get("access_token"))
	h.authHeaders = append(h.authHeaders, r.Header.Get("Authorization"))
	if h.rejectNext > 0 {
		h.rejectNext--
		h.mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	h.mu.Unlock()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	peer := &hubPeer{ws: ws}
	defer ws.Close()

	if _, _, err := ws.ReadMessage(); err != nil {
		return
	}
	if err := peer.write("{}"); err != nil {
		return
	}
	h.mu.Lock()
	h.connections++
	h.current = peer
	h.mu.Unlock()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		for _, rec := range splitRecords(data) {
			var msg hubMessage
			if err := json.Unmarshal(rec, &msg); err != nil || msg.Type != typeInvocation {
				continue
			}
			h.mu.Lock()
			h.invocations = append(h.invocations, msg)
			if msg.Target == MethodJoinConversation && len(msg.Arguments) > 0 {
				h.joins = append(h.joins, msg.Arguments[0])
			}
			failure := ""
			if msg.Target == MethodSendMessage {
				failure = h.failSend
			}
			h.mu.Unlock()

			if msg.InvocationID == "" {
				continue
			}
			reply := map[string]interface{}{"type": typeCompletion, "invocationId": msg.InvocationID}
			if failure != "" {
				reply["error"] = failure
			}
			b, _ := json.Marshal(reply)
			_ = peer.write(string(b))
		}
	}
}

func (h *testHub) push(frame string) {
	h.mu.Lock()
	peer := h.current
	h.mu.Unlock()
	if peer == nil {
		h.t.Fatal("no hub connection to push to")
	}
	if err := peer.write(frame); err != nil {
		h.t.Fatalf("push: %v", err)
	}
}

// drop severs the current connection without a close frame.
func (h *testHub) drop() {
	h.mu.Lock()
	peer := h.current
	h.current = nil
	h.mu.Unlock()
	if peer != nil {
		peer.ws.UnderlyingConn().Close()
	}
}

func (h *testHub) joinCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.joins)
}

func (h *testHub) connectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connections
}

func (h *testHub) attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tokens)
}

func (h *testHub) invocationsOf(target string) []hubMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []hubMessage
	for _, inv := range h.invocations {
		if strings.EqualFold(inv.Target, target) {
			out = append(out, inv)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
