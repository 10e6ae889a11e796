package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	auth   string
	body   string
}

func newBackendServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var got []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&body)
		got = append(got, recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			body:   string(body),
		})
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestAPIClientRequests(t *testing.T) {
	srv, got := newBackendServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/conversations":
			_, _ = w.Write([]byte(`[{"id":1,"otherPartyUsername":"shop","unreadMessageCount":2,"lastMessageSentAt":"2024-05-01T10:00:00"}]`))
		case "/api/conversations/1/all-messages":
			_, _ = w.Write([]byte(`[{"id":5,"content":"hi","senderId":9}]`))
		case "/api/Tickets/4":
			_, _ = w.Write([]byte(`{"id":4,"status":"Open"}`))
		case "/api/conversations/find-or-create":
			_, _ = w.Write([]byte(`{"id":8,"storeName":"Shop"}`))
		}
	})

	auth := models.AuthContext{Token: "tok-1"}
	client, err := NewAPIClient(srv.URL+"/api", auth, time.Second)
	if err != nil {
		t.Fatalf("NewAPIClient: %v", err)
	}
	ctx := context.Background()

	convs, err := client.ListConversations(ctx)
	if err != nil || len(convs) != 1 || convs[0].UnreadMessageCount != 2 {
		t.Fatalf("ListConversations = %+v, %v", convs, err)
	}
	msgs, err := client.ListMessages(ctx, 1, 2, 20)
	if err != nil || len(msgs) != 1 || msgs[0].SenderID != "9" {
		t.Fatalf("ListMessages = %+v, %v", msgs, err)
	}
	if err := client.MarkAsRead(ctx, 1); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	ticket, err := client.GetTicket(ctx, 4)
	if status, ok := ticket.StatusString(); err != nil || !ok || status != "Open" {
		t.Fatalf("GetTicket = %+v, %v", ticket, err)
	}
	resp, err := client.FindOrCreate(ctx, models.FindOrCreateRequest{StoreID: 3})
	if err != nil || resp.ID != 8 {
		t.Fatalf("FindOrCreate = %+v, %v", resp, err)
	}

	want := []recordedRequest{
		{method: http.MethodGet, path: "/api/conversations"},
		{method: http.MethodGet, path: "/api/conversations/1/all-messages", query: "page=2&pageSize=20"},
		{method: http.MethodPost, path: "/api/conversations/1/markasread"},
		{method: http.MethodGet, path: "/api/Tickets/4"},
		{method: http.MethodPost, path: "/api/conversations/find-or-create", body: `{"storeId":3}`},
	}
	if len(*got) != len(want) {
		t.Fatalf("requests = %+v", *got)
	}
	for i, w := range want {
		r := (*got)[i]
		if r.method != w.method || r.path != w.path || r.query != w.query || r.body != w.body {
			t.Errorf("request %d = %+v, want %+v", i, r, w)
		}
		if r.auth != "Bearer tok-1" {
			t.Errorf("request %d authorization = %q", i, r.auth)
		}
	}
}

func TestAPIClientWithoutToken(t *testing.T) {
	srv, got := newBackendServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	client, err := NewAPIClient(srv.URL, models.AuthContext{}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.ListConversations(context.Background()); err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if (*got)[0].auth != "" {
		t.Errorf("authorization = %q, want none", (*got)[0].auth)
	}
}

func TestAPIClientStatusError(t *testing.T) {
	srv, _ := newBackendServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})
	factory, err := APIBackends(srv.URL, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	_, err = factory(models.AuthContext{Token: "x"}).ListConversations(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden || apiErr.Body != "nope" {
		t.Fatalf("err = %v", err)
	}
}
