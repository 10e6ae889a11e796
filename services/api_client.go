package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
)

// APIError is a non-2xx response from the REST backend.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// APIClient talks to the conversations and tickets REST endpoints. Requests
// carry the bearer token through an oauth2 transport when one is known.
type APIClient struct {
	baseURL *url.URL
	http    *http.Client
}

func NewAPIClient(baseURL string, auth models.AuthContext, timeout time.Duration) (*APIClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse api base url")
	}
	return newAPIClient(u, auth, timeout), nil
}

// APIBackends returns a factory of clients sharing one base url.
func APIBackends(baseURL string, timeout time.Duration) (BackendFactory, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse api base url")
	}
	return func(auth models.AuthContext) Backend {
		return newAPIClient(u, auth, timeout)
	}, nil
}

func newAPIClient(u *url.URL, auth models.AuthContext, timeout time.Duration) *APIClient {
	var client *http.Client
	if auth.HasToken() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: auth.Token, TokenType: "Bearer"})
		client = oauth2.NewClient(context.Background(), ts)
	} else {
		client = &http.Client{}
	}
	client.Timeout = timeout
	return &APIClient{baseURL: u, http: client}
}

func (c *APIClient) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	if err := c.do(ctx, http.MethodGet, c.baseURL.JoinPath("conversations"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages fetches one page of history; page 1 is the newest.
func (c *APIClient) ListMessages(ctx context.Context, conversationID int64, page, pageSize int) ([]models.MessageDTO, error) {
	u := c.baseURL.JoinPath("conversations", strconv.FormatInt(conversationID, 10), "all-messages")
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()

	var out []models.MessageDTO
	if err := c.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) MarkAsRead(ctx context.Context, conversationID int64) error {
	u := c.baseURL.JoinPath("conversations", strconv.FormatInt(conversationID, 10), "markasread")
	return c.do(ctx, http.MethodPost, u, nil, nil)
}

func (c *APIClient) FindOrCreate(ctx context.Context, req models.FindOrCreateRequest) (models.FindOrCreateResponse, error) {
	var out models.FindOrCreateResponse
	err := c.do(ctx, http.MethodPost, c.baseURL.JoinPath("conversations", "find-or-create"), req, &out)
	return out, err
}

func (c *APIClient) GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error) {
	var out models.Ticket
	err := c.do(ctx, http.MethodGet, c.baseURL.JoinPath("Tickets", strconv.FormatInt(ticketID, 10)), nil, &out)
	return out, err
}

func (c *APIClient) do(ctx context.Context, method string, u *url.URL, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request body")
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return errors.Wrapf(err, "build %s %s", method, u.Path)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, u.Path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Method: method, Path: u.Path, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(raw))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s %s", method, u.Path)
	}
	return nil
}
