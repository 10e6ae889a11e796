package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/services"
)

func testToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      "u-1",
		"username": "buyer",
		"exp":      exp.Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func newAuthApp() *echo.Echo {
	e := echo.New()
	e.GET("/whoami", func(c echo.Context) error {
		auth, ok := AuthFrom(c)
		if !ok {
			return c.NoContent(http.StatusInternalServerError)
		}
		return c.String(http.StatusOK, auth.UserID)
	}, AuthMiddleware(services.NewAuthService(nil)))
	return e
}

func TestAuthMiddleware(t *testing.T) {
	e := newAuthApp()
	valid := testToken(t, time.Now().Add(time.Hour))
	expired := testToken(t, time.Now().Add(-time.Hour))

	tests := []struct {
		name   string
		header string
		query  string
		status int
		body   string
	}{
		{name: "missing", status: http.StatusUnauthorized, body: "missing authorization token"},
		{name: "bad scheme", header: "Basic abc", status: http.StatusUnauthorized, body: "invalid authorization header"},
		{name: "garbage", header: "Bearer nope", status: http.StatusUnauthorized, body: "invalid token"},
		{name: "expired", header: "Bearer " + expired, status: http.StatusUnauthorized, body: "token expired"},
		{name: "header", header: "bearer " + valid, status: http.StatusOK, body: "u-1"},
		{name: "query", query: "?token=" + valid, status: http.StatusOK, body: "u-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.body) {
				t.Errorf("body = %s, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

type stubAllower struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubAllower) Allow(ctx context.Context, key string) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func TestRateLimitMiddleware(t *testing.T) {
	run := func(allower *stubAllower, auth bool) *httptest.ResponseRecorder {
		e := echo.New()
		mws := []echo.MiddlewareFunc{}
		if auth {
			mws = append(mws, AuthMiddleware(services.NewAuthService(nil)))
		}
		mws = append(mws, NewRateLimitMiddleware(allower, RateLimitConfig{KeyFunc: UserKey}))
		e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, mws...)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		if auth {
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+testToken(t, time.Now().Add(time.Hour)))
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	denied := &stubAllower{allow: false}
	if rec := run(denied, true); rec.Code != http.StatusTooManyRequests {
		t.Errorf("denied status = %d", rec.Code)
	}
	if denied.keys[0] != "user:u-1" {
		t.Errorf("key = %q", denied.keys[0])
	}

	anon := &stubAllower{allow: true}
	if rec := run(anon, false); rec.Code != http.StatusOK {
		t.Errorf("allowed status = %d", rec.Code)
	}
	if anon.keys[0] != "ip:10.0.0.1" {
		t.Errorf("anonymous key = %q", anon.keys[0])
	}

	broken := &stubAllower{err: errors.New("redis down")}
	if rec := run(broken, false); rec.Code != http.StatusOK {
		t.Errorf("limiter failure status = %d, want fail open", rec.Code)
	}
}
