package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestContextFromToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier": "u-77",
		"unique_name": "buyer77",
		"email":       "b@example.com",
		"exp":         time.Now().Add(time.Hour).Unix(),
	})

	auth, err := NewAuthService(nil).ContextFromToken("Bearer " + token)
	if err != nil {
		t.Fatalf("ContextFromToken: %v", err)
	}
	if auth.UserID != "u-77" || auth.Username != "buyer77" || auth.Email != "b@example.com" {
		t.Errorf("auth = %+v", auth)
	}
	if auth.Token != token {
		t.Error("token not carried without the Bearer prefix")
	}
	if auth.ExpiresAt.IsZero() {
		t.Error("expiry not read")
	}
}

func TestContextFromTokenNumericID(t *testing.T) {
	auth, err := NewAuthService(nil).ContextFromToken(signToken(t, jwt.MapClaims{"userId": 42, "username": "n"}))
	if err != nil {
		t.Fatalf("ContextFromToken: %v", err)
	}
	if auth.UserID != "42" {
		t.Errorf("user id = %q, want 42", auth.UserID)
	}
}

func TestContextFromTokenErrors(t *testing.T) {
	s := NewAuthService(nil)
	if _, err := s.ContextFromToken("  "); !errors.Is(err, ErrNoToken) {
		t.Errorf("blank err = %v", err)
	}
	if _, err := s.ContextFromToken("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage err = %v", err)
	}
	expired := signToken(t, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-time.Minute).Unix()})
	if _, err := s.ContextFromToken(expired); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired err = %v", err)
	}
}

func TestAuthServiceCurrent(t *testing.T) {
	ctx := context.Background()
	if _, err := NewAuthService(nil).Current(ctx); !errors.Is(err, ErrNoToken) {
		t.Errorf("nil store err = %v", err)
	}

	path := filepath.Join(t.TempDir(), "token")
	store := FileTokenStore{Path: path}
	if _, err := NewAuthService(store).Current(ctx); !errors.Is(err, ErrNoToken) {
		t.Errorf("missing file err = %v", err)
	}

	token := signToken(t, jwt.MapClaims{"sub": "u-1", "name": "ana"})
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	auth, err := NewAuthService(store).Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if auth.UserID != "u-1" || auth.Username != "ana" || !auth.HasToken() {
		t.Errorf("auth = %+v", auth)
	}

	if _, err := NewAuthService(StaticTokenStore("")).Current(ctx); !errors.Is(err, ErrNoToken) {
		t.Errorf("empty static err = %v", err)
	}
}
