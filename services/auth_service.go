package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
)

var (
	ErrNoToken      = errors.New("no bearer token stored")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// TokenStore gives read-only access to a previously issued bearer token.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
}

// FileTokenStore reads the token from a file written at login.
type FileTokenStore struct {
	Path string
}

func (s FileTokenStore) Token(ctx context.Context) (string, error) {
	if s.Path == "" {
		return "", ErrNoToken
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// StaticTokenStore serves a fixed token, mainly for the CLI --token flag.
type StaticTokenStore string

func (s StaticTokenStore) Token(ctx context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrNoToken
	}
	return strings.TrimSpace(string(s)), nil
}

// claim names used by the backend's identity provider, most specific first
var (
	userIDClaims   = []string{"user_id", "userId", "nameid", "sub", "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier"}
	usernameClaims = []string{"username", "unique_name", "name", "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name"}
	emailClaims    = []string{"email", "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress"}
)

type AuthService struct {
	store TokenStore
	now   func() time.Time
}

func NewAuthService(store TokenStore) *AuthService {
	return &AuthService{store: store, now: time.Now}
}

// Current resolves the AuthContext from the credential store.
func (s *AuthService) Current(ctx context.Context) (models.AuthContext, error) {
	if s.store == nil {
		return models.AuthContext{}, ErrNoToken
	}
	token, err := s.store.Token(ctx)
	if err != nil {
		return models.AuthContext{}, err
	}
	return s.ContextFromToken(token)
}

// ContextFromToken reads identity claims from the token. The signature is not
// checked: the client never holds the signing key, the backend does that.
func (s *AuthService) ContextFromToken(tokenString string) (models.AuthContext, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tokenString), "Bearer "))
	if tokenString == "" {
		return models.AuthContext{}, ErrNoToken
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return models.AuthContext{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	auth := models.AuthContext{
		Token:    tokenString,
		UserID:   firstClaim(claims, userIDClaims),
		Username: firstClaim(claims, usernameClaims),
		Email:    firstClaim(claims, emailClaims),
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		auth.ExpiresAt = exp.Time
	}
	if auth.Expired(s.now()) {
		return models.AuthContext{}, ErrTokenExpired
	}
	return auth, nil
}

func firstClaim(claims jwt.MapClaims, names []string) string {
	for _, name := range names {
		switch v := claims[name].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
