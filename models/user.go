package models

import "time"

// AuthContext is populated at session start and cleared at logout. Components
// receive it by value and never mutate it.
type AuthContext struct {
	Token     string    `json:"-"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (a AuthContext) HasToken() bool {
	return a.Token != ""
}

// Expired reports whether the token carried an expiry that has passed.
func (a AuthContext) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}
