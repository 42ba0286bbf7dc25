package domain

import (
	"net/mail"
	"strings"
	"time"
)

// User is the persisted account record. PasswordHash never leaves the server.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UserResponse is what register, login and current-user return.
type UserResponse struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	ID       string `json:"id"`
	Token    string `json:"token"`
}

// RegisterInput is the body of POST /api/users.
type RegisterInput struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginInput is the body of POST /api/users/login.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// NormalizeEmail is the canonical form used for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate collects every field error so the caller can report them together.
func (in RegisterInput) Validate() error {
	var msgs []string
	email := strings.TrimSpace(in.Email)
	if email == "" {
		msgs = append(msgs, "Email is required")
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		msgs = append(msgs, "invalid email")
	}
	if strings.TrimSpace(in.Username) == "" {
		msgs = append(msgs, "Username is required")
	}
	if in.Password == "" {
		msgs = append(msgs, "Password is required")
	}
	if len(msgs) > 0 {
		return &ValidationError{Messages: msgs}
	}
	return nil
}
