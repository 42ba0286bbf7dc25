package api

import (
	"context"

	"prism-board/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	UserByID(ctx context.Context, id string) (*domain.User, error)
	UserByEmail(ctx context.Context, email string) (*domain.User, error)

	CreateBoard(ctx context.Context, b domain.Board) (domain.Board, error)
	Board(ctx context.Context, id string) (*domain.Board, error)
	BoardsByUser(ctx context.Context, userID string) ([]domain.Board, error)
	Columns(ctx context.Context, boardID string) ([]domain.Column, error)
	Tasks(ctx context.Context, boardID string) ([]domain.Task, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// TokenIssuer signs session tokens returned to clients.
type TokenIssuer interface {
	Issue(u domain.User) (string, error)
}

// AuthService combines verification and issuing.
type AuthService interface {
	Authenticator
	TokenIssuer
}

type titleRequest struct {
	Title string `json:"title"`
}

type loginFailure struct {
	EmailOrPassword string `json:"emailOrPassword"`
}
