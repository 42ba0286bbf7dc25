package storage

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"prism-board/domain"
)

// Backend is the document store behind the HTTP API and the realtime handlers.
//
// Lookups of a single entity return (nil, nil) when it does not exist. Updates
// and deletes of a missing entity return domain.ErrNotFound.
type Backend interface {
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	UserByID(ctx context.Context, id string) (*domain.User, error)
	UserByEmail(ctx context.Context, email string) (*domain.User, error)

	CreateBoard(ctx context.Context, b domain.Board) (domain.Board, error)
	Board(ctx context.Context, id string) (*domain.Board, error)
	BoardsByUser(ctx context.Context, userID string) ([]domain.Board, error)
	UpdateBoardTitle(ctx context.Context, id, title string) (domain.Board, error)
	DeleteBoard(ctx context.Context, id string) error

	Columns(ctx context.Context, boardID string) ([]domain.Column, error)
	CreateColumn(ctx context.Context, c domain.Column) (domain.Column, error)
	UpdateColumnTitle(ctx context.Context, boardID, columnID, title string) (domain.Column, error)
	DeleteColumn(ctx context.Context, boardID, columnID string) error

	Tasks(ctx context.Context, boardID string) ([]domain.Task, error)
	CreateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, boardID, taskID string, changes domain.TaskChanges) (domain.Task, error)
	DeleteTask(ctx context.Context, boardID, taskID string) error

	// DeleteBoardContents removes every column and task of a board and
	// reports how many entities were deleted.
	DeleteBoardContents(ctx context.Context, boardID string) (int, error)
}

// now is the clock used for createdAt/updatedAt. Table storage keeps 100ns
// precision, so values are truncated to the microsecond.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func isStatus(err error, status int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == status
}

func isNotFound(err error) bool { return isStatus(err, http.StatusNotFound) }

func isConflict(err error) bool { return isStatus(err, http.StatusConflict) }
