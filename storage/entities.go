package storage

import (
	"encoding/base64"
	"strings"
	"time"

	"prism-board/domain"
)

const (
	edmDateTime = "Edm.DateTime"

	emailIndexPartition = "email"
)

// Entity represents base table entity keys.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// Timestamps are stored as Edm.DateTime so they sort and filter natively.
type Timestamps struct {
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type,omitempty"`
	UpdatedAt     time.Time `json:"UpdatedAt"`
	UpdatedAtType string    `json:"UpdatedAt@odata.type,omitempty"`
}

func stamps(created, updated time.Time) Timestamps {
	return Timestamps{CreatedAt: created, CreatedAtType: edmDateTime, UpdatedAt: updated, UpdatedAtType: edmDateTime}
}

// userEntity lives in the users table with PartitionKey = RowKey = user id.
type userEntity struct {
	Entity
	Email        string `json:"Email"`
	Username     string `json:"Username"`
	PasswordHash string `json:"PasswordHash"`
	Timestamps
}

// emailIndexEntity maps a normalized email to its user. Inserting it first
// makes the email unique.
type emailIndexEntity struct {
	Entity
	UserID string `json:"UserId"`
}

// boardEntity lives in the boards table with PartitionKey = RowKey = board id.
type boardEntity struct {
	Entity
	Title  string `json:"Title"`
	UserID string `json:"UserId"`
	Timestamps
}

// columnEntity is partitioned by board id.
type columnEntity struct {
	Entity
	Title  string `json:"Title"`
	UserID string `json:"UserId"`
	Timestamps
}

// taskEntity is partitioned by board id.
type taskEntity struct {
	Entity
	Title       string `json:"Title"`
	Description string `json:"Description,omitempty"`
	ColumnID    string `json:"ColumnId"`
	UserID      string `json:"UserId"`
	Timestamps
}

// emailRowKey encodes an email so it only contains characters allowed in a RowKey.
func emailRowKey(email string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(domain.NormalizeEmail(email)))
}

func newUserEntity(u domain.User) userEntity {
	return userEntity{
		Entity:       Entity{PartitionKey: u.ID, RowKey: u.ID},
		Email:        u.Email,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Timestamps:   stamps(u.CreatedAt, u.UpdatedAt),
	}
}

func (e userEntity) toDomain() domain.User {
	return domain.User{
		ID:           e.RowKey,
		Email:        e.Email,
		Username:     e.Username,
		PasswordHash: e.PasswordHash,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func newBoardEntity(b domain.Board) boardEntity {
	return boardEntity{
		Entity:     Entity{PartitionKey: b.ID, RowKey: b.ID},
		Title:      b.Title,
		UserID:     b.UserID,
		Timestamps: stamps(b.CreatedAt, b.UpdatedAt),
	}
}

func (e boardEntity) toDomain() domain.Board {
	return domain.Board{ID: e.RowKey, Title: e.Title, UserID: e.UserID, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt}
}

func newColumnEntity(c domain.Column) columnEntity {
	return columnEntity{
		Entity:     Entity{PartitionKey: c.BoardID, RowKey: c.ID},
		Title:      c.Title,
		UserID:     c.UserID,
		Timestamps: stamps(c.CreatedAt, c.UpdatedAt),
	}
}

func (e columnEntity) toDomain() domain.Column {
	return domain.Column{
		ID:        e.RowKey,
		Title:     e.Title,
		BoardID:   e.PartitionKey,
		UserID:    e.UserID,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func newTaskEntity(t domain.Task) taskEntity {
	return taskEntity{
		Entity:      Entity{PartitionKey: t.BoardID, RowKey: t.ID},
		Title:       t.Title,
		Description: t.Description,
		ColumnID:    t.ColumnID,
		UserID:      t.UserID,
		Timestamps:  stamps(t.CreatedAt, t.UpdatedAt),
	}
}

func (e taskEntity) toDomain() domain.Task {
	return domain.Task{
		ID:          e.RowKey,
		Title:       e.Title,
		Description: e.Description,
		BoardID:     e.PartitionKey,
		ColumnID:    e.ColumnID,
		UserID:      e.UserID,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

// odataString quotes a value for use inside an OData filter expression.
func odataString(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
