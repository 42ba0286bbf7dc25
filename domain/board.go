package domain

import "time"

// Board is the top level container a user organizes columns and tasks in.
type Board struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Column belongs to exactly one board. Columns are ordered by creation.
type Column struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	BoardID   string    `json:"boardId"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Task belongs to one board and one column of that board.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	BoardID     string    `json:"boardId"`
	ColumnID    string    `json:"columnId"`
	UserID      string    `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TaskChanges carries the mutable task fields; nil means unchanged.
type TaskChanges struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	ColumnID    *string `json:"columnId,omitempty"`
}

// Empty reports whether no field is set.
func (c TaskChanges) Empty() bool {
	return c.Title == nil && c.Description == nil && c.ColumnID == nil
}

// Apply merges the changes into t.
func (c TaskChanges) Apply(t *Task) {
	if c.Title != nil {
		t.Title = *c.Title
	}
	if c.Description != nil {
		t.Description = *c.Description
	}
	if c.ColumnID != nil {
		t.ColumnID = *c.ColumnID
	}
}
