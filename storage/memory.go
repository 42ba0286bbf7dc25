package storage

import (
	"context"
	"slices"
	"sync"

	"prism-board/domain"
)

// Memory is an in-process Backend used for local runs and tests.
type Memory struct {
	mu      sync.RWMutex
	users   map[string]domain.User
	emails  map[string]string
	boards  map[string]domain.Board
	columns map[string][]domain.Column
	tasks   map[string][]domain.Task
}

func NewMemory() *Memory {
	return &Memory{
		users:   map[string]domain.User{},
		emails:  map[string]string{},
		boards:  map[string]domain.Board{},
		columns: map[string][]domain.Column{},
		tasks:   map[string][]domain.Task{},
	}
}

func (m *Memory) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := domain.NormalizeEmail(u.Email)
	if _, ok := m.emails[key]; ok {
		return domain.User{}, domain.ErrEmailTaken
	}
	ts := now()
	u.CreatedAt, u.UpdatedAt = ts, ts
	m.users[u.ID] = u
	m.emails[key] = u.ID
	return u, nil
}

func (m *Memory) UserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) UserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[domain.NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	u := m.users[id]
	return &u, nil
}

func (m *Memory) CreateBoard(_ context.Context, b domain.Board) (domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := now()
	b.CreatedAt, b.UpdatedAt = ts, ts
	m.boards[b.ID] = b
	return b, nil
}

func (m *Memory) Board(_ context.Context, id string) (*domain.Board, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.boards[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *Memory) BoardsByUser(_ context.Context, userID string) ([]domain.Board, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	boards := []domain.Board{}
	for _, b := range m.boards {
		if b.UserID == userID {
			boards = append(boards, b)
		}
	}
	slices.SortStableFunc(boards, func(a, b domain.Board) int {
		return compareCreation(a.CreatedAt.UnixNano(), a.ID, b.CreatedAt.UnixNano(), b.ID)
	})
	return boards, nil
}

func (m *Memory) UpdateBoardTitle(_ context.Context, id, title string) (domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[id]
	if !ok {
		return domain.Board{}, domain.ErrNotFound
	}
	b.Title = title
	b.UpdatedAt = now()
	m.boards[id] = b
	return b, nil
}

func (m *Memory) DeleteBoard(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.boards, id)
	return nil
}

func (m *Memory) Columns(_ context.Context, boardID string) ([]domain.Column, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Column{}, m.columns[boardID]...), nil
}

func (m *Memory) CreateColumn(_ context.Context, c domain.Column) (domain.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[c.BoardID]; !ok {
		return domain.Column{}, domain.ErrBoardNotFound
	}
	ts := now()
	c.CreatedAt, c.UpdatedAt = ts, ts
	m.columns[c.BoardID] = append(m.columns[c.BoardID], c)
	return c, nil
}

func (m *Memory) UpdateColumnTitle(_ context.Context, boardID, columnID, title string) (domain.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cols := m.columns[boardID]
	i := slices.IndexFunc(cols, func(c domain.Column) bool { return c.ID == columnID })
	if i < 0 {
		return domain.Column{}, domain.ErrNotFound
	}
	cols[i].Title = title
	cols[i].UpdatedAt = now()
	return cols[i], nil
}

func (m *Memory) DeleteColumn(_ context.Context, boardID, columnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cols := m.columns[boardID]
	i := slices.IndexFunc(cols, func(c domain.Column) bool { return c.ID == columnID })
	if i < 0 {
		return domain.ErrNotFound
	}
	m.columns[boardID] = slices.Delete(cols, i, i+1)
	return nil
}

func (m *Memory) Tasks(_ context.Context, boardID string) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Task{}, m.tasks[boardID]...), nil
}

func (m *Memory) CreateTask(_ context.Context, t domain.Task) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[t.BoardID]; !ok {
		return domain.Task{}, domain.ErrBoardNotFound
	}
	if !m.hasColumn(t.BoardID, t.ColumnID) {
		return domain.Task{}, domain.ErrColumnNotFound
	}
	ts := now()
	t.CreatedAt, t.UpdatedAt = ts, ts
	m.tasks[t.BoardID] = append(m.tasks[t.BoardID], t)
	return t, nil
}

func (m *Memory) UpdateTask(_ context.Context, boardID, taskID string, changes domain.TaskChanges) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tasks := m.tasks[boardID]
	i := slices.IndexFunc(tasks, func(t domain.Task) bool { return t.ID == taskID })
	if i < 0 {
		return domain.Task{}, domain.ErrNotFound
	}
	if changes.ColumnID != nil && !m.hasColumn(boardID, *changes.ColumnID) {
		return domain.Task{}, domain.ErrColumnNotFound
	}
	changes.Apply(&tasks[i])
	tasks[i].UpdatedAt = now()
	return tasks[i], nil
}

func (m *Memory) DeleteTask(_ context.Context, boardID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tasks := m.tasks[boardID]
	i := slices.IndexFunc(tasks, func(t domain.Task) bool { return t.ID == taskID })
	if i < 0 {
		return domain.ErrNotFound
	}
	m.tasks[boardID] = slices.Delete(tasks, i, i+1)
	return nil
}

func (m *Memory) DeleteBoardContents(_ context.Context, boardID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.columns[boardID]) + len(m.tasks[boardID])
	delete(m.columns, boardID)
	delete(m.tasks, boardID)
	return n, nil
}

func (m *Memory) hasColumn(boardID, columnID string) bool {
	return slices.ContainsFunc(m.columns[boardID], func(c domain.Column) bool { return c.ID == columnID })
}

func compareCreation(a int64, aid string, b int64, bid string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	case aid < bid:
		return -1
	case aid > bid:
		return 1
	}
	return 0
}
