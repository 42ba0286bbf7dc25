package board

import (
	"errors"
	"slices"
	"sync"

	"prism-board/domain"
)

var ErrBoardNotInitialized = errors.New("board is not initialized")

// Emitter sends a realtime event, typically a *client.Client.
type Emitter interface {
	Emit(event string, payload any) error
}

// Store is the last known state of one board. Every operation replaces the
// affected list with a new slice, so values handed to observers are never
// mutated afterwards. Observers run while the store is locked and must not
// call its mutating methods.
type Store struct {
	mu      sync.Mutex
	emitter Emitter

	board   *Subject[*domain.Board]
	columns *Subject[[]domain.Column]
	tasks   *Subject[[]domain.Task]
}

func NewStore(emitter Emitter) *Store {
	return &Store{
		emitter: emitter,
		board:   NewSubject[*domain.Board](),
		columns: NewSubject[[]domain.Column](),
		tasks:   NewSubject[[]domain.Task](),
	}
}

func (s *Store) BoardSubject() *Subject[*domain.Board]     { return s.board }
func (s *Store) ColumnsSubject() *Subject[[]domain.Column] { return s.columns }
func (s *Store) TasksSubject() *Subject[[]domain.Task]     { return s.tasks }

func (s *Store) Board() *domain.Board {
	b, _ := s.board.Value()
	return b
}

func (s *Store) Columns() []domain.Column {
	c, _ := s.columns.Value()
	return c
}

func (s *Store) Tasks() []domain.Task {
	t, _ := s.tasks.Value()
	return t
}

// SetBoard replaces the board; nil clears it.
func (s *Store) SetBoard(b *domain.Board) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b != nil {
		cp := *b
		b = &cp
	}
	s.board.Next(b)
}

func (s *Store) SetColumns(cols []domain.Column) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.columns.Next(slices.Clone(cols))
}

func (s *Store) SetTasks(tasks []domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks.Next(slices.Clone(tasks))
}

func (s *Store) AddColumn(c domain.Column) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, _ := s.columns.Value()
	s.columns.Next(append(slices.Clip(cur), c))
}

func (s *Store) AddTask(t domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, _ := s.tasks.Value()
	s.tasks.Next(append(slices.Clip(cur), t))
}

// UpdateColumn applies the title of c to the column with the same id.
func (s *Store) UpdateColumn(c domain.Column) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, _ := s.columns.Value()
	i := slices.IndexFunc(cur, func(x domain.Column) bool { return x.ID == c.ID })
	if i < 0 {
		return
	}
	next := slices.Clone(cur)
	next[i].Title = c.Title
	next[i].UpdatedAt = c.UpdatedAt
	s.columns.Next(next)
}

// UpdateTask applies title, description and column of t to the task with the same id.
func (s *Store) UpdateTask(t domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, _ := s.tasks.Value()
	i := slices.IndexFunc(cur, func(x domain.Task) bool { return x.ID == t.ID })
	if i < 0 {
		return
	}
	next := slices.Clone(cur)
	next[i].Title = t.Title
	next[i].Description = t.Description
	next[i].ColumnID = t.ColumnID
	next[i].UpdatedAt = t.UpdatedAt
	s.tasks.Next(next)
}

func (s *Store) DeleteColumn(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, _ := s.columns.Value()
	if !slices.ContainsFunc(cur, func(x domain.Column) bool { return x.ID == id }) {
		return
	}
	s.columns.Next(slices.DeleteFunc(slices.Clone(cur), func(x domain.Column) bool { return x.ID == id }))
}

func (s *Store) DeleteTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, _ := s.tasks.Value()
	if !slices.ContainsFunc(cur, func(x domain.Task) bool { return x.ID == id }) {
		return
	}
	s.tasks.Next(slices.DeleteFunc(slices.Clone(cur), func(x domain.Task) bool { return x.ID == id }))
}

// UpdateBoard applies the title of b to the current board.
func (s *Store) UpdateBoard(b domain.Board) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, _ := s.board.Value()
	if cur == nil {
		return ErrBoardNotInitialized
	}
	next := *cur
	next.Title = b.Title
	next.UpdatedAt = b.UpdatedAt
	s.board.Next(&next)
	return nil
}

// LeaveBoard clears the board and tells the server to stop sending its
// updates. Columns and tasks are left as they are.
func (s *Store) LeaveBoard(boardID string) error {
	s.mu.Lock()
	s.board.Next(nil)
	s.mu.Unlock()
	if s.emitter == nil {
		return nil
	}
	return s.emitter.Emit(domain.EventBoardsLeave, domain.RoomPayload{BoardID: boardID})
}
