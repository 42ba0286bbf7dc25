package board

import (
	"sync"

	"prism-board/domain"
)

// Snapshot is a consistent picture of one board for rendering.
type Snapshot struct {
	Board   domain.Board
	Columns []domain.Column
	Tasks   []domain.Task
}

// TasksByColumn returns the tasks of one column in store order.
func (s Snapshot) TasksByColumn(columnID string) []domain.Task {
	var out []domain.Task
	for _, t := range s.Tasks {
		if t.ColumnID == columnID {
			out = append(out, t)
		}
	}
	return out
}

// View combines the board, columns and tasks of a Store. Nothing is emitted
// until all three have a value and the board is set; after that every change
// of any input yields exactly one snapshot, except while the board is nil.
type View struct {
	mu      sync.Mutex
	board   *domain.Board
	columns []domain.Column
	tasks   []domain.Task
	seen    uint8
	latest  *Snapshot
	emit    func(Snapshot)
	cancels []func()
	closed  bool
}

const (
	seenBoard uint8 = 1 << iota
	seenColumns
	seenTasks
	seenAll = seenBoard | seenColumns | seenTasks
)

// NewView starts observing store and calls emit for every snapshot.
func NewView(store *Store, emit func(Snapshot)) *View {
	v := &View{emit: emit}
	v.cancels = []func(){
		store.BoardSubject().Subscribe(func(b *domain.Board) {
			v.update(seenBoard, func() { v.board = b })
		}),
		store.ColumnsSubject().Subscribe(func(c []domain.Column) {
			v.update(seenColumns, func() { v.columns = c })
		}),
		store.TasksSubject().Subscribe(func(t []domain.Task) {
			v.update(seenTasks, func() { v.tasks = t })
		}),
	}
	return v
}

func (v *View) update(input uint8, set func()) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	set()
	v.seen |= input
	if v.seen != seenAll || v.board == nil {
		v.mu.Unlock()
		return
	}
	snap := Snapshot{Board: *v.board, Columns: v.columns, Tasks: v.tasks}
	v.latest = &snap
	v.mu.Unlock()
	if v.emit != nil {
		v.emit(snap)
	}
}

// Latest returns the last emitted snapshot.
func (v *View) Latest() (Snapshot, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.latest == nil {
		return Snapshot{}, false
	}
	return *v.latest, true
}

// Close stops observing the store.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	cancels := v.cancels
	v.cancels = nil
	v.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
