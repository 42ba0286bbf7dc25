package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism-board/domain"
)

func TestViewWaitsForEveryInput(t *testing.T) {
	s := NewStore(nil)
	var snaps []Snapshot
	v := NewView(s, func(snap Snapshot) { snaps = append(snaps, snap) })
	defer v.Close()

	s.SetBoard(&domain.Board{ID: "b1", Title: "Roadmap"})
	s.SetColumns([]domain.Column{{ID: "c1", Title: "Todo"}})
	assert.Empty(t, snaps)
	_, ok := v.Latest()
	assert.False(t, ok)

	s.SetTasks(nil)
	require.Len(t, snaps, 1)
	assert.Equal(t, "Roadmap", snaps[0].Board.Title)
}

func TestViewEmitsOncePerChange(t *testing.T) {
	s := NewStore(nil)
	s.SetBoard(&domain.Board{ID: "b1", Title: "Roadmap"})
	s.SetColumns(nil)
	s.SetTasks(nil)

	var snaps []Snapshot
	v := NewView(s, func(snap Snapshot) { snaps = append(snaps, snap) })
	defer v.Close()
	require.Len(t, snaps, 1, "existing state yields a single snapshot")

	s.AddColumn(domain.Column{ID: "c1", Title: "Todo"})
	s.AddTask(domain.Task{ID: "t1", ColumnID: "c1", Title: "Write"})
	require.NoError(t, s.UpdateBoard(domain.Board{Title: "Plan"}))
	require.Len(t, snaps, 4)
	last := snaps[3]
	assert.Equal(t, "Plan", last.Board.Title)
	assert.Len(t, last.Columns, 1)
	assert.Len(t, last.TasksByColumn("c1"), 1)
	assert.Empty(t, last.TasksByColumn("c2"))
}

func TestViewSuppressedWhileBoardIsNil(t *testing.T) {
	s := NewStore(nil)
	var snaps []Snapshot
	v := NewView(s, func(snap Snapshot) { snaps = append(snaps, snap) })
	s.SetBoard(nil)
	s.SetColumns(nil)
	s.SetTasks(nil)
	s.AddColumn(domain.Column{ID: "c1"})
	assert.Empty(t, snaps)

	s.SetBoard(&domain.Board{ID: "b1"})
	assert.Len(t, snaps, 1)
	s.SetBoard(nil)
	s.AddTask(domain.Task{ID: "t1"})
	assert.Len(t, snaps, 1)

	v.Close()
	s.SetBoard(&domain.Board{ID: "b1"})
	assert.Len(t, snaps, 1, "closed views stay silent")
}

func TestTasksByColumnKeepsOrder(t *testing.T) {
	snap := Snapshot{Tasks: []domain.Task{
		{ID: "t1", ColumnID: "c1"},
		{ID: "t2", ColumnID: "c2"},
		{ID: "t3", ColumnID: "c1"},
	}}
	got := snap.TasksByColumn("c1")
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].ID)
	assert.Equal(t, "t3", got[1].ID)
}
