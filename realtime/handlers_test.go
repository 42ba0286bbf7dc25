package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-board/domain"
	"prism-board/storage"
	"prism-board/telemetry"
)

type recordingCleanup struct {
	mu     sync.Mutex
	boards []string
	err    error
}

func (r *recordingCleanup) EnqueueBoardCleanup(_ context.Context, boardID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boards = append(r.boards, boardID)
	return r.err
}

func quietLogger() *log.Logger {
	l, _ := test.NewNullLogger()
	return l
}

func seedStore(t *testing.T) *storage.Memory {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemory()
	for _, u := range []domain.User{
		{ID: "u1", Email: "ann@example.com", Username: "ann", PasswordHash: "x"},
		{ID: "u2", Email: "bob@example.com", Username: "bob", PasswordHash: "x"},
	} {
		if _, err := store.CreateUser(ctx, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	if _, err := store.CreateBoard(ctx, domain.Board{ID: "b1", Title: "Roadmap", UserID: "u1"}); err != nil {
		t.Fatalf("seed board: %v", err)
	}
	return store
}

// localSession is a session without a socket; frames stay in its queue.
func localSession(userID string) *Session {
	return newSession(userID, nil, 16)
}

func frame(t *testing.T, event string, data any) []byte {
	t.Helper()
	msg, err := domain.EncodeFrame(event, data)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return msg
}

func next(t *testing.T, s *Session) domain.Frame {
	t.Helper()
	select {
	case msg := <-s.send:
		f, err := domain.DecodeFrame(msg)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return f
	case <-time.After(time.Second):
		t.Fatalf("no frame queued for session %s", s.ID)
	}
	return domain.Frame{}
}

func expectEmpty(t *testing.T, s *Session) {
	t.Helper()
	select {
	case msg := <-s.send:
		t.Fatalf("unexpected frame %s", msg)
	default:
	}
}

func failureOf(t *testing.T, f domain.Frame) string {
	t.Helper()
	var p domain.FailurePayload
	if err := sonic.Unmarshal(f.Data, &p); err != nil {
		t.Fatalf("decode failure: %v", err)
	}
	return p.Message
}

func TestJoinAndLeaveReplyToSenderOnly(t *testing.T) {
	hub := NewHub()
	cmds := NewCommands(seedStore(t), hub, quietLogger())
	ann, bob := localSession("u1"), localSession("u2")
	ctx := context.Background()

	cmds.Dispatch(ctx, bob, frame(t, domain.EventBoardsJoin, domain.RoomPayload{BoardID: "b1"}))
	_ = next(t, bob)
	cmds.Dispatch(ctx, ann, frame(t, domain.EventBoardsJoin, domain.RoomPayload{BoardID: "b1"}))

	f := next(t, ann)
	if f.Event != "boards_join_success" || string(f.Data) != `{"boardId":"b1"}` {
		t.Fatalf("unexpected join reply %s %s", f.Event, f.Data)
	}
	expectEmpty(t, bob)
	if !hub.IsMember(ann, "b1") {
		t.Fatalf("expected ann to be in room")
	}

	cmds.Dispatch(ctx, ann, frame(t, domain.EventBoardsLeave, domain.RoomPayload{BoardID: "b1"}))
	if f := next(t, ann); f.Event != "boards_leave_success" {
		t.Fatalf("unexpected leave reply %s", f.Event)
	}
	expectEmpty(t, bob)
	if hub.IsMember(ann, "b1") {
		t.Fatalf("expected ann to have left")
	}
}

func TestColumnsCreateBroadcastsToRoom(t *testing.T) {
	store := seedStore(t)
	hub := NewHub()
	cmds := NewCommands(store, hub, quietLogger())
	ann, bob := localSession("u1"), localSession("u2")
	hub.Join(ann, "b1")
	hub.Join(bob, "b1")

	cmds.Dispatch(context.Background(), ann, frame(t, domain.EventColumnsCreate, map[string]string{"boardId": "b1", "title": " Todo "}))

	var got []domain.Column
	for _, s := range []*Session{ann, bob} {
		f := next(t, s)
		if f.Event != "columns_create_success" {
			t.Fatalf("unexpected event %s", f.Event)
		}
		var col domain.Column
		if err := sonic.Unmarshal(f.Data, &col); err != nil {
			t.Fatalf("decode column: %v", err)
		}
		got = append(got, col)
		expectEmpty(t, s)
	}
	if got[0] != got[1] {
		t.Fatalf("members observed different columns %+v %+v", got[0], got[1])
	}
	if got[0].Title != "Todo" || got[0].BoardID != "b1" || got[0].UserID != "u1" || got[0].ID == "" {
		t.Fatalf("unexpected column %+v", got[0])
	}
	cols, _ := store.Columns(context.Background(), "b1")
	if len(cols) != 1 || cols[0].ID != got[0].ID {
		t.Fatalf("column not persisted: %+v", cols)
	}
}

func TestSenderOutsideRoomStillReceivesOutcome(t *testing.T) {
	hub := NewHub()
	cmds := NewCommands(seedStore(t), hub, quietLogger())
	ann, bob := localSession("u1"), localSession("u2")
	hub.Join(bob, "b1")

	cmds.Dispatch(context.Background(), ann, frame(t, domain.EventBoardsUpdate, map[string]any{"boardId": "b1", "fields": map[string]string{"title": "Plan"}}))
	for _, s := range []*Session{ann, bob} {
		f := next(t, s)
		var b domain.Board
		_ = sonic.Unmarshal(f.Data, &b)
		if f.Event != "boards_update_success" || b.Title != "Plan" {
			t.Fatalf("unexpected outcome %s %+v", f.Event, b)
		}
		expectEmpty(t, s)
	}
}

func TestUpdateOfMissingEntitiesFails(t *testing.T) {
	hub := NewHub()
	cmds := NewCommands(seedStore(t), hub, quietLogger())
	ann, bob := localSession("u1"), localSession("u2")
	hub.Join(ann, "b1")
	hub.Join(bob, "b1")

	cases := []struct {
		event string
		data  any
		want  string
	}{
		{domain.EventTasksUpdate, map[string]any{"boardId": "b1", "taskId": "missing", "fields": map[string]string{"title": "x"}}, "task not found"},
		{domain.EventTasksDelete, map[string]any{"boardId": "b1", "taskId": "missing"}, "task not found"},
		{domain.EventColumnsUpdate, map[string]any{"boardId": "b1", "columnId": "missing", "fields": map[string]string{"title": "x"}}, "column not found"},
		{domain.EventColumnsDelete, map[string]any{"boardId": "b1", "columnId": "missing"}, "column not found"},
		{domain.EventColumnsCreate, map[string]any{"boardId": "missing", "title": "x"}, "board not found"},
		{domain.EventTasksCreate, map[string]any{"boardId": "b1", "columnId": "missing", "title": "x"}, "column not found"},
		{domain.EventBoardsDelete, map[string]any{"boardId": "missing"}, "board not found"},
	}
	for _, tc := range cases {
		cmds.Dispatch(context.Background(), ann, frame(t, tc.event, tc.data))
		f := next(t, ann)
		if f.Event != tc.event+"_failure" {
			t.Fatalf("%s: unexpected event %s", tc.event, f.Event)
		}
		if msg := failureOf(t, f); msg != tc.want {
			t.Fatalf("%s: expected %q got %q", tc.event, tc.want, msg)
		}
		expectEmpty(t, bob)
	}
}

func TestInvalidPayloadsFail(t *testing.T) {
	cmds := NewCommands(seedStore(t), NewHub(), quietLogger())
	ann := localSession("u1")
	ctx := context.Background()

	cmds.Dispatch(ctx, ann, frame(t, domain.EventColumnsCreate, map[string]string{"boardId": "b1"}))
	f := next(t, ann)
	if f.Event != "columns_create_failure" || failureOf(t, f) != "title is required" {
		t.Fatalf("unexpected reply %s %s", f.Event, f.Data)
	}

	cmds.Dispatch(ctx, ann, frame(t, "boards_explode", map[string]string{"boardId": "b1"}))
	f = next(t, ann)
	if f.Event != "boards_explode_failure" || failureOf(t, f) != "unknown event: boards_explode" {
		t.Fatalf("unexpected reply %s %s", f.Event, f.Data)
	}

	cmds.Dispatch(ctx, ann, []byte(`not json`))
	expectEmpty(t, ann)

	anon := localSession("")
	cmds.Dispatch(ctx, anon, frame(t, domain.EventBoardsJoin, domain.RoomPayload{BoardID: "b1"}))
	if f := next(t, anon); f.Event != "boards_join_failure" || failureOf(t, f) != msgUnauthorized {
		t.Fatalf("unexpected reply %s %s", f.Event, f.Data)
	}
}

func TestTaskLifecycle(t *testing.T) {
	store := seedStore(t)
	hub := NewHub()
	cmds := NewCommands(store, hub, quietLogger())
	ann := localSession("u1")
	hub.Join(ann, "b1")
	ctx := context.Background()

	col, _ := store.CreateColumn(ctx, domain.Column{ID: "c1", BoardID: "b1", Title: "Todo", UserID: "u1"})
	done, _ := store.CreateColumn(ctx, domain.Column{ID: "c2", BoardID: "b1", Title: "Done", UserID: "u1"})

	cmds.Dispatch(ctx, ann, frame(t, domain.EventTasksCreate, map[string]string{"boardId": "b1", "columnId": col.ID, "title": "Write", "description": "draft"}))
	f := next(t, ann)
	var task domain.Task
	_ = sonic.Unmarshal(f.Data, &task)
	if f.Event != "tasks_create_success" || task.ColumnID != "c1" || task.Description != "draft" {
		t.Fatalf("unexpected create %s %+v", f.Event, task)
	}

	cmds.Dispatch(ctx, ann, frame(t, domain.EventTasksUpdate, map[string]any{"boardId": "b1", "taskId": task.ID, "fields": map[string]string{"columnId": done.ID}}))
	f = next(t, ann)
	var moved domain.Task
	_ = sonic.Unmarshal(f.Data, &moved)
	if f.Event != "tasks_update_success" || moved.ColumnID != "c2" || moved.Title != "Write" {
		t.Fatalf("unexpected update %s %+v", f.Event, moved)
	}

	cmds.Dispatch(ctx, ann, frame(t, domain.EventTasksDelete, map[string]string{"boardId": "b1", "taskId": task.ID}))
	f = next(t, ann)
	if f.Event != "tasks_delete_success" || string(f.Data) != `"`+task.ID+`"` {
		t.Fatalf("unexpected delete %s %s", f.Event, f.Data)
	}
	tasks, _ := store.Tasks(ctx, "b1")
	if len(tasks) != 0 {
		t.Fatalf("expected task removed, got %+v", tasks)
	}
}

func TestBoardsDeleteEnqueuesCleanup(t *testing.T) {
	store := seedStore(t)
	hub := NewHub()
	cleanup := &recordingCleanup{err: errors.New("queue down")}
	cmds := NewCommands(store, hub, quietLogger(), WithCleanup(cleanup))
	ann := localSession("u1")
	hub.Join(ann, "b1")

	cmds.Dispatch(context.Background(), ann, frame(t, domain.EventBoardsDelete, map[string]string{"boardId": "b1"}))
	f := next(t, ann)
	if f.Event != "boards_delete_success" || string(f.Data) != `"b1"` {
		t.Fatalf("unexpected reply %s %s", f.Event, f.Data)
	}
	if len(cleanup.boards) != 1 || cleanup.boards[0] != "b1" {
		t.Fatalf("expected cleanup for b1, got %v", cleanup.boards)
	}
	if b, _ := store.Board(context.Background(), "b1"); b != nil {
		t.Fatalf("expected board deleted")
	}
}

func TestDuplicateRequestIsAppliedOnce(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	store := seedStore(t)
	hub := NewHub()
	cmds := NewCommands(store, hub, quietLogger(), WithDeduper(NewRedisDeduper(rc, time.Minute)))
	ann := localSession("u1")
	hub.Join(ann, "b1")
	ctx := context.Background()

	create := map[string]string{"boardId": "b1", "title": "Todo", "requestId": "r1"}
	cmds.Dispatch(ctx, ann, frame(t, domain.EventColumnsCreate, create))
	cmds.Dispatch(ctx, ann, frame(t, domain.EventColumnsCreate, create))
	if f := next(t, ann); f.Event != "columns_create_success" {
		t.Fatalf("unexpected event %s", f.Event)
	}
	expectEmpty(t, ann)

	// A failed mutation releases its request id so the retry goes through.
	move := map[string]any{"boardId": "b1", "taskId": "t1", "requestId": "r2", "fields": map[string]string{"title": "x"}}
	cmds.Dispatch(ctx, ann, frame(t, domain.EventTasksUpdate, move))
	if f := next(t, ann); f.Event != "tasks_update_failure" {
		t.Fatalf("unexpected event %s", f.Event)
	}
	if m.Exists("dedupe:u1:r2") {
		t.Fatalf("expected failed request id to be released")
	}
	cols, _ := store.Columns(ctx, "b1")
	if len(cols) != 1 {
		t.Fatalf("expected a single column, got %d", len(cols))
	}
}

func TestCommandsEmitObservabilityEvents(t *testing.T) {
	logger, hook := test.NewNullLogger()
	hub := NewHub()
	cmds := NewCommands(seedStore(t), hub, logger)
	ann := localSession("u1")

	cmds.Dispatch(context.Background(), ann, frame(t, domain.EventColumnsUpdate, map[string]any{"boardId": "b1", "columnId": "nope", "fields": map[string]string{"title": "x"}}))
	_ = next(t, ann)

	var entry *log.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == telemetry.EventMessage {
			entry = e
		}
	}
	if entry == nil {
		t.Fatalf("expected an observability entry")
	}
	if entry.Data["event.name"] != domain.EventColumnsUpdate || entry.Level != log.WarnLevel {
		t.Fatalf("unexpected entry %v %v", entry.Level, entry.Data)
	}
	attrs, _ := entry.Data["attributes"].(map[string]any)
	if attrs["prism.board_id"] != "b1" || attrs[string(telemetry.StatusKey)] != int64(404) {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}

func TestTaskUpdateTrimsTitle(t *testing.T) {
	store := seedStore(t)
	hub := NewHub()
	cmds := NewCommands(store, hub, quietLogger())
	ann := localSession("u1")
	hub.Join(ann, "b1")
	ctx := context.Background()

	_, _ = store.CreateColumn(ctx, domain.Column{ID: "c1", BoardID: "b1", Title: "Todo", UserID: "u1"})
	task, _ := store.CreateTask(ctx, domain.Task{ID: "t1", BoardID: "b1", ColumnID: "c1", Title: "Write", UserID: "u1"})

	cmds.Dispatch(ctx, ann, frame(t, domain.EventTasksUpdate, map[string]any{"boardId": "b1", "taskId": task.ID, "fields": map[string]string{"title": "  Ship it  "}}))
	f := next(t, ann)
	var updated domain.Task
	_ = sonic.Unmarshal(f.Data, &updated)
	if f.Event != "tasks_update_success" || updated.Title != "Ship it" {
		t.Fatalf("unexpected update %s %+v", f.Event, updated)
	}
	tasks, _ := store.Tasks(ctx, "b1")
	if len(tasks) != 1 || tasks[0].Title != "Ship it" {
		t.Fatalf("expected trimmed title stored, got %+v", tasks)
	}
}
