package realtime

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"prism-board/domain"
	"prism-board/storage"
)

type fakeAuth map[string]string

func (f fakeAuth) UserIDFromAuthHeader(h string) (string, error) {
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return "", errors.New("missing bearer")
	}
	id, ok := f[token]
	if !ok {
		return "", errors.New("bad token")
	}
	return id, nil
}

type testEnv struct {
	url    string
	store  *storage.Memory
	hub    *Hub
	server *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := seedStore(t)
	hub := NewHub()
	logger := quietLogger()
	auth := fakeAuth{"ann-token": "u1", "bob-token": "u2", "ghost-token": "u404"}
	srv := NewServer(auth, store, hub, NewCommands(store, hub, logger), Options{PingInterval: time.Second}, logger)

	e := echo.New()
	srv.Register(e)
	ts := httptest.NewServer(e)
	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
	})
	return &testEnv{url: "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket", store: store, hub: hub, server: srv}
}

func (env *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(env.url+"?token="+url.QueryEscape(token), nil)
	if err != nil {
		t.Fatalf("dial: %v (%v)", err, resp)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, frame(t, event, data)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func receive(t *testing.T, conn *websocket.Conn) domain.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := domain.DecodeFrame(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return f
}

func expect(t *testing.T, conn *websocket.Conn, event string) domain.Frame {
	t.Helper()
	f := receive(t, conn)
	if f.Event != event {
		t.Fatalf("expected %s got %s %s", event, f.Event, f.Data)
	}
	return f
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandshakeRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	for _, target := range []string{
		env.url,
		env.url + "?token=nope",
		env.url + "?token=ghost-token",
	} {
		_, resp, err := websocket.DefaultDialer.Dial(target, nil)
		if err == nil {
			t.Fatalf("expected handshake failure for %s", target)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s, got %v", target, resp)
		}
	}
	if n := env.server.Registry().Len(); n != 0 {
		t.Fatalf("expected no sessions, got %d", n)
	}
}

func TestHandshakeAcceptsHeaderAndQuery(t *testing.T) {
	env := newTestEnv(t)
	header := http.Header{}
	header.Set("Authorization", "Bearer ann-token")
	conn, _, err := websocket.DefaultDialer.Dial(env.url, header)
	if err != nil {
		t.Fatalf("dial with header: %v", err)
	}
	defer conn.Close()
	_ = env.dial(t, "Bearer bob-token")
	waitFor(t, func() bool { return env.server.Registry().Len() == 2 }, "expected two sessions")
}

func TestTwoClientsObserveCreatedColumn(t *testing.T) {
	env := newTestEnv(t)
	ann := env.dial(t, "ann-token")
	bob := env.dial(t, "bob-token")
	for _, c := range []*websocket.Conn{ann, bob} {
		emit(t, c, domain.EventBoardsJoin, domain.RoomPayload{BoardID: "b1"})
		expect(t, c, "boards_join_success")
	}

	emit(t, ann, domain.EventColumnsCreate, map[string]string{"boardId": "b1", "title": "Todo"})
	var cols [2]domain.Column
	for i, c := range []*websocket.Conn{ann, bob} {
		f := expect(t, c, "columns_create_success")
		if err := sonic.Unmarshal(f.Data, &cols[i]); err != nil {
			t.Fatalf("decode column: %v", err)
		}
	}
	if cols[0] != cols[1] || cols[0].Title != "Todo" {
		t.Fatalf("unexpected columns %+v", cols)
	}
}

func TestFailureReachesSenderOnly(t *testing.T) {
	env := newTestEnv(t)
	ann := env.dial(t, "ann-token")
	bob := env.dial(t, "bob-token")
	for _, c := range []*websocket.Conn{ann, bob} {
		emit(t, c, domain.EventBoardsJoin, domain.RoomPayload{BoardID: "b1"})
		expect(t, c, "boards_join_success")
	}

	emit(t, ann, domain.EventTasksUpdate, map[string]any{"boardId": "b1", "taskId": "missing", "fields": map[string]string{"title": "x"}})
	f := expect(t, ann, "tasks_update_failure")
	if failureOf(t, f) != "task not found" {
		t.Fatalf("unexpected failure %s", f.Data)
	}

	// The connection stays usable and bob's next frame is the following success.
	emit(t, ann, domain.EventBoardsUpdate, map[string]any{"boardId": "b1", "fields": map[string]string{"title": "Plan"}})
	expect(t, ann, "boards_update_success")
	expect(t, bob, "boards_update_success")
}

func TestLeftClientStopsReceiving(t *testing.T) {
	env := newTestEnv(t)
	ann := env.dial(t, "ann-token")
	bob := env.dial(t, "bob-token")
	for _, c := range []*websocket.Conn{ann, bob} {
		emit(t, c, domain.EventBoardsJoin, domain.RoomPayload{BoardID: "b1"})
		expect(t, c, "boards_join_success")
	}
	emit(t, bob, domain.EventBoardsLeave, domain.RoomPayload{BoardID: "b1"})
	expect(t, bob, "boards_leave_success")

	emit(t, ann, domain.EventColumnsCreate, map[string]string{"boardId": "b1", "title": "Todo"})
	expect(t, ann, "columns_create_success")

	emit(t, bob, domain.EventBoardsJoin, domain.RoomPayload{BoardID: "b2"})
	expect(t, bob, "boards_join_success")
}

func TestDisconnectLeavesRooms(t *testing.T) {
	env := newTestEnv(t)
	ann := env.dial(t, "ann-token")
	emit(t, ann, domain.EventBoardsJoin, domain.RoomPayload{BoardID: "b1"})
	expect(t, ann, "boards_join_success")
	if len(env.hub.Members("b1")) != 1 {
		t.Fatalf("expected one member")
	}

	_ = ann.Close()
	waitFor(t, func() bool { return env.server.Registry().Len() == 0 }, "session was not removed")
	if n := len(env.hub.Members("b1")); n != 0 {
		t.Fatalf("expected empty room, got %d", n)
	}
}
