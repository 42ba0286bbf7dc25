package board

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"prism-board/client"
	"prism-board/domain"
)

// SnapshotSource fetches the initial state of a board, typically a *client.API.
type SnapshotSource interface {
	Board(ctx context.Context, id string) (domain.Board, error)
	Columns(ctx context.Context, boardID string) ([]domain.Column, error)
	Tasks(ctx context.Context, boardID string) ([]domain.Task, error)
}

// Controller drives the lifecycle of one open board: it joins the room,
// feeds realtime updates into the Store and loads the HTTP snapshot.
type Controller struct {
	BoardID string
	Store   *Store

	// OnBoardDeleted runs in its own goroutine when the open board is deleted
	// by anyone. It may call Close.
	OnBoardDeleted func(boardID string)
	// OnFailure runs in its own goroutine for every *_failure event the server sends.
	OnFailure func(event, message string)

	conn   *client.Client
	source SnapshotSource
	log    *log.Logger

	mu    sync.Mutex
	scope *Scope
}

func NewController(conn *client.Client, source SnapshotSource, boardID string, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Controller{
		BoardID: boardID,
		Store:   NewStore(conn),
		conn:    conn,
		source:  source,
		log:     logger,
	}
}

// Open subscribes to the board's events, joins its room and loads the
// snapshot. The fetch uses ctx and is not cancelled by Close.
func (c *Controller) Open(ctx context.Context) error {
	scope := NewScope()
	c.mu.Lock()
	if c.scope != nil && !c.scope.Closed() {
		c.mu.Unlock()
		return errors.New("board view is already open")
	}
	c.scope = scope
	c.mu.Unlock()

	if err := c.listen(scope); err != nil {
		scope.Close()
		return err
	}
	if err := c.join(ctx); err != nil {
		scope.Close()
		return err
	}
	if err := c.load(ctx); err != nil {
		scope.Close()
		return err
	}
	return nil
}

// join emits boards_join and waits for the server to confirm membership.
func (c *Controller) join(ctx context.Context) error {
	acks, err := client.ListenAs[domain.RoomPayload](c.conn, domain.Success(domain.EventBoardsJoin))
	if err != nil {
		return err
	}
	defer acks.Close()
	if err := c.conn.Emit(domain.EventBoardsJoin, domain.RoomPayload{BoardID: c.BoardID}); err != nil {
		return err
	}
	for {
		select {
		case ack, ok := <-acks.C():
			if !ok {
				return client.ErrNotConnected
			}
			if ack.BoardID == c.BoardID {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Controller) load(ctx context.Context) error {
	b, err := c.source.Board(ctx, c.BoardID)
	if err != nil {
		return fmt.Errorf("load board: %w", err)
	}
	cols, err := c.source.Columns(ctx, c.BoardID)
	if err != nil {
		return fmt.Errorf("load columns: %w", err)
	}
	tasks, err := c.source.Tasks(ctx, c.BoardID)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	c.Store.SetBoard(&b)
	c.Store.SetColumns(cols)
	c.Store.SetTasks(tasks)
	return nil
}

func (c *Controller) listen(s *Scope) error {
	mine := func(boardID string) bool { return boardID == c.BoardID }
	subs := []func() error{
		func() error {
			return Listen(s, c.conn, domain.Success(domain.EventBoardsUpdate), func(b domain.Board) {
				if mine(b.ID) {
					if err := c.Store.UpdateBoard(b); err != nil {
						c.log.WithError(err).Debug("board update before snapshot")
					}
				}
			})
		},
		func() error {
			return Listen(s, c.conn, domain.Success(domain.EventBoardsDelete), func(id string) {
				if mine(id) {
					c.boardDeleted()
				}
			})
		},
		func() error {
			return Listen(s, c.conn, domain.Success(domain.EventColumnsCreate), func(col domain.Column) {
				if mine(col.BoardID) {
					c.Store.AddColumn(col)
				}
			})
		},
		func() error {
			return Listen(s, c.conn, domain.Success(domain.EventColumnsUpdate), func(col domain.Column) {
				if mine(col.BoardID) {
					c.Store.UpdateColumn(col)
				}
			})
		},
		func() error {
			return Listen(s, c.conn, domain.Success(domain.EventColumnsDelete), c.Store.DeleteColumn)
		},
		func() error {
			return Listen(s, c.conn, domain.Success(domain.EventTasksCreate), func(t domain.Task) {
				if mine(t.BoardID) {
					c.Store.AddTask(t)
				}
			})
		},
		func() error {
			return Listen(s, c.conn, domain.Success(domain.EventTasksUpdate), func(t domain.Task) {
				if mine(t.BoardID) {
					c.Store.UpdateTask(t)
				}
			})
		},
		func() error {
			return Listen(s, c.conn, domain.Success(domain.EventTasksDelete), c.Store.DeleteTask)
		},
	}
	for _, event := range domain.Events {
		subs = append(subs, func() error {
			return Listen(s, c.conn, domain.Failure(event), func(p domain.FailurePayload) {
				c.log.WithFields(log.Fields{"event": event, "board": c.BoardID}).Warn(p.Message)
				if c.OnFailure != nil {
					go c.OnFailure(event, p.Message)
				}
			})
		})
	}
	for _, sub := range subs {
		if err := sub(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) boardDeleted() {
	c.Store.SetBoard(nil)
	if c.OnBoardDeleted != nil {
		go c.OnBoardDeleted(c.BoardID)
	}
}

// View composes the store into snapshots for as long as the board is open.
func (c *Controller) View(emit func(Snapshot)) *View {
	v := NewView(c.Store, emit)
	c.mu.Lock()
	scope := c.scope
	c.mu.Unlock()
	if scope != nil {
		scope.Add(v)
	}
	return v
}

// NavigationStart leaves the board when target is outside /boards/<id>.
// It reports whether the board was left.
func (c *Controller) NavigationStart(target string) (bool, error) {
	path := target
	if u, err := url.Parse(target); err == nil {
		path = u.Path
	}
	prefix := "/boards/" + c.BoardID
	if path == prefix || strings.HasPrefix(path, prefix+"/") {
		return false, nil
	}
	err := c.Store.LeaveBoard(c.BoardID)
	c.Close()
	return true, err
}

// Close releases the realtime subscriptions of the view.
func (c *Controller) Close() {
	c.mu.Lock()
	scope := c.scope
	c.mu.Unlock()
	if scope != nil {
		scope.Close()
	}
}
