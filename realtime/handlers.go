package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"prism-board/domain"
	"prism-board/telemetry"
)

const (
	commandEventDomain    = "realtime"
	defaultCommandTimeout = 30 * time.Second

	msgUnauthorized = "User is not authorized"
	msgInternal     = "Something went wrong"
)

var errSessionUnauthorized = errors.New("session is not authenticated")

// Store is the persistence used by the command handlers.
type Store interface {
	Board(ctx context.Context, id string) (*domain.Board, error)
	UpdateBoardTitle(ctx context.Context, id, title string) (domain.Board, error)
	DeleteBoard(ctx context.Context, id string) error
	CreateColumn(ctx context.Context, c domain.Column) (domain.Column, error)
	UpdateColumnTitle(ctx context.Context, boardID, columnID, title string) (domain.Column, error)
	DeleteColumn(ctx context.Context, boardID, columnID string) error
	CreateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, boardID, taskID string, changes domain.TaskChanges) (domain.Task, error)
	DeleteTask(ctx context.Context, boardID, taskID string) error
}

// CleanupEnqueuer schedules removal of a deleted board's columns and tasks.
type CleanupEnqueuer interface {
	EnqueueBoardCleanup(ctx context.Context, boardID string) error
}

// Commands decodes client frames and runs the matching handler.
type Commands struct {
	store   Store
	hub     *Hub
	out     Broadcaster
	deduper Deduper
	cleanup CleanupEnqueuer
	log     *log.Logger
	timeout time.Duration
}

// CommandOption customises Commands.
type CommandOption func(*Commands)

// WithBroadcaster replaces the hub as the room fan-out, e.g. with a Relay.
func WithBroadcaster(b Broadcaster) CommandOption {
	return func(c *Commands) { c.out = b }
}

func WithDeduper(d Deduper) CommandOption {
	return func(c *Commands) { c.deduper = d }
}

func WithCleanup(q CleanupEnqueuer) CommandOption {
	return func(c *Commands) { c.cleanup = q }
}

func WithCommandTimeout(d time.Duration) CommandOption {
	return func(c *Commands) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewCommands(store Store, hub *Hub, logger *log.Logger, opts ...CommandOption) *Commands {
	if logger == nil {
		panic("Logger is not initialized")
	}
	c := &Commands{store: store, hub: hub, out: hub, log: logger, timeout: defaultCommandTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dispatch handles one raw frame from s. It never closes the session.
func (c *Commands) Dispatch(ctx context.Context, s *Session, raw []byte) {
	frame, err := domain.DecodeFrame(raw)
	if err != nil {
		c.log.WithError(err).WithField("session", s.ID).Warn("dropping malformed frame")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	op, ctx := telemetry.Start(ctx, c.log, "realtime."+frame.Event, frame.Event, commandEventDomain,
		attribute.String("prism.session_id", s.ID),
		attribute.String("prism.user_id", s.UserID))
	status, err := c.handle(ctx, s, frame, op)
	op.End(status, err)
}

func (c *Commands) handle(ctx context.Context, s *Session, frame domain.Frame, op *telemetry.Operation) (int, error) {
	if !s.Authenticated() {
		op.SetErrorStage("auth")
		c.fail(s, frame.Event, msgUnauthorized)
		return http.StatusUnauthorized, errSessionUnauthorized
	}
	payload, err := domain.DecodePayload(frame.Event, frame.Data)
	if err != nil {
		op.SetErrorStage("decode")
		c.fail(s, frame.Event, failureMessage(frame.Event, err))
		return statusForError(err), err
	}
	room := payload.Room()
	op.Set(attribute.String("prism.board_id", room))

	switch p := payload.(type) {
	case *domain.JoinBoard:
		return c.join(ctx, s, p)
	case *domain.LeaveBoard:
		c.hub.Leave(s, p.BoardID)
		c.reply(s, domain.Success(domain.EventBoardsLeave), domain.RoomPayload{BoardID: p.BoardID})
		return http.StatusOK, nil
	}

	var requestID string
	if m, ok := payload.(domain.Mutation); ok {
		requestID = m.RequestKey()
	}
	if requestID != "" && c.deduper != nil {
		added, derr := c.deduper.Add(ctx, s.UserID, requestID)
		switch {
		case derr != nil:
			c.log.WithError(derr).WithField("requestId", requestID).Warn("dedupe unavailable, applying mutation")
			requestID = ""
		case !added:
			op.Set(attribute.Bool("prism.duplicate", true))
			c.log.WithFields(log.Fields{"event": frame.Event, "requestId": requestID, "user": s.UserID}).
				Debug("skipping duplicate mutation")
			return http.StatusOK, nil
		}
	}

	result, err := c.apply(ctx, s, payload)
	if err != nil {
		if requestID != "" {
			if rerr := c.deduper.Remove(context.WithoutCancel(ctx), s.UserID, requestID); rerr != nil {
				c.log.WithError(rerr).WithField("requestId", requestID).Error("dedupe rollback failed")
			}
		}
		op.SetErrorStage("storage")
		if statusForError(err) == http.StatusInternalServerError {
			c.log.WithError(err).WithFields(log.Fields{"event": frame.Event, "board": room}).Error("command failed")
		}
		c.fail(s, frame.Event, failureMessage(frame.Event, err))
		return statusForError(err), err
	}

	msg, err := domain.EncodeFrame(domain.Success(frame.Event), result)
	if err != nil {
		op.SetErrorStage("encode")
		return http.StatusInternalServerError, err
	}
	delivered := c.out.Broadcast(ctx, room, msg)
	if !c.hub.IsMember(s, room) {
		s.Send(msg)
	}
	op.Set(attribute.Int("prism.delivered", delivered))

	if frame.Event == domain.EventBoardsDelete && c.cleanup != nil {
		if err := c.cleanup.EnqueueBoardCleanup(ctx, room); err != nil {
			c.log.WithError(err).WithField("board", room).Error("enqueue board cleanup")
		}
	}
	return http.StatusOK, nil
}

func (c *Commands) join(ctx context.Context, s *Session, p *domain.JoinBoard) (int, error) {
	c.hub.Join(s, p.BoardID)
	if c.log.IsLevelEnabled(log.DebugLevel) {
		if b, err := c.store.Board(ctx, p.BoardID); err == nil && b != nil && b.UserID != s.UserID {
			c.log.WithFields(log.Fields{"board": p.BoardID, "user": s.UserID, "owner": b.UserID}).
				Debug("user joined a board they do not own")
		}
	}
	c.reply(s, domain.Success(domain.EventBoardsJoin), domain.RoomPayload{BoardID: p.BoardID})
	return http.StatusOK, nil
}

// apply runs the single persistence operation of a mutation and returns the
// payload of its success event.
func (c *Commands) apply(ctx context.Context, s *Session, payload domain.Payload) (any, error) {
	switch p := payload.(type) {
	case *domain.UpdateBoard:
		return c.store.UpdateBoardTitle(ctx, p.BoardID, strings.TrimSpace(p.Fields.Title))
	case *domain.DeleteBoard:
		return p.BoardID, c.store.DeleteBoard(ctx, p.BoardID)
	case *domain.CreateColumn:
		return c.store.CreateColumn(ctx, domain.Column{
			ID:      uuid.NewString(),
			Title:   strings.TrimSpace(p.Title),
			BoardID: p.BoardID,
			UserID:  s.UserID,
		})
	case *domain.UpdateColumn:
		return c.store.UpdateColumnTitle(ctx, p.BoardID, p.ColumnID, strings.TrimSpace(p.Fields.Title))
	case *domain.DeleteColumn:
		return p.ColumnID, c.store.DeleteColumn(ctx, p.BoardID, p.ColumnID)
	case *domain.CreateTask:
		return c.store.CreateTask(ctx, domain.Task{
			ID:          uuid.NewString(),
			Title:       strings.TrimSpace(p.Title),
			Description: p.Description,
			BoardID:     p.BoardID,
			ColumnID:    p.ColumnID,
			UserID:      s.UserID,
		})
	case *domain.UpdateTask:
		changes := p.Fields
		if changes.Title != nil {
			title := strings.TrimSpace(*changes.Title)
			changes.Title = &title
		}
		return c.store.UpdateTask(ctx, p.BoardID, p.TaskID, changes)
	case *domain.DeleteTask:
		return p.TaskID, c.store.DeleteTask(ctx, p.BoardID, p.TaskID)
	}
	return nil, domain.ErrUnknownEvent
}

func (c *Commands) reply(s *Session, event string, data any) {
	msg, err := domain.EncodeFrame(event, data)
	if err != nil {
		c.log.WithError(err).WithField("event", event).Error("encode reply")
		return
	}
	s.Send(msg)
}

func (c *Commands) fail(s *Session, event, message string) {
	c.reply(s, domain.Failure(event), domain.FailurePayload{Message: message})
}

func failureMessage(event string, err error) string {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, domain.ErrUnknownEvent):
		return "unknown event: " + event
	case errors.Is(err, domain.ErrBoardNotFound):
		return "board not found"
	case errors.Is(err, domain.ErrColumnNotFound):
		return "column not found"
	case errors.Is(err, domain.ErrNotFound):
		return entityOf(event) + " not found"
	}
	return msgInternal
}

func entityOf(event string) string {
	switch {
	case strings.HasPrefix(event, "boards_"):
		return "board"
	case strings.HasPrefix(event, "columns_"):
		return "column"
	case strings.HasPrefix(event, "tasks_"):
		return "task"
	}
	return "entity"
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrUnknownEvent):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrBoardNotFound), errors.Is(err, domain.ErrColumnNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
