package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"prism-board/domain"
)

// maxBatch is the entity limit of a single table transaction.
const maxBatch = 100

// TableNames lists the tables used by the table backend.
type TableNames struct {
	Users   string
	Boards  string
	Columns string
	Tasks   string
}

// Tables is a Backend over Azure Table Storage.
type Tables struct {
	users   *aztables.Client
	boards  *aztables.Client
	columns *aztables.Client
	tasks   *aztables.Client
}

// New creates a table backed store from the given connection string.
func New(connStr string, names TableNames) (*Tables, error) {
	svc, err := newServiceClient(connStr)
	if err != nil {
		return nil, err
	}
	return &Tables{
		users:   svc.NewClient(names.Users),
		boards:  svc.NewClient(names.Boards),
		columns: svc.NewClient(names.Columns),
		tasks:   svc.NewClient(names.Tasks),
	}, nil
}

func newServiceClient(connStr string) (*aztables.ServiceClient, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	return aztables.NewServiceClientFromConnectionString(connStr, &opts)
}

func (s *Tables) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	ts := now()
	u.CreatedAt, u.UpdatedAt = ts, ts
	index := emailIndexEntity{
		Entity: Entity{PartitionKey: emailIndexPartition, RowKey: emailRowKey(u.Email)},
		UserID: u.ID,
	}
	if err := add(ctx, s.users, index); err != nil {
		if isConflict(err) {
			return domain.User{}, domain.ErrEmailTaken
		}
		return domain.User{}, err
	}
	if err := add(ctx, s.users, newUserEntity(u)); err != nil {
		if _, derr := s.users.DeleteEntity(ctx, index.PartitionKey, index.RowKey, nil); derr != nil {
			return domain.User{}, errors.Join(err, fmt.Errorf("rollback email index: %w", derr))
		}
		return domain.User{}, err
	}
	return u, nil
}

func (s *Tables) UserByID(ctx context.Context, id string) (*domain.User, error) {
	var ent userEntity
	ok, err := get(ctx, s.users, id, id, &ent)
	if err != nil || !ok {
		return nil, err
	}
	u := ent.toDomain()
	return &u, nil
}

func (s *Tables) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var index emailIndexEntity
	ok, err := get(ctx, s.users, emailIndexPartition, emailRowKey(email), &index)
	if err != nil || !ok {
		return nil, err
	}
	return s.UserByID(ctx, index.UserID)
}

func (s *Tables) CreateBoard(ctx context.Context, b domain.Board) (domain.Board, error) {
	ts := now()
	b.CreatedAt, b.UpdatedAt = ts, ts
	if err := add(ctx, s.boards, newBoardEntity(b)); err != nil {
		return domain.Board{}, err
	}
	return b, nil
}

func (s *Tables) Board(ctx context.Context, id string) (*domain.Board, error) {
	var ent boardEntity
	ok, err := get(ctx, s.boards, id, id, &ent)
	if err != nil || !ok {
		return nil, err
	}
	b := ent.toDomain()
	return &b, nil
}

func (s *Tables) BoardsByUser(ctx context.Context, userID string) ([]domain.Board, error) {
	ents, err := list[boardEntity](ctx, s.boards, "UserId eq "+odataString(userID))
	if err != nil {
		return nil, err
	}
	boards := make([]domain.Board, 0, len(ents))
	for _, e := range ents {
		boards = append(boards, e.toDomain())
	}
	sort.SliceStable(boards, func(i, j int) bool {
		return byCreation(boards[i].CreatedAt, boards[i].ID, boards[j].CreatedAt, boards[j].ID)
	})
	return boards, nil
}

type titleUpdate struct {
	Entity
	Title         string    `json:"Title"`
	UpdatedAt     time.Time `json:"UpdatedAt"`
	UpdatedAtType string    `json:"UpdatedAt@odata.type"`
}

func (s *Tables) UpdateBoardTitle(ctx context.Context, id, title string) (domain.Board, error) {
	upd := titleUpdate{Entity: Entity{PartitionKey: id, RowKey: id}, Title: title, UpdatedAt: now(), UpdatedAtType: edmDateTime}
	if err := merge(ctx, s.boards, upd); err != nil {
		return domain.Board{}, err
	}
	b, err := s.Board(ctx, id)
	if err != nil {
		return domain.Board{}, err
	}
	if b == nil {
		return domain.Board{}, domain.ErrNotFound
	}
	return *b, nil
}

func (s *Tables) DeleteBoard(ctx context.Context, id string) error {
	return remove(ctx, s.boards, id, id)
}

func (s *Tables) Columns(ctx context.Context, boardID string) ([]domain.Column, error) {
	ents, err := list[columnEntity](ctx, s.columns, "PartitionKey eq "+odataString(boardID))
	if err != nil {
		return nil, err
	}
	cols := make([]domain.Column, 0, len(ents))
	for _, e := range ents {
		cols = append(cols, e.toDomain())
	}
	sort.SliceStable(cols, func(i, j int) bool {
		return byCreation(cols[i].CreatedAt, cols[i].ID, cols[j].CreatedAt, cols[j].ID)
	})
	return cols, nil
}

func (s *Tables) CreateColumn(ctx context.Context, c domain.Column) (domain.Column, error) {
	if err := s.requireBoard(ctx, c.BoardID); err != nil {
		return domain.Column{}, err
	}
	ts := now()
	c.CreatedAt, c.UpdatedAt = ts, ts
	if err := add(ctx, s.columns, newColumnEntity(c)); err != nil {
		return domain.Column{}, err
	}
	return c, nil
}

func (s *Tables) UpdateColumnTitle(ctx context.Context, boardID, columnID, title string) (domain.Column, error) {
	upd := titleUpdate{Entity: Entity{PartitionKey: boardID, RowKey: columnID}, Title: title, UpdatedAt: now(), UpdatedAtType: edmDateTime}
	if err := merge(ctx, s.columns, upd); err != nil {
		return domain.Column{}, err
	}
	var ent columnEntity
	ok, err := get(ctx, s.columns, boardID, columnID, &ent)
	if err != nil {
		return domain.Column{}, err
	}
	if !ok {
		return domain.Column{}, domain.ErrNotFound
	}
	return ent.toDomain(), nil
}

func (s *Tables) DeleteColumn(ctx context.Context, boardID, columnID string) error {
	return remove(ctx, s.columns, boardID, columnID)
}

func (s *Tables) Tasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	ents, err := list[taskEntity](ctx, s.tasks, "PartitionKey eq "+odataString(boardID))
	if err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(ents))
	for _, e := range ents {
		tasks = append(tasks, e.toDomain())
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return byCreation(tasks[i].CreatedAt, tasks[i].ID, tasks[j].CreatedAt, tasks[j].ID)
	})
	return tasks, nil
}

func (s *Tables) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if err := s.requireBoard(ctx, t.BoardID); err != nil {
		return domain.Task{}, err
	}
	if err := s.requireColumn(ctx, t.BoardID, t.ColumnID); err != nil {
		return domain.Task{}, err
	}
	ts := now()
	t.CreatedAt, t.UpdatedAt = ts, ts
	if err := add(ctx, s.tasks, newTaskEntity(t)); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

type taskUpdate struct {
	Entity
	Title         *string   `json:"Title,omitempty"`
	Description   *string   `json:"Description,omitempty"`
	ColumnID      *string   `json:"ColumnId,omitempty"`
	UpdatedAt     time.Time `json:"UpdatedAt"`
	UpdatedAtType string    `json:"UpdatedAt@odata.type"`
}

func (s *Tables) UpdateTask(ctx context.Context, boardID, taskID string, changes domain.TaskChanges) (domain.Task, error) {
	if changes.ColumnID != nil {
		if err := s.requireColumn(ctx, boardID, *changes.ColumnID); err != nil {
			return domain.Task{}, err
		}
	}
	upd := taskUpdate{
		Entity:        Entity{PartitionKey: boardID, RowKey: taskID},
		Title:         changes.Title,
		Description:   changes.Description,
		ColumnID:      changes.ColumnID,
		UpdatedAt:     now(),
		UpdatedAtType: edmDateTime,
	}
	if err := merge(ctx, s.tasks, upd); err != nil {
		return domain.Task{}, err
	}
	var ent taskEntity
	ok, err := get(ctx, s.tasks, boardID, taskID, &ent)
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return ent.toDomain(), nil
}

func (s *Tables) DeleteTask(ctx context.Context, boardID, taskID string) error {
	return remove(ctx, s.tasks, boardID, taskID)
}

func (s *Tables) DeleteBoardContents(ctx context.Context, boardID string) (int, error) {
	total := 0
	for _, table := range []*aztables.Client{s.tasks, s.columns} {
		n, err := deletePartition(ctx, table, boardID)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Tables) requireBoard(ctx context.Context, boardID string) error {
	var ent boardEntity
	ok, err := get(ctx, s.boards, boardID, boardID, &ent)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrBoardNotFound
	}
	return nil
}

func (s *Tables) requireColumn(ctx context.Context, boardID, columnID string) error {
	var ent columnEntity
	ok, err := get(ctx, s.columns, boardID, columnID, &ent)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrColumnNotFound
	}
	return nil
}

func add(ctx context.Context, table *aztables.Client, ent any) error {
	payload, err := json.Marshal(ent)
	if err == nil {
		_, err = table.AddEntity(ctx, payload, nil)
	}
	return err
}

// get loads an entity into dst and reports false when it does not exist.
func get(ctx context.Context, table *aztables.Client, pk, rk string, dst any) (bool, error) {
	resp, err := table.GetEntity(ctx, pk, rk, nil)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(resp.Value, dst); err != nil {
		return false, err
	}
	return true, nil
}

func merge(ctx context.Context, table *aztables.Client, ent any) error {
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if isNotFound(err) {
		return domain.ErrNotFound
	}
	return err
}

func remove(ctx context.Context, table *aztables.Client, pk, rk string) error {
	_, err := table.DeleteEntity(ctx, pk, rk, nil)
	if isNotFound(err) {
		return domain.ErrNotFound
	}
	return err
}

func list[T any](ctx context.Context, table *aztables.Client, filter string) ([]T, error) {
	pager := table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out []T
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent T
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			out = append(out, ent)
		}
	}
	return out, nil
}

// deletePartition removes every entity of a partition in transactions of at
// most maxBatch entities.
func deletePartition(ctx context.Context, table *aztables.Client, pk string) (int, error) {
	keys, err := list[Entity](ctx, table, "PartitionKey eq "+odataString(pk))
	if err != nil {
		return 0, err
	}
	deleted := 0
	for start := 0; start < len(keys); start += maxBatch {
		end := min(start+maxBatch, len(keys))
		actions := make([]aztables.TransactionAction, 0, end-start)
		for _, k := range keys[start:end] {
			payload, err := json.Marshal(k)
			if err != nil {
				return deleted, err
			}
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: payload})
		}
		if _, err := table.SubmitTransaction(ctx, actions, nil); err != nil {
			return deleted, fmt.Errorf("delete partition %s: %w", pk, err)
		}
		deleted += len(actions)
	}
	return deleted, nil
}

func byCreation(ai time.Time, aid string, bi time.Time, bid string) bool {
	if !ai.Equal(bi) {
		return ai.Before(bi)
	}
	return aid < bid
}
