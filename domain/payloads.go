package domain

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// Payload is implemented by the typed body of every client-to-server event.
type Payload interface {
	// Room is the board whose room receives the outcome.
	Room() string
	Validate() error
}

// Mutation is a payload that changes persisted state and may be de-duplicated.
type Mutation interface {
	Payload
	RequestKey() string
}

// Meta holds fields shared by every mutation payload.
type Meta struct {
	BoardID   string `json:"boardId"`
	RequestID string `json:"requestId,omitempty"`
}

func (m Meta) Room() string       { return m.BoardID }
func (m Meta) RequestKey() string { return m.RequestID }

func (m Meta) validate() []string {
	if strings.TrimSpace(m.BoardID) == "" {
		return []string{"boardId is required"}
	}
	return nil
}

type JoinBoard struct {
	BoardID string `json:"boardId"`
}

func (p *JoinBoard) Room() string { return p.BoardID }

func (p *JoinBoard) Validate() error {
	if strings.TrimSpace(p.BoardID) == "" {
		return invalid("boardId is required")
	}
	return nil
}

type LeaveBoard struct {
	BoardID string `json:"boardId"`
}

func (p *LeaveBoard) Room() string { return p.BoardID }

func (p *LeaveBoard) Validate() error {
	if strings.TrimSpace(p.BoardID) == "" {
		return invalid("boardId is required")
	}
	return nil
}

type TitleFields struct {
	Title string `json:"title"`
}

type UpdateBoard struct {
	Meta
	Fields TitleFields `json:"fields"`
}

func (p *UpdateBoard) Validate() error {
	return collect(p.Meta.validate(), requireTitle(p.Fields.Title))
}

type DeleteBoard struct {
	Meta
}

func (p *DeleteBoard) Validate() error { return collect(p.Meta.validate()) }

type CreateColumn struct {
	Meta
	Title string `json:"title"`
}

func (p *CreateColumn) Validate() error {
	return collect(p.Meta.validate(), requireTitle(p.Title))
}

type UpdateColumn struct {
	Meta
	ColumnID string      `json:"columnId"`
	Fields   TitleFields `json:"fields"`
}

func (p *UpdateColumn) Validate() error {
	return collect(p.Meta.validate(), require("columnId", p.ColumnID), requireTitle(p.Fields.Title))
}

type DeleteColumn struct {
	Meta
	ColumnID string `json:"columnId"`
}

func (p *DeleteColumn) Validate() error {
	return collect(p.Meta.validate(), require("columnId", p.ColumnID))
}

type CreateTask struct {
	Meta
	ColumnID    string `json:"columnId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

func (p *CreateTask) Validate() error {
	return collect(p.Meta.validate(), require("columnId", p.ColumnID), requireTitle(p.Title))
}

type UpdateTask struct {
	Meta
	TaskID string      `json:"taskId"`
	Fields TaskChanges `json:"fields"`
}

func (p *UpdateTask) Validate() error {
	var msgs []string
	if p.Fields.Empty() {
		msgs = append(msgs, "fields must change title, description or columnId")
	}
	if p.Fields.Title != nil {
		msgs = append(msgs, requireTitle(*p.Fields.Title)...)
	}
	if p.Fields.ColumnID != nil {
		msgs = append(msgs, require("columnId", *p.Fields.ColumnID)...)
	}
	return collect(p.Meta.validate(), require("taskId", p.TaskID), msgs)
}

type DeleteTask struct {
	Meta
	TaskID string `json:"taskId"`
}

func (p *DeleteTask) Validate() error {
	return collect(p.Meta.validate(), require("taskId", p.TaskID))
}

var schemas = map[string]func() Payload{
	EventBoardsJoin:    func() Payload { return &JoinBoard{} },
	EventBoardsLeave:   func() Payload { return &LeaveBoard{} },
	EventBoardsUpdate:  func() Payload { return &UpdateBoard{} },
	EventBoardsDelete:  func() Payload { return &DeleteBoard{} },
	EventColumnsCreate: func() Payload { return &CreateColumn{} },
	EventColumnsUpdate: func() Payload { return &UpdateColumn{} },
	EventColumnsDelete: func() Payload { return &DeleteColumn{} },
	EventTasksCreate:   func() Payload { return &CreateTask{} },
	EventTasksUpdate:   func() Payload { return &UpdateTask{} },
	EventTasksDelete:   func() Payload { return &DeleteTask{} },
}

// DecodePayload decodes raw into the schema declared for event and validates it.
func DecodePayload(event string, raw []byte) (Payload, error) {
	newPayload, ok := schemas[event]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}
	p := newPayload()
	if len(raw) == 0 {
		return nil, invalid("payload is required")
	}
	if err := sonic.Unmarshal(raw, p); err != nil {
		return nil, invalid("malformed payload: " + err.Error())
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func require(field, value string) []string {
	if strings.TrimSpace(value) == "" {
		return []string{field + " is required"}
	}
	return nil
}

func requireTitle(title string) []string {
	return require("title", title)
}

func collect(groups ...[]string) error {
	var msgs []string
	for _, g := range groups {
		msgs = append(msgs, g...)
	}
	if len(msgs) == 0 {
		return nil
	}
	return invalid(msgs...)
}
