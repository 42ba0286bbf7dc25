package domain

const (
	EventBoardsJoin   = "boards_join"
	EventBoardsLeave  = "boards_leave"
	EventBoardsUpdate = "boards_update"
	EventBoardsDelete = "boards_delete"

	EventColumnsCreate = "columns_create"
	EventColumnsUpdate = "columns_update"
	EventColumnsDelete = "columns_delete"

	EventTasksCreate = "tasks_create"
	EventTasksUpdate = "tasks_update"
	EventTasksDelete = "tasks_delete"
)

const (
	successSuffix = "_success"
	failureSuffix = "_failure"
)

// Success returns the name of the event the server emits when event succeeds.
func Success(event string) string { return event + successSuffix }

// Failure returns the name of the event the server emits to the sender when event fails.
func Failure(event string) string { return event + failureSuffix }

// Events lists every client-to-server event in a stable order.
var Events = []string{
	EventBoardsJoin,
	EventBoardsLeave,
	EventBoardsUpdate,
	EventBoardsDelete,
	EventColumnsCreate,
	EventColumnsUpdate,
	EventColumnsDelete,
	EventTasksCreate,
	EventTasksUpdate,
	EventTasksDelete,
}

// FailurePayload is the body of every *_failure event.
type FailurePayload struct {
	Message string `json:"message"`
}

// RoomPayload is the body of boards_join_success and boards_leave_success.
type RoomPayload struct {
	BoardID string `json:"boardId"`
}
