// Package model defines the shared data types of the coordination broker.
package model

import "time"

// AgentStatus is the lifecycle status of a registered agent.
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentCompleted AgentStatus = "completed"
)

// Agent is a registered participant in a project.
type Agent struct {
	SessionName string      `json:"session_name"`
	TaskID      string      `json:"task_id"`
	Branch      string      `json:"branch"`
	Description string      `json:"description"`
	Status      AgentStatus `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
}

// TodoStatus is the lifecycle status of a todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
	TodoBlocked    TodoStatus = "blocked"
)

// Todo is a single self-reported unit of work for an agent.
type Todo struct {
	ID          int        `json:"id"`
	Text        string     `json:"text"`
	Status      TodoStatus `json:"status"`
	Priority    int        `json:"priority"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TodoSummary counts an agent's todos by status.
type TodoSummary struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Blocked    int `json:"blocked,omitempty"`
}

// FileLock records which session currently holds a file path.
type FileLock struct {
	SessionName string    `json:"session_name"`
	LockedAt    time.Time `json:"locked_at"`
	ChangeType  string    `json:"change_type"`
	Description string    `json:"description"`
}

// InterfaceDef is a shared type/interface contract registered by an agent.
type InterfaceDef struct {
	Definition   string    `json:"definition"`
	RegisteredBy string    `json:"registered_by"`
	FilePath     string    `json:"file_path,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// MessageType discriminates the kind of envelope carried in a queue.
type MessageType string

const (
	MessageQuery     MessageType = "query"
	MessageResponse  MessageType = "response"
	MessageBroadcast MessageType = "broadcast"
	MessageSystem    MessageType = "system"
)

// Envelope is a single message queued for a recipient agent.
type Envelope struct {
	ID               string      `json:"id"`
	From             string      `json:"from"`
	Type             MessageType `json:"type"`
	QueryType        string      `json:"query_type,omitempty"`
	MessageType      string      `json:"message_type,omitempty"`
	Content          string      `json:"content"`
	Timestamp        time.Time   `json:"timestamp"`
	RequiresResponse bool        `json:"requires_response,omitempty"`
	InReplyTo        string      `json:"in_reply_to,omitempty"`
}

// PendingQuery correlates a synchronous query_agent call to its eventual
// respond_to_query answer.
type PendingQuery struct {
	MessageID   string    `json:"message_id"`
	FromSession string    `json:"from_session"`
	ToSession   string    `json:"to_session"`
	CreatedAt   time.Time `json:"created_at"`
	TimeoutAt   time.Time `json:"timeout_at"`
}

// ChangeEntry is one entry in the recent-change log.
type ChangeEntry struct {
	SessionName string    `json:"session_name"`
	FilePath    string    `json:"file_path"`
	ChangeType  string    `json:"change_type"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	System      bool      `json:"system,omitempty"`
}

// Completion is the durable record written by mark_task_completed.
type Completion struct {
	TaskID      string    `json:"task_id"`
	SessionName string    `json:"session_name"`
	CompletedAt time.Time `json:"completed_at"`
}
