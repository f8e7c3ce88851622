package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gastown/fleetbroker/internal/model"
	"github.com/gastown/fleetbroker/internal/store"
)

// loadTodos reads and decodes every todo an agent has queued, in
// insertion order.
func (b *Broker) loadTodos(ctx context.Context, projectID, session string) ([]model.Todo, error) {
	raw, err := b.store.ListRange(ctx, store.TodosKey(projectID, session), 0, -1)
	if err != nil {
		return nil, err
	}
	todos := make([]model.Todo, 0, len(raw))
	for _, r := range raw {
		var t model.Todo
		if err := json.Unmarshal(r, &t); err != nil {
			b.log.Warn("dropping corrupt todo", "session", session, "error", err)
			continue
		}
		todos = append(todos, t)
	}
	return todos, nil
}

func (b *Broker) saveTodos(ctx context.Context, projectID, session string, todos []model.Todo) error {
	if err := b.store.ListDelete(ctx, store.TodosKey(projectID, session)); err != nil {
		return err
	}
	for _, t := range todos {
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if err := b.store.ListAppend(ctx, store.TodosKey(projectID, session), data); err != nil {
			return err
		}
	}
	return nil
}

func summarizeTodos(todos []model.Todo) model.TodoSummary {
	s := model.TodoSummary{Total: len(todos)}
	for _, t := range todos {
		switch t.Status {
		case model.TodoCompleted:
			s.Completed++
		case model.TodoPending:
			s.Pending++
		case model.TodoInProgress:
			s.InProgress++
		case model.TodoBlocked:
			s.Blocked++
		}
	}
	return s
}

// addTodo implements spec §4.4 add_todo: appends a todo with a monotonic,
// per-session ID handed out by a dedicated counter key so concurrent
// add_todo calls from the same session never collide.
func (b *Broker) addTodo(ctx context.Context, args Args) (Result, error) {
	projectID, _ := args.str("project_id")
	session, _ := args.str("session_name")
	text, _ := args.str("todo_item")
	priority := args.intDefault("priority", 0)

	nextID, err := b.nextTodoID(ctx, projectID, session)
	if err != nil {
		return nil, err
	}

	todo := model.Todo{
		ID:        nextID,
		Text:      text,
		Status:    model.TodoPending,
		Priority:  priority,
		CreatedAt: b.store.Now(),
	}
	data, err := json.Marshal(todo)
	if err != nil {
		return nil, err
	}
	if err := b.store.ListAppend(ctx, store.TodosKey(projectID, session), data); err != nil {
		return nil, err
	}

	return Result{"status": "ok", "todo": todo}, nil
}

// nextTodoID hands out a monotonically increasing per-session todo ID
// backed by a counter string key (read-increment-write; todos are mutated
// only by their owning session, so this key sees no cross-session
// contention).
func (b *Broker) nextTodoID(ctx context.Context, projectID, session string) (int, error) {
	key := store.TodoCounterKey(projectID, session)
	raw, ok, err := b.store.StringGet(ctx, key)
	if err != nil {
		return 0, err
	}
	n := 0
	if ok {
		fmt.Sscanf(string(raw), "%d", &n)
	}
	n++
	if err := b.store.StringSetTTL(ctx, key, []byte(fmt.Sprintf("%d", n)), 0); err != nil {
		return 0, err
	}
	return n, nil
}

// updateTodo implements spec §4.4 update_todo.
func (b *Broker) updateTodo(ctx context.Context, args Args) (Result, error) {
	projectID, _ := args.str("project_id")
	session, _ := args.str("session_name")
	todoID := args.intDefault("todo_id", -1)
	status, _ := args.str("status")

	todos, err := b.loadTodos(ctx, projectID, session)
	if err != nil {
		return nil, err
	}
	found := false
	for i := range todos {
		if todos[i].ID != todoID {
			continue
		}
		found = true
		todos[i].Status = model.TodoStatus(status)
		if model.TodoStatus(status) == model.TodoCompleted {
			now := b.store.Now()
			todos[i].CompletedAt = &now
		}
		break
	}
	if !found {
		return errResult("error", fmt.Sprintf("todo %d not found", todoID)), nil
	}
	if err := b.saveTodos(ctx, projectID, session, todos); err != nil {
		return nil, err
	}
	return Result{"status": "ok"}, nil
}

// getMyTodos implements spec §4.4 get_my_todos.
func (b *Broker) getMyTodos(ctx context.Context, args Args) (Result, error) {
	projectID, _ := args.str("project_id")
	session, _ := args.str("session_name")
	todos, err := b.loadTodos(ctx, projectID, session)
	if err != nil {
		return nil, err
	}
	return Result{"status": "ok", "todos": todos, "summary": summarizeTodos(todos)}, nil
}

// getAllTodos implements spec §4.4 get_all_todos: every active agent's
// todos, keyed by session_name.
func (b *Broker) getAllTodos(ctx context.Context, args Args) (Result, error) {
	projectID, _ := args.str("project_id")
	agents, err := b.listAgentRecords(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]model.Todo, len(agents))
	for _, a := range agents {
		todos, err := b.loadTodos(ctx, projectID, a.SessionName)
		if err != nil {
			return nil, err
		}
		out[a.SessionName] = todos
	}
	return Result{"status": "ok", "todos": out}, nil
}
