// Package broker implements the tool dispatcher and the ~17 coordination
// handlers described in spec §4.1 and §4.3: registration, todos,
// messaging, file locks, the interface registry, and task completion.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gastown/fleetbroker/internal/audit"
	"github.com/gastown/fleetbroker/internal/metrics"
	"github.com/gastown/fleetbroker/internal/store"
)

// Args is the argument bag passed to a tool handler. Transport layers
// decode JSON request arguments into this map; values are strings unless
// the tool's contract says otherwise (spec §6).
type Args map[string]any

func (a Args) str(key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func (a Args) intDefault(key string, def int) int {
	v, ok := a[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		var out int
		if _, err := fmt.Sscanf(n, "%d", &out); err == nil {
			return out
		}
	}
	return def
}

func (a Args) boolDefault(key string, def bool) bool {
	v, ok := a[key]
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true" || b == "1"
	}
	return def
}

// Result is the JSON-serializable object every tool handler returns.
type Result map[string]any

func errResult(tag, message string) Result {
	return Result{"status": tag, "error": message}
}

// Handler is a single tool's business logic.
type Handler func(ctx context.Context, args Args) (Result, error)

// ToolSpec describes one enumerated tool: its required arguments (spec
// §4.1: "rejects calls with missing required arguments") and its handler.
type ToolSpec struct {
	Name     string
	Required []string
	Handler  Handler
}

// Config carries the tunables from spec §6's environment variables.
type Config struct {
	HeartbeatTimeout time.Duration
	MaxQueueLen      int
	RecentChangesCap int
	StatusDir        string
}

// DefaultConfig matches the literal defaults pinned in spec.md.
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout: 90 * time.Second,
		MaxQueueLen:      1000,
		RecentChangesCap: 100,
		StatusDir:        "/tmp/splitmind-status",
	}
}

// Broker holds every coordination handler's shared dependencies and is the
// tool dispatcher described in spec §4.1.
type Broker struct {
	store   store.Store
	cfg     Config
	audit   *audit.Archive // may be nil: audit is additive, never required
	metrics *metrics.Metrics
	log     *slog.Logger

	tools map[string]ToolSpec

	pendingMu sync.Mutex
	pending   map[string]chan string // message_id -> response channel, same-process fast path
}

// New constructs a Broker and registers every tool handler.
func New(st store.Store, cfg Config, ar *audit.Archive, mt *metrics.Metrics, log *slog.Logger) *Broker {
	if log == nil {
		log = slog.Default()
	}
	b := &Broker{
		store:   st,
		cfg:     cfg,
		audit:   ar,
		metrics: mt,
		log:     log,
		pending: make(map[string]chan string),
	}
	b.registerTools()
	return b
}

// ListTools returns the enumerated tool definitions (spec §6: "list_tools
// returns the enumerated tool definitions with argument schemas").
func (b *Broker) ListTools() []ToolSpec {
	out := make([]ToolSpec, 0, len(b.tools))
	for _, t := range b.tools {
		out = append(out, t)
	}
	return out
}

// Call dispatches one (tool_name, arguments) invocation (spec §4.1).
func (b *Broker) Call(ctx context.Context, name string, args Args) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("tool handler panicked", "tool", name, "panic", r)
			result = errResult("error", "internal error")
		}
	}()

	spec, ok := b.tools[name]
	if !ok {
		return errResult("error", fmt.Sprintf("unknown tool %q", name))
	}

	for _, req := range spec.Required {
		v, present := args[req]
		if s, isStr := v.(string); !present || v == nil || (isStr && s == "") {
			return errResult("error", fmt.Sprintf("missing arg %s", req))
		}
	}

	if b.metrics != nil {
		b.metrics.ToolCalls.WithLabelValues(name).Inc()
	}

	res, err := spec.Handler(ctx, args)
	if err != nil {
		b.log.Error("tool handler failed", "tool", name, "error", err)
		return errResult("error", err.Error())
	}

	// Dispatcher-level side effect: any state-mutating call whose
	// arguments include a known session_name refreshes that agent's
	// heartbeat, keeping live agents alive under burst activity that
	// skips explicit heartbeats (spec §4.1).
	if name != "heartbeat" {
		if session, ok := args.str("session_name"); ok {
			if projectID, ok := args.str("project_id"); ok {
				_, _ = b.store.Refresh(ctx, store.HeartbeatKey(projectID, session), b.cfg.HeartbeatTimeout)
			}
		}
	}

	return res
}

func (b *Broker) registerTools() {
	b.tools = map[string]ToolSpec{
		"register_agent":      {Name: "register_agent", Required: []string{"project_id", "session_name", "task_id", "branch", "description"}, Handler: b.registerAgent},
		"heartbeat":            {Name: "heartbeat", Required: []string{"project_id", "session_name"}, Handler: b.heartbeat},
		"unregister_agent":     {Name: "unregister_agent", Required: []string{"project_id", "session_name"}, Handler: b.unregisterAgent},
		"list_active_agents":   {Name: "list_active_agents", Required: []string{"project_id"}, Handler: b.listActiveAgents},
		"mark_task_completed":  {Name: "mark_task_completed", Required: []string{"project_id", "session_name", "task_id"}, Handler: b.markTaskCompleted},
		"add_todo":             {Name: "add_todo", Required: []string{"project_id", "session_name", "todo_item"}, Handler: b.addTodo},
		"update_todo":          {Name: "update_todo", Required: []string{"project_id", "session_name", "todo_id", "status"}, Handler: b.updateTodo},
		"get_my_todos":         {Name: "get_my_todos", Required: []string{"project_id", "session_name"}, Handler: b.getMyTodos},
		"get_all_todos":        {Name: "get_all_todos", Required: []string{"project_id"}, Handler: b.getAllTodos},
		"query_agent":          {Name: "query_agent", Required: []string{"project_id", "from_session", "to_session", "query_type", "query"}, Handler: b.queryAgent},
		"check_messages":       {Name: "check_messages", Required: []string{"project_id", "session_name"}, Handler: b.checkMessages},
		"respond_to_query":     {Name: "respond_to_query", Required: []string{"project_id", "from_session", "to_session", "message_id", "response"}, Handler: b.respondToQuery},
		"broadcast_message":    {Name: "broadcast_message", Required: []string{"project_id", "session_name", "message_type", "content"}, Handler: b.broadcastMessage},
		"announce_file_change": {Name: "announce_file_change", Required: []string{"project_id", "session_name", "file_path", "change_type", "description"}, Handler: b.announceFileChange},
		"release_file_lock":   {Name: "release_file_lock", Required: []string{"project_id", "session_name", "file_path"}, Handler: b.releaseFileLock},
		"get_recent_changes":   {Name: "get_recent_changes", Required: []string{"project_id"}, Handler: b.getRecentChanges},
		"register_interface":   {Name: "register_interface", Required: []string{"project_id", "session_name", "interface_name", "definition"}, Handler: b.registerInterface},
		"query_interface":      {Name: "query_interface", Required: []string{"project_id", "interface_name"}, Handler: b.queryInterface},
		"list_interfaces":      {Name: "list_interfaces", Required: []string{"project_id"}, Handler: b.listInterfaces},
	}
}
