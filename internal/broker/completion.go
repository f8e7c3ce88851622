package broker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gastown/fleetbroker/internal/model"
	"github.com/gastown/fleetbroker/internal/store"
)

// markTaskCompleted implements spec §4.3 mark_task_completed: records a
// durable completion, flips the agent's status, writes a best-effort
// status-directory marker file, and broadcasts completion to the project.
func (b *Broker) markTaskCompleted(ctx context.Context, args Args) (Result, error) {
	projectID, _ := args.str("project_id")
	session, _ := args.str("session_name")
	taskID, _ := args.str("task_id")
	summary, _ := args.str("summary")

	agent, err := b.getAgent(ctx, projectID, session)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return errResult("error", fmt.Sprintf("%s is not registered", session)), nil
	}

	now := b.store.Now()
	agent.Status = model.AgentCompleted
	if err := b.putAgent(ctx, projectID, *agent); err != nil {
		return nil, err
	}

	completion := model.Completion{TaskID: taskID, SessionName: session, CompletedAt: now}
	if b.audit != nil {
		if err := b.audit.RecordCompletion(ctx, projectID, completion); err != nil {
			b.log.Warn("audit record completion failed", "error", err)
		}
	}
	if err := b.store.StringSetTTL(ctx, store.CompletionKey(projectID, taskID), []byte(completion.CompletedAt.Format(timeLayout)), 0); err != nil {
		b.log.Warn("persist completion marker failed", "error", err)
	}

	b.writeStatusFile(session, taskID, summary)

	b.recordChange(ctx, projectID, model.ChangeEntry{
		SessionName: session,
		ChangeType:  "task_completed",
		Description: summary,
		Timestamp:   now,
		System:      true,
	})

	env := model.Envelope{
		ID:          newMessageID(session, now),
		From:        session,
		Type:        model.MessageBroadcast,
		MessageType: "task_completed",
		Content:     fmt.Sprintf("%s completed task %s: %s", session, taskID, summary),
		Timestamp:   now,
	}
	if _, err := b.broadcastToOthers(ctx, projectID, session, env); err != nil {
		b.log.Error("failed to broadcast completion", "session", session, "error", err)
	}

	return Result{"status": "ok", "message": fmt.Sprintf("task %s marked completed", taskID)}, nil
}

// writeStatusFile drops a best-effort marker under StatusDir so external
// tooling watching the filesystem can observe completion without polling
// the broker. Failures are logged only — this is a convenience side
// channel, never load-bearing (spec §6 STATUS_DIR).
func (b *Broker) writeStatusFile(session, taskID, summary string) {
	if b.cfg.StatusDir == "" {
		return
	}
	if err := os.MkdirAll(b.cfg.StatusDir, 0o755); err != nil {
		b.log.Warn("status dir create failed", "dir", b.cfg.StatusDir, "error", err)
		return
	}
	path := filepath.Join(b.cfg.StatusDir, fmt.Sprintf("%s-%s.done", session, taskID))
	content := fmt.Sprintf("session=%s\ntask=%s\nsummary=%s\n", session, taskID, summary)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		b.log.Warn("status file write failed", "path", path, "error", err)
	}
}
