package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gastown/fleetbroker/internal/model"
	"github.com/gastown/fleetbroker/internal/store"
)

// announceFileChange implements spec §4.5 announce_file_change: an
// advisory, compare-and-set file lock. A different session holding the
// lock is reported as a conflict with the existing owner's info and a
// suggestion, without mutating the lock (spec invariant 6).
func (b *Broker) announceFileChange(ctx context.Context, args Args) (Result, error) {
	projectID, _ := args.str("project_id")
	session, _ := args.str("session_name")
	filePath, _ := args.str("file_path")
	changeType, _ := args.str("change_type")
	description, _ := args.str("description")

	now := b.store.Now()
	lock := model.FileLock{
		SessionName: session,
		LockedAt:    now,
		ChangeType:  changeType,
		Description: description,
	}
	data, err := json.Marshal(lock)
	if err != nil {
		return nil, err
	}

	res, err := b.store.AcquireFileLock(ctx, store.LocksKey(projectID), filePath, data, session)
	if err != nil {
		return nil, err
	}
	if !res.Acquired {
		var existing model.FileLock
		if err := json.Unmarshal(res.Existing, &existing); err != nil {
			return nil, fmt.Errorf("decode existing lock for %s: %w", filePath, err)
		}
		return Result{
			"status":     "conflict",
			"message":    fmt.Sprintf("%s is already editing %s", existing.SessionName, filePath),
			"lock_info":  existing,
			"suggestion": fmt.Sprintf("coordinate with %s via query_agent before editing %s", existing.SessionName, filePath),
		}, nil
	}

	b.recordChange(ctx, projectID, model.ChangeEntry{
		SessionName: session,
		FilePath:    filePath,
		ChangeType:  changeType,
		Description: description,
		Timestamp:   now,
	})

	env := model.Envelope{
		ID:          newMessageID(session, now),
		From:        session,
		Type:        model.MessageBroadcast,
		MessageType: "file_change",
		Content:     fmt.Sprintf("%s %s %s: %s", session, changeType, filePath, description),
		Timestamp:   now,
	}
	if _, err := b.broadcastToOthers(ctx, projectID, session, env); err != nil {
		b.log.Error("failed to broadcast file change", "session", session, "error", err)
	}

	return Result{"status": "locked", "message": fmt.Sprintf("%s now owns %s", session, filePath)}, nil
}

// releaseFileLock implements spec §4.5 release_file_lock: idempotent on an
// absent lock, rejected for a non-owner, without mutating state either way.
func (b *Broker) releaseFileLock(ctx context.Context, args Args) (Result, error) {
	projectID, _ := args.str("project_id")
	session, _ := args.str("session_name")
	filePath, _ := args.str("file_path")

	res, err := b.store.ReleaseFileLock(ctx, store.LocksKey(projectID), filePath, session)
	if err != nil {
		return nil, err
	}
	if res.NotOwner {
		var existing model.FileLock
		_ = json.Unmarshal(res.Existing, &existing)
		return Result{
			"status":    "error",
			"error":     "not owner",
			"message":   fmt.Sprintf("%s does not own the lock on %s", session, filePath),
			"lock_info": existing,
		}, nil
	}
	return Result{"status": "ok", "message": fmt.Sprintf("%s released", filePath)}, nil
}

// getRecentChanges implements spec §4.5 get_recent_changes: newest-first,
// default 20, capped at 100, limit 0 returns an empty list.
func (b *Broker) getRecentChanges(ctx context.Context, args Args) (Result, error) {
	projectID, _ := args.str("project_id")
	limit := args.intDefault("limit", 20)
	if limit > 100 {
		limit = 100
	}
	if limit <= 0 {
		return Result{"status": "ok", "changes": []model.ChangeEntry{}}, nil
	}

	raw, err := b.store.ListRange(ctx, store.RecentChangesKey(projectID), 0, -1)
	if err != nil {
		return nil, err
	}
	changes := make([]model.ChangeEntry, 0, len(raw))
	for _, r := range raw {
		var c model.ChangeEntry
		if err := json.Unmarshal(r, &c); err != nil {
			continue
		}
		changes = append(changes, c)
	}
	// raw is oldest-first; reverse into newest-first, then cap to limit.
	for i, j := 0, len(changes)-1; i < j; i, j = i+1, j-1 {
		changes[i], changes[j] = changes[j], changes[i]
	}
	if len(changes) > limit {
		changes = changes[:limit]
	}
	return Result{"status": "ok", "changes": changes}, nil
}

// releaseAllLocksAndSummarize releases every lock owned by session (used by
// unregister_agent, spec §4.3) and returns the session's todo summary.
func (b *Broker) releaseAllLocksAndSummarize(ctx context.Context, projectID, session string) (model.TodoSummary, error) {
	locksRaw, err := b.store.HashGetAll(ctx, store.LocksKey(projectID))
	if err != nil {
		return model.TodoSummary{}, err
	}
	for filePath, data := range locksRaw {
		var lock model.FileLock
		if err := json.Unmarshal(data, &lock); err != nil {
			continue
		}
		if lock.SessionName != session {
			continue
		}
		if _, err := b.store.ReleaseFileLock(ctx, store.LocksKey(projectID), filePath, session); err != nil {
			return model.TodoSummary{}, err
		}
	}

	todos, err := b.loadTodos(ctx, projectID, session)
	if err != nil {
		return model.TodoSummary{}, err
	}
	return summarizeTodos(todos), nil
}
