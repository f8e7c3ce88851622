package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gastown/fleetbroker/internal/model"
	"github.com/gastown/fleetbroker/internal/store"
)

// ReapAgent implements the liveness monitor's side of spec §4.4: release
// every lock the session held, clear its queue/todos/registry entry,
// broadcast its departure, and wake any same-process query_agent callers
// still waiting on it. Idempotent against a concurrent unregister_agent —
// a missing agent record is not an error.
func (b *Broker) ReapAgent(ctx context.Context, projectID, sessionName, reason string) error {
	agent, err := b.getAgent(ctx, projectID, sessionName)
	if err != nil {
		return err
	}
	if agent == nil {
		return nil
	}

	if _, err := b.releaseAllLocksAndSummarize(ctx, projectID, sessionName); err != nil {
		return err
	}
	if err := b.store.StringDelete(ctx, store.HeartbeatKey(projectID, sessionName)); err != nil {
		return err
	}
	if err := b.store.ListDelete(ctx, store.QueueKey(projectID, sessionName)); err != nil {
		return err
	}
	if err := b.store.ListDelete(ctx, store.TodosKey(projectID, sessionName)); err != nil {
		return err
	}
	if err := b.store.HashDelete(ctx, store.AgentsKey(projectID), sessionName); err != nil {
		return err
	}

	b.wakePendingQueriesFor(projectID, sessionName)

	now := b.store.Now()
	b.recordChange(ctx, projectID, model.ChangeEntry{
		SessionName: sessionName,
		ChangeType:  "reaped",
		Description: reason,
		Timestamp:   now,
		System:      true,
	})

	env := model.Envelope{
		ID:          newMessageID("broker", now),
		From:        "broker",
		Type:        model.MessageBroadcast,
		MessageType: "agent_died",
		Content:     fmt.Sprintf("%s was reaped: %s", sessionName, reason),
		Timestamp:   now,
	}
	if _, err := b.broadcastToOthers(ctx, projectID, sessionName, env); err != nil {
		b.log.Error("failed to broadcast reap", "session", sessionName, "error", err)
	}
	return nil
}

// wakePendingQueriesFor wakes every same-process query_agent caller
// currently parked waiting on a response from sessionName, with
// agent_not_found — it has no way to know which pending message IDs
// target this session, so it relies on the pending-query store records.
func (b *Broker) wakePendingQueriesFor(projectID, sessionName string) {
	b.pendingMu.Lock()
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	b.pendingMu.Unlock()

	ctx := context.Background()
	for _, id := range ids {
		raw, ok, err := b.store.StringGet(ctx, store.PendingQueryKey(projectID, id))
		if err != nil || !ok {
			continue
		}
		var pq model.PendingQuery
		if err := json.Unmarshal(raw, &pq); err != nil {
			continue
		}
		if pq.ToSession != sessionName {
			continue
		}
		b.wakeQuery(id, "agent_not_found")
	}
}
