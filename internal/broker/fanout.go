package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gastown/fleetbroker/internal/model"
	"github.com/gastown/fleetbroker/internal/store"
	"github.com/google/uuid"
)

// enqueue appends one envelope to a recipient's queue, then enforces the
// bounded-queue ring-buffer behavior from spec §4.5: on overflow the
// oldest message is dropped and a single sentinel is inserted, without
// duplicating the sentinel on repeated overflow.
func (b *Broker) enqueue(ctx context.Context, projectID, toSession string, env model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	key := store.QueueKey(projectID, toSession)
	if err := b.store.ListAppend(ctx, key, data); err != nil {
		return err
	}

	n, err := b.store.ListLen(ctx, key)
	if err != nil {
		return err
	}
	if n <= int64(b.cfg.MaxQueueLen) {
		return nil
	}

	// Over budget: drop the oldest elements down to MaxQueueLen-1, then
	// check whether the sentinel is already the new head before
	// inserting another one (no duplicate sentinels on repeated overflow).
	dropped, err := b.store.ListTrimFront(ctx, key, int64(b.cfg.MaxQueueLen)-1)
	if err != nil {
		return err
	}
	if len(dropped) == 0 {
		return nil
	}

	head, err := b.store.ListRange(ctx, key, 0, 0)
	if err == nil && len(head) == 1 {
		var first model.Envelope
		if json.Unmarshal(head[0], &first) == nil && first.Type == model.MessageSystem && first.Content == "messages dropped" {
			return nil
		}
	}

	sentinel := model.Envelope{
		ID:      uuid.NewString(),
		From:    "broker",
		Type:    model.MessageSystem,
		Content: "messages dropped",
	}
	sentinel.Timestamp = b.store.Now()
	data, err = json.Marshal(sentinel)
	if err != nil {
		return err
	}
	// Insert the sentinel at the front so it reads as "some history was
	// lost here", ahead of whatever survived the trim.
	return b.prependEnvelope(ctx, key, data)
}

// prependEnvelope re-reads the list, prepends raw, and rewrites it. Queue
// overflow is already a rare, degraded-mode path, so a read-modify-write
// here (instead of another Lua script) keeps the common path simple.
func (b *Broker) prependEnvelope(ctx context.Context, key string, raw []byte) error {
	rest, err := b.store.ListRange(ctx, key, 0, -1)
	if err != nil {
		return err
	}
	if err := b.store.ListDelete(ctx, key); err != nil {
		return err
	}
	if err := b.store.ListAppend(ctx, key, raw); err != nil {
		return err
	}
	for _, r := range rest {
		if err := b.store.ListAppend(ctx, key, r); err != nil {
			return err
		}
	}
	return nil
}

// broadcastToOthers delivers env to every agent currently active in the
// project except excludeSession, and returns the recipient count. Only
// agents active at the moment the broadcast is processed receive it (spec
// §4.5: "new agents joining later do not receive it").
func (b *Broker) broadcastToOthers(ctx context.Context, projectID, excludeSession string, env model.Envelope) (int, error) {
	agents, err := b.listAgentRecords(ctx, projectID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, a := range agents {
		if a.SessionName == excludeSession {
			continue
		}
		if err := b.enqueue(ctx, projectID, a.SessionName, env); err != nil {
			b.log.Error("failed to enqueue broadcast", "to", a.SessionName, "error", err)
			continue
		}
		count++
	}
	return count, nil
}
