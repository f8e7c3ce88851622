package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gastown/fleetbroker/internal/model"
	"github.com/gastown/fleetbroker/internal/store"
	"github.com/google/uuid"
)

// newMessageID builds a readable, unique envelope/message ID. The session
// and timestamp prefix make log lines self-explanatory; uuid guarantees
// uniqueness under concurrent callers.
func newMessageID(session string, t time.Time) string {
	return fmt.Sprintf("%s-%d-%s", session, t.UnixNano(), uuid.NewString()[:8])
}

// recordChange appends to the project's capped recent-changes list (spec
// §4.5 get_recent_changes / announce_file_change) and, when an audit
// archive is wired, mirrors the entry there. Audit failures are logged,
// never surfaced — the archive is additive (spec §4.2 durable audit note).
func (b *Broker) recordChange(ctx context.Context, projectID string, entry model.ChangeEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		b.log.Error("marshal change entry", "error", err)
		return
	}
	key := store.RecentChangesKey(projectID)
	if err := b.store.ListAppend(ctx, key, data); err != nil {
		b.log.Error("append recent change", "error", err)
		return
	}
	if n, err := b.store.ListLen(ctx, key); err == nil && n > int64(b.cfg.RecentChangesCap) {
		if _, err := b.store.ListTrimFront(ctx, key, int64(b.cfg.RecentChangesCap)); err != nil {
			b.log.Error("trim recent changes", "error", err)
		}
	}
	if b.audit != nil {
		if err := b.audit.RecordChange(ctx, projectID, entry); err != nil {
			b.log.Warn("audit record change failed", "error", err)
		}
	}
}
