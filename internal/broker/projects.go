package broker

import (
	"context"

	"github.com/gastown/fleetbroker/internal/store"
)

// Projects discovers every project_id with at least one unexpired
// heartbeat key, by scanning heartbeat keys and deriving project IDs
// from them; a project whose agents' heartbeats have all lapsed is not
// listed. Used by the dashboard snapshot builder, which has no other
// way to enumerate projects without a caller telling it which ones exist.
func (b *Broker) Projects(ctx context.Context) []string {
	keys, err := b.store.ScanKeys(ctx, store.HeartbeatScanPattern)
	if err != nil {
		b.log.Error("scan heartbeat keys for project discovery failed", "error", err)
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, k := range keys {
		projectID, _, ok := store.ProjectAndSessionFromHeartbeatKey(k)
		if !ok {
			continue
		}
		if _, dup := seen[projectID]; dup {
			continue
		}
		seen[projectID] = struct{}{}
		out = append(out, projectID)
	}
	return out
}
