package store

import (
	"fmt"
	"strings"
)

// Namespaced key construction: project:{project_id}:{resource}[:{id}].
// Keeping every key builder in one place is what makes project isolation
// (spec invariant 4) mechanically checkable — nothing outside this
// package ever formats a "project:" key by hand.

func AgentsKey(projectID string) string {
	return fmt.Sprintf("project:%s:agents", projectID)
}

func HeartbeatKey(projectID, sessionName string) string {
	return fmt.Sprintf("project:%s:heartbeat:%s", projectID, sessionName)
}

func TodosKey(projectID, sessionName string) string {
	return fmt.Sprintf("project:%s:todos:%s", projectID, sessionName)
}

func TodoCounterKey(projectID, sessionName string) string {
	return fmt.Sprintf("project:%s:todoseq:%s", projectID, sessionName)
}

func LocksKey(projectID string) string {
	return fmt.Sprintf("project:%s:locks", projectID)
}

func InterfacesKey(projectID string) string {
	return fmt.Sprintf("project:%s:interfaces", projectID)
}

func QueueKey(projectID, sessionName string) string {
	return fmt.Sprintf("project:%s:queue:%s", projectID, sessionName)
}

func RecentChangesKey(projectID string) string {
	return fmt.Sprintf("project:%s:changes", projectID)
}

func PendingQueryKey(projectID, messageID string) string {
	return fmt.Sprintf("project:%s:pendingquery:%s", projectID, messageID)
}

func CompletionKey(projectID, taskID string) string {
	return fmt.Sprintf("project:%s:completed:%s", projectID, taskID)
}

// HeartbeatScanPattern matches every heartbeat key across every project,
// used by the liveness monitor's prefix scan (spec §4.4 step 1).
const HeartbeatScanPattern = "project:*:heartbeat:*"

// ProjectAndSessionFromHeartbeatKey recovers (project_id, session_name)
// from a key matched by HeartbeatScanPattern.
func ProjectAndSessionFromHeartbeatKey(key string) (projectID, sessionName string, ok bool) {
	parts := strings.SplitN(key, ":", 4)
	if len(parts) != 4 || parts[0] != "project" || parts[2] != "heartbeat" {
		return "", "", false
	}
	return parts[1], parts[3], true
}
