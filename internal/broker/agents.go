package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gastown/fleetbroker/internal/model"
	"github.com/gastown/fleetbroker/internal/store"
)

func (b *Broker) getAgent(ctx context.Context, projectID, sessionName string) (*model.Agent, error) {
	raw, ok, err := b.store.HashGet(ctx, store.AgentsKey(projectID), sessionName)
	if err != nil || !ok {
		return nil, err
	}
	var a model.Agent
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode agent %s: %w", sessionName, err)
	}
	return &a, nil
}

func (b *Broker) putAgent(ctx context.Context, projectID string, a model.Agent) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return b.store.HashSet(ctx, store.AgentsKey(projectID), a.SessionName, data)
}

func (b *Broker) listAgentRecords(ctx context.Context, projectID string) ([]model.Agent, error) {
	raw, err := b.store.HashGetAll(ctx, store.AgentsKey(projectID))
	if err != nil {
		return nil, err
	}
	out := make([]model.Agent, 0, len(raw))
	for session, data := range raw {
		var a model.Agent
		if err := json.Unmarshal(data, &a); err != nil {
			b.log.Warn("dropping corrupt agent record", "session", session, "error", err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// registerAgent implements spec §4.3 register_agent: reconnect-refresh for
// a matching task_id, reject for a conflicting one, otherwise a fresh
// registration that broadcasts "agent joined" to every other active agent.
func (b *Broker) registerAgent(ctx context.Context, args Args) (Result, error) {
	projectID, _ := args.str("project_id")
	session, _ := args.str("session_name")
	taskID, _ := args.str("task_id")
	branch, _ := args.str("branch")
	description, _ := args.str("description")

	existing, err := b.getAgent(ctx, projectID, session)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.TaskID != taskID {
		return errResult("error", fmt.Sprintf("session_name %q is already active for task %q", session, existing.TaskID)), nil
	}

	now := b.store.Now()
	agent := model.Agent{
		SessionName: session,
		TaskID:      taskID,
		Branch:      branch,
		Description: description,
		Status:      model.AgentActive,
		StartedAt:   now,
	}
	if existing != nil {
		agent.StartedAt = existing.StartedAt
	}

	if err := b.putAgent(ctx, projectID, agent); err != nil {
		return nil, err
	}
	if err := b.store.StringSetTTL(ctx, store.HeartbeatKey(projectID, session), []byte(now.Format(timeLayout)), b.cfg.HeartbeatTimeout); err != nil {
		return nil, err
	}

	others, err := b.listAgentRecords(ctx, projectID)
	if err != nil {
		return nil, err
	}
	otherNames := make([]string, 0, len(others))
	for _, a := range others {
		if a.SessionName != session {
			otherNames = append(otherNames, a.SessionName)
		}
	}

	if existing == nil {
		env := model.Envelope{
			ID:          newMessageID(session, now),
			From:        session,
			Type:        model.MessageBroadcast,
			MessageType: "info",
			Content:     fmt.Sprintf("%s joined the project (task %s)", session, taskID),
			Timestamp:   now,
		}
		if _, err := b.broadcastToOthers(ctx, projectID, session, env); err != nil {
			b.log.Error("failed to broadcast join", "session", session, "error", err)
		}
		b.recordChange(ctx, projectID, model.ChangeEntry{SessionName: session, ChangeType: "registered", Description: description, Timestamp: now, System: true})
	}

	return Result{
		"status":              "registered",
		"message":             fmt.Sprintf("%s registered for task %s", session, taskID),
		"other_active_agents": otherNames,
	}, nil
}

// heartbeat implements spec §4.3 heartbeat: refreshes TTL, or reports
// not_registered if the agent has been reaped or never registered — the
// broker never resurrects a reaped agent (spec §4.3).
func (b *Broker) heartbeat(ctx context.Context, args Args) (Result, error) {
	projectID, _ := args.str("project_id")
	session, _ := args.str("session_name")

	agent, err := b.getAgent(ctx, projectID, session)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return Result{"status": "not_registered", "message": "agent is not registered; call register_agent"}, nil
	}

	now := b.store.Now()
	if err := b.store.StringSetTTL(ctx, store.HeartbeatKey(projectID, session), []byte(now.Format(timeLayout)), b.cfg.HeartbeatTimeout); err != nil {
		return nil, err
	}
	return Result{"status": "ok", "timestamp": now.Format(timeLayout)}, nil
}

// unregisterAgent implements spec §4.3 unregister_agent: releases every
// lock held by the session, clears its heartbeat/queue/todos, removes it
// from the registry, broadcasts departure, and returns a todo summary.
// Interfaces it registered persist — they are project-owned (spec §3).
func (b *Broker) unregisterAgent(ctx context.Context, args Args) (Result, error) {
	projectID, _ := args.str("project_id")
	session, _ := args.str("session_name")

	agent, err := b.getAgent(ctx, projectID, session)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return Result{"status": "ok", "message": "agent was not registered", "todo_summary": model.TodoSummary{}}, nil
	}

	summary, err := b.releaseAllLocksAndSummarize(ctx, projectID, session)
	if err != nil {
		return nil, err
	}

	if err := b.store.StringDelete(ctx, store.HeartbeatKey(projectID, session)); err != nil {
		return nil, err
	}
	if err := b.store.ListDelete(ctx, store.QueueKey(projectID, session)); err != nil {
		return nil, err
	}
	if err := b.store.ListDelete(ctx, store.TodosKey(projectID, session)); err != nil {
		return nil, err
	}
	if err := b.store.HashDelete(ctx, store.AgentsKey(projectID), session); err != nil {
		return nil, err
	}

	now := b.store.Now()
	env := model.Envelope{
		ID:          newMessageID(session, now),
		From:        session,
		Type:        model.MessageBroadcast,
		MessageType: "info",
		Content:     fmt.Sprintf("%s left the project", session),
		Timestamp:   now,
	}
	if _, err := b.broadcastToOthers(ctx, projectID, session, env); err != nil {
		b.log.Error("failed to broadcast departure", "session", session, "error", err)
	}
	b.recordChange(ctx, projectID, model.ChangeEntry{SessionName: session, ChangeType: "unregistered", Timestamp: now, System: true})

	return Result{
		"status":       "ok",
		"message":      fmt.Sprintf("%s unregistered", session),
		"todo_summary": summary,
	}, nil
}

// listActiveAgents implements spec §4.1 list_active_agents.
func (b *Broker) listActiveAgents(ctx context.Context, args Args) (Result, error) {
	projectID, _ := args.str("project_id")
	agents, err := b.listAgentRecords(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Agent, len(agents))
	for _, a := range agents {
		out[a.SessionName] = a
	}
	return Result{"status": "ok", "agents": out}, nil
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
