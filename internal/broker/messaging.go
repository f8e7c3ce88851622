package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gastown/fleetbroker/internal/model"
	"github.com/gastown/fleetbroker/internal/store"
)

// parkQuery registers a same-process response channel for messageID before
// the query envelope is enqueued, so a respond_to_query that arrives
// immediately after can never race ahead of the parked waiter (spec §4.5
// "query_agent... waits up to timeout seconds for a response").
func (b *Broker) parkQuery(messageID string) chan string {
	ch := make(chan string, 1)
	b.pendingMu.Lock()
	b.pending[messageID] = ch
	b.pendingMu.Unlock()
	return ch
}

func (b *Broker) unparkQuery(messageID string) {
	b.pendingMu.Lock()
	delete(b.pending, messageID)
	b.pendingMu.Unlock()
}

// wakeQuery delivers a response to a parked query_agent waiter, if one is
// registered in this process. respond_to_query also writes the response
// into the pending-query record in the store, but query_agent waits only on
// this in-process channel: a response handled by a different broker
// process does not wake the waiter (it still reaches the caller's queue as
// a response envelope).
func (b *Broker) wakeQuery(messageID, response string) bool {
	b.pendingMu.Lock()
	ch, ok := b.pending[messageID]
	b.pendingMu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- response:
	default:
	}
	return true
}

// queryAgent implements spec §4.5 query_agent: a synchronous request to
// another session that blocks the caller up to timeout seconds (default
// 30, clamped to the documented max of 300) for a respond_to_query reply,
// or returns status "timeout". Returns "agent_not_found" up front if
// to_session isn't currently registered.
func (b *Broker) queryAgent(ctx context.Context, args Args) (Result, error) {
	projectID, _ := args.str("project_id")
	from, _ := args.str("from_session")
	to, _ := args.str("to_session")
	queryType, _ := args.str("query_type")
	query, _ := args.str("query")
	timeoutSeconds := args.intDefault("timeout", 30)
	if timeoutSeconds > 300 {
		timeoutSeconds = 300
	}
	waitForResponse := args.boolDefault("wait_for_response", true)

	target, err := b.getAgent(ctx, projectID, to)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return Result{"status": "agent_not_found"}, nil
	}

	now := b.store.Now()
	messageID := newMessageID(from, now)
	env := model.Envelope{
		ID:               messageID,
		From:             from,
		Type:             model.MessageQuery,
		QueryType:        queryType,
		Content:          query,
		Timestamp:        now,
		RequiresResponse: waitForResponse,
	}

	var ch chan string
	if waitForResponse {
		// Park before enqueue: an instantaneous responder must never find
		// the table empty.
		ch = b.parkQuery(messageID)
		defer b.unparkQuery(messageID)

		pq := model.PendingQuery{
			MessageID:   messageID,
			FromSession: from,
			ToSession:   to,
			CreatedAt:   now,
			TimeoutAt:   now.Add(time.Duration(timeoutSeconds) * time.Second),
		}
		data, err := json.Marshal(pq)
		if err != nil {
			return nil, err
		}
		if err := b.store.StringSetTTL(ctx, store.PendingQueryKey(projectID, messageID), data, time.Duration(timeoutSeconds)*time.Second); err != nil {
			return nil, err
		}
	}

	if err := b.enqueue(ctx, projectID, to, env); err != nil {
		return nil, err
	}

	if !waitForResponse {
		return Result{"status": "sent", "message_id": messageID}, nil
	}

	timer := time.NewTimer(time.Duration(timeoutSeconds) * time.Second)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return Result{"status": "received", "message_id": messageID, "response": resp}, nil
	case <-timer.C:
		return Result{"status": "timeout", "message_id": messageID, "message": "no response within timeout"}, nil
	case <-ctx.Done():
		return Result{"status": "timeout", "message_id": messageID, "message": "request cancelled"}, nil
	}
}

// respondToQuery implements spec §4.5 respond_to_query: always enqueues a
// response envelope for the original sender, writes the response into the
// pending-query record if that record still exists, and wakes a
// same-process waiter if one exists.
func (b *Broker) respondToQuery(ctx context.Context, args Args) (Result, error) {
	projectID, _ := args.str("project_id")
	from, _ := args.str("from_session")
	to, _ := args.str("to_session")
	messageID, _ := args.str("message_id")
	response, _ := args.str("response")

	now := b.store.Now()
	env := model.Envelope{
		ID:          newMessageID(from, now),
		From:        from,
		Type:        model.MessageResponse,
		Content:     response,
		Timestamp:   now,
		InReplyTo:   messageID,
		MessageType: "response",
	}
	if err := b.enqueue(ctx, projectID, to, env); err != nil {
		return nil, err
	}

	// Record the response under the pending-query key. query_agent does
	// not read it back; only a waiter in this process is woken below.
	if raw, ok, err := b.store.StringGet(ctx, store.PendingQueryKey(projectID, messageID)); err == nil && ok {
		var pq model.PendingQuery
		if json.Unmarshal(raw, &pq) == nil {
			responded := struct {
				model.PendingQuery
				Response string `json:"response"`
			}{pq, response}
			if data, err := json.Marshal(responded); err == nil {
				_ = b.store.StringSetTTL(ctx, store.PendingQueryKey(projectID, messageID), data, time.Minute)
			}
		}
	}

	b.wakeQuery(messageID, response)

	return Result{"status": "ok", "message": "response delivered"}, nil
}

// checkMessages implements spec §4.5 check_messages: an atomic
// read-and-clear drain of the caller's queue (spec invariant 5).
func (b *Broker) checkMessages(ctx context.Context, args Args) (Result, error) {
	projectID, _ := args.str("project_id")
	session, _ := args.str("session_name")

	raw, err := b.store.ListDrain(ctx, store.QueueKey(projectID, session))
	if err != nil {
		return nil, err
	}
	messages := make([]model.Envelope, 0, len(raw))
	for _, r := range raw {
		var env model.Envelope
		if err := json.Unmarshal(r, &env); err != nil {
			b.log.Warn("dropping corrupt envelope", "session", session, "error", err)
			continue
		}
		messages = append(messages, env)
	}
	return Result{"status": "ok", "messages": messages}, nil
}

// broadcastMessage implements spec §4.5 broadcast_message.
func (b *Broker) broadcastMessage(ctx context.Context, args Args) (Result, error) {
	projectID, _ := args.str("project_id")
	session, _ := args.str("session_name")
	messageType, _ := args.str("message_type")
	content, _ := args.str("content")

	now := b.store.Now()
	env := model.Envelope{
		ID:          newMessageID(session, now),
		From:        session,
		Type:        model.MessageBroadcast,
		MessageType: messageType,
		Content:     content,
		Timestamp:   now,
	}
	count, err := b.broadcastToOthers(ctx, projectID, session, env)
	if err != nil {
		return nil, err
	}
	return Result{"status": "ok", "recipients": count}, nil
}
