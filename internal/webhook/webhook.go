// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package webhook implements the bounded-channel torrent-event ingress
// (spec.md §4.7): POST /webhook acknowledges in well under 10ms by
// enqueueing onto a fixed-capacity channel, and a single background
// worker drains it. Grounded on the teacher's internal/api/sse/manager.go
// bounded-buffer-plus-single-consumer shape, adapted from broadcast
// fan-out to a single-consumer work queue.
package webhook

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// EventType enumerates the torrent lifecycle events the governor reacts
// to (spec.md §4.7).
type EventType string

const (
	EventAdded    EventType = "add"
	EventComplete EventType = "complete"
	EventDeleted  EventType = "delete"
)

const defaultQueueCapacity = 1000

// Event is a single torrent lifecycle notification.
type Event struct {
	Type    EventType
	Hash    string
	Tracker string
}

// Handler is invoked by the worker for each dequeued event. Panics inside
// Handler are recovered per-event so one bad event can't take the worker
// down (spec.md §7).
type Handler func(ctx context.Context, ev Event)

// Queue is a bounded, single-consumer ingress for torrent events.
type Queue struct {
	ch          chan Event
	handler     Handler
	dropped     atomic.Int64
	parseErrors atomic.Int64
}

// New builds a Queue with the given capacity (0 uses the spec default of
// 1000) and the handler the worker dispatches to.
func New(capacity int, handler Handler) *Queue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &Queue{
		ch:      make(chan Event, capacity),
		handler: handler,
	}
}

// Enqueue offers ev to the queue without blocking. Returns false if the
// queue is full, in which case the event is dropped and logged and the
// drop counter incremented — callers must not block the HTTP handler
// waiting on cycle processing, and must still ack the request regardless
// of the return value (spec.md §4.7).
func (q *Queue) Enqueue(ev Event) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		q.dropped.Add(1)
		log.Warn().Str("hash", ev.Hash).Str("type", string(ev.Type)).Msg("webhook: queue full, dropping event")
		return false
	}
}

// DroppedCount reports how many events have been discarded because the
// queue was full.
func (q *Queue) DroppedCount() int64 {
	return q.dropped.Load()
}

// IncParseError increments the counter of malformed webhook requests that
// were acked but could not be turned into an Event (spec.md §7 "Webhook
// parse errors: respond accepted, increment a parse-error counter, drop
// the event").
func (q *Queue) IncParseError() {
	q.parseErrors.Add(1)
}

// ParseErrorCount reports how many webhook requests failed to parse.
func (q *Queue) ParseErrorCount() int64 {
	return q.parseErrors.Load()
}

// Run drains the queue until ctx is cancelled, dispatching each event to
// the handler with panic isolation.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-q.ch:
			q.dispatch(ctx, ev)
		}
	}
}

func (q *Queue) dispatch(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("hash", ev.Hash).Msg("webhook: handler panicked, event dropped")
		}
	}()
	q.handler(ctx, ev)
}

// Len reports the number of currently queued, undispatched events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// ParseEventType validates a raw webhook event-type string.
func ParseEventType(raw string) (EventType, error) {
	switch EventType(raw) {
	case EventAdded, EventComplete, EventDeleted:
		return EventType(raw), nil
	default:
		return "", fmt.Errorf("webhook: unknown event type %q", raw)
	}
}
