// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAndDispatch(t *testing.T) {
	var mu sync.Mutex
	var seen []Event

	q := New(4, func(ctx context.Context, ev Event) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go q.Run(ctx)
	defer cancel()

	require.True(t, q.Enqueue(Event{Type: EventAdded, Hash: "h1"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, time.Millisecond)
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	q := New(1, func(ctx context.Context, ev Event) {
		<-block
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	require.True(t, q.Enqueue(Event{Hash: "h1"}))
	// give the worker a moment to pick up h1, occupying the handler
	time.Sleep(10 * time.Millisecond)
	require.True(t, q.Enqueue(Event{Hash: "h2"}))
	assert.False(t, q.Enqueue(Event{Hash: "h3"}), "queue of capacity 1 with one in flight and one queued must reject a third")

	close(block)
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	var mu sync.Mutex
	processed := 0

	q := New(4, func(ctx context.Context, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		processed++
		if ev.Hash == "bad" {
			panic("boom")
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go q.Run(ctx)
	defer cancel()

	q.Enqueue(Event{Hash: "bad"})
	q.Enqueue(Event{Hash: "good"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return processed == 2
	}, time.Second, time.Millisecond)
}

func TestParseEventType(t *testing.T) {
	_, err := ParseEventType("bogus")
	assert.Error(t, err)

	ev, err := ParseEventType("complete")
	require.NoError(t, err)
	assert.Equal(t, EventComplete, ev)
}
