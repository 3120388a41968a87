// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package crossseed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestForwardDisabledIsNoOp(t *testing.T) {
	f := New("", time.Second, 3)
	assert.False(t, f.Enabled())
	f.Forward(context.Background(), Event{TorrentHash: "h1"})
}

func TestForwardSucceeds(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(srv.URL, time.Second, 3)
	f.Forward(context.Background(), Event{TorrentHash: "h1", NewLimit: 1000})
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestForwardRetriesOnServerError(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(srv.URL, time.Second, 3)
	f.Forward(context.Background(), Event{TorrentHash: "h1"})
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestForwardGivesUpOnClientError(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	f := New(srv.URL, time.Second, 3)
	f.Forward(context.Background(), Event{TorrentHash: "h1"})
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "unrecoverable 4xx must not retry")
}
