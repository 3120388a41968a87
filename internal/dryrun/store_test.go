// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dryrun

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetManyPersistsAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dry_run.json")

	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.SetMany(map[string]int64{"h1": 1000, "h2": -1}))

	reopened, err := Open(path)
	require.NoError(t, err)

	v, ok := reopened.Get("h1")
	assert.True(t, ok)
	assert.Equal(t, int64(1000), v)

	v, ok = reopened.Get("h2")
	assert.True(t, ok)
	assert.Equal(t, int64(-1), v)
}

func TestClearEmptiesStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dry_run.json")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetMany(map[string]int64{"h1": 1000}))
	require.NoError(t, s.Clear())

	assert.Empty(t, s.All())
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	s, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, s.All())
}
