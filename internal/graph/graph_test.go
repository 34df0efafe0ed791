// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package graph_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/H2WO4/project-m101/internal/errors"
	"github.com/H2WO4/project-m101/internal/graph"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	g, err := graph.New(3, map[int][]int{0: {1}, 1: {0, 2}})
	require.NoError(t, err)
	require.Equal(t, 3, g.Size())
	require.Equal(t, []int{1}, g.Neighbors(0))
	require.Equal(t, []int{0, 2}, g.Neighbors(1))
	require.Empty(t, g.Neighbors(2))
	require.Nil(t, g.Neighbors(3))
	require.Nil(t, g.Neighbors(-1))
	require.False(t, g.Symmetric())
}

func TestNewCopiesInput(t *testing.T) {
	ns := []int{1}
	g, err := graph.New(2, map[int][]int{0: ns})
	require.NoError(t, err)
	ns[0] = 0
	require.Equal(t, []int{1}, g.Neighbors(0))
}

func TestNewRejects(t *testing.T) {
	for name, tc := range map[string]struct {
		size int
		adj  map[int][]int
	}{
		"missing size":       {0, nil},
		"id out of range":    {2, map[int][]int{2: {0}}},
		"neighbor too large": {2, map[int][]int{0: {2}}},
		"negative neighbor":  {2, map[int][]int{0: {-1}}},
		"self loop":          {2, map[int][]int{1: {1}}},
		"duplicate neighbor": {3, map[int][]int{0: {1, 2, 1}}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := graph.New(tc.size, tc.adj)
			require.Error(t, err)
			require.True(t, errors.IsKind(err, errors.ConfigError))
		})
	}
}

func TestLoad(t *testing.T) {
	g, err := graph.Load(strings.NewReader(`
segments: 3
adjacency:
  0: [1]
  1: [0, 2]
  2: [1]
`))
	require.NoError(t, err)
	require.Equal(t, 3, g.Size())
	require.Equal(t, []int{0, 2}, g.Neighbors(1))
	require.True(t, g.Symmetric())
}

func TestLoadRejectsDuplicateSegment(t *testing.T) {
	_, err := graph.Load(strings.NewReader(`
segments: 2
adjacency:
  0: [1]
  0: [1]
`))
	require.True(t, errors.IsKind(err, errors.ConfigError))
}

func TestLoadRejectsUnknownField(t *testing.T) {
	_, err := graph.Load(strings.NewReader("segments: 2\nedges: []\n"))
	require.True(t, errors.IsKind(err, errors.ConfigError))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte("segments: 1\n"), 0o600))

	g, err := graph.LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 1, g.Size())
	require.Empty(t, g.Neighbors(0))

	_, err = graph.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.True(t, errors.IsKind(err, errors.ConfigError))
}

func TestDefault(t *testing.T) {
	g := graph.Default()
	require.Equal(t, 8, g.Size())
	require.True(t, g.Symmetric())
	for id := range g.Size() {
		require.NotEmpty(t, g.Neighbors(id))
	}
}
