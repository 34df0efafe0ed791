// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package graph

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/H2WO4/project-m101/internal/errors"
	"gopkg.in/yaml.v3"
)

//go:embed topology.yaml
var defaultTopology []byte

type (
	// Graph is the fixed road adjacency: for every segment id in [0, Size),
	// the ids of the segments physically next to it. It is immutable once
	// built and safe for concurrent reads.
	Graph struct {
		neighbors [][]int
	}

	topology struct {
		Segments  int           `yaml:"segments"`
		Adjacency map[int][]int `yaml:"adjacency"`
	}
)

// New builds a graph of the given size. Segments absent from adjacency have
// no neighbors.
func New(size int, adjacency map[int][]int) (*Graph, error) {
	if size <= 0 {
		return nil, errors.Config("segments", size, "graph size must be positive")
	}

	g := &Graph{neighbors: make([][]int, size)}
	for id, ns := range adjacency {
		if id < 0 || id >= size {
			return nil, errors.Config(
				"adjacency",
				id,
				fmt.Sprintf("segment id out of range [0, %d)", size),
			)
		}

		seen := make(map[int]struct{}, len(ns))
		for _, n := range ns {
			switch _, dup := seen[n]; {
			case n < 0 || n >= size:
				return nil, errors.Config(
					fmt.Sprintf("adjacency.%d", id),
					n,
					fmt.Sprintf("neighbor id out of range [0, %d)", size),
				)
			case n == id:
				return nil, errors.Config(
					fmt.Sprintf("adjacency.%d", id),
					n,
					"segment cannot neighbor itself",
				)
			case dup:
				return nil, errors.Config(
					fmt.Sprintf("adjacency.%d", id),
					n,
					"duplicate neighbor",
				)
			}
			seen[n] = struct{}{}
		}
		g.neighbors[id] = slices.Clone(ns)
	}
	return g, nil
}

// Load parses a YAML topology.
func Load(r io.Reader) (*Graph, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var t topology
	if err := dec.Decode(&t); err != nil {
		return nil, &errors.Error{
			Message:     "invalid topology",
			Kind:        errors.ConfigError,
			NestedError: err,
		}
	}
	return New(t.Segments, t.Adjacency)
}

// LoadFile parses the YAML topology at path.
func LoadFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &errors.Error{
			Message:       "cannot open topology",
			Kind:          errors.ConfigError,
			NestedError:   err,
			PropertyName:  "TOPOLOGY_FILE",
			PropertyValue: path,
		}
	}
	defer f.Close()
	return Load(f)
}

// Default returns the embedded topology.
func Default() *Graph {
	g, err := Load(bytes.NewReader(defaultTopology))
	if err != nil {
		panic(err)
	}
	return g
}

// Size returns the number of segments.
func (g *Graph) Size() int {
	return len(g.neighbors)
}

// Neighbors returns the neighbors of a segment, or nil for an unknown id. The
// returned slice must not be modified.
func (g *Graph) Neighbors(id int) []int {
	if id < 0 || id >= len(g.neighbors) {
		return nil
	}
	return g.neighbors[id]
}

// Symmetric reports whether every edge is listed from both ends.
func (g *Graph) Symmetric() bool {
	for id, ns := range g.neighbors {
		for _, n := range ns {
			if !slices.Contains(g.neighbors[n], id) {
				return false
			}
		}
	}
	return true
}
