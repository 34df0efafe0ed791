// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package store

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// Memory is an in-process Store.
type Memory struct {
	mu       sync.RWMutex
	segments map[int]Segment
}

func NewMemory() *Memory {
	return &Memory{segments: map[int]Segment{}}
}

func (m *Memory) Upsert(
	ctx context.Context,
	id, avgSpeed int,
	at time.Time,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments[id] = Segment{ID: id, AvgSpeed: avgSpeed, Timestamp: NewTimestamp(at)}
	return nil
}

func (m *Memory) All(ctx context.Context) ([]Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.SortedFunc(maps.Values(m.segments), func(a, b Segment) int {
		return cmp.Compare(a.ID, b.ID)
	}), nil
}

func (m *Memory) Get(ctx context.Context, id int) (Segment, bool, error) {
	if err := ctx.Err(); err != nil {
		return Segment{}, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.segments[id]
	return s, ok, nil
}
