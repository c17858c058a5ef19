// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package clicks

import (
	"context"
	"sort"
	"sync"
)

type cell struct {
	adID    uint64
	pending uint64
}

// MemStore is an in-memory click accumulator.
type MemStore struct {
	mu    sync.Mutex
	cells map[uint64]*cell // linkID -> pending clicks
}

// NewMemStore creates an empty accumulator.
func NewMemStore() *MemStore {
	return &MemStore{cells: make(map[uint64]*cell)}
}

func (s *MemStore) Increment(_ context.Context, adID, linkID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cells[linkID]
	if !ok {
		c = &cell{adID: adID}
		s.cells[linkID] = c
	}
	c.pending++
	return nil
}

func (s *MemStore) DrainPending(_ context.Context) ([]Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Pending, 0, len(s.cells))
	for linkID, c := range s.cells {
		if c.pending > 0 {
			out = append(out, Pending{AdID: c.adID, LinkID: linkID, Count: c.pending})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LinkID < out[j].LinkID })
	return out, nil
}

func (s *MemStore) ConfirmConsumed(_ context.Context, consumed []Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range consumed {
		c, ok := s.cells[p.LinkID]
		if !ok {
			continue
		}
		if c.pending <= p.Count {
			delete(s.cells, p.LinkID)
		} else {
			c.pending -= p.Count
		}
	}
	return nil
}
