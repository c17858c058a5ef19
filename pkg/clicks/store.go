// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package clicks is the off-chain click accumulator: a fast, concurrently
// written counter store keyed by link id, drained periodically by the
// settlement batcher. Increments are plain additions so concurrent
// writers never need more than an atomic add.
package clicks

import "context"

// Pending is one accumulator cell with clicks awaiting settlement.
type Pending struct {
	AdID   uint64
	LinkID uint64
	Count  uint64
}

// Store accumulates click counts between settlement runs.
//
// ConfirmConsumed decrements each cell by the amount a confirmed batch
// actually included rather than resetting to zero, so clicks recorded
// while the batch was in flight survive.
type Store interface {
	// Increment adds one observed click for (adID, linkID).
	Increment(ctx context.Context, adID, linkID uint64) error
	// DrainPending snapshots every cell with a positive pending count.
	DrainPending(ctx context.Context) ([]Pending, error)
	// ConfirmConsumed subtracts the consumed amounts after a batch has
	// been confirmed on chain.
	ConfirmConsumed(ctx context.Context, consumed []Pending) error
}
