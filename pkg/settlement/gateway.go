// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package settlement

import (
	"context"

	"github.com/google/uuid"

	"github.com/dfmarket/marketd/pkg/adreg"
	"github.com/dfmarket/marketd/pkg/clicks"
	"github.com/dfmarket/marketd/pkg/ids"
	"github.com/dfmarket/marketd/pkg/storage"
)

// Settler is the on-chain settlement surface the batcher drives. A
// batch id identifies one dispatch; re-submitting a batch id whose
// effects already landed must be a no-op, the way a confirmed
// transaction hash is not re-executed.
type Settler interface {
	SettleBatch(ctx context.Context, batchID uuid.UUID, pairs []clicks.Pending) error
}

const settledPrefix = "settled/"

// RegistryGateway adapts the ad registry's settleClicks call to the
// Settler interface, with persisted batch-id dedup so a replay after a
// delayed confirmation does not deduct budgets twice.
type RegistryGateway struct {
	registry *adreg.Registry
	admin    ids.Address
	store    *storage.Storage
}

// NewRegistryGateway creates a gateway settling through registry as admin.
func NewRegistryGateway(registry *adreg.Registry, admin ids.Address, store *storage.Storage) *RegistryGateway {
	return &RegistryGateway{registry: registry, admin: admin, store: store}
}

func (g *RegistryGateway) SettleBatch(_ context.Context, batchID uuid.UUID, pairs []clicks.Pending) error {
	key := []byte(settledPrefix + batchID.String())
	if seen, err := g.store.Has(key); err != nil {
		return err
	} else if seen {
		// Confirmation of this batch was delayed, not lost.
		return nil
	}

	// Drop accumulator cells the registry never issued (or that name the
	// wrong ad) instead of letting one stale pair reject the batch and
	// wedge every retry. The batcher still confirms the dropped pairs,
	// which clears them from the accumulator.
	linkIDs := make([]uint64, 0, len(pairs))
	counts := make([]uint64, 0, len(pairs))
	for _, p := range pairs {
		adID, _, err := g.registry.ResolveLink(p.LinkID)
		if err != nil || adID != p.AdID {
			continue
		}
		linkIDs = append(linkIDs, p.LinkID)
		counts = append(counts, p.Count)
	}

	if len(linkIDs) > 0 {
		if err := g.registry.SettleClicks(g.admin, linkIDs, counts); err != nil {
			return err
		}
	}
	return g.store.Put(key, []byte{1})
}
