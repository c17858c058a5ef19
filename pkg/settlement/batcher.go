// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package settlement bridges the fast off-chain click accumulator to the
// slow, costly on-chain settleClicks call. The reconciliation is a
// two-phase commit surrogate: snapshot, dispatch, confirm, decrement.
// The accumulator is never mutated before confirmation, so a failed
// dispatch loses nothing and is retried wholesale on the next run.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dfmarket/marketd/pkg/clicks"
	"github.com/dfmarket/marketd/pkg/log"
	"github.com/dfmarket/marketd/pkg/metric"
	"github.com/dfmarket/marketd/pkg/storage"
)

const journalKey = "batch/inflight"

// ErrBatchInFlight is returned when a run is requested while a previous
// dispatch is still executing.
var ErrBatchInFlight = errors.New("settlement batch already in flight")

// batchRecord is the journaled in-flight batch. It survives restarts so
// a dispatched-but-unconfirmed batch is re-submitted verbatim instead of
// being re-read from the accumulator.
type batchRecord struct {
	ID    uuid.UUID        `json:"id"`
	At    time.Time        `json:"at"`
	Pairs []clicks.Pending `json:"pairs"`
}

// Batcher drains the click accumulator into the settlement gateway on a
// cron schedule, on demand, and once more at shutdown. It must be the
// only reader/decrementer of the accumulator; the run lock keeps two
// cycles from double-submitting overlapping counts.
type Batcher struct {
	runMu sync.Mutex

	store   clicks.Store
	settler Settler
	journal *storage.Storage
	metrics *metric.Metrics
	log     log.Logger

	schedule string
	trigger  chan struct{}
}

// NewBatcher creates a batcher. schedule is a cron spec; the default
// deployment settles daily at 03:00.
func NewBatcher(store clicks.Store, settler Settler, journal *storage.Storage, schedule string, metrics *metric.Metrics, logger log.Logger) *Batcher {
	return &Batcher{
		store:    store,
		settler:  settler,
		journal:  journal,
		metrics:  metrics,
		log:      logger,
		schedule: schedule,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an on-demand settlement run. It never blocks; a run
// already queued absorbs the request.
func (b *Batcher) Trigger() {
	select {
	case b.trigger <- struct{}{}:
	default:
	}
}

// Run executes scheduled and on-demand settlement runs until ctx is
// cancelled, then performs one final drain.
func (b *Batcher) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(b.schedule, b.Trigger); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	for {
		select {
		case <-ctx.Done():
			// Shutdown drain so pending clicks are not stranded.
			if err := b.RunOnce(context.Background()); err != nil && !errors.Is(err, ErrBatchInFlight) {
				b.log.Warn("final settlement run failed", "error", err)
			}
			return ctx.Err()
		case <-b.trigger:
			if err := b.RunOnce(ctx); err != nil && !errors.Is(err, ErrBatchInFlight) {
				b.log.Warn("settlement run failed", "error", err)
			}
		}
	}
}

// RunOnce performs one settlement cycle: re-dispatch the journaled batch
// if one is pending, otherwise snapshot the accumulator and dispatch a
// new batch. The accumulator is decremented by exactly the dispatched
// amounts, and only after confirmed success.
func (b *Batcher) RunOnce(ctx context.Context) error {
	if !b.runMu.TryLock() {
		return ErrBatchInFlight
	}
	defer b.runMu.Unlock()

	record, err := b.loadJournal()
	if err != nil {
		return err
	}

	if record == nil {
		pending, err := b.store.DrainPending(ctx)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			b.log.Debug("no clicks to settle")
			return nil
		}

		record = &batchRecord{
			ID:    uuid.New(),
			At:    time.Now(),
			Pairs: pending,
		}
		// Journal before dispatch: if we crash mid-flight, the next run
		// replays this exact batch instead of re-reading the counters.
		if err := b.saveJournal(record); err != nil {
			return err
		}
	} else {
		b.log.Info("re-dispatching in-flight batch",
			"batch", record.ID.String(),
			"pairs", len(record.Pairs))
	}

	if err := b.settler.SettleBatch(ctx, record.ID, record.Pairs); err != nil {
		b.metrics.SettleBatchFailures.Inc()
		return err
	}

	if err := b.store.ConfirmConsumed(ctx, record.Pairs); err != nil {
		return err
	}
	if err := b.journal.Delete([]byte(journalKey)); err != nil {
		return err
	}

	b.metrics.SettleBatches.Inc()
	b.metrics.SettlePairs.Add(float64(len(record.Pairs)))
	b.log.Info("settlement batch confirmed",
		"batch", record.ID.String(),
		"pairs", len(record.Pairs))
	return nil
}

func (b *Batcher) loadJournal() (*batchRecord, error) {
	raw, err := b.journal.Get([]byte(journalKey))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var record batchRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (b *Batcher) saveJournal(record *batchRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return b.journal.Put([]byte(journalKey), raw)
}
