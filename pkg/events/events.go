// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package events

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dfmarket/marketd/pkg/ids"
)

// Type identifies an emitted event.
type Type string

const (
	TypeAuctionCreated   Type = "auction_created"
	TypeBidPlaced        Type = "bid_placed"
	TypeAuctionEnded     Type = "auction_ended"
	TypeItemBought       Type = "item_bought"
	TypeAuctionCancelled Type = "auction_cancelled"
	TypeAdCreated        Type = "ad_created"
	TypeLinkGenerated    Type = "link_generated"
	TypeClicksSettled    Type = "clicks_settled"
)

// Event is a single emitted lifecycle event. A terminated Dutch auction
// is distinguishable as sold vs cancelled only by the event type; the
// stored status converges to Ended either way.
type Event struct {
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	NFT       ids.Address     `json:"nftAddress,omitempty"`
	TokenID   uint64          `json:"tokenId,omitempty"`
	Actor     ids.Address     `json:"actor,omitempty"`
	Amount    decimal.Decimal `json:"amount,omitempty"`
	AdID      uint64          `json:"adId,omitempty"`
	LinkID    uint64          `json:"linkId,omitempty"`
	Detail    string          `json:"detail,omitempty"`
}

// Bus fans events out to subscribers. Sends never block: a subscriber
// that falls behind loses events rather than stalling an engine.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber and returns its channel.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 256)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Publish delivers an event to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Buffer full, drop event
		}
	}
}
