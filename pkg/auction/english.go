// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package auction

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dfmarket/marketd/pkg/events"
	"github.com/dfmarket/marketd/pkg/ids"
	"github.com/dfmarket/marketd/pkg/ledger"
	"github.com/dfmarket/marketd/pkg/log"
	"github.com/dfmarket/marketd/pkg/nft"
)

// EnglishEngine runs ascending-bid auctions. Each mutating call applies
// fully or not at all; the engine lock is the serialization point, the
// same way call execution is serialized on chain. There is no cancel
// transition: once created, an auction runs to its end time.
type EnglishEngine struct {
	mu sync.Mutex

	addr   ids.Address // escrow account holding locked NFTs and bids
	nfts   nft.Registry
	ledger ledger.FungibleLedger
	bus    *events.Bus
	log    log.Logger
	now    func() time.Time

	auctions map[ids.AuctionKey]*EnglishAuction
	history  []*EnglishAuction // creation order, ended auctions included
}

// NewEnglishEngine creates an English auction engine holding escrow under
// its own address.
func NewEnglishEngine(nfts nft.Registry, fl ledger.FungibleLedger, bus *events.Bus, logger log.Logger) *EnglishEngine {
	return &EnglishEngine{
		addr:     ids.GenerateAddress(),
		nfts:     nfts,
		ledger:   fl,
		bus:      bus,
		log:      logger,
		now:      time.Now,
		auctions: make(map[ids.AuctionKey]*EnglishAuction),
	}
}

// Address returns the engine's escrow account. Bidders must approve this
// address on the ledger before bidding; sellers must approve it on the
// NFT registry before creating an auction.
func (e *EnglishEngine) Address() ids.Address {
	return e.addr
}

// CreateAuction locks the NFT in escrow and opens an ascending auction
// running for duration from now.
func (e *EnglishEngine) CreateAuction(seller, nftAddr ids.Address, tokenID uint64, startingPrice decimal.Decimal, duration time.Duration) error {
	if startingPrice.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidStartingPrice
	}
	if duration <= 0 {
		return ErrInvalidDuration
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := ids.AuctionKey{NFT: nftAddr, TokenID: tokenID}
	if a, ok := e.auctions[key]; ok && a.Status == StatusActive {
		return ErrAuctionAlreadyActive
	}

	owner, err := e.nfts.OwnerOf(nftAddr, tokenID)
	if err != nil || owner != seller || !e.nfts.IsApprovedOrOwner(e.addr, nftAddr, tokenID) {
		return ErrNotOwnerOrNotApproved
	}

	uri, err := e.nfts.TokenURI(nftAddr, tokenID)
	if err != nil {
		return ErrNotOwnerOrNotApproved
	}

	// Lock the NFT in escrow. Approval was checked above, so this only
	// fails on a registry fault, in which case nothing was mutated yet.
	if err := e.nfts.Transfer(e.addr, nftAddr, tokenID, e.addr); err != nil {
		return ErrNotOwnerOrNotApproved
	}

	now := e.now()
	a := &EnglishAuction{
		Seller: seller,
		NFTInfo: NFTInfo{
			NFTAddress: nftAddr,
			TokenID:    tokenID,
			TokenURI:   uri,
		},
		StartingPrice: startingPrice,
		StartingAt:    now,
		EndingAt:      now.Add(duration),
		Status:        StatusActive,
		HighestBid:    decimal.Zero,
		Bidders:       make([]Bid, 0),
	}
	e.auctions[key] = a
	e.history = append(e.history, a)

	e.log.Info("english auction created",
		"key", key.String(),
		"seller", seller.String(),
		"startingPrice", startingPrice.String(),
		"endingAt", a.EndingAt)
	e.bus.Publish(events.Event{
		Type:    events.TypeAuctionCreated,
		NFT:     nftAddr,
		TokenID: tokenID,
		Actor:   seller,
		Amount:  startingPrice,
	})

	return nil
}

// Bid escrows amount from the bidder, refunds the previous highest bidder
// in full and records the new high bid. Comparison is strictly greater,
// so the highest bidder is unique at all times.
func (e *EnglishEngine) Bid(bidder, nftAddr ids.Address, tokenID uint64, amount decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.auctions[ids.AuctionKey{NFT: nftAddr, TokenID: tokenID}]
	if !ok || a.Status != StatusActive {
		return ErrAuctionNotActive
	}
	if !e.now().Before(a.EndingAt) {
		return ErrAuctionExpired
	}
	if !amount.GreaterThan(a.StartingPrice) || !amount.GreaterThan(a.HighestBid) {
		return ErrBidTooLow
	}

	// Escrow the new bid first so a ledger rejection leaves no partial
	// state, then refund the outbid amount from escrow.
	if err := e.ledger.TransferFrom(e.addr, bidder, e.addr, amount); err != nil {
		return err
	}
	if !a.HighestBidder.IsZero() {
		if err := e.ledger.Transfer(e.addr, a.HighestBidder, a.HighestBid); err != nil {
			// Escrow always holds the outbid funds; a failure here is a
			// ledger fault. Undo the pull to keep the call atomic.
			_ = e.ledger.Transfer(e.addr, bidder, amount)
			return err
		}
	}

	a.HighestBid = amount
	a.HighestBidder = bidder
	a.Bidders = append(a.Bidders, Bid{
		Bidder:    bidder,
		BidAmount: amount,
		BidTime:   e.now(),
	})

	e.log.Debug("bid placed",
		"key", a.NFTInfo.Key().String(),
		"bidder", bidder.String(),
		"amount", amount.String())
	e.bus.Publish(events.Event{
		Type:    events.TypeBidPlaced,
		NFT:     nftAddr,
		TokenID: tokenID,
		Actor:   bidder,
		Amount:  amount,
	})

	return nil
}

// EndAuction settles an expired auction: the NFT goes to the highest
// bidder and the escrowed winning bid to the seller, or the NFT returns
// to the seller if nobody bid. Repeated calls fail, they do not no-op.
func (e *EnglishEngine) EndAuction(nftAddr ids.Address, tokenID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.auctions[ids.AuctionKey{NFT: nftAddr, TokenID: tokenID}]
	if !ok {
		return ErrAuctionNotActive
	}
	if a.Status == StatusEnded {
		return ErrAuctionAlreadyEnded
	}
	if e.now().Before(a.EndingAt) {
		return ErrAuctionNotExpired
	}

	if !a.HighestBidder.IsZero() {
		// Pay the seller first, then release the NFT. If the NFT leg
		// faults the payout is undone, so a failed end leaves the
		// auction fully intact and retryable.
		if err := e.ledger.Transfer(e.addr, a.Seller, a.HighestBid); err != nil {
			return err
		}
		if err := e.nfts.Transfer(e.addr, nftAddr, tokenID, a.HighestBidder); err != nil {
			_ = e.ledger.Transfer(a.Seller, e.addr, a.HighestBid)
			return err
		}
	} else {
		if err := e.nfts.Transfer(e.addr, nftAddr, tokenID, a.Seller); err != nil {
			return err
		}
	}

	a.Status = StatusEnded

	e.log.Info("english auction ended",
		"key", a.NFTInfo.Key().String(),
		"winner", a.HighestBidder.String(),
		"price", a.HighestBid.String(),
		"bids", len(a.Bidders))
	e.bus.Publish(events.Event{
		Type:    events.TypeAuctionEnded,
		NFT:     nftAddr,
		TokenID: tokenID,
		Actor:   a.HighestBidder,
		Amount:  a.HighestBid,
	})

	return nil
}

// GetAuction returns the auction for a key, ended or not.
func (e *EnglishEngine) GetAuction(nftAddr ids.Address, tokenID uint64) (EnglishAuction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.auctions[ids.AuctionKey{NFT: nftAddr, TokenID: tokenID}]
	if !ok {
		return EnglishAuction{}, ErrAuctionNotActive
	}
	return e.snapshot(a), nil
}

// GetAllAuctions returns every auction in creation order.
func (e *EnglishEngine) GetAllAuctions() []EnglishAuction {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]EnglishAuction, 0, len(e.history))
	for _, a := range e.history {
		out = append(out, e.snapshot(a))
	}
	return out
}

// GetActiveAuctions returns auctions that are Active and not yet past
// their end time.
func (e *EnglishEngine) GetActiveAuctions() []EnglishAuction {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	out := make([]EnglishAuction, 0)
	for _, a := range e.history {
		if a.Status == StatusActive && now.Before(a.EndingAt) {
			out = append(out, e.snapshot(a))
		}
	}
	return out
}

// GetAuctionsByUser returns auctions where user is the seller or appears
// anywhere in the bid log.
func (e *EnglishEngine) GetAuctionsByUser(user ids.Address) []EnglishAuction {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]EnglishAuction, 0)
	for _, a := range e.history {
		if a.Seller == user {
			out = append(out, e.snapshot(a))
			continue
		}
		for _, b := range a.Bidders {
			if b.Bidder == user {
				out = append(out, e.snapshot(a))
				break
			}
		}
	}
	return out
}

// snapshot copies an auction so callers never alias engine state.
func (e *EnglishEngine) snapshot(a *EnglishAuction) EnglishAuction {
	cp := *a
	cp.Bidders = make([]Bid, len(a.Bidders))
	copy(cp.Bidders, a.Bidders)
	return cp
}
