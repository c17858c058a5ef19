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

// DutchEngine runs descending-price, first-accepted-bid auctions. The
// executed price is whatever the decay formula yields at the moment of
// purchase, so buyers approve an allowance covering the starting price.
type DutchEngine struct {
	mu sync.Mutex

	addr   ids.Address
	nfts   nft.Registry
	ledger ledger.FungibleLedger
	bus    *events.Bus
	log    log.Logger
	now    func() time.Time

	auctions map[ids.AuctionKey]*DutchAuction
	history  []*DutchAuction
}

// NewDutchEngine creates a Dutch auction engine holding escrow under its
// own address.
func NewDutchEngine(nfts nft.Registry, fl ledger.FungibleLedger, bus *events.Bus, logger log.Logger) *DutchEngine {
	return &DutchEngine{
		addr:     ids.GenerateAddress(),
		nfts:     nfts,
		ledger:   fl,
		bus:      bus,
		log:      logger,
		now:      time.Now,
		auctions: make(map[ids.AuctionKey]*DutchAuction),
	}
}

// Address returns the engine's escrow account.
func (e *DutchEngine) Address() ids.Address {
	return e.addr
}

// CreateAuction locks the NFT in escrow and opens a descending auction
// decaying at discountRate currency units per second.
func (e *DutchEngine) CreateAuction(seller, nftAddr ids.Address, tokenID uint64, startingPrice, discountRate decimal.Decimal) error {
	if startingPrice.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidStartingPrice
	}
	if discountRate.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidDiscountRate
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

	if err := e.nfts.Transfer(e.addr, nftAddr, tokenID, e.addr); err != nil {
		return ErrNotOwnerOrNotApproved
	}

	now := e.now()
	// Time for the price to decay to zero, kept for display only.
	zeroIn := startingPrice.Div(discountRate)
	a := &DutchAuction{
		Seller: seller,
		NFTInfo: NFTInfo{
			NFTAddress: nftAddr,
			TokenID:    tokenID,
			TokenURI:   uri,
		},
		StartingPrice: startingPrice,
		DiscountRate:  discountRate,
		StartingAt:    now,
		EndingAt:      now.Add(time.Duration(zeroIn.IntPart()) * time.Second),
		Status:        StatusActive,
	}
	e.auctions[key] = a
	e.history = append(e.history, a)

	e.log.Info("dutch auction created",
		"key", key.String(),
		"seller", seller.String(),
		"startingPrice", startingPrice.String(),
		"discountRate", discountRate.String())
	e.bus.Publish(events.Event{
		Type:    events.TypeAuctionCreated,
		NFT:     nftAddr,
		TokenID: tokenID,
		Actor:   seller,
		Amount:  startingPrice,
	})

	return nil
}

// GetPrice returns the current derived price, floored at zero.
func (e *DutchEngine) GetPrice(nftAddr ids.Address, tokenID uint64) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.auctions[ids.AuctionKey{NFT: nftAddr, TokenID: tokenID}]
	if !ok || a.Status != StatusActive {
		return decimal.Zero, ErrAuctionNotActive
	}
	return a.PriceAt(e.now()), nil
}

// BuyItem settles the auction at the price derived at execution time:
// funds move from buyer to seller and the NFT to the buyer atomically.
func (e *DutchEngine) BuyItem(buyer, nftAddr ids.Address, tokenID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.auctions[ids.AuctionKey{NFT: nftAddr, TokenID: tokenID}]
	if !ok || a.Status != StatusActive {
		return ErrAuctionNotActive
	}

	price := a.PriceAt(e.now())
	if price.IsPositive() {
		if err := e.ledger.TransferFrom(e.addr, buyer, a.Seller, price); err != nil {
			return err
		}
	}
	if err := e.nfts.Transfer(e.addr, nftAddr, tokenID, buyer); err != nil {
		// Undo the payment so a failed purchase leaves the auction
		// intact and retryable.
		if price.IsPositive() {
			_ = e.ledger.Transfer(a.Seller, buyer, price)
		}
		return err
	}

	a.Status = StatusEnded

	e.log.Info("dutch auction sold",
		"key", a.NFTInfo.Key().String(),
		"buyer", buyer.String(),
		"price", price.String())
	e.bus.Publish(events.Event{
		Type:    events.TypeItemBought,
		NFT:     nftAddr,
		TokenID: tokenID,
		Actor:   buyer,
		Amount:  price,
	})

	return nil
}

// CancelAuction returns the NFT to the seller and terminates the auction.
// The stored status converges to Ended just like a sale; consumers tell
// the two apart by the emitted event type.
func (e *DutchEngine) CancelAuction(caller, nftAddr ids.Address, tokenID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.auctions[ids.AuctionKey{NFT: nftAddr, TokenID: tokenID}]
	if !ok || a.Status != StatusActive {
		return ErrAuctionNotActive
	}
	if a.Seller != caller {
		return ErrNotSeller
	}

	if err := e.nfts.Transfer(e.addr, nftAddr, tokenID, a.Seller); err != nil {
		return err
	}

	a.Status = StatusEnded

	e.log.Info("dutch auction cancelled", "key", a.NFTInfo.Key().String())
	e.bus.Publish(events.Event{
		Type:    events.TypeAuctionCancelled,
		NFT:     nftAddr,
		TokenID: tokenID,
		Actor:   caller,
	})

	return nil
}

// GetAuction returns the auction for a key, ended or not.
func (e *DutchEngine) GetAuction(nftAddr ids.Address, tokenID uint64) (DutchAuction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.auctions[ids.AuctionKey{NFT: nftAddr, TokenID: tokenID}]
	if !ok {
		return DutchAuction{}, ErrAuctionNotActive
	}
	return *a, nil
}

// GetAllAuctions returns every auction in creation order.
func (e *DutchEngine) GetAllAuctions() []DutchAuction {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]DutchAuction, 0, len(e.history))
	for _, a := range e.history {
		out = append(out, *a)
	}
	return out
}

// GetActiveAuctions returns auctions still open for purchase.
func (e *DutchEngine) GetActiveAuctions() []DutchAuction {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]DutchAuction, 0)
	for _, a := range e.history {
		if a.Status == StatusActive {
			out = append(out, *a)
		}
	}
	return out
}

// GetAuctionsByUser returns auctions where user is the seller.
func (e *DutchEngine) GetAuctionsByUser(user ids.Address) []DutchAuction {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]DutchAuction, 0)
	for _, a := range e.history {
		if a.Seller == user {
			out = append(out, *a)
		}
	}
	return out
}
