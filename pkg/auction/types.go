// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package auction

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dfmarket/marketd/pkg/ids"
)

// Status is the lifecycle state of an auction.
type Status uint8

const (
	StatusCreated Status = iota
	StatusActive
	StatusEnded
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusActive:
		return "active"
	case StatusEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// NFTInfo describes the token under auction.
type NFTInfo struct {
	NFTAddress ids.Address `json:"nftAddress"`
	TokenID    uint64      `json:"tokenId"`
	TokenURI   string      `json:"tokenURI"`
}

// Key returns the auction key for the token.
func (n NFTInfo) Key() ids.AuctionKey {
	return ids.AuctionKey{NFT: n.NFTAddress, TokenID: n.TokenID}
}

// Bid is one entry of the append-only bid log. The log is history only;
// the winner is tracked separately in HighestBid/HighestBidder.
type Bid struct {
	Bidder    ids.Address     `json:"bidder"`
	BidAmount decimal.Decimal `json:"bidAmount"`
	BidTime   time.Time       `json:"bidTime"`
}

// EnglishAuction is the state of one ascending-bid auction.
type EnglishAuction struct {
	Seller        ids.Address     `json:"seller"`
	NFTInfo       NFTInfo         `json:"nftInfo"`
	StartingPrice decimal.Decimal `json:"startingPrice"`
	StartingAt    time.Time       `json:"startingAt"`
	EndingAt      time.Time       `json:"endingAt"`
	Status        Status          `json:"status"`
	HighestBid    decimal.Decimal `json:"highestBid"`
	HighestBidder ids.Address     `json:"highestBidder"`
	Bidders       []Bid           `json:"bidders"`
}

// DutchAuction is the state of one descending-price auction. The current
// price is derived from wall-clock time, never stored.
type DutchAuction struct {
	Seller        ids.Address     `json:"seller"`
	NFTInfo       NFTInfo         `json:"nftInfo"`
	StartingPrice decimal.Decimal `json:"startingPrice"`
	DiscountRate  decimal.Decimal `json:"discountRate"` // currency units per second
	StartingAt    time.Time       `json:"startingAt"`
	EndingAt      time.Time       `json:"endingAt"` // informational: when the price reaches zero
	Status        Status          `json:"status"`
}

// PriceAt returns the derived price at time t, floored at zero.
func (a *DutchAuction) PriceAt(t time.Time) decimal.Decimal {
	elapsed := t.Sub(a.StartingAt)
	if elapsed <= 0 {
		return a.StartingPrice
	}

	// Whole seconds, matching the on-chain integer decay.
	discount := a.DiscountRate.Mul(decimal.NewFromInt(int64(elapsed / time.Second)))
	price := a.StartingPrice.Sub(discount)
	if price.IsNegative() {
		return decimal.Zero
	}
	return price
}
