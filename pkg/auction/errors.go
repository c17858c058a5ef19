// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package auction

import "errors"

var (
	ErrInvalidStartingPrice  = errors.New("starting price must be positive")
	ErrInvalidDuration       = errors.New("duration must be positive")
	ErrInvalidDiscountRate   = errors.New("discount rate must be positive")
	ErrNotOwnerOrNotApproved = errors.New("caller is not owner or engine not approved")
	ErrAuctionAlreadyActive  = errors.New("auction already active for this token")
	ErrAuctionNotActive      = errors.New("auction not active")
	ErrAuctionExpired        = errors.New("auction expired")
	ErrAuctionNotExpired     = errors.New("auction not ended yet")
	ErrAuctionAlreadyEnded   = errors.New("auction already ended")
	ErrBidTooLow             = errors.New("bid amount too low")
	ErrNotSeller             = errors.New("caller is not the seller")
)
