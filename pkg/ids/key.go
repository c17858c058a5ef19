// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package ids

import "fmt"

// AuctionKey identifies at most one active auction of a given type:
// the (collection, token) pair being sold.
type AuctionKey struct {
	NFT     Address
	TokenID uint64
}

// String returns the "<nft>-<tokenId>" form used in APIs and logs.
func (k AuctionKey) String() string {
	return fmt.Sprintf("%s-%d", k.NFT, k.TokenID)
}
