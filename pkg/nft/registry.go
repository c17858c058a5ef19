// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package nft

import (
	"errors"
	"sync"

	"github.com/dfmarket/marketd/pkg/ids"
)

var (
	ErrUnknownToken = errors.New("unknown token")
	ErrNotOwner     = errors.New("caller is not owner")
	ErrNotApproved  = errors.New("caller is not approved")
)

// Registry is the NFT ownership surface the auction engines depend on.
// Engines only check transferability and move tokens; ownership facts
// live outside the engines.
type Registry interface {
	// OwnerOf returns the current owner of a token.
	OwnerOf(nft ids.Address, tokenID uint64) (ids.Address, error)
	// TokenURI returns the metadata URI of a token.
	TokenURI(nft ids.Address, tokenID uint64) (string, error)
	// IsApprovedOrOwner reports whether operator may transfer the token.
	IsApprovedOrOwner(operator, nft ids.Address, tokenID uint64) bool
	// Transfer moves a token to a new owner on behalf of operator.
	Transfer(operator, nft ids.Address, tokenID uint64, to ids.Address) error
}

type token struct {
	owner    ids.Address
	approved ids.Address
	uri      string
}

// MemRegistry is an in-memory NFT registry.
type MemRegistry struct {
	mu     sync.RWMutex
	tokens map[ids.AuctionKey]*token
}

// NewMemRegistry creates an empty registry.
func NewMemRegistry() *MemRegistry {
	return &MemRegistry{tokens: make(map[ids.AuctionKey]*token)}
}

// Mint records a new token owned by owner.
func (r *MemRegistry) Mint(nft ids.Address, tokenID uint64, owner ids.Address, uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tokens[ids.AuctionKey{NFT: nft, TokenID: tokenID}] = &token{owner: owner, uri: uri}
}

// Approve grants operator transfer rights over one token. Only the owner
// may approve; approval is cleared on transfer.
func (r *MemRegistry) Approve(owner, nft ids.Address, tokenID uint64, operator ids.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[ids.AuctionKey{NFT: nft, TokenID: tokenID}]
	if !ok {
		return ErrUnknownToken
	}
	if t.owner != owner {
		return ErrNotOwner
	}
	t.approved = operator
	return nil
}

func (r *MemRegistry) OwnerOf(nft ids.Address, tokenID uint64) (ids.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tokens[ids.AuctionKey{NFT: nft, TokenID: tokenID}]
	if !ok {
		return ids.ZeroAddress, ErrUnknownToken
	}
	return t.owner, nil
}

func (r *MemRegistry) TokenURI(nft ids.Address, tokenID uint64) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tokens[ids.AuctionKey{NFT: nft, TokenID: tokenID}]
	if !ok {
		return "", ErrUnknownToken
	}
	return t.uri, nil
}

func (r *MemRegistry) IsApprovedOrOwner(operator, nft ids.Address, tokenID uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tokens[ids.AuctionKey{NFT: nft, TokenID: tokenID}]
	if !ok {
		return false
	}
	return t.owner == operator || t.approved == operator
}

func (r *MemRegistry) Transfer(operator, nft ids.Address, tokenID uint64, to ids.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[ids.AuctionKey{NFT: nft, TokenID: tokenID}]
	if !ok {
		return ErrUnknownToken
	}
	if t.owner != operator && t.approved != operator {
		return ErrNotApproved
	}

	t.owner = to
	t.approved = ids.ZeroAddress
	return nil
}
