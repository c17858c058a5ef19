// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package adreg

import (
	"errors"

	hashids "github.com/speps/go-hashids/v2"
)

// ErrInvalidShareCode is returned when a share code does not decode to a
// known link id shape.
var ErrInvalidShareCode = errors.New("invalid share code")

// ShareCodec turns numeric link ids into short opaque codes for ad share
// URLs (/ad/redirect/{code}) so raw ids never appear in shared links.
type ShareCodec struct {
	h *hashids.HashID
}

// NewShareCodec creates a codec with a deployment-specific salt.
func NewShareCodec(salt string) (*ShareCodec, error) {
	data := hashids.NewData()
	data.Salt = salt
	data.MinLength = 8

	h, err := hashids.NewWithData(data)
	if err != nil {
		return nil, err
	}
	return &ShareCodec{h: h}, nil
}

// Encode returns the share code for a link id.
func (c *ShareCodec) Encode(linkID uint64) (string, error) {
	return c.h.EncodeInt64([]int64{int64(linkID)})
}

// Decode returns the link id behind a share code.
func (c *ShareCodec) Decode(code string) (uint64, error) {
	nums, err := c.h.DecodeInt64WithError(code)
	if err != nil {
		return 0, ErrInvalidShareCode
	}
	if len(nums) != 1 || nums[0] <= 0 {
		return 0, ErrInvalidShareCode
	}
	return uint64(nums[0]), nil
}
