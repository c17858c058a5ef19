// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLen is the length of an Address in bytes.
const AddressLen = 20

// Address is a 20-byte account identifier.
type Address [AddressLen]byte

// ZeroAddress is the zero-value sentinel meaning "no address".
var ZeroAddress = Address{}

// String returns the 0x-prefixed hex representation of an Address.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// IsZero returns true if the Address is the zero sentinel.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Bytes returns the byte representation of an Address.
func (a Address) Bytes() []byte {
	return a[:]
}

// AddressFromString parses an Address from a hex string, with or without
// the 0x prefix.
func AddressFromString(s string) (Address, error) {
	var a Address
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, err
	}
	if len(b) != AddressLen {
		return a, fmt.Errorf("invalid address length: expected %d, got %d", AddressLen, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// AddressFromBytes creates an Address from bytes.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressLen {
		return a, fmt.Errorf("invalid address length: expected %d, got %d", AddressLen, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// GenerateAddress generates a new random Address.
func GenerateAddress() Address {
	var a Address
	_, _ = rand.Read(a[:])
	return a
}
