// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"strings"

	"github.com/dfmarket/marketd/pkg/ids"
)

const deploymentPrefix = "deploy/"

// Deployments is the persisted mapping from deployment name (for example
// "EnglishAuction", "AdRegistry") to engine address, used only for wiring.
type Deployments struct {
	store *Storage
}

// NewDeployments wraps a storage instance.
func NewDeployments(store *Storage) *Deployments {
	return &Deployments{store: store}
}

// Set records the address for a deployment name.
func (d *Deployments) Set(name string, addr ids.Address) error {
	return d.store.Put([]byte(deploymentPrefix+name), addr.Bytes())
}

// Get returns the address recorded for a deployment name.
func (d *Deployments) Get(name string) (ids.Address, error) {
	raw, err := d.store.Get([]byte(deploymentPrefix + name))
	if err != nil {
		return ids.ZeroAddress, err
	}
	return ids.AddressFromBytes(raw)
}

// All returns every recorded deployment.
func (d *Deployments) All() (map[string]ids.Address, error) {
	raw, err := d.store.List([]byte(deploymentPrefix))
	if err != nil {
		return nil, err
	}

	out := make(map[string]ids.Address, len(raw))
	for key, value := range raw {
		addr, err := ids.AddressFromBytes(value)
		if err != nil {
			return nil, err
		}
		out[strings.TrimPrefix(key, deploymentPrefix)] = addr
	}
	return out, nil
}
