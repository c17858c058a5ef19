// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package adreg

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/dfmarket/marketd/pkg/events"
	"github.com/dfmarket/marketd/pkg/ids"
	"github.com/dfmarket/marketd/pkg/ledger"
	"github.com/dfmarket/marketd/pkg/log"
)

var (
	ErrInsufficientBudget  = errors.New("budget must be greater than 0")
	ErrInvalidCostPerClick = errors.New("cost per click must be greater than 0")
	ErrInvalidAd           = errors.New("invalid ad id")
	ErrInvalidLink         = errors.New("invalid link id")
	ErrLengthMismatch      = errors.New("link ids and click counts length mismatch")
	ErrNotAdmin            = errors.New("caller is not the settlement admin")
)

// Ad is one pay-per-click campaign. Budget is the remaining escrowed
// amount; CostPerClick is fixed at creation. Ads are never deleted, a
// depleted ad stays queryable with IsActive false.
type Ad struct {
	ID           uint64          `json:"id"`
	Advertiser   ids.Address     `json:"advertiser"`
	TargetURL    string          `json:"targetUrl"`
	ImageURL     string          `json:"imageUrl"`
	Budget       decimal.Decimal `json:"budget"`
	CostPerClick decimal.Decimal `json:"costPerClick"`
	TotalClicks  uint64          `json:"totalClicks"`
	TotalReward  decimal.Decimal `json:"totalReward"`
	IsActive     bool            `json:"isActive"`
}

// link ties a generated link id back to its ad and the sharing user.
type link struct {
	adID uint64
	user ids.Address
}

// Registry owns ad campaign records and per-user link identifiers, and
// settles batched click counts against escrowed budgets.
type Registry struct {
	mu sync.Mutex

	addr   ids.Address // escrow account for ad budgets
	admin  ids.Address // only account allowed to settle clicks
	ledger ledger.FungibleLedger
	bus    *events.Bus
	log    log.Logger

	ads        map[uint64]*Ad
	nextAdID   uint64
	links      map[uint64]link                   // linkID -> (adID, user)
	userLinks  map[uint64]map[ids.Address]uint64 // adID -> user -> linkID
	nextLinkID uint64
}

// NewRegistry creates an ad registry. Only admin may call SettleClicks.
func NewRegistry(fl ledger.FungibleLedger, admin ids.Address, bus *events.Bus, logger log.Logger) *Registry {
	return &Registry{
		addr:       ids.GenerateAddress(),
		admin:      admin,
		ledger:     fl,
		bus:        bus,
		log:        logger,
		ads:        make(map[uint64]*Ad),
		nextAdID:   1,
		links:      make(map[uint64]link),
		userLinks:  make(map[uint64]map[ids.Address]uint64),
		nextLinkID: 1,
	}
}

// Address returns the registry's escrow account. Advertisers must approve
// this address on the ledger before creating an ad.
func (r *Registry) Address() ids.Address {
	return r.addr
}

// CreateAd escrows budget from the advertiser and registers a new active
// campaign with the next sequential id.
func (r *Registry) CreateAd(advertiser ids.Address, targetURL, imageURL string, budget, costPerClick decimal.Decimal) (uint64, error) {
	if budget.LessThanOrEqual(decimal.Zero) {
		return 0, ErrInsufficientBudget
	}
	if costPerClick.LessThanOrEqual(decimal.Zero) {
		return 0, ErrInvalidCostPerClick
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ledger.TransferFrom(r.addr, advertiser, r.addr, budget); err != nil {
		return 0, err
	}

	id := r.nextAdID
	r.nextAdID++
	r.ads[id] = &Ad{
		ID:           id,
		Advertiser:   advertiser,
		TargetURL:    targetURL,
		ImageURL:     imageURL,
		Budget:       budget,
		CostPerClick: costPerClick,
		TotalReward:  decimal.Zero,
		IsActive:     true,
	}

	r.log.Info("ad created",
		"id", id,
		"advertiser", advertiser.String(),
		"budget", budget.String(),
		"costPerClick", costPerClick.String())
	r.bus.Publish(events.Event{
		Type:   events.TypeAdCreated,
		AdID:   id,
		Actor:  advertiser,
		Amount: budget,
		Detail: targetURL,
	})

	return id, nil
}

// GenerateAdLink mints a link id for (ad, user), or returns the existing
// one: regenerating is idempotent and emits no second event.
func (r *Registry) GenerateAdLink(user ids.Address, adID uint64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ads[adID]; !ok {
		return 0, ErrInvalidAd
	}

	if byUser, ok := r.userLinks[adID]; ok {
		if linkID, ok := byUser[user]; ok {
			return linkID, nil
		}
	}

	linkID := r.nextLinkID
	r.nextLinkID++
	r.links[linkID] = link{adID: adID, user: user}
	if r.userLinks[adID] == nil {
		r.userLinks[adID] = make(map[ids.Address]uint64)
	}
	r.userLinks[adID][user] = linkID

	r.log.Debug("ad link generated", "adId", adID, "linkId", linkID, "user", user.String())
	r.bus.Publish(events.Event{
		Type:   events.TypeLinkGenerated,
		AdID:   adID,
		LinkID: linkID,
		Actor:  user,
	})

	return linkID, nil
}

// GetUserAdLink returns the link id previously generated for (user, ad),
// or zero if none exists.
func (r *Registry) GetUserAdLink(user ids.Address, adID uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if byUser, ok := r.userLinks[adID]; ok {
		return byUser[user]
	}
	return 0
}

// ResolveLink returns the ad id and sharing user behind a link id.
func (r *Registry) ResolveLink(linkID uint64) (uint64, ids.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.links[linkID]
	if !ok {
		return 0, ids.ZeroAddress, ErrInvalidLink
	}
	return l.adID, l.user, nil
}

// SettleClicks reconciles a batch of accumulated click counts against ad
// budgets. Per pair the reward is min(clicks*costPerClick, budget): it is
// clamped to the remaining budget and never exceeds it, while the full
// reported click count is still credited to TotalClicks. An ad reaching
// zero budget is deactivated. The batch validates fully before any
// mutation and rewards are staged before any ad state changes, so a
// failed call leaves no partial state; within an accepted batch each
// pair's clamp runs against the budget remaining after earlier pairs.
func (r *Registry) SettleClicks(caller ids.Address, linkIDs []uint64, clickCounts []uint64) error {
	if caller != r.admin {
		return ErrNotAdmin
	}
	if len(linkIDs) != len(clickCounts) {
		return ErrLengthMismatch
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Validate the whole batch up front.
	for _, linkID := range linkIDs {
		l, ok := r.links[linkID]
		if !ok {
			return ErrInvalidLink
		}
		if _, ok := r.ads[l.adID]; !ok {
			return ErrInvalidAd
		}
	}

	// Stage the batch: clamp each pair against the running budget without
	// touching ad state yet.
	type settledPair struct {
		linkID uint64
		ad     *Ad
		user   ids.Address
		clicks uint64
		reward decimal.Decimal
	}
	staged := make([]settledPair, 0, len(linkIDs))
	budgets := make(map[uint64]decimal.Decimal)
	for i, linkID := range linkIDs {
		clicks := clickCounts[i]
		if clicks == 0 {
			continue
		}

		l := r.links[linkID]
		ad := r.ads[l.adID]
		budget, ok := budgets[ad.ID]
		if !ok {
			budget = ad.Budget
		}

		reward := ad.CostPerClick.Mul(decimal.NewFromInt(int64(clicks)))
		if reward.GreaterThan(budget) {
			reward = budget
		}
		budgets[ad.ID] = budget.Sub(reward)

		staged = append(staged, settledPair{
			linkID: linkID,
			ad:     ad,
			user:   l.user,
			clicks: clicks,
			reward: reward,
		})
	}

	// Move every reward out of escrow. Escrow holds every active budget,
	// so a failure here is a ledger fault: refund what already moved and
	// abort with no ad state mutated.
	for i, p := range staged {
		if !p.reward.IsPositive() {
			continue
		}
		if err := r.ledger.Transfer(r.addr, p.user, p.reward); err != nil {
			for _, paid := range staged[:i] {
				if paid.reward.IsPositive() {
					_ = r.ledger.Transfer(paid.user, r.addr, paid.reward)
				}
			}
			return err
		}
	}

	for _, p := range staged {
		p.ad.Budget = p.ad.Budget.Sub(p.reward)
		p.ad.TotalClicks += p.clicks
		p.ad.TotalReward = p.ad.TotalReward.Add(p.reward)
		if p.ad.Budget.IsZero() {
			p.ad.IsActive = false
		}

		r.bus.Publish(events.Event{
			Type:   events.TypeClicksSettled,
			AdID:   p.ad.ID,
			LinkID: p.linkID,
			Actor:  p.user,
			Amount: p.reward,
		})
	}

	r.log.Info("clicks settled", "pairs", len(linkIDs))
	return nil
}

// GetAd returns the ad with the given id.
func (r *Registry) GetAd(id uint64) (Ad, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ad, ok := r.ads[id]
	if !ok {
		return Ad{}, ErrInvalidAd
	}
	return *ad, nil
}

// GetAllAds returns every ad in id order.
func (r *Registry) GetAllAds() []Ad {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Ad, 0, len(r.ads))
	for id := uint64(1); id < r.nextAdID; id++ {
		if ad, ok := r.ads[id]; ok {
			out = append(out, *ad)
		}
	}
	return out
}

// GetActiveAds returns ads with remaining budget.
func (r *Registry) GetActiveAds() []Ad {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Ad, 0)
	for id := uint64(1); id < r.nextAdID; id++ {
		if ad, ok := r.ads[id]; ok && ad.IsActive {
			out = append(out, *ad)
		}
	}
	return out
}

// GetUserAds returns ads created by advertiser.
func (r *Registry) GetUserAds(advertiser ids.Address) []Ad {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Ad, 0)
	for id := uint64(1); id < r.nextAdID; id++ {
		if ad, ok := r.ads[id]; ok && ad.Advertiser == advertiser {
			out = append(out, *ad)
		}
	}
	return out
}
