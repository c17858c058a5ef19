// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package adreg

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dfmarket/marketd/pkg/events"
	"github.com/dfmarket/marketd/pkg/ids"
	"github.com/dfmarket/marketd/pkg/ledger"
	"github.com/dfmarket/marketd/pkg/log"
)

type registryFixture struct {
	ledger *ledger.Ledger
	reg    *Registry

	admin      ids.Address
	advertiser ids.Address
	sharer     ids.Address
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()

	f := &registryFixture{
		ledger:     ledger.NewLedger(),
		admin:      ids.GenerateAddress(),
		advertiser: ids.GenerateAddress(),
		sharer:     ids.GenerateAddress(),
	}
	f.reg = NewRegistry(f.ledger, f.admin, events.NewBus(), log.NoOp())

	require.NoError(t, f.ledger.Mint(f.advertiser, decimal.NewFromInt(10_000)))
	f.ledger.Approve(f.advertiser, f.reg.Address(), decimal.NewFromInt(10_000))

	return f
}

func TestCreateAd(t *testing.T) {
	require := require.New(t)
	f := newRegistryFixture(t)

	id, err := f.reg.CreateAd(f.advertiser, "https://example.com", "https://example.com/banner.png",
		decimal.NewFromInt(1000), decimal.NewFromInt(10))
	require.NoError(err)
	require.Equal(uint64(1), id)

	// Budget is escrowed at creation.
	require.True(f.ledger.BalanceOf(f.advertiser).Equal(decimal.NewFromInt(9000)))
	require.True(f.ledger.BalanceOf(f.reg.Address()).Equal(decimal.NewFromInt(1000)))

	ad, err := f.reg.GetAd(id)
	require.NoError(err)
	require.Equal(f.advertiser, ad.Advertiser)
	require.Equal("https://example.com", ad.TargetURL)
	require.True(ad.Budget.Equal(decimal.NewFromInt(1000)))
	require.True(ad.CostPerClick.Equal(decimal.NewFromInt(10)))
	require.True(ad.IsActive)
	require.Zero(ad.TotalClicks)
	require.True(ad.TotalReward.IsZero())

	// Ids are sequential from 1.
	id2, err := f.reg.CreateAd(f.advertiser, "https://other.com", "",
		decimal.NewFromInt(500), decimal.NewFromInt(5))
	require.NoError(err)
	require.Equal(uint64(2), id2)
}

func TestCreateAdRejections(t *testing.T) {
	require := require.New(t)
	f := newRegistryFixture(t)

	_, err := f.reg.CreateAd(f.advertiser, "https://example.com", "",
		decimal.Zero, decimal.NewFromInt(10))
	require.ErrorIs(err, ErrInsufficientBudget)

	_, err = f.reg.CreateAd(f.advertiser, "https://example.com", "",
		decimal.NewFromInt(1000), decimal.Zero)
	require.ErrorIs(err, ErrInvalidCostPerClick)

	// Escrow pull fails without an allowance; nothing is registered.
	broke := ids.GenerateAddress()
	_, err = f.reg.CreateAd(broke, "https://example.com", "",
		decimal.NewFromInt(1000), decimal.NewFromInt(10))
	require.ErrorIs(err, ledger.ErrInsufficientApproval)
	require.Empty(f.reg.GetAllAds())
}

func TestGenerateAdLink(t *testing.T) {
	require := require.New(t)
	f := newRegistryFixture(t)

	adID, err := f.reg.CreateAd(f.advertiser, "https://example.com", "",
		decimal.NewFromInt(1000), decimal.NewFromInt(10))
	require.NoError(err)

	linkID, err := f.reg.GenerateAdLink(f.sharer, adID)
	require.NoError(err)
	require.Equal(uint64(1), linkID)

	// Regenerating for the same (user, ad) returns the same id.
	again, err := f.reg.GenerateAdLink(f.sharer, adID)
	require.NoError(err)
	require.Equal(linkID, again)

	// A different user gets the next id.
	other := ids.GenerateAddress()
	otherLink, err := f.reg.GenerateAdLink(other, adID)
	require.NoError(err)
	require.Equal(uint64(2), otherLink)

	require.Equal(linkID, f.reg.GetUserAdLink(f.sharer, adID))
	require.Zero(f.reg.GetUserAdLink(ids.GenerateAddress(), adID))

	gotAd, gotUser, err := f.reg.ResolveLink(linkID)
	require.NoError(err)
	require.Equal(adID, gotAd)
	require.Equal(f.sharer, gotUser)

	_, _, err = f.reg.ResolveLink(99)
	require.ErrorIs(err, ErrInvalidLink)

	_, err = f.reg.GenerateAdLink(f.sharer, 99)
	require.ErrorIs(err, ErrInvalidAd)
}

// TestSettleClicks settles a batch within budget: the sharing user earns
// clicks*costPerClick and the ad stays active.
func TestSettleClicks(t *testing.T) {
	require := require.New(t)
	f := newRegistryFixture(t)

	adID, err := f.reg.CreateAd(f.advertiser, "https://example.com", "",
		decimal.NewFromInt(1000), decimal.NewFromInt(10))
	require.NoError(err)
	linkID, err := f.reg.GenerateAdLink(f.sharer, adID)
	require.NoError(err)

	require.NoError(f.reg.SettleClicks(f.admin, []uint64{linkID}, []uint64{7}))

	ad, err := f.reg.GetAd(adID)
	require.NoError(err)
	require.True(ad.Budget.Equal(decimal.NewFromInt(930)))
	require.Equal(uint64(7), ad.TotalClicks)
	require.True(ad.TotalReward.Equal(decimal.NewFromInt(70)))
	require.True(ad.IsActive)

	require.True(f.ledger.BalanceOf(f.sharer).Equal(decimal.NewFromInt(70)))
}

// TestSettleClicksClampsToBudget drives a batch past the remaining budget:
// the payout clamps while the full click count is still credited, and the
// depleted ad deactivates.
func TestSettleClicksClampsToBudget(t *testing.T) {
	require := require.New(t)
	f := newRegistryFixture(t)

	adID, err := f.reg.CreateAd(f.advertiser, "https://example.com", "",
		decimal.NewFromInt(100), decimal.NewFromInt(10))
	require.NoError(err)
	linkID, err := f.reg.GenerateAdLink(f.sharer, adID)
	require.NoError(err)

	// 25 clicks would cost 250 against a budget of 100.
	require.NoError(f.reg.SettleClicks(f.admin, []uint64{linkID}, []uint64{25}))

	ad, err := f.reg.GetAd(adID)
	require.NoError(err)
	require.True(ad.Budget.IsZero())
	require.Equal(uint64(25), ad.TotalClicks)
	require.True(ad.TotalReward.Equal(decimal.NewFromInt(100)))
	require.False(ad.IsActive)

	require.True(f.ledger.BalanceOf(f.sharer).Equal(decimal.NewFromInt(100)))

	// Further clicks against the depleted ad pay nothing but still count.
	require.NoError(f.reg.SettleClicks(f.admin, []uint64{linkID}, []uint64{5}))
	ad, err = f.reg.GetAd(adID)
	require.NoError(err)
	require.Equal(uint64(30), ad.TotalClicks)
	require.True(f.ledger.BalanceOf(f.sharer).Equal(decimal.NewFromInt(100)))
}

func TestSettleClicksMultiplePairs(t *testing.T) {
	require := require.New(t)
	f := newRegistryFixture(t)

	adA, err := f.reg.CreateAd(f.advertiser, "https://a.example", "",
		decimal.NewFromInt(1000), decimal.NewFromInt(10))
	require.NoError(err)
	adB, err := f.reg.CreateAd(f.advertiser, "https://b.example", "",
		decimal.NewFromInt(30), decimal.NewFromInt(10))
	require.NoError(err)

	sharer2 := ids.GenerateAddress()
	linkA, err := f.reg.GenerateAdLink(f.sharer, adA)
	require.NoError(err)
	linkB, err := f.reg.GenerateAdLink(sharer2, adB)
	require.NoError(err)

	// adB clamps at 30 while adA settles in full: clamps are independent
	// per pair.
	require.NoError(f.reg.SettleClicks(f.admin,
		[]uint64{linkA, linkB}, []uint64{4, 10}))

	require.True(f.ledger.BalanceOf(f.sharer).Equal(decimal.NewFromInt(40)))
	require.True(f.ledger.BalanceOf(sharer2).Equal(decimal.NewFromInt(30)))

	a, _ := f.reg.GetAd(adA)
	b, _ := f.reg.GetAd(adB)
	require.True(a.IsActive)
	require.False(b.IsActive)
}

func TestSettleClicksRejections(t *testing.T) {
	require := require.New(t)
	f := newRegistryFixture(t)

	adID, err := f.reg.CreateAd(f.advertiser, "https://example.com", "",
		decimal.NewFromInt(1000), decimal.NewFromInt(10))
	require.NoError(err)
	linkID, err := f.reg.GenerateAdLink(f.sharer, adID)
	require.NoError(err)

	err = f.reg.SettleClicks(ids.GenerateAddress(), []uint64{linkID}, []uint64{1})
	require.ErrorIs(err, ErrNotAdmin)

	err = f.reg.SettleClicks(f.admin, []uint64{linkID}, []uint64{1, 2})
	require.ErrorIs(err, ErrLengthMismatch)

	// One bad link rejects the whole batch before any mutation.
	err = f.reg.SettleClicks(f.admin, []uint64{linkID, 99}, []uint64{5, 5})
	require.ErrorIs(err, ErrInvalidLink)

	ad, err := f.reg.GetAd(adID)
	require.NoError(err)
	require.True(ad.Budget.Equal(decimal.NewFromInt(1000)))
	require.Zero(ad.TotalClicks)
	require.True(f.ledger.BalanceOf(f.sharer).IsZero())
}

func TestSettleClicksZeroCountPairs(t *testing.T) {
	require := require.New(t)
	f := newRegistryFixture(t)

	adID, err := f.reg.CreateAd(f.advertiser, "https://example.com", "",
		decimal.NewFromInt(1000), decimal.NewFromInt(10))
	require.NoError(err)
	linkID, err := f.reg.GenerateAdLink(f.sharer, adID)
	require.NoError(err)

	require.NoError(f.reg.SettleClicks(f.admin, []uint64{linkID}, []uint64{0}))

	ad, err := f.reg.GetAd(adID)
	require.NoError(err)
	require.Zero(ad.TotalClicks)
	require.True(ad.Budget.Equal(decimal.NewFromInt(1000)))
}

// faultLedger fails the nth Transfer call, modelling a ledger outage in
// the middle of a multi-pair payout.
type faultLedger struct {
	*ledger.Ledger
	transfers int
	failOn    int
}

func (l *faultLedger) Transfer(from, to ids.Address, amount decimal.Decimal) error {
	l.transfers++
	if l.transfers == l.failOn {
		return errors.New("ledger unavailable")
	}
	return l.Ledger.Transfer(from, to, amount)
}

// TestSettleClicksMidBatchFaultRollsBackEverything faults the second of
// two payouts: the first pair's reward must come back to escrow and no
// ad state may change, so the whole batch can be retried as one unit.
func TestSettleClicksMidBatchFaultRollsBackEverything(t *testing.T) {
	require := require.New(t)

	base := ledger.NewLedger()
	fl := &faultLedger{Ledger: base}
	admin := ids.GenerateAddress()
	reg := NewRegistry(fl, admin, events.NewBus(), log.NoOp())

	advertiser := ids.GenerateAddress()
	require.NoError(base.Mint(advertiser, decimal.NewFromInt(10_000)))
	base.Approve(advertiser, reg.Address(), decimal.NewFromInt(10_000))

	adA, err := reg.CreateAd(advertiser, "https://a.example", "",
		decimal.NewFromInt(1000), decimal.NewFromInt(10))
	require.NoError(err)
	adB, err := reg.CreateAd(advertiser, "https://b.example", "",
		decimal.NewFromInt(1000), decimal.NewFromInt(10))
	require.NoError(err)

	sharer1 := ids.GenerateAddress()
	sharer2 := ids.GenerateAddress()
	linkA, err := reg.GenerateAdLink(sharer1, adA)
	require.NoError(err)
	linkB, err := reg.GenerateAdLink(sharer2, adB)
	require.NoError(err)

	fl.failOn = 2
	require.Error(reg.SettleClicks(admin, []uint64{linkA, linkB}, []uint64{5, 5}))

	// The first payout was compensated and neither ad mutated.
	require.True(base.BalanceOf(sharer1).IsZero())
	require.True(base.BalanceOf(sharer2).IsZero())
	require.True(base.BalanceOf(reg.Address()).Equal(decimal.NewFromInt(2000)))

	for _, id := range []uint64{adA, adB} {
		ad, err := reg.GetAd(id)
		require.NoError(err)
		require.True(ad.Budget.Equal(decimal.NewFromInt(1000)))
		require.Zero(ad.TotalClicks)
		require.True(ad.TotalReward.IsZero())
	}

	// The identical batch settles once the ledger recovers.
	require.NoError(reg.SettleClicks(admin, []uint64{linkA, linkB}, []uint64{5, 5}))
	require.True(base.BalanceOf(sharer1).Equal(decimal.NewFromInt(50)))
	require.True(base.BalanceOf(sharer2).Equal(decimal.NewFromInt(50)))
}

// TestSettleClicksRepeatedLinkClampsAcrossPairs repeats one link inside
// a batch: the second pair must clamp against the budget left by the
// first, not the pre-batch budget.
func TestSettleClicksRepeatedLinkClampsAcrossPairs(t *testing.T) {
	require := require.New(t)
	f := newRegistryFixture(t)

	adID, err := f.reg.CreateAd(f.advertiser, "https://example.com", "",
		decimal.NewFromInt(100), decimal.NewFromInt(10))
	require.NoError(err)
	linkID, err := f.reg.GenerateAdLink(f.sharer, adID)
	require.NoError(err)

	require.NoError(f.reg.SettleClicks(f.admin, []uint64{linkID, linkID}, []uint64{7, 7}))

	ad, err := f.reg.GetAd(adID)
	require.NoError(err)
	require.True(ad.Budget.IsZero())
	require.Equal(uint64(14), ad.TotalClicks)
	require.True(ad.TotalReward.Equal(decimal.NewFromInt(100)))
	require.False(ad.IsActive)
	require.True(f.ledger.BalanceOf(f.sharer).Equal(decimal.NewFromInt(100)))
}

func TestAdQueries(t *testing.T) {
	require := require.New(t)
	f := newRegistryFixture(t)

	other := ids.GenerateAddress()
	require.NoError(f.ledger.Mint(other, decimal.NewFromInt(100)))
	f.ledger.Approve(other, f.reg.Address(), decimal.NewFromInt(100))

	idA, err := f.reg.CreateAd(f.advertiser, "https://a.example", "",
		decimal.NewFromInt(100), decimal.NewFromInt(10))
	require.NoError(err)
	_, err = f.reg.CreateAd(other, "https://b.example", "",
		decimal.NewFromInt(100), decimal.NewFromInt(10))
	require.NoError(err)

	all := f.reg.GetAllAds()
	require.Len(all, 2)
	require.Equal(uint64(1), all[0].ID)
	require.Equal(uint64(2), all[1].ID)

	require.Len(f.reg.GetActiveAds(), 2)
	require.Len(f.reg.GetUserAds(f.advertiser), 1)
	require.Len(f.reg.GetUserAds(other), 1)

	// Deplete ad A; it drops out of the active set but stays queryable.
	linkID, err := f.reg.GenerateAdLink(f.sharer, idA)
	require.NoError(err)
	require.NoError(f.reg.SettleClicks(f.admin, []uint64{linkID}, []uint64{10}))

	require.Len(f.reg.GetAllAds(), 2)
	require.Len(f.reg.GetActiveAds(), 1)

	ad, err := f.reg.GetAd(idA)
	require.NoError(err)
	require.False(ad.IsActive)

	_, err = f.reg.GetAd(99)
	require.ErrorIs(err, ErrInvalidAd)
}

func BenchmarkSettleClicks(b *testing.B) {
	f := &registryFixture{
		ledger:     ledger.NewLedger(),
		admin:      ids.GenerateAddress(),
		advertiser: ids.GenerateAddress(),
		sharer:     ids.GenerateAddress(),
	}
	f.reg = NewRegistry(f.ledger, f.admin, events.NewBus(), log.NoOp())

	budget := decimal.NewFromInt(int64(b.N) + 1)
	_ = f.ledger.Mint(f.advertiser, budget)
	f.ledger.Approve(f.advertiser, f.reg.Address(), budget)

	adID, _ := f.reg.CreateAd(f.advertiser, "https://example.com", "", budget, decimal.NewFromInt(1))
	linkID, _ := f.reg.GenerateAdLink(f.sharer, adID)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = f.reg.SettleClicks(f.admin, []uint64{linkID}, []uint64{1})
	}
}
