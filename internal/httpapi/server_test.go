// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dfmarket/marketd/pkg/adreg"
	"github.com/dfmarket/marketd/pkg/auction"
	"github.com/dfmarket/marketd/pkg/clicks"
	"github.com/dfmarket/marketd/pkg/events"
	"github.com/dfmarket/marketd/pkg/ids"
	"github.com/dfmarket/marketd/pkg/ledger"
	"github.com/dfmarket/marketd/pkg/log"
	"github.com/dfmarket/marketd/pkg/metric"
	"github.com/dfmarket/marketd/pkg/nft"
	"github.com/dfmarket/marketd/pkg/settlement"
	"github.com/dfmarket/marketd/pkg/storage"
)

type apiFixture struct {
	router *gin.Engine

	ledger *ledger.Ledger
	ads    *adreg.Registry
	store  *clicks.MemStore

	advertiser ids.Address
	sharer     ids.Address
	adID       uint64
	linkID     uint64
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	f := &apiFixture{
		ledger:     ledger.NewLedger(),
		store:      clicks.NewMemStore(),
		advertiser: ids.GenerateAddress(),
		sharer:     ids.GenerateAddress(),
	}

	bus := events.NewBus()
	nfts := nft.NewMemRegistry()
	english := auction.NewEnglishEngine(nfts, f.ledger, bus, log.NoOp())
	dutch := auction.NewDutchEngine(nfts, f.ledger, bus, log.NoOp())

	admin := ids.GenerateAddress()
	f.ads = adreg.NewRegistry(f.ledger, admin, bus, log.NoOp())

	require.NoError(t, f.ledger.Mint(f.advertiser, decimal.NewFromInt(10_000)))
	f.ledger.Approve(f.advertiser, f.ads.Address(), decimal.NewFromInt(10_000))

	var err error
	f.adID, err = f.ads.CreateAd(f.advertiser, "https://example.com/landing", "",
		decimal.NewFromInt(1000), decimal.NewFromInt(10))
	require.NoError(t, err)
	f.linkID, err = f.ads.GenerateAdLink(f.sharer, f.adID)
	require.NoError(t, err)

	journal, err := storage.NewStorage("memory", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	gateway := settlement.NewRegistryGateway(f.ads, admin, journal)
	batcher := settlement.NewBatcher(f.store, gateway, journal, "0 3 * * *",
		metric.New(), log.NoOp())

	codec, err := adreg.NewShareCodec("test-salt")
	require.NoError(t, err)

	server := NewServer(english, dutch, f.ads, f.store, codec, batcher, bus,
		"http://localhost:8080", log.NoOp())
	f.router = server.Router()

	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	require := require.New(t)
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(http.StatusOK, w.Code)
	require.Contains(w.Body.String(), "healthy")
}

func TestAdEndpoints(t *testing.T) {
	require := require.New(t)
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/ads", nil)
	require.Equal(http.StatusOK, w.Code)

	var ads []adreg.Ad
	require.NoError(json.Unmarshal(w.Body.Bytes(), &ads))
	require.Len(ads, 1)
	require.Equal(f.adID, ads[0].ID)

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/ads/%d", f.adID), nil)
	require.Equal(http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/ads/999", nil)
	require.Equal(http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/ads/user/"+f.advertiser.String(), nil)
	require.Equal(http.StatusOK, w.Code)
	require.NoError(json.Unmarshal(w.Body.Bytes(), &ads))
	require.Len(ads, 1)

	w = f.do(t, http.MethodGet, "/api/v1/ads/user/garbage", nil)
	require.Equal(http.StatusBadRequest, w.Code)
}

func TestGenerateLinkEndpoint(t *testing.T) {
	require := require.New(t)
	f := newAPIFixture(t)

	user := ids.GenerateAddress()
	w := f.do(t, http.MethodPost, "/api/v1/ads/generate-link", gin.H{
		"adId": f.adID,
		"user": user.String(),
	})
	require.Equal(http.StatusOK, w.Code)

	var resp struct {
		LinkID uint64 `json:"linkId"`
		AdLink string `json:"adLink"`
	}
	require.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotZero(resp.LinkID)
	require.True(strings.HasPrefix(resp.AdLink, "http://localhost:8080/ad/redirect/"))

	// The share link round-trips through the redirect endpoint and
	// records a click.
	path := strings.TrimPrefix(resp.AdLink, "http://localhost:8080")
	w = f.do(t, http.MethodGet, path, nil)
	require.Equal(http.StatusFound, w.Code)
	require.Equal("https://example.com/landing", w.Header().Get("Location"))

	pending, err := f.store.DrainPending(context.Background())
	require.NoError(err)
	require.Equal([]clicks.Pending{{AdID: f.adID, LinkID: resp.LinkID, Count: 1}}, pending)

	w = f.do(t, http.MethodPost, "/api/v1/ads/generate-link", gin.H{
		"adId": uint64(999),
		"user": user.String(),
	})
	require.Equal(http.StatusNotFound, w.Code)
}

func TestRecordClickEndpoint(t *testing.T) {
	require := require.New(t)
	f := newAPIFixture(t)

	path := fmt.Sprintf("/api/ad/click?adId=%d&linkId=%d", f.adID, f.linkID)
	w := f.do(t, http.MethodGet, path, nil)
	require.Equal(http.StatusFound, w.Code)
	require.Equal("https://example.com/landing", w.Header().Get("Location"))

	w = f.do(t, http.MethodGet, path, nil)
	require.Equal(http.StatusFound, w.Code)

	pending, err := f.store.DrainPending(context.Background())
	require.NoError(err)
	require.Equal([]clicks.Pending{{AdID: f.adID, LinkID: f.linkID, Count: 2}}, pending)

	w = f.do(t, http.MethodGet, "/api/ad/click?adId=999&linkId=1", nil)
	require.Equal(http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/ad/click", nil)
	require.Equal(http.StatusBadRequest, w.Code)
}

// TestRecordClickRejectsUnknownLink covers forged query strings: a link
// id the registry never issued, or one issued for a different ad, must
// not plant an accumulator cell.
func TestRecordClickRejectsUnknownLink(t *testing.T) {
	require := require.New(t)
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, fmt.Sprintf("/api/ad/click?adId=%d&linkId=999", f.adID), nil)
	require.Equal(http.StatusNotFound, w.Code)

	// A real link presented against the wrong ad is rejected too.
	otherAd, err := f.ads.CreateAd(f.advertiser, "https://other.example", "",
		decimal.NewFromInt(100), decimal.NewFromInt(10))
	require.NoError(err)
	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/ad/click?adId=%d&linkId=%d", otherAd, f.linkID), nil)
	require.Equal(http.StatusNotFound, w.Code)

	pending, err := f.store.DrainPending(context.Background())
	require.NoError(err)
	require.Empty(pending)
}

func TestRedirectShareLinkBadCode(t *testing.T) {
	require := require.New(t)
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/ad/redirect/not-a-code", nil)
	require.Equal(http.StatusNotFound, w.Code)
}

func TestTriggerSettlement(t *testing.T) {
	require := require.New(t)
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/settle", nil)
	require.Equal(http.StatusAccepted, w.Code)
}

func TestAuctionEndpointsEmpty(t *testing.T) {
	require := require.New(t)
	f := newAPIFixture(t)

	for _, path := range []string{
		"/api/v1/auctions/english",
		"/api/v1/auctions/english/all",
		"/api/v1/auctions/dutch",
		"/api/v1/auctions/dutch/all",
	} {
		w := f.do(t, http.MethodGet, path, nil)
		require.Equal(http.StatusOK, w.Code, path)
		require.Equal("[]", strings.TrimSpace(w.Body.String()), path)
	}

	nftAddr := ids.GenerateAddress()
	w := f.do(t, http.MethodGet, "/api/v1/auctions/english/"+nftAddr.String()+"/0", nil)
	require.Equal(http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/auctions/dutch/"+nftAddr.String()+"/0/price", nil)
	require.Equal(http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/auctions/english/garbage/0", nil)
	require.Equal(http.StatusBadRequest, w.Code)
}
