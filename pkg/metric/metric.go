// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dfmarket/marketd/pkg/events"
)

// Metrics holds all prometheus metrics for marketd.
type Metrics struct {
	registry *prometheus.Registry

	// Auction metrics
	AuctionsCreated   prometheus.Counter
	BidsPlaced        prometheus.Counter
	AuctionsEnded     prometheus.Counter
	ItemsBought       prometheus.Counter
	AuctionsCancelled prometheus.Counter

	// Ad metrics
	AdsCreated     prometheus.Counter
	LinksGenerated prometheus.Counter
	ClicksRecorded prometheus.Counter
	RewardSettled  prometheus.Counter

	// Settlement batcher metrics
	SettleBatches       prometheus.Counter
	SettleBatchFailures prometheus.Counter
	SettlePairs         prometheus.Counter
}

// New creates a metrics instance on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		AuctionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketd_auctions_created_total",
			Help: "Total number of auctions created",
		}),
		BidsPlaced: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketd_bids_placed_total",
			Help: "Total number of accepted bids",
		}),
		AuctionsEnded: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketd_auctions_ended_total",
			Help: "Total number of English auctions ended",
		}),
		ItemsBought: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketd_items_bought_total",
			Help: "Total number of Dutch auction purchases",
		}),
		AuctionsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketd_auctions_cancelled_total",
			Help: "Total number of Dutch auctions cancelled",
		}),
		AdsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketd_ads_created_total",
			Help: "Total number of ad campaigns created",
		}),
		LinksGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketd_ad_links_generated_total",
			Help: "Total number of ad links generated",
		}),
		ClicksRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketd_ad_clicks_recorded_total",
			Help: "Total number of ad clicks recorded",
		}),
		RewardSettled: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketd_ad_reward_settlements_total",
			Help: "Total number of per-link reward settlements",
		}),
		SettleBatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketd_settle_batches_total",
			Help: "Total number of confirmed settlement batches",
		}),
		SettleBatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketd_settle_batch_failures_total",
			Help: "Total number of failed settlement batch dispatches",
		}),
		SettlePairs: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketd_settle_pairs_total",
			Help: "Total number of (link, count) pairs settled",
		}),
	}
}

// Registry exposes the underlying registry for the metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe updates counters from a lifecycle event. Wire it to an event
// bus subscription so engines stay free of metrics plumbing.
func (m *Metrics) Observe(ev events.Event) {
	switch ev.Type {
	case events.TypeAuctionCreated:
		m.AuctionsCreated.Inc()
	case events.TypeBidPlaced:
		m.BidsPlaced.Inc()
	case events.TypeAuctionEnded:
		m.AuctionsEnded.Inc()
	case events.TypeItemBought:
		m.ItemsBought.Inc()
	case events.TypeAuctionCancelled:
		m.AuctionsCancelled.Inc()
	case events.TypeAdCreated:
		m.AdsCreated.Inc()
	case events.TypeLinkGenerated:
		m.LinksGenerated.Inc()
	case events.TypeClicksSettled:
		m.RewardSettled.Inc()
	}
}
