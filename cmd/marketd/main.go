// Copyright (C) 2025, DFMarket Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/dfmarket/marketd/internal/httpapi"
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

var (
	dataDir    = flag.String("data-dir", "/tmp/marketd", "Data directory")
	dbType     = flag.String("db", "badger", "Storage backend: badger, memory")
	apiPort    = flag.Int("api-port", 8080, "Public API port")
	adminPort  = flag.Int("admin-port", 9090, "Admin/ops port")
	logLevel   = flag.String("log-level", "info", "Log level")
	redisAddr  = flag.String("redis-addr", "", "Redis address for the click accumulator (empty = in-memory)")
	settleSpec = flag.String("settle-spec", "0 3 * * *", "Cron spec for click settlement")
	baseURL    = flag.String("base-url", "http://localhost:8080", "External base URL for share links")
	shareSalt  = flag.String("share-salt", "marketd", "Salt for ad share codes")

	// Version info
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Node wires every marketd component together.
type Node struct {
	log     log.Logger
	bus     *events.Bus
	metrics *metric.Metrics
	store   *storage.Storage

	Ledger     *ledger.Ledger
	NFTs       *nft.MemRegistry
	English    *auction.EnglishEngine
	Dutch      *auction.DutchEngine
	Ads        *adreg.Registry
	ClickStore clicks.Store
	Batcher    *settlement.Batcher

	admin ids.Address

	apiServer   *http.Server
	adminServer *http.Server
	startedAt   time.Time
	cancel      context.CancelFunc
	batcherDone chan struct{}
}

func main() {
	flag.Parse()

	fmt.Printf("marketd %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)

	logger := log.NewWithLevel(*logLevel)
	defer logger.Sync()

	node, err := NewNode(logger)
	if err != nil {
		fmt.Printf("Failed to create node: %v\n", err)
		os.Exit(1)
	}

	if err := node.Start(); err != nil {
		fmt.Printf("Failed to start node: %v\n", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := node.Shutdown(ctx); err != nil {
		fmt.Printf("Error during shutdown: %v\n", err)
	}

	fmt.Println("Daemon stopped")
}

// NewNode creates the engines, the ad registry, the click accumulator
// and the settlement batcher, and records the deployment address book.
func NewNode(logger log.Logger) (*Node, error) {
	store, err := storage.NewStorage(*dbType, *dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	bus := events.NewBus()
	metrics := metric.New()
	fl := ledger.NewLedger()
	nfts := nft.NewMemRegistry()

	english := auction.NewEnglishEngine(nfts, fl, bus, logger)
	dutch := auction.NewDutchEngine(nfts, fl, bus, logger)

	admin := ids.GenerateAddress()
	ads := adreg.NewRegistry(fl, admin, bus, logger)

	var clickStore clicks.Store
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		clickStore = clicks.NewRedisStore(rdb)
	} else {
		clickStore = clicks.NewMemStore()
	}

	gateway := settlement.NewRegistryGateway(ads, admin, store)
	batcher := settlement.NewBatcher(clickStore, gateway, store, *settleSpec, metrics, logger)

	deployments := storage.NewDeployments(store)
	for name, addr := range map[string]ids.Address{
		"EnglishAuction": english.Address(),
		"DutchAuction":   dutch.Address(),
		"AdRegistry":     ads.Address(),
	} {
		if err := deployments.Set(name, addr); err != nil {
			return nil, fmt.Errorf("failed to record deployment %s: %w", name, err)
		}
	}

	return &Node{
		log:        logger,
		bus:        bus,
		metrics:    metrics,
		store:      store,
		Ledger:     fl,
		NFTs:       nfts,
		English:    english,
		Dutch:      dutch,
		Ads:        ads,
		ClickStore: clickStore,
		Batcher:    batcher,
		admin:      admin,
	}, nil
}

// Start launches the API and admin servers and the settlement loop.
func (n *Node) Start() error {
	n.log.Info("starting marketd node")
	n.startedAt = time.Now()

	// Metrics follow the event stream so engines stay free of counters.
	go func() {
		sub := n.bus.Subscribe()
		for ev := range sub {
			n.metrics.Observe(ev)
		}
	}()

	codec, err := adreg.NewShareCodec(*shareSalt)
	if err != nil {
		return err
	}

	api := httpapi.NewServer(n.English, n.Dutch, n.Ads, n.ClickStore, codec, n.Batcher, n.bus, *baseURL, n.log)
	n.apiServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", *apiPort),
		Handler: api.Router(),
	}

	go func() {
		n.log.Info("API server listening", "port", *apiPort)
		if err := n.apiServer.ListenAndServe(); err != http.ErrServerClosed {
			n.log.Error("API server error", "error", err)
		}
	}()

	n.adminServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", *adminPort),
		Handler: n.setupAdminRoutes(),
	}

	go func() {
		n.log.Info("admin server listening", "port", *adminPort)
		if err := n.adminServer.ListenAndServe(); err != http.ErrServerClosed {
			n.log.Error("admin server error", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.batcherDone = make(chan struct{})
	go func() {
		defer close(n.batcherDone)
		if err := n.Batcher.Run(ctx); err != nil && err != context.Canceled {
			n.log.Error("settlement loop stopped", "error", err)
		}
	}()

	return nil
}

// Shutdown stops the servers, runs the final settlement drain and closes
// storage.
func (n *Node) Shutdown(ctx context.Context) error {
	n.log.Info("shutting down node")

	if err := n.apiServer.Shutdown(ctx); err != nil {
		n.log.Error("API server shutdown error", "error", err)
	}
	if err := n.adminServer.Shutdown(ctx); err != nil {
		n.log.Error("admin server shutdown error", "error", err)
	}

	// Cancelling the settlement loop triggers its final drain.
	n.cancel()
	select {
	case <-n.batcherDone:
	case <-ctx.Done():
		n.log.Warn("settlement loop did not stop in time")
	}

	return n.store.Close()
}

func (n *Node) setupAdminRoutes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", n.handleHealth).Methods("GET")
	r.HandleFunc("/info", n.handleInfo).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(n.metrics.Registry(), promhttp.HandlerOpts{})).Methods("GET")

	return r
}

func (n *Node) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(n.startedAt).String(),
	})
}

func (n *Node) handleInfo(w http.ResponseWriter, _ *http.Request) {
	deployments, err := storage.NewDeployments(n.store).All()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	addrs := make(map[string]string, len(deployments))
	for name, addr := range deployments {
		addrs[name] = addr.String()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"version":     Version,
		"commit":      GitCommit,
		"buildTime":   BuildTime,
		"deployments": addrs,
	})
}
