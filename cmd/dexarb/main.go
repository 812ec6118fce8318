package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/croswell/dexarb/internal/api"
	"github.com/croswell/dexarb/internal/cache"
	"github.com/croswell/dexarb/internal/catalog"
	"github.com/croswell/dexarb/internal/config"
	"github.com/croswell/dexarb/internal/conn"
	"github.com/croswell/dexarb/internal/eth"
	"github.com/croswell/dexarb/internal/output"
	"github.com/croswell/dexarb/internal/profit"
	"github.com/croswell/dexarb/internal/scanner"
	"github.com/croswell/dexarb/internal/simulator"
	"github.com/croswell/dexarb/internal/source"
	"github.com/croswell/dexarb/internal/store"
)

const statsInterval = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	output.Setup(cfg.Logging)
	log.Info().Msg("Starting arbitrage scanner")

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load catalogue")
	}
	log.Info().
		Int("tokens", len(cat.Tokens)).
		Int("venues", len(cat.Venues)).
		Int("pairs", len(cat.Pairs)).
		Int("paths", len(cat.Paths)).
		Msg("Catalogue loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr := conn.NewManager(eth.NewDialer(cfg.RPC), cfg.Connection)
	mgrDone := make(chan error, 1)
	go func() { mgrDone <- mgr.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(ctx, time.Minute)
	err = mgr.WaitReady(waitCtx)
	waitCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("No usable connection")
	}
	provider := mgr.Provider()

	if cfg.Catalog.ResolvePools {
		ds, err := provider.Get()
		if err != nil {
			log.Fatal().Err(err).Msg("No connection for pool resolution")
		}
		if err := cat.ResolvePools(ctx, ds); err != nil {
			log.Fatal().Err(err).Msg("Failed to resolve pools")
		}
	}

	ref := profit.NewReference(provider, cfg.Profit.ReferencePrice)
	bindReference(ref, cat, cfg.Profit)

	calc := profit.NewCalculator(provider, ref, cfg.Profit)
	sim := simulator.New(provider, cfg.Scanner.FixedFeeTier)

	sc, err := scanner.New(cat, provider, calc, ref, sim, cfg.Scanner)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scanner")
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open opportunity store")
	}
	defer st.Close()

	ca, err := cache.New(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to redis")
	}
	defer ca.Close()

	stats := output.NewStats()
	go runSink(ctx, sc, st, ca, cfg.Scanner.AlertThreshold)

	// New heads nudge the scanner between ticks. Coalesced to one pending
	// trigger; the scanner rejects overlaps anyway.
	scanTrigger := make(chan uint64, 1)
	if err := mgr.Subscribe("scan-on-head", headTrigger(ctx, scanTrigger)); err != nil {
		log.Warn().Err(err).Msg("Head-triggered scanning unavailable")
	}

	var srv *api.Server
	if cfg.Server.Enabled {
		srv = api.New(cfg.Server.Addr, st, sc, mgr, ca)
		go func() {
			if err := srv.Start(); err != nil {
				log.Error().Err(err).Msg("HTTP API stopped")
			}
		}()
	}

	ticker := time.NewTicker(cfg.Scanner.Interval)
	defer ticker.Stop()
	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()

	runScan(ctx, sc, ca, stats)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-mgrDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Connection manager stopped")
			}
			break loop
		case <-ticker.C:
			runScan(ctx, sc, ca, stats)
		case block := <-scanTrigger:
			log.Debug().Uint64("block", block).Msg("Head-triggered scan")
			runScan(ctx, sc, ca, stats)
		case <-statsTicker.C:
			stats.LogStats()
		}
	}

	log.Info().Msg("Shutting down")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown failed")
		}
		cancel()
	}
	stats.LogStats()
}

// runScan executes one sweep and caches the snapshot. Overlap rejections and
// scan failures are reported, never fatal.
func runScan(ctx context.Context, sc *scanner.Scanner, ca *cache.Cache, stats *output.Stats) {
	start := time.Now()
	opps, err := sc.Scan(ctx)
	if errors.Is(err, scanner.ErrScanInProgress) {
		log.Debug().Msg("Scan tick skipped, sweep still running")
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("Scan failed")
		return
	}

	stats.RecordScan(opps)

	var block uint64
	if len(opps) > 0 {
		block = opps[0].BlockNumber
	}
	output.LogScanComplete(len(opps), block, time.Since(start))

	if err := ca.SetLatestScan(ctx, cache.Snapshot{
		BlockNumber:   block,
		ScannedAt:     time.Now().UTC(),
		Opportunities: opps,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to cache scan snapshot")
	}
}

// runSink drains detected opportunities into the store and pub/sub.
func runSink(ctx context.Context, sc *scanner.Scanner, st *store.Store, ca *cache.Cache, alertThreshold float64) {
	for {
		select {
		case <-ctx.Done():
			return
		case opp := <-sc.Events():
			output.LogOpportunity(opp, alertThreshold)
			if err := st.Insert(ctx, opp); err != nil {
				log.Error().Err(err).Msg("Failed to store opportunity")
			}
			if err := ca.Publish(ctx, opp); err != nil {
				log.Warn().Err(err).Msg("Failed to publish opportunity")
			}
		}
	}
}

// headTrigger builds a restore procedure that forwards new heads into
// trigger. On polling transports head subscriptions are unavailable and the
// trigger simply stays quiet until a streaming transport returns.
func headTrigger(ctx context.Context, trigger chan<- uint64) conn.RestoreFunc {
	return func(ds source.DataSource) error {
		heads := make(chan uint64, 16)
		sub, err := ds.SubscribeNewHeads(ctx, heads)
		if errors.Is(err, source.ErrNoStream) {
			return nil
		}
		if err != nil {
			return err
		}
		go func() {
			defer sub.Unsubscribe()
			for {
				select {
				case <-ctx.Done():
					return
				case err := <-sub.Err():
					log.Debug().Err(err).Msg("Head trigger subscription ended")
					return
				case block := <-heads:
					select {
					case trigger <- block:
					default:
					}
				}
			}
		}()
		return nil
	}
}

// bindReference attaches the reference price to a catalogue pool when one is
// configured; otherwise the static price stands.
func bindReference(ref *profit.Reference, cat *catalog.Catalog, cfg config.ProfitConfig) {
	if cfg.ReferencePair == "" || cfg.ReferenceVenue == "" {
		return
	}
	for _, pair := range cat.Pairs {
		if pair.Name() != cfg.ReferencePair {
			continue
		}
		pools := pair.Pools[cfg.ReferenceVenue]
		if len(pools) == 0 {
			break
		}
		ref.Bind(pair, pools[0])
		log.Info().
			Str("pair", cfg.ReferencePair).
			Str("venue", cfg.ReferenceVenue).
			Msg("Reference price bound to catalogue pool")
		return
	}
	log.Warn().
		Str("pair", cfg.ReferencePair).
		Str("venue", cfg.ReferenceVenue).
		Msg("Reference pool not found in catalogue, using static price")
}
