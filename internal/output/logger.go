// Package output configures structured logging and reports scan results and
// running totals.
package output

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/croswell/dexarb/internal/config"
	"github.com/croswell/dexarb/pkg/types"
)

// Setup configures the global zerolog logger.
func Setup(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}
}

// Stats accumulates totals across scans for periodic reporting.
type Stats struct {
	mu                 sync.Mutex
	ScansCompleted     uint64
	OpportunitiesFound uint64
	TotalNetProfit     float64
	startTime          time.Time
}

// NewStats creates a stats tracker anchored at the current time.
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

// RecordScan folds one completed sweep into the totals.
func (s *Stats) RecordScan(opps []*types.Opportunity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ScansCompleted++
	s.OpportunitiesFound += uint64(len(opps))
	for _, opp := range opps {
		s.TotalNetProfit += opp.NetProfit
	}
}

// LogStats emits the running totals.
func (s *Stats) LogStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	log.Info().
		Uint64("scansCompleted", s.ScansCompleted).
		Uint64("opportunitiesFound", s.OpportunitiesFound).
		Float64("totalNetProfit", s.TotalNetProfit).
		Str("uptime", time.Since(s.startTime).Round(time.Second).String()).
		Msg("Scanner statistics")
}

// LogOpportunity reports one detected opportunity at the level its size
// warrants. alertThreshold is in native input-token units.
func LogOpportunity(opp *types.Opportunity, alertThreshold float64) {
	event := log.Info()
	if opp.NetProfit >= alertThreshold {
		event = log.Warn().Str("alert", "high_profit")
	}

	event = event.
		Str("kind", string(opp.Kind)).
		Str("pair", opp.Pair).
		Float64("grossProfit", opp.GrossProfit).
		Float64("netProfit", opp.NetProfit).
		Float64("netProfitQuote", opp.NetProfitQuote).
		Uint64("block", opp.BlockNumber)

	switch opp.Kind {
	case types.KindTriangular:
		event = event.
			Str("venue", opp.Venue).
			Strs("path", opp.Path)
	default:
		event = event.
			Str("buyVenue", opp.BuyVenue).
			Float64("buyPrice", opp.BuyPrice).
			Str("sellVenue", opp.SellVenue).
			Float64("sellPrice", opp.SellPrice)
	}

	event.Msg("Arbitrage opportunity detected")
}

// LogScanComplete reports the outcome of one sweep.
func LogScanComplete(found int, block uint64, elapsed time.Duration) {
	log.Info().
		Int("opportunities", found).
		Uint64("block", block).
		Dur("elapsed", elapsed).
		Msg("Scan complete")
}
