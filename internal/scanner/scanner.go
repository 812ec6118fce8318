// Package scanner sweeps the catalogue on demand: every pair is quoted on
// every configured venue, every triangular path is simulated per venue, and
// surviving opportunities come back costed and ranked. One sweep runs at a
// time; a scan arriving while another is active is rejected, not queued.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/croswell/dexarb/internal/catalog"
	"github.com/croswell/dexarb/internal/config"
	"github.com/croswell/dexarb/internal/oracle"
	"github.com/croswell/dexarb/internal/profit"
	"github.com/croswell/dexarb/internal/simulator"
	"github.com/croswell/dexarb/internal/source"
	"github.com/croswell/dexarb/pkg/types"
)

// ErrScanInProgress is returned when Scan is called while a sweep is already
// running. Callers retry on the next tick; results never interleave.
var ErrScanInProgress = errors.New("scanner: scan already in progress")

const eventBuffer = 64

// Scanner orchestrates one catalogue sweep per Scan call.
type Scanner struct {
	cat     *catalog.Catalog
	src     source.Provider
	reserve *oracle.ReserveOracle
	quoter  *oracle.QuoterOracle
	sim     *simulator.Simulator
	calc    *profit.Calculator
	ref     *profit.Reference
	cfg     config.ScannerConfig

	amountIn *big.Int

	scanMu sync.Mutex // held for the duration of a sweep
	events chan *types.Opportunity
}

// New wires a scanner over a shared data-source provider. The probe amount
// is parsed once here so a malformed configuration fails at startup.
func New(cat *catalog.Catalog, src source.Provider, calc *profit.Calculator, ref *profit.Reference, sim *simulator.Simulator, cfg config.ScannerConfig) (*Scanner, error) {
	amountIn, ok := new(big.Int).SetString(cfg.InputAmountWei, 10)
	if !ok || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("scanner: invalid input_amount_wei %q", cfg.InputAmountWei)
	}
	return &Scanner{
		cat:      cat,
		src:      src,
		reserve:  oracle.NewReserveOracle(src),
		quoter:   oracle.NewQuoterOracle(src),
		sim:      sim,
		calc:     calc,
		ref:      ref,
		cfg:      cfg,
		amountIn: amountIn,
		events:   make(chan *types.Opportunity, eventBuffer),
	}, nil
}

// Events streams every opportunity as the sweep finds it, before the final
// ranking. The channel never blocks a sweep: when the consumer lags, the
// oldest queued event is dropped to make room.
func (s *Scanner) Events() <-chan *types.Opportunity {
	return s.events
}

// ordered pairs an opportunity with its catalogue position for stable
// tie-breaking after the concurrent collection phase.
type ordered struct {
	opp   *types.Opportunity
	index int
}

// Scan sweeps the full catalogue once and returns the surviving
// opportunities sorted by descending net profit. Individual pair or path
// failures are logged and skipped; only a rejected overlap or an unusable
// connection fails the sweep itself.
func (s *Scanner) Scan(ctx context.Context) ([]*types.Opportunity, error) {
	if !s.scanMu.TryLock() {
		return nil, ErrScanInProgress
	}
	defer s.scanMu.Unlock()

	ds, err := s.src.Get()
	if err != nil {
		return nil, err
	}

	// One reference refresh and one block marker per sweep. Every
	// opportunity this scan emits carries the same block number.
	if err := s.ref.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Reference price refresh failed, keeping previous value")
	}
	block, err := ds.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanner: block marker: %w", err)
	}

	var (
		mu      sync.Mutex
		results []ordered
	)
	collect := func(index int, opps ...*types.Opportunity) {
		mu.Lock()
		for _, opp := range opps {
			if opp != nil {
				results = append(results, ordered{opp: opp, index: index})
			}
		}
		mu.Unlock()
		for _, opp := range opps {
			if opp != nil {
				s.emit(opp)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)

	for i := range s.cat.Pairs {
		pair := s.cat.Pairs[i]
		index := i
		g.Go(func() error {
			entryCtx, cancel := context.WithTimeout(gctx, s.cfg.EntryTimeout)
			defer cancel()
			opps, err := s.scanPair(entryCtx, pair, block)
			if err != nil {
				log.Warn().Err(err).Str("pair", pair.Name()).Msg("Pair scan failed, skipping")
				return nil
			}
			collect(index, opps...)
			return nil
		})
	}

	pathBase := len(s.cat.Pairs)
	for i := range s.cat.Paths {
		path := s.cat.Paths[i]
		index := pathBase + i
		g.Go(func() error {
			entryCtx, cancel := context.WithTimeout(gctx, s.cfg.EntryTimeout)
			defer cancel()
			opp, err := s.scanPath(entryCtx, path, block)
			if err != nil {
				log.Warn().Err(err).Str("path", path.Name()).Msg("Path scan failed, skipping")
				return nil
			}
			collect(index, opp)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(a, b int) bool {
		if results[a].opp.NetProfit != results[b].opp.NetProfit {
			return results[a].opp.NetProfit > results[b].opp.NetProfit
		}
		return results[a].index < results[b].index
	})

	opps := make([]*types.Opportunity, len(results))
	for i, r := range results {
		opps[i] = r.opp
	}
	return opps, nil
}

// sample is one usable venue quote with its effective per-swap fee.
type sample struct {
	quote types.Quote
	fee   float64
	proto types.Protocol
}

// scanPair quotes the pair on every configured venue and evaluates the best
// buy/sell spread per quote set. Cross-protocol merging folds both protocol
// families into one set; otherwise each family competes only with itself.
func (s *Scanner) scanPair(ctx context.Context, pair catalog.TradingPair, block uint64) ([]*types.Opportunity, error) {
	var cp, tiered []sample

	for venueName, pools := range pair.Pools {
		venue := s.cat.Venues[venueName]
		o := oracle.ForVenue(venue, s.reserve, s.quoter)
		for _, pool := range pools {
			q, err := o.Quote(ctx, pair, venue, pool, s.amountIn)
			if errors.Is(err, oracle.ErrNoLiquidity) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if q.Price <= 0 {
				continue
			}
			smp := sample{quote: q, fee: effectiveFee(venue, pool.FeeTier), proto: venue.Protocol}
			if venue.Protocol == types.ProtocolTiered {
				tiered = append(tiered, smp)
			} else {
				cp = append(cp, smp)
			}
		}
	}

	var sets [][]sample
	if s.cfg.CrossProtocol {
		sets = [][]sample{append(append([]sample{}, cp...), tiered...)}
	} else {
		sets = [][]sample{cp, tiered}
	}

	var opps []*types.Opportunity
	for _, set := range sets {
		if len(set) < 2 {
			continue
		}
		buy, sell := set[0], set[0]
		for _, smp := range set[1:] {
			if smp.quote.Price < buy.quote.Price {
				buy = smp
			}
			if smp.quote.Price > sell.quote.Price {
				sell = smp
			}
		}
		if sell.quote.Price <= buy.quote.Price {
			continue
		}

		kind := types.KindPairCross
		if buy.proto != sell.proto {
			kind = types.KindCrossProtocol
		}

		opp, err := s.calc.Simple(ctx, profit.SimpleInput{
			Kind:          kind,
			Pair:          pair.Name(),
			BuyVenue:      buy.quote.Venue,
			BuyPrice:      buy.quote.Price,
			SellVenue:     sell.quote.Venue,
			SellPrice:     sell.quote.Price,
			FeeTierBuy:    buy.quote.FeeTier,
			FeeTierSell:   sell.quote.FeeTier,
			InputAmount:   s.amountIn,
			InputDecimals: pair.TokenA.Decimals,
			FeeRate:       (buy.fee + sell.fee) / 2,
			BlockNumber:   block,
		})
		if err != nil {
			return nil, err
		}
		if opp != nil {
			opps = append(opps, opp)
		}
	}
	return opps, nil
}

// scanPath simulates the cycle on each venue carrying both hops and keeps
// the single most profitable outcome for the path.
func (s *Scanner) scanPath(ctx context.Context, path catalog.TriangularPath, block uint64) (*types.Opportunity, error) {
	venueNames := make([]string, 0, len(path.HopPools))
	for name := range path.HopPools {
		venueNames = append(venueNames, name)
	}
	sort.Strings(venueNames)

	var best *types.Opportunity
	for _, name := range venueNames {
		venue := s.cat.Venues[name]
		res, err := s.sim.SimulateCycle(ctx, path, venue, s.amountIn)
		if errors.Is(err, simulator.ErrIncomplete) {
			continue
		}
		if err != nil {
			return nil, err
		}

		opp, err := s.calc.Triangular(ctx, profit.TriangularInput{
			Pair:          path.Name(),
			Venue:         name,
			Path:          path.Symbols(),
			InputAmount:   s.amountIn,
			AmountOut:     res.AmountOut,
			AmountBack:    res.AmountBack,
			InputDecimals: path.Tokens[0].Decimals,
			FeeRate:       effectiveFee(venue, s.cfg.FixedFeeTier),
			BlockNumber:   block,
		})
		if err != nil {
			return nil, err
		}
		if opp != nil && (best == nil || opp.NetProfit > best.NetProfit) {
			best = opp
		}
	}
	return best, nil
}

// emit queues an event without ever blocking the sweep. A full buffer sheds
// the oldest event first.
func (s *Scanner) emit(opp *types.Opportunity) {
	for {
		select {
		case s.events <- opp:
			return
		default:
			select {
			case <-s.events:
			default:
			}
		}
	}
}

// effectiveFee is the per-swap fee fraction of a venue. Tiered venues charge
// the pool's tier (parts per million); constant-product venues charge their
// flat rate.
func effectiveFee(venue catalog.Venue, feeTier uint32) float64 {
	if venue.Protocol == types.ProtocolTiered && feeTier > 0 {
		return float64(feeTier) / 1_000_000
	}
	return venue.FeeRate
}
