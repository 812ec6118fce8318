// Package oracle quotes a token pair on one venue. Two strategies exist:
// constant-product pricing computed locally from reserves, and delegated
// pricing through a venue's quoter contract. Venue metadata picks the
// strategy; callers only see the Oracle interface.
package oracle

import (
	"bytes"
	"context"
	"errors"
	"math/big"

	"github.com/rs/zerolog/log"

	"github.com/croswell/dexarb/internal/catalog"
	"github.com/croswell/dexarb/internal/source"
	"github.com/croswell/dexarb/pkg/types"
)

// ErrNoLiquidity marks an expected-empty outcome: a pool with zero reserves,
// a zero quote, or a reverting quoter. Not a fault; the entry is skipped.
var ErrNoLiquidity = errors.New("oracle: no liquidity")

// Oracle quotes amountIn of pair.TokenA for pair.TokenB on one venue pool.
type Oracle interface {
	Quote(ctx context.Context, pair catalog.TradingPair, venue catalog.Venue, pool catalog.PoolRef, amountIn *big.Int) (types.Quote, error)
}

// AmountOut computes the constant-product swap output
//
//	amountOut = amountIn*(10000-feeBps) * reserveOut / (reserveIn*10000 + amountIn*(10000-feeBps))
//
// entirely in big.Int. Reserves and amounts are base-unit integers whose
// intermediate products exceed 64 bits routinely; nothing here may truncate.
func AmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps int64) *big.Int {
	scale := big.NewInt(10000)
	keep := big.NewInt(10000 - feeBps)

	amountInWithFee := new(big.Int).Mul(amountIn, keep)
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, scale)
	denominator.Add(denominator, amountInWithFee)

	return new(big.Int).Quo(numerator, denominator)
}

// FeeBps converts a fractional fee rate to basis points.
func FeeBps(rate float64) int64 {
	return int64(rate*10000 + 0.5)
}

// NormalizedPrice expresses out/in adjusted for token decimal precision.
func NormalizedPrice(amountIn *big.Int, decIn uint8, amountOut *big.Int, decOut uint8) float64 {
	in, _ := new(big.Float).SetInt(amountIn).Float64()
	out, _ := new(big.Float).SetInt(amountOut).Float64()
	if in == 0 {
		return 0
	}
	return (out / pow10(decOut)) / (in / pow10(decIn))
}

func pow10(d uint8) float64 {
	p := 1.0
	for i := uint8(0); i < d; i++ {
		p *= 10
	}
	return p
}

// ReserveOracle prices constant-product venues locally from pool reserves.
type ReserveOracle struct {
	src source.Provider
}

// NewReserveOracle creates the constant-product strategy.
func NewReserveOracle(src source.Provider) *ReserveOracle {
	return &ReserveOracle{src: src}
}

// Quote reads the pool's reserves and applies the constant-product formula.
func (o *ReserveOracle) Quote(ctx context.Context, pair catalog.TradingPair, venue catalog.Venue, pool catalog.PoolRef, amountIn *big.Int) (types.Quote, error) {
	ds, err := o.src.Get()
	if err != nil {
		return types.Quote{}, err
	}

	reserve0, reserve1, err := ds.GetReserves(ctx, pool.Address)
	if err != nil {
		return types.Quote{}, err
	}
	if reserve0.Sign() == 0 || reserve1.Sign() == 0 {
		return types.Quote{}, ErrNoLiquidity
	}

	// Pools order their tokens by ascending address; orient the reserves to
	// the pair's input token.
	reserveIn, reserveOut := reserve0, reserve1
	if bytes.Compare(pair.TokenA.Address.Bytes(), pair.TokenB.Address.Bytes()) > 0 {
		reserveIn, reserveOut = reserve1, reserve0
	}

	amountOut := AmountOut(amountIn, reserveIn, reserveOut, FeeBps(venue.FeeRate))
	if amountOut.Sign() == 0 {
		return types.Quote{}, ErrNoLiquidity
	}

	price := NormalizedPrice(amountIn, pair.TokenA.Decimals, amountOut, pair.TokenB.Decimals)
	log.Debug().
		Str("venue", venue.Name).
		Str("pair", pair.Name()).
		Float64("price", price).
		Msg("Reserve quote")

	return types.Quote{Venue: venue.Name, Price: price, AmountOut: amountOut}, nil
}

// QuoterOracle delegates pricing to the venue's quoter contract. The engine
// accepts its output verbatim and never recomputes the underlying curve.
type QuoterOracle struct {
	src source.Provider
}

// NewQuoterOracle creates the delegated strategy for tiered venues.
func NewQuoterOracle(src source.Provider) *QuoterOracle {
	return &QuoterOracle{src: src}
}

// Quote simulates the swap on the venue's quoter for the pool's fee tier.
func (o *QuoterOracle) Quote(ctx context.Context, pair catalog.TradingPair, venue catalog.Venue, pool catalog.PoolRef, amountIn *big.Int) (types.Quote, error) {
	ds, err := o.src.Get()
	if err != nil {
		return types.Quote{}, err
	}

	amountOut, err := ds.QuoteExactInputSingle(ctx, venue.Quoter, pair.TokenA.Address, pair.TokenB.Address, pool.FeeTier, amountIn)
	if err != nil {
		// Quoters revert on missing pools and empty ranges; that is an
		// expected-empty outcome, not a fault.
		log.Debug().
			Err(err).
			Str("venue", venue.Name).
			Str("pair", pair.Name()).
			Uint32("feeTier", pool.FeeTier).
			Msg("Quoter declined")
		return types.Quote{}, ErrNoLiquidity
	}
	if amountOut == nil || amountOut.Sign() == 0 {
		return types.Quote{}, ErrNoLiquidity
	}

	price := NormalizedPrice(amountIn, pair.TokenA.Decimals, amountOut, pair.TokenB.Decimals)
	return types.Quote{Venue: venue.Name, Price: price, AmountOut: amountOut, FeeTier: pool.FeeTier}, nil
}

// ForVenue selects the strategy a venue's metadata calls for.
func ForVenue(venue catalog.Venue, reserve *ReserveOracle, quoter *QuoterOracle) Oracle {
	if venue.Protocol == types.ProtocolTiered {
		return quoter
	}
	return reserve
}
