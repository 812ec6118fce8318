// Package simulator evaluates closed trading cycles by chaining single-hop
// quotes (constant-product venues) or issuing one path-encoded quoter call
// (tiered venues), forward and then back along the reversed path.
package simulator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/croswell/dexarb/internal/catalog"
	"github.com/croswell/dexarb/internal/eth"
	"github.com/croswell/dexarb/internal/oracle"
	"github.com/croswell/dexarb/internal/source"
	"github.com/croswell/dexarb/pkg/types"
)

// ErrIncomplete marks a cycle that cannot be evaluated on the venue right
// now: some hop returned zero output or has no liquidity. Expected-empty,
// never a fault.
var ErrIncomplete = errors.New("simulator: cycle incomplete")

// Result holds both legs of a cycle evaluation. AmountOut is denominated in
// the path's terminal token, AmountBack in the original input token.
type Result struct {
	AmountOut  *big.Int
	AmountBack *big.Int
}

// Simulator runs forward/reverse cycle evaluations against one data source.
type Simulator struct {
	src source.Provider

	// fixedTier is used for every hop of a tiered-venue cycle in a single
	// run. Tier selection is catalogue configuration, never searched here.
	fixedTier uint32
}

// New creates a cycle simulator.
func New(src source.Provider, fixedTier uint32) *Simulator {
	return &Simulator{src: src, fixedTier: fixedTier}
}

// SimulateCycle evaluates path on venue: forward A->B->C, then the reversed
// path with the forward output as input, yielding the round-trip amount in
// the input token.
func (s *Simulator) SimulateCycle(ctx context.Context, path catalog.TriangularPath, venue catalog.Venue, amountIn *big.Int) (Result, error) {
	pools, ok := path.HopPools[venue.Name]
	if !ok {
		return Result{}, ErrIncomplete
	}

	ds, err := s.src.Get()
	if err != nil {
		return Result{}, err
	}

	forward := []types.Token{path.Tokens[0], path.Tokens[1], path.Tokens[2]}
	reverse := []types.Token{path.Tokens[2], path.Tokens[1], path.Tokens[0]}
	forwardPools := []common.Address{pools[0], pools[1]}
	reversePools := []common.Address{pools[1], pools[0]}

	amountOut, err := s.leg(ctx, ds, venue, forward, forwardPools, amountIn)
	if err != nil {
		return Result{}, err
	}

	amountBack, err := s.leg(ctx, ds, venue, reverse, reversePools, amountOut)
	if err != nil {
		return Result{}, err
	}

	return Result{AmountOut: amountOut, AmountBack: amountBack}, nil
}

func (s *Simulator) leg(ctx context.Context, ds source.DataSource, venue catalog.Venue, tokens []types.Token, pools []common.Address, amountIn *big.Int) (*big.Int, error) {
	if venue.Protocol == types.ProtocolTiered {
		return s.quoterLeg(ctx, ds, venue, tokens, amountIn)
	}
	return s.reserveLeg(ctx, ds, venue, tokens, pools, amountIn)
}

// reserveLeg chains the constant-product formula hop by hop.
func (s *Simulator) reserveLeg(ctx context.Context, ds source.DataSource, venue catalog.Venue, tokens []types.Token, pools []common.Address, amountIn *big.Int) (*big.Int, error) {
	feeBps := oracle.FeeBps(venue.FeeRate)
	amount := amountIn

	for i := 0; i < len(tokens)-1; i++ {
		reserve0, reserve1, err := ds.GetReserves(ctx, pools[i])
		if err != nil {
			return nil, fmt.Errorf("simulator: hop %d reserves: %w", i, err)
		}
		if reserve0.Sign() == 0 || reserve1.Sign() == 0 {
			return nil, ErrIncomplete
		}

		reserveIn, reserveOut := reserve0, reserve1
		if bytes.Compare(tokens[i].Address.Bytes(), tokens[i+1].Address.Bytes()) > 0 {
			reserveIn, reserveOut = reserve1, reserve0
		}

		amount = oracle.AmountOut(amount, reserveIn, reserveOut, feeBps)
		if amount.Sign() == 0 {
			return nil, ErrIncomplete
		}
	}
	return amount, nil
}

// quoterLeg issues a single path-encoded quote for the whole leg.
func (s *Simulator) quoterLeg(ctx context.Context, ds source.DataSource, venue catalog.Venue, tokens []types.Token, amountIn *big.Int) (*big.Int, error) {
	addrs := make([]common.Address, len(tokens))
	for i, t := range tokens {
		addrs[i] = t.Address
	}
	fees := make([]uint32, len(tokens)-1)
	for i := range fees {
		fees[i] = s.fixedTier
	}

	path, err := eth.EncodePath(addrs, fees)
	if err != nil {
		return nil, err
	}

	amountOut, err := ds.QuoteExactInput(ctx, venue.Quoter, path, amountIn)
	if err != nil {
		// Quoter reverts mean some hop has no pool or no liquidity.
		return nil, ErrIncomplete
	}
	if amountOut == nil || amountOut.Sign() == 0 {
		return nil, ErrIncomplete
	}
	return amountOut, nil
}
