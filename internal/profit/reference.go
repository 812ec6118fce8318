package profit

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/croswell/dexarb/internal/catalog"
	"github.com/croswell/dexarb/internal/oracle"
	"github.com/croswell/dexarb/internal/source"
)

// Reference maintains the quote-currency price of the settlement asset
// (e.g. USD per ETH), used only for display conversion of net profits.
// Staleness never blocks detection: a failed refresh keeps the last value.
type Reference struct {
	src source.Provider

	mu    sync.RWMutex
	price float64

	bound bool
	pair  catalog.TradingPair
	pool  catalog.PoolRef
}

// NewReference creates a reference seeded with a static price.
func NewReference(src source.Provider, static float64) *Reference {
	return &Reference{src: src, price: static}
}

// Bind attaches a constant-product pool whose mid-market rate refreshes the
// reference each scan. Without a binding the static price is used as-is.
func (r *Reference) Bind(pair catalog.TradingPair, pool catalog.PoolRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bound = true
	r.pair = pair
	r.pool = pool
}

// Price returns the current reference price.
func (r *Reference) Price() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.price
}

// Refresh re-reads the bound pool's spot rate. Failures are reported but
// leave the previous price in place.
func (r *Reference) Refresh(ctx context.Context) error {
	r.mu.RLock()
	bound := r.bound
	pair := r.pair
	pool := r.pool
	r.mu.RUnlock()

	if !bound {
		return nil
	}

	ds, err := r.src.Get()
	if err != nil {
		return err
	}

	reserve0, reserve1, err := ds.GetReserves(ctx, pool.Address)
	if err != nil {
		return fmt.Errorf("profit: reference refresh: %w", err)
	}
	if reserve0.Sign() == 0 || reserve1.Sign() == 0 {
		return fmt.Errorf("profit: reference pool %s has no liquidity", pool.Address.Hex())
	}

	reserveIn, reserveOut := reserve0, reserve1
	if bytes.Compare(pair.TokenA.Address.Bytes(), pair.TokenB.Address.Bytes()) > 0 {
		reserveIn, reserveOut = reserve1, reserve0
	}

	price := oracle.NormalizedPrice(reserveIn, pair.TokenA.Decimals, reserveOut, pair.TokenB.Decimals)
	if price <= 0 {
		return fmt.Errorf("profit: reference pool produced non-positive price")
	}

	r.mu.Lock()
	r.price = price
	r.mu.Unlock()

	log.Debug().Float64("price", price).Str("pair", pair.Name()).Msg("Reference price refreshed")
	return nil
}
