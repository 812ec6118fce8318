// Package sourcetest provides a configurable in-memory DataSource for unit
// tests. Behaviour is supplied per method; anything left nil falls back to a
// harmless default.
package sourcetest

import (
	"context"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/croswell/dexarb/internal/source"
)

// Sub is a test subscription whose error channel the test controls.
type Sub struct {
	errc chan error
}

// NewSub creates an idle subscription.
func NewSub() *Sub {
	return &Sub{errc: make(chan error, 1)}
}

// Fail injects a subscription error, simulating a dropped connection.
func (s *Sub) Fail(err error) {
	select {
	case s.errc <- err:
	default:
	}
}

func (s *Sub) Err() <-chan error { return s.errc }
func (s *Sub) Unsubscribe()      {}

// Fake implements source.DataSource with pluggable behaviour.
type Fake struct {
	GetReservesFn    func(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error)
	GetPoolAddressFn func(ctx context.Context, factory, tokenA, tokenB common.Address) (common.Address, error)
	QuoteSingleFn    func(ctx context.Context, quoter, tokenIn, tokenOut common.Address, feeTier uint32, amountIn *big.Int) (*big.Int, error)
	QuotePathFn      func(ctx context.Context, quoter common.Address, path []byte, amountIn *big.Int) (*big.Int, error)
	GasPriceFn       func(ctx context.Context) (*big.Int, error)
	BlockNumberFn    func(ctx context.Context) (uint64, error)
	SubscribeFn      func(ctx context.Context, ch chan<- uint64) (source.Subscription, error)

	gasCalls atomic.Int64
}

// GasCalls reports how many times GasPrice was invoked.
func (f *Fake) GasCalls() int64 { return f.gasCalls.Load() }

// Provider wraps the fake in the indirection the engine consumes.
func (f *Fake) Provider() source.Provider {
	return func() source.DataSource { return f }
}

func (f *Fake) GetReserves(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
	if f.GetReservesFn != nil {
		return f.GetReservesFn(ctx, pool)
	}
	return big.NewInt(0), big.NewInt(0), nil
}

func (f *Fake) GetPoolAddress(ctx context.Context, factory, tokenA, tokenB common.Address) (common.Address, error) {
	if f.GetPoolAddressFn != nil {
		return f.GetPoolAddressFn(ctx, factory, tokenA, tokenB)
	}
	return common.Address{}, nil
}

func (f *Fake) QuoteExactInputSingle(ctx context.Context, quoter, tokenIn, tokenOut common.Address, feeTier uint32, amountIn *big.Int) (*big.Int, error) {
	if f.QuoteSingleFn != nil {
		return f.QuoteSingleFn(ctx, quoter, tokenIn, tokenOut, feeTier, amountIn)
	}
	return big.NewInt(0), nil
}

func (f *Fake) QuoteExactInput(ctx context.Context, quoter common.Address, path []byte, amountIn *big.Int) (*big.Int, error) {
	if f.QuotePathFn != nil {
		return f.QuotePathFn(ctx, quoter, path, amountIn)
	}
	return big.NewInt(0), nil
}

func (f *Fake) GasPrice(ctx context.Context) (*big.Int, error) {
	f.gasCalls.Add(1)
	if f.GasPriceFn != nil {
		return f.GasPriceFn(ctx)
	}
	return big.NewInt(1_000_000), nil
}

func (f *Fake) BlockNumber(ctx context.Context) (uint64, error) {
	if f.BlockNumberFn != nil {
		return f.BlockNumberFn(ctx)
	}
	return 1, nil
}

func (f *Fake) SubscribeNewHeads(ctx context.Context, ch chan<- uint64) (source.Subscription, error) {
	if f.SubscribeFn != nil {
		return f.SubscribeFn(ctx, ch)
	}
	return nil, source.ErrNoStream
}

func (f *Fake) Close() {}
