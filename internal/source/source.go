// Package source defines the data-source capability consumed by the engine.
// The on-chain protocol details live behind this interface; the engine never
// talks to a node directly.
package source

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNoStream is returned by SubscribeNewHeads on transports that cannot
// stream (the polling fallback).
var ErrNoStream = errors.New("source: transport does not support streaming")

// Subscription is a live head subscription, matching the go-ethereum shape.
type Subscription interface {
	Err() <-chan error
	Unsubscribe()
}

// DataSource is the set of read capabilities the engine consumes.
//
// All methods take a context and must honour its deadline; a hung call on
// one catalogue entry must not stall the scan.
type DataSource interface {
	// GetReserves returns (reserve0, reserve1) for a constant-product pool.
	GetReserves(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error)

	// GetPoolAddress resolves a pair to its pool on a factory. The zero
	// address means the pool does not exist; that is not an error.
	GetPoolAddress(ctx context.Context, factory, tokenA, tokenB common.Address) (common.Address, error)

	// QuoteExactInputSingle simulates a single-hop swap on a tiered venue's
	// quoter contract and returns the output amount.
	QuoteExactInputSingle(ctx context.Context, quoter, tokenIn, tokenOut common.Address, feeTier uint32, amountIn *big.Int) (*big.Int, error)

	// QuoteExactInput simulates a multi-hop swap along a packed path.
	QuoteExactInput(ctx context.Context, quoter common.Address, path []byte, amountIn *big.Int) (*big.Int, error)

	// GasPrice returns the current suggested gas price in wei.
	GasPrice(ctx context.Context) (*big.Int, error)

	// BlockNumber returns the latest block number. Also used as the
	// connection health probe.
	BlockNumber(ctx context.Context) (uint64, error)

	// SubscribeNewHeads streams new block numbers. Streaming transports
	// only; the polling fallback returns ErrNoStream.
	SubscribeNewHeads(ctx context.Context, ch chan<- uint64) (Subscription, error)

	Close()
}

// ErrNotConnected is returned when no handle has been established yet.
var ErrNotConnected = errors.New("source: no live data source")

// Provider yields the current live handle. Consumers must call it per
// operation rather than caching the result, so a mid-scan reconnect never
// leaves them holding a dead handle.
type Provider func() DataSource

// Get resolves the current handle, returning ErrNotConnected instead of nil.
func (p Provider) Get() (DataSource, error) {
	ds := p()
	if ds == nil {
		return nil, ErrNotConnected
	}
	return ds, nil
}
