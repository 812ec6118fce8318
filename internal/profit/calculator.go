// Package profit costs raw price discrepancies into fully burdened
// opportunities. Every cost component (swap fees, gas, safety margin) is
// charged in native input-token units; a candidate survives only when the
// net remains positive.
package profit

import (
	"context"
	"math/big"
	"time"

	"github.com/croswell/dexarb/internal/config"
	"github.com/croswell/dexarb/internal/source"
	"github.com/croswell/dexarb/pkg/types"
)

// SimpleInput is a two-venue price discrepancy awaiting costing.
type SimpleInput struct {
	Kind        types.OpportunityKind
	Pair        string
	BuyVenue    string
	BuyPrice    float64
	SellVenue   string
	SellPrice   float64
	FeeTierBuy  uint32
	FeeTierSell uint32

	InputAmount   *big.Int
	InputDecimals uint8
	FeeRate       float64 // per-swap fraction, charged once per hop
	BlockNumber   uint64
}

// TriangularInput is a completed cycle simulation awaiting costing.
type TriangularInput struct {
	Pair  string
	Venue string
	Path  []string

	InputAmount   *big.Int
	AmountOut     *big.Int
	AmountBack    *big.Int
	InputDecimals uint8
	FeeRate       float64
	BlockNumber   uint64
}

// Calculator applies the cost model. Gas is priced fresh from the data
// source on every evaluation; a stale gas price silently understates the
// largest cost component.
type Calculator struct {
	src source.Provider
	ref *Reference
	cfg config.ProfitConfig
}

// NewCalculator creates a profitability calculator.
func NewCalculator(src source.Provider, ref *Reference, cfg config.ProfitConfig) *Calculator {
	return &Calculator{src: src, ref: ref, cfg: cfg}
}

// Simple costs a cross-venue discrepancy. Returns (nil, nil) when the spread
// does not survive costs, and an error only when the evaluation itself could
// not run (no connection, gas lookup failed).
func (c *Calculator) Simple(ctx context.Context, in SimpleInput) (*types.Opportunity, error) {
	if !(in.BuyPrice > 0 && in.SellPrice > in.BuyPrice) {
		return nil, nil
	}

	amount := toNative(in.InputAmount, in.InputDecimals)
	gross := amount * (in.SellPrice/in.BuyPrice - 1)

	gasPrice, gasCost, err := c.gasCost(ctx, c.cfg.GasUnitsSimple)
	if err != nil {
		return nil, err
	}

	const hops = 2
	feeCost := amount * in.FeeRate * hops
	safetyCost := amount * c.cfg.SafetyMargin
	net := gross - feeCost - gasCost - safetyCost
	if net <= 0 {
		return nil, nil
	}

	return &types.Opportunity{
		Kind:           in.Kind,
		Pair:           in.Pair,
		BuyVenue:       in.BuyVenue,
		BuyPrice:       in.BuyPrice,
		SellVenue:      in.SellVenue,
		SellPrice:      in.SellPrice,
		InputAmount:    new(big.Int).Set(in.InputAmount),
		GrossProfit:    gross,
		FeeCost:        feeCost,
		GasCost:        gasCost,
		SafetyCost:     safetyCost,
		NetProfit:      net,
		NetProfitQuote: net * c.ref.Price(),
		GasPrice:       gasPrice,
		GasUnits:       c.cfg.GasUnitsSimple,
		FeeTierBuy:     in.FeeTierBuy,
		FeeTierSell:    in.FeeTierSell,
		BlockNumber:    in.BlockNumber,
		DetectedAt:     time.Now().UTC(),
	}, nil
}

// Triangular costs a round-trip cycle. Cycles that fail to return more than
// they consumed are discarded before any gas lookup is spent on them.
func (c *Calculator) Triangular(ctx context.Context, in TriangularInput) (*types.Opportunity, error) {
	grossWei := new(big.Int).Sub(in.AmountBack, in.InputAmount)
	if grossWei.Sign() <= 0 {
		return nil, nil
	}

	amount := toNative(in.InputAmount, in.InputDecimals)
	gross := toNative(grossWei, in.InputDecimals)

	gasPrice, gasCost, err := c.gasCost(ctx, c.cfg.GasUnitsTriangular)
	if err != nil {
		return nil, err
	}

	const hops = 3
	feeCost := amount * in.FeeRate * hops
	safetyCost := amount * c.cfg.SafetyMargin
	net := gross - feeCost - gasCost - safetyCost
	if net <= 0 {
		return nil, nil
	}

	return &types.Opportunity{
		Kind:           types.KindTriangular,
		Pair:           in.Pair,
		Venue:          in.Venue,
		Path:           in.Path,
		InputAmount:    new(big.Int).Set(in.InputAmount),
		AmountOut:      in.AmountOut,
		AmountBack:     in.AmountBack,
		GrossProfit:    gross,
		FeeCost:        feeCost,
		GasCost:        gasCost,
		SafetyCost:     safetyCost,
		NetProfit:      net,
		NetProfitQuote: net * c.ref.Price(),
		GasPrice:       gasPrice,
		GasUnits:       c.cfg.GasUnitsTriangular,
		BlockNumber:    in.BlockNumber,
		DetectedAt:     time.Now().UTC(),
	}, nil
}

// gasCost prices units of execution at the current network gas price,
// expressed in whole native tokens.
func (c *Calculator) gasCost(ctx context.Context, units uint64) (*big.Int, float64, error) {
	ds, err := c.src.Get()
	if err != nil {
		return nil, 0, err
	}
	gasPrice, err := ds.GasPrice(ctx)
	if err != nil {
		return nil, 0, err
	}
	wei := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(units))
	return gasPrice, toNative(wei, 18), nil
}

// toNative converts a base-unit integer amount to a float in whole tokens.
// Precision loss here is acceptable: cost arithmetic is a display-grade
// estimate, not settlement math.
func toNative(amount *big.Int, decimals uint8) float64 {
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(amount),
		big.NewFloat(pow10(decimals)),
	).Float64()
	return f
}

func pow10(d uint8) float64 {
	p := 1.0
	for i := uint8(0); i < d; i++ {
		p *= 10
	}
	return p
}
