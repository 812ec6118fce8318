package profit

import (
	"context"
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/croswell/dexarb/internal/config"
	"github.com/croswell/dexarb/internal/source/sourcetest"
	"github.com/croswell/dexarb/pkg/types"
)

func testCfg() config.ProfitConfig {
	return config.ProfitConfig{
		SafetyMargin:       0.001,
		GasUnitsSimple:     200000,
		GasUnitsTriangular: 300000,
		ReferencePrice:     2500,
	}
}

func bigFromString(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("invalid big integer %q", s)
	}
	return v
}

func newCalc(src *sourcetest.Fake) *Calculator {
	cfg := testCfg()
	ref := NewReference(src.Provider(), cfg.ReferencePrice)
	return NewCalculator(src.Provider(), ref, cfg)
}

func TestSimpleProfitable(t *testing.T) {
	src := &sourcetest.Fake{} // default gas price 1e6 wei
	calc := newCalc(src)

	opp, err := calc.Simple(context.Background(), SimpleInput{
		Kind:          types.KindPairCross,
		Pair:          "WETH-USDC",
		BuyVenue:      "uniswap_v2",
		BuyPrice:      2000,
		SellVenue:     "sushiswap",
		SellPrice:     2030,
		InputAmount:   bigFromString(t, "10000000000000000"), // 0.01 WETH
		InputDecimals: 18,
		FeeRate:       0.003,
		BlockNumber:   77,
	})
	if err != nil {
		t.Fatalf("Simple: %v", err)
	}
	if opp == nil {
		t.Fatal("expected an opportunity")
	}

	// gross 1.5e-4, fees 6e-5, gas 200000 * 1e6 wei = 2e-7, safety 1e-5
	gross := 0.01 * (2030.0/2000.0 - 1)
	want := gross - 0.01*0.003*2 - 2e-7 - 0.01*0.001
	if math.Abs(opp.NetProfit-want) > 1e-12 {
		t.Fatalf("netProfit = %g, want %g", opp.NetProfit, want)
	}
	if math.Abs(opp.NetProfitQuote-want*2500) > 1e-9 {
		t.Fatalf("netProfitQuote = %g, want %g", opp.NetProfitQuote, want*2500)
	}
	if opp.BlockNumber != 77 {
		t.Fatalf("blockNumber = %d, want 77", opp.BlockNumber)
	}
	if opp.GasUnits != 200000 {
		t.Fatalf("gasUnits = %d, want 200000", opp.GasUnits)
	}
}

func TestSimpleHandComputedCase(t *testing.T) {
	src := &sourcetest.Fake{}
	calc := newCalc(src)

	// Buy at the impacted pool price 1993.9801, sell at 2010: the ~0.8%
	// spread clears two swap fees, gas, and the safety margin with about
	// 1e-5 ETH to spare.
	opp, err := calc.Simple(context.Background(), SimpleInput{
		Kind:          types.KindPairCross,
		Pair:          "WETH-USDC",
		BuyVenue:      "uniswap_v2",
		BuyPrice:      1993.9801,
		SellVenue:     "sushiswap",
		SellPrice:     2010,
		InputAmount:   bigFromString(t, "10000000000000000"),
		InputDecimals: 18,
		FeeRate:       0.003,
	})
	if err != nil {
		t.Fatalf("Simple: %v", err)
	}
	if opp == nil {
		t.Fatal("expected an opportunity")
	}

	want := 0.01*(2010.0/1993.9801-1) - 0.01*0.003*2 - 2e-7 - 0.01*0.001
	if math.Abs(opp.NetProfit-want) > 1e-12 {
		t.Fatalf("netProfit = %g, want %g", opp.NetProfit, want)
	}
	if opp.NetProfit < 1.0e-5 || opp.NetProfit > 1.1e-5 {
		t.Fatalf("netProfit = %g, expected roughly 1.01e-5", opp.NetProfit)
	}
}

func TestSimpleSpreadBelowCosts(t *testing.T) {
	src := &sourcetest.Fake{}
	calc := newCalc(src)

	// 0.5% spread grosses 5e-5 on 0.01; fees alone cost 6e-5.
	opp, err := calc.Simple(context.Background(), SimpleInput{
		BuyPrice:      2000,
		SellPrice:     2010,
		InputAmount:   bigFromString(t, "10000000000000000"),
		InputDecimals: 18,
		FeeRate:       0.003,
	})
	if err != nil {
		t.Fatalf("Simple: %v", err)
	}
	if opp != nil {
		t.Fatalf("expected no opportunity, got net %g", opp.NetProfit)
	}
}

func TestSimpleEqualPricesNoGasLookup(t *testing.T) {
	src := &sourcetest.Fake{}
	calc := newCalc(src)

	opp, err := calc.Simple(context.Background(), SimpleInput{
		BuyPrice:      2000,
		SellPrice:     2000,
		InputAmount:   big.NewInt(1),
		InputDecimals: 18,
		FeeRate:       0.003,
	})
	if err != nil || opp != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", opp, err)
	}
	if src.GasCalls() != 0 {
		t.Fatalf("gas price fetched %d times for a non-discrepancy", src.GasCalls())
	}
}

func TestSimpleGasLookupFailure(t *testing.T) {
	src := &sourcetest.Fake{
		GasPriceFn: func(ctx context.Context) (*big.Int, error) {
			return nil, errors.New("rpc timeout")
		},
	}
	calc := newCalc(src)

	_, err := calc.Simple(context.Background(), SimpleInput{
		BuyPrice:      2000,
		SellPrice:     2100,
		InputAmount:   bigFromString(t, "10000000000000000"),
		InputDecimals: 18,
		FeeRate:       0.003,
	})
	if err == nil {
		t.Fatal("expected gas lookup failure to surface")
	}
}

func TestTriangularProfitable(t *testing.T) {
	src := &sourcetest.Fake{}
	calc := newCalc(src)

	opp, err := calc.Triangular(context.Background(), TriangularInput{
		Pair:          "TRI-WETH-USDC-DAI",
		Venue:         "uniswap_v2",
		Path:          []string{"WETH", "USDC", "DAI"},
		InputAmount:   bigFromString(t, "10000000000000000"),
		AmountOut:     bigFromString(t, "20000000"),
		AmountBack:    bigFromString(t, "10300000000000000"), // +3%
		InputDecimals: 18,
		FeeRate:       0.003,
		BlockNumber:   42,
	})
	if err != nil {
		t.Fatalf("Triangular: %v", err)
	}
	if opp == nil {
		t.Fatal("expected an opportunity")
	}

	// gross 3e-4, fees 9e-5 (3 hops), gas 300000 * 1e6 wei = 3e-7, safety 1e-5
	want := 3e-4 - 0.01*0.003*3 - 3e-7 - 0.01*0.001
	if math.Abs(opp.NetProfit-want) > 1e-12 {
		t.Fatalf("netProfit = %g, want %g", opp.NetProfit, want)
	}
	if opp.Kind != types.KindTriangular {
		t.Fatalf("kind = %s, want triangular", opp.Kind)
	}
	if opp.GasUnits != 300000 {
		t.Fatalf("gasUnits = %d, want 300000", opp.GasUnits)
	}
}

func TestTriangularNonPositiveGrossSkipsGas(t *testing.T) {
	src := &sourcetest.Fake{}
	calc := newCalc(src)

	amount := bigFromString(t, "10000000000000000")
	opp, err := calc.Triangular(context.Background(), TriangularInput{
		InputAmount:   amount,
		AmountOut:     big.NewInt(1),
		AmountBack:    new(big.Int).Set(amount), // exact round trip
		InputDecimals: 18,
		FeeRate:       0.003,
	})
	if err != nil || opp != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", opp, err)
	}
	if src.GasCalls() != 0 {
		t.Fatalf("gas price fetched %d times for an unprofitable cycle", src.GasCalls())
	}
}
