package oracle

import (
	"context"
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/croswell/dexarb/internal/catalog"
	"github.com/croswell/dexarb/internal/source/sourcetest"
	"github.com/croswell/dexarb/pkg/types"
)

func bigFromString(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("invalid big integer %q", s)
	}
	return v
}

func TestAmountOutKnownScenario(t *testing.T) {
	// 1000 WETH (18 decimals) against 2,000,000 USDC (6 decimals), 30 bps
	// fee, probing with 0.01 WETH.
	reserveIn := bigFromString(t, "1000000000000000000000")
	reserveOut := bigFromString(t, "2000000000000")
	amountIn := bigFromString(t, "10000000000000000")

	out := AmountOut(amountIn, reserveIn, reserveOut, 30)
	if out.Cmp(big.NewInt(19939801)) != 0 {
		t.Fatalf("amountOut = %s, want 19939801", out)
	}

	price := NormalizedPrice(amountIn, 18, out, 6)
	if math.Abs(price-1993.9801) > 1e-4 {
		t.Fatalf("price = %f, want ~1993.9801", price)
	}
}

func TestAmountOutBounds(t *testing.T) {
	reserveIn := bigFromString(t, "1000000000000000000000")
	reserveOut := bigFromString(t, "2000000000000")

	prev := big.NewInt(-1)
	for _, in := range []string{"1", "1000000000", "10000000000000000", "1000000000000000000000000"} {
		out := AmountOut(bigFromString(t, in), reserveIn, reserveOut, 30)
		if out.Sign() < 0 {
			t.Fatalf("amountOut(%s) negative: %s", in, out)
		}
		if out.Cmp(reserveOut) >= 0 {
			t.Fatalf("amountOut(%s) = %s, must stay below reserveOut", in, out)
		}
		if out.Cmp(prev) < 0 {
			t.Fatalf("amountOut not monotonic: %s after %s", out, prev)
		}
		prev = out
	}
}

func TestAmountOutZeroInput(t *testing.T) {
	out := AmountOut(big.NewInt(0), big.NewInt(1000), big.NewInt(1000), 30)
	if out.Sign() != 0 {
		t.Fatalf("amountOut(0) = %s, want 0", out)
	}
}

func TestFeeBps(t *testing.T) {
	for _, tc := range []struct {
		rate float64
		want int64
	}{
		{0.003, 30},
		{0.0025, 25},
		{0, 0},
	} {
		if got := FeeBps(tc.rate); got != tc.want {
			t.Errorf("FeeBps(%f) = %d, want %d", tc.rate, got, tc.want)
		}
	}
}

func testPair() catalog.TradingPair {
	return catalog.TradingPair{
		TokenA: types.Token{Address: common.HexToAddress("0x0000000000000000000000000000000000000001"), Symbol: "WETH", Decimals: 18},
		TokenB: types.Token{Address: common.HexToAddress("0x0000000000000000000000000000000000000002"), Symbol: "USDC", Decimals: 6},
	}
}

func TestReserveOracleQuote(t *testing.T) {
	reserve0 := bigFromString(t, "1000000000000000000000")
	reserve1 := bigFromString(t, "2000000000000")
	src := &sourcetest.Fake{
		GetReservesFn: func(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
			return reserve0, reserve1, nil
		},
	}

	o := NewReserveOracle(src.Provider())
	venue := catalog.Venue{Name: "v2", Protocol: types.ProtocolConstantProduct, FeeRate: 0.003}
	q, err := o.Quote(context.Background(), testPair(), venue, catalog.PoolRef{}, bigFromString(t, "10000000000000000"))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.AmountOut.Cmp(big.NewInt(19939801)) != 0 {
		t.Fatalf("amountOut = %s, want 19939801", q.AmountOut)
	}
	if q.Venue != "v2" {
		t.Fatalf("venue = %q, want v2", q.Venue)
	}
}

func TestReserveOracleOrientsByAddress(t *testing.T) {
	// TokenA carries the higher address, so the pool's reserve0 belongs to
	// TokenB and the oracle must swap orientation.
	pair := catalog.TradingPair{
		TokenA: types.Token{Address: common.HexToAddress("0x0000000000000000000000000000000000000002"), Symbol: "B", Decimals: 18},
		TokenB: types.Token{Address: common.HexToAddress("0x0000000000000000000000000000000000000001"), Symbol: "A", Decimals: 18},
	}
	src := &sourcetest.Fake{
		GetReservesFn: func(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
			return bigFromString(t, "4000000000000000000000"), bigFromString(t, "1000000000000000000000"), nil
		},
	}

	o := NewReserveOracle(src.Provider())
	venue := catalog.Venue{Name: "v2", Protocol: types.ProtocolConstantProduct, FeeRate: 0}
	q, err := o.Quote(context.Background(), pair, venue, catalog.PoolRef{}, bigFromString(t, "1000000000000000000"))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.Price < 3.9 || q.Price > 4.0 {
		t.Fatalf("price = %f, want just under 4 (reserve1 in, reserve0 out)", q.Price)
	}
}

func TestReserveOracleNoLiquidity(t *testing.T) {
	src := &sourcetest.Fake{
		GetReservesFn: func(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
			return big.NewInt(0), big.NewInt(0), nil
		},
	}

	o := NewReserveOracle(src.Provider())
	venue := catalog.Venue{Name: "v2", Protocol: types.ProtocolConstantProduct, FeeRate: 0.003}
	_, err := o.Quote(context.Background(), testPair(), venue, catalog.PoolRef{}, big.NewInt(1))
	if !errors.Is(err, ErrNoLiquidity) {
		t.Fatalf("err = %v, want ErrNoLiquidity", err)
	}
}

func TestQuoterOracleDeclines(t *testing.T) {
	src := &sourcetest.Fake{
		QuoteSingleFn: func(ctx context.Context, quoter, in, out common.Address, tier uint32, amountIn *big.Int) (*big.Int, error) {
			return nil, errors.New("execution reverted")
		},
	}

	o := NewQuoterOracle(src.Provider())
	venue := catalog.Venue{Name: "v3", Protocol: types.ProtocolTiered, FeeRate: 0.003}
	_, err := o.Quote(context.Background(), testPair(), venue, catalog.PoolRef{FeeTier: 3000}, big.NewInt(1))
	if !errors.Is(err, ErrNoLiquidity) {
		t.Fatalf("err = %v, want ErrNoLiquidity", err)
	}
}

func TestQuoterOracleCarriesFeeTier(t *testing.T) {
	src := &sourcetest.Fake{
		QuoteSingleFn: func(ctx context.Context, quoter, in, out common.Address, tier uint32, amountIn *big.Int) (*big.Int, error) {
			return big.NewInt(19950000), nil
		},
	}

	o := NewQuoterOracle(src.Provider())
	venue := catalog.Venue{Name: "v3", Protocol: types.ProtocolTiered, FeeRate: 0.003}
	q, err := o.Quote(context.Background(), testPair(), venue, catalog.PoolRef{FeeTier: 500}, bigFromString(t, "10000000000000000"))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.FeeTier != 500 {
		t.Fatalf("feeTier = %d, want 500", q.FeeTier)
	}
}

func TestForVenue(t *testing.T) {
	reserve := NewReserveOracle(nil)
	quoter := NewQuoterOracle(nil)

	if got := ForVenue(catalog.Venue{Protocol: types.ProtocolTiered}, reserve, quoter); got != Oracle(quoter) {
		t.Fatal("tiered venue should use the quoter oracle")
	}
	if got := ForVenue(catalog.Venue{Protocol: types.ProtocolConstantProduct}, reserve, quoter); got != Oracle(reserve) {
		t.Fatal("constant-product venue should use the reserve oracle")
	}
}
