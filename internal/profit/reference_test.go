package profit

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

func refPair() catalog.TradingPair {
	return catalog.TradingPair{
		TokenA: types.Token{Address: common.HexToAddress("0x0000000000000000000000000000000000000001"), Symbol: "WETH", Decimals: 18},
		TokenB: types.Token{Address: common.HexToAddress("0x0000000000000000000000000000000000000002"), Symbol: "USDC", Decimals: 6},
	}
}

func TestReferenceStaticWithoutBinding(t *testing.T) {
	src := &sourcetest.Fake{}
	ref := NewReference(src.Provider(), 2500)

	if err := ref.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := ref.Price(); got != 2500 {
		t.Fatalf("price = %f, want static 2500", got)
	}
}

func TestReferenceRefreshFromPool(t *testing.T) {
	src := &sourcetest.Fake{
		GetReservesFn: func(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
			r0, _ := new(big.Int).SetString("1000000000000000000000", 10)
			r1, _ := new(big.Int).SetString("2000000000000", 10)
			return r0, r1, nil
		},
	}
	ref := NewReference(src.Provider(), 2500)
	ref.Bind(refPair(), catalog.PoolRef{})

	if err := ref.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := ref.Price(); math.Abs(got-2000) > 1e-9 {
		t.Fatalf("price = %f, want 2000", got)
	}
}

func TestReferenceRefreshFailureKeepsValue(t *testing.T) {
	src := &sourcetest.Fake{
		GetReservesFn: func(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
			return nil, nil, errors.New("rpc timeout")
		},
	}
	ref := NewReference(src.Provider(), 2500)
	ref.Bind(refPair(), catalog.PoolRef{})

	if err := ref.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh failure")
	}
	if got := ref.Price(); got != 2500 {
		t.Fatalf("price = %f, want previous 2500", got)
	}
}
