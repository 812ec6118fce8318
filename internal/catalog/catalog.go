// Package catalog loads the static token/pair/path catalogue the scanner
// sweeps. The catalogue is immutable after Load and passed by pointer into
// every component; configuration errors fail fast here, before any scanning.
package catalog

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/croswell/dexarb/internal/source"
	"github.com/croswell/dexarb/pkg/types"
)

// Venue describes one AMM the engine can quote against.
type Venue struct {
	Name     string
	Protocol types.Protocol
	FeeRate  float64        // per-swap fee, e.g. 0.003
	Factory  common.Address // CP venues: optional, enables pool resolution
	Quoter   common.Address // tiered venues: quoter contract
}

// PoolRef is one quotable pool on a venue. FeeTier is zero on
// constant-product venues and the tier (500, 3000, ...) on tiered ones.
type PoolRef struct {
	Address common.Address
	FeeTier uint32
}

// TradingPair is an unordered token pair with its per-venue pools. A venue
// with no entry is simply not quoted for this pair.
type TradingPair struct {
	TokenA types.Token
	TokenB types.Token
	Pools  map[string][]PoolRef
}

// Name returns the canonical "A-B" label used in logs and storage.
func (p TradingPair) Name() string {
	return p.TokenA.Symbol + "-" + p.TokenB.Symbol
}

// TriangularPath is an ordered 3-token cycle A->B->C (closing back to A).
// HopPools maps venue name to the two forward-hop pools [A-B, B-C]; a venue
// participates only when both hops are present.
type TriangularPath struct {
	Tokens   [3]types.Token
	HopPools map[string][2]common.Address
}

// Name returns the "TRI-A-B-C" label.
func (p TriangularPath) Name() string {
	return "TRI-" + p.Tokens[0].Symbol + "-" + p.Tokens[1].Symbol + "-" + p.Tokens[2].Symbol
}

// Symbols returns the ordered token symbols of the cycle.
func (p TriangularPath) Symbols() []string {
	return []string{p.Tokens[0].Symbol, p.Tokens[1].Symbol, p.Tokens[2].Symbol}
}

// Catalog is the full immutable configuration swept by the scanner.
type Catalog struct {
	Tokens map[string]types.Token // by symbol
	Venues map[string]Venue       // by name
	Pairs  []TradingPair
	Paths  []TriangularPath
}

type rawPool struct {
	Address string `mapstructure:"address"`
	FeeTier uint32 `mapstructure:"fee_tier"`
}

type rawFile struct {
	Tokens []struct {
		Symbol   string `mapstructure:"symbol"`
		Address  string `mapstructure:"address"`
		Decimals uint8  `mapstructure:"decimals"`
	} `mapstructure:"tokens"`
	Venues []struct {
		Name    string  `mapstructure:"name"`
		Protocol string `mapstructure:"protocol"`
		FeeRate float64 `mapstructure:"fee_rate"`
		Factory string  `mapstructure:"factory"`
		Quoter  string  `mapstructure:"quoter"`
	} `mapstructure:"venues"`
	Pairs []struct {
		Tokens []string             `mapstructure:"tokens"`
		Pools  map[string][]rawPool `mapstructure:"pools"`
	} `mapstructure:"pairs"`
	Paths []struct {
		Tokens []string             `mapstructure:"tokens"`
		Pools  map[string][]rawPool `mapstructure:"pools"`
	} `mapstructure:"paths"`
}

// Load reads and validates the catalogue file.
func Load(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("catalog: reading %s: %w", path, err)
	}

	var raw rawFile
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("catalog: parsing %s: %w", path, err)
	}

	cat := &Catalog{
		Tokens: make(map[string]types.Token, len(raw.Tokens)),
		Venues: make(map[string]Venue, len(raw.Venues)),
	}

	for _, t := range raw.Tokens {
		if t.Symbol == "" {
			return nil, fmt.Errorf("catalog: token with empty symbol")
		}
		if !common.IsHexAddress(t.Address) {
			return nil, fmt.Errorf("catalog: token %s: invalid address %q", t.Symbol, t.Address)
		}
		if _, dup := cat.Tokens[t.Symbol]; dup {
			return nil, fmt.Errorf("catalog: duplicate token %s", t.Symbol)
		}
		cat.Tokens[t.Symbol] = types.Token{
			Address:  common.HexToAddress(t.Address),
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
		}
	}

	for _, ven := range raw.Venues {
		if ven.Name == "" {
			return nil, fmt.Errorf("catalog: venue with empty name")
		}
		if _, dup := cat.Venues[ven.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate venue %s", ven.Name)
		}
		proto := types.Protocol(ven.Protocol)
		if proto != types.ProtocolConstantProduct && proto != types.ProtocolTiered {
			return nil, fmt.Errorf("catalog: venue %s: unknown protocol %q", ven.Name, ven.Protocol)
		}
		if ven.FeeRate < 0 || ven.FeeRate >= 1 {
			return nil, fmt.Errorf("catalog: venue %s: fee_rate %f out of range", ven.Name, ven.FeeRate)
		}
		entry := Venue{Name: ven.Name, Protocol: proto, FeeRate: ven.FeeRate}
		if ven.Factory != "" {
			if !common.IsHexAddress(ven.Factory) {
				return nil, fmt.Errorf("catalog: venue %s: invalid factory %q", ven.Name, ven.Factory)
			}
			entry.Factory = common.HexToAddress(ven.Factory)
		}
		if ven.Quoter != "" {
			if !common.IsHexAddress(ven.Quoter) {
				return nil, fmt.Errorf("catalog: venue %s: invalid quoter %q", ven.Name, ven.Quoter)
			}
			entry.Quoter = common.HexToAddress(ven.Quoter)
		}
		if proto == types.ProtocolTiered && entry.Quoter == (common.Address{}) {
			return nil, fmt.Errorf("catalog: tiered venue %s requires a quoter address", ven.Name)
		}
		cat.Venues[ven.Name] = entry
	}

	for i, pr := range raw.Pairs {
		if len(pr.Tokens) != 2 {
			return nil, fmt.Errorf("catalog: pair %d: expected 2 tokens, got %d", i, len(pr.Tokens))
		}
		tokA, ok := cat.Tokens[pr.Tokens[0]]
		if !ok {
			return nil, fmt.Errorf("catalog: pair %d references unknown token %s", i, pr.Tokens[0])
		}
		tokB, ok := cat.Tokens[pr.Tokens[1]]
		if !ok {
			return nil, fmt.Errorf("catalog: pair %d references unknown token %s", i, pr.Tokens[1])
		}
		pair := TradingPair{TokenA: tokA, TokenB: tokB, Pools: make(map[string][]PoolRef)}
		for venue, pools := range pr.Pools {
			if _, ok := cat.Venues[venue]; !ok {
				return nil, fmt.Errorf("catalog: pair %s references unknown venue %s", pair.Name(), venue)
			}
			refs, err := convertPools(pools)
			if err != nil {
				return nil, fmt.Errorf("catalog: pair %s venue %s: %w", pair.Name(), venue, err)
			}
			pair.Pools[venue] = refs
		}
		cat.Pairs = append(cat.Pairs, pair)
	}

	for i, pt := range raw.Paths {
		if len(pt.Tokens) != 3 {
			return nil, fmt.Errorf("catalog: path %d: triangular paths require exactly 3 tokens, got %d", i, len(pt.Tokens))
		}
		var toks [3]types.Token
		for j, sym := range pt.Tokens {
			tok, ok := cat.Tokens[sym]
			if !ok {
				return nil, fmt.Errorf("catalog: path %d references unknown token %s", i, sym)
			}
			toks[j] = tok
		}
		path := TriangularPath{Tokens: toks, HopPools: make(map[string][2]common.Address)}
		for venue, pools := range pt.Pools {
			if _, ok := cat.Venues[venue]; !ok {
				return nil, fmt.Errorf("catalog: path %s references unknown venue %s", path.Name(), venue)
			}
			if len(pools) != 2 {
				return nil, fmt.Errorf("catalog: path %s venue %s: expected 2 hop pools, got %d", path.Name(), venue, len(pools))
			}
			refs, err := convertPools(pools)
			if err != nil {
				return nil, fmt.Errorf("catalog: path %s venue %s: %w", path.Name(), venue, err)
			}
			path.HopPools[venue] = [2]common.Address{refs[0].Address, refs[1].Address}
		}
		cat.Paths = append(cat.Paths, path)
	}

	return cat, nil
}

func convertPools(pools []rawPool) ([]PoolRef, error) {
	refs := make([]PoolRef, 0, len(pools))
	for _, p := range pools {
		if !common.IsHexAddress(p.Address) {
			return nil, fmt.Errorf("invalid pool address %q", p.Address)
		}
		refs = append(refs, PoolRef{Address: common.HexToAddress(p.Address), FeeTier: p.FeeTier})
	}
	return refs, nil
}

// ResolvePools fills in missing constant-product pools for venues that carry
// a factory address, using the data source's getPair lookup. A zero address
// from the factory means the pool does not exist; the venue entry stays
// absent and the pair is simply not quoted there.
func (c *Catalog) ResolvePools(ctx context.Context, ds source.DataSource) error {
	for name, ven := range c.Venues {
		if ven.Protocol != types.ProtocolConstantProduct || ven.Factory == (common.Address{}) {
			continue
		}
		for i := range c.Pairs {
			pair := &c.Pairs[i]
			if len(pair.Pools[name]) > 0 {
				continue
			}
			pool, err := ds.GetPoolAddress(ctx, ven.Factory, pair.TokenA.Address, pair.TokenB.Address)
			if err != nil {
				return fmt.Errorf("catalog: resolving %s on %s: %w", pair.Name(), name, err)
			}
			if pool == (common.Address{}) {
				continue
			}
			pair.Pools[name] = []PoolRef{{Address: pool}}
			log.Debug().
				Str("pair", pair.Name()).
				Str("venue", name).
				Str("pool", pool.Hex()).
				Msg("Resolved pool from factory")
		}
	}
	return nil
}
