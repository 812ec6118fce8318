package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Token represents an ERC20 token from the static catalogue.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// Protocol identifies the pricing mechanism of a venue.
type Protocol string

const (
	// ProtocolConstantProduct covers x*y=k venues priced locally from reserves.
	ProtocolConstantProduct Protocol = "constant_product"
	// ProtocolTiered covers concentrated-liquidity venues priced by an
	// external quoter contract, with one pool per fee tier.
	ProtocolTiered Protocol = "tiered"
)

// Quote is a single-venue price sample for a pair. Ephemeral: produced per
// scan, never persisted. A quote is usable only when Price > 0; zero or
// negative prices mean "no liquidity" and must be discarded by callers.
type Quote struct {
	Venue     string
	Price     float64 // output per input, normalized by token decimals
	AmountOut *big.Int
	FeeTier   uint32 // 0 for constant-product venues
}

// OpportunityKind classifies how an opportunity was detected.
type OpportunityKind string

const (
	KindPairCross     OpportunityKind = "pair_cross"     // same protocol family, two venues
	KindCrossProtocol OpportunityKind = "cross_protocol" // quote sets merged across families
	KindTriangular    OpportunityKind = "triangular"     // 3-hop cycle on one venue
)

// Opportunity is a fully costed arbitrage candidate. Immutable once produced
// by the profitability calculator; the store persists it verbatim.
type Opportunity struct {
	Kind OpportunityKind
	Pair string // "WETH-USDC" or "TRI-WETH-USDC-DAI"

	// Cross-venue fields.
	BuyVenue  string
	BuyPrice  float64
	SellVenue string
	SellPrice float64

	// Triangular fields.
	Venue string
	Path  []string

	InputAmount *big.Int
	AmountOut   *big.Int // terminal-token output of the forward leg
	AmountBack  *big.Int // input-token output of the reverse leg

	GrossProfit    float64 // native (input token) units
	FeeCost        float64
	GasCost        float64
	SafetyCost     float64
	NetProfit      float64
	NetProfitQuote float64 // NetProfit * reference price

	GasPrice *big.Int
	GasUnits uint64

	FeeTierBuy  uint32
	FeeTierSell uint32

	BlockNumber uint64
	DetectedAt  time.Time
}

// ConnectionState is the lifecycle state of the data-source connection.
// Owned exclusively by the connection manager; consumers only observe it.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateLive
	StateReconnecting
	StateDegraded // fallback polling transport
	StateFailed   // terminal
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
