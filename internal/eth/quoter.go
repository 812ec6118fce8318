package eth

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// QuoterV2-style interface shared by the tiered venues we quote against.
const quoterABIJSON = `[
  {
    "name": "quoteExactInputSingle",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      {
        "name": "params",
        "type": "tuple",
        "components": [
          {"name": "tokenIn", "type": "address"},
          {"name": "tokenOut", "type": "address"},
          {"name": "amountIn", "type": "uint256"},
          {"name": "fee", "type": "uint24"},
          {"name": "sqrtPriceLimitX96", "type": "uint160"}
        ]
      }
    ],
    "outputs": [
      {"name": "amountOut", "type": "uint256"},
      {"name": "sqrtPriceX96After", "type": "uint160"},
      {"name": "initializedTicksCrossed", "type": "uint32"},
      {"name": "gasEstimate", "type": "uint256"}
    ]
  },
  {
    "name": "quoteExactInput",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "path", "type": "bytes"},
      {"name": "amountIn", "type": "uint256"}
    ],
    "outputs": [
      {"name": "amountOut", "type": "uint256"},
      {"name": "sqrtPriceX96AfterList", "type": "uint160[]"},
      {"name": "initializedTicksCrossedList", "type": "uint32[]"},
      {"name": "gasEstimate", "type": "uint256"}
    ]
  }
]`

var (
	quoterABIOnce sync.Once
	quoterABI     abi.ABI
	quoterABIErr  error
)

func loadQuoterABI() (abi.ABI, error) {
	quoterABIOnce.Do(func() {
		quoterABI, quoterABIErr = abi.JSON(strings.NewReader(quoterABIJSON))
	})
	return quoterABI, quoterABIErr
}

// QuoteExactInputSingle asks the venue's quoter to simulate one hop. The
// quoter reverts for pools without liquidity; callers treat that error as
// "no liquidity", not a fault.
func (c *Client) QuoteExactInputSingle(ctx context.Context, quoter, tokenIn, tokenOut common.Address, feeTier uint32, amountIn *big.Int) (*big.Int, error) {
	parsed, err := loadQuoterABI()
	if err != nil {
		return nil, fmt.Errorf("eth: quoter ABI: %w", err)
	}

	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		AmountIn          *big.Int
		Fee               *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amountIn,
		Fee:               big.NewInt(int64(feeTier)),
		SqrtPriceLimitX96: big.NewInt(0),
	}

	data, err := parsed.Pack("quoteExactInputSingle", params)
	if err != nil {
		return nil, fmt.Errorf("eth: packing single-hop quote: %w", err)
	}

	result, err := c.call(ctx, "single-hop quote", quoter, data)
	if err != nil {
		return nil, err
	}

	vals, err := parsed.Unpack("quoteExactInputSingle", result)
	if err != nil {
		return nil, fmt.Errorf("eth: decoding single-hop quote: %w", err)
	}
	return vals[0].(*big.Int), nil
}

// QuoteExactInput asks the quoter to simulate a multi-hop swap along a
// packed path (token | fee | token | fee | token ...).
func (c *Client) QuoteExactInput(ctx context.Context, quoter common.Address, path []byte, amountIn *big.Int) (*big.Int, error) {
	parsed, err := loadQuoterABI()
	if err != nil {
		return nil, fmt.Errorf("eth: quoter ABI: %w", err)
	}

	data, err := parsed.Pack("quoteExactInput", path, amountIn)
	if err != nil {
		return nil, fmt.Errorf("eth: packing multi-hop quote: %w", err)
	}

	result, err := c.call(ctx, "multi-hop quote", quoter, data)
	if err != nil {
		return nil, err
	}

	vals, err := parsed.Unpack("quoteExactInput", result)
	if err != nil {
		return nil, fmt.Errorf("eth: decoding multi-hop quote: %w", err)
	}
	return vals[0].(*big.Int), nil
}

// EncodePath packs a token path with fee tiers into the quoter's byte
// format: address (20) | fee (3) | address (20) | ...
func EncodePath(tokens []common.Address, fees []uint32) ([]byte, error) {
	if len(tokens) < 2 || len(fees) != len(tokens)-1 {
		return nil, fmt.Errorf("eth: path wants n tokens and n-1 fees, got %d/%d", len(tokens), len(fees))
	}
	path := make([]byte, 0, len(tokens)*20+len(fees)*3)
	path = append(path, tokens[0].Bytes()...)
	for i, fee := range fees {
		path = append(path, byte(fee>>16), byte(fee>>8), byte(fee))
		path = append(path, tokens[i+1].Bytes()...)
	}
	return path, nil
}
