// Package eth implements the source.DataSource capability over go-ethereum.
package eth

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"

	"github.com/croswell/dexarb/internal/config"
	"github.com/croswell/dexarb/internal/source"
)

// Uniswap V2 style function selectors.
var (
	selGetReserves = common.Hex2Bytes("0902f1ac") // getReserves()
	selGetPair     = common.Hex2Bytes("e6a43905") // getPair(address,address)
)

// Client wraps an Ethereum client with retry logic, per-call timeouts, and
// the contract-call plumbing behind source.DataSource.
type Client struct {
	client    *ethclient.Client
	cfg       config.RPCConfig
	streaming bool
}

// DialStream connects the streaming (WebSocket) transport.
func DialStream(ctx context.Context, cfg config.RPCConfig) (*Client, error) {
	return dial(ctx, cfg.WSUrl, cfg, true)
}

// DialPolling connects the HTTP fallback transport. It cannot stream heads.
func DialPolling(ctx context.Context, cfg config.RPCConfig) (*Client, error) {
	return dial(ctx, cfg.HTTPUrl, cfg, false)
}

func dial(ctx context.Context, url string, cfg config.RPCConfig, streaming bool) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("eth: empty endpoint URL")
	}
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("eth: failed to connect to node: %w", err)
	}

	c := &Client{client: client, cfg: cfg, streaming: streaming}

	// Probe once so a dead endpoint fails at dial time, not mid-scan.
	probeCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()
	head, err := client.BlockNumber(probeCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("eth: endpoint probe failed: %w", err)
	}

	log.Info().
		Str("url", url).
		Bool("streaming", streaming).
		Uint64("head", head).
		Msg("Connected to Ethereum node")

	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() {
	c.client.Close()
}

// BlockNumber returns the latest block number with retry.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var blockNum uint64
	err := c.withRetry(ctx, "block number", func(callCtx context.Context) error {
		var err error
		blockNum, err = c.client.BlockNumber(callCtx)
		return err
	})
	return blockNum, err
}

// GasPrice returns the suggested gas price with retry.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.withRetry(ctx, "gas price", func(callCtx context.Context) error {
		var err error
		price, err = c.client.SuggestGasPrice(callCtx)
		return err
	})
	return price, err
}

// GetReserves reads (reserve0, reserve1) from a constant-product pair.
func (c *Client) GetReserves(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
	result, err := c.call(ctx, "reserves", pool, selGetReserves)
	if err != nil {
		return nil, nil, err
	}
	if len(result) < 64 {
		return nil, nil, fmt.Errorf("eth: invalid getReserves response from %s: %d bytes", pool.Hex(), len(result))
	}
	reserve0 := new(big.Int).SetBytes(result[0:32])
	reserve1 := new(big.Int).SetBytes(result[32:64])
	return reserve0, reserve1, nil
}

// GetPoolAddress resolves a pair via the factory's getPair. The zero address
// means no pool exists for the pair.
func (c *Client) GetPoolAddress(ctx context.Context, factory, tokenA, tokenB common.Address) (common.Address, error) {
	data := make([]byte, 0, 4+64)
	data = append(data, selGetPair...)
	data = append(data, common.LeftPadBytes(tokenA.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(tokenB.Bytes(), 32)...)

	result, err := c.call(ctx, "pool address", factory, data)
	if err != nil {
		return common.Address{}, err
	}
	if len(result) < 32 {
		return common.Address{}, fmt.Errorf("eth: invalid getPair response from %s", factory.Hex())
	}
	return common.BytesToAddress(result[12:32]), nil
}

// call executes a read-only contract call with retry and timeout.
func (c *Client) call(ctx context.Context, what string, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data}
	var result []byte
	err := c.withRetry(ctx, what, func(callCtx context.Context) error {
		var err error
		result, err = c.client.CallContract(callCtx, msg, nil)
		return err
	})
	return result, err
}

// withRetry runs fn up to RetryAttempts times with RetryDelay between
// attempts, each under the configured per-call timeout.
func (c *Client) withRetry(ctx context.Context, what string, fn func(context.Context) error) error {
	attempts := c.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		err = fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Int("attempt", i+1).Msgf("Failed to fetch %s, retrying...", what)
		select {
		case <-time.After(c.cfg.RetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("eth: %s failed after %d attempts: %w", what, attempts, err)
}

// SubscribeNewHeads streams new block numbers over the WebSocket transport.
func (c *Client) SubscribeNewHeads(ctx context.Context, ch chan<- uint64) (source.Subscription, error) {
	if !c.streaming {
		return nil, source.ErrNoStream
	}

	headers := make(chan *gethtypes.Header, 16)
	sub, err := c.client.SubscribeNewHead(ctx, headers)
	if err != nil {
		return nil, fmt.Errorf("eth: head subscription failed: %w", err)
	}

	quit := make(chan struct{})
	go func() {
		for {
			select {
			case <-quit:
				return
			case header := <-headers:
				if header == nil || header.Number == nil {
					continue
				}
				select {
				case ch <- header.Number.Uint64():
				default: // consumer lagging, drop
				}
			}
		}
	}()

	return &headSubscription{inner: sub, quit: quit}, nil
}

type headSubscription struct {
	inner ethereum.Subscription
	quit  chan struct{}
}

func (s *headSubscription) Err() <-chan error { return s.inner.Err() }

func (s *headSubscription) Unsubscribe() {
	s.inner.Unsubscribe()
	close(s.quit)
}
