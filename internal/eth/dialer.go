package eth

import (
	"context"

	"github.com/croswell/dexarb/internal/config"
	"github.com/croswell/dexarb/internal/source"
)

// Dialer adapts the two endpoint constructors to the connection manager.
type Dialer struct {
	cfg config.RPCConfig
}

// NewDialer creates a dialer for the configured endpoints.
func NewDialer(cfg config.RPCConfig) *Dialer {
	return &Dialer{cfg: cfg}
}

// DialStream connects the WebSocket transport.
func (d *Dialer) DialStream(ctx context.Context) (source.DataSource, error) {
	return DialStream(ctx, d.cfg)
}

// DialFallback connects the HTTP polling transport.
func (d *Dialer) DialFallback(ctx context.Context) (source.DataSource, error) {
	return DialPolling(ctx, d.cfg)
}
