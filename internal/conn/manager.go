// Package conn owns the lifecycle of the data-source connection: health
// checking, reconnection with backoff, subscription restoration, and
// fallback to a degraded polling transport.
package conn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/croswell/dexarb/internal/config"
	"github.com/croswell/dexarb/internal/source"
	"github.com/croswell/dexarb/pkg/types"
)

// Dialer establishes transports. The streaming transport supports head
// subscriptions; the fallback transport is polling-only.
type Dialer interface {
	DialStream(ctx context.Context) (source.DataSource, error)
	DialFallback(ctx context.Context) (source.DataSource, error)
}

// RestoreFunc re-establishes one consumer subscription against a fresh
// handle. Invoked once per installed connection.
type RestoreFunc func(source.DataSource) error

// Manager is the connection state machine. All transitions happen on the
// single Run goroutine; everything else only reads state or the handle.
type Manager struct {
	dialer Dialer
	cfg    config.ConnectionConfig

	mu     sync.RWMutex
	state  types.ConnectionState
	handle source.DataSource
	subs   map[string]RestoreFunc

	// gen counts installed connections. restoredGen records the generation
	// each subscription was last restored for, so a Subscribe racing a
	// reconnect never runs its restore twice against the same handle.
	gen         uint64
	restoredGen map[string]uint64

	ready     chan struct{}
	readyOnce sync.Once
}

// NewManager creates a connection manager. Run must be started for the
// manager to do anything.
func NewManager(dialer Dialer, cfg config.ConnectionConfig) *Manager {
	return &Manager{
		dialer:      dialer,
		cfg:         cfg,
		state:       types.StateConnecting,
		subs:        make(map[string]RestoreFunc),
		restoredGen: make(map[string]uint64),
		ready:       make(chan struct{}),
	}
}

// Handle returns the current data-source handle, or nil before the first
// connection. Callers go through source.Provider.Get per operation.
func (m *Manager) Handle() source.DataSource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle
}

// Provider exposes the handle indirection consumed by the engine.
func (m *Manager) Provider() source.Provider {
	return m.Handle
}

// State returns the current connection state for health reporting.
func (m *Manager) State() types.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// WaitReady blocks until the manager has a usable handle (Live or Degraded)
// or the context expires.
func (m *Manager) WaitReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a subscription that survives reconnects. If a handle
// already exists and the registry has not restored this key for it, the
// restore procedure runs immediately; afterwards it runs once per new
// connection. Entries are removed only by Unsubscribe.
func (m *Manager) Subscribe(key string, restore RestoreFunc) error {
	m.mu.Lock()
	m.subs[key] = restore
	handle := m.handle
	if handle != nil {
		if m.restoredGen[key] == m.gen {
			handle = nil // this connection already restored the key
		} else {
			m.restoredGen[key] = m.gen
		}
	}
	m.mu.Unlock()

	if handle != nil {
		if err := restore(handle); err != nil {
			return fmt.Errorf("conn: initial subscribe %s: %w", key, err)
		}
	}
	return nil
}

// Unsubscribe removes a subscription from the registry.
func (m *Manager) Unsubscribe(key string) {
	m.mu.Lock()
	delete(m.subs, key)
	delete(m.restoredGen, key)
	m.mu.Unlock()
}

// Run drives the state machine until the context is cancelled or the
// fallback transport cannot be established (the only hard failure).
//
// The attempt counter carries across connections that never proved healthy:
// an endpoint that dials fine but cannot actually stream (or drops before
// delivering a single head or probe) burns attempts toward the ceiling
// instead of re-dialing in a hot loop. Only a connection that demonstrably
// worked resets the count.
func (m *Manager) Run(ctx context.Context) error {
	attempt := 0
	for {
		if attempt >= m.cfg.ReconnectCeiling {
			return m.runDegraded(ctx)
		}
		if attempt > 0 {
			delay := m.backoff(attempt)
			log.Warn().
				Int("attempt", attempt).
				Int("ceiling", m.cfg.ReconnectCeiling).
				Dur("delay", delay).
				Msg("Retrying stream transport")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		attempt++

		handle, err := m.dialer.DialStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Int("attempt", attempt).Msg("Stream dial failed")
			continue
		}

		m.install(handle, types.StateLive)
		m.restoreSubscriptions(handle)

		healthy, err := m.watch(ctx, handle)
		m.drop(handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Msg("Connection lost")
		m.setState(types.StateReconnecting)
		if healthy {
			attempt = 0
		}
	}
}

// backoff grows monotonically with the attempt count, capped.
func (m *Manager) backoff(attempt int) time.Duration {
	delay := m.cfg.ReconnectDelay * time.Duration(attempt)
	if m.cfg.MaxReconnectWait > 0 && delay > m.cfg.MaxReconnectWait {
		delay = m.cfg.MaxReconnectWait
	}
	return delay
}

// watch monitors a live handle: a head subscription plus a periodic liveness
// probe. Returns when either signals a dead connection; healthy reports
// whether the connection produced at least one head or successful probe
// before dying.
func (m *Manager) watch(ctx context.Context, handle source.DataSource) (healthy bool, err error) {
	heads := make(chan uint64, 16)
	sub, err := handle.SubscribeNewHeads(ctx, heads)
	if err != nil {
		return false, fmt.Errorf("conn: head watch: %w", err)
	}
	defer sub.Unsubscribe()

	probe := time.NewTicker(m.cfg.ProbeInterval)
	defer probe.Stop()

	for {
		select {
		case <-ctx.Done():
			return healthy, ctx.Err()
		case err := <-sub.Err():
			return healthy, fmt.Errorf("conn: head subscription: %w", err)
		case head := <-heads:
			healthy = true
			log.Debug().Uint64("block", head).Msg("New head")
		case <-probe.C:
			probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeInterval)
			_, err := handle.BlockNumber(probeCtx)
			cancel()
			if err != nil {
				return healthy, fmt.Errorf("conn: health probe: %w", err)
			}
			healthy = true
		}
	}
}

// runDegraded establishes the polling fallback and holds it until shutdown.
// A failed fallback dial is terminal.
func (m *Manager) runDegraded(ctx context.Context) error {
	handle, err := m.dialer.DialFallback(ctx)
	if err != nil {
		m.setState(types.StateFailed)
		log.Error().Err(err).Msg("Fallback transport failed, connection manager stopping")
		return fmt.Errorf("conn: all transports failed: %w", err)
	}

	m.install(handle, types.StateDegraded)
	m.restoreSubscriptions(handle)
	log.Warn().Msg("Running on degraded polling transport")

	probe := time.NewTicker(m.cfg.ProbeInterval)
	defer probe.Stop()

	for {
		select {
		case <-ctx.Done():
			m.drop(handle)
			return ctx.Err()
		case <-probe.C:
			probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeInterval)
			_, err := handle.BlockNumber(probeCtx)
			cancel()
			if err != nil {
				// Degraded transport hiccups are logged, not escalated.
				log.Warn().Err(err).Msg("Degraded transport probe failed")
			}
		}
	}
}

// restoreSubscriptions re-invokes the restore procedure of every registered
// subscription not yet restored for the current connection, independently;
// one failure never blocks the others.
func (m *Manager) restoreSubscriptions(handle source.DataSource) {
	m.mu.Lock()
	gen := m.gen
	pending := make(map[string]RestoreFunc, len(m.subs))
	for k, fn := range m.subs {
		if m.restoredGen[k] != gen {
			m.restoredGen[k] = gen
			pending[k] = fn
		}
	}
	m.mu.Unlock()

	for key, restore := range pending {
		if err := restore(handle); err != nil {
			log.Error().Err(err).Str("subscription", key).Msg("Failed to restore subscription")
			continue
		}
		log.Debug().Str("subscription", key).Msg("Subscription restored")
	}
}

func (m *Manager) install(handle source.DataSource, state types.ConnectionState) {
	m.mu.Lock()
	m.handle = handle
	m.state = state
	m.gen++
	m.mu.Unlock()
	m.readyOnce.Do(func() { close(m.ready) })
	log.Info().Str("state", state.String()).Msg("Connection established")
}

func (m *Manager) drop(handle source.DataSource) {
	m.mu.Lock()
	if m.handle == handle {
		m.handle = nil
	}
	m.mu.Unlock()
	handle.Close()
}

func (m *Manager) setState(state types.ConnectionState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}
