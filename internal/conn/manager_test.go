package conn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/croswell/dexarb/internal/config"
	"github.com/croswell/dexarb/internal/source"
	"github.com/croswell/dexarb/internal/source/sourcetest"
	"github.com/croswell/dexarb/pkg/types"
)

func testConnCfg() config.ConnectionConfig {
	return config.ConnectionConfig{
		ProbeInterval:    time.Hour, // probes never fire in tests
		ReconnectDelay:   time.Millisecond,
		MaxReconnectWait: 10 * time.Millisecond,
		ReconnectCeiling: 5,
	}
}

// fakeDialer scripts both transports and records every streaming handle's
// head subscription so tests can kill connections on demand. Each handle
// delivers one head immediately, marking the connection healthy.
type fakeDialer struct {
	mu        sync.Mutex
	streamErr error
	subErr    error // handles dial fine but refuse head subscriptions
	fallback  func(ctx context.Context) (source.DataSource, error)
	subs      []*sourcetest.Sub
	dials     atomic.Int64
}

func (d *fakeDialer) DialStream(ctx context.Context) (source.DataSource, error) {
	d.dials.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.streamErr != nil {
		return nil, d.streamErr
	}
	sub := sourcetest.NewSub()
	d.subs = append(d.subs, sub)
	block := uint64(len(d.subs))
	return &sourcetest.Fake{
		SubscribeFn: func(ctx context.Context, ch chan<- uint64) (source.Subscription, error) {
			if d.subErr != nil {
				return nil, d.subErr
			}
			ch <- block
			return sub, nil
		},
	}, nil
}

func (d *fakeDialer) DialFallback(ctx context.Context) (source.DataSource, error) {
	if d.fallback != nil {
		return d.fallback(ctx)
	}
	return nil, errors.New("no fallback scripted")
}

func (d *fakeDialer) lastSub() *sourcetest.Sub {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subs[len(d.subs)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManagerRestoresSubscriptionsAcrossReconnects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialer := &fakeDialer{}
	mgr := NewManager(dialer, testConnCfg())
	go mgr.Run(ctx)

	readyCtx, readyCancel := context.WithTimeout(ctx, 2*time.Second)
	defer readyCancel()
	if err := mgr.WaitReady(readyCtx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if got := mgr.State(); got != types.StateLive {
		t.Fatalf("state = %s, want live", got)
	}

	var restores atomic.Int64
	if err := mgr.Subscribe("counter", func(ds source.DataSource) error {
		restores.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if restores.Load() != 1 {
		t.Fatalf("restores = %d after subscribe, want 1", restores.Load())
	}

	// Kill the connection three times; each recovery must restore the
	// subscription again.
	for i := int64(2); i <= 4; i++ {
		dialer.lastSub().Fail(errors.New("connection dropped"))
		waitFor(t, "reconnect restore", func() bool { return restores.Load() == i })
		waitFor(t, "live state", func() bool { return mgr.State() == types.StateLive })
	}
}

func TestManagerDegradesAfterCeiling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialer := &fakeDialer{
		streamErr: errors.New("websocket refused"),
		fallback: func(ctx context.Context) (source.DataSource, error) {
			return &sourcetest.Fake{}, nil
		},
	}
	mgr := NewManager(dialer, testConnCfg())

	var restores atomic.Int64
	if err := mgr.Subscribe("counter", func(ds source.DataSource) error {
		restores.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	go mgr.Run(ctx)

	readyCtx, readyCancel := context.WithTimeout(ctx, 2*time.Second)
	defer readyCancel()
	if err := mgr.WaitReady(readyCtx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if got := mgr.State(); got != types.StateDegraded {
		t.Fatalf("state = %s, want degraded", got)
	}
	waitFor(t, "degraded restore", func() bool { return restores.Load() == 1 })
	if _, err := mgr.Provider().Get(); err != nil {
		t.Fatalf("degraded handle unavailable: %v", err)
	}
}

// An endpoint can accept the dial yet reject head subscriptions, as an HTTP
// URL configured in the streaming slot does. Those connections never prove
// healthy, so they must burn reconnect attempts and reach the fallback
// instead of re-dialing forever.
func TestManagerDegradesWhenStreamCannotSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialer := &fakeDialer{
		subErr: errors.New("notifications not supported"),
		fallback: func(ctx context.Context) (source.DataSource, error) {
			return &sourcetest.Fake{}, nil
		},
	}
	mgr := NewManager(dialer, testConnCfg())
	go mgr.Run(ctx)

	waitFor(t, "degraded state", func() bool { return mgr.State() == types.StateDegraded })
	if got := dialer.dials.Load(); got != int64(testConnCfg().ReconnectCeiling) {
		t.Fatalf("stream dials = %d, want exactly the ceiling %d", got, testConnCfg().ReconnectCeiling)
	}
}

// A restore procedure runs exactly once per installed connection, even if a
// restore sweep overlaps the subscribe call.
func TestSubscribeRestoresOncePerConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialer := &fakeDialer{}
	mgr := NewManager(dialer, testConnCfg())
	go mgr.Run(ctx)

	readyCtx, readyCancel := context.WithTimeout(ctx, 2*time.Second)
	defer readyCancel()
	if err := mgr.WaitReady(readyCtx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	var restores atomic.Int64
	if err := mgr.Subscribe("counter", func(ds source.DataSource) error {
		restores.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if restores.Load() != 1 {
		t.Fatalf("restores = %d after subscribe, want 1", restores.Load())
	}

	// A second sweep against the same connection must be a no-op.
	handle := mgr.Handle()
	if handle == nil {
		t.Fatal("no live handle")
	}
	mgr.restoreSubscriptions(handle)
	if restores.Load() != 1 {
		t.Fatalf("restores = %d after redundant sweep, want 1", restores.Load())
	}

	// The next connection restores again.
	dialer.lastSub().Fail(errors.New("connection dropped"))
	waitFor(t, "reconnect restore", func() bool { return restores.Load() == 2 })
}
