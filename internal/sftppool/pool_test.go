package sftppool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arkadian-hale/deadside-ingest/internal/config"
)

func testEndpoint() config.ServerEndpoint {
	return config.ServerEndpoint{
		GuildID:  "g1",
		ServerID: "s1",
		Host:     "203.0.113.10",
		Port:     8822,
		Username: "svc",
		Password: "pw",
	}
}

func testPoolConfig() PoolConfig {
	return PoolConfig{
		MaxPerEndpoint:   2,
		AcquireTimeout:   50 * time.Millisecond,
		BreakerThreshold: 3,
		BreakerCooldown:  time.Hour,
		Strategies:       []Strategy{{Name: "test"}},
	}
}

func countingDialer(calls *atomic.Int32, err error) DialFunc {
	return func(ctx context.Context, ep config.ServerEndpoint, s Strategy) (*Conn, error) {
		calls.Add(1)
		if err != nil {
			return nil, err
		}
		return NewConn(nil, nil), nil
	}
}

func TestAcquire_ReusesIdleConnection(t *testing.T) {
	var calls atomic.Int32
	pool := NewPool(testPoolConfig(), countingDialer(&calls, nil))
	ep := testEndpoint()

	conn1, err := pool.Acquire(context.Background(), ep)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	pool.Release(ep, conn1)

	conn2, err := pool.Acquire(context.Background(), ep)
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if conn1 != conn2 {
		t.Error("expected the idle connection to be reused")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 dial, got %d", calls.Load())
	}
}

func TestAcquire_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	pool := NewPool(testPoolConfig(), countingDialer(&calls, errors.New("connection refused")))
	ep := testEndpoint()

	for i := 0; i < 3; i++ {
		if _, err := pool.Acquire(context.Background(), ep); err == nil {
			t.Fatalf("acquire %d should have failed", i+1)
		}
	}
	dialsBefore := calls.Load()

	_, err := pool.Acquire(context.Background(), ep)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls.Load() != dialsBefore {
		t.Errorf("open circuit must fail fast without dialing: %d dials after, %d before", calls.Load(), dialsBefore)
	}
}

func TestAcquire_AuthFailureShortCircuitsStrategies(t *testing.T) {
	var calls atomic.Int32
	cfg := testPoolConfig()
	cfg.Strategies = []Strategy{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	pool := NewPool(cfg, countingDialer(&calls, errors.New("ssh: unable to authenticate, attempted methods [password]")))

	_, err := pool.Acquire(context.Background(), testEndpoint())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single dial for an auth failure, got %d", calls.Load())
	}
}

func TestAcquire_TriesAllStrategiesOnNetworkFailure(t *testing.T) {
	var calls atomic.Int32
	cfg := testPoolConfig()
	cfg.Strategies = []Strategy{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	pool := NewPool(cfg, countingDialer(&calls, errors.New("connection reset")))

	if _, err := pool.Acquire(context.Background(), testEndpoint()); err == nil {
		t.Fatal("expected failure")
	}
	if calls.Load() != 3 {
		t.Errorf("expected every strategy to be tried, got %d dials", calls.Load())
	}
}

func TestAcquire_TimesOutWhenExhausted(t *testing.T) {
	var calls atomic.Int32
	cfg := testPoolConfig()
	cfg.MaxPerEndpoint = 1
	pool := NewPool(cfg, countingDialer(&calls, nil))
	ep := testEndpoint()

	conn, err := pool.Acquire(context.Background(), ep)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer pool.Release(ep, conn)

	_, err = pool.Acquire(context.Background(), ep)
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Errorf("expected ErrAcquireTimeout, got %v", err)
	}
}

func TestRelease_DeadConnectionFreesSlot(t *testing.T) {
	var calls atomic.Int32
	cfg := testPoolConfig()
	cfg.MaxPerEndpoint = 1
	pool := NewPool(cfg, countingDialer(&calls, nil))
	ep := testEndpoint()

	conn, err := pool.Acquire(context.Background(), ep)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	conn.MarkBroken()
	pool.Release(ep, conn)

	conn2, err := pool.Acquire(context.Background(), ep)
	if err != nil {
		t.Fatalf("acquire after broken release failed: %v", err)
	}
	if conn2 == conn {
		t.Error("broken connection must not be handed out again")
	}
	if calls.Load() != 2 {
		t.Errorf("expected a fresh dial, got %d total dials", calls.Load())
	}
}
