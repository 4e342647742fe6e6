package sftppool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/arkadian-hale/deadside-ingest/internal/config"
	"github.com/arkadian-hale/deadside-ingest/internal/observability"
)

var (
	// ErrCircuitOpen is returned by Acquire while an endpoint's breaker is
	// open; callers skip the server this cycle instead of dialing.
	ErrCircuitOpen = errors.New("connection circuit open")

	// ErrAuthFailed marks a credential rejection. Not retryable: remaining
	// strategies are skipped and the endpoint is given up for the cycle.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrAcquireTimeout is returned when the pool is at capacity and no
	// connection was released within the acquire timeout.
	ErrAcquireTimeout = errors.New("timed out waiting for pooled connection")
)

// PoolConfig bounds the pool and its circuit breaker.
type PoolConfig struct {
	MaxPerEndpoint   int
	AcquireTimeout   time.Duration
	BreakerThreshold int           // consecutive dial failures before the circuit opens
	BreakerCooldown  time.Duration // open duration before a half-open trial
	Strategies       []Strategy
}

// DefaultPoolConfig returns production defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxPerEndpoint:   3,
		AcquireTimeout:   30 * time.Second,
		BreakerThreshold: 3,
		BreakerCooldown:  5 * time.Minute,
		Strategies:       DefaultStrategies(),
	}
}

// Pool maintains per-endpoint sets of authenticated SFTP connections. It is
// safe for concurrent use by all parser kinds; the idle queue is the one
// shared resource different kinds touch for the same server.
type Pool struct {
	cfg  PoolConfig
	dial DialFunc

	mu        sync.Mutex
	endpoints map[string]*endpointState
}

type endpointState struct {
	idle    chan *Conn
	slots   chan struct{}
	breaker *gobreaker.CircuitBreaker[*Conn]
}

// NewPool creates a connection pool using the given dial function.
func NewPool(cfg PoolConfig, dial DialFunc) *Pool {
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = DefaultStrategies()
	}
	if cfg.MaxPerEndpoint < 1 {
		cfg.MaxPerEndpoint = 1
	}
	return &Pool{
		cfg:       cfg,
		dial:      dial,
		endpoints: make(map[string]*endpointState),
	}
}

func (p *Pool) state(ep config.ServerEndpoint) *endpointState {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.endpoints[ep.Addr()]
	if !ok {
		st = &endpointState{
			idle:  make(chan *Conn, p.cfg.MaxPerEndpoint),
			slots: make(chan struct{}, p.cfg.MaxPerEndpoint),
		}
		st.breaker = p.newBreaker(ep.Addr())
		p.endpoints[ep.Addr()] = st
	}
	return st
}

func (p *Pool) newBreaker(endpoint string) *gobreaker.CircuitBreaker[*Conn] {
	threshold := uint32(p.cfg.BreakerThreshold)
	return gobreaker.NewCircuitBreaker[*Conn](gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: 1, // single trial connection in half-open state
		Timeout:     p.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("endpoint", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Connection circuit state change")
			observability.CircuitState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// Acquire returns a live connection for the endpoint, reusing an idle one when
// possible and dialing otherwise. Returns ErrCircuitOpen while the endpoint's
// breaker is open and ErrAcquireTimeout when the pool stays exhausted past the
// acquire timeout.
func (p *Pool) Acquire(ctx context.Context, ep config.ServerEndpoint) (*Conn, error) {
	st := p.state(ep)

	deadline := time.NewTimer(p.cfg.AcquireTimeout)
	defer deadline.Stop()

	for {
		// Fast path: reuse an idle connection.
		select {
		case conn := <-st.idle:
			if conn.Alive() {
				return conn, nil
			}
			conn.Close()
			<-st.slots // free the dead connection's slot
			continue
		default:
		}

		// Take a slot to dial a fresh connection, or wait for a release.
		select {
		case st.slots <- struct{}{}:
			conn, err := st.breaker.Execute(func() (*Conn, error) {
				return p.dialStrategies(ctx, ep)
			})
			if err != nil {
				<-st.slots
				if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
					return nil, ErrCircuitOpen
				}
				return nil, err
			}
			return conn, nil

		case conn := <-st.idle:
			if conn.Alive() {
				return conn, nil
			}
			conn.Close()
			<-st.slots
			continue

		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrAcquireTimeout, ctx.Err())

		case <-deadline.C:
			return nil, ErrAcquireTimeout
		}
	}
}

// dialStrategies tries each negotiation strategy in order. A credential
// rejection aborts the ladder immediately: the later strategies would present
// the same credentials.
func (p *Pool) dialStrategies(ctx context.Context, ep config.ServerEndpoint) (*Conn, error) {
	var lastErr error
	for _, s := range p.cfg.Strategies {
		conn, err := p.dial(ctx, ep, s)
		if err == nil {
			log.Debug().
				Str("endpoint", ep.Addr()).
				Str("strategy", s.Name).
				Msg("SFTP connection established")
			return conn, nil
		}

		if isAuthError(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrAuthFailed, ep.Addr(), err)
		}

		log.Debug().
			Str("endpoint", ep.Addr()).
			Str("strategy", s.Name).
			Err(err).
			Msg("Negotiation strategy failed")
		lastErr = err
	}
	return nil, fmt.Errorf("all negotiation strategies failed for %s: %w", ep.Addr(), lastErr)
}

// Release returns a connection to the endpoint's idle queue. Dead connections
// are closed and their slot freed instead.
func (p *Pool) Release(ep config.ServerEndpoint, conn *Conn) {
	if conn == nil {
		return
	}
	st := p.state(ep)

	if !conn.Alive() {
		conn.Close()
		<-st.slots
		return
	}

	select {
	case st.idle <- conn:
	default:
		// Idle queue full; should not happen with slot accounting, but never
		// leak a transport.
		conn.Close()
		<-st.slots
	}
}

// Sweep closes idle connections whose transport has died.
func (p *Pool) Sweep() {
	p.mu.Lock()
	states := make([]*endpointState, 0, len(p.endpoints))
	for _, st := range p.endpoints {
		states = append(states, st)
	}
	p.mu.Unlock()

	for _, st := range states {
		n := len(st.idle)
		for i := 0; i < n; i++ {
			select {
			case conn := <-st.idle:
				if conn.Alive() {
					st.idle <- conn
				} else {
					conn.Close()
					<-st.slots
				}
			default:
			}
		}
	}
}

// StartSweeper runs Sweep on the given interval until the context is done.
func (p *Pool) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep()
		}
	}
}

// Close closes every idle connection. In-flight connections are closed by
// their holders on Release.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, st := range p.endpoints {
		drainIdle(st)
	}
}

func drainIdle(st *endpointState) {
	for {
		select {
		case conn := <-st.idle:
			conn.Close()
		default:
			return
		}
	}
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "auth fail")
}
