// Package connection manages the lifecycle of one shared backing-store
// connection: lazy connect, single-flight connection attempts, rate-limited
// reconnection and invalidation on failure.
package connection

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/layer-3/bnbvote/core"
	"github.com/layer-3/bnbvote/metrics"
)

// Phase is the state of the managed connection.
type Phase int32

const (
	Disconnected Phase = iota
	Connecting
	Connected
	Failed
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Handle is a connection handle. Handles must be comparable so a failure
// report can be matched against the current connection.
type Handle interface {
	comparable
	io.Closer
}

// Dialer opens a new connection. ctx carries the connect timeout.
type Dialer[T Handle] func(ctx context.Context) (T, error)

// State is a snapshot of the manager.
type State struct {
	Phase         Phase
	LastAttemptAt time.Time
	LastError     error
	Attempting    bool
}

type attempt[T Handle] struct {
	done chan struct{}
	conn T
	err  error
}

// Manager owns a single shared connection of type T.
type Manager[T Handle] struct {
	name   string
	dial   Dialer[T]
	opts   Options
	now    func() time.Time
	logger *slog.Logger

	mu            sync.Mutex
	phase         Phase
	conn          T
	lastAttemptAt time.Time
	lastErr       error
	pending       *attempt[T]
	limiter       *rate.Limiter
	listeners     []func(error)
	closed        bool
}

// Option configures a Manager.
type Option func(*settings)

type settings struct {
	now    func() time.Time
	logger *slog.Logger
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithLogger sets the logger used for connection events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// New creates a manager in the Disconnected phase. No connection is made
// until the first Acquire.
func New[T Handle](name string, dial Dialer[T], opts Options, extra ...Option) *Manager[T] {
	s := settings{now: time.Now, logger: slog.Default()}
	for _, opt := range extra {
		opt(&s)
	}

	m := &Manager[T]{
		name:    name,
		dial:    dial,
		opts:    opts,
		now:     s.now,
		logger:  s.logger.With("store", name),
		limiter: rate.NewLimiter(rate.Every(opts.MinReconnectInterval), 1),
	}
	metrics.ConnectionPhase.WithLabelValues(name).Set(float64(Disconnected))
	return m
}

// Name returns the store name used in errors and metrics.
func (m *Manager[T]) Name() string {
	return m.name
}

// Options returns the options the manager was built with.
func (m *Manager[T]) Options() Options {
	return m.opts
}

// Acquire returns the active connection, connecting if needed. Concurrent
// callers share one in-flight attempt. A new attempt is refused with
// core.ErrReconnectThrottled if the previous one started less than
// MinReconnectInterval ago. Failures are returned as *core.ConnectionError
// and are not retried here; calling Acquire again re-enters the
// rate-limited path.
//
// Cancelling ctx only abandons the wait. The attempt keeps running for the
// other waiters.
func (m *Manager[T]) Acquire(ctx context.Context) (T, error) {
	var zero T

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return zero, &core.ConnectionError{Store: m.name, Err: core.ErrManagerClosed}
	}
	if m.phase == Connected {
		conn := m.conn
		m.mu.Unlock()
		return conn, nil
	}

	a := m.pending
	if a == nil {
		now := m.now()
		if !m.limiter.AllowN(now, 1) {
			lastErr := m.lastErr
			m.mu.Unlock()
			metrics.ConnectionAttempts.WithLabelValues(m.name, "throttled").Inc()
			err := core.ErrReconnectThrottled
			if lastErr != nil {
				err = fmt.Errorf("%w (last error: %v)", core.ErrReconnectThrottled, lastErr)
			}
			return zero, &core.ConnectionError{Store: m.name, Err: err}
		}

		a = &attempt[T]{done: make(chan struct{})}
		m.pending = a
		m.lastAttemptAt = now
		m.setPhaseLocked(Connecting)
		go m.connect(a)
	}
	m.mu.Unlock()

	select {
	case <-a.done:
		if a.err != nil {
			return zero, &core.ConnectionError{Store: m.name, Err: a.err}
		}
		return a.conn, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (m *Manager[T]) connect(a *attempt[T]) {
	ctx, cancel := context.Background(), context.CancelFunc(func() {})
	if m.opts.ConnectTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, m.opts.ConnectTimeout)
	}
	m.logger.Info("connecting to backing store")
	conn, err := m.dial(ctx)
	cancel()

	var orphan T
	var hasOrphan bool

	m.mu.Lock()
	m.pending = nil
	if err == nil && m.closed {
		orphan, hasOrphan = conn, true
		var zero T
		conn, err = zero, core.ErrManagerClosed
	}
	if err != nil {
		m.lastErr = err
		m.setPhaseLocked(Failed)
	} else {
		m.conn = conn
		m.lastErr = nil
		m.setPhaseLocked(Connected)
	}
	a.conn, a.err = conn, err
	close(a.done)
	m.mu.Unlock()

	if hasOrphan {
		_ = orphan.Close()
	}
	if err != nil {
		metrics.ConnectionAttempts.WithLabelValues(m.name, "failure").Inc()
		m.logger.Error("failed to connect to backing store", "error", err)
		return
	}
	metrics.ConnectionAttempts.WithLabelValues(m.name, "success").Inc()
	m.logger.Info("connected to backing store")
}

// Invalidate is the external disconnection signal. The current connection,
// if any, is closed and the manager returns to Disconnected so the next
// Acquire reconnects. An in-flight attempt is left alone.
func (m *Manager[T]) Invalidate(cause error) {
	m.mu.Lock()
	if m.phase != Connected && m.phase != Failed {
		m.mu.Unlock()
		return
	}
	m.invalidateLocked(cause)
}

// Discard reports that conn failed with a connection-level error. It only
// has an effect while conn is still the current connection, so late reports
// from requests that used an older connection are ignored.
func (m *Manager[T]) Discard(conn T, cause error) {
	m.mu.Lock()
	if m.phase != Connected || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.invalidateLocked(cause)
}

// invalidateLocked resets to Disconnected, then releases mu, closes the old
// connection and notifies listeners. Caller must hold mu.
func (m *Manager[T]) invalidateLocked(cause error) {
	var zero T
	old, hadConn := m.conn, m.phase == Connected
	m.conn = zero
	if cause != nil {
		m.lastErr = cause
	}
	m.setPhaseLocked(Disconnected)
	listeners := make([]func(error), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.logger.Warn("backing store connection invalidated", "cause", cause)
	if hadConn {
		if err := old.Close(); err != nil {
			m.logger.Debug("closing invalidated connection", "error", err)
		}
	}
	for _, fn := range listeners {
		fn(cause)
	}
}

// OnInvalidate registers fn to be called each time the connection is
// invalidated.
func (m *Manager[T]) OnInvalidate(fn func(cause error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Ping checks a live connection.
type Ping[T Handle] func(ctx context.Context, conn T) error

// Watch pings the current connection every HealthCheckInterval until ctx is
// done. A failed ping drops the connection the way Discard does, so a dead
// server is noticed before a request trips over it. Nothing is dialled here;
// reconnecting is left to the next Acquire.
func (m *Manager[T]) Watch(ctx context.Context, ping Ping[T]) {
	if m.opts.HealthCheckInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.opts.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx, ping)
		}
	}
}

func (m *Manager[T]) check(ctx context.Context, ping Ping[T]) {
	m.mu.Lock()
	if m.phase != Connected {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.mu.Unlock()

	timeout := m.opts.SocketTimeout
	if timeout <= 0 {
		timeout = m.opts.HealthCheckInterval
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	err := ping(pctx, conn)
	cancel()

	if err == nil || ctx.Err() != nil {
		return
	}
	metrics.ConnectionAttempts.WithLabelValues(m.name, "health_check_failed").Inc()
	m.logger.Warn("health check failed", "error", err)
	m.Discard(conn, err)
}

// State returns a snapshot of the connection state.
func (m *Manager[T]) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Phase:         m.phase,
		LastAttemptAt: m.lastAttemptAt,
		LastError:     m.lastErr,
		Attempting:    m.pending != nil,
	}
}

// Close closes the current connection. Later calls to Acquire fail with
// core.ErrManagerClosed.
func (m *Manager[T]) Close() error {
	var zero T

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	old, hadConn := m.conn, m.phase == Connected
	m.conn = zero
	m.setPhaseLocked(Disconnected)
	m.mu.Unlock()

	if hadConn {
		return old.Close()
	}
	return nil
}

func (m *Manager[T]) setPhaseLocked(p Phase) {
	m.phase = p
	metrics.ConnectionPhase.WithLabelValues(m.name).Set(float64(p))
}
