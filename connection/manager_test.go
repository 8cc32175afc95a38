package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/bnbvote/core"
)

type fakeConn struct {
	id     int
	closed atomic.Bool
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeDialer counts dials. When gate is set, each dial blocks until the gate
// is closed.
type fakeDialer struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
	errs  []error
}

func (d *fakeDialer) Dial(ctx context.Context) (*fakeConn, error) {
	d.mu.Lock()
	d.calls++
	n := d.calls
	gate := d.gate
	var err error
	if len(d.errs) > 0 {
		err = d.errs[0]
		d.errs = d.errs[1:]
	}
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &fakeConn{id: n}, nil
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func newTestManager(d *fakeDialer, clock *fakeClock) *Manager[*fakeConn] {
	opts := DefaultOptions()
	opts.ConnectTimeout = time.Second
	return New("test", d.Dial, opts, WithClock(clock.Now))
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestManager_LazyConnect(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, newClock())

	assert.Equal(t, Disconnected, m.State().Phase)
	assert.Equal(t, 0, d.Calls())

	conn, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, conn.id)
	assert.Equal(t, Connected, m.State().Phase)

	again, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, conn, again)
	assert.Equal(t, 1, d.Calls())
}

func TestManager_SingleFlight(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	m := newTestManager(d, newClock())

	const callers = 25
	var wg sync.WaitGroup
	conns := make([]*fakeConn, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i], errs[i] = m.Acquire(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return m.State().Attempting }, time.Second, time.Millisecond)
	assert.Equal(t, Connecting, m.State().Phase)
	close(d.gate)
	wg.Wait()

	assert.Equal(t, 1, d.Calls(), "concurrent acquires must share one attempt")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, conns[0], conns[i])
	}
	assert.False(t, m.State().Attempting)
}

func TestManager_FailurePropagatesToAllWaiters(t *testing.T) {
	dialErr := errors.New("connection refused")
	d := &fakeDialer{gate: make(chan struct{}), errs: []error{dialErr}}
	m := newTestManager(d, newClock())

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Acquire(context.Background())
		}(i)
	}
	require.Eventually(t, func() bool { return m.State().Attempting }, time.Second, time.Millisecond)
	close(d.gate)
	wg.Wait()

	for _, err := range errs {
		var connErr *core.ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, "test", connErr.Store)
		assert.ErrorIs(t, err, dialErr)
	}
	state := m.State()
	assert.Equal(t, Failed, state.Phase)
	assert.False(t, state.Attempting)
	assert.Equal(t, 1, d.Calls())
}

func TestManager_ReconnectIsRateLimited(t *testing.T) {
	clock := newClock()
	d := &fakeDialer{errs: []error{errors.New("down"), errors.New("still down")}}
	m := newTestManager(d, clock)

	_, err := m.Acquire(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, d.Calls())

	// Second trigger inside the interval: no new attempt, fast failure.
	clock.Advance(2 * time.Second)
	_, err = m.Acquire(context.Background())
	assert.ErrorIs(t, err, core.ErrReconnectThrottled)
	var connErr *core.ConnectionError
	assert.ErrorAs(t, err, &connErr)
	assert.Equal(t, 1, d.Calls())

	// Once the interval has passed a new attempt is made.
	clock.Advance(3*time.Second + time.Millisecond)
	_, err = m.Acquire(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrReconnectThrottled)
	assert.Equal(t, 2, d.Calls())

	clock.Advance(5*time.Second + time.Millisecond)
	conn, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, conn.id)
	assert.Equal(t, Connected, m.State().Phase)
}

func TestManager_ThrottledCallerJoinsInFlightAttempt(t *testing.T) {
	clock := newClock()
	d := &fakeDialer{gate: make(chan struct{})}
	m := newTestManager(d, clock)

	first := make(chan error, 1)
	go func() {
		_, err := m.Acquire(context.Background())
		first <- err
	}()
	require.Eventually(t, func() bool { return m.State().Attempting }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := m.Acquire(context.Background())
		second <- err
	}()

	close(d.gate)
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, 1, d.Calls())
}

func TestManager_InvalidateTriggersReconnect(t *testing.T) {
	clock := newClock()
	d := &fakeDialer{}
	m := newTestManager(d, clock)

	var notified []error
	m.OnInvalidate(func(cause error) { notified = append(notified, cause) })

	conn, err := m.Acquire(context.Background())
	require.NoError(t, err)

	cause := errors.New("server closed the connection")
	m.Invalidate(cause)

	assert.True(t, conn.closed.Load(), "invalidated connection should be closed")
	assert.Equal(t, Disconnected, m.State().Phase)
	require.Len(t, notified, 1)
	assert.Equal(t, cause, notified[0])

	// Still within the interval of the first attempt.
	_, err = m.Acquire(context.Background())
	assert.ErrorIs(t, err, core.ErrReconnectThrottled)

	clock.Advance(5*time.Second + time.Millisecond)
	next, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, conn, next)
	assert.Equal(t, 2, d.Calls())
}

func TestManager_TwoInvalidationsWithinIntervalDialOnce(t *testing.T) {
	clock := newClock()
	d := &fakeDialer{}
	m := newTestManager(d, clock)

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)

	clock.Advance(6 * time.Second)
	m.Invalidate(errors.New("disconnected"))
	_, err = m.Acquire(context.Background())
	require.NoError(t, err)

	clock.Advance(time.Second)
	m.Invalidate(errors.New("disconnected again"))
	_, err = m.Acquire(context.Background())
	assert.ErrorIs(t, err, core.ErrReconnectThrottled)

	assert.Equal(t, 2, d.Calls(), "second trigger inside the interval must not dial")
}

func TestManager_DiscardIgnoresStaleConnection(t *testing.T) {
	clock := newClock()
	d := &fakeDialer{}
	m := newTestManager(d, clock)

	first, err := m.Acquire(context.Background())
	require.NoError(t, err)
	m.Discard(first, errors.New("broken pipe"))
	assert.Equal(t, Disconnected, m.State().Phase)

	clock.Advance(10 * time.Second)
	second, err := m.Acquire(context.Background())
	require.NoError(t, err)

	// A late report about the old connection leaves the new one alone.
	m.Discard(first, errors.New("late broken pipe"))
	assert.Equal(t, Connected, m.State().Phase)
	assert.False(t, second.closed.Load())
}

func TestManager_CancelledWaiterDoesNotCancelAttempt(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	m := newTestManager(d, newClock())

	ctx, cancel := context.WithCancel(context.Background())
	waiterErr := make(chan error, 1)
	go func() {
		_, err := m.Acquire(ctx)
		waiterErr <- err
	}()
	require.Eventually(t, func() bool { return m.State().Attempting }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-waiterErr, context.Canceled)

	close(d.gate)
	conn, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, conn)
	assert.Equal(t, 1, d.Calls())
}

func TestManager_ConnectTimeout(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	opts := DefaultOptions()
	opts.ConnectTimeout = 20 * time.Millisecond
	m := New("test", d.Dial, opts)

	_, err := m.Acquire(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Failed, m.State().Phase)
}

func TestManager_Close(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(d, newClock())

	conn, err := m.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Close())
	assert.True(t, conn.closed.Load())

	_, err = m.Acquire(context.Background())
	assert.ErrorIs(t, err, core.ErrManagerClosed)
}

func TestManager_WatchDropsDeadConnection(t *testing.T) {
	d := &fakeDialer{}
	opts := DefaultOptions()
	opts.HealthCheckInterval = 5 * time.Millisecond
	m := New("test", d.Dial, opts)

	var notified atomic.Int32
	m.OnInvalidate(func(cause error) { notified.Add(1) })

	conn, err := m.Acquire(context.Background())
	require.NoError(t, err)

	var healthy atomic.Bool
	healthy.Store(true)
	var pings atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Watch(ctx, func(ctx context.Context, c *fakeConn) error {
		pings.Add(1)
		if healthy.Load() {
			return nil
		}
		return errors.New("connection reset by peer")
	})

	require.Eventually(t, func() bool { return pings.Load() >= 2 }, time.Second, time.Millisecond)
	assert.Equal(t, Connected, m.State().Phase)
	assert.False(t, conn.closed.Load())

	healthy.Store(false)
	require.Eventually(t, func() bool { return m.State().Phase == Disconnected }, time.Second, time.Millisecond)
	assert.True(t, conn.closed.Load())
	assert.EqualValues(t, 1, notified.Load())
	assert.Equal(t, 1, d.Calls(), "watch must not dial")
}

func TestManager_WatchDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.HealthCheckInterval = 0
	m := New("test", (&fakeDialer{}).Dial, opts)

	done := make(chan struct{})
	go func() {
		m.Watch(context.Background(), func(ctx context.Context, c *fakeConn) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch with no interval should return at once")
	}
}
