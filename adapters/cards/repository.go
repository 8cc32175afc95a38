// Package cards holds the card repositories. The Redis and SQLite
// repositories reach their store through a connection.Manager and report
// connection-level failures back to it.
package cards

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/bnbvote/connection"
	"github.com/layer-3/bnbvote/core"
	"github.com/layer-3/bnbvote/ports"
)

// Repository is a card repository that owns a backing-store connection
type Repository interface {
	ports.CardRepository
	State() connection.State

	// Watch health-checks the connection until ctx is done
	Watch(ctx context.Context)

	// Reconnect drops the current connection; the next request dials again
	Reconnect(cause error)

	// OnDisconnect registers fn to run whenever the connection is dropped
	OnDisconnect(fn func(cause error))

	Close() error
}

// Open picks a repository from the URI scheme: redis://, rediss://,
// sqlite://<path> or memory://.
func Open(uri string, opts connection.Options, logger *slog.Logger, now func() time.Time) (Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	mopts := []connection.Option{connection.WithLogger(logger), connection.WithClock(now)}

	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return nil, fmt.Errorf("store uri %q has no scheme", uri)
	}

	switch scheme {
	case "redis", "rediss":
		if _, err := redis.ParseURL(uri); err != nil {
			return nil, fmt.Errorf("invalid redis uri: %w", err)
		}
		m := connection.New("redis", RedisDialer(uri, opts), opts, mopts...)
		return NewRedisRepository(m, "bnbvote:"), nil
	case "sqlite":
		if rest == "" {
			return nil, fmt.Errorf("sqlite uri %q has no path", uri)
		}
		m := connection.New("sqlite", SQLiteDialer(rest, opts), opts, mopts...)
		return NewSQLiteRepository(m), nil
	case "memory":
		return NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported store scheme %q", scheme)
	}
}

// isConnectionFailure reports whether err means the connection itself is
// broken, as opposed to a failed query or a cancelled request
func isConnectionFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, redis.ErrClosed) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classify turns a store failure into the error callers see and tells the
// manager when the connection has to go
func classify[T connection.Handle](m *connection.Manager[T], conn T, op string, err error) error {
	if err == nil {
		return nil
	}
	if isConnectionFailure(err) {
		m.Discard(conn, err)
		return &core.ConnectionError{Store: m.Name(), Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", core.ErrStoreOperation, op, err)
}
