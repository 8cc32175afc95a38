package cards

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/layer-3/bnbvote/connection"
)

// RedisDialer opens a pooled Redis client sized by opts and checks it with
// a PING before handing it to the manager.
func RedisDialer(uri string, opts connection.Options) connection.Dialer[*redis.Client] {
	return func(ctx context.Context) (*redis.Client, error) {
		ropts, err := redis.ParseURL(uri)
		if err != nil {
			return nil, fmt.Errorf("parse redis uri: %w", err)
		}
		if opts.MaxPoolSize > 0 {
			ropts.PoolSize = opts.MaxPoolSize
		}
		ropts.MinIdleConns = opts.MinPoolSize
		ropts.DialTimeout = opts.ConnectTimeout
		ropts.ReadTimeout = opts.SocketTimeout
		ropts.WriteTimeout = opts.SocketTimeout
		ropts.PoolTimeout = opts.ServerSelectionTimeout
		// The manager owns reconnection
		ropts.MaxRetries = -1

		client := redis.NewClient(ropts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return client, nil
	}
}

// SQLiteDialer opens the database at path in WAL mode and applies the schema.
func SQLiteDialer(path string, opts connection.Options) connection.Dialer[*sql.DB] {
	return func(ctx context.Context) (*sql.DB, error) {
		dsn := filepath.Clean(path) + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)"
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}

		// One writer at a time avoids "database is locked" under load
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if opts.SocketTimeout > 0 {
			db.SetConnMaxIdleTime(opts.SocketTimeout)
		}

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping sqlite: %w", err)
		}
		if err := migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return db, nil
	}
}
