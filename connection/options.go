package connection

import "time"

// Options tunes the managed connection. Pool bounds and socket timeouts are
// applied by the dialer; the manager itself uses ConnectTimeout,
// MinReconnectInterval and HealthCheckInterval.
type Options struct {
	MinPoolSize            int
	MaxPoolSize            int
	ConnectTimeout         time.Duration
	SocketTimeout          time.Duration
	ServerSelectionTimeout time.Duration
	MinReconnectInterval   time.Duration

	// HealthCheckInterval is how often Watch pings the connection. Zero
	// disables the check.
	HealthCheckInterval time.Duration
}

// DefaultOptions returns options sized for a busy read-mostly service.
func DefaultOptions() Options {
	return Options{
		MinPoolSize:            10,
		MaxPoolSize:            100,
		ConnectTimeout:         30 * time.Second,
		SocketTimeout:          45 * time.Second,
		ServerSelectionTimeout: 30 * time.Second,
		MinReconnectInterval:   5 * time.Second,
		HealthCheckInterval:    15 * time.Second,
	}
}
