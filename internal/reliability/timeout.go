package reliability

import (
	"context"
	"time"
)

// TimeoutConfig holds the IMAP connect/greeting/socket timeouts plus an
// overall Total budget, which the fetcher does not consult.
type TimeoutConfig struct {
	Connect  time.Duration
	Greeting time.Duration
	Socket   time.Duration
	Total    time.Duration
}

// DefaultIMAPTimeouts returns the default timeout budget: 20s connect,
// 15s greeting, 30s socket.
func DefaultIMAPTimeouts() TimeoutConfig {
	return TimeoutConfig{
		Connect:  20 * time.Second,
		Greeting: 15 * time.Second,
		Socket:   30 * time.Second,
		Total:    10 * time.Minute,
	}
}

// WithTimeout runs fn with a context bound to timeout, returning
// ctx.Err() if fn doesn't finish in time.
func WithTimeout(timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
