package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

var ErrDialGaveUp = errors.New("peer: dial gave up")

// Dialer connects to a neighbor with exponential backoff. Attempts == 0
// keeps trying until ctx is cancelled.
type Dialer struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Factor         float64
	Timeout        time.Duration
	Logger         *zap.Logger
}

func DefaultDialer() *Dialer {
	return &Dialer{
		Attempts:       10,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Factor:         2,
		Timeout:        3 * time.Second,
	}
}

func (d *Dialer) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d *Dialer) nextBackoff(cur time.Duration) time.Duration {
	factor := d.Factor
	if factor < 1 {
		factor = 1
	}
	next := time.Duration(float64(cur) * factor)
	if d.MaxBackoff > 0 && next > d.MaxBackoff {
		next = d.MaxBackoff
	}
	return next
}

func (d *Dialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	backoff := d.InitialBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; d.Attempts == 0 || attempt <= d.Attempts; attempt++ {
		conn, err := nd.DialContext(ctx, "tcp", addr)
		if err == nil {
			if attempt > 1 {
				d.logger().Info("connected after retry", zap.String("addr", addr), zap.Int("attempt", attempt))
			}
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger().Debug("dial failed", zap.String("addr", addr), zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff = d.nextBackoff(backoff)
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrDialGaveUp, addr, d.Attempts, lastErr)
}
