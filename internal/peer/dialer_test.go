package peer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestDialer_GivesUpAfterAttempts(t *testing.T) {
	d := &Dialer{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Factor: 2, Timeout: time.Second, Logger: zaptest.NewLogger(t)}
	_, err := d.Dial(context.Background(), closedAddr(t))
	require.ErrorIs(t, err, ErrDialGaveUp)
}

func TestDialer_RetriesUntilListenerAppears(t *testing.T) {
	addr := closedAddr(t)

	go func() {
		time.Sleep(100 * time.Millisecond)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return
		}
		defer ln.Close()
		conn, err := ln.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()

	d := &Dialer{Attempts: 0, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond, Factor: 2, Timeout: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := d.Dial(ctx, addr)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestDialer_StopsOnContextCancel(t *testing.T) {
	d := &Dialer{Attempts: 0, InitialBackoff: 50 * time.Millisecond, Factor: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	_, err := d.Dial(ctx, closedAddr(t))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialer_BackoffIsCapped(t *testing.T) {
	d := &Dialer{Factor: 3, MaxBackoff: time.Second}
	require.Equal(t, 900*time.Millisecond, d.nextBackoff(300*time.Millisecond))
	require.Equal(t, time.Second, d.nextBackoff(900*time.Millisecond))
}
