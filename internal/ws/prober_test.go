package ws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProber_Run(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("evicts broken connections on tick", func(t *testing.T) {
		m := testManager(t, time.Minute, time.Minute)
		userID := uuid.New()
		conn := newFakeConn()
		conn.controlErr = errors.New("broken pipe")

		require.NoError(t, m.AddUser(userID, conn))

		prober := NewProber(m, 10*time.Millisecond, logger)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- prober.Run(ctx)
		}()

		assert.Eventually(t, func() bool {
			_, ok := m.users.get(userID)
			return !ok
		}, time.Second, 10*time.Millisecond)

		cancel()
		assert.NoError(t, <-done)
	})

	t.Run("closes remaining connections on shutdown", func(t *testing.T) {
		m := testManager(t, time.Minute, time.Minute)
		conn := newFakeConn()

		require.NoError(t, m.AddAdmin(uuid.New(), conn))

		prober := NewProber(m, time.Minute, logger)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- prober.Run(ctx)
		}()

		cancel()
		assert.NoError(t, <-done)
		assert.True(t, conn.isClosed())
		assert.Empty(t, m.admins.snapshot())
	})
}
