package hass

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"homeconnect-bridge/internal/ha"
)

func TestHANotifier(t *testing.T) {
	ctx := context.Background()

	t.Run("dismiss only after a failure", func(t *testing.T) {
		client := ha.NewMockClient()
		require.NoError(t, client.Connect())
		n := NewHANotifier(client, zap.NewNop())

		n.CommandSucceeded(ctx, "home_connect_x")
		assert.Empty(t, client.GetServiceCalls())

		n.CommandFailed(ctx, "home_connect_x", errors.New("failed to apply the setting (409 - ChildLock=true)"))
		n.CommandSucceeded(ctx, "home_connect_x")
		n.CommandSucceeded(ctx, "home_connect_x")

		calls := client.GetServiceCalls()
		require.Len(t, calls, 2)
		assert.Equal(t, "create", calls[0].Service)
		assert.Equal(t, "dismiss", calls[1].Service)
		assert.Equal(t, "home_connect_x", calls[1].Data["notification_id"])
	})

	t.Run("nil error is ignored", func(t *testing.T) {
		client := ha.NewMockClient()
		require.NoError(t, client.Connect())
		n := NewHANotifier(client, zap.NewNop())

		n.CommandFailed(ctx, "home_connect_x", nil)
		assert.Empty(t, client.GetServiceCalls())
	})

	t.Run("disconnected client drops notifications", func(t *testing.T) {
		client := ha.NewMockClient()
		n := NewHANotifier(client, zap.NewNop())

		n.CommandFailed(ctx, "home_connect_x", errors.New("boom"))
		assert.Empty(t, client.GetServiceCalls())
	})

	t.Run("failed create is not dismissed later", func(t *testing.T) {
		client := ha.NewMockClient()
		require.NoError(t, client.Connect())
		client.FailWith(errors.New("unavailable"))
		n := NewHANotifier(client, zap.NewNop())

		n.CommandFailed(ctx, "home_connect_x", errors.New("boom"))
		client.FailWith(nil)
		n.CommandSucceeded(ctx, "home_connect_x")
		assert.Empty(t, client.GetServiceCalls())
	})
}
