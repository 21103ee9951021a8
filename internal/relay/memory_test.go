package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemory_PublishDeliversToSubscriber(t *testing.T) {
	bus := NewMemory()
	received := make(chan []byte, 1)

	sub, err := bus.Subscribe("agentbridge.session", func(ctx context.Context, subject string, data []byte) {
		require.Equal(t, "agentbridge.session", subject)
		received <- data
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), "agentbridge.session", []byte(`{"seq":1}`)))

	select {
	case data := <-received:
		require.Equal(t, `{"seq":1}`, string(data))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestMemory_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewMemory()
	received := make(chan []byte, 1)

	sub, err := bus.Subscribe("x", func(ctx context.Context, subject string, data []byte) {
		received <- data
	})
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	require.NoError(t, bus.Publish(context.Background(), "x", []byte("ignored")))

	select {
	case <-received:
		t.Fatal("handler should not have been called after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemory_IsConnectedAlwaysTrue(t *testing.T) {
	bus := NewMemory()
	require.True(t, bus.IsConnected())
}
