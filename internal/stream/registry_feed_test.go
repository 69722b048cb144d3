package stream

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedesk/internal/feed"
	"tradedesk/internal/feed/feedtest"
)

// Feature: tradedesk, Property 7: A forced disconnect resumes exactly the live subscriptions
//
// Against a real websocket server: after a drop and automatic reconnect, each
// live key gets one resubscribe and no other key is mentioned.
func TestProperty_ReconnectResubscribesLiveKeys(t *testing.T) {
	srv := feedtest.NewServer(t)
	conn := feed.NewConn(feed.Config{
		Name:                 "chart",
		URL:                  srv.URL(),
		HealthURL:            srv.HealthURL(),
		Token:                feedtest.Token,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       10 * time.Millisecond,
		Logger:               zerolog.Nop(),
	})
	reg := NewRegistry[float64](ChartRegistryConfig(zerolog.Nop()), conn)

	reconnected := make(chan struct{}, 1)
	conn.OnConnect(func(again bool) {
		reg.HandleConnect()
		if again {
			reconnected <- struct{}{}
		}
	})
	conn.OnStateChange(func(s feed.State) {
		if s == feed.StateReconnecting || s == feed.StateOffline {
			reg.HandleDisconnect()
		}
	})

	require.True(t, conn.Connect(context.Background()))
	defer conn.Disconnect()

	noop := ConsumerFunc[float64](func(string, float64) {})
	reg.Subscribe(chartRequest("k"), noop)
	reg.Subscribe(chartRequest("other"), noop)
	reg.Unsubscribe("other")

	initial := srv.Drain(200 * time.Millisecond)
	require.Len(t, initial, 3)
	assert.Equal(t, feed.OutSubscribeChart, initial[0].Event)
	assert.Equal(t, feed.OutSubscribeChart, initial[1].Event)
	assert.Equal(t, feed.OutUnsubscribeChart, initial[2].Event)

	srv.DropAll()

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect")
	}

	after := srv.Drain(200 * time.Millisecond)
	require.Len(t, after, 1)
	assert.Equal(t, feed.OutResubscribeChart, after[0].Event)
	assert.Equal(t, "k", after[0].Data["instanceId"])
	assert.Equal(t, []string{"k"}, reg.WireKeys())
}
