package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantbot/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type chanBus struct {
	chans map[string]chan []byte
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.chans[channel], nil
}

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(ts.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestNewClientGetsLatestStatePerBot(t *testing.T) {
	h := NewHub(nil, discard(), Status{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	require.NoError(t, h.PublishState(ctx, domain.BotState{BotID: "b", Cycle: 1}))
	require.NoError(t, h.PublishState(ctx, domain.BotState{BotID: "a", Cycle: 1}))
	require.NoError(t, h.PublishState(ctx, domain.BotState{BotID: "b", Cycle: 2}))

	conn := dial(t, h)
	hello := read(t, conn)
	assert.Equal(t, "bot_status", hello.Type)
	var st Status
	require.NoError(t, json.Unmarshal(hello.Payload, &st))
	assert.Equal(t, "unknown", st.Mode)

	var got []domain.BotState
	for range 2 {
		f := read(t, conn)
		require.Equal(t, "state", f.Type)
		var s domain.BotState
		require.NoError(t, json.Unmarshal(f.Payload, &s))
		got = append(got, s)
	}
	assert.Equal(t, "a", got[0].BotID)
	assert.Equal(t, "b", got[1].BotID)
	assert.Equal(t, int64(2), got[1].Cycle)
}

func TestBusMessagesReachClients(t *testing.T) {
	bus := &chanBus{chans: map[string]chan []byte{
		ChannelEvents: make(chan []byte, 1),
		ChannelStates: make(chan []byte, 1),
	}}
	h := NewHub(bus, discard(), Status{Mode: "serve"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	conn := dial(t, h)
	assert.Equal(t, "bot_status", read(t, conn).Type)

	bus.chans[ChannelEvents] <- []byte(`{"id":"e1","type":"fill"}`)
	f := read(t, conn)
	assert.Equal(t, "event", f.Type)
	assert.Equal(t, ChannelEvents, f.Channel)
	assert.JSONEq(t, `{"id":"e1","type":"fill"}`, string(f.Payload))
}

func TestClientWants(t *testing.T) {
	c := &client{subs: map[string]bool{}}
	c.apply(control{Action: "subscribe", Channels: []string{"state*"}})
	assert.True(t, c.wants(ChannelStates))
	assert.False(t, c.wants(ChannelEvents))

	c.apply(control{Action: "subscribe", Channels: []string{ChannelEvents}})
	c.apply(control{Action: "unsubscribe", Channels: []string{"state*"}})
	assert.True(t, c.wants(ChannelEvents))
	assert.False(t, c.wants(ChannelStates))
}

func TestRunClosesHub(t *testing.T) {
	h := NewHub(nil, discard(), Status{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.Run(ctx), context.Canceled)
	assert.False(t, h.attach(&client{send: make(chan []byte, 1)}))
}
