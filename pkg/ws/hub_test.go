package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onemeter-mqtt-bridge/pkg/meter"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	client := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.Register(client)
	assert.Equal(t, 1, hub.ClientCount())

	hub.Broadcast([]byte("hello"))
	assert.Equal(t, []byte("hello"), <-client.send)

	hub.Unregister(client)
	assert.Equal(t, 0, hub.ClientCount())

	_, open := <-client.send
	assert.False(t, open, "unregister closes the send channel")
}

func TestHubBroadcastSkipsFullClients(t *testing.T) {
	hub := NewHub()
	full := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.Register(full)

	hub.Broadcast([]byte("one"))
	hub.Broadcast([]byte("two")) // buffer full, must not block

	assert.Equal(t, []byte("one"), <-full.send)
}

func TestBroadcasterEnvelope(t *testing.T) {
	hub := NewHub()
	client := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.Register(client)

	b := NewBroadcaster(hub)
	b.OnSnapshot(meter.Snapshot{
		DeviceID:      "om9613",
		TakenAt:       time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		TotalImpulses: 42,
		KWh:           0.042,
		Subscribed:    true,
	})

	raw := <-client.send
	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, TypeSnapshot, env.Type)

	var payload SnapshotPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "om9613", payload.DeviceID)
	assert.Equal(t, int64(42), payload.Impulses)
	assert.True(t, payload.Subscribed)
}
