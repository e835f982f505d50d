package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onemeter-mqtt-bridge/pkg/config"
)

func testClient() *Client {
	return NewClient(
		&config.MQTTConfig{Broker: "localhost", Port: 1883, ClientID: "onemeter-mqtt-bridge"},
		&config.HAConfig{StatusTopic: "onemeter/bridge/status"})
}

func TestDispatchFansOutToSharedTopicHandlers(t *testing.T) {
	c := testClient()

	var sawA, sawB int
	idA, first := c.register("onemeter/s10/v1", func(string, []byte) { sawA++ })
	assert.True(t, first)
	_, first = c.register("onemeter/s10/v1", func(string, []byte) { sawB++ })
	assert.False(t, first, "the second registration reuses the broker subscription")

	c.dispatch("onemeter/s10/v1", []byte(`{}`))
	assert.Equal(t, 1, sawA)
	assert.Equal(t, 1, sawB)

	// Removing one registration keeps the other delivering.
	assert.False(t, c.drop("onemeter/s10/v1", idA))
	c.dispatch("onemeter/s10/v1", []byte(`{}`))
	assert.Equal(t, 1, sawA)
	assert.Equal(t, 2, sawB)
}

func TestDropLastRegistrationReleasesTopic(t *testing.T) {
	c := testClient()

	idA, _ := c.register("onemeter/s10/v1", func(string, []byte) {})
	idB, _ := c.register("onemeter/s10/v1", func(string, []byte) {})

	assert.False(t, c.drop("onemeter/s10/v1", idA))
	assert.True(t, c.drop("onemeter/s10/v1", idB),
		"only the last registration releases the broker subscription")

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Empty(t, c.handlers)
}

func TestSubscribeNotConnectedLeavesNoRegistration(t *testing.T) {
	c := testClient()

	cancel, err := c.Subscribe("onemeter/s10/v1", func(string, []byte) {})
	require.Error(t, err)
	assert.Nil(t, cancel)

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Empty(t, c.handlers, "a failed subscribe must not leave a registration behind")
}
