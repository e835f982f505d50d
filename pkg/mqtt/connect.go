package mqtt

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"onemeter-mqtt-bridge/pkg/logger"
)

// connectWithRetry connects a paho client with infinite retry. Paho's
// token can report success before the session is actually usable, so a
// bounded establishment wait follows every successful token.
func connectWithRetry(ctx context.Context, client paho.Client, name string, retryDelayMs int) error {
	retryDelay := time.Duration(retryDelayMs) * time.Millisecond
	if retryDelay == 0 {
		retryDelay = 5000 * time.Millisecond
	}

	attempt := 1
	for {
		logger.LogDebug("🔄 Attempting to connect %s to MQTT broker (attempt %d)...", name, attempt)

		if token := client.Connect(); token.Wait() && token.Error() != nil {
			logger.LogError("❌ %s connection failed (attempt %d): %v", name, attempt, token.Error())
			logger.LogInfo("⏳ Retrying in %.0f seconds...", retryDelay.Seconds())

			select {
			case <-ctx.Done():
				return fmt.Errorf("%s connection cancelled: %w", name, ctx.Err())
			case <-time.After(retryDelay):
				attempt++
				continue
			}
		}

		// Connection token successful, wait for full establishment.
		logger.LogDebug("🔌 %s connection token successful, waiting for connection establishment...", name)

		connected := false
		for i := 0; i < 50; i++ {
			if client.IsConnected() {
				connected = true
				break
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s connection cancelled during establishment: %w", name, ctx.Err())
			case <-time.After(100 * time.Millisecond):
			}
		}

		if connected {
			logger.LogInfo("✅ %s successfully connected to MQTT broker after %d attempts", name, attempt)
			return nil
		}

		logger.LogWarn("⏰ %s connection establishment timeout (attempt %d)", name, attempt)
		logger.LogInfo("⏳ Retrying in %.0f seconds...", retryDelay.Seconds())

		if client.IsConnected() {
			client.Disconnect(250)
			time.Sleep(250 * time.Millisecond)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s connection cancelled during timeout: %w", name, ctx.Err())
		case <-time.After(retryDelay):
			attempt++
			continue
		}
	}
}
