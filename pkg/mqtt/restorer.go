package mqtt

import (
	"context"
	"time"

	"onemeter-mqtt-bridge/pkg/logger"
	"onemeter-mqtt-bridge/pkg/meter"
	"onemeter-mqtt-bridge/pkg/topics"
)

// subscribeSession is the slice of the shared client the restorer
// needs.
type subscribeSession interface {
	Subscribe(topic string, handler func(topic string, payload []byte)) (func() error, error)
}

// StateRestorer reads back the retained state document on startup so
// the impulse counter survives restarts without local storage. The
// broker delivers a retained message immediately on subscribe; no
// message inside the timeout means a fresh deployment.
type StateRestorer struct {
	client  subscribeSession
	timeout time.Duration
}

// NewStateRestorer creates a restorer on the shared subscriber session.
func NewStateRestorer(client *Client, timeoutSeconds int) *StateRestorer {
	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &StateRestorer{client: client, timeout: timeout}
}

// Restore implements meter.Restorer.
func (r *StateRestorer) Restore(ctx context.Context, deviceID string) (meter.RestoredState, bool, error) {
	stateTopic := topics.StateTopic(deviceID)
	docChan := make(chan StateDocument, 1)

	cancel, err := r.client.Subscribe(stateTopic, func(_ string, payload []byte) {
		doc, parseErr := ParseStateDocument(payload)
		if parseErr != nil {
			logger.LogWarn("Device %s: retained state on %s unusable: %v", deviceID, stateTopic, parseErr)
			return
		}
		select {
		case docChan <- doc:
		default:
		}
	})
	if err != nil {
		return meter.RestoredState{}, false, err
	}
	defer func() {
		if unsubErr := cancel(); unsubErr != nil {
			logger.LogWarn("Device %s: error unsubscribing from %s: %v", deviceID, stateTopic, unsubErr)
		}
	}()

	select {
	case doc := <-docChan:
		logger.LogInfo("Device %s: retained snapshot found (%s, %d imp, %.3f kWh)",
			deviceID, doc.Timestamp, doc.Impulses, doc.KWh)
		return meter.RestoredState{KWh: doc.KWh, ForecastKWh: doc.ForecastKWh}, true, nil
	case <-time.After(r.timeout):
		logger.LogInfo("Device %s: no retained snapshot within %s", deviceID, r.timeout)
		return meter.RestoredState{}, false, nil
	case <-ctx.Done():
		return meter.RestoredState{}, false, ctx.Err()
	}
}
