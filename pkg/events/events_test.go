package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_PublishDeliversToSubscriber(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&Event{
		Type:    EventFrameStarted,
		Message: "frame f-1 started",
		Metadata: map[string]string{
			"fid":      "f-1",
			"agent_id": "7",
			"role":     "$leader",
		},
	})

	select {
	case evt := <-sub:
		assert.Equal(t, EventFrameStarted, evt.Type)
		assert.Equal(t, "f-1", evt.Metadata["fid"])
		assert.False(t, evt.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroker_FanOutToMultipleSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub1 := broker.Subscribe()
	sub2 := broker.Subscribe()
	defer broker.Unsubscribe(sub1)
	defer broker.Unsubscribe(sub2)

	require.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(&Event{Type: EventNodeDown, Message: "node-2 unreachable"})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case evt := <-sub:
			assert.Equal(t, EventNodeDown, evt.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out delivery")
		}
	}
}

func TestBroker_UnsubscribeStopsDelivery(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount())

	_, ok := <-sub
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestBroker_PublishSetsTimestampWhenZero(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&Event{Type: EventAtlasInserted})

	evt := <-sub
	assert.False(t, evt.Timestamp.IsZero())
}
