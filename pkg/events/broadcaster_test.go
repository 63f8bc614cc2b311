package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildEnvelopeStampsCommonFields(t *testing.T) {
	payload, err := Build("sess-1", "phase", map[string]string{"phase": "THINKING"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, "1.0", decoded["schema_version"])
	require.Equal(t, "sess-1", decoded["session_id"])
	require.Equal(t, "phase", decoded["type"])
	require.Equal(t, "THINKING", decoded["phase"])
	require.NotEmpty(t, decoded["ts"])
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBroadcaster()
	ch, unsubscribe := b.Subscribe("sess-1")
	defer unsubscribe()

	b.Publish("sess-1", []byte(`{"type":"progress"}`))

	select {
	case msg := <-ch:
		require.JSONEq(t, `{"type":"progress"}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestPublishToSessionWithNoSubscribersIsNoop(t *testing.T) {
	b := NewBroadcaster()
	require.NotPanics(t, func() { b.Publish("nobody-listening", []byte("x")) })
}

func TestUnsubscribeRemovesSubscriberAndEmptiesRoom(t *testing.T) {
	b := NewBroadcaster()
	_, unsubscribe := b.Subscribe("sess-1")
	require.Equal(t, 1, b.SubscriberCount("sess-1"))
	unsubscribe()
	require.Equal(t, 0, b.SubscriberCount("sess-1"))
}

func TestCloseSessionClosesSubscriberChannels(t *testing.T) {
	b := NewBroadcaster()
	ch, _ := b.Subscribe("sess-1")
	b.CloseSession("sess-1")

	_, ok := <-ch
	require.False(t, ok)
}

func TestPublishDropsOldestWhenSubscriberQueueFull(t *testing.T) {
	b := NewBroadcaster()
	ch, unsubscribe := b.Subscribe("sess-1")
	defer unsubscribe()

	for i := 0; i < subscriberQueueSize+5; i++ {
		b.Publish("sess-1", []byte(`{"type":"progress"}`))
	}

	require.Len(t, ch, subscriberQueueSize)
}

func TestMultipleSubscribersEachReceivePublishedEvent(t *testing.T) {
	b := NewBroadcaster()
	ch1, unsub1 := b.Subscribe("sess-1")
	ch2, unsub2 := b.Subscribe("sess-1")
	defer unsub1()
	defer unsub2()

	b.Publish("sess-1", []byte(`{"type":"progress"}`))

	for _, ch := range []<-chan []byte{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}
