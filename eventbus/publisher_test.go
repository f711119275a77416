package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/GramHealth/consult"
	"github.com/room4-2/GramHealth/triage"
)

func nextEvent(t *testing.T, ch <-chan *message.Message) Event {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		var ev Event
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		assert.Equal(t, ev.Type, msg.Metadata.Get("type"))
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestPublisherForwardsLifecycle(t *testing.T) {
	bus := NewGoChannel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, Topic)
	require.NoError(t, err)

	p := NewPublisher(bus)
	p.StatusChanged("s1", consult.StatusConnecting)
	p.StatusChanged("s1", consult.StatusConnected)
	p.TurnAppended("s1", consult.Turn{Speaker: consult.SpeakerAssistant, Text: "Hello", Source: consult.SourceFallback, ResponseKey: triage.KeyGreetingReply})
	p.Notice("s1", consult.Notice{Level: "info", Message: "ignored"})
	p.Notice("s1", consult.Notice{Level: "warning", Message: "AI unavailable, using offline assistant"})
	p.SessionClosed(consult.Snapshot{ID: "s1", Status: consult.StatusEnded})

	ev := nextEvent(t, ch)
	assert.Equal(t, EventOpened, ev.Type)
	assert.Equal(t, "s1", ev.SessionID)
	assert.NotZero(t, ev.At)

	assert.Equal(t, EventConnected, nextEvent(t, ch).Type)

	ev = nextEvent(t, ch)
	assert.Equal(t, EventTurnAppended, ev.Type)
	require.NotNil(t, ev.Turn)
	assert.Equal(t, "Hello", ev.Turn.Text)
	assert.Equal(t, triage.KeyGreetingReply, ev.Turn.ResponseKey)

	ev = nextEvent(t, ch)
	assert.Equal(t, EventAdvisorUnavailable, ev.Type)
	require.NotNil(t, ev.Notice)

	ev = nextEvent(t, ch)
	assert.Equal(t, EventClosed, ev.Type)
	require.NotNil(t, ev.Snapshot)
	assert.Equal(t, consult.StatusEnded, ev.Snapshot.Status)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	// dropped silently after close
	p.StatusChanged("s1", consult.StatusEnded)
}

func TestForBackend(t *testing.T) {
	p, err := ForBackend("none", nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = ForBackend("memory", nil)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NoError(t, p.Close())

	_, err = ForBackend("redis", nil)
	assert.Error(t, err)

	_, err = ForBackend("kafka", nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
