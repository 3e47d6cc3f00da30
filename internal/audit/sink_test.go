package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-service/internal/clock"
	"session-service/internal/session"
	"session-service/internal/store"
)

type capturingProducer struct {
	events chan Event
}

func (p *capturingProducer) ProduceMessage(_ context.Context, _ string, _, value []byte, _ map[string]string) error {
	var event Event
	if err := json.Unmarshal(value, &event); err != nil {
		return err
	}
	p.events <- event
	return nil
}

func (p *capturingProducer) next(t *testing.T) Event {
	t.Helper()
	select {
	case event := <-p.events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no audit event published")
		return Event{}
	}
}

func TestSinkPublishesLifecycleEvents(t *testing.T) {
	producer := &capturingProducer{events: make(chan Event, 8)}
	sink := NewSink(producer, "session-lifecycle-events")

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ctrl := session.NewController(store.NewMemoryStore(), session.Options{Clock: clk})
	defer ctrl.Close()
	sink.Attach(ctrl)

	oldID := ctrl.Create(nil)

	newID, err := ctrl.Regenerate()
	require.NoError(t, err)
	event := producer.next(t)
	assert.Equal(t, "session_regenerated", event.Type)
	assert.Equal(t, oldID, event.PreviousID)
	assert.Equal(t, newID, event.SessionID)
	assert.NotEmpty(t, event.Timestamp)

	ctrl.Invalidate()
	event = producer.next(t)
	assert.Equal(t, "session_invalidated", event.Type)
}

func TestSinkPublishesExpiry(t *testing.T) {
	producer := &capturingProducer{events: make(chan Event, 8)}
	sink := NewSink(producer, "session-lifecycle-events")

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ctrl := session.NewController(store.NewMemoryStore(), session.Options{Clock: clk})
	defer ctrl.Close()
	sink.Attach(ctrl)

	ctrl.Create(nil)

	clk.Advance(26 * time.Minute)
	ctrl.CheckNow()
	warning := producer.next(t)
	assert.Equal(t, "session_warning", warning.Type)
	assert.Equal(t, 4, warning.RemainingMinutes)

	clk.Advance(5 * time.Minute)
	ctrl.CheckNow()
	expired := producer.next(t)
	assert.Equal(t, "session_expired", expired.Type)
	assert.Equal(t, "idle-timeout", expired.Reason)
}

func TestDetachStopsPublishing(t *testing.T) {
	producer := &capturingProducer{events: make(chan Event, 8)}
	sink := NewSink(producer, "session-lifecycle-events")

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ctrl := session.NewController(store.NewMemoryStore(), session.Options{Clock: clk})
	defer ctrl.Close()
	sink.Attach(ctrl)

	ctrl.Create(nil)
	sink.Detach()
	ctrl.Invalidate()

	select {
	case event := <-producer.events:
		t.Fatalf("unexpected audit event after detach: %s", event.Type)
	case <-time.After(100 * time.Millisecond):
	}
}
