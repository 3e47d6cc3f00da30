// Package audit publishes session lifecycle events to Kafka for downstream
// security analysis. Publishing is fire and forget: an unreachable broker
// never blocks or fails the session controller.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"session-service/internal/session"
	"session-service/internal/util"
)

// Producer is the publishing side of a Kafka client.
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Event is the audit record written to the lifecycle topic.
type Event struct {
	Type             string `json:"type"`
	SessionID        string `json:"session_id,omitempty"`
	PreviousID       string `json:"previous_id,omitempty"`
	Reason           string `json:"reason,omitempty"`
	RemainingMinutes int    `json:"remaining_minutes,omitempty"`
	Timestamp        string `json:"timestamp"`
}

const (
	eventWarning     = "session_warning"
	eventExpired     = "session_expired"
	eventRegenerated = "session_regenerated"
	eventInvalidated = "session_invalidated"
)

// Sink subscribes to a controller and forwards its lifecycle transitions.
// Routine activity events are deliberately not forwarded; they are far too
// frequent to audit individually.
type Sink struct {
	producer Producer
	topic    string

	unsubscribes []session.Unsubscribe
}

func NewSink(producer Producer, topic string) *Sink {
	return &Sink{producer: producer, topic: topic}
}

// Attach registers the sink with a controller.
func (s *Sink) Attach(ctrl *session.Controller) {
	s.unsubscribes = append(s.unsubscribes,
		ctrl.OnWarning(func(remaining int) {
			s.publish(Event{
				Type:             eventWarning,
				SessionID:        ctrl.SessionID(),
				RemainingMinutes: remaining,
			})
		}),
		ctrl.OnExpired(func(reason session.ExpiryReason) {
			s.publish(Event{
				Type:   eventExpired,
				Reason: string(reason),
			})
		}),
		ctrl.OnRegenerated(func(oldID, newID string) {
			s.publish(Event{
				Type:       eventRegenerated,
				SessionID:  newID,
				PreviousID: oldID,
			})
		}),
		ctrl.OnInvalidated(func() {
			s.publish(Event{Type: eventInvalidated})
		}),
	)
}

// Detach removes all subscriptions registered by Attach.
func (s *Sink) Detach() {
	for _, unsubscribe := range s.unsubscribes {
		unsubscribe()
	}
	s.unsubscribes = nil
}

func (s *Sink) publish(event Event) {
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(event)
	if err != nil {
		util.Error("failed to marshal audit event", util.ErrorField(err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.producer.ProduceMessage(ctx, s.topic, []byte(event.Type), payload, nil); err != nil {
			util.Error("failed to publish audit event",
				util.String("event_type", event.Type),
				util.ErrorField(err))
		}
	}()
}
