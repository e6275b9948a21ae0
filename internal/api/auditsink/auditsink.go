package auditsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cuongbtq/fieldclock/internal/api/domain"
)

// RoutingKeyPrefix prefixes the action of every published event
const RoutingKeyPrefix = "audit."

// Publisher is the subset of the RabbitMQ client the sink needs
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// RabbitSink publishes committed audit events to the audit exchange
type RabbitSink struct {
	publisher Publisher
}

// NewRabbitSink creates a new RabbitSink
func NewRabbitSink(publisher Publisher) *RabbitSink {
	return &RabbitSink{publisher: publisher}
}

// RoutingKey returns the routing key for an event, e.g. "audit.ClockIn"
func RoutingKey(event domain.AuditEvent) string {
	return RoutingKeyPrefix + event.Action
}

// Publish sends each event as its own JSON message. Every event is attempted; errors are joined.
func (s *RabbitSink) Publish(ctx context.Context, events []domain.AuditEvent) error {
	var errs []error
	for _, event := range events {
		body, err := json.Marshal(event)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to marshal audit event %s: %w", event.EventID, err))
			continue
		}

		if err := s.publisher.Publish(ctx, RoutingKey(event), body, "application/json"); err != nil {
			errs = append(errs, fmt.Errorf("failed to publish audit event %s: %w", event.EventID, err))
		}
	}
	return errors.Join(errs...)
}
