package domain

import (
	apidomain "github.com/cuongbtq/fieldclock/internal/api/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AuditMessage is a decoded audit event together with the delivery that carried it
type AuditMessage struct {
	Event    apidomain.AuditEvent
	Delivery amqp.Delivery
}

// DeliveryTag returns the broker tag of the carrying delivery
func (m *AuditMessage) DeliveryTag() uint64 {
	return m.Delivery.DeliveryTag
}
