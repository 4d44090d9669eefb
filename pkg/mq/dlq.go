package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// ParkingExchangeName receives messages whose handler failed. Nothing
	// consumes it automatically; parked messages are kept for inspection.
	ParkingExchangeName = "events.parking"
)

func DeclareParkingExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(
		ParkingExchangeName,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}

// DeclareParkingQueue declares and binds "<routingKey>.parking".
func DeclareParkingQueue(ch *amqp091.Channel, routingKey string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(
		routingKey+".parking",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare parking queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, ParkingExchangeName, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind parking queue: %w", err)
	}
	return q, nil
}

// Park republishes body to the parking exchange with the failure reason in the headers.
func (p *Publisher) Park(ctx context.Context, routingKey string, body []byte, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(
		ctx,
		ParkingExchangeName,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Headers: amqp091.Table{
				"x-original-error": reason,
				"x-parked-at":      time.Now().UTC().Format(time.RFC3339),
			},
		},
	)
}
