package queue

import (
	"context"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
)

const (
	IngestQueue = "ingest_queue"

	// EventsExchange is the topic exchange carrying GraphUpdatedTopic.
	EventsExchange    = "kiwi_events"
	GraphUpdatedTopic = "graph.updated"

	// MaxRetries is how often a failed message is retried before it is moved
	// to the dead-letter queue.
	MaxRetries   = 3
	RetryDelayMs = 10000
)

// Publisher is the publishing half of an amqp091.Channel.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

func Dial(url string) (*amqp091.Connection, error) {
	return amqp091.Dial(url)
}

// SetupQueues declares the events exchange and, for every queue, its retry
// queue (dead-lettering back after RetryDelayMs) and its dead-letter queue.
func SetupQueues(ch *amqp091.Channel, queueNames ...string) error {
	err := ch.ExchangeDeclare(
		EventsExchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
	if err != nil {
		return err
	}

	for _, name := range queueNames {
		_, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return err
		}

		_, err = ch.QueueDeclare(
			name+"_dlq",
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return err
		}

		_, err = ch.QueueDeclare(
			name+"_retry",
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(RetryDelayMs),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return err
		}
		logger.Debug("[Queue] Declared queue", "queue", name)
	}

	return nil
}

// PublishFIFO sends data to queueName through the default exchange.
func PublishFIFO(ctx context.Context, p Publisher, queueName string, data []byte) error {
	return p.PublishWithContext(
		ctx,
		"",
		queueName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// PublishTopic sends data to every queue bound to topic on EventsExchange.
func PublishTopic(ctx context.Context, p Publisher, topic string, data []byte) error {
	return p.PublishWithContext(
		ctx,
		EventsExchange,
		topic,
		false,
		false,
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        data,
			Timestamp:   time.Now(),
		},
	)
}
