package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
)

// IngestJob asks a worker to (re)build the indexes.
type IngestJob struct {
	JobID       string    `json:"job_id"`
	Force       bool      `json:"force"`
	Dir         string    `json:"dir,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// ErrInvalidMessage marks messages that can never succeed; they go straight
// to the dead-letter queue.
var ErrInvalidMessage = errors.New("invalid queue message")

func DecodeIngestJob(body []byte) (IngestJob, error) {
	var job IngestJob
	if err := json.Unmarshal(body, &job); err != nil {
		return IngestJob{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return job, nil
}

// Handler processes one message body.
type Handler func(ctx context.Context, body []byte) error

// Consume delivers messages from queueName to fn one at a time until ctx is
// done. Failed messages are retried through the retry queue.
func Consume(ctx context.Context, ch *amqp091.Channel, queueName string, fn Handler) error {
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		queueName,
		queueName+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queueName, err)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("[Queue] Stopping consumer", "queue", queueName)
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("consumer channel for %s closed", queueName)
			}
			Process(ctx, ch, msg, queueName, fn)
		}
	}
}

// Process runs fn for msg and acknowledges it, routing failures to the retry
// or dead-letter queue.
func Process(ctx context.Context, p Publisher, msg amqp091.Delivery, queueName string, fn Handler) {
	start := time.Now()
	logger.Info("[Queue] Received message", "queue", queueName, "retries", retriesOf(msg))

	if err := fn(ctx, msg.Body); err != nil {
		logger.Error("[Queue] Error processing message", "queue", queueName, "err", err)
		HandleProcessingError(ctx, p, msg, queueName, errors.Is(err, ErrInvalidMessage))
		return
	}

	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
	logger.Info("[Queue] Message processed successfully", "queue", queueName, "duration", time.Since(start))
}

func retriesOf(msg amqp091.Delivery) int {
	switch v := msg.Headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// HandleProcessingError republishes msg to the retry queue with an
// incremented x-retries header, or to the dead-letter queue once MaxRetries
// is reached or the message is unusable. msg is acked only after the
// republish succeeded; otherwise it is requeued.
func HandleProcessingError(ctx context.Context, p Publisher, msg amqp091.Delivery, queueName string, fatal bool) {
	retries := retriesOf(msg)

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	target := queueName + "_retry"
	if fatal || retries >= MaxRetries {
		target = queueName + "_dlq"
		logger.Warn("[Queue] Sending message to DLQ", "dlq", target, "retries", retries)
	} else {
		headers["x-retries"] = int32(retries + 1)
	}

	pubErr := p.PublishWithContext(
		ctx,
		"",
		target,
		false,
		false,
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
		},
	)
	if pubErr != nil {
		logger.Error("[Queue] Failed to republish message", "queue", target, "err", pubErr)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
