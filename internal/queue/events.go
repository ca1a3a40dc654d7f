package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ingest"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
)

// GraphUpdated is published after a worker rebuilt the indexes, so that
// servers reload the graph snapshot.
type GraphUpdated struct {
	JobID     string    `json:"job_id,omitempty"`
	Corpus    string    `json:"corpus"`
	Documents int       `json:"documents"`
	Chunks    int       `json:"chunks"`
	Nodes     int       `json:"nodes"`
	Edges     int       `json:"edges"`
	At        time.Time `json:"at"`
}

func NewGraphUpdated(jobID string, s ingest.Summary) GraphUpdated {
	return GraphUpdated{
		JobID:     jobID,
		Corpus:    s.Corpus,
		Documents: s.Documents,
		Chunks:    s.ChunksAdded,
		Nodes:     s.NodesAdded,
		Edges:     s.EdgesAdded,
		At:        time.Now().UTC(),
	}
}

func PublishGraphUpdated(ctx context.Context, p Publisher, ev GraphUpdated) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return PublishTopic(ctx, p, GraphUpdatedTopic, data)
}

// SubscribeGraphUpdates binds a private, auto-deleted queue to
// GraphUpdatedTopic and calls fn for every event until ctx is done.
func SubscribeGraphUpdates(ctx context.Context, ch *amqp091.Channel, fn func(context.Context, GraphUpdated)) error {
	q, err := ch.QueueDeclare(
		"",
		false, // durable
		true,  // autoDelete
		true,  // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare event queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, GraphUpdatedTopic, EventsExchange, false, nil); err != nil {
		return fmt.Errorf("bind event queue: %w", err)
	}

	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume events: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("event channel closed")
			}
			var ev GraphUpdated
			if err := json.Unmarshal(msg.Body, &ev); err != nil {
				logger.Warn("[Queue] Ignoring malformed graph event", "err", err)
				continue
			}
			fn(ctx, ev)
		}
	}
}
