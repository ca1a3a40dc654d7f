package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ingest"
)

type published struct {
	exchange string
	key      string
	msg      amqp091.Publishing
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

type fakeAck struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *fakeAck) Ack(uint64, bool) error { a.acked++; return nil }
func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}
func (a *fakeAck) Reject(uint64, bool) error { return nil }

func delivery(ack *fakeAck, body string, headers amqp091.Table) amqp091.Delivery {
	return amqp091.Delivery{Acknowledger: ack, Body: []byte(body), Headers: headers}
}

func TestProcessAcksOnSuccess(t *testing.T) {
	pub := &fakePublisher{}
	ack := &fakeAck{}

	Process(context.Background(), pub, delivery(ack, `{}`, nil), IngestQueue, func(context.Context, []byte) error {
		return nil
	})

	assert.Equal(t, 1, ack.acked)
	assert.Empty(t, pub.sent)
}

func TestHandleProcessingErrorRetries(t *testing.T) {
	tests := []struct {
		name        string
		headers     amqp091.Table
		fatal       bool
		wantTarget  string
		wantRetries any
	}{
		{"first failure", nil, false, IngestQueue + "_retry", int32(1)},
		{"int32 header", amqp091.Table{"x-retries": int32(2)}, false, IngestQueue + "_retry", int32(3)},
		{"int64 header", amqp091.Table{"x-retries": int64(1)}, false, IngestQueue + "_retry", int32(2)},
		{"exhausted", amqp091.Table{"x-retries": int32(MaxRetries)}, false, IngestQueue + "_dlq", int32(MaxRetries)},
		{"invalid message", nil, true, IngestQueue + "_dlq", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			ack := &fakeAck{}

			HandleProcessingError(context.Background(), pub, delivery(ack, "body", tt.headers), IngestQueue, tt.fatal)

			require.Len(t, pub.sent, 1)
			assert.Equal(t, "", pub.sent[0].exchange)
			assert.Equal(t, tt.wantTarget, pub.sent[0].key)
			assert.Equal(t, "body", string(pub.sent[0].msg.Body))
			assert.Equal(t, tt.wantRetries, pub.sent[0].msg.Headers["x-retries"])
			assert.Equal(t, 1, ack.acked)
		})
	}
}

func TestHandleProcessingErrorRequeuesWhenPublishFails(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	ack := &fakeAck{}

	HandleProcessingError(context.Background(), pub, delivery(ack, "body", nil), IngestQueue, false)

	assert.Equal(t, 0, ack.acked)
	assert.Equal(t, 1, ack.nacked)
	assert.True(t, ack.requeue)
}

func TestAMQPDispatcher(t *testing.T) {
	pub := &fakePublisher{}

	job, err := NewAMQPDispatcher(pub).DispatchIngest(context.Background(), true)
	require.NoError(t, err)
	assert.NotEmpty(t, job.JobID)

	require.Len(t, pub.sent, 1)
	assert.Equal(t, IngestQueue, pub.sent[0].key)
	assert.Equal(t, amqp091.Persistent, pub.sent[0].msg.DeliveryMode)

	decoded, err := DecodeIngestJob(pub.sent[0].msg.Body)
	require.NoError(t, err)
	assert.Equal(t, job.JobID, decoded.JobID)
	assert.True(t, decoded.Force)
}

func TestLocalDispatcher(t *testing.T) {
	var got []bool
	var mu sync.Mutex
	d := NewLocalDispatcher(func(_ context.Context, _ string, force bool) (ingest.Summary, error) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, force)
		return ingest.Summary{Documents: 1}, nil
	}, time.Minute)

	_, err := d.DispatchIngest(context.Background(), false)
	require.NoError(t, err)
	_, err = d.DispatchIngest(context.Background(), true)
	require.NoError(t, err)
	d.Wait()

	assert.ElementsMatch(t, []bool{false, true}, got)
}

func TestIngestHandler(t *testing.T) {
	run := func(_ context.Context, _ string, force bool) (ingest.Summary, error) {
		if !force {
			return ingest.Summary{Skipped: true}, nil
		}
		return ingest.Summary{Corpus: "data/docs", Documents: 2, ChunksAdded: 5, NodesAdded: 3, EdgesAdded: 1}, nil
	}

	t.Run("publishes graph update after rebuild", func(t *testing.T) {
		events := &fakePublisher{}
		err := IngestHandler(run, events)(context.Background(), []byte(`{"job_id":"j1","force":true}`))
		require.NoError(t, err)

		require.Len(t, events.sent, 1)
		assert.Equal(t, EventsExchange, events.sent[0].exchange)
		assert.Equal(t, GraphUpdatedTopic, events.sent[0].key)

		var ev GraphUpdated
		require.NoError(t, json.Unmarshal(events.sent[0].msg.Body, &ev))
		assert.Equal(t, "j1", ev.JobID)
		assert.Equal(t, 5, ev.Chunks)
		assert.Equal(t, 3, ev.Nodes)
	})

	t.Run("skipped ingestion publishes nothing", func(t *testing.T) {
		events := &fakePublisher{}
		err := IngestHandler(run, events)(context.Background(), []byte(`{"job_id":"j2"}`))
		require.NoError(t, err)
		assert.Empty(t, events.sent)
	})

	t.Run("malformed body is invalid", func(t *testing.T) {
		err := IngestHandler(run, nil)(context.Background(), []byte(`not json`))
		assert.ErrorIs(t, err, ErrInvalidMessage)
	})

	t.Run("ingest failure is returned", func(t *testing.T) {
		failing := func(context.Context, string, bool) (ingest.Summary, error) {
			return ingest.Summary{}, ingest.ErrCorpusNotFound
		}
		err := IngestHandler(failing, nil)(context.Background(), []byte(`{"job_id":"j3"}`))
		assert.ErrorIs(t, err, ingest.ErrCorpusNotFound)
	})
}
