package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ingest"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
)

// Dispatcher starts an ingestion without waiting for it.
type Dispatcher interface {
	DispatchIngest(ctx context.Context, force bool) (IngestJob, error)
}

func newJob(force bool) (IngestJob, error) {
	id, err := gonanoid.New()
	if err != nil {
		return IngestJob{}, err
	}
	return IngestJob{JobID: id, Force: force, RequestedAt: time.Now().UTC()}, nil
}

// AMQPDispatcher hands ingestion jobs to workers through IngestQueue.
type AMQPDispatcher struct {
	publisher Publisher
}

func NewAMQPDispatcher(p Publisher) *AMQPDispatcher {
	return &AMQPDispatcher{publisher: p}
}

func (d *AMQPDispatcher) DispatchIngest(ctx context.Context, force bool) (IngestJob, error) {
	job, err := newJob(force)
	if err != nil {
		return IngestJob{}, err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return IngestJob{}, err
	}
	if err := PublishFIFO(ctx, d.publisher, IngestQueue, data); err != nil {
		return IngestJob{}, fmt.Errorf("publish ingest job: %w", err)
	}
	logger.Info("[Queue] Published ingest job", "job_id", job.JobID, "force", force)
	return job, nil
}

// IngestFunc runs one ingestion.
type IngestFunc func(ctx context.Context, dir string, force bool) (ingest.Summary, error)

// LocalDispatcher runs ingestion jobs in a background goroutine of the
// current process. Jobs never outlive Wait.
type LocalDispatcher struct {
	run     IngestFunc
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewLocalDispatcher(run IngestFunc, timeout time.Duration) *LocalDispatcher {
	return &LocalDispatcher{run: run, timeout: timeout}
}

func (d *LocalDispatcher) DispatchIngest(_ context.Context, force bool) (IngestJob, error) {
	job, err := newJob(force)
	if err != nil {
		return IngestJob{}, err
	}

	d.wg.Go(func() {
		ctx := context.Background()
		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}
		summary, err := d.run(ctx, job.Dir, job.Force)
		if err != nil {
			logger.Error("Background ingestion failed", "job_id", job.JobID, "err", err)
			return
		}
		logger.Info("Background ingestion finished", "job_id", job.JobID, "skipped", summary.Skipped, "documents", summary.Documents)
	})
	return job, nil
}

// Wait blocks until every dispatched job returned.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}

// IngestHandler decodes IngestJob messages and runs them. After a rebuild
// it publishes GraphUpdated on events, if set.
func IngestHandler(run IngestFunc, events Publisher) Handler {
	return func(ctx context.Context, body []byte) error {
		job, err := DecodeIngestJob(body)
		if err != nil {
			return err
		}
		summary, err := run(ctx, job.Dir, job.Force)
		if err != nil {
			return fmt.Errorf("ingest job %s: %w", job.JobID, err)
		}
		logger.Info(
			"[Queue] Ingest job done",
			"job_id", job.JobID,
			"skipped", summary.Skipped,
			"documents", summary.Documents,
			"failed", len(summary.Failed),
		)
		if summary.Skipped || events == nil {
			return nil
		}
		if err := PublishGraphUpdated(ctx, events, NewGraphUpdated(job.JobID, summary)); err != nil {
			logger.Warn("[Queue] Failed to publish graph update", "job_id", job.JobID, "err", err)
		}
		return nil
	}
}
