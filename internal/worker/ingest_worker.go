// Package worker executes ingestion jobs delivered over RabbitMQ. The
// handler is written to be idempotent and restartable: at-least-once
// delivery and mid-job crashes are normal operating conditions, not edge
// cases.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"paperquote/internal/ai"
	"paperquote/internal/chunker"
	"paperquote/internal/model"
	"paperquote/internal/pkg/pdfextract"
	"paperquote/internal/tasks"
)

// Options bound the retry machinery.
type Options struct {
	MaxAttempts  int
	BackoffBase  time.Duration
	JobTimeout   time.Duration
	MinTextChars int
	Concurrency  int
}

// TaskPublisher re-enqueues failed tasks for another attempt.
type TaskPublisher interface {
	PublishIngest(ctx context.Context, task tasks.IngestTask) error
}

// DocumentStore loads documents for the pipeline.
type DocumentStore interface {
	GetByID(ctx context.Context, id uint) (*model.Document, error)
	UpdatePageCount(ctx context.Context, id uint, pageCount int) error
}

// JobStore drives the job state machine.
type JobStore interface {
	GetByID(ctx context.Context, id uint) (*model.IngestionJob, error)
	ClaimProcessing(ctx context.Context, id uint) (bool, error)
	MarkFailed(ctx context.Context, id uint, lastError string) error
	MarkDead(ctx context.Context, id uint, lastError string) error
}

// ChunkIndexer embeds a document's drafts and commits the chunk set
// atomically, completing the job in the same transaction.
type ChunkIndexer interface {
	Upsert(ctx context.Context, jobID, documentID uint, drafts []chunker.Draft) (int, error)
}

// IngestWorker consumes ingestion tasks and drives each job through
// parse -> chunk -> embed -> commit.
type IngestWorker struct {
	conn      *amqp.Connection
	queueName string
	publisher TaskPublisher

	docs     DocumentStore
	jobs     JobStore
	splitter *chunker.Chunker
	indexer  ChunkIndexer

	extractPages func(io.Reader) ([]pdfextract.PageText, error)

	opts Options

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(
	conn *amqp.Connection,
	queueName string,
	publisher TaskPublisher,
	docs DocumentStore,
	jobs JobStore,
	splitter *chunker.Chunker,
	indexer ChunkIndexer,
	opts Options,
) *IngestWorker {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 15 * time.Minute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	return &IngestWorker{
		conn:         conn,
		queueName:    queueName,
		publisher:    publisher,
		docs:         docs,
		jobs:         jobs,
		splitter:     splitter,
		indexer:      indexer,
		extractPages: pdfextract.Pages,
		opts:         opts,
	}
}

// Start launches the consumer pool. Each goroutine handles one delivery at
// a time start to finish; jobs are independent, so a worker blocked on a
// backend call does not affect the others.
func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare ingest queue failed: %w", err)
	}

	if err := ch.Qos(w.opts.Concurrency, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set channel qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume ingest queue failed: %w", err)
	}

	var once sync.Once
	for i := 0; i < w.opts.Concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer once.Do(func() { _ = ch.Close() })

			for {
				select {
				case <-workerCtx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					w.handleDelivery(workerCtx, d)
				}
			}
		}()
	}
	return nil
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *IngestWorker) handleDelivery(ctx context.Context, d amqp.Delivery) {
	var task tasks.IngestTask
	if err := json.Unmarshal(d.Body, &task); err != nil {
		log.Printf("worker: decode ingest task failed: %v", err)
		_ = d.Nack(false, false)
		return
	}

	job, err := w.jobs.GetByID(ctx, task.JobID)
	if err != nil {
		log.Printf("worker: load job %d failed, requeueing: %v", task.JobID, err)
		_ = d.Nack(false, true)
		return
	}
	if job == nil {
		log.Printf("worker: job %d does not exist, dropping task", task.JobID)
		_ = d.Ack(false)
		return
	}
	// At-least-once delivery: a finished job showing up again is normal.
	if job.State.Terminal() {
		_ = d.Ack(false)
		return
	}

	claimed, err := w.jobs.ClaimProcessing(ctx, job.ID)
	if err != nil {
		log.Printf("worker: claim job %d failed, requeueing: %v", job.ID, err)
		_ = d.Nack(false, true)
		return
	}
	if !claimed {
		// Already processing: a worker died mid-job and the broker
		// redelivered. The pipeline is idempotent, so run it again.
		log.Printf("worker: job %d redelivered while processing, re-running", job.ID)
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.opts.JobTimeout)
	runErr := w.runPipeline(jobCtx, task.DocumentID, job.ID)
	cancel()

	if runErr == nil {
		_ = d.Ack(false)
		return
	}

	// A job over its wall-clock budget counts as a failed attempt.
	if errors.Is(runErr, context.DeadlineExceeded) {
		runErr = fmt.Errorf("job exceeded wall-clock budget: %w", runErr)
	}

	// If the bookkeeping itself fails the job must not be acked away in
	// processing; requeue so redelivery gets another chance at it.
	if err := w.handleFailure(ctx, task, runErr); err != nil {
		log.Printf("worker: failure bookkeeping for job %d failed, requeueing: %v", task.JobID, err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// permanentFailure reports whether retrying can never succeed: the
// document itself is unreadable, or a backend rejected the request for a
// non-transient reason (auth, malformed input). Everything else, store
// outages and timeouts included, gets another attempt.
func permanentFailure(err error) bool {
	if errors.Is(err, pdfextract.ErrUnreadable) {
		return true
	}
	var be *ai.BackendError
	if errors.As(err, &be) {
		return !be.Transient
	}
	return false
}

// handleFailure advances the state machine after a failed run: permanent
// failures die immediately, everything else is marked failed and retried
// with backoff until the attempt budget is spent. A non-nil return means
// the state change itself did not land.
func (w *IngestWorker) handleFailure(ctx context.Context, task tasks.IngestTask, runErr error) error {
	job, err := w.jobs.GetByID(ctx, task.JobID)
	if err != nil {
		return fmt.Errorf("reload job %d after failure: %w", task.JobID, err)
	}
	if job == nil {
		log.Printf("worker: job %d vanished after failure: %v", task.JobID, runErr)
		return nil
	}

	if permanentFailure(runErr) {
		log.Printf("worker: job %d failed permanently: %v", job.ID, runErr)
		if err := w.jobs.MarkDead(ctx, job.ID, runErr.Error()); err != nil {
			return fmt.Errorf("mark job %d dead: %w", job.ID, err)
		}
		return nil
	}

	if job.AttemptCount >= w.opts.MaxAttempts {
		log.Printf("worker: job %d exhausted %d attempts: %v", job.ID, job.AttemptCount, runErr)
		if err := w.jobs.MarkDead(ctx, job.ID, runErr.Error()); err != nil {
			return fmt.Errorf("mark job %d dead: %w", job.ID, err)
		}
		return nil
	}

	if err := w.jobs.MarkFailed(ctx, job.ID, runErr.Error()); err != nil {
		return fmt.Errorf("mark job %d failed: %w", job.ID, err)
	}

	backoff := w.opts.BackoffBase
	if job.AttemptCount > 1 {
		backoff <<= job.AttemptCount - 1
	}
	log.Printf("worker: job %d attempt %d/%d failed, retrying in %s: %v",
		job.ID, job.AttemptCount, w.opts.MaxAttempts, backoff, runErr)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff):
	}

	retry := tasks.IngestTask{JobID: task.JobID, DocumentID: task.DocumentID, Attempt: task.Attempt + 1}
	if err := w.publisher.PublishIngest(ctx, retry); err != nil {
		return fmt.Errorf("re-enqueue job %d: %w", job.ID, err)
	}
	return nil
}

// runPipeline is the restartable unit of work: parse -> quality gate ->
// chunk -> embed -> atomic commit. Re-running it for the same document is
// safe because chunk keys are content-addressed and the commit is a keyed
// upsert.
func (w *IngestWorker) runPipeline(ctx context.Context, documentID, jobID uint) error {
	doc, err := w.docs.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%w: document %d missing", pdfextract.ErrUnreadable, documentID)
	}

	pages, err := w.extractPages(bytes.NewReader(doc.Data))
	if err != nil {
		return err
	}
	if pdfextract.TotalChars(pages) < w.opts.MinTextChars {
		return fmt.Errorf("%w: document %d has less than %d chars of extractable text",
			pdfextract.ErrUnreadable, documentID, w.opts.MinTextChars)
	}

	if err := w.docs.UpdatePageCount(ctx, doc.ID, len(pages)); err != nil {
		return err
	}

	drafts := w.splitter.Split(doc.ID, pages)
	if len(drafts) == 0 {
		// Still committed: an empty set replaces whatever an earlier
		// ingestion of this document left behind.
		log.Printf("worker: document %d produced no chunks", doc.ID)
	}

	count, err := w.indexer.Upsert(ctx, jobID, doc.ID, drafts)
	if err != nil {
		return err
	}
	log.Printf("worker: job %d done, %d chunks committed for document %d", jobID, count, doc.ID)
	return nil
}
