package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"paperquote/internal/ai"
	"paperquote/internal/chunker"
	"paperquote/internal/model"
	"paperquote/internal/pkg/pdfextract"
	"paperquote/internal/tasks"
)

type fakeAcker struct {
	acks    int
	nacks   int
	requeue bool
}

func (f *fakeAcker) Ack(tag uint64, multiple bool) error { f.acks++; return nil }
func (f *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	f.nacks++
	f.requeue = requeue
	return nil
}
func (f *fakeAcker) Reject(tag uint64, requeue bool) error { return nil }

type fakeJobs struct {
	job *model.IngestionJob

	getErr    error
	failedErr error

	claims       int
	markedFailed bool
	markedDead   bool
	lastError    string
}

func (f *fakeJobs) GetByID(ctx context.Context, id uint) (*model.IngestionJob, error) {
	return f.job, f.getErr
}

func (f *fakeJobs) ClaimProcessing(ctx context.Context, id uint) (bool, error) {
	f.claims++
	if f.job == nil || f.job.State.Terminal() || f.job.State == model.JobProcessing {
		return false, nil
	}
	f.job.State = model.JobProcessing
	f.job.AttemptCount++
	return true, nil
}

func (f *fakeJobs) MarkFailed(ctx context.Context, id uint, lastError string) error {
	if f.failedErr != nil {
		return f.failedErr
	}
	f.markedFailed = true
	f.lastError = lastError
	f.job.State = model.JobFailed
	return nil
}

func (f *fakeJobs) MarkDead(ctx context.Context, id uint, lastError string) error {
	f.markedDead = true
	f.lastError = lastError
	f.job.State = model.JobDead
	return nil
}

type fakeDocs struct {
	doc   *model.Document
	pages int
}

func (f *fakeDocs) GetByID(ctx context.Context, id uint) (*model.Document, error) {
	return f.doc, nil
}

func (f *fakeDocs) UpdatePageCount(ctx context.Context, id uint, pageCount int) error {
	f.pages = pageCount
	return nil
}

type fakePublisher struct {
	published []tasks.IngestTask
}

func (f *fakePublisher) PublishIngest(ctx context.Context, task tasks.IngestTask) error {
	f.published = append(f.published, task)
	return nil
}

type fakeIndexer struct {
	err        error
	calls      int
	gotJobID   uint
	gotDocID   uint
	draftCount int
}

func (f *fakeIndexer) Upsert(ctx context.Context, jobID, documentID uint, drafts []chunker.Draft) (int, error) {
	f.calls++
	f.gotJobID = jobID
	f.gotDocID = documentID
	f.draftCount = len(drafts)
	if f.err != nil {
		return 0, f.err
	}
	return len(drafts), nil
}

type workerFixture struct {
	worker    *IngestWorker
	jobs      *fakeJobs
	docs      *fakeDocs
	publisher *fakePublisher
	indexer   *fakeIndexer
}

func newFixture(job *model.IngestionJob, opts Options) *workerFixture {
	f := &workerFixture{
		jobs:      &fakeJobs{job: job},
		docs:      &fakeDocs{doc: &model.Document{ID: 2, UserID: 1, Data: []byte("pdf")}},
		publisher: &fakePublisher{},
		indexer:   &fakeIndexer{},
	}
	f.worker = NewIngestWorker(nil, "q", f.publisher, f.docs, f.jobs,
		chunker.New(chunker.Params{WindowSize: 100, Overlap: 20}), f.indexer, opts)
	f.worker.extractPages = func(io.Reader) ([]pdfextract.PageText, error) {
		return []pdfextract.PageText{{Number: 1, Text: "Introduction\nA paper with plenty of extractable body text for the pipeline to work on."}}, nil
	}
	return f
}

func ingestDelivery(t *testing.T, acker *fakeAcker) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(tasks.IngestTask{JobID: 1, DocumentID: 2})
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: acker, Body: body}
}

func TestPermanentFailureClassification(t *testing.T) {
	require.True(t, permanentFailure(pdfextract.ErrUnreadable))
	require.True(t, permanentFailure(fmt.Errorf("%w: garbage bytes", pdfextract.ErrUnreadable)))
	require.True(t, permanentFailure(&ai.BackendError{Backend: "embedding", Status: 401}))

	require.False(t, permanentFailure(&ai.BackendError{Backend: "embedding", Status: 503, Transient: true}))
	require.False(t, permanentFailure(context.DeadlineExceeded))
	require.False(t, permanentFailure(context.Canceled))
	// Store failures carry no backend marker and must stay retryable.
	require.False(t, permanentFailure(errors.New("dial tcp 127.0.0.1:3306: connect: connection refused")))
	require.False(t, permanentFailure(fmt.Errorf("replace document chunks failed: %w",
		errors.New("dial tcp 127.0.0.1:3306: connect: connection refused"))))
}

func TestHandleDeliveryStoreOutageRetries(t *testing.T) {
	f := newFixture(&model.IngestionJob{ID: 1, DocumentID: 2, State: model.JobQueued},
		Options{MaxAttempts: 3, BackoffBase: time.Millisecond, MinTextChars: 10})
	f.indexer.err = fmt.Errorf("replace document chunks failed: %w",
		errors.New("dial tcp 127.0.0.1:3306: connect: connection refused"))
	acker := &fakeAcker{}

	f.worker.handleDelivery(context.Background(), ingestDelivery(t, acker))

	require.True(t, f.jobs.markedFailed, "a store outage is a retryable failure")
	require.False(t, f.jobs.markedDead)
	require.Len(t, f.publisher.published, 1)
	require.Equal(t, 1, f.publisher.published[0].Attempt)
	require.Equal(t, uint(1), f.publisher.published[0].JobID)
	require.Equal(t, 1, acker.acks)
	require.Zero(t, acker.nacks)
}

func TestHandleDeliveryBudgetExhaustionGoesDead(t *testing.T) {
	f := newFixture(&model.IngestionJob{ID: 1, DocumentID: 2, State: model.JobFailed, AttemptCount: 2},
		Options{MaxAttempts: 3, BackoffBase: time.Millisecond, MinTextChars: 10})
	f.indexer.err = errors.New("mysql still down")
	acker := &fakeAcker{}

	f.worker.handleDelivery(context.Background(), ingestDelivery(t, acker))

	require.True(t, f.jobs.markedDead, "third failed attempt exhausts the budget")
	require.False(t, f.jobs.markedFailed)
	require.Empty(t, f.publisher.published)
	require.Equal(t, 1, acker.acks)
}

func TestHandleDeliveryUnreadableDocumentGoesDeadImmediately(t *testing.T) {
	f := newFixture(&model.IngestionJob{ID: 1, DocumentID: 2, State: model.JobQueued},
		Options{MaxAttempts: 3, BackoffBase: time.Millisecond, MinTextChars: 10})
	f.worker.extractPages = func(io.Reader) ([]pdfextract.PageText, error) {
		return nil, fmt.Errorf("%w: not a pdf", pdfextract.ErrUnreadable)
	}
	acker := &fakeAcker{}

	f.worker.handleDelivery(context.Background(), ingestDelivery(t, acker))

	require.True(t, f.jobs.markedDead)
	require.False(t, f.jobs.markedFailed)
	require.Empty(t, f.publisher.published, "permanent failures are not re-enqueued")
	require.Equal(t, 1, acker.acks)
}

func TestHandleDeliveryNonTransientBackendGoesDead(t *testing.T) {
	f := newFixture(&model.IngestionJob{ID: 1, DocumentID: 2, State: model.JobQueued},
		Options{MaxAttempts: 3, BackoffBase: time.Millisecond, MinTextChars: 10})
	f.indexer.err = &ai.BackendError{Backend: "embedding", Status: 401, Err: errors.New("bad api key")}
	acker := &fakeAcker{}

	f.worker.handleDelivery(context.Background(), ingestDelivery(t, acker))

	require.True(t, f.jobs.markedDead)
	require.Empty(t, f.publisher.published)
}

func TestHandleDeliveryTerminalJobAckedAndSkipped(t *testing.T) {
	f := newFixture(&model.IngestionJob{ID: 1, DocumentID: 2, State: model.JobDone},
		Options{MaxAttempts: 3, MinTextChars: 10})
	acker := &fakeAcker{}

	f.worker.handleDelivery(context.Background(), ingestDelivery(t, acker))

	require.Equal(t, 1, acker.acks)
	require.Zero(t, f.jobs.claims, "terminal jobs are never reclaimed")
	require.Zero(t, f.indexer.calls)
}

func TestHandleDeliveryBookkeepingFailureRequeues(t *testing.T) {
	f := newFixture(&model.IngestionJob{ID: 1, DocumentID: 2, State: model.JobQueued},
		Options{MaxAttempts: 3, BackoffBase: time.Millisecond, MinTextChars: 10})
	f.indexer.err = errors.New("mysql down")
	f.jobs.failedErr = errors.New("mysql down")
	acker := &fakeAcker{}

	f.worker.handleDelivery(context.Background(), ingestDelivery(t, acker))

	require.Zero(t, acker.acks, "a job must not be acked away while still processing")
	require.Equal(t, 1, acker.nacks)
	require.True(t, acker.requeue)
}

func TestHandleDeliveryMalformedPayloadDropped(t *testing.T) {
	f := newFixture(&model.IngestionJob{ID: 1, DocumentID: 2, State: model.JobQueued},
		Options{MaxAttempts: 3, MinTextChars: 10})
	acker := &fakeAcker{}

	f.worker.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: acker, Body: []byte("{not json")})

	require.Equal(t, 1, acker.nacks)
	require.False(t, acker.requeue, "undecodable payloads can never succeed")
	require.Zero(t, f.jobs.claims)
}

func TestHandleDeliverySuccessCommitsAndAcks(t *testing.T) {
	f := newFixture(&model.IngestionJob{ID: 1, DocumentID: 2, State: model.JobQueued},
		Options{MaxAttempts: 3, MinTextChars: 10})
	acker := &fakeAcker{}

	f.worker.handleDelivery(context.Background(), ingestDelivery(t, acker))

	require.Equal(t, 1, f.indexer.calls)
	require.Equal(t, uint(1), f.indexer.gotJobID)
	require.Equal(t, uint(2), f.indexer.gotDocID)
	require.Greater(t, f.indexer.draftCount, 0)
	require.Equal(t, 1, f.docs.pages)
	require.Equal(t, 1, acker.acks)
	require.False(t, f.jobs.markedFailed)
	require.False(t, f.jobs.markedDead)
}

func TestRunPipelineZeroChunksStillCommits(t *testing.T) {
	f := newFixture(&model.IngestionJob{ID: 1, DocumentID: 2, State: model.JobQueued},
		Options{MaxAttempts: 3, MinTextChars: 0})
	f.worker.extractPages = func(io.Reader) ([]pdfextract.PageText, error) {
		return []pdfextract.PageText{{Number: 1, Text: "   \n\t  "}}, nil
	}
	acker := &fakeAcker{}

	f.worker.handleDelivery(context.Background(), ingestDelivery(t, acker))

	require.Equal(t, 1, f.indexer.calls, "an empty chunk set still replaces the previous one")
	require.Zero(t, f.indexer.draftCount)
	require.Equal(t, 1, acker.acks)
	require.False(t, f.jobs.markedFailed)
	require.False(t, f.jobs.markedDead)
}

func TestRunPipelineQualityGate(t *testing.T) {
	f := newFixture(&model.IngestionJob{ID: 1, DocumentID: 2, State: model.JobQueued},
		Options{MaxAttempts: 3, MinTextChars: 500})
	acker := &fakeAcker{}

	f.worker.handleDelivery(context.Background(), ingestDelivery(t, acker))

	require.True(t, f.jobs.markedDead, "too little extractable text is a parse failure")
	require.Zero(t, f.indexer.calls)
}
