package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"paperquote/internal/model"
	"paperquote/internal/repository"
	"paperquote/internal/tasks"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrDocumentNotFound = errors.New("document not found")
	ErrJobNotFound      = errors.New("job not found")
)

// TaskPublisher enqueues ingestion tasks for the worker pool.
type TaskPublisher interface {
	PublishIngest(ctx context.Context, task tasks.IngestTask) error
}

// IngestService registers documents and submits their ingestion jobs. The
// heavy pipeline itself runs in the worker; submission only persists the
// document, creates the queued job, and enqueues the task.
type IngestService struct {
	docRepo   *repository.DocumentRepository
	jobRepo   *repository.JobRepository
	publisher TaskPublisher
}

func NewIngestService(
	docRepo *repository.DocumentRepository,
	jobRepo *repository.JobRepository,
	publisher TaskPublisher,
) *IngestService {
	return &IngestService{
		docRepo:   docRepo,
		jobRepo:   jobRepo,
		publisher: publisher,
	}
}

type SubmitInput struct {
	UserID   uint
	Title    string
	Filename string
	Data     []byte
}

type SubmitResult struct {
	Document model.Document     `json:"document"`
	Job      model.IngestionJob `json:"job"`
}

// Submit stores the raw PDF and enqueues its ingestion job. The job starts
// queued; all further state changes belong to the worker executing it.
func (s *IngestService) Submit(ctx context.Context, input SubmitInput) (*SubmitResult, error) {
	if input.UserID == 0 || len(input.Data) == 0 {
		return nil, ErrInvalidInput
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = strings.TrimSpace(input.Filename)
	}
	if title == "" {
		title = "Untitled"
	}

	doc := &model.Document{
		UserID:   input.UserID,
		Title:    title,
		Filename: input.Filename,
		Data:     input.Data,
	}
	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, err
	}

	job := &model.IngestionJob{
		DocumentID: doc.ID,
		State:      model.JobQueued,
	}
	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, err
	}

	task := tasks.IngestTask{JobID: job.ID, DocumentID: doc.ID}
	if err := s.publisher.PublishIngest(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue ingest task failed: %w", err)
	}

	doc.Data = nil
	return &SubmitResult{Document: *doc, Job: *job}, nil
}

// Resubmit re-enqueues a dead job's document as a fresh job. Terminal
// states never transition, so recovery is a new job for the same document;
// content-addressed chunk keys keep the result identical to a first run.
func (s *IngestService) Resubmit(ctx context.Context, userID, documentID uint) (*model.IngestionJob, error) {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.UserID != userID {
		return nil, ErrDocumentNotFound
	}

	job := &model.IngestionJob{
		DocumentID: doc.ID,
		State:      model.JobQueued,
	}
	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, err
	}
	if err := s.publisher.PublishIngest(ctx, tasks.IngestTask{JobID: job.ID, DocumentID: doc.ID}); err != nil {
		return nil, fmt.Errorf("enqueue ingest task failed: %w", err)
	}
	return job, nil
}

func (s *IngestService) ListDocuments(ctx context.Context, userID uint) ([]model.Document, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.docRepo.ListByUserID(ctx, userID)
}

func (s *IngestService) GetJob(ctx context.Context, jobID uint) (*model.IngestionJob, error) {
	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// ListJobs returns jobs, optionally restricted to one state. Dead jobs are
// the operator-visibility case this exists for.
func (s *IngestService) ListJobs(ctx context.Context, state string) ([]model.IngestionJob, error) {
	return s.jobRepo.ListByState(ctx, model.JobState(state))
}
