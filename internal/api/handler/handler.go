package handler

import (
	"context"
	"log/slog"

	"github.com/dtbui/signpush/internal/api/model"
	"github.com/dtbui/signpush/internal/api/storage"
	"github.com/dtbui/signpush/shared/postgresql"
	"github.com/dtbui/signpush/shared/rabbitmq"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	DBClient     *postgresql.Client
	RabbitClient *rabbitmq.Client
}

// JobStorage is the storage surface the handlers use. Implemented by
// storage.Storage; narrowed to an interface for handler tests.
type JobStorage interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJobByID(ctx context.Context, jobID string) (*model.Job, error)
	LatestJobByUser(ctx context.Context, userID string) (*model.Job, error)
	CancelJob(ctx context.Context, jobID string) error
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]model.Job, error)
}

// EventPublisher emits job lifecycle events. Implemented by the RabbitMQ
// client; nil disables publishing.
type EventPublisher interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	storage   JobStorage
	publisher EventPublisher
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	h := &JobHandler{
		logger:  deps.Logger,
		storage: storage.NewStorage(deps.DBClient),
	}
	if deps.RabbitClient != nil {
		h.publisher = deps.RabbitClient
	}
	return h
}

// newJobHandler wires explicit collaborators; used by tests.
func newJobHandler(logger *slog.Logger, store JobStorage, publisher EventPublisher) *JobHandler {
	return &JobHandler{
		logger:    logger,
		storage:   store,
		publisher: publisher,
	}
}
