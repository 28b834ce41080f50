package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/dtbui/signpush/internal/portal"
	"github.com/dtbui/signpush/internal/worker/storage"
	"github.com/dtbui/signpush/shared/postgresql"
)

// Config holds worker service configuration
type Config struct {
	Logger       *slog.Logger
	DBClient     *postgresql.Client
	PollInterval time.Duration
	Uploader     UploaderConfig
	Chrome       portal.ChromeConfig
}

// Worker ties the job store, the upload state machine, and the
// dispatcher together for the worker service.
type Worker struct {
	logger     *slog.Logger
	storage    *storage.Storage
	dispatcher *Dispatcher
}

// New creates a fully wired worker instance.
func New(cfg *Config) *Worker {
	st := storage.NewStorage(cfg.DBClient.GetDB(), cfg.Logger)
	uploader := NewUploader(cfg.Logger, st, portal.ChromeDialer(cfg.Chrome), cfg.Uploader)
	dispatcher := NewDispatcher(cfg.Logger, st, uploader, cfg.PollInterval)

	return &Worker{
		logger:     cfg.Logger,
		storage:    st,
		dispatcher: dispatcher,
	}
}

// Storage exposes the job store so the intake consumer can share it.
func (w *Worker) Storage() *storage.Storage {
	return w.storage
}

// Start runs the dispatch loop until ctx is cancelled, then waits for
// in-flight jobs to finish.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting upload worker")
	w.dispatcher.Run(ctx)
	return nil
}
