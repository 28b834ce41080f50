package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dtbui/signpush/internal/worker/domain"
)

const initialProgress = "Claimed by worker; starting upload run"

// ClaimStore is the claim slice of the job store. Implemented by
// storage.Storage.
type ClaimStore interface {
	ClaimNextJob(ctx context.Context, initialProgress string) (*domain.Job, error)
}

// Dispatcher polls the job store at a fixed cadence. Each tick claims at
// most one queued job and hands it to the uploader in its own goroutine;
// the dispatcher never waits for a job to finish.
type Dispatcher struct {
	logger   *slog.Logger
	store    ClaimStore
	uploader *Uploader
	interval time.Duration

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. interval defaults to 5s.
func NewDispatcher(logger *slog.Logger, store ClaimStore, uploader *Uploader, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Dispatcher{
		logger:   logger,
		store:    store,
		uploader: uploader,
		interval: interval,
	}
}

// Run ticks until ctx is cancelled, then waits for in-flight jobs.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("Dispatcher started",
		slog.Duration("poll_interval", d.interval),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Dispatcher stopping, waiting for running jobs")
			d.wg.Wait()
			d.logger.Info("Dispatcher stopped")
			return

		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick claims the oldest queued job, if any, and dispatches it. Claim
// failures are logged; the cadence continues unconditionally.
func (d *Dispatcher) tick(ctx context.Context) {
	job, err := d.store.ClaimNextJob(ctx, initialProgress)
	if err != nil {
		if errors.Is(err, domain.ErrNoQueuedJobs) {
			return
		}
		d.logger.Error("Failed to claim next job",
			slog.String("error", err.Error()),
		)
		return
	}

	// ctx only stops the tick loop. A claimed job must reach a terminal
	// status even during shutdown, so its store and upload calls run on a
	// context that survives the cancellation; Run waits for it via wg.
	runCtx := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("Upload worker panicked",
					slog.String("job_id", job.JobID),
					slog.Any("panic", r),
				)
			}
		}()

		d.uploader.Run(runCtx, job)
	}()
}
