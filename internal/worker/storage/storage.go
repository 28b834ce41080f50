package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dtbui/signpush/internal/worker/domain"
	"github.com/jmoiron/sqlx"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ClaimNextJob atomically transitions the oldest QUEUED job to RUNNING and
// returns it. The inner SELECT uses FOR UPDATE SKIP LOCKED so concurrent
// dispatcher ticks skip rows another claim is already holding instead of
// blocking on them; select-and-mark happen in a single statement.
// Returns domain.ErrNoQueuedJobs when the queue is empty.
func (s *Storage) ClaimNextJob(ctx context.Context, initialProgress string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    progress = $2,
		    started_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = (
			SELECT job_id FROM jobs
			WHERE status = $3
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING job_id, user_id, portal_username, portal_password, images,
		          display_target, interval_minutes, cycle, created_at
	`

	var (
		job       domain.Job
		rawImages []byte
	)
	err := s.db.QueryRowContext(ctx, query, domain.JobStatusRunning, initialProgress, domain.JobStatusQueued).Scan(
		&job.JobID,
		&job.UserID,
		&job.PortalUsername,
		&job.PortalPassword,
		&rawImages,
		&job.DisplayTarget,
		&job.IntervalMinutes,
		&job.Cycle,
		&job.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNoQueuedJobs
		}
		return nil, fmt.Errorf("failed to claim next job: %w", err)
	}

	if err := json.Unmarshal(rawImages, &job.Images); err != nil {
		return nil, fmt.Errorf("failed to decode images for job %s: %w", job.JobID, err)
	}
	job.Status = domain.JobStatusRunning

	s.logger.Info("Job claimed",
		slog.String("job_id", job.JobID),
		slog.String("user_id", job.UserID),
		slog.Int("images", len(job.Images)),
	)

	return &job, nil
}

// GetJobStatus reads back just the status column. The worker calls this at
// every cancellation checkpoint.
func (s *Storage) GetJobStatus(ctx context.Context, jobID string) (string, error) {
	var status string
	err := s.db.GetContext(ctx, &status, `SELECT status FROM jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", domain.ErrJobNotFound
		}
		return "", fmt.Errorf("failed to get job status: %w", err)
	}
	return status, nil
}

// UpdateProgress overwrites the job's human-readable progress message.
func (s *Storage) UpdateProgress(ctx context.Context, jobID, progress string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET progress = $1, updated_at = NOW() WHERE job_id = $2`,
		progress, jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// UpdateLogs overwrites the job's captured confirmation text.
func (s *Storage) UpdateLogs(ctx context.Context, jobID, logs string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET logs = $1, updated_at = NOW() WHERE job_id = $2`,
		logs, jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to update logs: %w", err)
	}
	return nil
}

// MarkCompleted moves the job to COMPLETED with a final progress message.
// A job that is no longer RUNNING is left untouched.
func (s *Storage) MarkCompleted(ctx context.Context, jobID, progress string) error {
	return s.markTerminal(ctx, jobID, domain.JobStatusCompleted, progress)
}

// MarkFailed moves the job to FAILED with a descriptive progress message.
// A job that is no longer RUNNING is left untouched.
func (s *Storage) MarkFailed(ctx context.Context, jobID, progress string) error {
	return s.markTerminal(ctx, jobID, domain.JobStatusFailed, progress)
}

func (s *Storage) markTerminal(ctx context.Context, jobID, status, progress string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, progress = $2, completed_at = NOW(), updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`, status, progress, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark job %s: %w", status, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// A cancellation landed after the worker's last checkpoint. The
		// externally written status wins; the worker's outcome is dropped.
		s.logger.Info("Job no longer running, terminal status not written",
			slog.String("job_id", jobID),
			slog.String("status", status),
		)
		return nil
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)
	return nil
}

// CreateJob inserts a new QUEUED job. Used by the chat-ops intake path;
// the HTTP intake has its own storage in internal/api.
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	rawImages, err := json.Marshal(job.Images)
	if err != nil {
		return fmt.Errorf("failed to encode images: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			job_id, user_id, portal_username, portal_password, images,
			display_target, interval_minutes, cycle, status, progress,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
	`,
		job.JobID,
		job.UserID,
		job.PortalUsername,
		job.PortalPassword,
		rawImages,
		job.DisplayTarget,
		job.IntervalMinutes,
		job.Cycle,
		domain.JobStatusQueued,
		"Queued",
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}
