package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dtbui/signpush/internal/api/domain"
	"github.com/dtbui/signpush/internal/api/model"
	"github.com/dtbui/signpush/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `
	job_id, user_id, portal_username, portal_password, images,
	display_target, interval_minutes, cycle, status, progress, logs,
	created_at, updated_at, started_at, completed_at
`

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

func (s *Storage) CreateJob(ctx context.Context, job *model.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, user_id, portal_username, portal_password, images,
			display_target, interval_minutes, cycle, status, progress,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.UserID,
		job.PortalUsername,
		job.PortalPassword,
		job.Images,
		job.DisplayTarget,
		job.IntervalMinutes,
		job.Cycle,
		job.Status,
		job.Progress,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// LatestJobByUser returns the most recent job submitted by the given
// user, newest created_at first.
func (s *Storage) LatestJobByUser(ctx context.Context, userID string) (*model.Job, error) {
	var job model.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`

	err := s.db.GetContext(ctx, &job, query, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get latest job: %w", err)
	}

	return &job, nil
}

// CancelJob flips the job to CANCELLED, but only while it is still QUEUED
// or RUNNING. A running worker observes the new status at its next
// checkpoint. Returns ErrJobNotCancellable when no row was updated.
func (s *Storage) CancelJob(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = $1, progress = $2, updated_at = NOW()
		WHERE job_id = $3 AND status IN ($4, $5)
	`

	res, err := s.db.ExecContext(ctx, query,
		domain.JobStatusCancelled,
		"Cancelled by user",
		jobID,
		domain.JobStatusQueued,
		domain.JobStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrJobNotCancellable
	}

	return nil
}

type JobFilter struct {
	UserID   string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []model.Job
	err := s.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}
