package model

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx/types"
)

type Job struct {
	JobID           string         `db:"job_id"`
	UserID          string         `db:"user_id"`
	PortalUsername  string         `db:"portal_username"`
	PortalPassword  string         `db:"portal_password"`
	Images          types.JSONText `db:"images"`
	DisplayTarget   string         `db:"display_target"`
	IntervalMinutes int            `db:"interval_minutes"`
	Cycle           bool           `db:"cycle"`
	Status          string         `db:"status"`
	Progress        string         `db:"progress"`
	Logs            string         `db:"logs"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	StartedAt       sql.NullTime   `db:"started_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
}
