package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dtbui/signpush/internal/portal"
	"github.com/dtbui/signpush/internal/worker/domain"
)

// Portal page selectors. These encode the portal's upload page structure;
// when the portal UI changes, this is the list to revisit.
const (
	loginUsernameField = `#username`
	loginPasswordField = `#password`
	loginButton        = `button[type="submit"]`
	dashboardRoot      = `#dashboard`
	displaySelect      = `#display-select`
	imageFileInput     = `input[type="file"]`
	uploadButton       = `#upload-btn`
	confirmationEntry  = `#upload-log .log-entry`
	latestConfirmation = `#upload-log .log-entry:first-child`
)

// errHalted signals that the job's status was changed externally (a
// cancellation request) and the worker must stop without writing a
// terminal status of its own.
var errHalted = errors.New("job no longer running")

// JobStore is the slice of the job store the uploader needs. Implemented
// by storage.Storage.
type JobStore interface {
	GetJobStatus(ctx context.Context, jobID string) (string, error)
	UpdateProgress(ctx context.Context, jobID, progress string) error
	UpdateLogs(ctx context.Context, jobID, logs string) error
	MarkCompleted(ctx context.Context, jobID, progress string) error
	MarkFailed(ctx context.Context, jobID, progress string) error
}

// UploaderConfig holds the timeouts and retry bounds of the upload state
// machine. Zero values are replaced with defaults by NewUploader.
type UploaderConfig struct {
	PortalURL                string
	LoginTimeout             time.Duration
	SelectorTimeout          time.Duration
	UploadEnableTimeout      time.Duration
	ConfirmationTimeout      time.Duration
	ConfirmationSettleDelay  time.Duration
	ConfirmationPollInterval time.Duration
	ClickRetryAttempts       int
	ClickRetryInterval       time.Duration
}

// Uploader drives one claimed job through the portal upload flow:
// authenticate, then per image select display, attach, submit, await
// confirmation; optionally waiting between images and cycling.
type Uploader struct {
	logger *slog.Logger
	store  JobStore
	dial   portal.Dialer
	cfg    UploaderConfig

	// sleep and removeFile are swapped out in tests.
	sleep      func(time.Duration)
	removeFile func(string) error
}

// NewUploader creates an Uploader with defaults filled in.
func NewUploader(logger *slog.Logger, store JobStore, dial portal.Dialer, cfg UploaderConfig) *Uploader {
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = 30 * time.Second
	}
	if cfg.SelectorTimeout <= 0 {
		cfg.SelectorTimeout = 15 * time.Second
	}
	if cfg.UploadEnableTimeout <= 0 {
		cfg.UploadEnableTimeout = 15 * time.Second
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 30 * time.Second
	}
	if cfg.ConfirmationSettleDelay <= 0 {
		cfg.ConfirmationSettleDelay = 2 * time.Second
	}
	if cfg.ConfirmationPollInterval <= 0 {
		cfg.ConfirmationPollInterval = 500 * time.Millisecond
	}
	if cfg.ClickRetryAttempts <= 0 {
		cfg.ClickRetryAttempts = 10
	}
	if cfg.ClickRetryInterval <= 0 {
		cfg.ClickRetryInterval = time.Second
	}

	return &Uploader{
		logger:     logger,
		store:      store,
		dial:       dial,
		cfg:        cfg,
		sleep:      time.Sleep,
		removeFile: os.Remove,
	}
}

// Run executes one job to a terminal state. All fatal conditions are
// converted to a FAILED status here and never propagated past this
// boundary. Image files are deleted on every exit path.
func (u *Uploader) Run(ctx context.Context, job *domain.Job) {
	log := u.logger.With(slog.String("job_id", job.JobID))
	defer u.cleanupFiles(log, job)

	err := u.execute(ctx, log, job)
	switch {
	case err == nil:
		if uerr := u.store.MarkCompleted(ctx, job.JobID, "All uploads completed"); uerr != nil {
			log.Error("Failed to mark job completed",
				slog.String("error", uerr.Error()),
			)
		}
		log.Info("Job completed")

	case errors.Is(err, errHalted):
		// The cancellation request already wrote the terminal status;
		// the worker only stops.
		log.Info("Job halted by external status change")

	default:
		msg := failureMessage(err)
		if uerr := u.store.MarkFailed(ctx, job.JobID, msg); uerr != nil {
			log.Error("Failed to mark job failed",
				slog.String("error", uerr.Error()),
			)
		}
		log.Error("Job failed",
			slog.String("error", err.Error()),
		)
	}
}

// execute runs the state machine proper. It returns nil on completion,
// errHalted on external cancellation, and a descriptive error on any
// fatal condition.
func (u *Uploader) execute(ctx context.Context, log *slog.Logger, job *domain.Job) error {
	u.report(ctx, log, job.JobID, "Authenticating with the portal")

	sess, err := u.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to open browser session: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("Failed to close browser session",
				slog.String("error", cerr.Error()),
			)
		}
	}()

	// Credential failure is not transient: no retry.
	if err := u.login(sess, job); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	first := true
	for {
		for i, img := range job.Images {
			// Cancellation checkpoint. Only here, at iteration
			// boundaries; an in-flight upload is never interrupted.
			status, err := u.store.GetJobStatus(ctx, job.JobID)
			if err != nil {
				return fmt.Errorf("failed to check job status: %w", err)
			}
			if status != domain.JobStatusRunning {
				log.Info("Job status changed externally, stopping",
					slog.String("status", status),
				)
				return errHalted
			}

			if err := u.uploadImage(ctx, log, sess, job, img, first); err != nil {
				return err
			}
			first = false

			if job.IntervalMinutes > 0 && (i < len(job.Images)-1 || job.Cycle) {
				u.report(ctx, log, job.JobID,
					fmt.Sprintf("Waiting %d minute(s) before the next upload", job.IntervalMinutes))
				// Plain blocking wait. A cancellation during this sleep
				// is only observed at the next checkpoint.
				u.sleep(time.Duration(job.IntervalMinutes) * time.Minute)
			}
		}

		if !job.Cycle {
			return nil
		}
	}
}

func (u *Uploader) login(sess portal.Session, job *domain.Job) error {
	if err := sess.Navigate(u.cfg.PortalURL + "/login"); err != nil {
		return err
	}
	if err := sess.WaitVisible(loginUsernameField, u.cfg.SelectorTimeout); err != nil {
		return err
	}
	if err := sess.Type(loginUsernameField, job.PortalUsername); err != nil {
		return err
	}
	if err := sess.Type(loginPasswordField, job.PortalPassword); err != nil {
		return err
	}
	if err := sess.Click(loginButton); err != nil {
		return err
	}
	// A successful login navigates to the dashboard.
	return sess.WaitVisible(dashboardRoot, u.cfg.LoginTimeout)
}

func (u *Uploader) uploadImage(ctx context.Context, log *slog.Logger, sess portal.Session, job *domain.Job, img domain.Image, first bool) error {
	u.report(ctx, log, job.JobID, fmt.Sprintf("Selecting display for %s", img.DisplayName))

	if !first {
		if err := u.resetView(sess); err != nil {
			return fmt.Errorf("failed to return to the dashboard: %w", err)
		}
	}
	if err := sess.WaitVisible(displaySelect, u.cfg.SelectorTimeout); err != nil {
		return fmt.Errorf("display selector not found: %w", err)
	}
	if err := sess.Select(displaySelect, job.DisplayTarget); err != nil {
		return fmt.Errorf("failed to select display %q: %w", job.DisplayTarget, err)
	}

	u.report(ctx, log, job.JobID, fmt.Sprintf("Uploading %s", img.DisplayName))

	if err := sess.UploadFile(imageFileInput, img.StoragePath); err != nil {
		return fmt.Errorf("failed to attach image %s: %w", img.DisplayName, err)
	}
	if err := sess.WaitEnabled(uploadButton, u.cfg.UploadEnableTimeout); err != nil {
		return fmt.Errorf("upload button never became enabled: %w", err)
	}
	if err := u.clickSubmit(sess); err != nil {
		return err
	}

	u.report(ctx, log, job.JobID, fmt.Sprintf("Waiting for upload confirmation for %s", img.DisplayName))
	return u.awaitConfirmation(ctx, log, sess, job, img)
}

// clickSubmit clicks the upload button, retrying only the "present but
// not interactable" failure class. Any other click failure propagates
// immediately.
func (u *Uploader) clickSubmit(sess portal.Session) error {
	for attempt := 1; ; attempt++ {
		err := sess.Click(uploadButton)
		if err == nil {
			return nil
		}
		if !errors.Is(err, portal.ErrNotInteractable) {
			return fmt.Errorf("failed to click the upload button: %w", err)
		}
		if attempt >= u.cfg.ClickRetryAttempts {
			return fmt.Errorf("%w after %d attempts", domain.ErrSubmitNotClickable, attempt)
		}
		u.sleep(u.cfg.ClickRetryInterval)
	}
}

// awaitConfirmation waits for a new confirmation log entry to appear.
// The count is snapshotted after a settle delay so a stale entry from a
// previous upload cannot satisfy the wait.
func (u *Uploader) awaitConfirmation(ctx context.Context, log *slog.Logger, sess portal.Session, job *domain.Job, img domain.Image) error {
	u.sleep(u.cfg.ConfirmationSettleDelay)

	before, err := sess.Count(confirmationEntry)
	if err != nil {
		return fmt.Errorf("failed to read the confirmation log: %w", err)
	}

	deadline := time.Now().Add(u.cfg.ConfirmationTimeout)
	for {
		n, err := sess.Count(confirmationEntry)
		if err != nil {
			return fmt.Errorf("failed to read the confirmation log: %w", err)
		}
		if n > before {
			break
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("no upload confirmation within %s for %s",
				u.cfg.ConfirmationTimeout, img.DisplayName)
		}
		u.sleep(u.cfg.ConfirmationPollInterval)
	}

	text, err := sess.Text(latestConfirmation)
	if err != nil {
		return fmt.Errorf("failed to read the confirmation entry: %w", err)
	}

	if uerr := u.store.UpdateLogs(ctx, job.JobID, text); uerr != nil {
		log.Warn("Failed to persist confirmation text",
			slog.String("error", uerr.Error()),
		)
	}

	// The portal appends an entry even for rejected uploads; acceptance
	// of the wait does not imply success.
	lower := strings.ToLower(text)
	if strings.Contains(lower, "error") || strings.Contains(lower, "fail") {
		return fmt.Errorf("portal reported an upload problem for %s: %s", img.DisplayName, text)
	}
	return nil
}

func (u *Uploader) resetView(sess portal.Session) error {
	if err := sess.Navigate(u.cfg.PortalURL + "/dashboard"); err != nil {
		return err
	}
	return sess.WaitVisible(dashboardRoot, u.cfg.SelectorTimeout)
}

// report writes a progress message. Progress writes are best-effort: a
// failed write is logged but never fails the job.
func (u *Uploader) report(ctx context.Context, log *slog.Logger, jobID, msg string) {
	if err := u.store.UpdateProgress(ctx, jobID, msg); err != nil {
		log.Warn("Failed to update progress",
			slog.String("progress", msg),
			slog.String("error", err.Error()),
		)
	}
}

// cleanupFiles deletes every image file referenced by the job. Deletion
// errors are logged per file; the job's terminal status is already
// decided by the time this runs.
func (u *Uploader) cleanupFiles(log *slog.Logger, job *domain.Job) {
	for _, img := range job.Images {
		if err := u.removeFile(img.StoragePath); err != nil {
			log.Warn("Failed to delete image file",
				slog.String("path", img.StoragePath),
				slog.String("error", err.Error()),
			)
		}
	}
}

// failureMessage converts a fatal error into the user-facing progress
// text. Click and clickability problems get a clearer hint because they
// almost always mean the portal layout changed.
func failureMessage(err error) string {
	if errors.Is(err, domain.ErrSubmitNotClickable) ||
		strings.Contains(strings.ToLower(err.Error()), "click") {
		return "Upload failed: the portal's upload button was not clickable. The portal layout may have changed."
	}
	return "Upload failed: " + err.Error()
}
