package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dtbui/signpush/internal/portal"
	"github.com/dtbui/signpush/internal/worker/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory JobStore recording every write.
type fakeStore struct {
	mu       sync.Mutex
	statuses []string // successive GetJobStatus answers; last repeats
	checks   int
	progress []string
	logs     []string

	completed    bool
	completedMsg string
	failed       bool
	failedMsg    string
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: []string{domain.JobStatusRunning}}
}

func (f *fakeStore) GetJobStatus(ctx context.Context, jobID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.checks
	f.checks++
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	return f.statuses[i], nil
}

func (f *fakeStore) UpdateProgress(ctx context.Context, jobID, progress string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, progress)
	return nil
}

func (f *fakeStore) UpdateLogs(ctx context.Context, jobID, logs string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, logs)
	return nil
}

func (f *fakeStore) MarkCompleted(ctx context.Context, jobID, progress string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = true
	f.completedMsg = progress
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, jobID, progress string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = true
	f.failedMsg = progress
	return nil
}

// fakeSession simulates the portal. A successful upload-button click
// makes the next confirmation poll observe a new log entry, unless
// confirmNever is set.
type fakeSession struct {
	navigations []string
	typed       map[string]string
	selects     []string
	uploads     []string

	clickQueue   []error // consumed per upload-button click; nil entries succeed
	loginErr     error   // returned by WaitVisible(dashboardRoot) during login
	displayErr   error   // returned by WaitVisible(displaySelect)
	confirmNever bool
	confirmText  string

	logEntries  int
	beforeTaken bool
	closeCount  int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		typed:       make(map[string]string),
		confirmText: "news.png pushed to display 12 OK",
	}
}

func (s *fakeSession) Navigate(url string) error {
	s.navigations = append(s.navigations, url)
	return nil
}

func (s *fakeSession) Type(selector, value string) error {
	s.typed[selector] = value
	return nil
}

func (s *fakeSession) Click(selector string) error {
	if selector != uploadButton {
		return nil
	}
	if len(s.clickQueue) == 0 {
		return nil
	}
	err := s.clickQueue[0]
	s.clickQueue = s.clickQueue[1:]
	return err
}

func (s *fakeSession) Select(selector, value string) error {
	s.selects = append(s.selects, value)
	return nil
}

func (s *fakeSession) UploadFile(selector, path string) error {
	s.uploads = append(s.uploads, path)
	return nil
}

func (s *fakeSession) WaitVisible(selector string, timeout time.Duration) error {
	switch selector {
	case dashboardRoot:
		if len(s.navigations) == 1 {
			// first wait is the post-login navigation
			return s.loginErr
		}
		return nil
	case displaySelect:
		return s.displayErr
	default:
		return nil
	}
}

func (s *fakeSession) WaitEnabled(selector string, timeout time.Duration) error {
	return nil
}

func (s *fakeSession) Text(selector string) (string, error) {
	return s.confirmText, nil
}

func (s *fakeSession) Count(selector string) (int, error) {
	if s.confirmNever {
		return s.logEntries, nil
	}
	if !s.beforeTaken {
		s.beforeTaken = true
		return s.logEntries, nil
	}
	s.beforeTaken = false
	s.logEntries++
	return s.logEntries, nil
}

func (s *fakeSession) Close() error {
	s.closeCount++
	return nil
}

func testJob(images ...domain.Image) *domain.Job {
	return &domain.Job{
		JobID:          "4f6e3f37-9e0b-4a3c-8b55-2f6a3c1d9e01",
		UserID:         "user-1",
		PortalUsername: "alice",
		PortalPassword: "hunter2",
		Images:         images,
		DisplayTarget:  "12",
		Status:         domain.JobStatusRunning,
	}
}

type uploaderHarness struct {
	uploader *Uploader
	store    *fakeStore
	sess     *fakeSession
	sleeps   []time.Duration
	removed  []string
}

func newHarness(t *testing.T, cfg UploaderConfig) *uploaderHarness {
	t.Helper()
	h := &uploaderHarness{
		store: newFakeStore(),
		sess:  newFakeSession(),
	}
	if cfg.PortalURL == "" {
		cfg.PortalURL = "https://signage.example.edu"
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dial := func(ctx context.Context) (portal.Session, error) { return h.sess, nil }
	h.uploader = NewUploader(log, h.store, dial, cfg)
	h.uploader.sleep = func(d time.Duration) { h.sleeps = append(h.sleeps, d) }
	h.uploader.removeFile = func(path string) error {
		h.removed = append(h.removed, path)
		return nil
	}
	return h
}

func TestUploaderHappyPath(t *testing.T) {
	h := newHarness(t, UploaderConfig{})
	job := testJob(
		domain.Image{StoragePath: "/data/uploads/a.png", DisplayName: "A"},
		domain.Image{StoragePath: "/data/uploads/b.png", DisplayName: "B"},
	)
	job.IntervalMinutes = 1

	h.uploader.Run(context.Background(), job)

	require.True(t, h.store.completed, "job should complete, failure: %q", h.store.failedMsg)
	assert.False(t, h.store.failed)
	assert.Equal(t, "All uploads completed", h.store.completedMsg)

	// Exactly N uploads, each preceded by a status check.
	assert.Equal(t, []string{"/data/uploads/a.png", "/data/uploads/b.png"}, h.sess.uploads)
	assert.Equal(t, 2, h.store.checks)

	// Progress advances through every state, with the interval wait
	// between A and B and none after B.
	assert.Equal(t, []string{
		"Authenticating with the portal",
		"Selecting display for A",
		"Uploading A",
		"Waiting for upload confirmation for A",
		"Waiting 1 minute(s) before the next upload",
		"Selecting display for B",
		"Uploading B",
		"Waiting for upload confirmation for B",
	}, h.store.progress)
	assert.Contains(t, h.sleeps, time.Minute)
	assert.NotEqual(t, time.Minute, h.sleeps[len(h.sleeps)-1], "no interval wait after the last image")

	// Credentials forwarded, display selected per image, confirmation
	// text persisted per image.
	assert.Equal(t, "alice", h.sess.typed[loginUsernameField])
	assert.Equal(t, "hunter2", h.sess.typed[loginPasswordField])
	assert.Equal(t, []string{"12", "12"}, h.sess.selects)
	assert.Len(t, h.store.logs, 2)

	// Cleanup: session closed, every file deleted exactly once.
	assert.Equal(t, 1, h.sess.closeCount)
	assert.Equal(t, []string{"/data/uploads/a.png", "/data/uploads/b.png"}, h.removed)
}

func TestUploaderNoIntervalNoWait(t *testing.T) {
	h := newHarness(t, UploaderConfig{})
	job := testJob(
		domain.Image{StoragePath: "/data/a.png", DisplayName: "A"},
		domain.Image{StoragePath: "/data/b.png", DisplayName: "B"},
	)

	h.uploader.Run(context.Background(), job)

	require.True(t, h.store.completed)
	for _, d := range h.sleeps {
		assert.Less(t, d, time.Minute, "no interval sleeps expected")
	}
}

func TestUploaderAuthenticationFailureIsFatal(t *testing.T) {
	h := newHarness(t, UploaderConfig{})
	h.sess.loginErr = errors.New("dashboard never appeared")
	job := testJob(domain.Image{StoragePath: "/data/a.png", DisplayName: "A"})

	h.uploader.Run(context.Background(), job)

	require.True(t, h.store.failed)
	assert.Contains(t, h.store.failedMsg, "authentication failed")
	assert.Empty(t, h.sess.uploads, "no upload attempts after failed login")
	assert.Equal(t, 0, h.store.checks)

	// Cleanup still runs.
	assert.Equal(t, 1, h.sess.closeCount)
	assert.Equal(t, []string{"/data/a.png"}, h.removed)
}

func TestUploaderDisplaySelectorNotFound(t *testing.T) {
	h := newHarness(t, UploaderConfig{})
	h.sess.displayErr = fmt.Errorf("element %q not visible within 15s", displaySelect)
	job := testJob(domain.Image{StoragePath: "/data/a.png", DisplayName: "A"})

	h.uploader.Run(context.Background(), job)

	require.True(t, h.store.failed)
	assert.Contains(t, h.store.failedMsg, "display selector not found")
	assert.Empty(t, h.sess.uploads)
}

func TestUploaderClickRetries(t *testing.T) {
	notInteractable := fmt.Errorf("%w: %s", portal.ErrNotInteractable, uploadButton)

	t.Run("nine failures then success proceeds", func(t *testing.T) {
		h := newHarness(t, UploaderConfig{})
		for i := 0; i < 9; i++ {
			h.sess.clickQueue = append(h.sess.clickQueue, notInteractable)
		}
		h.sess.clickQueue = append(h.sess.clickQueue, nil)
		job := testJob(domain.Image{StoragePath: "/data/a.png", DisplayName: "A"})

		h.uploader.Run(context.Background(), job)

		require.True(t, h.store.completed, "failure: %q", h.store.failedMsg)

		retrySleeps := 0
		for _, d := range h.sleeps {
			if d == time.Second {
				retrySleeps++
			}
		}
		assert.Equal(t, 9, retrySleeps)
	})

	t.Run("ten failures exhausts the bound", func(t *testing.T) {
		h := newHarness(t, UploaderConfig{})
		for i := 0; i < 10; i++ {
			h.sess.clickQueue = append(h.sess.clickQueue, notInteractable)
		}
		job := testJob(domain.Image{StoragePath: "/data/a.png", DisplayName: "A"})

		h.uploader.Run(context.Background(), job)

		require.True(t, h.store.failed)
		assert.Contains(t, h.store.failedMsg, "not clickable")
		assert.Contains(t, h.store.failedMsg, "layout may have changed")
	})

	t.Run("other click failures propagate immediately", func(t *testing.T) {
		h := newHarness(t, UploaderConfig{})
		h.sess.clickQueue = []error{errors.New("target crashed")}
		job := testJob(domain.Image{StoragePath: "/data/a.png", DisplayName: "A"})

		h.uploader.Run(context.Background(), job)

		require.True(t, h.store.failed)

		// Exactly one click attempt, no retry sleeps at 1s.
		for _, d := range h.sleeps {
			assert.NotEqual(t, time.Second, d)
		}
	})
}

func TestUploaderConfirmationTimeout(t *testing.T) {
	h := newHarness(t, UploaderConfig{ConfirmationTimeout: time.Nanosecond})
	h.sess.confirmNever = true
	job := testJob(domain.Image{StoragePath: "/data/a.png", DisplayName: "A"})

	h.uploader.Run(context.Background(), job)

	require.True(t, h.store.failed)
	assert.Contains(t, h.store.failedMsg, "no upload confirmation within")
}

func TestUploaderConfirmationFailureKeyword(t *testing.T) {
	tests := []struct {
		name string
		text string
		ok   bool
	}{
		{"explicit error", "ERROR: unsupported resolution", false},
		{"failed keyword", "Upload Failed for a.png", false},
		{"mixed case", "upload eRrOr", false},
		{"success text", "a.png pushed to display OK", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, UploaderConfig{})
			h.sess.confirmText = tt.text
			job := testJob(domain.Image{StoragePath: "/data/a.png", DisplayName: "A"})

			h.uploader.Run(context.Background(), job)

			if tt.ok {
				assert.True(t, h.store.completed)
			} else {
				require.True(t, h.store.failed)
				assert.Contains(t, h.store.failedMsg, "portal reported an upload problem")
			}

			// The raw confirmation text is persisted either way.
			require.Len(t, h.store.logs, 1)
			assert.Equal(t, tt.text, h.store.logs[0])
		})
	}
}

func TestUploaderCancellationBetweenImages(t *testing.T) {
	h := newHarness(t, UploaderConfig{})
	h.store.statuses = []string{
		domain.JobStatusRunning,
		domain.JobStatusCancelled,
	}
	job := testJob(
		domain.Image{StoragePath: "/data/a.png", DisplayName: "A"},
		domain.Image{StoragePath: "/data/b.png", DisplayName: "B"},
	)

	h.uploader.Run(context.Background(), job)

	// The worker stops without writing a terminal status of its own.
	assert.False(t, h.store.completed)
	assert.False(t, h.store.failed)
	assert.Equal(t, []string{"/data/a.png"}, h.sess.uploads)

	// Cleanup still runs for every referenced file.
	assert.Equal(t, []string{"/data/a.png", "/data/b.png"}, h.removed)
	assert.Equal(t, 1, h.sess.closeCount)
}

func TestUploaderCycleRestartsAndObservesCancellation(t *testing.T) {
	h := newHarness(t, UploaderConfig{})
	// Two full images of cycle one, then cancelled at the checkpoint
	// before cycle two's first image.
	h.store.statuses = []string{
		domain.JobStatusRunning,
		domain.JobStatusRunning,
		domain.JobStatusCancelled,
	}
	job := testJob(
		domain.Image{StoragePath: "/data/a.png", DisplayName: "A"},
		domain.Image{StoragePath: "/data/b.png", DisplayName: "B"},
	)
	job.Cycle = true

	h.uploader.Run(context.Background(), job)

	assert.False(t, h.store.completed)
	assert.False(t, h.store.failed)
	assert.Equal(t, 3, h.store.checks)
	assert.Equal(t, []string{"/data/a.png", "/data/b.png"}, h.sess.uploads,
		"no upload attempts after the cancellation checkpoint")
}

func TestUploaderCycleWaitsAfterLastImage(t *testing.T) {
	h := newHarness(t, UploaderConfig{})
	h.store.statuses = []string{
		domain.JobStatusRunning,
		domain.JobStatusCancelled,
	}
	job := testJob(domain.Image{StoragePath: "/data/a.png", DisplayName: "A"})
	job.Cycle = true
	job.IntervalMinutes = 2

	h.uploader.Run(context.Background(), job)

	// A cycling job waits even after its last image.
	assert.Contains(t, h.sleeps, 2*time.Minute)
}

func TestUploaderSessionOpenFailure(t *testing.T) {
	h := newHarness(t, UploaderConfig{})
	h.uploader.dial = func(ctx context.Context) (portal.Session, error) {
		return nil, errors.New("chrome not found")
	}
	job := testJob(domain.Image{StoragePath: "/data/a.png", DisplayName: "A"})

	h.uploader.Run(context.Background(), job)

	require.True(t, h.store.failed)
	assert.Contains(t, h.store.failedMsg, "failed to open browser session")
	assert.Equal(t, []string{"/data/a.png"}, h.removed)
}

func TestFailureMessage(t *testing.T) {
	clickErr := fmt.Errorf("%w after 10 attempts", domain.ErrSubmitNotClickable)
	msg := failureMessage(clickErr)
	assert.Contains(t, msg, "not clickable")

	wrapped := fmt.Errorf("failed to click the upload button: boom")
	assert.Contains(t, failureMessage(wrapped), "layout may have changed")

	other := errors.New("display selector not found")
	assert.Equal(t, "Upload failed: display selector not found", failureMessage(other))
}
