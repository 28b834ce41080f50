package intake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dtbui/signpush/internal/worker/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobCreator struct {
	created []*domain.Job
	err     error
}

func (f *fakeJobCreator) CreateJob(ctx context.Context, job *domain.Job) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, job)
	return nil
}

func newTestConsumer(store JobCreator) *Consumer {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Consumer{
		logger:      log,
		store:       store,
		consumerTag: "test-intake",
	}
}

const validMessage = `{
	"user_id": "user-1",
	"portal_username": "alice",
	"portal_password": "hunter2",
	"images": [{"storage_path": "/data/a.png", "display_name": "A"}],
	"display_target": "12",
	"interval_minutes": 5,
	"cycle": true
}`

func TestHandleValidMessage(t *testing.T) {
	store := &fakeJobCreator{}
	c := newTestConsumer(store)

	requeue, err := c.handle(context.Background(), []byte(validMessage))
	require.NoError(t, err)
	assert.False(t, requeue)

	require.Len(t, store.created, 1)
	job := store.created[0]
	_, uuidErr := uuid.Parse(job.JobID)
	assert.NoError(t, uuidErr, "job_id should be a generated UUID")
	assert.Equal(t, "user-1", job.UserID)
	assert.Equal(t, "alice", job.PortalUsername)
	assert.Equal(t, "12", job.DisplayTarget)
	assert.Equal(t, 5, job.IntervalMinutes)
	assert.True(t, job.Cycle)
	require.Len(t, job.Images, 1)
	assert.Equal(t, "/data/a.png", job.Images[0].StoragePath)
}

func TestHandleMalformedMessage(t *testing.T) {
	store := &fakeJobCreator{}
	c := newTestConsumer(store)

	requeue, err := c.handle(context.Background(), []byte(`{not json`))
	require.Error(t, err)
	assert.False(t, requeue, "redelivery cannot fix a malformed message")
	assert.Empty(t, store.created)
}

func TestHandleInvalidMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing user_id", `{"portal_username":"a","portal_password":"b","images":[{"storage_path":"/x","display_name":"X"}],"display_target":"1"}`},
		{"missing credentials", `{"user_id":"u","images":[{"storage_path":"/x","display_name":"X"}],"display_target":"1"}`},
		{"no images", `{"user_id":"u","portal_username":"a","portal_password":"b","images":[],"display_target":"1"}`},
		{"image missing fields", `{"user_id":"u","portal_username":"a","portal_password":"b","images":[{"storage_path":"/x"}],"display_target":"1"}`},
		{"missing display_target", `{"user_id":"u","portal_username":"a","portal_password":"b","images":[{"storage_path":"/x","display_name":"X"}]}`},
		{"negative interval", `{"user_id":"u","portal_username":"a","portal_password":"b","images":[{"storage_path":"/x","display_name":"X"}],"display_target":"1","interval_minutes":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeJobCreator{}
			c := newTestConsumer(store)

			requeue, err := c.handle(context.Background(), []byte(tt.body))
			require.Error(t, err)
			assert.False(t, requeue)
			assert.Empty(t, store.created)
		})
	}
}

func TestHandleStoreFailureRequeues(t *testing.T) {
	store := &fakeJobCreator{err: errors.New("connection refused")}
	c := newTestConsumer(store)

	requeue, err := c.handle(context.Background(), []byte(validMessage))
	require.Error(t, err)
	assert.True(t, requeue, "transient store failures are retried via redelivery")
}
