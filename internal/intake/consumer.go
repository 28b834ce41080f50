// Package intake accepts job-creation messages from the chat-ops bridge
// over RabbitMQ. Messages carry the same job shape as the HTTP intake and
// land in the same QUEUED state; the dispatcher treats both identically.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dtbui/signpush/internal/worker/domain"
	"github.com/dtbui/signpush/shared/rabbitmq"
	"github.com/google/uuid"
)

// JobCreator is the insert slice of the worker job store.
type JobCreator interface {
	CreateJob(ctx context.Context, job *domain.Job) error
}

// Consumer drains job-creation messages from the queue.
type Consumer struct {
	logger      *slog.Logger
	rabbit      *rabbitmq.Client
	store       JobCreator
	consumerTag string
}

// NewConsumer creates an intake consumer.
func NewConsumer(logger *slog.Logger, rabbit *rabbitmq.Client, store JobCreator) *Consumer {
	return &Consumer{
		logger:      logger,
		rabbit:      rabbit,
		store:       store,
		consumerTag: "signpush-intake-" + uuid.New().String()[:8],
	}
}

// jobMessage mirrors the HTTP create-job request body.
type jobMessage struct {
	UserID          string         `json:"user_id"`
	PortalUsername  string         `json:"portal_username"`
	PortalPassword  string         `json:"portal_password"`
	Images          []domain.Image `json:"images"`
	DisplayTarget   string         `json:"display_target"`
	IntervalMinutes int            `json:"interval_minutes"`
	Cycle           bool           `json:"cycle"`
}

// Run consumes until ctx is cancelled or the delivery channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.rabbit.Consume(c.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start intake consumer: %w", err)
	}

	c.logger.Info("Intake consumer started",
		slog.String("consumer_tag", c.consumerTag),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Intake consumer stopped")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("Intake delivery channel closed")
				return nil
			}

			requeue, err := c.handle(ctx, delivery.Body)
			if err != nil {
				c.logger.Error("Failed to handle intake message",
					slog.Bool("requeue", requeue),
					slog.String("error", err.Error()),
				)
				if nackErr := delivery.Nack(false, requeue); nackErr != nil {
					c.logger.Error("Failed to NACK intake message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			if ackErr := delivery.Ack(false); ackErr != nil {
				c.logger.Error("Failed to ACK intake message",
					slog.String("error", ackErr.Error()),
				)
			}
		}
	}
}

// handle validates one message and inserts a QUEUED job. The returned
// requeue flag is false for malformed or invalid messages (redelivery
// cannot fix them) and true for store failures.
func (c *Consumer) handle(ctx context.Context, body []byte) (requeue bool, err error) {
	var msg jobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return false, fmt.Errorf("malformed job message: %w", err)
	}
	if err := validate(&msg); err != nil {
		return false, fmt.Errorf("invalid job message: %w", err)
	}

	job := &domain.Job{
		JobID:           uuid.New().String(),
		UserID:          msg.UserID,
		PortalUsername:  msg.PortalUsername,
		PortalPassword:  msg.PortalPassword,
		Images:          msg.Images,
		DisplayTarget:   msg.DisplayTarget,
		IntervalMinutes: msg.IntervalMinutes,
		Cycle:           msg.Cycle,
	}

	if err := c.store.CreateJob(ctx, job); err != nil {
		return true, fmt.Errorf("failed to create job from intake: %w", err)
	}

	c.logger.Info("Job created from chat intake",
		slog.String("job_id", job.JobID),
		slog.String("user_id", job.UserID),
		slog.Int("images", len(job.Images)),
	)
	return false, nil
}

func validate(msg *jobMessage) error {
	if msg.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if msg.PortalUsername == "" || msg.PortalPassword == "" {
		return fmt.Errorf("portal credentials are required")
	}
	if len(msg.Images) == 0 {
		return fmt.Errorf("at least one image is required")
	}
	for i, img := range msg.Images {
		if img.StoragePath == "" || img.DisplayName == "" {
			return fmt.Errorf("image %d is missing storage_path or display_name", i)
		}
	}
	if msg.DisplayTarget == "" {
		return fmt.Errorf("display_target is required")
	}
	if msg.IntervalMinutes < 0 {
		return fmt.Errorf("interval_minutes must not be negative")
	}
	return nil
}
