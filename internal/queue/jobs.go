package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// InviteRecipientTask is scheduled once per email recipient each time a
	// document is sent.
	InviteRecipientTask = "document:invite"

	maxRetry    = 5
	taskTimeout = time.Minute
)

// InvitationPayload is serialized into the task payload so the worker can
// render the email without reading the database.
type InvitationPayload struct {
	DocumentID    string `json:"document_id"`
	DocumentTitle string `json:"document_title"`
	RecipientID   string `json:"recipient_id"`
	RecipientName string `json:"recipient_name"`
	Email         string `json:"email"`
	SigningURL    string `json:"signing_url"`
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewInvitationTask builds the asynq task for one invitation.
func NewInvitationTask(payload InvitationPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(InviteRecipientTask, data, asynq.MaxRetry(maxRetry), asynq.Timeout(taskTimeout)), nil
}

// EnqueueInvitation enqueues an invitation delivery job.
func EnqueueInvitation(ctx context.Context, client Enqueuer, payload InvitationPayload) error {
	task, err := NewInvitationTask(payload)
	if err != nil {
		return err
	}
	if _, err := client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue invitation for %s: %w", payload.RecipientID, err)
	}
	return nil
}

// DecodeInvitation parses a task payload produced by NewInvitationTask.
func DecodeInvitation(task *asynq.Task) (InvitationPayload, error) {
	var p InvitationPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	if p.Email == "" || p.SigningURL == "" {
		return p, fmt.Errorf("invitation payload missing email or link")
	}
	return p, nil
}
