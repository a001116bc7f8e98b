package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func TestEnqueueInvitationRoundTrip(t *testing.T) {
	q := &fakeEnqueuer{}
	in := InvitationPayload{
		DocumentID:    "doc-1",
		DocumentTitle: "Lease",
		RecipientID:   "r1",
		RecipientName: "Ann",
		Email:         "ann@example.com",
		SigningURL:    "https://dokey.test/sign/doc-1",
	}
	require.NoError(t, EnqueueInvitation(context.Background(), q, in))
	require.Len(t, q.tasks, 1)
	assert.Equal(t, InviteRecipientTask, q.tasks[0].Type())

	out, err := DecodeInvitation(q.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEnqueueInvitationError(t *testing.T) {
	q := &fakeEnqueuer{err: errors.New("redis down")}
	err := EnqueueInvitation(context.Background(), q, InvitationPayload{RecipientID: "r1"})
	assert.ErrorContains(t, err, "redis down")
}

func TestDecodeInvitationRejectsIncomplete(t *testing.T) {
	_, err := DecodeInvitation(asynq.NewTask(InviteRecipientTask, []byte("{")))
	assert.Error(t, err)
	_, err = DecodeInvitation(asynq.NewTask(InviteRecipientTask, []byte(`{"email":"a@b.c"}`)))
	assert.Error(t, err)
}
