package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/dokey/internal/mail"
	"github.com/dharsanguruparan/dokey/internal/queue"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	mailer mail.Mailer
	log    logrus.FieldLogger
}

// NewProcessor constructs a worker processor.
func NewProcessor(mailer mail.Mailer, log logrus.FieldLogger) *Processor {
	return &Processor{mailer: mailer, log: log}
}

// Handler registers the invitation job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.InviteRecipientTask, p.handleInvite)
	return mux
}

func (p *Processor) handleInvite(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeInvitation(task)
	if err != nil {
		// A malformed payload will never succeed.
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log := p.log.WithFields(logrus.Fields{
		"document_id":  payload.DocumentID,
		"recipient_id": payload.RecipientID,
	})
	msg, err := mail.RenderInvitation(payload.Email, mail.Invitation{
		RecipientName: payload.RecipientName,
		DocumentTitle: payload.DocumentTitle,
		SigningURL:    payload.SigningURL,
	})
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := p.mailer.Send(ctx, msg); err != nil {
		log.WithError(err).Warn("invitation delivery failed")
		return err
	}
	log.Info("invitation delivered")
	return nil
}
