package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Ronitkothari22/distributed-video-processing/internal/domain/entity"
)

type StateStore interface {
	Create(ctx context.Context, fileID, clientID string) (*entity.Job, error)
	Get(ctx context.Context, fileID string) (*entity.Job, error)
	ApplyStatus(ctx context.Context, fileID string, pt entity.ProcessType, status entity.Status, progress int, errMsg *string) (*entity.Job, error)
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)
}

// ClientNotifier pushes a payload to a client's live connection if one is
// registered. Delivery is best effort: absent connections report
// delivered=false with no error.
type ClientNotifier interface {
	Send(clientID string, payload any) (delivered bool, err error)
}

// StatusUseCase bridges broker-delivered status events to durable state and
// live client connections.
type StatusUseCase struct {
	Store    StateStore
	Notifier ClientNotifier
	log      *logrus.Entry
}

func NewStatusUseCase(store StateStore, notifier ClientNotifier, log *logrus.Logger) *StatusUseCase {
	return &StatusUseCase{
		Store:    store,
		Notifier: notifier,
		log:      log.WithField("component", "status_router"),
	}
}

// HandleStatus processes one raw status message from the status queue. A
// malformed or unknown-typed message is logged under the unknown sentinel
// and reported as handled so it is acknowledged; one bad message must never
// stop the pipeline. A store failure is returned so the message is
// redelivered.
func (u *StatusUseCase) HandleStatus(ctx context.Context, body []byte) error {
	event, err := entity.DecodeStatusEvent(body)
	switch {
	case errors.Is(err, entity.ErrMalformedMessage), errors.Is(err, entity.ErrUnknownEventType):
		u.log.WithError(err).WithField("file_id", entity.UnknownID).Error("dropping undeliverable status message")
		return nil
	case err != nil:
		u.log.WithError(err).WithField("file_id", entity.UnknownID).Error("dropping undecodable status message")
		return nil
	}

	pt := event.ProcessType()
	job, err := u.Store.ApplyStatus(ctx, event.FileID, pt, event.Status, event.Progress, event.Error)
	if err != nil {
		return err
	}

	u.log.WithFields(logrus.Fields{
		"file_id":      event.FileID,
		"process_type": pt,
		"status":       event.Status,
		"progress":     event.Progress,
	}).Info("status applied")

	delivered, err := u.Notifier.Send(job.ClientID, entity.NewStatusNotification(event))
	if err != nil {
		// half-closed connection; the update is durable and pollable
		u.log.WithError(err).WithField("client_id", job.ClientID).Warn("live push failed")
	} else if delivered {
		u.log.WithField("client_id", job.ClientID).Debug("status pushed to client")
	}
	return nil
}

// Job returns the full tracked state for a file id.
func (u *StatusUseCase) Job(ctx context.Context, fileID string) (*entity.Job, error) {
	return u.Store.Get(ctx, fileID)
}

// ProcessStatus returns one pipeline's state for a file id.
func (u *StatusUseCase) ProcessStatus(ctx context.Context, fileID string, pt entity.ProcessType) (*entity.ProcessState, error) {
	job, err := u.Store.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return job.State(pt), nil
}
