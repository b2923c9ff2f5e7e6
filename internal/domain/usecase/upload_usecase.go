package usecase

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Ronitkothari22/distributed-video-processing/internal/domain/entity"
)

type TaskPublisher interface {
	PublishTask(ctx context.Context, msg entity.TaskMessage) error
}

type Storage interface {
	// Save stores the upload under name and returns the locator workers use
	// to fetch it.
	Save(ctx context.Context, name string, r io.Reader) (string, error)
}

var supportedVideoFormats = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".webm": true,
	".wmv": true, ".flv": true, ".m4v": true, ".3gp": true,
}

var ErrUnsupportedFormat = fmt.Errorf("unsupported video format")

// UploadUseCase accepts an upload, records its initial job state, and
// dispatches the task to every worker type via the task exchange.
type UploadUseCase struct {
	Store     StateStore
	Storage   Storage
	Publisher TaskPublisher
	Notifier  ClientNotifier
	log       *logrus.Entry
}

func NewUploadUseCase(store StateStore, storage Storage, pub TaskPublisher, notifier ClientNotifier, log *logrus.Logger) *UploadUseCase {
	return &UploadUseCase{
		Store:     store,
		Storage:   storage,
		Publisher: pub,
		Notifier:  notifier,
		log:       log.WithField("component", "upload"),
	}
}

// Submit stores the file, creates the job with both pipelines pending, and
// publishes the task. A publish failure after reconnect exhaustion is
// returned to the caller as a submission failure; the stored file and job
// record are left in place for a later retry with a fresh id.
func (u *UploadUseCase) Submit(ctx context.Context, clientID, filename string, file io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !supportedVideoFormats[ext] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	fileID := uuid.New().String()
	storedName := fileID + ext

	locator, err := u.Storage.Save(ctx, storedName, file)
	if err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}

	if _, err := u.Store.Create(ctx, fileID, clientID); err != nil {
		return "", fmt.Errorf("create job state: %w", err)
	}

	task := entity.TaskMessage{
		FileID:    fileID,
		Filepath:  locator,
		Filename:  storedName,
		ClientID:  clientID,
		Timestamp: time.Now().UTC(),
	}
	if err := u.Publisher.PublishTask(ctx, task); err != nil {
		return "", fmt.Errorf("queue video for processing: %w", err)
	}

	u.log.WithFields(logrus.Fields{"file_id": fileID, "client_id": clientID}).Info("task published")

	// courtesy push; correctness does not depend on it
	if clientID != "" {
		note := entity.UploadNotification{
			Type:      "upload_status",
			FileID:    fileID,
			Status:    "uploaded",
			Message:   "Video uploaded successfully",
			Timestamp: time.Now().UTC(),
		}
		if _, err := u.Notifier.Send(clientID, note); err != nil {
			u.log.WithError(err).WithField("client_id", clientID).Warn("upload notification failed")
		}
	}

	return fileID, nil
}
