package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ronitkothari22/distributed-video-processing/internal/domain/entity"
)

type fakeStorage struct {
	saved   map[string]string
	saveErr error
}

func (f *fakeStorage) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	data, _ := io.ReadAll(r)
	if f.saved == nil {
		f.saved = make(map[string]string)
	}
	f.saved[name] = string(data)
	return "/uploads/" + name, nil
}

type fakePublisher struct {
	tasks      []entity.TaskMessage
	publishErr error
}

func (f *fakePublisher) PublishTask(ctx context.Context, msg entity.TaskMessage) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.tasks = append(f.tasks, msg)
	return nil
}

func TestSubmit(t *testing.T) {
	store := newFakeStore()
	stg := &fakeStorage{}
	pub := &fakePublisher{}
	notifier := &fakeNotifier{registered: map[string]bool{"client-1": true}}
	uc := NewUploadUseCase(store, stg, pub, notifier, logrus.New())

	fileID, err := uc.Submit(context.Background(), "client-1", "holiday.mp4", strings.NewReader("video-bytes"))
	require.NoError(t, err)
	_, err = uuid.Parse(fileID)
	require.NoError(t, err)

	job, err := store.Get(context.Background(), fileID)
	require.NoError(t, err)
	assert.Equal(t, "client-1", job.ClientID)
	assert.Equal(t, entity.StatusPending, job.VideoEnhancement.Status)

	require.Len(t, pub.tasks, 1)
	task := pub.tasks[0]
	assert.Equal(t, fileID, task.FileID)
	assert.Equal(t, fileID+".mp4", task.Filename)
	assert.Equal(t, "/uploads/"+fileID+".mp4", task.Filepath)
	assert.Equal(t, "client-1", task.ClientID)

	require.Len(t, notifier.sent, 1)
	note, ok := notifier.sent[0].(entity.UploadNotification)
	require.True(t, ok)
	assert.Equal(t, "upload_status", note.Type)
	assert.Equal(t, fileID, note.FileID)
}

func TestSubmitRejectsUnsupportedFormat(t *testing.T) {
	uc := NewUploadUseCase(newFakeStore(), &fakeStorage{}, &fakePublisher{}, &fakeNotifier{}, logrus.New())

	_, err := uc.Submit(context.Background(), "c1", "document.pdf", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestSubmitPublishFailureIsSubmissionFailure(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{publishErr: errors.New("broker unreachable")}
	uc := NewUploadUseCase(store, &fakeStorage{}, pub, &fakeNotifier{}, logrus.New())

	_, err := uc.Submit(context.Background(), "c1", "clip.mov", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestSubmitStorageFailure(t *testing.T) {
	stg := &fakeStorage{saveErr: errors.New("disk full")}
	pub := &fakePublisher{}
	uc := NewUploadUseCase(newFakeStore(), stg, pub, &fakeNotifier{}, logrus.New())

	_, err := uc.Submit(context.Background(), "c1", "clip.webm", strings.NewReader("x"))
	require.Error(t, err)
	assert.Empty(t, pub.tasks)
}

func TestSubmitWithoutClientSkipsNotification(t *testing.T) {
	notifier := &fakeNotifier{registered: map[string]bool{}}
	uc := NewUploadUseCase(newFakeStore(), &fakeStorage{}, &fakePublisher{}, notifier, logrus.New())

	_, err := uc.Submit(context.Background(), "", "clip.mkv", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Empty(t, notifier.sent)
}
