package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ronitkothari22/distributed-video-processing/internal/domain/entity"
)

type fakeBroker struct {
	events []entity.StatusEvent
}

func (f *fakeBroker) ConsumeTasks(ctx context.Context, queue string, handler func(ctx context.Context, body []byte) error) error {
	return nil
}

func (f *fakeBroker) PublishStatus(ctx context.Context, event entity.StatusEvent) error {
	f.events = append(f.events, event)
	return nil
}

type fakeFetcher struct {
	path     string
	fetchErr error
	cleaned  bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, locator string) (string, func(), error) {
	if f.fetchErr != nil {
		return "", nil, f.fetchErr
	}
	return f.path, func() { f.cleaned = true }, nil
}

func taskBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(entity.TaskMessage{
		FileID:    "f1",
		Filepath:  "/uploads/f1.mp4",
		Filename:  "f1.mp4",
		ClientID:  "c1",
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	return body
}

func newTestWorker(broker *fakeBroker, fetcher *fakeFetcher, process ProcessFunc) *Worker {
	return New(entity.ProcessVideoEnhancement, broker, fetcher, process, time.Minute, logrus.New())
}

func TestHandleTaskCompleted(t *testing.T) {
	broker := &fakeBroker{}
	fetcher := &fakeFetcher{path: "/tmp/f1.mp4"}
	process := func(ctx context.Context, task entity.TaskMessage, input string, report ProgressFunc) Result {
		assert.Equal(t, "/tmp/f1.mp4", input)
		report(50)
		return Result{Status: entity.StatusCompleted, OutputPath: "/out/enhanced_f1.mp4"}
	}

	w := newTestWorker(broker, fetcher, process)
	require.NoError(t, w.handleTask(context.Background(), taskBody(t)))

	require.Len(t, broker.events, 3)
	assert.Equal(t, entity.StatusProcessing, broker.events[0].Status)
	assert.Equal(t, 0, broker.events[0].Progress)
	assert.Equal(t, 50, broker.events[1].Progress)
	assert.Equal(t, entity.StatusCompleted, broker.events[2].Status)
	assert.Equal(t, 100, broker.events[2].Progress)
	for _, e := range broker.events {
		assert.Equal(t, "video_enhancement_status", e.Type)
		assert.Equal(t, "f1", e.FileID)
	}
	assert.True(t, fetcher.cleaned)
}

func TestHandleTaskProcessFailure(t *testing.T) {
	broker := &fakeBroker{}
	process := func(ctx context.Context, task entity.TaskMessage, input string, report ProgressFunc) Result {
		return Result{Status: entity.StatusFailed, Error: "codec not supported"}
	}

	w := newTestWorker(broker, &fakeFetcher{path: "/tmp/f1.mp4"}, process)
	require.NoError(t, w.handleTask(context.Background(), taskBody(t)))

	last := broker.events[len(broker.events)-1]
	assert.Equal(t, entity.StatusFailed, last.Status)
	require.NotNil(t, last.Error)
	assert.Equal(t, "codec not supported", *last.Error)
}

func TestHandleTaskFetchFailure(t *testing.T) {
	broker := &fakeBroker{}
	fetcher := &fakeFetcher{fetchErr: errors.New("no such file")}
	process := func(ctx context.Context, task entity.TaskMessage, input string, report ProgressFunc) Result {
		t.Fatal("process must not run without an input")
		return Result{}
	}

	w := newTestWorker(broker, fetcher, process)
	require.NoError(t, w.handleTask(context.Background(), taskBody(t)))

	last := broker.events[len(broker.events)-1]
	assert.Equal(t, entity.StatusFailed, last.Status)
}

func TestHandleTaskInvalidPayloadIsAcked(t *testing.T) {
	broker := &fakeBroker{}
	w := newTestWorker(broker, &fakeFetcher{}, nil)

	require.NoError(t, w.handleTask(context.Background(), []byte("not json")))

	require.Len(t, broker.events, 1)
	assert.Equal(t, entity.UnknownID, broker.events[0].FileID)
	assert.Equal(t, entity.StatusFailed, broker.events[0].Status)
}

func TestHandleTaskMissingFields(t *testing.T) {
	broker := &fakeBroker{}
	w := newTestWorker(broker, &fakeFetcher{}, nil)

	require.NoError(t, w.handleTask(context.Background(), []byte(`{"file_id":"f1"}`)))

	require.Len(t, broker.events, 1)
	assert.Equal(t, "f1", broker.events[0].FileID)
	assert.Equal(t, entity.StatusFailed, broker.events[0].Status)
}

func TestQueueName(t *testing.T) {
	assert.Equal(t, "video_enhancement_queue", QueueName(entity.ProcessVideoEnhancement))
	assert.Equal(t, "metadata_extraction_queue", QueueName(entity.ProcessMetadataExtraction))
}
