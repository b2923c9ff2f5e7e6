package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Ronitkothari22/distributed-video-processing/internal/domain/entity"
)

// ProgressFunc reports intermediate progress (0-100) back through the
// status-publishing path.
type ProgressFunc func(progress int)

// Result is what a processing function returns for one task.
type Result struct {
	Status     entity.Status // completed or failed
	OutputPath string
	Error      string
}

// ProcessFunc performs the actual work on a locally materialized input file.
// The worker runtime treats it as an opaque unit: its internals never affect
// the orchestration contract.
type ProcessFunc func(ctx context.Context, task entity.TaskMessage, inputPath string, report ProgressFunc) Result

type Broker interface {
	ConsumeTasks(ctx context.Context, queue string, handler func(ctx context.Context, body []byte) error) error
	PublishStatus(ctx context.Context, event entity.StatusEvent) error
}

type Storage interface {
	// Fetch materializes the task's payload locator as a local file path.
	Fetch(ctx context.Context, locator string) (path string, cleanup func(), err error)
}

// Worker consumes one process type's task queue and publishes status events
// for every job it touches. Multiple processes of the same type compete on
// the shared queue; each task is delivered to exactly one of them.
type Worker struct {
	processType entity.ProcessType
	broker      Broker
	storage     Storage
	process     ProcessFunc
	timeout     time.Duration
	log         *logrus.Entry
}

func New(pt entity.ProcessType, broker Broker, storage Storage, process ProcessFunc, timeout time.Duration, log *logrus.Logger) *Worker {
	return &Worker{
		processType: pt,
		broker:      broker,
		storage:     storage,
		process:     process,
		timeout:     timeout,
		log:         log.WithField("worker", string(pt)),
	}
}

// QueueName is the durable queue a worker type binds to the task exchange.
func QueueName(pt entity.ProcessType) string {
	return fmt.Sprintf("%s_queue", pt)
}

// Run registers the task consumer and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.broker.ConsumeTasks(ctx, QueueName(w.processType), w.handleTask); err != nil {
		return fmt.Errorf("start consuming tasks: %w", err)
	}
	w.log.Info("worker started")
	<-ctx.Done()
	return ctx.Err()
}

// handleTask processes one delivered task. Failures are reported as failed
// status events and the message is acknowledged; redelivery would repeat the
// same failure, and the error is durably recorded server-side.
func (w *Worker) handleTask(ctx context.Context, body []byte) error {
	var task entity.TaskMessage
	if err := json.Unmarshal(body, &task); err != nil {
		w.log.WithError(err).Error("invalid task payload")
		w.publishStatus(ctx, entity.UnknownID, entity.StatusFailed, 0, "invalid message format")
		return nil
	}
	if task.FileID == "" || task.Filepath == "" {
		w.log.Error("task missing file_id or filepath")
		fileID := task.FileID
		if fileID == "" {
			fileID = entity.UnknownID
		}
		w.publishStatus(ctx, fileID, entity.StatusFailed, 0, "message must contain file_id and filepath")
		return nil
	}

	w.log.WithField("file_id", task.FileID).Info("task received")
	w.publishStatus(ctx, task.FileID, entity.StatusProcessing, 0, "")

	tctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	input, cleanup, err := w.storage.Fetch(tctx, task.Filepath)
	if err != nil {
		w.log.WithError(err).WithField("file_id", task.FileID).Error("fetch input failed")
		w.publishStatus(ctx, task.FileID, entity.StatusFailed, 0, err.Error())
		return nil
	}
	defer cleanup()

	report := func(progress int) {
		w.publishStatus(ctx, task.FileID, entity.StatusProcessing, progress, "")
	}

	res := w.process(tctx, task, input, report)
	if res.Status == entity.StatusCompleted {
		w.log.WithFields(logrus.Fields{"file_id": task.FileID, "output": res.OutputPath}).Info("task completed")
		w.publishStatus(ctx, task.FileID, entity.StatusCompleted, 100, "")
	} else {
		w.log.WithFields(logrus.Fields{"file_id": task.FileID, "error": res.Error}).Error("task failed")
		w.publishStatus(ctx, task.FileID, entity.StatusFailed, 0, res.Error)
	}
	return nil
}

func (w *Worker) publishStatus(ctx context.Context, fileID string, status entity.Status, progress int, errMsg string) {
	var ep *string
	if errMsg != "" {
		ep = &errMsg
	}
	event := entity.NewStatusEvent(w.processType, fileID, status, progress, ep)
	if err := w.broker.PublishStatus(ctx, event); err != nil {
		w.log.WithError(err).WithField("file_id", fileID).Error("publish status failed")
	}
}
