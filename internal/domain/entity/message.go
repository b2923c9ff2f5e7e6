package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TaskMessage is the wire payload published to the task exchange. It is
// immutable once published.
type TaskMessage struct {
	FileID    string    `json:"file_id"`
	Filepath  string    `json:"filepath"`
	Filename  string    `json:"filename"`
	ClientID  string    `json:"client_id"`
	Timestamp time.Time `json:"timestamp"`
}

const statusTypeSuffix = "_status"

// StatusEvent is the wire payload workers publish to the status exchange.
// Type is "<process>_status". Events carry no sequence token; consumers apply
// them last-wins.
type StatusEvent struct {
	Type      string    `json:"type"`
	FileID    string    `json:"file_id"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Error     *string   `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStatusEvent builds a status event for the given pipeline. errMsg may be
// nil for non-failure statuses.
func NewStatusEvent(pt ProcessType, fileID string, status Status, progress int, errMsg *string) StatusEvent {
	return StatusEvent{
		Type:      string(pt) + statusTypeSuffix,
		FileID:    fileID,
		Status:    status,
		Progress:  progress,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}
}

// ProcessType derives the pipeline from the event's wire type. Unrecognized
// process names coerce to video enhancement.
func (e StatusEvent) ProcessType() ProcessType {
	return ParseProcessType(strings.TrimSuffix(e.Type, statusTypeSuffix))
}

var (
	ErrMalformedMessage = errors.New("malformed status message")
	ErrUnknownEventType = errors.New("unknown status event type")
)

// DecodeStatusEvent parses a status message body into its explicit outcome:
// a valid event, ErrMalformedMessage (unparseable or missing file_id), or
// ErrUnknownEventType. Callers must handle all three before mutating state.
func DecodeStatusEvent(body []byte) (StatusEvent, error) {
	var e StatusEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return StatusEvent{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	switch e.Type {
	case string(ProcessVideoEnhancement) + statusTypeSuffix,
		string(ProcessMetadataExtraction) + statusTypeSuffix:
	default:
		return StatusEvent{}, fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}
	if e.FileID == "" {
		return StatusEvent{}, fmt.Errorf("%w: missing file_id", ErrMalformedMessage)
	}
	return e, nil
}

// StatusNotification is the payload pushed to a live client connection.
type StatusNotification struct {
	Type        string      `json:"type"`
	FileID      string      `json:"file_id"`
	ProcessType ProcessType `json:"process_type"`
	Status      Status      `json:"status"`
	Progress    int         `json:"progress"`
	Error       *string     `json:"error"`
	Timestamp   time.Time   `json:"timestamp"`
}

// NewStatusNotification normalizes a status event into the client-facing
// push payload.
func NewStatusNotification(e StatusEvent) StatusNotification {
	return StatusNotification{
		Type:        "status_update",
		FileID:      e.FileID,
		ProcessType: e.ProcessType(),
		Status:      e.Status,
		Progress:    e.Progress,
		Error:       e.Error,
		Timestamp:   time.Now().UTC(),
	}
}

// UploadNotification is the payload pushed when an upload has been accepted
// and queued.
type UploadNotification struct {
	Type      string    `json:"type"`
	FileID    string    `json:"file_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
