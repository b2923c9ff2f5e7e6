package entity

import (
	"errors"
	"time"
)

// UnknownID is the sentinel used when a message arrives without a usable
// file or client identifier.
const UnknownID = "unknown"

var ErrJobNotFound = errors.New("job not found")

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ProcessType names one of the two processing pipelines a job goes through.
type ProcessType string

const (
	ProcessVideoEnhancement   ProcessType = "video_enhancement"
	ProcessMetadataExtraction ProcessType = "metadata_extraction"
)

// ParseProcessType maps a wire string onto a known process type. Anything
// unrecognized is coerced to video enhancement so that a status event with a
// bad type still lands somewhere instead of being rejected.
func ParseProcessType(s string) ProcessType {
	if s == string(ProcessMetadataExtraction) {
		return ProcessMetadataExtraction
	}
	return ProcessVideoEnhancement
}

type ProcessState struct {
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	Error       *string   `json:"error"`
	LastUpdated time.Time `json:"last_updated"`
}

// Job tracks one uploaded file through both processing pipelines. The JSON
// shape is also the persisted state-file format, keyed externally by file id.
type Job struct {
	FileID             string       `json:"-"`
	ClientID           string       `json:"client_id"`
	CreatedAt          time.Time    `json:"created_at"`
	VideoEnhancement   ProcessState `json:"video_enhancement"`
	MetadataExtraction ProcessState `json:"metadata_extraction"`
}

// NewJob returns a Job with both process states at pending/0. An empty
// client id is stored as the unknown sentinel.
func NewJob(fileID, clientID string) *Job {
	if clientID == "" {
		clientID = UnknownID
	}
	now := time.Now().UTC()
	initial := ProcessState{Status: StatusPending, Progress: 0, LastUpdated: now}
	return &Job{
		FileID:             fileID,
		ClientID:           clientID,
		CreatedAt:          now,
		VideoEnhancement:   initial,
		MetadataExtraction: initial,
	}
}

// State returns the process state record for the given pipeline.
func (j *Job) State(pt ProcessType) *ProcessState {
	if pt == ProcessMetadataExtraction {
		return &j.MetadataExtraction
	}
	return &j.VideoEnhancement
}

// Age reports how long ago the job was created.
func (j *Job) Age(now time.Time) time.Duration {
	return now.Sub(j.CreatedAt)
}
