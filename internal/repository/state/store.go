package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/Ronitkothari22/distributed-video-processing/internal/domain/entity"
)

// FileStore is a durable mapping from file id to job state backed by a
// single JSON file. Every mutation persists synchronously before returning,
// using a write-temp-then-rename protocol so a crash at any point leaves the
// previous durable version intact.
type FileStore struct {
	path string
	log  *logrus.Entry

	mu   sync.Mutex
	jobs map[string]*entity.Job

	rename func(oldpath, newpath string) error
}

func NewFileStore(path string, log *logrus.Logger) *FileStore {
	return &FileStore{
		path:   path,
		log:    log.WithField("component", "state"),
		jobs:   make(map[string]*entity.Job),
		rename: os.Rename,
	}
}

// Load reads the persisted mapping under a shared lock. A missing file or a
// decode failure resets to an empty mapping with a warning; refusing to
// start would cost more than the lost history.
func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		s.jobs = make(map[string]*entity.Job)
		return nil
	}

	lock := flock.New(s.path)
	if err := lock.RLock(); err != nil {
		s.log.WithError(err).Warn("could not lock state file, starting empty")
		s.jobs = make(map[string]*entity.Job)
		return nil
	}
	defer lock.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil || len(data) == 0 {
		if err != nil {
			s.log.WithError(err).Warn("could not read state file, starting empty")
		}
		s.jobs = make(map[string]*entity.Job)
		return nil
	}

	jobs := make(map[string]*entity.Job)
	if err := json.Unmarshal(data, &jobs); err != nil {
		s.log.WithError(err).Warn("state file corrupt, starting empty")
		s.jobs = make(map[string]*entity.Job)
		return nil
	}
	for id, job := range jobs {
		job.FileID = id
	}
	s.jobs = jobs
	s.log.WithField("jobs", len(jobs)).Info("state loaded")
	return nil
}

// save persists the full mapping. Caller holds s.mu.
//
// Protocol: serialize to a temp file in the target directory, hold an
// exclusive lock while writing and syncing it to stable storage, then
// atomically rename it over the target. A reader never observes a partial
// file.
func (s *FileStore) save() error {
	data, err := json.Marshal(s.jobs)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	lock := flock.New(tmpPath)
	if err := lock.Lock(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("lock temp state file: %w", err)
	}

	if _, err := tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if err != nil {
		lock.Unlock()
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		lock.Unlock()
		os.Remove(tmpPath)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := lock.Unlock(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("unlock temp state file: %w", err)
	}

	if err := s.rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Create inserts a new job with both process states at pending/0,
// overwriting any prior job for the same id, and persists before returning.
func (s *FileStore) Create(ctx context.Context, fileID, clientID string) (*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := entity.NewJob(fileID, clientID)
	s.jobs[fileID] = job
	if err := s.save(); err != nil {
		return nil, err
	}
	return copyJob(job), nil
}

// Get returns the job for fileID or entity.ErrJobNotFound.
func (s *FileStore) Get(ctx context.Context, fileID string) (*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[fileID]
	if !ok {
		return nil, entity.ErrJobNotFound
	}
	return copyJob(job), nil
}

// ApplyStatus updates one process state and persists. A status event for an
// unknown file id upserts a default job first; events racing ahead of the
// originating create, or referencing stale ids, must never fail the router.
// Error is cleared unless the applied status is failed.
func (s *FileStore) ApplyStatus(ctx context.Context, fileID string, pt entity.ProcessType, status entity.Status, progress int, errMsg *string) (*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[fileID]
	if !ok {
		job = entity.NewJob(fileID, "")
		s.jobs[fileID] = job
		s.log.WithField("file_id", fileID).Warn("status event for unknown job, created default state")
	}

	if status != entity.StatusFailed {
		errMsg = nil
	}
	ps := job.State(pt)
	ps.Status = status
	ps.Progress = progress
	ps.Error = errMsg
	ps.LastUpdated = time.Now().UTC()

	if err := s.save(); err != nil {
		return nil, err
	}
	return copyJob(job), nil
}

// Sweep removes every job older than maxAge and persists only when at least
// one job was removed. Returns the number of removed jobs.
func (s *FileStore) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	removed := 0
	for id, job := range s.jobs {
		if job.Age(now) > maxAge {
			delete(s.jobs, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.save(); err != nil {
		return removed, err
	}
	s.log.WithField("removed", removed).Info("swept expired jobs")
	return removed, nil
}

func copyJob(job *entity.Job) *entity.Job {
	clone := *job
	return &clone
}
