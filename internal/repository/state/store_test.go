package state

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ronitkothari22/distributed-video-processing/internal/domain/entity"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	log := logrus.New()
	log.SetOutput(os.Stderr)
	s := NewFileStore(filepath.Join(t.TempDir(), "states.json"), log)
	require.NoError(t, s.Load())
	return s
}

func strPtr(s string) *string { return &s }

func TestCreateThenGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "file-1", "client-1")
	require.NoError(t, err)

	job, err := s.Get(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, "client-1", job.ClientID)
	for _, ps := range []entity.ProcessState{job.VideoEnhancement, job.MetadataExtraction} {
		assert.Equal(t, entity.StatusPending, ps.Status)
		assert.Equal(t, 0, ps.Progress)
		assert.Nil(t, ps.Error)
	}
}

func TestGetUnknown(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, entity.ErrJobNotFound)
}

func TestCreateOverwritesPriorJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ApplyStatus(ctx, "file-1", entity.ProcessVideoEnhancement, entity.StatusCompleted, 100, nil)
	require.NoError(t, err)

	_, err = s.Create(ctx, "file-1", "client-2")
	require.NoError(t, err)

	job, err := s.Get(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, "client-2", job.ClientID)
	assert.Equal(t, entity.StatusPending, job.VideoEnhancement.Status)
}

func TestApplyStatusUpsertsUnknownJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.ApplyStatus(ctx, "late-file", entity.ProcessVideoEnhancement, entity.StatusProcessing, 50, nil)
	require.NoError(t, err)

	assert.Equal(t, entity.UnknownID, job.ClientID)
	assert.Equal(t, entity.StatusProcessing, job.VideoEnhancement.Status)
	assert.Equal(t, 50, job.VideoEnhancement.Progress)
	assert.Equal(t, entity.StatusPending, job.MetadataExtraction.Status)
	assert.Equal(t, 0, job.MetadataExtraction.Progress)
}

func TestApplyStatusUnknownProcessTypeCoercesToVideoEnhancement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "file-1", "client-1")
	require.NoError(t, err)

	// unrecognized process-type strings land on the enhancement pipeline
	pt := entity.ParseProcessType("thumbnail_generation")
	job, err := s.ApplyStatus(ctx, "file-1", pt, entity.StatusProcessing, 25, nil)
	require.NoError(t, err)

	assert.Equal(t, 25, job.VideoEnhancement.Progress)
	assert.Equal(t, 0, job.MetadataExtraction.Progress)
}

func TestApplyStatusErrorLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.ApplyStatus(ctx, "file-1", entity.ProcessMetadataExtraction, entity.StatusFailed, 0, strPtr("probe timed out"))
	require.NoError(t, err)
	require.NotNil(t, job.MetadataExtraction.Error)
	assert.Equal(t, "probe timed out", *job.MetadataExtraction.Error)

	// error is carried only while the last applied status is failed
	job, err = s.ApplyStatus(ctx, "file-1", entity.ProcessMetadataExtraction, entity.StatusProcessing, 10, strPtr("stale"))
	require.NoError(t, err)
	assert.Nil(t, job.MetadataExtraction.Error)
}

func TestSweep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "old", "c1")
	require.NoError(t, err)
	_, err = s.Create(ctx, "fresh", "c2")
	require.NoError(t, err)

	s.mu.Lock()
	s.jobs["old"].CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	s.jobs["fresh"].CreatedAt = time.Now().UTC().Add(-10 * time.Minute)
	s.mu.Unlock()

	removed, err := s.Sweep(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.Get(ctx, "old")
	assert.ErrorIs(t, err, entity.ErrJobNotFound)
	_, err = s.Get(ctx, "fresh")
	assert.NoError(t, err)
}

func TestSweepNothingToRemove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "fresh", "c1")
	require.NoError(t, err)

	removed, err := s.Sweep(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "states.json")
	log := logrus.New()

	s := NewFileStore(path, log)
	require.NoError(t, s.Load())
	ctx := context.Background()

	_, err := s.Create(ctx, "a", "c1")
	require.NoError(t, err)
	_, err = s.Create(ctx, "b", "c2")
	require.NoError(t, err)
	_, err = s.ApplyStatus(ctx, "a", entity.ProcessVideoEnhancement, entity.StatusProcessing, 40, nil)
	require.NoError(t, err)
	_, err = s.ApplyStatus(ctx, "b", entity.ProcessMetadataExtraction, entity.StatusFailed, 0, strPtr("boom"))
	require.NoError(t, err)

	reloaded := NewFileStore(path, log)
	require.NoError(t, reloaded.Load())

	for _, id := range []string{"a", "b"} {
		want, err := s.Get(ctx, id)
		require.NoError(t, err)
		got, err := reloaded.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want.ClientID, got.ClientID)
		assert.Equal(t, want.VideoEnhancement, got.VideoEnhancement)
		assert.Equal(t, want.MetadataExtraction, got.MetadataExtraction)
		assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	}
}

func TestLoadCorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "states.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := NewFileStore(path, logrus.New())
	require.NoError(t, s.Load())

	_, err := s.Get(context.Background(), "anything")
	assert.ErrorIs(t, err, entity.ErrJobNotFound)
}

func TestSaveAbortedBeforeRenameKeepsPreviousVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "states.json")
	log := logrus.New()

	s := NewFileStore(path, log)
	require.NoError(t, s.Load())
	_, err := s.Create(context.Background(), "a", "c1")
	require.NoError(t, err)

	// die after the temp file is written and synced, before it replaces
	// the target
	crash := errors.New("process died before rename")
	s.rename = func(oldpath, newpath string) error { return crash }

	_, err = s.Create(context.Background(), "b", "c2")
	require.ErrorIs(t, err, crash)

	// the durable file still holds only the previous version
	reloaded := NewFileStore(path, log)
	require.NoError(t, reloaded.Load())
	job, err := reloaded.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "c1", job.ClientID)
	_, err = reloaded.Get(context.Background(), "b")
	assert.ErrorIs(t, err, entity.ErrJobNotFound)
}

func TestCrashBetweenWriteAndRenameKeepsPreviousVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "states.json")
	log := logrus.New()

	s := NewFileStore(path, log)
	require.NoError(t, s.Load())
	_, err := s.Create(context.Background(), "a", "c1")
	require.NoError(t, err)

	// a crash after the temp file is written but before the rename leaves a
	// stray temp file next to an untouched target
	stray := filepath.Join(dir, "states.json.tmp-crash")
	require.NoError(t, os.WriteFile(stray, []byte(`{"partial`), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var jobs map[string]*entity.Job
	require.NoError(t, json.Unmarshal(data, &jobs))
	require.Contains(t, jobs, "a")

	reloaded := NewFileStore(path, log)
	require.NoError(t, reloaded.Load())
	job, err := reloaded.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "c1", job.ClientID)
}
