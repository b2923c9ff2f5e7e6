package psql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Ronitkothari22/distributed-video-processing/internal/domain/entity"
)

// jobRecord is the relational shape of a tracked job. Process states are
// stored as JSON columns; the row is the unit of atomic read-modify-write.
type jobRecord struct {
	FileID             string              `gorm:"primaryKey;column:file_id;type:text"`
	ClientID           string              `gorm:"column:client_id;not null"`
	CreatedAt          time.Time           `gorm:"column:created_at"`
	VideoEnhancement   entity.ProcessState `gorm:"column:video_enhancement;serializer:json"`
	MetadataExtraction entity.ProcessState `gorm:"column:metadata_extraction;serializer:json"`
}

func (jobRecord) TableName() string { return "processing_states" }

func toRecord(job *entity.Job) *jobRecord {
	return &jobRecord{
		FileID:             job.FileID,
		ClientID:           job.ClientID,
		CreatedAt:          job.CreatedAt,
		VideoEnhancement:   job.VideoEnhancement,
		MetadataExtraction: job.MetadataExtraction,
	}
}

func (r *jobRecord) toJob() *entity.Job {
	return &entity.Job{
		FileID:             r.FileID,
		ClientID:           r.ClientID,
		CreatedAt:          r.CreatedAt,
		VideoEnhancement:   r.VideoEnhancement,
		MetadataExtraction: r.MetadataExtraction,
	}
}

// GormJobStore is the shared-state alternative to the file store for
// deployments running more than one server instance; the database provides
// the atomic read-modify-write the locked file cannot.
type GormJobStore struct {
	db *gorm.DB
}

func NewGormJobStore(db *gorm.DB) (*GormJobStore, error) {
	if err := db.AutoMigrate(&jobRecord{}); err != nil {
		return nil, fmt.Errorf("migrate processing_states: %w", err)
	}
	return &GormJobStore{db: db}, nil
}

func (s *GormJobStore) Create(ctx context.Context, fileID, clientID string) (*entity.Job, error) {
	job := entity.NewJob(fileID, clientID)
	if err := s.db.WithContext(ctx).Save(toRecord(job)).Error; err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

func (s *GormJobStore) Get(ctx context.Context, fileID string) (*entity.Job, error) {
	var rec jobRecord
	if err := s.db.WithContext(ctx).First(&rec, "file_id = ?", fileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, entity.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return rec.toJob(), nil
}

func (s *GormJobStore) ApplyStatus(ctx context.Context, fileID string, pt entity.ProcessType, status entity.Status, progress int, errMsg *string) (*entity.Job, error) {
	var out *entity.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec jobRecord
		err := tx.First(&rec, "file_id = ?", fileID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			rec = *toRecord(entity.NewJob(fileID, ""))
		} else if err != nil {
			return err
		}

		if status != entity.StatusFailed {
			errMsg = nil
		}
		state := entity.ProcessState{
			Status:      status,
			Progress:    progress,
			Error:       errMsg,
			LastUpdated: time.Now().UTC(),
		}
		if pt == entity.ProcessMetadataExtraction {
			rec.MetadataExtraction = state
		} else {
			rec.VideoEnhancement = state
		}

		if err := tx.Save(&rec).Error; err != nil {
			return err
		}
		out = rec.toJob()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply status: %w", err)
	}
	return out, nil
}

func (s *GormJobStore) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&jobRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("sweep jobs: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}
