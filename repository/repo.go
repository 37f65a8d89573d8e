package repository

import (
	"context"
	"database/sql"
	"errors"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kelly-nie213/rallycoachAIDemo/constant"
	"github.com/kelly-nie213/rallycoachAIDemo/entities"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobConflict is returned when a status transition's precondition
	// does not hold, e.g. a second "begin processing" call for an id that
	// is already PROCESSING.
	ErrJobConflict = errors.New("job status conflict")
)

type JobRepository interface {
	Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error
	GetDB() *gorm.DB
	CreateJob(ctx context.Context, sourcePath string) (*entities.Job, error)
	FindJobById(ctx context.Context, id uint) (*entities.Job, error)
	BeginProcessing(ctx context.Context, id uint) (*entities.Job, error)
	CompleteJob(ctx context.Context, id uint, annotatedPath, analysis, summary string) error
	FailJob(ctx context.Context, id uint) error
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) (JobRepository, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	if err != nil {
		return nil, err
	}
	if err := gormDB.AutoMigrate(&entities.Job{}); err != nil {
		return nil, err
	}
	return &repo{
		db: gormDB,
	}, nil
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return r.GetDB().Transaction(func(tx *gorm.DB) error {
		return callback(ctx)
	}, opts...)
}

func (r *repo) CreateJob(ctx context.Context, sourcePath string) (*entities.Job, error) {
	job := &entities.Job{
		SourcePath: sourcePath,
		Analysis:   constant.EmptyAnalysis,
		Status:     constant.JobStatusPending,
	}
	if err := r.GetDB().WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *repo) FindJobById(ctx context.Context, id uint) (*entities.Job, error) {
	job := &entities.Job{}
	err := r.GetDB().WithContext(ctx).First(job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// BeginProcessing moves a job from PENDING to PROCESSING as a single
// conditioned update, so two concurrent trigger calls for the same id
// cannot both start a background task. The loser gets ErrJobConflict.
func (r *repo) BeginProcessing(ctx context.Context, id uint) (*entities.Job, error) {
	res := r.GetDB().WithContext(ctx).
		Model(&entities.Job{}).
		Where("id = ? AND status = ?", id, constant.JobStatusPending).
		Update("status", constant.JobStatusProcessing)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindJobById(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrJobConflict
	}
	return r.FindJobById(ctx, id)
}

func (r *repo) CompleteJob(ctx context.Context, id uint, annotatedPath, analysis, summary string) error {
	return r.transition(ctx, id, map[string]interface{}{
		"status":         constant.JobStatusCompleted,
		"annotated_path": annotatedPath,
		"analysis":       analysis,
		"summary":        summary,
	})
}

func (r *repo) FailJob(ctx context.Context, id uint) error {
	return r.transition(ctx, id, map[string]interface{}{
		"status": constant.JobStatusFailed,
	})
}

// transition applies a terminal update only while the job is still
// PROCESSING; terminal states never change again.
func (r *repo) transition(ctx context.Context, id uint, updates map[string]interface{}) error {
	res := r.GetDB().WithContext(ctx).
		Model(&entities.Job{}).
		Where("id = ? AND status = ?", id, constant.JobStatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindJobById(ctx, id); err != nil {
			return err
		}
		return ErrJobConflict
	}
	return nil
}
