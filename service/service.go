package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kelly-nie213/rallycoachAIDemo/config"
	"github.com/kelly-nie213/rallycoachAIDemo/constant"
	"github.com/kelly-nie213/rallycoachAIDemo/dto"
	"github.com/kelly-nie213/rallycoachAIDemo/entities"
	"github.com/kelly-nie213/rallycoachAIDemo/pkg/cache"
	"github.com/kelly-nie213/rallycoachAIDemo/repository"
)

var ErrEmptySourcePath = errors.New("sourcePath is required")

// Service owns the job lifecycle: submission, the processing trigger
// and the background pipeline behind it, and the polling read.
type Service interface {
	Submit(ctx context.Context, sourcePath string) (*entities.Job, error)
	Begin(ctx context.Context, id uint) (*entities.Job, error)
	Get(ctx context.Context, id uint) (*entities.Job, error)
}

// MediaStore resolves a source reference to a byte stream and publishes
// local files back to the object store.
type MediaStore interface {
	Resolve(ctx context.Context, sourcePath string) (io.ReadCloser, error)
	Upload(ctx context.Context, localPath, objectName string) (string, error)
}

// EventPublisher receives terminal-transition events. May be nil.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, event dto.JobEvent) error
}

type service struct {
	repo   repository.JobRepository
	cfg    *config.Config
	media  MediaStore
	engine *Engine
	cache  cache.Cache
	events EventPublisher
	sem    chan struct{}
}

func NewService(repo repository.JobRepository, cfg *config.Config, media MediaStore, jobCache cache.Cache, events EventPublisher) Service {
	workers := cfg.Server.Workers
	if workers < 1 {
		workers = 1
	}
	return &service{
		repo:   repo,
		cfg:    cfg,
		media:  media,
		engine: NewEngine(cfg.Engine),
		cache:  jobCache,
		events: events,
		sem:    make(chan struct{}, workers),
	}
}

func (s *service) Submit(ctx context.Context, sourcePath string) (*entities.Job, error) {
	sourcePath = strings.TrimSpace(sourcePath)
	if sourcePath == "" {
		return nil, ErrEmptySourcePath
	}

	job, err := s.repo.CreateJob(ctx, sourcePath)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to create job")
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Uint("job_id", job.ID).Str("source", sourcePath).Msg("job submitted")
	s.cacheJob(ctx, job)
	return job, nil
}

// Begin moves the job to PROCESSING and acknowledges before any work
// happens; the pipeline runs on a detached background goroutine whose
// outcome is observable only through Get.
func (s *service) Begin(ctx context.Context, id uint) (*entities.Job, error) {
	job, err := s.repo.BeginProcessing(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJob(ctx, job)

	// The request context dies with the response; the background task
	// keeps only its logger.
	bgCtx := zerolog.Ctx(ctx).With().Uint("job_id", job.ID).Logger().WithContext(context.Background())
	go s.process(bgCtx, job)

	return job, nil
}

func (s *service) Get(ctx context.Context, id uint) (*entities.Job, error) {
	if job := s.cachedJob(ctx, id); job != nil {
		return job, nil
	}

	job, err := s.repo.FindJobById(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJob(ctx, job)
	return job, nil
}

// process is the background task. Every failure path funnels into
// markFailed so a job cannot stay PROCESSING forever on an error the
// pipeline can catch.
func (s *service) process(ctx context.Context, job *entities.Job) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().Interface("panic", r).Msg("background task panicked")
			s.markFailed(ctx, job.ID)
		}
	}()

	if err := s.run(ctx, job); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("job failed")
		s.markFailed(ctx, job.ID)
	}
}

func (s *service) run(ctx context.Context, job *entities.Job) error {
	zerolog.Ctx(ctx).Info().Msg("processing job")

	tempDir := filepath.Join(s.cfg.Engine.WorkDir, fmt.Sprintf("job_%d_%d", job.ID, time.Now().UnixNano()))
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("temp_dir", tempDir).Msg("failed to clean up temp dir")
		}
	}()

	inputDir := filepath.Join(tempDir, "input")
	outputDir := filepath.Join(tempDir, "output")
	if err := os.MkdirAll(inputDir, os.ModePerm); err != nil {
		return fmt.Errorf("create input dir: %w", err)
	}
	if err := os.MkdirAll(outputDir, os.ModePerm); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	inputFile, err := s.stage(ctx, job.SourcePath, inputDir)
	if err != nil {
		return fmt.Errorf("stage source media: %w", err)
	}

	out, err := s.engine.Run(ctx, inputFile, outputDir)
	if out != nil && out.Stderr != "" {
		zerolog.Ctx(ctx).Warn().Str("stderr", tail(out.Stderr, 2000)).Msg("engine stderr")
	}
	if err != nil {
		return err
	}

	extraction, err := ExtractResult(out.Stdout, job.SourcePath)
	if err != nil {
		return err
	}
	if extraction.Degraded {
		zerolog.Ctx(ctx).Warn().Err(extraction.ParseErr).Msg("engine result degraded, completing with fallback fields")
	}

	annotatedPath := s.publishAnnotated(ctx, job, extraction.AnnotatedPath)

	if err := s.repo.CompleteJob(ctx, job.ID, annotatedPath, extraction.Analysis, extraction.Summary); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}

	s.dropCache(ctx, job.ID)
	s.publishEvent(ctx, dto.JobEvent{
		JobID:         job.ID,
		Status:        constant.JobStatusCompleted,
		AnnotatedPath: annotatedPath,
		Summary:       extraction.Summary,
		OccurredAt:    time.Now().UTC(),
	})

	zerolog.Ctx(ctx).Info().Str("annotated", annotatedPath).Msg("job completed")
	return nil
}

// stage streams the source media into inputDir and returns the local
// file path the engine will read.
func (s *service) stage(ctx context.Context, sourcePath, inputDir string) (string, error) {
	rc, err := s.media.Resolve(ctx, sourcePath)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	fileName := filepath.Base(sourcePath)
	if fileName == "." || fileName == string(filepath.Separator) || fileName == "" {
		fileName = "input.mp4"
	}
	inputFile := filepath.Join(inputDir, fileName)

	f, err := os.Create(inputFile)
	if err != nil {
		return "", err
	}
	written, err := io.Copy(f, rc)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", err
	}

	zerolog.Ctx(ctx).Info().Str("input_file", inputFile).Int64("bytes", written).Msg("staged source media")
	return inputFile, nil
}

// publishAnnotated uploads the engine's annotated output when it is a
// local file, since the temp dir is deleted after the run. A remote
// reference is stored as-is; upload failure falls back to the original
// source so the stored reference always points somewhere durable.
func (s *service) publishAnnotated(ctx context.Context, job *entities.Job, annotatedPath string) string {
	if annotatedPath == job.SourcePath {
		return annotatedPath
	}
	if _, err := os.Stat(annotatedPath); err != nil {
		return annotatedPath
	}

	objectName := fmt.Sprintf("annotated/%d/%s", job.ID, filepath.Base(annotatedPath))
	uploaded, err := s.media.Upload(ctx, annotatedPath, objectName)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("annotated", annotatedPath).Msg("failed to upload annotated output")
		return job.SourcePath
	}
	return uploaded
}

func (s *service) markFailed(ctx context.Context, id uint) {
	if err := s.repo.FailJob(ctx, id); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to update job status")
		return
	}
	s.dropCache(ctx, id)
	s.publishEvent(ctx, dto.JobEvent{
		JobID:      id,
		Status:     constant.JobStatusFailed,
		OccurredAt: time.Now().UTC(),
	})
}

func (s *service) publishEvent(ctx context.Context, event dto.JobEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishJobEvent(ctx, event); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to publish job event")
	}
}

func (s *service) cacheJob(ctx context.Context, job *entities.Job) {
	if s.cache == nil {
		return
	}
	body, err := json.Marshal(job)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cache.JobKey(job.ID), body, cache.SnapshotTTL); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("failed to cache job snapshot")
	}
}

func (s *service) cachedJob(ctx context.Context, id uint) *entities.Job {
	if s.cache == nil {
		return nil
	}
	body, ok, err := s.cache.Get(ctx, cache.JobKey(id))
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("job snapshot cache read failed")
		return nil
	}
	if !ok {
		return nil
	}
	job := &entities.Job{}
	if err := json.Unmarshal(body, job); err != nil {
		return nil
	}
	return job
}

func (s *service) dropCache(ctx context.Context, id uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.JobKey(id)); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("failed to drop job snapshot")
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
