package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/cdp-api/internal/dto"
	appErrors "github.com/noah-isme/cdp-api/pkg/errors"
	"github.com/noah-isme/cdp-api/pkg/jobs"
	"github.com/noah-isme/cdp-api/pkg/observability"
)

const (
	batchJobType        = "email_batch"
	batchJobCachePrefix = "email:batch:job:"
)

type batchMailer interface {
	PrepareBatch(ctx context.Context, req dto.BatchEmailRequest) (*BatchPlan, error)
	RunBatch(ctx context.Context, plan *BatchPlan, actor Actor, progress ProgressFunc) *dto.BatchSummary
}

type batchJobPayload struct {
	plan  *BatchPlan
	actor Actor
}

// BatchJobConfig sizes the worker pool and how long finished jobs are kept.
type BatchJobConfig struct {
	Workers    int
	BufferSize int
	JobTTL     time.Duration
}

type batchJobEntry struct {
	status  dto.BatchJobStatus
	ownerID string
}

// BatchJobService runs batch sends in the background. Jobs live in memory
// and are mirrored to the cache when it is enabled; they are never retried.
type BatchJobService struct {
	mailer batchMailer
	cache  *CacheService
	queue  *jobs.Queue
	logger *zap.Logger
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[string]*batchJobEntry
}

// NewBatchJobService constructs the service and its queue. Call Start before
// submitting jobs.
func NewBatchJobService(mailer batchMailer, cache *CacheService, logger *zap.Logger, cfg BatchJobConfig) *BatchJobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 16
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 24 * time.Hour
	}
	s := &BatchJobService{
		mailer:  mailer,
		cache:   cache,
		logger:  logger,
		ttl:     cfg.JobTTL,
		entries: make(map[string]*batchJobEntry),
	}
	s.queue = jobs.NewQueue("email-batch", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		Logger:     logger,
	})
	return s
}

// Start launches the workers.
func (s *BatchJobService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop cancels running batches and waits for the workers to exit.
func (s *BatchJobService) Stop() {
	s.queue.Stop()
}

// Submit validates the batch synchronously and queues it.
func (s *BatchJobService) Submit(ctx context.Context, req dto.BatchEmailRequest, actor Actor) (*dto.BatchJobStatus, error) {
	plan, err := s.mailer.PrepareBatch(ctx, req)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	status := dto.BatchJobStatus{
		ID:        uuid.NewString(),
		Status:    dto.BatchJobQueued,
		Total:     plan.Total(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.pruneLocked(now)
	s.entries[status.ID] = &batchJobEntry{status: status, ownerID: actor.ID}
	s.mu.Unlock()

	if err := s.queue.Enqueue(jobs.Job{ID: status.ID, Type: batchJobType, Payload: batchJobPayload{plan: plan, actor: actor}}); err != nil {
		s.mu.Lock()
		delete(s.entries, status.ID)
		s.mu.Unlock()
		if errors.Is(err, jobs.ErrQueueFull) {
			return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "too many batches queued, try again later")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue batch")
	}

	s.mirror(ctx, status)
	s.logger.Info("batch job queued", zap.String("job_id", status.ID), zap.Int("recipients", status.Total), zap.Int("pending", s.queue.Pending()))
	return &status, nil
}

// Get returns the status of a job. Non-admins only see jobs they submitted.
func (s *BatchJobService) Get(ctx context.Context, id string, actor Actor) (*dto.BatchJobStatus, error) {
	s.mu.RLock()
	entry, ok := s.entries[id]
	var status dto.BatchJobStatus
	var owner string
	if ok {
		status = entry.status
		owner = entry.ownerID
	}
	s.mu.RUnlock()

	if ok {
		if !actor.IsAdmin() && owner != actor.ID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "batch job belongs to another user")
		}
		return &status, nil
	}

	var cached dto.BatchJobStatus
	hit, _ := s.cache.Get(ctx, batchJobCachePrefix+id, &cached)
	if hit {
		return &cached, nil
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "batch job not found")
}

func (s *BatchJobService) handle(ctx context.Context, job jobs.Job) (err error) {
	payload, ok := job.Payload.(batchJobPayload)
	if !ok {
		return fmt.Errorf("unexpected payload for batch job %s", job.ID)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch job panicked: %v", r)
		}
		if err != nil {
			s.finish(ctx, job.ID, nil, err)
			observability.CaptureErrWithTags(err, map[string]string{"job_id": job.ID, "job_type": batchJobType})
		}
	}()

	s.update(ctx, job.ID, func(st *dto.BatchJobStatus) { st.Status = dto.BatchJobRunning })

	summary := s.mailer.RunBatch(ctx, payload.plan, payload.actor, func(processed, total int) {
		s.update(ctx, job.ID, func(st *dto.BatchJobStatus) {
			st.Processed = processed
			st.Total = total
		})
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		s.finish(ctx, job.ID, summary, fmt.Errorf("batch interrupted: %w", ctxErr))
		return nil
	}
	s.finish(ctx, job.ID, summary, nil)
	return nil
}

func (s *BatchJobService) finish(ctx context.Context, id string, summary *dto.BatchSummary, cause error) {
	s.update(ctx, id, func(st *dto.BatchJobStatus) {
		st.Summary = summary
		if cause != nil {
			st.Status = dto.BatchJobFailed
			st.Error = cause.Error()
			return
		}
		st.Status = dto.BatchJobCompleted
	})
	if summary != nil {
		_ = s.cache.Invalidate(context.WithoutCancel(ctx), emailStatsCacheKey)
	}
	if cause != nil {
		s.logger.Error("batch job failed", zap.String("job_id", id), zap.Error(cause))
		return
	}
	s.logger.Info("batch job completed", zap.String("job_id", id),
		zap.Int("sent", summary.SentCount), zap.Int("errors", summary.ErrorCount))
}

func (s *BatchJobService) update(ctx context.Context, id string, mutate func(*dto.BatchJobStatus)) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	mutate(&entry.status)
	entry.status.UpdatedAt = time.Now().UTC()
	snapshot := entry.status
	s.mu.Unlock()

	s.mirror(ctx, snapshot)
}

func (s *BatchJobService) mirror(ctx context.Context, status dto.BatchJobStatus) {
	if !s.cache.Enabled() {
		return
	}
	// The worker context may already be cancelled during shutdown.
	if err := s.cache.Set(context.WithoutCancel(ctx), batchJobCachePrefix+status.ID, status, s.ttl); err != nil {
		s.logger.Debug("failed to mirror batch job", zap.String("job_id", status.ID), zap.Error(err))
	}
}

func (s *BatchJobService) pruneLocked(now time.Time) {
	for id, entry := range s.entries {
		finished := entry.status.Status == dto.BatchJobCompleted || entry.status.Status == dto.BatchJobFailed
		if finished && now.Sub(entry.status.UpdatedAt) > s.ttl {
			delete(s.entries, id)
		}
	}
}
