package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-api/internal/models"
	"github.com/noah-isme/course-api/pkg/jobs"
)

// AuditService writes audit entries on a background queue so token operations do not wait on
// the audit table. When the queue is unavailable the entry is written inline.
type AuditService struct {
	repo   AuditRecorder
	queue  *jobs.Queue[*models.AuditLog]
	logger *zap.Logger
	now    func() time.Time
}

// NewAuditService constructs an AuditService. Call Start before use and Stop on shutdown.
func NewAuditService(repo AuditRecorder, logger *zap.Logger, cfg jobs.QueueConfig) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Logger = logger
	s := &AuditService{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	s.queue = jobs.NewQueue("audit", s.handle, cfg)
	return s
}

// Start launches the queue workers.
func (s *AuditService) Start(ctx context.Context) { s.queue.Start(ctx) }

// Stop flushes pending entries and stops the workers.
func (s *AuditService) Stop() { s.queue.Stop() }

// CreateAuditLog stamps and enqueues log.
func (s *AuditService) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now()
	}

	if err := s.queue.Enqueue(jobs.Job[*models.AuditLog]{ID: log.ID, Type: log.Action, Payload: log}); err != nil {
		s.logger.Debug("audit queue unavailable, writing inline", zap.Error(err))
		return s.repo.CreateAuditLog(ctx, log)
	}
	return nil
}

func (s *AuditService) handle(ctx context.Context, job jobs.Job[*models.AuditLog]) error {
	return s.repo.CreateAuditLog(ctx, job.Payload)
}
