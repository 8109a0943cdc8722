package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pulseboard/pulseboard/internal/metrics"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// runner is what the scheduler drives; satisfied by *Orchestrator.
type runner interface {
	RunAll(ctx context.Context, forceAll bool)
	RunSelective(ctx context.Context, tenantID int64, items []SelectiveItem) []SelectiveResult
}

type fullJob struct {
	id      string
	trigger string
	force   bool
}

// Scheduler drives the orchestrator: one run on start, then once per
// business day at the configured hour, pinned to the business timezone.
// The on-demand triggers are fire and forget: they return immediately and
// the work proceeds on background goroutines, observable only through the
// cache store or the Results channel.
type Scheduler struct {
	orch    runner
	loc     *time.Location
	hour    int
	cron    *cron.Cron
	jobs    chan fullJob
	results chan SelectiveResult
	logger  *zap.Logger
	metrics *metrics.Collector
}

func NewScheduler(orch runner, loc *time.Location, triggerHour, queueSize int, logger *zap.Logger, collector *metrics.Collector) *Scheduler {
	return &Scheduler{
		orch:    orch,
		loc:     loc,
		hour:    triggerHour,
		cron:    cron.New(cron.WithLocation(loc)),
		jobs:    make(chan fullJob, queueSize),
		results: make(chan SelectiveResult, 64),
		logger:  logger,
		metrics: collector,
	}
}

// Start blocks until ctx is cancelled. One full run fires immediately; the
// cron entry fires once per business day, so there is no double-firing
// window to guard against.
func (s *Scheduler) Start(ctx context.Context) error {
	go s.worker(ctx)

	spec := fmt.Sprintf("0 %d * * *", s.hour)
	if _, err := s.cron.AddFunc(spec, func() {
		s.enqueue(fullJob{id: uuid.New().String(), trigger: "cron"})
	}); err != nil {
		return fmt.Errorf("failed to schedule daily run: %w", err)
	}

	s.logger.Info("Starting scheduler",
		zap.Int("trigger_hour", s.hour),
		zap.String("timezone", s.loc.String()),
	)

	s.enqueue(fullJob{id: uuid.New().String(), trigger: "boot"})
	s.cron.Start()

	<-ctx.Done()
	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
	return nil
}

// TriggerFull requests a full pass (force bypasses the staleness policy).
// Returns false only when the job queue is saturated.
func (s *Scheduler) TriggerFull(force bool) bool {
	return s.enqueue(fullJob{id: uuid.New().String(), trigger: "manual", force: force})
}

// TriggerSelective starts a detached delete-and-resync for the given items
// and returns immediately. Outcomes are logged and emitted on Results.
func (s *Scheduler) TriggerSelective(tenantID int64, items []SelectiveItem) bool {
	if len(items) == 0 {
		return false
	}

	jobID := uuid.New().String()
	log := s.logger.Named("selective").With(
		zap.String("job_id", jobID),
		zap.Int64("tenant_id", tenantID),
	)
	log.Info("Selective resync started", zap.Int("items", len(items)))

	go func() {
		s.metrics.RecordRun("selective")
		for _, result := range s.orch.RunSelective(context.Background(), tenantID, items) {
			if result.Outcome == OutcomeError {
				log.Error("Selective item failed",
					zap.String("subject", result.Subject),
					zap.String("range", result.Range),
					zap.String("detail", result.Detail),
				)
			} else {
				log.Info("Selective item finished",
					zap.String("subject", result.Subject),
					zap.String("range", result.Range),
					zap.String("outcome", result.Outcome),
				)
			}
			select {
			case s.results <- result:
			default:
				// Nobody is draining the channel; outcomes remain
				// observable via the cache store.
			}
		}
	}()
	return true
}

// Results exposes selective outcomes out of band. Sends never block; drain
// it or ignore it.
func (s *Scheduler) Results() <-chan SelectiveResult {
	return s.results
}

func (s *Scheduler) enqueue(job fullJob) bool {
	select {
	case s.jobs <- job:
		return true
	default:
		s.logger.Warn("Job queue full, dropping run request",
			zap.String("job_id", job.id),
			zap.String("trigger", job.trigger),
		)
		return false
	}
}

// worker consumes full-run jobs sequentially; scheduled and manual passes
// never overlap each other.
func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			s.logger.Info("Running full pass",
				zap.String("job_id", job.id),
				zap.String("trigger", job.trigger),
				zap.Bool("force", job.force),
			)
			s.metrics.RecordRun(job.trigger)
			s.orch.RunAll(ctx, job.force)
		}
	}
}
