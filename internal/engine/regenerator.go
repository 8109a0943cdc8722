package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pulseboard/pulseboard/internal/core"
	"github.com/pulseboard/pulseboard/internal/directory"
	"github.com/pulseboard/pulseboard/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrEmptyRoster marks a subject with nothing to track. Not a failure: the
// orchestrator skips it, the selective path reports it as "no data".
var ErrEmptyRoster = errors.New("subject roster is empty")

// Fetcher is the provider call contract. The concrete implementation is
// provider.Client; tests substitute fakes.
type Fetcher interface {
	Fetch(ctx context.Context, rec core.SubjectRecord, spec core.RangeSpec, credential, endpoint string) core.ResultRecord
}

// Regenerator computes one (tenant, subject, range) cache entry. When a
// prior entry is supplied, its successful records are reused verbatim and
// only failed or missing ones are fetched again (partial repair).
type Regenerator struct {
	dir            directory.Directory
	fetcher        Fetcher
	interCallDelay time.Duration
	logger         *zap.Logger
	metrics        *metrics.Collector
	now            func() time.Time
}

func NewRegenerator(dir directory.Directory, fetcher Fetcher, interCallDelay time.Duration, logger *zap.Logger, collector *metrics.Collector) *Regenerator {
	return &Regenerator{
		dir:            dir,
		fetcher:        fetcher,
		interCallDelay: interCallDelay,
		logger:         logger,
		metrics:        collector,
		now:            time.Now,
	}
}

func (r *Regenerator) Compute(ctx context.Context, tenant core.Tenant, subject core.Subject, creds core.Credentials, spec core.RangeSpec, prior *core.CacheEntry) (*core.CacheEntry, error) {
	roster, err := r.roster(ctx, tenant.ID, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster: %w", err)
	}
	if len(roster) == 0 {
		return nil, ErrEmptyRoster
	}

	credential := creds.DepartmentKey
	if subject.Individuals {
		credential = creds.IndividualsKey
	}

	var reusable map[string]core.ResultRecord
	if prior != nil {
		reusable = prior.Successes()
	}

	// Paces consecutive provider calls; the first call is never delayed and
	// nothing waits after the last one.
	limiter := rate.NewLimiter(rate.Every(r.interCallDelay), 1)

	records := make([]core.ResultRecord, 0, len(roster))
	reused, fetched := 0, 0
	for _, rec := range roster {
		if prev, ok := reusable[rec.ExternalID]; ok {
			records = append(records, prev)
			reused++
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			records = append(records, core.ResultRecord{
				ExternalID:  rec.ExternalID,
				DisplayName: rec.DisplayName,
				Error:       fmt.Sprintf("interrupted: %v", err),
			})
			continue
		}

		result := r.fetcher.Fetch(ctx, rec, spec, credential, creds.Endpoint)
		r.metrics.RecordFetch(result.OK())
		records = append(records, result)
		fetched++
	}

	r.logger.Debug("Computed subject metrics",
		zap.String("tenant", tenant.Slug),
		zap.String("subject", subject.Name),
		zap.String("range", spec.Name),
		zap.Int("reused", reused),
		zap.Int("fetched", fetched),
	)

	return &core.CacheEntry{
		Subject:      subject.Name,
		RangeName:    spec.Name,
		RangeLabel:   spec.Label,
		RangeStart:   spec.Start,
		RangeEnd:     spec.End,
		GeneratedAt:  r.now().UTC(),
		TotalRecords: len(records),
		Records:      records,
	}, nil
}

func (r *Regenerator) roster(ctx context.Context, tenantID int64, subject core.Subject) ([]core.SubjectRecord, error) {
	if subject.Individuals {
		return r.dir.ListIndividualsRoster(ctx, tenantID)
	}
	return r.dir.ListDepartmentRoster(ctx, tenantID, subject.Name)
}
