package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pulseboard/pulseboard/internal/cache"
	"github.com/pulseboard/pulseboard/internal/core"
	"github.com/pulseboard/pulseboard/internal/directory"
	"github.com/pulseboard/pulseboard/internal/metrics"
	"github.com/pulseboard/pulseboard/internal/timerange"
	"go.uber.org/zap"
)

type Decision int

const (
	DecisionSkip Decision = iota
	DecisionFull
	DecisionRepair
)

const dateLayout = "2006-01-02"

// SelectiveItem names one (subject, range) pair for on-demand recomputation.
type SelectiveItem struct {
	Subject string `json:"subject"`
	Range   string `json:"range"`
}

type SelectiveResult struct {
	TenantID int64  `json:"tenant_id"`
	Subject  string `json:"subject"`
	Range    string `json:"range"`
	Outcome  string `json:"outcome"`
	Detail   string `json:"detail,omitempty"`
}

const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeError   = "error"
)

// Orchestrator walks tenants, subjects and ranges strictly sequentially,
// applies the staleness policy and writes results through the cache store.
// Failures are contained: a record never fails its subject, a subject never
// fails its tenant, a tenant never fails the run.
type Orchestrator struct {
	dir      directory.Directory
	store    cache.Store
	regen    *Regenerator
	resolver *timerange.Resolver
	ranges   []string
	logger   *zap.Logger
	metrics  *metrics.Collector
	locks    keyLocks
	now      func() time.Time
}

func NewOrchestrator(dir directory.Directory, store cache.Store, regen *Regenerator, resolver *timerange.Resolver, ranges []string, logger *zap.Logger, collector *metrics.Collector) *Orchestrator {
	return &Orchestrator{
		dir:      dir,
		store:    store,
		regen:    regen,
		resolver: resolver,
		ranges:   ranges,
		logger:   logger,
		metrics:  collector,
		now:      time.Now,
	}
}

// Staleness decides what an existing entry needs. An absent entry or one
// generated on a prior business-timezone calendar date needs a full
// recompute (the range itself may have shifted); an entry with failed
// records needs a repair pass that reuses its successes.
func (o *Orchestrator) Staleness(entry *core.CacheEntry, now time.Time) Decision {
	if entry == nil {
		return DecisionFull
	}
	if entry.HasErrors() {
		return DecisionRepair
	}
	loc := o.resolver.Location()
	if entry.GeneratedAt.In(loc).Format(dateLayout) != now.In(loc).Format(dateLayout) {
		return DecisionFull
	}
	return DecisionSkip
}

// RunAll processes every active tenant. forceAll bypasses the staleness
// policy and recomputes everything from scratch.
func (o *Orchestrator) RunAll(ctx context.Context, forceAll bool) {
	start := o.now()

	tenants, err := o.dir.ListActiveTenants(ctx)
	if err != nil {
		o.logger.Error("Failed to list active tenants, aborting run", zap.Error(err))
		return
	}

	o.logger.Info("Starting precalculation run",
		zap.Int("tenant_count", len(tenants)),
		zap.Bool("force_all", forceAll),
	)

	for _, tenant := range tenants {
		o.runTenant(ctx, tenant, forceAll)
	}

	o.metrics.ObserveRunDuration(o.now().Sub(start))
	o.logger.Info("Precalculation run finished", zap.Duration("duration", o.now().Sub(start)))
}

func (o *Orchestrator) runTenant(ctx context.Context, tenant core.Tenant, forceAll bool) {
	log := o.logger.With(zap.String("tenant", tenant.Slug))

	creds, err := o.dir.GetCredentials(ctx, tenant.ID)
	if err != nil {
		log.Warn("Failed to get credentials, skipping tenant", zap.Error(err))
		return
	}
	if creds.DepartmentKey == "" {
		log.Warn("Tenant has no department credential, skipping")
		return
	}

	subjects, err := o.dir.ListDepartments(ctx, tenant.ID)
	if err != nil {
		log.Warn("Failed to list departments, skipping tenant", zap.Error(err))
		return
	}
	if creds.IndividualsKey != "" {
		subjects = append(subjects, core.IndividualsSubject())
	}

	for _, subject := range subjects {
		for _, rangeName := range o.ranges {
			spec, err := o.resolver.Resolve(rangeName)
			if err != nil {
				log.Error("Unresolvable range", zap.String("range", rangeName), zap.Error(err))
				continue
			}
			o.processCombo(ctx, tenant, subject, *creds, spec, forceAll)
		}
	}
}

func (o *Orchestrator) processCombo(ctx context.Context, tenant core.Tenant, subject core.Subject, creds core.Credentials, spec core.RangeSpec, forceAll bool) {
	subjectSlug := cache.Slug(subject.Name)
	log := o.logger.With(
		zap.String("tenant", tenant.Slug),
		zap.String("subject", subject.Name),
		zap.String("range", spec.Name),
	)

	unlock := o.locks.lock(cache.Key(tenant.Slug, subjectSlug, spec.Name))
	defer unlock()

	var prior *core.CacheEntry
	decision := DecisionFull
	if !forceAll {
		entry, err := o.store.Get(ctx, tenant.Slug, subjectSlug, spec.Name)
		if err != nil && !errors.Is(err, cache.ErrNotFound) {
			log.Warn("Failed to read cache entry, recomputing", zap.Error(err))
			entry = nil
		}
		decision = o.Staleness(entry, o.now())
		if decision == DecisionSkip {
			o.metrics.RecordCombo("skipped")
			return
		}
		if decision == DecisionRepair {
			prior = entry
		}
	}

	entry, err := o.regen.Compute(ctx, tenant, subject, creds, spec, prior)
	if errors.Is(err, ErrEmptyRoster) {
		log.Debug("Empty roster, nothing to cache")
		o.metrics.RecordCombo("empty")
		return
	}
	if err != nil {
		log.Error("Regeneration failed", zap.Error(err))
		o.metrics.RecordCombo("error")
		return
	}

	if err := o.store.Put(ctx, tenant.Slug, subjectSlug, spec.Name, entry); err != nil {
		log.Error("Failed to write cache entry", zap.Error(err))
		o.metrics.RecordCombo("error")
		return
	}

	if decision == DecisionRepair {
		o.metrics.RecordCombo("repaired")
	} else {
		o.metrics.RecordCombo("regenerated")
	}
	log.Info("Cache entry regenerated",
		zap.Int("records", entry.TotalRecords),
		zap.Bool("repair", decision == DecisionRepair),
	)
}

// RunSelective deletes the targeted cache entries and recomputes them in
// full, regardless of staleness. One result per requested item.
func (o *Orchestrator) RunSelective(ctx context.Context, tenantID int64, items []SelectiveItem) []SelectiveResult {
	results := make([]SelectiveResult, 0, len(items))
	fail := func(item SelectiveItem, detail string) {
		results = append(results, SelectiveResult{
			TenantID: tenantID, Subject: item.Subject, Range: item.Range,
			Outcome: OutcomeError, Detail: detail,
		})
	}

	tenant, err := o.dir.GetTenant(ctx, tenantID)
	if err != nil || !tenant.Active {
		detail := "tenant is not active"
		if err != nil {
			detail = err.Error()
		}
		for _, item := range items {
			fail(item, detail)
		}
		return results
	}

	creds, err := o.dir.GetCredentials(ctx, tenantID)
	if err != nil {
		for _, item := range items {
			fail(item, err.Error())
		}
		return results
	}

	for _, item := range items {
		subject, err := o.findSubject(ctx, tenantID, *creds, item.Subject)
		if err != nil {
			fail(item, err.Error())
			continue
		}

		spec, err := o.resolver.Resolve(item.Range)
		if err != nil {
			fail(item, err.Error())
			continue
		}

		results = append(results, o.resyncCombo(ctx, *tenant, subject, *creds, spec))
	}
	return results
}

// resyncCombo is the delete-and-resync path: any existing entry goes away
// first, then a full non-merge computation replaces it.
func (o *Orchestrator) resyncCombo(ctx context.Context, tenant core.Tenant, subject core.Subject, creds core.Credentials, spec core.RangeSpec) SelectiveResult {
	result := SelectiveResult{TenantID: tenant.ID, Subject: subject.Name, Range: spec.Name}
	subjectSlug := cache.Slug(subject.Name)

	unlock := o.locks.lock(cache.Key(tenant.Slug, subjectSlug, spec.Name))
	defer unlock()

	if err := o.store.Delete(ctx, tenant.Slug, subjectSlug, spec.Name); err != nil {
		o.logger.Warn("Failed to delete cache entry before resync",
			zap.String("tenant", tenant.Slug),
			zap.String("subject", subject.Name),
			zap.Error(err),
		)
	}

	entry, err := o.regen.Compute(ctx, tenant, subject, creds, spec, nil)
	if err != nil {
		result.Outcome = OutcomeError
		result.Detail = err.Error()
		o.metrics.RecordCombo("error")
		return result
	}

	if err := o.store.Put(ctx, tenant.Slug, subjectSlug, spec.Name, entry); err != nil {
		result.Outcome = OutcomeError
		result.Detail = err.Error()
		o.metrics.RecordCombo("error")
		return result
	}

	o.metrics.RecordCombo("regenerated")
	if entry.HasErrors() {
		result.Outcome = OutcomePartial
		result.Detail = fmt.Sprintf("%d of %d records failed", countErrors(entry), entry.TotalRecords)
	} else {
		result.Outcome = OutcomeSuccess
	}
	return result
}

func (o *Orchestrator) findSubject(ctx context.Context, tenantID int64, creds core.Credentials, name string) (core.Subject, error) {
	if name == core.IndividualsSubject().Name {
		if creds.IndividualsKey == "" {
			return core.Subject{}, errors.New("tenant has no individuals credential")
		}
		return core.IndividualsSubject(), nil
	}

	if creds.DepartmentKey == "" {
		return core.Subject{}, errors.New("tenant has no department credential")
	}
	departments, err := o.dir.ListDepartments(ctx, tenantID)
	if err != nil {
		return core.Subject{}, fmt.Errorf("failed to list departments: %w", err)
	}
	for _, d := range departments {
		if d.Name == name {
			return d, nil
		}
	}
	return core.Subject{}, fmt.Errorf("unknown subject %q", name)
}

func countErrors(entry *core.CacheEntry) int {
	n := 0
	for _, r := range entry.Records {
		if !r.OK() {
			n++
		}
	}
	return n
}

// keyLocks serializes writers per cache key so a scheduled pass and a
// selective resync may overlap on disjoint keys but never on the same one.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *keyLocks) lock(key string) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*sync.Mutex)
	}
	km, ok := l.m[key]
	if !ok {
		km = &sync.Mutex{}
		l.m[key] = km
	}
	l.mu.Unlock()

	km.Lock()
	return km.Unlock
}
