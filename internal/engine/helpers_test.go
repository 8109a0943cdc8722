package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pulseboard/pulseboard/internal/cache"
	"github.com/pulseboard/pulseboard/internal/core"
)

type fakeDirectory struct {
	tenants     []core.Tenant
	creds       map[int64]*core.Credentials
	departments map[int64][]core.Subject
	rosters     map[string][]core.SubjectRecord
	individuals map[int64][]core.SubjectRecord
	rosterErr   map[string]error
}

func rosterKey(tenantID int64, department string) string {
	return fmt.Sprintf("%d/%s", tenantID, department)
}

func (d *fakeDirectory) ListActiveTenants(context.Context) ([]core.Tenant, error) {
	active := []core.Tenant{}
	for _, t := range d.tenants {
		if t.Active {
			active = append(active, t)
		}
	}
	return active, nil
}

func (d *fakeDirectory) GetTenant(_ context.Context, tenantID int64) (*core.Tenant, error) {
	for _, t := range d.tenants {
		if t.ID == tenantID {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("tenant %d not found", tenantID)
}

func (d *fakeDirectory) GetCredentials(_ context.Context, tenantID int64) (*core.Credentials, error) {
	c, ok := d.creds[tenantID]
	if !ok {
		return nil, fmt.Errorf("tenant %d not found", tenantID)
	}
	return c, nil
}

func (d *fakeDirectory) ListDepartments(_ context.Context, tenantID int64) ([]core.Subject, error) {
	return d.departments[tenantID], nil
}

func (d *fakeDirectory) ListDepartmentRoster(_ context.Context, tenantID int64, departmentName string) ([]core.SubjectRecord, error) {
	key := rosterKey(tenantID, departmentName)
	if err := d.rosterErr[key]; err != nil {
		return nil, err
	}
	return d.rosters[key], nil
}

func (d *fakeDirectory) ListIndividualsRoster(_ context.Context, tenantID int64) ([]core.SubjectRecord, error) {
	return d.individuals[tenantID], nil
}

// fakeFetcher succeeds by default; ids in failures get error records.
type fakeFetcher struct {
	mu       sync.Mutex
	calls    []string
	creds    []string
	failures map[string]string
}

func (f *fakeFetcher) Fetch(_ context.Context, rec core.SubjectRecord, _ core.RangeSpec, credential, _ string) core.ResultRecord {
	f.mu.Lock()
	f.calls = append(f.calls, rec.ExternalID)
	f.creds = append(f.creds, credential)
	f.mu.Unlock()

	if msg, ok := f.failures[rec.ExternalID]; ok {
		return core.ResultRecord{ExternalID: rec.ExternalID, DisplayName: rec.DisplayName, Error: msg}
	}
	return core.ResultRecord{
		ExternalID:  rec.ExternalID,
		DisplayName: rec.DisplayName,
		Metrics:     &core.Metrics{Received: 10, Sent: 5, AvgReplySeconds: 60},
	}
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeStore struct {
	mu      sync.Mutex
	entries map[string]*core.CacheEntry
	deletes []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]*core.CacheEntry)}
}

func (s *fakeStore) Get(_ context.Context, tenantSlug, subjectSlug, rangeName string) (*core.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[cache.Key(tenantSlug, subjectSlug, rangeName)]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return entry, nil
}

func (s *fakeStore) Put(_ context.Context, tenantSlug, subjectSlug, rangeName string, entry *core.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[cache.Key(tenantSlug, subjectSlug, rangeName)] = entry
	return nil
}

func (s *fakeStore) Delete(_ context.Context, tenantSlug, subjectSlug, rangeName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cache.Key(tenantSlug, subjectSlug, rangeName)
	s.deletes = append(s.deletes, key)
	delete(s.entries, key)
	return nil
}

func (s *fakeStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func roster(ids ...string) []core.SubjectRecord {
	out := make([]core.SubjectRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, core.SubjectRecord{
			ExternalID:  id,
			DisplayName: "Agent " + id,
			Email:       id + "@acme.test",
			ChannelCode: "support",
		})
	}
	return out
}

func fixedNow(value string, loc *time.Location) func() time.Time {
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", value, loc)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return ts }
}
