package core

import "time"

// Tenant is one customer organization. Owned by the directory; the engine
// only ever reads it and tolerates it disappearing between runs.
type Tenant struct {
	ID     int64  `json:"id" db:"id"`
	Slug   string `json:"slug" db:"slug"`
	Name   string `json:"name" db:"name"`
	Active bool   `json:"active" db:"active"`
}

// Credentials are the per-tenant provider secrets. DepartmentKey authorizes
// department queries, IndividualsKey the individuals pool; IndividualsKey may
// be empty, in which case the individuals subject is not tracked.
type Credentials struct {
	DepartmentKey  string `json:"-" db:"department_key"`
	IndividualsKey string `json:"-" db:"individuals_key"`
	Endpoint       string `json:"endpoint" db:"endpoint"`
}

// Subject is a department or the synthetic individuals pool.
type Subject struct {
	Name         string `json:"name" db:"name"`
	ProviderCode string `json:"provider_code" db:"provider_code"`
	Individuals  bool   `json:"individuals"`
}

// IndividualsSubject is the synthetic subject covering the tenant-wide pool
// of individually tracked people.
func IndividualsSubject() Subject {
	return Subject{Name: "individuals", Individuals: true}
}

// SubjectRecord is one trackable person. ExternalID is the provider filter
// key and the merge identity; it must be stable across runs.
type SubjectRecord struct {
	ExternalID  string `json:"external_id" db:"external_id"`
	DisplayName string `json:"display_name" db:"display_name"`
	Email       string `json:"email" db:"email"`
	ChannelCode string `json:"channel_code" db:"channel_code"`
}

// RangeSpec is a resolved rolling period. Start and End are epoch seconds for
// business-timezone wall-clock boundaries, both inclusive.
type RangeSpec struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
}

// Metrics is the fixed triple the provider computes per person.
type Metrics struct {
	Received        int64   `json:"received"`
	Sent            int64   `json:"sent"`
	AvgReplySeconds float64 `json:"avg_reply_seconds"`
}

// ResultRecord is the terminal outcome for one SubjectRecord: either Metrics
// or Error is set, never both, never neither.
type ResultRecord struct {
	ExternalID  string   `json:"external_id"`
	DisplayName string   `json:"display_name"`
	Metrics     *Metrics `json:"metrics,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// OK reports whether the record carries a successful payload.
func (r ResultRecord) OK() bool {
	return r.Metrics != nil && r.Error == ""
}

// CacheEntry is the persisted result of computing one (tenant, subject,
// range). It is overwritten wholesale on every successful recomputation.
type CacheEntry struct {
	Subject      string         `json:"subject"`
	RangeName    string         `json:"range_name"`
	RangeLabel   string         `json:"range_label"`
	RangeStart   int64          `json:"range_start"`
	RangeEnd     int64          `json:"range_end"`
	GeneratedAt  time.Time      `json:"generated_at"`
	TotalRecords int            `json:"total_records"`
	Records      []ResultRecord `json:"records"`
}

// HasErrors reports whether any record ended in failure.
func (e *CacheEntry) HasErrors() bool {
	for _, r := range e.Records {
		if !r.OK() {
			return true
		}
	}
	return false
}

// Successes returns the successful records indexed by external id, for
// partial-repair regeneration.
func (e *CacheEntry) Successes() map[string]ResultRecord {
	out := make(map[string]ResultRecord, len(e.Records))
	for _, r := range e.Records {
		if r.OK() {
			out[r.ExternalID] = r
		}
	}
	return out
}
