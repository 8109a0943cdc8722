package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pulseboard/pulseboard/internal/core"
)

var ErrNotFound = errors.New("cache entry not found")

// Store is durable persistence for computed results, keyed by
// (tenantSlug, subjectSlug, rangeName). The engine is the single writer per
// key; Put must be atomic from a concurrent reader's point of view.
type Store interface {
	Get(ctx context.Context, tenantSlug, subjectSlug, rangeName string) (*core.CacheEntry, error)
	Put(ctx context.Context, tenantSlug, subjectSlug, rangeName string, entry *core.CacheEntry) error
	Delete(ctx context.Context, tenantSlug, subjectSlug, rangeName string) error
}

// Slug turns a subject name into its cache key component: lowercase,
// whitespace runs collapsed to hyphens, everything else outside [a-z0-9-]
// dropped. Distinct names differing only in case or whitespace fold into the
// same slug; that collision is accepted and documented, not silently fixed.
func Slug(name string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r == ' ' || r == '\t' || r == '\n':
			pendingHyphen = true
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-':
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Key builds the full store key. It is reconstructible purely from the
// tenant slug, subject name and range name.
func Key(tenantSlug, subjectSlug, rangeName string) string {
	return fmt.Sprintf("metrics:%s:%s:%s", tenantSlug, subjectSlug, rangeName)
}
