package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pulseboard/pulseboard/internal/core"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreWithClient(client)
}

func sampleEntry() *core.CacheEntry {
	return &core.CacheEntry{
		Subject:      "Customer Success",
		RangeName:    "lastWeek",
		RangeLabel:   "Aug 10 - Aug 16, 2025",
		RangeStart:   1754790000,
		RangeEnd:     1755394799,
		GeneratedAt:  time.Date(2025, 8, 20, 9, 0, 0, 0, time.UTC),
		TotalRecords: 2,
		Records: []core.ResultRecord{
			{ExternalID: "a1", DisplayName: "Ana", Metrics: &core.Metrics{Received: 10, Sent: 7, AvgReplySeconds: 120}},
			{ExternalID: "a2", DisplayName: "Bruno", Error: "provider returned HTTP 500"},
		},
	}
}

func TestPutGetRoundtrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "acme", "customer-success", "lastWeek", sampleEntry()))

	got, err := store.Get(ctx, "acme", "customer-success", "lastWeek")
	require.NoError(t, err)
	assert.Equal(t, sampleEntry(), got)
}

func TestGetAbsentKey(t *testing.T) {
	store := testStore(t)

	_, err := store.Get(context.Background(), "acme", "nope", "lastWeek")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutOverwritesWholesale(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "acme", "sales", "lastMonth", sampleEntry()))

	replacement := sampleEntry()
	replacement.Records = replacement.Records[:1]
	replacement.TotalRecords = 1
	require.NoError(t, store.Put(ctx, "acme", "sales", "lastMonth", replacement))

	got, err := store.Get(ctx, "acme", "sales", "lastMonth")
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalRecords)
	assert.Len(t, got.Records, 1)
}

func TestDelete(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "acme", "sales", "lastWeek", sampleEntry()))
	require.NoError(t, store.Delete(ctx, "acme", "sales", "lastWeek"))

	_, err := store.Get(ctx, "acme", "sales", "lastWeek")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key is not an error.
	assert.NoError(t, store.Delete(ctx, "acme", "sales", "lastWeek"))
}

func TestSlug(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Customer Success", "customer-success"},
		{"  Sales  ", "sales"},
		{"Tier 2 Support", "tier-2-support"},
		{"Ops/Infra (EU)", "opsinfra-eu"},
		{"individuals", "individuals"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Slug(tc.in), tc.in)
	}

	// Case and whitespace variants collide into the same slug; this is the
	// documented behavior.
	assert.Equal(t, Slug("Customer Success"), Slug("customer   SUCCESS"))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "metrics:acme:customer-success:lastWeek", Key("acme", "customer-success", "lastWeek"))
}
