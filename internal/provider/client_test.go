package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pulseboard/pulseboard/internal/config"
	"github.com/pulseboard/pulseboard/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() config.ProviderConfig {
	return config.ProviderConfig{
		RequestTimeout:    5 * time.Second,
		MaxRetries:        4,
		BaseBackoff:       10 * time.Millisecond,
		MaxBackoff:        50 * time.Millisecond,
		RateLimitFallback: 30 * time.Millisecond,
		RateLimitMargin:   5 * time.Millisecond,
	}
}

func testClient(t *testing.T, cfg config.ProviderConfig) (*Client, *[]time.Duration) {
	t.Helper()
	c := NewClient(cfg, "America/Sao_Paulo", zap.NewNop())
	sleeps := &[]time.Duration{}
	c.sleep = func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return c, sleeps
}

func record() core.SubjectRecord {
	return core.SubjectRecord{ExternalID: "agent-7", DisplayName: "Ana Souza", ChannelCode: "support"}
}

func spec() core.RangeSpec {
	return core.RangeSpec{Name: "lastWeek", Label: "Aug 10 - Aug 16, 2025", Start: 1754000000, End: 1754600000}
}

func TestFetchPendingThenDone(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if calls <= 2 {
			fmt.Fprint(w, `{"status":"processing"}`)
			return
		}
		fmt.Fprint(w, `{"status":"done","metrics":[120,87,340.5]}`)
	}))
	defer srv.Close()

	c, sleeps := testClient(t, testConfig())
	result := c.Fetch(context.Background(), record(), spec(), "secret", srv.URL)

	require.True(t, result.OK(), result.Error)
	assert.Equal(t, int64(120), result.Metrics.Received)
	assert.Equal(t, int64(87), result.Metrics.Sent)
	assert.InDelta(t, 340.5, result.Metrics.AvgReplySeconds, 0.001)
	assert.Equal(t, 3, calls)
	// Exactly two backoff waits, growing with attempt number.
	require.Len(t, *sleeps, 2)
	assert.Equal(t, 10*time.Millisecond, (*sleeps)[0])
	assert.Equal(t, 20*time.Millisecond, (*sleeps)[1])
}

func TestFetchExhaustsRetryBudget(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"status":"processing"}`)
	}))
	defer srv.Close()

	cfg := testConfig()
	c, _ := testClient(t, cfg)
	result := c.Fetch(context.Background(), record(), spec(), "secret", srv.URL)

	assert.False(t, result.OK())
	assert.Contains(t, result.Error, "still processing")
	assert.Equal(t, cfg.MaxRetries, calls)
}

func TestFetchBackoffCappedAtMax(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"processing"}`)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxRetries = 10
	c, sleeps := testClient(t, cfg)
	c.Fetch(context.Background(), record(), spec(), "secret", srv.URL)

	for _, d := range *sleeps {
		assert.LessOrEqual(t, d, cfg.MaxBackoff)
	}
}

func TestFetchHonorsRateLimitHint(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":"rate limited","retry_after_seconds":2}`)
			return
		}
		fmt.Fprint(w, `{"status":"done","metrics":[1,2,3]}`)
	}))
	defer srv.Close()

	cfg := testConfig()
	c, sleeps := testClient(t, cfg)
	result := c.Fetch(context.Background(), record(), spec(), "secret", srv.URL)

	require.True(t, result.OK(), result.Error)
	// The hinted wait plus margin, not the default backoff.
	require.Len(t, *sleeps, 1)
	assert.Equal(t, 2*time.Second+cfg.RateLimitMargin, (*sleeps)[0])
}

func TestFetchRateLimitFallsBackToHeader(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `rate limited`)
			return
		}
		fmt.Fprint(w, `{"status":"done","metrics":[1,2,3]}`)
	}))
	defer srv.Close()

	cfg := testConfig()
	c, sleeps := testClient(t, cfg)
	result := c.Fetch(context.Background(), record(), spec(), "secret", srv.URL)

	require.True(t, result.OK(), result.Error)
	require.Len(t, *sleeps, 1)
	assert.Equal(t, time.Second+cfg.RateLimitMargin, (*sleeps)[0])
}

func TestFetchRateLimitDoesNotConsumeBudgetByDefault(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 5 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"retry_after_seconds":1}`)
			return
		}
		fmt.Fprint(w, `{"status":"done","metrics":[1,2,3]}`)
	}))
	defer srv.Close()

	// MaxRetries is 4, but five consecutive 429s still end in success
	// because hinted waits get their own allowance.
	c, _ := testClient(t, testConfig())
	result := c.Fetch(context.Background(), record(), spec(), "secret", srv.URL)

	require.True(t, result.OK(), result.Error)
	assert.Equal(t, 6, calls)
}

func TestFetchRateLimitCountsInBudgetWhenConfigured(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"retry_after_seconds":1}`)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.CountRateLimitInBudget = true
	c, _ := testClient(t, cfg)
	result := c.Fetch(context.Background(), record(), spec(), "secret", srv.URL)

	assert.False(t, result.OK())
	assert.Contains(t, result.Error, "rate limited")
	assert.Equal(t, cfg.MaxRetries, calls)
}

func TestFetchHardFailureNoRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, sleeps := testClient(t, testConfig())
	result := c.Fetch(context.Background(), record(), spec(), "secret", srv.URL)

	assert.False(t, result.OK())
	assert.Contains(t, result.Error, "HTTP 500")
	assert.Equal(t, 1, calls)
	assert.Empty(t, *sleeps)
}

func TestFetchTerminalErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"failed","error":"no such agent"}`)
	}))
	defer srv.Close()

	c, _ := testClient(t, testConfig())
	result := c.Fetch(context.Background(), record(), spec(), "secret", srv.URL)

	assert.False(t, result.OK())
	assert.Contains(t, result.Error, "no such agent")
}

func TestFetchUnreachableEndpoint(t *testing.T) {
	c, _ := testClient(t, testConfig())
	result := c.Fetch(context.Background(), record(), spec(), "secret", "http://127.0.0.1:1/analytics")

	assert.False(t, result.OK())
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, "agent-7", result.ExternalID)
}
