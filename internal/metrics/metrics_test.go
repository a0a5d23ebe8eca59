package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	tests := []struct {
		name string
		inc  func(m *Metrics)
		key  string
	}{
		{"total", (*Metrics).IncrementTotalJobs, "total_jobs"},
		{"claimed", (*Metrics).IncrementClaimedJobs, "claimed_jobs"},
		{"completed", (*Metrics).IncrementCompletedJobs, "completed_jobs"},
		{"dead", (*Metrics).IncrementDeadJobs, "dead_jobs"},
		{"retried", (*Metrics).IncrementRetriedJobs, "retried_jobs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetrics()
			tt.inc(m)
			assert.Equal(t, int64(1), m.GetSnapshot()[tt.key])
		})
	}
}

func TestMetrics_ConcurrentAccess(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementTotalJobs()
			m.IncrementCompletedJobs()
			m.ExecutorStarted()
		}()
	}
	wg.Wait()

	snapshot := m.GetSnapshot()
	assert.Equal(t, int64(100), snapshot["total_jobs"])
	assert.Equal(t, int64(100), snapshot["completed_jobs"])
	assert.Equal(t, int64(100), snapshot["active_executors"])
}

func TestMetrics_ObserveAttempt(t *testing.T) {
	m := NewMetrics()
	m.ObserveAttempt("SUCCESS", 0.5)
	m.ObserveAttempt("TIMEOUT", 2)
	m.ObserveAttempt("TIMEOUT", 3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.outcomes.WithLabelValues("SUCCESS")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.outcomes.WithLabelValues("TIMEOUT")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.jobDuration))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.IncrementTotalJobs()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "queuectl_jobs_enqueued_total 1"))
}

func TestMetrics_QueueDepth(t *testing.T) {
	t.Run("Should report counts from storage", func(t *testing.T) {
		m := NewMetrics()
		require.NoError(t, m.RegisterQueueDepth(func() (map[string]int, error) {
			return map[string]int{"PENDING": 3, "DEAD": 1}, nil
		}))

		expected := `
# HELP queuectl_jobs Number of jobs in the queue by state
# TYPE queuectl_jobs gauge
queuectl_jobs{state="DEAD"} 1
queuectl_jobs{state="PENDING"} 3
`
		assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "queuectl_jobs"))
	})

	t.Run("Should surface storage errors on scrape", func(t *testing.T) {
		m := NewMetrics()
		require.NoError(t, m.RegisterQueueDepth(func() (map[string]int, error) {
			return nil, errors.New("database is locked")
		}))

		_, err := m.Registry().Gather()
		assert.Error(t, err)
	})

	t.Run("Should reject a second registration", func(t *testing.T) {
		m := NewMetrics()
		depth := func() (map[string]int, error) { return nil, nil }
		require.NoError(t, m.RegisterQueueDepth(depth))
		assert.Error(t, m.RegisterQueueDepth(depth))
	})
}
