package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordStatus("transcribing")
	m.RecordStatus("transcribing")
	m.RecordSubmitRetry("channel-count")
	m.RecordSubmission("transcribing", 0.3)
	m.RecordConflict()
	m.RecordHTTPRequest("POST", "/request-transcribe/", "200", 0.1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StatusTransitions.WithLabelValues("transcribing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmitRetries.WithLabelValues("channel-count")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("transcribing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Conflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/request-transcribe/", "200")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsRecordsNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordStatus("uploaded")
		m.RecordConflict()
		m.RecordQuotaRejection()
		m.RecordSubmission("transcribing-error", 1)
		m.RecordSubmitRetry("internal")
		m.RecordProgressPoll()
		m.RecordResumeDecision("wait")
		m.RecordCleanupFailure()
		m.RecordTranscriptSaved()
		m.RecordHTTPRequest("GET", "/wake-up/", "200", 0)
	})
}
