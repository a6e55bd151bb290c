package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Lifecycle metrics
	StatusTransitions *prometheus.CounterVec
	Conflicts         prometheus.Counter
	QuotaRejections   prometheus.Counter

	// Remote recognizer metrics
	Submissions      *prometheus.CounterVec
	SubmitRetries    *prometheus.CounterVec
	SubmitDuration   prometheus.Histogram
	ProgressPolls    prometheus.Counter
	ResumeDecisions  *prometheus.CounterVec
	CleanupFailures  prometheus.Counter
	TranscriptsSaved prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StatusTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "khmerscribe_status_transitions_total",
			Help: "Total number of request status changes, by new status",
		}, []string{"status"}),
		Conflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "khmerscribe_write_conflicts_total",
			Help: "Total number of request writes rejected by a concurrent update",
		}),
		QuotaRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "khmerscribe_quota_rejections_total",
			Help: "Total number of requests rejected for exceeding the file size quota",
		}),

		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "khmerscribe_submissions_total",
			Help: "Total number of long-running recognize submissions, by final outcome",
		}, []string{"outcome"}),
		SubmitRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "khmerscribe_submit_retries_total",
			Help: "Total number of resubmissions, by error kind",
		}, []string{"kind"}),
		SubmitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "khmerscribe_submit_duration_seconds",
			Help:    "Time from first submission attempt to the final outcome",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}),
		ProgressPolls: factory.NewCounter(prometheus.CounterOpts{
			Name: "khmerscribe_progress_polls_total",
			Help: "Total number of remote operation progress checks",
		}),
		ResumeDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "khmerscribe_resume_decisions_total",
			Help: "Total number of resume requests, by decision",
		}, []string{"decision"}),
		CleanupFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "khmerscribe_cleanup_failures_total",
			Help: "Total number of audio files that could not be deleted after transcription",
		}),
		TranscriptsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "khmerscribe_transcripts_saved_total",
			Help: "Total number of transcript documents written",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "khmerscribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "khmerscribe_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordStatus increments the transition counter for status
func (m *Metrics) RecordStatus(status string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(status).Inc()
}

// RecordConflict increments the write conflict counter
func (m *Metrics) RecordConflict() {
	if m == nil {
		return
	}
	m.Conflicts.Inc()
}

// RecordQuotaRejection increments the quota rejection counter
func (m *Metrics) RecordQuotaRejection() {
	if m == nil {
		return
	}
	m.QuotaRejections.Inc()
}

// RecordSubmission records the final outcome of a submission loop
func (m *Metrics) RecordSubmission(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
	m.SubmitDuration.Observe(durationSeconds)
}

// RecordSubmitRetry increments the retry counter for an error kind
func (m *Metrics) RecordSubmitRetry(kind string) {
	if m == nil {
		return
	}
	m.SubmitRetries.WithLabelValues(kind).Inc()
}

// RecordProgressPoll increments the progress poll counter
func (m *Metrics) RecordProgressPoll() {
	if m == nil {
		return
	}
	m.ProgressPolls.Inc()
}

// RecordResumeDecision increments the resume decision counter
func (m *Metrics) RecordResumeDecision(decision string) {
	if m == nil {
		return
	}
	m.ResumeDecisions.WithLabelValues(decision).Inc()
}

// RecordCleanupFailure increments the cleanup failure counter
func (m *Metrics) RecordCleanupFailure() {
	if m == nil {
		return
	}
	m.CleanupFailures.Inc()
}

// RecordTranscriptSaved increments the transcript counter
func (m *Metrics) RecordTranscriptSaved() {
	if m == nil {
		return
	}
	m.TranscriptsSaved.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
