package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callwatch_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callwatch_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"worker"},
	)

	WorkerLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "callwatch_worker_last_run_timestamp",
			Help: "Unix timestamp of last worker execution",
		},
		[]string{"worker"},
	)

	// Ingestion metrics
	IngestResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callwatch_ingest_results_total",
			Help: "Messages seen by the ingestion pipeline by result",
		},
		[]string{"result"}, // inserted|duplicate|skipped|error
	)

	DetectionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callwatch_detection_outcomes_total",
			Help: "Call detection attempts by outcome",
		},
		[]string{"outcome"},
	)

	CommandResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callwatch_command_results_total",
			Help: "Chat command executions by command and status",
		},
		[]string{"command", "status"},
	)

	// Sync metrics
	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callwatch_sync_runs_total",
			Help: "Sync runs by final status",
		},
		[]string{"status"},
	)

	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "callwatch_sync_duration_seconds",
			Help:    "Duration of sync runs that reached the fetch stage",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	SyncBackoffSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "callwatch_sync_backoff_seconds",
			Help: "Current delay before the next sync attempt is allowed",
		},
	)

	SyncConsecutiveErrors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "callwatch_sync_consecutive_errors",
			Help: "Consecutive failed sync runs in this process",
		},
	)

	// Health metrics
	HealthScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "callwatch_health_score",
			Help: "Pipeline health score from 0 to 100",
		},
	)

	HealthIssues = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "callwatch_health_issues",
			Help: "Number of issues found by the last health check",
		},
	)

	// Outbound integrations
	NotifierCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callwatch_notifier_calls_total",
			Help: "Signal notifications by result",
		},
		[]string{"status"}, // published|delivered|error
	)

	PricingCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callwatch_pricing_calls_total",
			Help: "Price oracle lookups by result",
		},
		[]string{"status"}, // hit|fetched|unavailable
	)

	PricingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "callwatch_pricing_latency_seconds",
			Help:    "Price oracle HTTP latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callwatch_kafka_messages_total",
			Help: "Total Kafka messages",
		},
		[]string{"topic", "direction"}, // direction: out|in
	)

	// HTTP metrics
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callwatch_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callwatch_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(WorkerExecutions)
	prometheus.MustRegister(WorkerDuration)
	prometheus.MustRegister(WorkerLastRun)

	prometheus.MustRegister(IngestResults)
	prometheus.MustRegister(DetectionOutcomes)
	prometheus.MustRegister(CommandResults)

	prometheus.MustRegister(SyncRuns)
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(SyncBackoffSeconds)
	prometheus.MustRegister(SyncConsecutiveErrors)

	prometheus.MustRegister(HealthScore)
	prometheus.MustRegister(HealthIssues)

	prometheus.MustRegister(NotifierCalls)
	prometheus.MustRegister(PricingCalls)
	prometheus.MustRegister(PricingLatency)
	prometheus.MustRegister(KafkaMessages)

	prometheus.MustRegister(HTTPRequests)
	prometheus.MustRegister(HTTPDuration)
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordWorkerExecution records a worker execution
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	WorkerExecutions.WithLabelValues(worker, status).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
	WorkerLastRun.WithLabelValues(worker).SetToCurrentTime()
}

// RecordSyncRun records the final status of a sync run.
// A zero duration means the run never reached the fetch stage.
func RecordSyncRun(status string, duration time.Duration) {
	SyncRuns.WithLabelValues(status).Inc()
	if duration > 0 {
		SyncDuration.Observe(duration.Seconds())
	}
}

// SetSyncBackoff publishes the in-process backoff state
func SetSyncBackoff(consecutiveErrors int, delay time.Duration) {
	SyncConsecutiveErrors.Set(float64(consecutiveErrors))
	SyncBackoffSeconds.Set(delay.Seconds())
}

// SetHealth publishes the latest health report summary
func SetHealth(score, issues int) {
	HealthScore.Set(float64(score))
	HealthIssues.Set(float64(issues))
}
