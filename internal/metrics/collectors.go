package metrics

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"callwatch/pkg/logger"
)

// PipelineCollector reads point-in-time gauges from the stores on every scrape
type PipelineCollector struct {
	log      *logger.Logger
	postgres *sqlx.DB
	redis    *redis.Client

	messagesTotal     *prometheus.Desc
	activeSignals     *prometheus.Desc
	pendingDetections *prometheus.Desc
	topics            *prometheus.Desc
	cachedKeys        *prometheus.Desc
}

// NewPipelineCollector creates a new collector. redis may be nil.
func NewPipelineCollector(log *logger.Logger, postgres *sqlx.DB, redis *redis.Client) *PipelineCollector {
	return &PipelineCollector{
		log:      log.With("component", "metrics_collector"),
		postgres: postgres,
		redis:    redis,

		messagesTotal: prometheus.NewDesc(
			"callwatch_messages_stored",
			"Number of stored Telegram messages",
			nil, nil,
		),
		activeSignals: prometheus.NewDesc(
			"callwatch_active_signals",
			"Active analyst signals by origin",
			[]string{"origin"}, nil,
		),
		pendingDetections: prometheus.NewDesc(
			"callwatch_pending_detections",
			"Detections waiting for manual review",
			nil, nil,
		),
		topics: prometheus.NewDesc(
			"callwatch_topics",
			"Known forum topics",
			[]string{"generic"}, nil,
		),
		cachedKeys: prometheus.NewDesc(
			"callwatch_redis_keys",
			"Keys in the Redis cache database",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *PipelineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.messagesTotal
	ch <- c.activeSignals
	ch <- c.pendingDetections
	ch <- c.topics
	ch <- c.cachedKeys
}

// Collect implements prometheus.Collector
func (c *PipelineCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.collectCount(ctx, ch, c.messagesTotal, "SELECT COUNT(*) FROM telegram_messages")
	c.collectCount(ctx, ch, c.pendingDetections, "SELECT COUNT(*) FROM call_detections WHERE status = 'pending'")
	c.collectActiveSignals(ctx, ch)
	c.collectTopics(ctx, ch)
	c.collectRedisKeys(ctx, ch)
}

func (c *PipelineCollector) collectCount(ctx context.Context, ch chan<- prometheus.Metric, desc *prometheus.Desc, query string) {
	var count int64
	if err := c.postgres.GetContext(ctx, &count, query); err != nil {
		c.log.Warnw("Failed to collect metric", "metric", desc.String(), "error", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(count))
}

func (c *PipelineCollector) collectActiveSignals(ctx context.Context, ch chan<- prometheus.Metric) {
	type originCount struct {
		Origin string `db:"origin"`
		Count  int64  `db:"count"`
	}

	var rows []originCount
	err := c.postgres.SelectContext(ctx, &rows, `
		SELECT origin, COUNT(*) AS count
		FROM analyst_signals
		WHERE status = 'active'
		GROUP BY origin
	`)
	if err != nil {
		c.log.Warnw("Failed to collect active signals", "error", err)
		return
	}

	for _, row := range rows {
		ch <- prometheus.MustNewConstMetric(c.activeSignals, prometheus.GaugeValue, float64(row.Count), row.Origin)
	}
}

func (c *PipelineCollector) collectTopics(ctx context.Context, ch chan<- prometheus.Metric) {
	var counts struct {
		Generic int64 `db:"generic"`
		Named   int64 `db:"named"`
	}

	err := c.postgres.GetContext(ctx, &counts, `
		SELECT
			COUNT(*) FILTER (WHERE is_generic) AS generic,
			COUNT(*) FILTER (WHERE NOT is_generic) AS named
		FROM telegram_topics
	`)
	if err != nil {
		c.log.Warnw("Failed to collect topic counts", "error", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.topics, prometheus.GaugeValue, float64(counts.Generic), "true")
	ch <- prometheus.MustNewConstMetric(c.topics, prometheus.GaugeValue, float64(counts.Named), "false")
}

func (c *PipelineCollector) collectRedisKeys(ctx context.Context, ch chan<- prometheus.Metric) {
	if c.redis == nil {
		return
	}

	size, err := c.redis.DBSize(ctx).Result()
	if err != nil {
		c.log.Warnw("Failed to collect redis key count", "error", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.cachedKeys, prometheus.GaugeValue, float64(size))
}

// RegisterPipelineCollector registers the collector with the default registry
func RegisterPipelineCollector(collector *PipelineCollector) {
	prometheus.MustRegister(collector)
}
