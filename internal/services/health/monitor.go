package health

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"callwatch/internal/domain/message"
	"callwatch/internal/domain/syncjob"
	"callwatch/internal/domain/topic"
	"callwatch/internal/metrics"
	"callwatch/internal/services/topics"
	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
)

// Check thresholds
const (
	StallWindow          = time.Hour
	MaxMissingTopics     = 5
	RecentJobWindow      = 5
	MaxRecentFailures    = 3
	MaxMessageGap        = 50
	DefaultRepairLimit   = 200
	DefaultStaleJobAfter = 30 * time.Minute
	issuePenalty         = 20
)

// Check names
const (
	CheckIngestionStall = "ingestion_stall"
	CheckMissingTopics  = "missing_topics"
	CheckSyncFailures   = "sync_failures"
	CheckTopicMappings  = "topic_mappings"
	CheckMessageGap     = "message_gap"
)

// Severity of a failed check
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// CheckResult is the outcome of one check
type CheckResult struct {
	Name     string   `json:"name"`
	OK       bool     `json:"ok"`
	Severity Severity `json:"severity,omitempty"`
	Value    int64    `json:"value"`
	Detail   string   `json:"detail"`
	Error    string   `json:"error,omitempty"`
}

// Report aggregates all checks
type Report struct {
	Score           int           `json:"score"`
	Issues          int           `json:"issues"`
	Checks          []CheckResult `json:"checks"`
	Recommendations []string      `json:"recommendations"`
	LastMessageAt   *time.Time    `json:"last_message_at,omitempty"`
	LastActivity    string        `json:"last_activity"`
	CheckedAt       time.Time     `json:"checked_at"`
}

// Healthy reports whether no check failed
func (r Report) Healthy() bool {
	return r.Issues == 0
}

// RepairResult summarizes a repair pass
type RepairResult struct {
	ThreadsResolved    int      `json:"threads_resolved"`
	MessagesBackfilled int64    `json:"messages_backfilled"`
	TopicsUpgraded     int      `json:"topics_upgraded"`
	CountersRefreshed  int      `json:"counters_refreshed"`
	StaleJobsCancelled int      `json:"stale_jobs_cancelled"`
	Errors             []string `json:"errors,omitempty"`
}

// TopicResolver names threads and upgrades generic names
type TopicResolver interface {
	Resolve(ctx context.Context, threadID, chatID int64, s topics.Sample) (string, error)
	Upgrade(ctx context.Context, threadID int64) (string, bool, error)
}

// Config holds repair bounds
type Config struct {
	RepairLimit   int
	StaleJobAfter time.Duration
}

// Monitor checks persisted pipeline state and repairs what it safely can.
// It never touches signals or detections.
type Monitor struct {
	messages message.Repository
	topics   topic.Repository
	jobs     syncjob.Repository
	resolver TopicResolver
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
}

// NewMonitor creates a new health monitor
func NewMonitor(
	messages message.Repository,
	topicRepo topic.Repository,
	jobs syncjob.Repository,
	resolver TopicResolver,
	cfg Config,
	log *logger.Logger,
) *Monitor {
	if cfg.RepairLimit <= 0 || cfg.RepairLimit > DefaultRepairLimit {
		cfg.RepairLimit = DefaultRepairLimit
	}
	if cfg.StaleJobAfter <= 0 {
		cfg.StaleJobAfter = DefaultStaleJobAfter
	}
	return &Monitor{
		messages: messages,
		topics:   topicRepo,
		jobs:     jobs,
		resolver: resolver,
		cfg:      cfg,
		log:      log.With("component", "health_monitor"),
		now:      time.Now,
	}
}

// Check runs every check independently. A check that cannot run counts as an issue.
func (m *Monitor) Check(ctx context.Context) Report {
	now := m.now()
	report := Report{CheckedAt: now, LastActivity: "never"}

	checks := []struct {
		name   string
		advice string
		run    func(context.Context, time.Time) CheckResult
	}{
		{CheckIngestionStall, "No messages in the last hour: verify the webhook is registered or trigger a sync.", m.checkStall},
		{CheckMissingTopics, "Messages are missing topic names: run repair to back-fill them.", m.checkMissingTopics},
		{CheckSyncFailures, "Sync keeps failing: inspect the last job errors, then reset the backoff.", m.checkSyncFailures},
		{CheckTopicMappings, "No curated topic mappings: add mappings for the main threads.", m.checkMappings},
		{CheckMessageGap, "Large gap between recent message ids: run a sync to pick up missed messages.", m.checkGap},
	}

	for _, c := range checks {
		res := c.run(ctx, now)
		res.Name = c.name
		if !res.OK {
			report.Issues++
			report.Recommendations = append(report.Recommendations, c.advice)
		}
		report.Checks = append(report.Checks, res)
	}

	last, err := m.messages.LastMessageAt(ctx)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		m.log.Warnw("Failed to load last message time", "error", err)
	}
	if last != nil {
		report.LastMessageAt = last
		report.LastActivity = humanize.RelTime(*last, now, "ago", "from now")
	}

	report.Score = 100 - issuePenalty*report.Issues
	if report.Score < 0 {
		report.Score = 0
	}
	metrics.SetHealth(report.Score, report.Issues)

	if report.Issues > 0 {
		m.log.Warnw("Health check found issues", "score", report.Score, "issues", report.Issues)
	}
	return report
}

func failed(err error) CheckResult {
	return CheckResult{Severity: SeverityWarning, Detail: "check could not run", Error: err.Error()}
}

func (m *Monitor) checkStall(ctx context.Context, now time.Time) CheckResult {
	n, err := m.messages.CountSince(ctx, now.Add(-StallWindow))
	if err != nil {
		return failed(err)
	}
	res := CheckResult{OK: n > 0, Value: int64(n), Detail: fmt.Sprintf("%d messages in the last hour", n)}
	if !res.OK {
		res.Severity = SeverityWarning
	}
	return res
}

func (m *Monitor) checkMissingTopics(ctx context.Context, _ time.Time) CheckResult {
	n, err := m.messages.CountMissingTopic(ctx)
	if err != nil {
		return failed(err)
	}
	res := CheckResult{OK: n <= MaxMissingTopics, Value: int64(n), Detail: fmt.Sprintf("%d threaded messages without a topic name", n)}
	if !res.OK {
		res.Severity = SeverityWarning
	}
	return res
}

func (m *Monitor) checkSyncFailures(ctx context.Context, _ time.Time) CheckResult {
	jobs, err := m.jobs.Recent(ctx, RecentJobWindow)
	if err != nil {
		return failed(err)
	}
	n := 0
	for _, j := range jobs {
		if j.Status == syncjob.StatusFailed {
			n++
		}
	}
	res := CheckResult{OK: n < MaxRecentFailures, Value: int64(n), Detail: fmt.Sprintf("%d of the last %d sync jobs failed", n, len(jobs))}
	if !res.OK {
		res.Severity = SeverityWarning
	}
	return res
}

func (m *Monitor) checkMappings(ctx context.Context, _ time.Time) CheckResult {
	n, err := m.topics.CountActiveMappings(ctx)
	if err != nil {
		return failed(err)
	}
	res := CheckResult{OK: n > 0, Value: int64(n), Detail: fmt.Sprintf("%d active topic mappings", n)}
	if !res.OK {
		res.Severity = SeverityInfo
	}
	return res
}

func (m *Monitor) checkGap(ctx context.Context, _ time.Time) CheckResult {
	pair, err := m.messages.LatestIDPair(ctx)
	if errors.Is(err, errors.ErrNotFound) {
		return CheckResult{OK: true, Detail: "no messages stored"}
	}
	if err != nil {
		return failed(err)
	}
	gap := pair.Gap()
	res := CheckResult{
		OK:     gap <= MaxMessageGap,
		Value:  gap,
		Detail: fmt.Sprintf("chat %d: latest %d, previous %d", pair.ChatID, pair.Latest, pair.Previous),
	}
	if !res.OK {
		res.Severity = SeverityWarning
	}
	return res
}

// Repair back-fills topic names, upgrades generic topics, refreshes counters
// and cancels stale running jobs. Steps run independently; their errors are joined.
func (m *Monitor) Repair(ctx context.Context) (RepairResult, error) {
	var res RepairResult
	merr := &errors.MultiError{}
	fail := func(err error) {
		merr.Add(err)
		res.Errors = append(res.Errors, err.Error())
	}

	threads, err := m.messages.ThreadsMissingTopic(ctx, m.cfg.RepairLimit)
	if err != nil {
		fail(errors.Wrap(err, "failed to list threads missing topics"))
	}
	for _, t := range threads {
		name, err := m.resolver.Resolve(ctx, t.ThreadID, t.ChatID, topics.Sample{Text: t.Sample})
		if err != nil {
			fail(errors.Wrapf(err, "failed to resolve thread %d", t.ThreadID))
			continue
		}
		n, err := m.messages.SetTopicName(ctx, t.ThreadID, name)
		if err != nil {
			fail(errors.Wrapf(err, "failed to back-fill thread %d", t.ThreadID))
			continue
		}
		res.ThreadsResolved++
		res.MessagesBackfilled += n
	}

	generic, err := m.topics.ListGeneric(ctx, m.cfg.RepairLimit)
	if err != nil {
		fail(errors.Wrap(err, "failed to list generic topics"))
	}
	for _, t := range generic {
		_, renamed, err := m.resolver.Upgrade(ctx, t.ThreadID)
		if err != nil {
			fail(errors.Wrapf(err, "failed to upgrade thread %d", t.ThreadID))
			continue
		}
		if renamed {
			res.TopicsUpgraded++
		}
	}

	if res.CountersRefreshed, err = m.topics.RefreshCounters(ctx, m.cfg.RepairLimit); err != nil {
		fail(errors.Wrap(err, "failed to refresh topic counters"))
	}

	if res.StaleJobsCancelled, err = m.jobs.CancelStale(ctx, m.cfg.StaleJobAfter); err != nil {
		fail(errors.Wrap(err, "failed to cancel stale sync jobs"))
	}

	m.log.Infow("Health repair finished",
		"threads_resolved", res.ThreadsResolved,
		"messages_backfilled", res.MessagesBackfilled,
		"topics_upgraded", res.TopicsUpgraded,
		"counters_refreshed", res.CountersRefreshed,
		"stale_jobs_cancelled", res.StaleJobsCancelled,
		"errors", len(res.Errors),
	)
	return res, merr.ToError()
}
