// Package mocks holds func-field fakes of the domain repositories.
// A nil func returns the zero value, or errors.ErrNotFound for lookups.
package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"

	"callwatch/internal/domain/detection"
	"callwatch/internal/domain/message"
	"callwatch/internal/domain/signal"
	"callwatch/internal/domain/syncjob"
	"callwatch/internal/domain/topic"
	"callwatch/pkg/errors"
)

var (
	_ message.Repository   = (*MessageRepository)(nil)
	_ topic.Repository     = (*TopicRepository)(nil)
	_ signal.Repository    = (*SignalRepository)(nil)
	_ detection.Repository = (*DetectionRepository)(nil)
	_ syncjob.Repository   = (*SyncJobRepository)(nil)
)

// MessageRepository is a mock of message.Repository
type MessageRepository struct {
	FindIDFunc              func(ctx context.Context, sourceMessageID, chatID int64) (int64, error)
	InsertFunc              func(ctx context.Context, m *message.Message) (int64, bool, error)
	RecentByThreadFunc      func(ctx context.Context, threadID int64, limit int) ([]*message.Message, error)
	TopSenderFunc           func(ctx context.Context, threadID int64) (string, error)
	SetTopicNameFunc        func(ctx context.Context, threadID int64, name string) (int64, error)
	ThreadsMissingTopicFunc func(ctx context.Context, limit int) ([]message.ThreadRef, error)
	CountSinceFunc          func(ctx context.Context, since time.Time) (int, error)
	CountMissingTopicFunc   func(ctx context.Context) (int, error)
	LastMessageAtFunc       func(ctx context.Context) (*time.Time, error)
	LatestIDPairFunc        func(ctx context.Context) (*message.IDPair, error)
	DeleteDuplicatesFunc    func(ctx context.Context, limit int) (int, error)
}

func (m *MessageRepository) FindID(ctx context.Context, sourceMessageID, chatID int64) (int64, error) {
	if m.FindIDFunc != nil {
		return m.FindIDFunc(ctx, sourceMessageID, chatID)
	}
	return 0, errors.ErrNotFound
}

func (m *MessageRepository) Insert(ctx context.Context, msg *message.Message) (int64, bool, error) {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, msg)
	}
	return 1, true, nil
}

func (m *MessageRepository) RecentByThread(ctx context.Context, threadID int64, limit int) ([]*message.Message, error) {
	if m.RecentByThreadFunc != nil {
		return m.RecentByThreadFunc(ctx, threadID, limit)
	}
	return nil, nil
}

func (m *MessageRepository) TopSender(ctx context.Context, threadID int64) (string, error) {
	if m.TopSenderFunc != nil {
		return m.TopSenderFunc(ctx, threadID)
	}
	return "", errors.ErrNotFound
}

func (m *MessageRepository) SetTopicName(ctx context.Context, threadID int64, name string) (int64, error) {
	if m.SetTopicNameFunc != nil {
		return m.SetTopicNameFunc(ctx, threadID, name)
	}
	return 0, nil
}

func (m *MessageRepository) ThreadsMissingTopic(ctx context.Context, limit int) ([]message.ThreadRef, error) {
	if m.ThreadsMissingTopicFunc != nil {
		return m.ThreadsMissingTopicFunc(ctx, limit)
	}
	return nil, nil
}

func (m *MessageRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	if m.CountSinceFunc != nil {
		return m.CountSinceFunc(ctx, since)
	}
	return 0, nil
}

func (m *MessageRepository) CountMissingTopic(ctx context.Context) (int, error) {
	if m.CountMissingTopicFunc != nil {
		return m.CountMissingTopicFunc(ctx)
	}
	return 0, nil
}

func (m *MessageRepository) LastMessageAt(ctx context.Context) (*time.Time, error) {
	if m.LastMessageAtFunc != nil {
		return m.LastMessageAtFunc(ctx)
	}
	return nil, nil
}

func (m *MessageRepository) LatestIDPair(ctx context.Context) (*message.IDPair, error) {
	if m.LatestIDPairFunc != nil {
		return m.LatestIDPairFunc(ctx)
	}
	return nil, errors.ErrNotFound
}

func (m *MessageRepository) DeleteDuplicates(ctx context.Context, limit int) (int, error) {
	if m.DeleteDuplicatesFunc != nil {
		return m.DeleteDuplicatesFunc(ctx, limit)
	}
	return 0, nil
}

// TopicRepository is a mock of topic.Repository
type TopicRepository struct {
	ActiveMappingFunc       func(ctx context.Context, threadID int64) (*topic.Mapping, error)
	CountActiveMappingsFunc func(ctx context.Context) (int, error)
	GetByThreadFunc         func(ctx context.Context, threadID int64) (*topic.Topic, error)
	CreateIfAbsentFunc      func(ctx context.Context, t *topic.Topic) (bool, error)
	RenameFunc              func(ctx context.Context, threadID int64, name string, generic bool) (bool, error)
	ListGenericFunc         func(ctx context.Context, limit int) ([]*topic.Topic, error)
	RefreshCountersFunc     func(ctx context.Context, limit int) (int, error)
}

func (m *TopicRepository) ActiveMapping(ctx context.Context, threadID int64) (*topic.Mapping, error) {
	if m.ActiveMappingFunc != nil {
		return m.ActiveMappingFunc(ctx, threadID)
	}
	return nil, errors.ErrNotFound
}

func (m *TopicRepository) CountActiveMappings(ctx context.Context) (int, error) {
	if m.CountActiveMappingsFunc != nil {
		return m.CountActiveMappingsFunc(ctx)
	}
	return 0, nil
}

func (m *TopicRepository) GetByThread(ctx context.Context, threadID int64) (*topic.Topic, error) {
	if m.GetByThreadFunc != nil {
		return m.GetByThreadFunc(ctx, threadID)
	}
	return nil, errors.ErrNotFound
}

func (m *TopicRepository) CreateIfAbsent(ctx context.Context, t *topic.Topic) (bool, error) {
	if m.CreateIfAbsentFunc != nil {
		return m.CreateIfAbsentFunc(ctx, t)
	}
	return true, nil
}

func (m *TopicRepository) Rename(ctx context.Context, threadID int64, name string, generic bool) (bool, error) {
	if m.RenameFunc != nil {
		return m.RenameFunc(ctx, threadID, name, generic)
	}
	return false, nil
}

func (m *TopicRepository) ListGeneric(ctx context.Context, limit int) ([]*topic.Topic, error) {
	if m.ListGenericFunc != nil {
		return m.ListGenericFunc(ctx, limit)
	}
	return nil, nil
}

func (m *TopicRepository) RefreshCounters(ctx context.Context, limit int) (int, error) {
	if m.RefreshCountersFunc != nil {
		return m.RefreshCountersFunc(ctx, limit)
	}
	return 0, nil
}

// SignalRepository is a mock of signal.Repository
type SignalRepository struct {
	CreateFunc         func(ctx context.Context, s *signal.Signal) (bool, error)
	GetByIDFunc        func(ctx context.Context, id uuid.UUID) (*signal.Signal, error)
	ActiveByTickerFunc func(ctx context.Context, ticker string) ([]*signal.Signal, error)
	CloseActiveFunc    func(ctx context.Context, p signal.CloseParams) ([]uuid.UUID, error)
}

func (m *SignalRepository) Create(ctx context.Context, s *signal.Signal) (bool, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, s)
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return true, nil
}

func (m *SignalRepository) GetByID(ctx context.Context, id uuid.UUID) (*signal.Signal, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, errors.ErrNotFound
}

func (m *SignalRepository) ActiveByTicker(ctx context.Context, ticker string) ([]*signal.Signal, error) {
	if m.ActiveByTickerFunc != nil {
		return m.ActiveByTickerFunc(ctx, ticker)
	}
	return nil, nil
}

func (m *SignalRepository) CloseActive(ctx context.Context, p signal.CloseParams) ([]uuid.UUID, error) {
	if m.CloseActiveFunc != nil {
		return m.CloseActiveFunc(ctx, p)
	}
	return nil, nil
}

// DetectionRepository is a mock of detection.Repository
type DetectionRepository struct {
	ChannelConfigFunc  func(ctx context.Context, chatID int64) (*detection.ChannelConfig, error)
	ActivePatternsFunc func(ctx context.Context, analystID uuid.UUID) ([]*detection.Pattern, error)
	CreateFunc         func(ctx context.Context, d *detection.Detection) (bool, error)
	GetByIDFunc        func(ctx context.Context, id uuid.UUID) (*detection.Detection, error)
	LinkSignalFunc     func(ctx context.Context, id, signalID uuid.UUID, status detection.Status) error
	MarkReviewedFunc   func(ctx context.Context, id uuid.UUID, status detection.Status, reviewer string, at time.Time) (bool, error)
}

func (m *DetectionRepository) ChannelConfig(ctx context.Context, chatID int64) (*detection.ChannelConfig, error) {
	if m.ChannelConfigFunc != nil {
		return m.ChannelConfigFunc(ctx, chatID)
	}
	return nil, errors.ErrNotFound
}

func (m *DetectionRepository) ActivePatterns(ctx context.Context, analystID uuid.UUID) ([]*detection.Pattern, error) {
	if m.ActivePatternsFunc != nil {
		return m.ActivePatternsFunc(ctx, analystID)
	}
	return nil, nil
}

func (m *DetectionRepository) Create(ctx context.Context, d *detection.Detection) (bool, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, d)
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return true, nil
}

func (m *DetectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*detection.Detection, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, errors.ErrNotFound
}

func (m *DetectionRepository) LinkSignal(ctx context.Context, id, signalID uuid.UUID, status detection.Status) error {
	if m.LinkSignalFunc != nil {
		return m.LinkSignalFunc(ctx, id, signalID, status)
	}
	return nil
}

func (m *DetectionRepository) MarkReviewed(ctx context.Context, id uuid.UUID, status detection.Status, reviewer string, at time.Time) (bool, error) {
	if m.MarkReviewedFunc != nil {
		return m.MarkReviewedFunc(ctx, id, status, reviewer, at)
	}
	return true, nil
}

// SyncJobRepository is a mock of syncjob.Repository
type SyncJobRepository struct {
	StartFunc             func(ctx context.Context, job *syncjob.Job) error
	UpdateProgressFunc    func(ctx context.Context, id uuid.UUID, synced, errorCount int) error
	FinishFunc            func(ctx context.Context, id uuid.UUID, p syncjob.FinishParams) error
	IsCancelRequestedFunc func(ctx context.Context, id uuid.UUID) (bool, error)
	RequestCancelFunc     func(ctx context.Context, id *uuid.UUID) (uuid.UUID, error)
	CancelAllRunningFunc  func(ctx context.Context, reason string) (int, error)
	CancelStaleFunc       func(ctx context.Context, olderThan time.Duration) (int, error)
	RunningFunc           func(ctx context.Context) (*syncjob.Job, error)
	LastCompletedFunc     func(ctx context.Context) (*syncjob.Job, error)
	RecentFunc            func(ctx context.Context, limit int) ([]*syncjob.Job, error)
}

func (m *SyncJobRepository) Start(ctx context.Context, job *syncjob.Job) error {
	if m.StartFunc != nil {
		return m.StartFunc(ctx, job)
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	return nil
}

func (m *SyncJobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, synced, errorCount int) error {
	if m.UpdateProgressFunc != nil {
		return m.UpdateProgressFunc(ctx, id, synced, errorCount)
	}
	return nil
}

func (m *SyncJobRepository) Finish(ctx context.Context, id uuid.UUID, p syncjob.FinishParams) error {
	if m.FinishFunc != nil {
		return m.FinishFunc(ctx, id, p)
	}
	return nil
}

func (m *SyncJobRepository) IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	if m.IsCancelRequestedFunc != nil {
		return m.IsCancelRequestedFunc(ctx, id)
	}
	return false, nil
}

func (m *SyncJobRepository) RequestCancel(ctx context.Context, id *uuid.UUID) (uuid.UUID, error) {
	if m.RequestCancelFunc != nil {
		return m.RequestCancelFunc(ctx, id)
	}
	return uuid.Nil, errors.ErrNotFound
}

func (m *SyncJobRepository) CancelAllRunning(ctx context.Context, reason string) (int, error) {
	if m.CancelAllRunningFunc != nil {
		return m.CancelAllRunningFunc(ctx, reason)
	}
	return 0, nil
}

func (m *SyncJobRepository) CancelStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if m.CancelStaleFunc != nil {
		return m.CancelStaleFunc(ctx, olderThan)
	}
	return 0, nil
}

func (m *SyncJobRepository) Running(ctx context.Context) (*syncjob.Job, error) {
	if m.RunningFunc != nil {
		return m.RunningFunc(ctx)
	}
	return nil, errors.ErrNotFound
}

func (m *SyncJobRepository) LastCompleted(ctx context.Context) (*syncjob.Job, error) {
	if m.LastCompletedFunc != nil {
		return m.LastCompletedFunc(ctx)
	}
	return nil, errors.ErrNotFound
}

func (m *SyncJobRepository) Recent(ctx context.Context, limit int) ([]*syncjob.Job, error) {
	if m.RecentFunc != nil {
		return m.RecentFunc(ctx, limit)
	}
	return nil, nil
}
