package topics

import (
	"context"
	"fmt"
	"strings"

	"callwatch/internal/domain/message"
	"callwatch/internal/domain/topic"
	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
)

// upgradeSampleSize is how many recent messages feed a re-classification
const upgradeSampleSize = 50

// Cache is a read-through store for resolved names. Misses return errors.ErrNotFound.
type Cache interface {
	Get(ctx context.Context, threadID int64) (string, error)
	Set(ctx context.Context, threadID int64, name string) error
	Invalidate(ctx context.Context, threadID int64) error
}

// Sample is what the resolver knows about the message that triggered resolution
type Sample struct {
	Text        string
	Participant string // display name of the sender
	Hint        string // explicit topic name carried by the inbound payload
}

// Resolver maps forum threads to human-readable topic names
type Resolver struct {
	topics   topic.Repository
	messages message.Repository
	cache    Cache
	log      *logger.Logger
}

// NewResolver creates a new resolver. cache may be nil.
func NewResolver(topics topic.Repository, messages message.Repository, cache Cache, log *logger.Logger) *Resolver {
	return &Resolver{
		topics:   topics,
		messages: messages,
		cache:    cache,
		log:      log.With("component", "topic_resolver"),
	}
}

// Resolve returns the name of a thread, creating its topic row on first sight
func (r *Resolver) Resolve(ctx context.Context, threadID, chatID int64, s Sample) (string, error) {
	mapping, err := r.topics.ActiveMapping(ctx, threadID)
	switch {
	case err == nil:
		// The row still has to exist for message counters to track the thread.
		created, err := r.topics.CreateIfAbsent(ctx, &topic.Topic{
			ThreadID: threadID,
			ChatID:   chatID,
			Name:     mapping.Name,
		})
		if err != nil {
			return "", errors.Wrap(err, "failed to create mapped topic")
		}
		if created {
			r.log.Infow("Created mapped topic", "thread_id", threadID, "chat_id", chatID, "name", mapping.Name)
		}
		return mapping.Name, nil
	case !errors.Is(err, errors.ErrNotFound):
		return "", errors.Wrap(err, "failed to load topic mapping")
	}

	if name, ok := r.cached(ctx, threadID); ok {
		return name, nil
	}

	existing, err := r.topics.GetByThread(ctx, threadID)
	switch {
	case err == nil:
		r.remember(ctx, threadID, existing.Name)
		return existing.Name, nil
	case !errors.Is(err, errors.ErrNotFound):
		return "", errors.Wrap(err, "failed to load topic")
	}

	name, generic := r.infer(ctx, threadID, s)
	t := &topic.Topic{
		ThreadID:  threadID,
		ChatID:    chatID,
		Name:      name,
		IsGeneric: generic,
	}

	created, err := r.topics.CreateIfAbsent(ctx, t)
	if err != nil {
		return "", errors.Wrap(err, "failed to create topic")
	}

	if !created {
		// Another ingestor created the thread first; its name wins.
		winner, err := r.topics.GetByThread(ctx, threadID)
		if err != nil {
			return "", errors.Wrap(err, "failed to reload topic after conflict")
		}
		name = winner.Name
	} else {
		r.log.Infow("Created topic",
			"thread_id", threadID,
			"chat_id", chatID,
			"name", name,
			"generic", generic,
		)
	}

	r.remember(ctx, threadID, name)
	return name, nil
}

// infer names a new thread: hint, keyword category, participant, placeholder
func (r *Resolver) infer(ctx context.Context, threadID int64, s Sample) (string, bool) {
	if hint := strings.TrimSpace(s.Hint); hint != "" {
		return hint, false
	}

	if name, _, ok := Classify([]string{s.Text}); ok {
		return name, false
	}

	participant := strings.TrimSpace(s.Participant)
	if participant == "" {
		top, err := r.messages.TopSender(ctx, threadID)
		if err != nil && !errors.Is(err, errors.ErrNotFound) {
			r.log.Warnw("Failed to load top sender", "thread_id", threadID, "error", err)
		}
		participant = strings.TrimSpace(top)
	}
	if participant != "" {
		return fmt.Sprintf("%s's Discussion", participant), true
	}

	return fmt.Sprintf("Discussion Thread %d", threadID), true
}

// Upgrade re-classifies a generic topic from its recent messages.
// Curated mappings and already specific names are left alone.
func (r *Resolver) Upgrade(ctx context.Context, threadID int64) (string, bool, error) {
	if _, err := r.topics.ActiveMapping(ctx, threadID); err == nil {
		return "", false, nil
	} else if !errors.Is(err, errors.ErrNotFound) {
		return "", false, errors.Wrap(err, "failed to load topic mapping")
	}

	t, err := r.topics.GetByThread(ctx, threadID)
	if err != nil {
		return "", false, errors.Wrap(err, "failed to load topic")
	}
	if !t.IsGeneric {
		return t.Name, false, nil
	}

	recent, err := r.messages.RecentByThread(ctx, threadID, upgradeSampleSize)
	if err != nil {
		return "", false, errors.Wrap(err, "failed to load recent messages")
	}

	samples := make([]string, 0, len(recent))
	for _, m := range recent {
		if text := m.Text(); text != "" {
			samples = append(samples, text)
		}
	}

	name, hits, ok := Classify(samples)
	if !ok || hits < MinUpgradeHits || name == t.Name {
		return t.Name, false, nil
	}

	renamed, err := r.topics.Rename(ctx, threadID, name, false)
	if err != nil {
		return "", false, errors.Wrap(err, "failed to rename topic")
	}
	if !renamed {
		return t.Name, false, nil
	}

	if _, err := r.messages.SetTopicName(ctx, threadID, name); err != nil {
		r.log.Warnw("Failed to refresh message topic names", "thread_id", threadID, "error", err)
	}
	r.forget(ctx, threadID)

	r.log.Infow("Upgraded generic topic",
		"thread_id", threadID,
		"from", t.Name,
		"to", name,
		"hits", hits,
	)
	return name, true, nil
}

func (r *Resolver) cached(ctx context.Context, threadID int64) (string, bool) {
	if r.cache == nil {
		return "", false
	}
	name, err := r.cache.Get(ctx, threadID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			r.log.Warnw("Topic cache read failed", "thread_id", threadID, "error", err)
		}
		return "", false
	}
	return name, true
}

func (r *Resolver) remember(ctx context.Context, threadID int64, name string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, threadID, name); err != nil {
		r.log.Warnw("Topic cache write failed", "thread_id", threadID, "error", err)
	}
}

func (r *Resolver) forget(ctx context.Context, threadID int64) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, threadID); err != nil {
		r.log.Warnw("Topic cache invalidate failed", "thread_id", threadID, "error", err)
	}
}
