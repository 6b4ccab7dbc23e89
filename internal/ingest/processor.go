// Package ingest consumes activity events from Kafka into the activity queue.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"wellness-activity/internal/metrics"
	"wellness-activity/internal/streak"
	"wellness-activity/internal/worker"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// ReaderConfig describes the consumer group to join
type ReaderConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewReader creates a kafka.Reader for the activity topic
func NewReader(cfg ReaderConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.Brokers,
		GroupID:         cfg.GroupID,
		Topic:           cfg.Topic,
		MinBytes:        1,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		ReadLagInterval: -1,
	})
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor pulls activity messages from Kafka and enqueues them for the
// worker. Messages are committed only once enqueued, except malformed ones,
// which are committed and skipped.
type Processor struct {
	reader   Reader
	queue    worker.Enqueuer
	logger   *slog.Logger
	retryGap time.Duration
}

// NewProcessor constructs a Processor with the provided reader and queue.
func NewProcessor(reader Reader, queue worker.Enqueuer, opts ...Option) *Processor {
	p := &Processor{
		reader:   reader,
		queue:    queue,
		logger:   slog.Default(),
		retryGap: time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes messages until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger.Error("Kafka fetch failed", "error", err)
			p.pause(ctx)
			continue
		}

		activity, decodeErr := Decode(msg)
		if decodeErr != nil {
			p.logger.Warn("Dropping malformed activity message",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", decodeErr)
			metrics.KafkaMessagesTotal.WithLabelValues(msg.Topic, metrics.KafkaResultDecodeError).Inc()
			// Commit malformed messages to avoid poison-pill loops.
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Error("Kafka commit failed after decode failure", "error", commitErr)
			}
			continue
		}

		if _, err := worker.Enqueue(ctx, p.queue, activity); err != nil {
			p.logger.Error("Failed to enqueue activity",
				"user_id", activity.UserID,
				"event_key", activity.EventKey,
				"error", err)
			metrics.KafkaMessagesTotal.WithLabelValues(msg.Topic, metrics.KafkaResultEnqueueFail).Inc()
			p.pause(ctx)
			continue
		}

		if err := p.reader.CommitMessages(ctx, msg); err != nil {
			p.logger.Error("Kafka commit failed", "error", err)
			continue
		}
		metrics.KafkaMessagesTotal.WithLabelValues(msg.Topic, metrics.KafkaResultEnqueued).Inc()
	}
}

func (p *Processor) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.retryGap):
	}
}

// Decode parses an activity message. A missing user_id falls back to the
// message key; a missing event_key is derived from the message position so
// that redelivery of the same record is applied once.
func Decode(msg kafka.Message) (streak.Activity, error) {
	var activity streak.Activity
	if err := json.Unmarshal(msg.Value, &activity); err != nil {
		return streak.Activity{}, fmt.Errorf("invalid JSON: %w", err)
	}

	if activity.UserID == "" {
		activity.UserID = strings.TrimSpace(string(msg.Key))
	}
	if activity.EventKey == "" {
		activity.EventKey = fmt.Sprintf("kafka:%s:%d:%d", msg.Topic, msg.Partition, msg.Offset)
	}
	if activity.OccurredAt.IsZero() && !msg.Time.IsZero() {
		activity.OccurredAt = msg.Time
	}

	if err := activity.Validate(); err != nil {
		return streak.Activity{}, err
	}
	return activity, nil
}
