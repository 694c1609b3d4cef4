// Package pubsub publishes tap output to a Google Cloud Pub/Sub topic, one
// Singer message per Pub/Sub message.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/tap-acuite/internal/sink/singer"
	"github.com/JakeFAU/tap-acuite/internal/state"
	"github.com/JakeFAU/tap-acuite/internal/tap"
)

const defaultMaxPending = 1000

// Option customizes a Sink.
type Option func(*Sink)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxPending bounds how many unacknowledged publishes accumulate before
// a write blocks to confirm them.
func WithMaxPending(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.maxPending = n
		}
	}
}

// Sink publishes Singer messages. Each message carries "type" and, for
// SCHEMA and RECORD, "stream" attributes so subscribers can filter.
type Sink struct {
	client     *pubsub.Client
	topic      *pubsub.Topic
	logger     *zap.Logger
	maxPending int

	mu      sync.Mutex
	pending []*pubsub.PublishResult
}

var _ tap.Sink = (*Sink)(nil)

// New wraps an existing topic handle. The caller owns the client.
func New(topic *pubsub.Topic, opts ...Option) *Sink {
	s := &Sink{topic: topic, logger: zap.NewNop(), maxPending: defaultMaxPending}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open dials Pub/Sub and checks that topicID exists. The returned Sink owns
// the client and releases it on Close.
func Open(ctx context.Context, projectID, topicID string, clientOpts []option.ClientOption, opts ...Option) (*Sink, error) {
	client, err := pubsub.NewClient(ctx, projectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check topic %s: %w", topicID, err)
	}
	if !exists {
		_ = client.Close()
		return nil, fmt.Errorf("topic %s does not exist in project %s", topicID, projectID)
	}
	s := New(topic, opts...)
	s.client = client
	return s, nil
}

// WriteSchema implements tap.Sink.
func (s *Sink) WriteSchema(ctx context.Context, stream string, schema tap.Schema, keyProperties []string) error {
	return s.publish(ctx, singer.SchemaMessage(stream, schema, keyProperties))
}

// WriteRecord implements tap.Sink.
func (s *Sink) WriteRecord(ctx context.Context, stream string, record tap.Record, extractedAt time.Time) error {
	return s.publish(ctx, singer.RecordMessage(stream, record, extractedAt))
}

// WriteState implements tap.Sink. State is only published once every record
// before it has been acknowledged, so it never runs ahead of the data.
func (s *Sink) WriteState(ctx context.Context, st state.State) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if err := s.publish(ctx, singer.StateMessage(st)); err != nil {
		return err
	}
	return s.Flush(ctx)
}

// Flush waits for every outstanding publish and returns their errors joined.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	var errs []error
	for _, res := range pending {
		if _, err := res.Get(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		s.logger.Warn("pubsub publishes failed", zap.Int("failed", len(errs)), zap.Int("total", len(pending)))
		return fmt.Errorf("publish to %s: %w", s.topic.ID(), errors.Join(errs...))
	}
	return nil
}

// Close stops the topic's publish goroutines and closes an owned client.
func (s *Sink) Close() error {
	s.topic.Stop()
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}

func (s *Sink) publish(ctx context.Context, msg singer.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	attrs := map[string]string{"type": msg.Type}
	if msg.Stream != "" {
		attrs["stream"] = msg.Stream
	}
	res := s.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})

	s.mu.Lock()
	s.pending = append(s.pending, res)
	full := len(s.pending) >= s.maxPending
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}
