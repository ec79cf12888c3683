package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/avaguard/internal/observability"
)

// Redis sink defaults.
const (
	DefaultRedisStream     = "avaguard:audit"
	DefaultRedisMaxLen     = 10000
	DefaultRedisBufferSize = 1024

	redisWriteTimeout = 2 * time.Second
	redisSinkName     = "redis"
)

// RedisConfig holds configuration for the Redis stream sink.
type RedisConfig struct {
	Address  string
	Password string
	DB       int

	// Stream is the stream key events are appended to.
	Stream string

	// MaxLen caps the stream length (approximate trimming).
	MaxLen int64

	// BufferSize is the number of events queued before new ones are dropped.
	BufferSize int

	// Level is the minimum level mirrored to the stream.
	Level Level
}

// RedisSink appends events to a capped Redis stream. Writes happen on a
// background goroutine; a full buffer drops events instead of blocking
// the caller.
type RedisSink struct {
	client     redis.UniversalClient
	ownsClient bool
	stream     string
	maxLen     int64
	level      Level
	queue      chan *Event
	logger     observability.Logger
	metrics    *Metrics

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewRedisSinkFromConfig connects to Redis and creates a sink. The
// connection is verified with PING.
func NewRedisSinkFromConfig(ctx context.Context, cfg RedisConfig, opts ...SinkOption) (*RedisSink, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis audit sink: address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewRedisSink(client, cfg, opts...)
	s.ownsClient = true
	return s, nil
}

// NewRedisSink creates a sink over an existing client. The caller keeps
// ownership of the client.
func NewRedisSink(client redis.UniversalClient, cfg RedisConfig, opts ...SinkOption) *RedisSink {
	o := applyOptions(opts)

	if cfg.Stream == "" {
		cfg.Stream = DefaultRedisStream
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = DefaultRedisMaxLen
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultRedisBufferSize
	}
	if cfg.Level == "" {
		cfg.Level = LevelInfo
	}

	s := &RedisSink{
		client:  client,
		stream:  cfg.Stream,
		maxLen:  cfg.MaxLen,
		level:   cfg.Level,
		queue:   make(chan *Event, cfg.BufferSize),
		logger:  o.logger.With(observability.String("sink", redisSinkName)),
		metrics: o.metrics,
		done:    make(chan struct{}),
	}

	go s.run()

	return s
}

// LogEvent queues event for the stream.
func (s *RedisSink) LogEvent(ctx context.Context, event *Event) {
	if event == nil || !s.level.Enables(event.Level) {
		return
	}
	stampTrace(ctx, event)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- event:
	default:
		s.metrics.RecordDropped(redisSinkName)
	}
}

func (s *RedisSink) run() {
	defer close(s.done)
	for event := range s.queue {
		s.write(event)
	}
}

func (s *RedisSink) write(event *Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal audit event", observability.Error(err))
		s.metrics.RecordDropped(redisSinkName)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisWriteTimeout)
	defer cancel()

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":       event.ID,
			"type":     string(event.Type),
			"action":   string(event.Action),
			"outcome":  string(event.Outcome),
			"identity": event.Identity,
			"event":    string(payload),
		},
	}).Err()
	if err != nil {
		s.logger.Warn("failed to append audit event to stream",
			observability.String("stream", s.stream),
			observability.Error(err),
		)
		s.metrics.RecordDropped(redisSinkName)
		return
	}
	s.metrics.RecordEvent(redisSinkName, event)
}

// Close drains queued events and stops the writer. The client is closed
// when the sink created it.
func (s *RedisSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done

	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}

var _ Sink = (*RedisSink)(nil)
