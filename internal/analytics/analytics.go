// Package analytics records product events without ever blocking or failing
// the caller.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	EventMessageSent      = "message_sent"
	EventMessageReceived  = "message_received"
	EventLimitReached     = "limit_reached"
	EventPremiumModalView = "premium_modal_view"
	EventPremiumClick     = "premium_button_click"

	defaultPublishTimeout = 2 * time.Second
	defaultStreamMaxLen   = 100000
)

type Event struct {
	Name       string         `json:"event"`
	UserID     string         `json:"userId"`
	Properties map[string]any `json:"properties,omitempty"`
	Time       time.Time      `json:"time"`
}

// Sink delivers events to an external store.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// RedisSink appends events to a Redis stream.
type RedisSink struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewRedisSink(client redis.Cmdable, stream string) *RedisSink {
	return &RedisSink{client: client, stream: stream, maxLen: defaultStreamMaxLen}
}

func (r *RedisSink) Publish(ctx context.Context, event Event) error {
	props, err := json.Marshal(event.Properties)
	if err != nil {
		return fmt.Errorf("analytics: encode properties: %w", err)
	}

	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event":      event.Name,
			"user_id":    event.UserID,
			"properties": string(props),
			"time":       event.Time.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

// Tracker logs every event and forwards it to the sink in the background.
// A nil *Tracker drops events.
type Tracker struct {
	logger  *zap.SugaredLogger
	sink    Sink
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

func NewTracker(sink Sink, logger *zap.SugaredLogger) *Tracker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Tracker{logger: logger, sink: sink, timeout: defaultPublishTimeout, now: time.Now}
}

// Track records one event. It returns immediately; sink failures are logged.
func (t *Tracker) Track(userID, name string, props map[string]any) {
	if t == nil {
		return
	}

	event := Event{Name: name, UserID: userID, Properties: props, Time: t.now().UTC()}
	t.logger.Infow("analytics event", "event", name, "user_id", userID, "properties", props)

	if t.sink == nil {
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.logger.Warnw("analytics sink panicked", "event", name, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()

		if err := t.sink.Publish(ctx, event); err != nil {
			t.logger.Warnw("analytics publish failed", "event", name, "error", err)
		}
	}()
}

// Flush waits for in-flight publishes or until ctx is done.
func (t *Tracker) Flush(ctx context.Context) error {
	if t == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	initMu      sync.Mutex
	initialized bool
	global      *Tracker
)

// Init installs the process-wide tracker. Only the first call has effect;
// later calls return the tracker installed by the first.
func Init(sink Sink, logger *zap.SugaredLogger) *Tracker {
	initMu.Lock()
	defer initMu.Unlock()

	if initialized {
		return global
	}
	global = NewTracker(sink, logger)
	initialized = true
	return global
}

// Default returns the process-wide tracker, or nil before Init.
func Default() *Tracker {
	initMu.Lock()
	defer initMu.Unlock()
	return global
}

// Track records an event on the process-wide tracker.
func Track(userID, name string, props map[string]any) {
	Default().Track(userID, name, props)
}
