package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sink receives notification events. Implementations must honor ctx deadlines
// and may be invoked from a single background goroutine.
type Sink interface {
	Deliver(ctx context.Context, evt Event) error
	Close(ctx context.Context) error
}

// Config controls Hub buffering.
type Config struct {
	BufferSize  int
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

const (
	defaultBufferSize  = 256
	defaultSinkTimeout = 5 * time.Second
	dropLogInterval    = 5 * time.Second
)

// Hub fans events out to registered sinks from a background goroutine. Publish
// never blocks; when the buffer is full the event is dropped and a
// rate-limited warning is logged.
type Hub struct {
	sinks       []Sink
	events      chan Event
	stopCh      chan struct{}
	doneCh      chan struct{}
	logger      *zap.Logger
	sinkTimeout time.Duration

	dropped   atomic.Int64
	lastDrop  atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewHub starts the fan-out goroutine and returns a ready Hub.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		sinks:       append([]Sink(nil), sinks...),
		events:      make(chan Event, cfg.BufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger,
		sinkTimeout: cfg.SinkTimeout,
	}
	go h.run()
	return h
}

// Publish enqueues an event for delivery. Invalid events are discarded.
func (h *Hub) Publish(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid notification", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		if h.allowDropLog(time.Now()) {
			count := h.dropped.Swap(0)
			h.logger.Warn("notifications dropped due to backpressure", zap.Int64("dropped", count))
		}
	}
}

// Close drains buffered events, closes sinks, and blocks until the background
// goroutine exits or ctx is done. Safe to call multiple times.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notify hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	for {
		select {
		case evt := <-h.events:
			h.deliver(evt)
		case <-h.stopCh:
			h.drainAndClose()
			return
		}
	}
}

func (h *Hub) drainAndClose() {
	for {
		select {
		case evt := <-h.events:
			h.deliver(evt)
		default:
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) deliver(evt Event) {
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.sinkTimeout)
		if err := sink.Deliver(ctx, evt); err != nil {
			h.logger.Warn("notification sink delivery failed",
				zap.String("type", string(evt.Type)),
				zap.String("run_id", evt.RunID),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.sinkTimeout)
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("notification sink close failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) allowDropLog(now time.Time) bool {
	nano := now.UnixNano()
	last := h.lastDrop.Load()
	if nano-last < dropLogInterval.Nanoseconds() {
		return false
	}
	return h.lastDrop.CompareAndSwap(last, nano)
}
