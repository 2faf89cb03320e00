package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// HubConfig controls buffering and batching for the Hub.
//   - Buffer: size of the inbound channel (default 1024).
//   - BatchSize: flush once this many events are pending (default 64).
//   - FlushEvery: flush a partial batch after this long (default 250ms).
//   - SinkTimeout: per-sink deadline while flushing (default 5s).
type HubConfig struct {
	Buffer      int           `mapstructure:"buffer"`
	BatchSize   int           `mapstructure:"batch_size"`
	FlushEvery  time.Duration `mapstructure:"flush_every"`
	SinkTimeout time.Duration `mapstructure:"sink_timeout"`
}

const (
	defaultHubBuffer      = 1024
	defaultHubBatchSize   = 64
	defaultHubFlushEvery  = 250 * time.Millisecond
	defaultHubSinkTimeout = 5 * time.Second
	dropWarnInterval      = 5 * time.Second
)

func (c HubConfig) withDefaults() HubConfig {
	if c.Buffer <= 0 {
		c.Buffer = defaultHubBuffer
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultHubBatchSize
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = defaultHubFlushEvery
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultHubSinkTimeout
	}
	return c
}

// Hub batches events from every running job and hands them to sinks on a
// single background goroutine. Emit never blocks; when the buffer is full the
// event is counted as dropped.
type Hub struct {
	cfg    HubConfig
	sinks  []Sink
	in     chan Event
	stop   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	dropped  atomic.Int64
	lastWarn atomic.Int64
	closed   atomic.Bool
	once     sync.Once
	sinkOnce sync.Once
}

// NewHub starts a Hub that fans out to sinks.
func NewHub(cfg HubConfig, logger *zap.Logger, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		in:     make(chan Event, cfg.Buffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go h.loop()
	return h
}

// Emit implements Emitter.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.in <- evt:
	default:
		n := h.dropped.Add(1)
		now := time.Now().UnixNano()
		last := h.lastWarn.Load()
		if now-last >= dropWarnInterval.Nanoseconds() && h.lastWarn.CompareAndSwap(last, now) {
			h.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped_total", n))
		}
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close stops intake, flushes pending events, closes sinks and waits for the
// background goroutine. Subsequent calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.stop)
	})
	select {
	case <-h.done:
		h.sinkOnce.Do(func() { h.closeSinks(ctx) })
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.FlushEvery)
	defer ticker.Stop()
	pending := make([]Event, 0, h.cfg.BatchSize)
	for {
		select {
		case evt := <-h.in:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.BatchSize {
				pending = h.flush(pending)
			}
		case <-ticker.C:
			pending = h.flush(pending)
		case <-h.stop:
			for {
				select {
				case evt := <-h.in:
					pending = append(pending, evt)
				default:
					h.flush(pending)
					return
				}
			}
		}
	}
}

// flush delivers pending to every sink and returns the emptied slice.
func (h *Hub) flush(pending []Event) []Event {
	if len(pending) == 0 {
		return pending
	}
	batch := append([]Event(nil), pending...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
	return pending[:0]
}

func (h *Hub) closeSinks(ctx context.Context) {
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
