package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/logger"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Collector buffers rewrite events and publishes them in batches, either when
// batchSize events are pending or every flushInterval. Track never blocks:
// events are dropped when the buffer is full.
type Collector struct {
	publisher     Publisher
	eventCh       chan RewriteEvent
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
	closeOnce     sync.Once
	started       atomic.Bool

	mu      sync.Mutex
	dropped int
}

func NewCollector(publisher Publisher, bufferSize, batchSize int, flushInterval time.Duration) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		publisher:     publisher,
		eventCh:       make(chan RewriteEvent, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger.WithComponent("audit-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the publish loop. It stops when ctx is cancelled or Close is
// called, flushing what is pending either way. Only the first call has an
// effect, and none after Close.
func (c *Collector) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		batch := make([]kafka.Event, 0, c.batchSize)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					c.flush(context.Background(), batch)
					return
				}
				batch = append(batch, kafka.Event{Key: event.RequestID, Type: EventType, Value: event})
				if len(batch) >= c.batchSize {
					c.flush(ctx, batch)
					batch = batch[:0]
				}
			case <-ticker.C:
				c.flush(ctx, batch)
				batch = batch[:0]
			case <-ctx.Done():
				batch = c.drain(batch)
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.flush(flushCtx, batch)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("audit collector started",
		"buffer_size", cap(c.eventCh),
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Track enqueues event without blocking.
func (c *Collector) Track(event RewriteEvent) {
	select {
	case c.eventCh <- event:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		c.logger.Warn("audit event dropped (buffer full)", "request_id", event.RequestID)
	}
}

// Dropped returns how many events Track discarded.
func (c *Collector) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close stops accepting events and waits for the final flush. Without a
// running loop the buffered events are flushed directly. Track must not be
// called after Close.
func (c *Collector) Close() {
	c.closeOnce.Do(func() { close(c.eventCh) })
	if c.started.CompareAndSwap(false, true) {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c.flush(flushCtx, c.drain(nil))
		cancel()
		close(c.done)
	}
	<-c.done
}

func (c *Collector) drain(batch []kafka.Event) []kafka.Event {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return batch
			}
			batch = append(batch, kafka.Event{Key: event.RequestID, Type: EventType, Value: event})
		default:
			return batch
		}
	}
}

func (c *Collector) flush(ctx context.Context, batch []kafka.Event) {
	if len(batch) == 0 {
		return
	}
	if err := c.publisher.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("failed to publish audit events", "count", len(batch), "error", err)
		return
	}
	c.logger.Debug("audit events published", "count", len(batch))
}
