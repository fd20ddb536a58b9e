// Package batch coalesces individual blocked-request submissions into
// bounded bulk writes.
//
// A Coordinator buffers records in memory and hands them to its Sink when
// either trigger fires:
//   - size: the buffer reaches Config.BatchSize (checked on every Submit)
//   - timer: Config.FlushInterval elapses while the coordinator is running
//
// Stop drains whatever is still buffered. A batch the sink rejects is
// dropped, not re-buffered, and counted in Stats.DroppedBatches; memory use
// stays bounded by BatchSize at the cost of losing that batch.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/runnerr0/blocklog/internal/clock"
	"github.com/runnerr0/blocklog/internal/log"
	"github.com/runnerr0/blocklog/internal/storage"
)

// drainPollInterval is how often WaitForDrain re-checks the buffer.
const drainPollInterval = 100 * time.Millisecond

// Sink is the durability target of a flush. *storage.SQLiteStore satisfies
// it.
type Sink interface {
	BulkInsert(ctx context.Context, recs []storage.Record) error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used to stamp Stats.LastFlushAtMillis.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) {
		co.clock = c
	}
}

// WithDrainPollInterval overrides how often WaitForDrain polls.
func WithDrainPollInterval(d time.Duration) Option {
	return func(co *Coordinator) {
		co.drainPoll = d
	}
}

// Coordinator owns the pending buffer and the background timer.
//
// The buffer and the counters sit behind separate mutexes. Lock order is
// bufMu then statsMu; write takes statsMu alone. Sink writes happen after
// the buffer has been swapped out and its lock released.
type Coordinator struct {
	sink      Sink
	cfg       Config // IMMUTABLE after New
	clock     clock.Clock
	drainPoll time.Duration

	bufMu   sync.Mutex
	pending []storage.Record

	statsMu sync.Mutex
	stats   Stats

	lifeMu  sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a stopped Coordinator writing to sink.
func New(sink Sink, cfg Config, opts ...Option) (*Coordinator, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: nil sink", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		sink:      sink,
		cfg:       cfg,
		clock:     clock.RealClock{},
		drainPoll: drainPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.pending = make([]storage.Record, 0, cfg.BatchSize)
	return c, nil
}

// Start marks the coordinator running and, if the timer trigger is enabled
// with a nonzero interval, spawns the timer loop. Starting a running
// coordinator is a no-op.
func (c *Coordinator) Start() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.running {
		return
	}
	c.running = true
	c.setRunning(true)

	if c.cfg.timerEnabled() {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.wg.Add(1)
		go c.timerLoop(ctx)
	}

	log.Info(map[string]any{
		"batch_size":     c.cfg.BatchSize,
		"flush_interval": c.cfg.FlushInterval.String(),
		"size_trigger":   c.cfg.EnableSizeTrigger,
		"timer_trigger":  c.cfg.timerEnabled(),
	}, "batch coordinator started")
}

// Stop ends the timer loop, waits for it, then flushes everything still
// buffered. Stopping a stopped coordinator is a no-op.
func (c *Coordinator) Stop() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if !c.running {
		return
	}

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.wg.Wait()

	// The error is already logged and counted; Stop has no caller to give it to.
	_ = c.flush(TriggerShutdown)

	c.running = false
	c.setRunning(false)
	log.Info(map[string]any{"flushed": c.Stats().TotalFlushed}, "batch coordinator stopped")
}

func (c *Coordinator) timerLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.flush(TriggerTimer)
		}
	}
}

// Submit buffers rec. When the size trigger is enabled and the buffer has
// reached BatchSize, the buffer is flushed before Submit returns and any
// sink error is returned.
func (c *Coordinator) Submit(rec storage.Record) error {
	c.bufMu.Lock()
	c.pending = append(c.pending, rec)
	c.statsMu.Lock()
	c.stats.TotalSubmitted++
	c.statsMu.Unlock()
	var batch []storage.Record
	if c.cfg.EnableSizeTrigger && len(c.pending) >= c.cfg.BatchSize {
		batch = c.swapLocked()
	}
	c.bufMu.Unlock()

	if batch == nil {
		return nil
	}
	return c.write(batch, TriggerSize)
}

// Flush writes everything currently buffered. Flushing an empty buffer is a
// no-op.
func (c *Coordinator) Flush() error {
	return c.flush(TriggerManual)
}

func (c *Coordinator) flush(trigger Trigger) error {
	c.bufMu.Lock()
	batch := c.swapLocked()
	c.bufMu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return c.write(batch, trigger)
}

// swapLocked hands the current buffer to the caller and installs a fresh
// one. Callers hold c.bufMu. The swapped records count as in flight until
// write settles them.
func (c *Coordinator) swapLocked() []storage.Record {
	batch := c.pending
	c.pending = make([]storage.Record, 0, c.cfg.BatchSize)
	if len(batch) > 0 {
		c.statsMu.Lock()
		c.stats.InFlightRecords += int64(len(batch))
		c.statsMu.Unlock()
	}
	return batch
}

// write persists batch. Store calls are not cancellable: a bulk insert runs
// to completion or fails atomically.
func (c *Coordinator) write(batch []storage.Record, trigger Trigger) error {
	n := int64(len(batch))
	fields := map[string]any{"records": n, "trigger": trigger.String()}

	if err := c.sink.BulkInsert(context.Background(), batch); err != nil {
		c.statsMu.Lock()
		c.stats.InFlightRecords -= n
		c.stats.DroppedBatches++
		c.stats.DroppedRecords += n
		c.statsMu.Unlock()

		fields["error"] = err.Error()
		log.Error(fields, "batch write failed, records dropped")
		return fmt.Errorf("flush %d records (%s): %w", n, trigger, err)
	}

	c.statsMu.Lock()
	c.stats.InFlightRecords -= n
	c.stats.TotalFlushed += n
	c.stats.FlushCount++
	switch trigger {
	case TriggerSize:
		c.stats.SizeTriggeredFlushes++
	case TriggerTimer:
		c.stats.TimerTriggeredFlushes++
	}
	c.stats.LastFlushAtMillis = clock.UnixMilli(c.clock)
	c.statsMu.Unlock()

	log.Debug(fields, "batch written")
	return nil
}

func (c *Coordinator) setRunning(running bool) {
	c.statsMu.Lock()
	c.stats.Running = running
	c.statsMu.Unlock()
}

// Stats returns a copy of the counters taken under both locks, so
// TotalSubmitted always equals CurrentlyBuffered + InFlightRecords +
// TotalFlushed + DroppedRecords within one snapshot.
func (c *Coordinator) Stats() Stats {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	s := c.stats
	s.CurrentlyBuffered = int64(len(c.pending))
	return s
}

func (c *Coordinator) buffered() int {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	return len(c.pending)
}

// WaitForDrain polls until the buffer is observed empty or ctx is done.
func (c *Coordinator) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(c.drainPoll)
	defer ticker.Stop()

	for {
		if c.buffered() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
