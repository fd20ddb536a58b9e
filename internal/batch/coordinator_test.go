package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/blocklog/internal/clock"
	"github.com/runnerr0/blocklog/internal/storage"
)

// recordingSink captures every batch it is handed.
type recordingSink struct {
	mu      sync.Mutex
	batches [][]storage.Record
	err     error
}

func (s *recordingSink) BulkInsert(_ context.Context, recs []storage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	cp := make([]storage.Record, len(recs))
	copy(cp, recs)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *recordingSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

// gatedSink blocks every write until release is closed.
type gatedSink struct {
	entered chan struct{}
	release chan struct{}
}

func (s *gatedSink) BulkInsert(context.Context, []storage.Record) error {
	s.entered <- struct{}{}
	<-s.release
	return nil
}

func accounted(s Stats) int64 {
	return s.CurrentlyBuffered + s.InFlightRecords + s.TotalFlushed + s.DroppedRecords
}

func openTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "blocked.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sizeOnly(batchSize int) Config {
	return Config{BatchSize: batchSize, EnableSizeTrigger: true}
}

func rec(host string, ts int64) storage.Record {
	return storage.Record{URL: "https://" + host + "/p", Host: host, Reason: "ads", Timestamp: ts}
}

func TestNew_InvalidConfig(t *testing.T) {
	testCases := []struct {
		name string
		cfg  Config
	}{
		{"zero batch size", Config{BatchSize: 0}},
		{"negative interval", Config{BatchSize: 1, FlushInterval: -time.Second}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(&recordingSink{}, tc.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := New(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigValidate_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				assert.NoError(t, DefaultConfig().Validate())
			} else {
				assert.ErrorIs(t, Config{BatchSize: 0}.Validate(), ErrInvalidConfig)
			}
		}(i)
	}
	wg.Wait()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, time.Minute, cfg.FlushInterval)
	assert.True(t, cfg.EnableSizeTrigger)
	assert.True(t, cfg.EnableTimerTrigger)
	assert.NoError(t, cfg.Validate())
}

func TestSubmit_SizeTriggerCounts(t *testing.T) {
	for _, tc := range []struct{ n, b int }{{25, 10}, {10, 10}, {9, 10}, {7, 1}, {0, 3}} {
		t.Run(fmt.Sprintf("N=%d,B=%d", tc.n, tc.b), func(t *testing.T) {
			sink := &recordingSink{}
			c, err := New(sink, sizeOnly(tc.b))
			require.NoError(t, err)

			for i := 0; i < tc.n; i++ {
				require.NoError(t, c.Submit(rec("a.com", int64(i))))
			}

			stats := c.Stats()
			assert.Equal(t, int64(tc.n), stats.TotalSubmitted)
			assert.Equal(t, int64(tc.n/tc.b), stats.SizeTriggeredFlushes)
			assert.Equal(t, int64(tc.n%tc.b), stats.CurrentlyBuffered)
			assert.Equal(t, int64(tc.n/tc.b*tc.b), stats.TotalFlushed)
			assert.Equal(t, stats.SizeTriggeredFlushes, stats.FlushCount)
			assert.Equal(t, tc.n/tc.b*tc.b, sink.total())
		})
	}
}

func TestSubmit_SizeTriggerDisabled(t *testing.T) {
	sink := &recordingSink{}
	c, err := New(sink, Config{BatchSize: 2})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Submit(rec("a.com", int64(i))))
	}

	stats := c.Stats()
	assert.Zero(t, stats.FlushCount)
	assert.Equal(t, int64(5), stats.CurrentlyBuffered)
	assert.Zero(t, sink.total())
}

func TestSubmit_ConcurrentProducers(t *testing.T) {
	store := openTestStore(t)
	c, err := New(store, sizeOnly(7))
	require.NoError(t, err)
	c.Start()

	const producers, perProducer = 8, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, c.Submit(rec(fmt.Sprintf("p%d.com", p), int64(i))))
			}
		}(p)
	}
	wg.Wait()

	const n = producers * perProducer
	stats := c.Stats()
	assert.Equal(t, int64(n), stats.TotalSubmitted)
	assert.Equal(t, int64(n/7), stats.SizeTriggeredFlushes)
	assert.Equal(t, int64(n%7), stats.CurrentlyBuffered)

	c.Stop()
	st, err := store.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(n), st.Total)
}

func TestStats_InFlightDuringWrite(t *testing.T) {
	sink := &gatedSink{entered: make(chan struct{}, 1), release: make(chan struct{})}
	c, err := New(sink, sizeOnly(3))
	require.NoError(t, err)

	require.NoError(t, c.Submit(rec("a.com", 1)))
	require.NoError(t, c.Submit(rec("b.com", 2)))

	done := make(chan error, 1)
	go func() { done <- c.Submit(rec("c.com", 3)) }()
	<-sink.entered

	stats := c.Stats()
	assert.Equal(t, int64(3), stats.TotalSubmitted)
	assert.Equal(t, int64(3), stats.InFlightRecords)
	assert.Zero(t, stats.CurrentlyBuffered)
	assert.Zero(t, stats.TotalFlushed)
	assert.Equal(t, stats.TotalSubmitted, accounted(stats))

	close(sink.release)
	require.NoError(t, <-done)

	stats = c.Stats()
	assert.Zero(t, stats.InFlightRecords)
	assert.Equal(t, int64(3), stats.TotalFlushed)
	assert.Equal(t, stats.TotalSubmitted, accounted(stats))
}

func TestStats_SnapshotAlwaysBalances(t *testing.T) {
	sink := &recordingSink{}
	c, err := New(sink, sizeOnly(5))
	require.NoError(t, err)

	const producers, perProducer = 6, 200
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, c.Submit(rec(fmt.Sprintf("p%d.com", p), int64(i))))
			}
		}(p)
	}

	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := c.Stats()
			if !assert.Equal(t, s.TotalSubmitted, accounted(s)) {
				return
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-readerDone

	require.NoError(t, c.Flush())
	stats := c.Stats()
	assert.Equal(t, int64(producers*perProducer), stats.TotalSubmitted)
	assert.Equal(t, stats.TotalSubmitted, stats.TotalFlushed)
	assert.Zero(t, stats.InFlightRecords)
}

func TestFlush_ManualAndEmpty(t *testing.T) {
	clk := clock.NewMockClock(time.UnixMilli(1_700_000_000_000))
	sink := &recordingSink{}
	c, err := New(sink, sizeOnly(10), WithClock(clk))
	require.NoError(t, err)

	require.NoError(t, c.Flush())
	assert.Zero(t, c.Stats().FlushCount, "empty flush is a no-op")

	require.NoError(t, c.Submit(rec("a.com", 1)))
	require.NoError(t, c.Submit(rec("b.com", 2)))
	require.NoError(t, c.Flush())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.FlushCount)
	assert.Equal(t, int64(2), stats.TotalFlushed)
	assert.Zero(t, stats.SizeTriggeredFlushes)
	assert.Zero(t, stats.TimerTriggeredFlushes)
	assert.Zero(t, stats.CurrentlyBuffered)
	assert.Equal(t, int64(1_700_000_000_000), stats.LastFlushAtMillis)
}

func TestFlush_FailureDropsBatch(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	c, err := New(sink, sizeOnly(3))
	require.NoError(t, err)

	require.NoError(t, c.Submit(rec("a.com", 1)))
	require.NoError(t, c.Submit(rec("b.com", 2)))
	err = c.Submit(rec("c.com", 3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	stats := c.Stats()
	assert.Zero(t, stats.CurrentlyBuffered, "failed batch is not re-buffered")
	assert.Zero(t, stats.TotalFlushed)
	assert.Zero(t, stats.FlushCount)
	assert.Zero(t, stats.SizeTriggeredFlushes)
	assert.Equal(t, int64(1), stats.DroppedBatches)
	assert.Equal(t, int64(3), stats.DroppedRecords)
}

func TestFlush_StoreRejectsMalformedBatch(t *testing.T) {
	store := openTestStore(t)
	c, err := New(store, sizeOnly(10))
	require.NoError(t, err)

	require.NoError(t, c.Submit(rec("a.com", 1)))
	require.NoError(t, c.Submit(storage.Record{URL: "https://x/", Reason: "ads", Timestamp: 2}))
	require.Error(t, c.Flush())

	st, err := store.Statistics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Total)
	assert.Equal(t, int64(2), c.Stats().DroppedRecords)
}

func TestStartStop_Lifecycle(t *testing.T) {
	c, err := New(&recordingSink{}, DefaultConfig())
	require.NoError(t, err)

	assert.False(t, c.Stats().Running)
	c.Start()
	c.Start()
	assert.True(t, c.Stats().Running)

	c.Stop()
	c.Stop()
	assert.False(t, c.Stats().Running)

	c.Start()
	assert.True(t, c.Stats().Running)
	c.Stop()
}

func TestStop_DrainsBuffer(t *testing.T) {
	store := openTestStore(t)
	c, err := New(store, DefaultConfig())
	require.NoError(t, err)
	c.Start()

	require.NoError(t, c.Submit(rec("a.com", 1)))
	require.NoError(t, c.Submit(rec("b.com", 2)))
	require.NoError(t, c.Submit(rec("c.com", 3)))
	c.Stop()

	stats := c.Stats()
	assert.Zero(t, stats.CurrentlyBuffered)
	assert.Equal(t, int64(3), stats.TotalFlushed)
	assert.Equal(t, int64(1), stats.FlushCount)
	assert.Zero(t, stats.SizeTriggeredFlushes)
	assert.Zero(t, stats.TimerTriggeredFlushes)

	st, err := store.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Total)
}

func TestStop_NotRunningDoesNotFlush(t *testing.T) {
	sink := &recordingSink{}
	c, err := New(sink, sizeOnly(10))
	require.NoError(t, err)

	require.NoError(t, c.Submit(rec("a.com", 1)))
	c.Stop()
	assert.Equal(t, int64(1), c.Stats().CurrentlyBuffered)
}

func TestTimerTrigger_Flushes(t *testing.T) {
	sink := &recordingSink{}
	c, err := New(sink, Config{
		BatchSize:          100,
		FlushInterval:      20 * time.Millisecond,
		EnableSizeTrigger:  true,
		EnableTimerTrigger: true,
	})
	require.NoError(t, err)
	c.Start()
	defer c.Stop()

	require.NoError(t, c.Submit(rec("a.com", 1)))
	require.NoError(t, c.Submit(rec("b.com", 2)))

	require.Eventually(t, func() bool {
		return c.Stats().TimerTriggeredFlushes >= 1
	}, 2*time.Second, 10*time.Millisecond)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.TimerTriggeredFlushes, "ticks over an empty buffer are not counted")
	assert.Equal(t, int64(2), stats.TotalFlushed)
	assert.Zero(t, stats.CurrentlyBuffered)
	assert.Equal(t, 2, sink.total())
}

func TestTimerTrigger_DisabledByZeroInterval(t *testing.T) {
	sink := &recordingSink{}
	c, err := New(sink, Config{BatchSize: 100, FlushInterval: 0, EnableTimerTrigger: true})
	require.NoError(t, err)
	c.Start()

	require.NoError(t, c.Submit(rec("a.com", 1)))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, c.Stats().FlushCount)

	c.Stop()
	assert.Equal(t, 1, sink.total())
}

func TestWaitForDrain(t *testing.T) {
	c, err := New(&recordingSink{}, Config{
		BatchSize:          100,
		FlushInterval:      20 * time.Millisecond,
		EnableTimerTrigger: true,
	}, WithDrainPollInterval(5*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, c.WaitForDrain(context.Background()), "empty buffer is already drained")

	require.NoError(t, c.Submit(rec("a.com", 1)))
	c.Start()
	defer c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.WaitForDrain(ctx))
	assert.Zero(t, c.Stats().CurrentlyBuffered)
}

func TestWaitForDrain_ContextCancelled(t *testing.T) {
	c, err := New(&recordingSink{}, sizeOnly(10), WithDrainPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, c.Submit(rec("a.com", 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitForDrain(ctx), context.DeadlineExceeded)
}

func TestEndToEnd_FlushThenQueryUnreported(t *testing.T) {
	store := openTestStore(t)
	c, err := New(store, sizeOnly(10))
	require.NoError(t, err)

	require.NoError(t, c.Submit(rec("a.com", 100)))
	require.NoError(t, c.Submit(rec("b.com", 50)))
	assert.Zero(t, c.Stats().FlushCount)

	require.NoError(t, c.Flush())

	got, err := store.QueryUnreported(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b.com", got[0].Host)
	assert.Equal(t, "a.com", got[1].Host)
}

func TestTrigger_String(t *testing.T) {
	assert.Equal(t, "manual", TriggerManual.String())
	assert.Equal(t, "size", TriggerSize.String())
	assert.Equal(t, "timer", TriggerTimer.String())
	assert.Equal(t, "shutdown", TriggerShutdown.String())
	assert.Equal(t, "unknown", Trigger(99).String())
}
