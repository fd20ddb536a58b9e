package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/runnerr0/blocklog/internal/batch"
	"github.com/runnerr0/blocklog/internal/clock"
	"github.com/runnerr0/blocklog/internal/config"
	"github.com/runnerr0/blocklog/internal/log"
	"github.com/runnerr0/blocklog/internal/storage"
)

var (
	simHosts = []string{
		"ads.example.com", "analytics.example.com", "tracking.example.com",
		"pixel.example.com", "beacon.example.com", "collector.example.com",
		"spy.example.com", "monitor.example.com", "logger.example.com",
	}
	simPaths = []string{
		"/track", "/collect", "/pixel", "/beacon", "/log", "/analytics",
		"/monitor", "/spy", "/collector", "/logger",
	}
	simReasons = []string{
		"ad tracking", "analytics", "behavior profiling", "performance beacon",
		"fingerprinting", "content recommendation", "personalization",
		"statistics", "debug logging",
	}
)

// simulateJSON is the JSON output structure for the simulate command.
type simulateJSON struct {
	SourceID string      `json:"source_id"`
	Workers  int         `json:"workers"`
	Stats    batch.Stats `json:"stats"`
}

// Execute implements the go-flags Commander interface for SimulateCommand.
func (c *SimulateCommand) Execute(args []string) error {
	cfg, store, cleanup, err := resolve(c.globals, c.cfg, c.store)
	if err != nil {
		return err
	}
	defer cleanup()

	return c.executeWithStore(cfg, store)
}

func (c *SimulateCommand) executeWithStore(cfg *config.Config, store *storage.SQLiteStore) error {
	if c.Count < 0 {
		return fmt.Errorf("--count must not be negative")
	}
	workers := c.Workers
	if workers < 1 {
		workers = 1
	}
	clk := c.clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	source := c.Source
	if source == "" {
		source = uuid.NewString()
	}

	coord, err := batch.New(store, cfg.CoordinatorConfig(), batch.WithClock(clk))
	if err != nil {
		return err
	}
	coord.Start()

	// Worker w submits records w, w+workers, w+2*workers, ...
	g, ctx := errgroup.WithContext(context.Background())
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := w; i < c.Count; i += workers {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if err := coord.Submit(simulatedRecord(i, w, source, clk)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	werr := g.Wait()

	coord.Stop()
	stats := coord.Stats()
	log.Info(map[string]any{
		"source_id": source,
		"submitted": stats.TotalSubmitted,
		"flushed":   stats.TotalFlushed,
	}, "simulation finished")

	if werr != nil {
		return fmt.Errorf("simulate: %w", werr)
	}

	if wantJSON(c.globals) {
		return printJSON(simulateJSON{SourceID: source, Workers: workers, Stats: stats})
	}

	fmt.Printf("Source:        %s\n", source)
	fmt.Printf("Submitted:     %s\n", formatNumber(stats.TotalSubmitted))
	fmt.Printf("Flushed:       %s in %s %s\n", formatNumber(stats.TotalFlushed),
		formatNumber(stats.FlushCount), plural(stats.FlushCount, "batch", "batches"))
	fmt.Printf("  size:        %s\n", formatNumber(stats.SizeTriggeredFlushes))
	fmt.Printf("  timer:       %s\n", formatNumber(stats.TimerTriggeredFlushes))
	if stats.DroppedRecords > 0 {
		fmt.Printf("Dropped:       %s\n", formatNumber(stats.DroppedRecords))
	}
	return nil
}

func simulatedRecord(i, worker int, source string, clk clock.Clock) storage.Record {
	host := simHosts[i%len(simHosts)]
	return storage.Record{
		URL:       "https://" + host + simPaths[i%len(simPaths)],
		Host:      host,
		Reason:    simReasons[i%len(simReasons)],
		Timestamp: clock.UnixMilli(clk),
		SourceID:  source,
		TabID:     int64(worker + 1),
	}
}
