package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/runnerr0/blocklog/internal/config"
	"github.com/runnerr0/blocklog/internal/storage"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string `json:"version"`
	DatabasePath      string `json:"database_path"`
	DatabaseSizeBytes int64  `json:"database_size_bytes"`
	Total             int64  `json:"total"`
	Unreported        int64  `json:"unreported"`
	Reported          int64  `json:"reported"`
	Failed            int64  `json:"failed"`
	BatchSize         int    `json:"batch_size"`
	FlushInterval     string `json:"flush_interval"`
	SizeTrigger       bool   `json:"size_trigger"`
	TimerTrigger      bool   `json:"timer_trigger"`
	RetentionDays     int    `json:"retention_days"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	cfg, store, cleanup, err := resolve(c.globals, c.cfg, c.store)
	if err != nil {
		return err
	}
	defer cleanup()

	return c.executeWithStore(cfg, store)
}

// executeWithStore runs status against a provided config and store.
func (c *StatusCommand) executeWithStore(cfg *config.Config, store *storage.SQLiteStore) error {
	stats, err := store.Statistics(context.Background())
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	bc := cfg.CoordinatorConfig()
	out := statusJSON{
		Version:           c.version,
		DatabasePath:      store.Path(),
		DatabaseSizeBytes: databaseSize(store.Path()),
		Total:             stats.Total,
		Unreported:        stats.Unreported,
		Reported:          stats.Reported,
		Failed:            stats.Failed,
		BatchSize:         bc.BatchSize,
		FlushInterval:     bc.FlushInterval.String(),
		SizeTrigger:       bc.EnableSizeTrigger,
		TimerTrigger:      bc.EnableTimerTrigger && bc.FlushInterval > 0,
		RetentionDays:     cfg.Retention.ReportedDays,
	}

	if wantJSON(c.globals) {
		return printJSON(out)
	}
	return c.printStatusHuman(out)
}

func (c *StatusCommand) printStatusHuman(s statusJSON) error {
	fmt.Println("Blocklog Status")
	fmt.Println("===============")
	fmt.Printf("Version:       %s\n", s.Version)
	fmt.Printf("Database:      %s (%s)\n", s.DatabasePath, formatBytes(s.DatabaseSizeBytes))
	fmt.Printf("Records:       %s\n", formatNumber(s.Total))
	fmt.Printf("  Unreported:  %s\n", formatNumber(s.Unreported))
	fmt.Printf("  Reported:    %s\n", formatNumber(s.Reported))
	fmt.Printf("  Failing:     %s\n", formatNumber(s.Failed))

	fmt.Println()
	fmt.Printf("Batch size:    %d\n", s.BatchSize)
	if s.TimerTrigger {
		fmt.Printf("Flush timer:   every %s\n", s.FlushInterval)
	} else {
		fmt.Println("Flush timer:   disabled")
	}
	if s.SizeTrigger {
		fmt.Println("Size trigger:  enabled")
	} else {
		fmt.Println("Size trigger:  disabled")
	}
	fmt.Printf("Retention:     %d days after reporting\n", s.RetentionDays)

	return nil
}

// databaseSize sums the main file and its WAL, which holds writes not yet
// checkpointed.
func databaseSize(path string) int64 {
	var total int64
	for _, p := range []string{path, path + "-wal"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}
