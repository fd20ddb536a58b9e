package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/runnerr0/blocklog/internal/config"
	"github.com/runnerr0/blocklog/internal/reporter"
	"github.com/runnerr0/blocklog/internal/storage"
)

// Execute implements the go-flags Commander interface for ReportCommand.
func (c *ReportCommand) Execute(args []string) error {
	cfg, store, cleanup, err := resolve(c.globals, c.cfg, c.store)
	if err != nil {
		return err
	}
	defer cleanup()

	if c.Once {
		return c.executeWithStore(context.Background(), cfg, store)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.executeWithStore(ctx, cfg, store)
}

func (c *ReportCommand) executeWithStore(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore) error {
	sink := c.sink
	if sink == nil {
		sink = reporter.NewSimulatedSink(cfg.Reporter.SuccessRate)
	}
	r := reporter.New(store, sink, cfg.DeliveryConfig())

	if !c.Once {
		if !wantJSON(c.globals) {
			fmt.Printf("Reporting every %s. Press Ctrl-C to stop.\n", cfg.DeliveryConfig().ScanInterval)
		}
		return r.Run(ctx)
	}

	res, err := r.ScanOnce(ctx)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if wantJSON(c.globals) {
		return printJSON(res)
	}
	if res.Scanned == 0 {
		fmt.Println("No unreported records.")
		return nil
	}
	fmt.Printf("Scanned %s, delivered %s, failed %s.\n",
		formatNumber(int64(res.Scanned)), formatNumber(int64(res.Delivered)), formatNumber(int64(res.Failed)))
	return nil
}
