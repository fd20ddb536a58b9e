package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/runnerr0/blocklog/internal/config"
	"github.com/runnerr0/blocklog/internal/storage"
)

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	cfg, store, cleanup, err := resolve(c.globals, c.cfg, c.store)
	if err != nil {
		return err
	}
	defer cleanup()

	return c.executeWithStore(cfg, store)
}

func (c *PruneCommand) executeWithStore(cfg *config.Config, store *storage.SQLiteStore) error {
	ctx := context.Background()

	days := c.Days
	if days < 0 {
		days = cfg.Retention.ReportedDays
	}

	count, err := store.CountReportedOlderThan(ctx, days)
	if err != nil {
		return fmt.Errorf("count prunable: %w", err)
	}

	if c.DryRun {
		if wantJSON(c.globals) {
			return printJSON(map[string]any{"dry_run": true, "days": days, "would_delete": count})
		}
		fmt.Printf("Would delete %s reported %s older than %d days.\n",
			formatNumber(count), plural(count, "record", "records"), days)
		return nil
	}

	if count > 0 && !c.Force {
		ok, err := c.confirm(count, days)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("aborted")
		}
	}

	deleted, err := store.DeleteReported(ctx, days)
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}

	if wantJSON(c.globals) {
		return printJSON(map[string]any{"dry_run": false, "days": days, "deleted": deleted})
	}
	if deleted == 0 {
		fmt.Println("Nothing to prune.")
		return nil
	}
	fmt.Printf("Deleted %s reported %s older than %d days.\n",
		formatNumber(deleted), plural(deleted, "record", "records"), days)
	return nil
}

func (c *PruneCommand) confirm(count int64, days int) (bool, error) {
	var in io.Reader = os.Stdin
	if c.stdin != nil {
		in = c.stdin
	}

	fmt.Printf("Delete %s reported %s older than %d days? [y/N]: ",
		formatNumber(count), plural(count, "record", "records"), days)

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return false, fmt.Errorf("aborted: no input received")
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes", nil
}
