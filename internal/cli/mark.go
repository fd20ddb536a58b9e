package cli

import (
	"context"
	"fmt"

	"github.com/runnerr0/blocklog/internal/storage"
)

// Execute implements the go-flags Commander interface for MarkCommand.
func (c *MarkCommand) Execute(args []string) error {
	_, store, cleanup, err := resolve(c.globals, c.cfg, c.store)
	if err != nil {
		return err
	}
	defer cleanup()

	return c.executeWithStore(store)
}

func (c *MarkCommand) executeWithStore(store *storage.SQLiteStore) error {
	ctx := context.Background()
	ack := storage.Ack{StatusCode: c.Status, Response: c.Response}

	verb := "reported"
	if c.Failed {
		verb = "failed"
		if err := store.MarkFailed(ctx, c.ID, ack); err != nil {
			return fmt.Errorf("mark record %d failed: %w", c.ID, err)
		}
	} else if err := store.MarkReported(ctx, c.ID, ack); err != nil {
		return fmt.Errorf("mark record %d reported: %w", c.ID, err)
	}

	if wantJSON(c.globals) {
		return printJSON(map[string]any{
			"id":       c.ID,
			"outcome":  verb,
			"status":   c.Status,
			"response": c.Response,
		})
	}

	fmt.Printf("Record %d marked %s (status %d).\n", c.ID, verb, c.Status)
	return nil
}
