package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/runnerr0/blocklog/internal/storage"
)

// recordJSON is the JSON shape of one record in list output.
type recordJSON struct {
	ID             int64  `json:"id"`
	URL            string `json:"url"`
	Host           string `json:"host"`
	Reason         string `json:"reason"`
	Timestamp      string `json:"timestamp"`
	Reported       bool   `json:"reported"`
	SourceID       string `json:"source_id,omitempty"`
	TabID          int64  `json:"tab_id"`
	ReportStatus   int    `json:"report_status,omitempty"`
	ReportResponse string `json:"report_response,omitempty"`
	ReportFailures int    `json:"report_failures,omitempty"`
}

func toRecordJSON(r storage.Record) recordJSON {
	return recordJSON{
		ID:             r.ID,
		URL:            r.URL,
		Host:           r.Host,
		Reason:         r.Reason,
		Timestamp:      r.Time().UTC().Format(time.RFC3339),
		Reported:       r.Reported,
		SourceID:       r.SourceID,
		TabID:          r.TabID,
		ReportStatus:   r.ReportStatus,
		ReportResponse: r.ReportResponse,
		ReportFailures: r.ReportFailures,
	}
}

// Execute implements the go-flags Commander interface for ListCommand.
func (c *ListCommand) Execute(args []string) error {
	_, store, cleanup, err := resolve(c.globals, c.cfg, c.store)
	if err != nil {
		return err
	}
	defer cleanup()

	return c.executeWithStore(store)
}

func (c *ListCommand) executeWithStore(store *storage.SQLiteStore) error {
	ctx := context.Background()

	var (
		recs []storage.Record
		err  error
	)
	if c.Unreported {
		recs, err = store.QueryUnreported(ctx, c.Limit)
	} else {
		recs, err = store.QueryAll(ctx, c.Limit)
	}
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}

	if wantJSON(c.globals) {
		out := make([]recordJSON, len(recs))
		for i, r := range recs {
			out[i] = toRecordJSON(r)
		}
		return printJSON(out)
	}

	if len(recs) == 0 {
		fmt.Println("No records.")
		return nil
	}

	fmt.Printf("%-6s  %-19s  %-10s  %-28s  %s\n", "ID", "TIME", "STATE", "HOST", "REASON")
	for _, r := range recs {
		fmt.Printf("%-6d  %-19s  %-10s  %-28s  %s\n",
			r.ID, r.Time().Local().Format("2006-01-02 15:04:05"), recordState(r), r.Host, r.Reason)
	}
	return nil
}

func recordState(r storage.Record) string {
	switch {
	case r.Reported:
		return "reported"
	case r.ReportFailures > 0:
		return fmt.Sprintf("failed x%d", r.ReportFailures)
	default:
		return "pending"
	}
}
