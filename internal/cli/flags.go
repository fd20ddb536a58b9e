package cli

import (
	"io"

	"github.com/runnerr0/blocklog/internal/clock"
	"github.com/runnerr0/blocklog/internal/config"
	"github.com/runnerr0/blocklog/internal/reporter"
	"github.com/runnerr0/blocklog/internal/storage"
)

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	DB      string `long:"db" description:"Override the database file path"`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable debug logging"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// StatusCommand shows store statistics and configuration summary.
type StatusCommand struct {
	globals *GlobalFlags
	version string
	cfg     *config.Config       // injectable for testing
	store   *storage.SQLiteStore // injectable for testing
}

// ListCommand lists records.
type ListCommand struct {
	Unreported bool `long:"unreported" description:"Only unreported records, oldest first"`
	Limit      int  `long:"limit" description:"Maximum results (0 uses the store default)" default:"0"`

	globals *GlobalFlags
	cfg     *config.Config
	store   *storage.SQLiteStore
}

// MarkCommand acknowledges or fails a single record.
type MarkCommand struct {
	ID       int64  `long:"id" description:"Record ID" required:"true"`
	Status   int    `long:"status" description:"Collector status code" default:"200"`
	Response string `long:"response" description:"Collector response text" default:"ok"`
	Failed   bool   `long:"failed" description:"Record a failed attempt instead of marking reported"`

	globals *GlobalFlags
	cfg     *config.Config
	store   *storage.SQLiteStore
}

// PruneCommand deletes reported records past the retention window.
type PruneCommand struct {
	Days   int  `long:"days" description:"Override retention window in days (-1 uses config)" default:"-1"`
	DryRun bool `long:"dry-run" description:"Show what would be pruned without deleting"`
	Force  bool `long:"force" description:"Skip confirmation prompt"`

	globals *GlobalFlags
	cfg     *config.Config
	store   *storage.SQLiteStore
	stdin   io.Reader // nil means os.Stdin
}

// SimulateCommand drives the batch coordinator with synthetic traffic.
type SimulateCommand struct {
	Count   int    `long:"count" description:"Total records to submit" default:"100"`
	Workers int    `long:"workers" description:"Concurrent producers" default:"4"`
	Source  string `long:"source" description:"Source ID stamped on every record (random when empty)"`

	globals *GlobalFlags
	cfg     *config.Config
	store   *storage.SQLiteStore
	clock   clock.Clock
}

// ReportCommand delivers the unreported backlog.
type ReportCommand struct {
	Once bool `long:"once" description:"Run a single scan and exit"`

	globals *GlobalFlags
	cfg     *config.Config
	store   *storage.SQLiteStore
	sink    reporter.Sink // nil means a SimulatedSink from config
}
