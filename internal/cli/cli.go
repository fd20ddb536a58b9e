package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Status   *StatusCommand
	List     *ListCommand
	Mark     *MarkCommand
	Prune    *PruneCommand
	Simulate *SimulateCommand
	Report   *ReportCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "blocklog"
	parser.LongDescription = "Durable local log of blocked browser requests awaiting upstream reporting."

	cmds := &commands{
		Status:   &StatusCommand{globals: &globals, version: version},
		List:     &ListCommand{globals: &globals},
		Mark:     &MarkCommand{globals: &globals},
		Prune:    &PruneCommand{globals: &globals},
		Simulate: &SimulateCommand{globals: &globals},
		Report:   &ReportCommand{globals: &globals},
	}

	parser.AddCommand("status", "Show store statistics", "Show record counts, database location, and the batching and retention settings.", cmds.Status)
	parser.AddCommand("list", "List stored records", "List stored records, newest first, or the unreported backlog oldest first.", cmds.List)
	parser.AddCommand("mark", "Record a delivery outcome", "Mark a record reported, or record a failed delivery attempt with --failed.", cmds.Mark)
	parser.AddCommand("prune", "Delete old reported records", "Delete reported records older than the retention window. Unreported records are never deleted.", cmds.Prune)
	parser.AddCommand("simulate", "Generate blocked requests", "Submit synthetic blocked requests through the batch coordinator from concurrent workers.", cmds.Simulate)
	parser.AddCommand("report", "Deliver unreported records", "Scan the unreported backlog and deliver it to the simulated collector.", cmds.Report)

	return parser, &globals, cmds
}

// Run is the main entry point for the blocklog CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("blocklog %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
