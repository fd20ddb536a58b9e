package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/runnerr0/blocklog/internal/config"
	"github.com/runnerr0/blocklog/internal/log"
	"github.com/runnerr0/blocklog/internal/storage"
)

// loadConfig reads --config when given, otherwise the default config file
// (created with defaults on first use), and configures logging from it.
func loadConfig(g *GlobalFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g != nil && g.Config != "" {
		cfg, err = config.Load(g.Config)
	} else {
		cfg, err = config.LoadOrCreate()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if g != nil && g.Verbose {
		level = "debug"
	}
	if err := log.Configure(cfg.Logging.Env, level); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	return cfg, nil
}

// openStore opens the database named by --db, or the configured one,
// creating its directory if needed.
func openStore(g *GlobalFlags, cfg *config.Config) (*storage.SQLiteStore, error) {
	dbPath := ""
	if g != nil {
		dbPath = g.DB
	}
	if dbPath == "" {
		var err error
		if dbPath, err = cfg.DBPath(); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	store, err := storage.Open(dbPath, storage.WithBusyTimeout(cfg.BusyTimeout()))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

// resolve fills in whichever of cfg and store the caller did not inject.
// The returned cleanup closes the store only if resolve opened it.
func resolve(g *GlobalFlags, cfg *config.Config, store *storage.SQLiteStore) (*config.Config, *storage.SQLiteStore, func(), error) {
	if cfg == nil {
		var err error
		if cfg, err = loadConfig(g); err != nil {
			return nil, nil, nil, err
		}
	}
	if store != nil {
		return cfg, store, func() {}, nil
	}

	store, err := openStore(g, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, store, func() { store.Close() }, nil
}

func wantJSON(g *GlobalFlags) bool {
	return g != nil && g.JSON
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	sign := ""
	u := uint64(n)
	if n < 0 {
		// -(n+1) cannot overflow, even for math.MinInt64.
		sign = "-"
		u = uint64(-(n + 1)) + 1
	}
	s := strconv.FormatUint(u, 10)
	if len(s) <= 3 {
		return sign + s
	}

	var result strings.Builder
	result.WriteString(sign)
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
