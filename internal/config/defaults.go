package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Dir:           "~/.local/share/blocklog",
			SQLiteFile:    "blocked_requests.db",
			BusyTimeoutMS: 5000,
		},
		Batch: BatchConfig{
			BatchSize:            10,
			FlushIntervalMinutes: 1,
			EnableSizeTrigger:    true,
			EnableTimerTrigger:   true,
		},
		Retention: RetentionConfig{
			ReportedDays: 7,
		},
		Reporter: ReporterConfig{
			ScanIntervalSeconds: 60,
			BatchSize:           100,
			RatePerSecond:       20,
			SuccessRate:         0.9,
		},
		Logging: LoggingConfig{
			Env:   "prod",
			Level: "info",
		},
	}
}
