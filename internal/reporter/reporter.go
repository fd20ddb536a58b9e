// Package reporter drains unreported records from the store to an upstream
// Sink and records the outcome of every delivery attempt.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/runnerr0/blocklog/internal/log"
	"github.com/runnerr0/blocklog/internal/storage"
)

// Store is the slice of storage.Store the reporter needs.
type Store interface {
	QueryUnreported(ctx context.Context, limit int) ([]storage.Record, error)
	MarkReported(ctx context.Context, id int64, ack storage.Ack) error
	MarkFailed(ctx context.Context, id int64, ack storage.Ack) error
}

// Config controls scan cadence and delivery pacing.
type Config struct {
	ScanInterval time.Duration
	BatchSize    int

	// RatePerSecond caps deliveries. Zero or negative means unlimited.
	RatePerSecond float64
}

// DefaultConfig scans once a minute, 100 records at a time, 20 deliveries a
// second.
func DefaultConfig() Config {
	return Config{
		ScanInterval:  time.Minute,
		BatchSize:     storage.DefaultUnreportedLimit,
		RatePerSecond: 20,
	}
}

// ScanResult summarizes one pass over the unreported backlog.
type ScanResult struct {
	Scanned   int `json:"scanned"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Reporter pairs a Store with a Sink.
type Reporter struct {
	store   Store
	sink    Sink
	cfg     Config
	limiter *rate.Limiter
}

// New builds a Reporter. Zero fields in cfg fall back to DefaultConfig.
func New(store Store, sink Sink, cfg Config) *Reporter {
	def := DefaultConfig()
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = def.ScanInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	return &Reporter{
		store:   store,
		sink:    sink,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// ScanOnce delivers up to BatchSize of the oldest unreported records. A
// record whose delivery errors or is refused is marked failed and stays in
// the backlog for the next scan.
func (r *Reporter) ScanOnce(ctx context.Context) (ScanResult, error) {
	var res ScanResult

	recs, err := r.store.QueryUnreported(ctx, r.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("scan: %w", err)
	}
	res.Scanned = len(recs)

	for _, rec := range recs {
		if err := r.limiter.Wait(ctx); err != nil {
			return res, err
		}

		ack, derr := r.sink.Deliver(ctx, rec)
		if derr == nil && ack.StatusCode >= 200 && ack.StatusCode < 300 {
			if err := r.store.MarkReported(ctx, rec.ID, ack); err != nil {
				return res, fmt.Errorf("mark record %d reported: %w", rec.ID, err)
			}
			res.Delivered++
			continue
		}

		if derr != nil {
			if errors.Is(derr, context.Canceled) || errors.Is(derr, context.DeadlineExceeded) {
				return res, derr
			}
			ack = storage.Ack{Response: derr.Error()}
		}
		if err := r.store.MarkFailed(ctx, rec.ID, ack); err != nil {
			return res, fmt.Errorf("mark record %d failed: %w", rec.ID, err)
		}
		res.Failed++
		log.Warn(map[string]any{
			"id":       rec.ID,
			"host":     rec.Host,
			"status":   ack.StatusCode,
			"response": ack.Response,
		}, "delivery failed, will retry next scan")
	}

	return res, nil
}

// Run scans immediately and then every ScanInterval until ctx is cancelled.
// Scan errors are logged and do not stop the loop.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		r.scanAndLog(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Reporter) scanAndLog(ctx context.Context) {
	res, err := r.ScanOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Error(map[string]any{"error": err.Error()}, "report scan failed")
		}
		return
	}
	if res.Scanned == 0 {
		log.Debug(nil, "no unreported records")
		return
	}
	log.Info(map[string]any{
		"scanned":   res.Scanned,
		"delivered": res.Delivered,
		"failed":    res.Failed,
	}, "report scan complete")
}
