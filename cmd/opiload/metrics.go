package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"opiload/internal/config"
	"opiload/internal/metrics"
	"opiload/internal/metrics/datadog"
)

// initMetrics installs the configured backend and returns its shutdown
// function. A backend that fails to start is logged and replaced by the
// no-op backend rather than failing the load.
func initMetrics(ctx context.Context, mc config.MetricsConfig, runID string, logger *log.Logger) (func(), error) {
	switch name := strings.ToLower(strings.TrimSpace(mc.Backend)); name {
	case "", "none":
		return func() {}, nil

	case "datadog":
		// Close stops the flush loop and submits one last time.
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    "opiload",
			RunID:      runID,
			Tags:       mc.Tags,
			FlushEvery: mc.FlushEvery,
		})
		if err != nil {
			logger.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}, nil
		}
		logger.Printf("metrics: backend=%s run_id=%s tags=%v", name, runID, mc.Tags)
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logger.Printf("metrics: datadog close/flush error: %v", err)
			}
			metrics.SetBackend(nil)
		}, nil

	default:
		return nil, fmt.Errorf("unknown metrics backend %q", mc.Backend)
	}
}
