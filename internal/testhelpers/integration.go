//go:build integration
// +build integration

// Package testhelpers builds live stacks for integration tests.
package testhelpers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/kjstillabower/aqi-watch/internal/app"
	"github.com/kjstillabower/aqi-watch/internal/config"
	"github.com/kjstillabower/aqi-watch/internal/report"
)

// IntegrationConfig loads the project dev config with env overrides applied.
// Skips the test unless AQI_INTEGRATION=1, since it calls the public APIs.
func IntegrationConfig(t *testing.T) *config.Config {
	t.Helper()
	if os.Getenv("AQI_INTEGRATION") != "1" {
		t.Skip("AQI_INTEGRATION not set, skipping integration test")
	}
	cfg, err := config.LoadFile(filepath.Join(projectRoot(t), "config", "dev.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if v := os.Getenv("INTEGRATION_CACHE_BACKEND"); v != "" {
		cfg.CacheBackend = v
	}
	return cfg
}

// SetupStack builds the measurement pipeline and closes it when the test ends.
func SetupStack(t *testing.T, cfg *config.Config, logger *zap.Logger) *app.Stack {
	t.Helper()
	stack, err := app.NewStack(cfg, nil, logger)
	if err != nil {
		t.Fatalf("NewStack() error = %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		_ = stack.Measurements.Clear(ctx)
		_ = stack.Close(ctx, logger)
	})
	return stack
}

// SetupReports opens a temporary sqlite report store with a submitter over it.
func SetupReports(t *testing.T, logger *zap.Logger) *report.Submitter {
	t.Helper()
	store, err := report.OpenSQLStore(context.Background(), filepath.Join(t.TempDir(), "reports.db"))
	if err != nil {
		t.Fatalf("OpenSQLStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return report.NewSubmitter(store, report.SubmitterOptions{Logger: logger})
}

func projectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found")
		}
		dir = parent
	}
}
