// Command aqictl is an operator tool for the AQI service. It classifies index
// values, converts PM2.5 readings and runs one-off lookups against the
// configured upstreams without starting the HTTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/aqi-watch/internal/config"
	"github.com/kjstillabower/aqi-watch/internal/observability"
)

var (
	configPath string
	logLevel   string
	jsonOutput bool

	logger = zap.NewNop()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "aqictl",
		Short:         "Inspect Indian air quality readings from the command line",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel == "" {
				return nil
			}
			l, err := observability.NewCLILogger(logLevel)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			logger = l
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default config/$ENV_NAME.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log to stderr at this level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of a table")

	root.AddCommand(classifyCmd(), computeCmd(), categoriesCmd(), fetchCmd(), placesCmd())
	return root
}

// loadConfig honours --config and falls back to the ENV_NAME lookup.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}
