package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/aqi-watch/internal/app"
	"github.com/kjstillabower/aqi-watch/internal/aqi"
	"github.com/kjstillabower/aqi-watch/internal/client"
	"github.com/kjstillabower/aqi-watch/internal/config"
	"github.com/kjstillabower/aqi-watch/internal/models"
	"github.com/kjstillabower/aqi-watch/internal/validation"
)

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [city...]",
		Short: "Fetch current readings for the configured cities, or the named ones",
		Long: `Fetch runs the same batched lookup the service uses. Cities that fail
upstream are reported with simulated readings and marked as fallback.`,
		RunE: runFetch,
	}
}

func placesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "places <query>",
		Short: "Geocode a place name within India",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPlaces,
	}
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cities, err := selectCities(cfg, args)
	if err != nil {
		return err
	}

	stack, err := app.NewStack(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer func() { _ = stack.Close(context.WithoutCancel(ctx(cmd)), logger) }()

	results := stack.Batch.FetchAll(ctx(cmd), cities)
	for _, r := range results {
		if r.Err != nil {
			logger.Debug("city used fallback", zap.String("city", r.Name), zap.Error(r.Err))
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, results)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CITY\tSTATE\tAQI\tCATEGORY\tPM2.5\tPM10\tSOURCE\tUPDATED")
	fallbacks := 0
	for _, r := range results {
		if r.IsFallback() {
			fallbacks++
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%.1f\t%.1f\t%s\t%s\n",
			r.Name, r.State, r.Record.AQI, aqi.Classify(r.Record.AQI).Label,
			r.Record.PM25, r.Record.PM10, r.Source, r.Record.Timestamp)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if fallbacks > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d cities used simulated readings\n", fallbacks, len(results))
	}
	return nil
}

// selectCities resolves args against the configured list. Names that are not
// configured are looked up as-is with no coordinates or state.
func selectCities(cfg *config.Config, args []string) ([]models.City, error) {
	if len(args) == 0 {
		return cfg.Cities, nil
	}
	out := make([]models.City, 0, len(args))
	for _, arg := range args {
		name, err := validation.ValidateName(arg, 1, 100)
		if err != nil {
			return nil, fmt.Errorf("city %q %w", arg, err)
		}
		city := models.City{Name: name}
		for _, c := range cfg.Cities {
			if strings.EqualFold(c.Name, name) {
				city = c
				break
			}
		}
		out = append(out, city)
	}
	return out, nil
}

func runPlaces(cmd *cobra.Command, args []string) error {
	query, err := validation.ValidateText(strings.Join(args, " "), 3, 200)
	if err != nil {
		return fmt.Errorf("query %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stack, err := app.NewStack(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer func() { _ = stack.Close(context.WithoutCancel(ctx(cmd)), logger) }()

	place, err := stack.Places.Search(ctx(cmd), query)
	if errors.Is(err, client.ErrPlaceNotFound) {
		return fmt.Errorf("no match for %q", query)
	}
	if err != nil {
		return fmt.Errorf("geocode %q (%s): %w", query, client.CategorizeError(err), err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, place)
	}
	_, err = fmt.Fprintf(out, "%s\n%.4f, %.4f\n", place.DisplayName, place.Lat, place.Lon)
	return err
}

// ctx tolerates commands invoked directly in tests without Execute.
func ctx(cmd *cobra.Command) context.Context {
	if c := cmd.Context(); c != nil {
		return c
	}
	return context.Background()
}
