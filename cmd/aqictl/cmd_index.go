package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kjstillabower/aqi-watch/internal/aqi"
)

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <aqi>",
		Short: "Show the health category for an AQI value",
		Args:  cobra.ExactArgs(1),
		RunE:  runClassify,
	}
}

func computeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compute <pm25>",
		Short: "Convert a PM2.5 concentration (µg/m³) to an AQI value",
		Args:  cobra.ExactArgs(1),
		RunE:  runCompute,
	}
}

func categoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List the AQI bands and pollutant thresholds",
		Args:  cobra.NoArgs,
		RunE:  runCategories,
	}
}

type indexView struct {
	PM25     *float64     `json:"pm25,omitempty"`
	AQI      int          `json:"aqi"`
	Category aqi.Category `json:"category"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	v, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("aqi must be an integer: %q", args[0])
	}
	return printIndex(cmd.OutOrStdout(), indexView{AQI: v, Category: aqi.Classify(v)})
}

func runCompute(cmd *cobra.Command, args []string) error {
	pm25, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("pm25 must be a number: %q", args[0])
	}
	if math.IsNaN(pm25) || math.IsInf(pm25, 0) {
		return fmt.Errorf("pm25 must be a finite number: %q", args[0])
	}
	if pm25 < 0 {
		return fmt.Errorf("pm25 must not be negative")
	}
	v := aqi.ComputeAQI(pm25)
	return printIndex(cmd.OutOrStdout(), indexView{PM25: &pm25, AQI: v, Category: aqi.Classify(v)})
}

func printIndex(w io.Writer, v indexView) error {
	if jsonOutput {
		return writeJSON(w, v)
	}
	if v.PM25 != nil {
		fmt.Fprintf(w, "PM2.5 %.1f µg/m³ -> ", *v.PM25)
	}
	_, err := fmt.Fprintf(w, "AQI %d: %s\n%s\n", v.AQI, v.Category.Label, v.Category.Description)
	return err
}

func runCategories(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, map[string]any{
			"categories": aqi.Categories(),
			"pollutants": aqi.Pollutants(),
		})
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANGE\tCATEGORY\tCOLOR")
	for _, c := range aqi.Categories() {
		fmt.Fprintf(tw, "%d-%d\t%s\t%s\n", c.Min, c.Max, c.Label, c.Color)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "POLLUTANT\tUNIT\tGOOD\tMODERATE")
	for _, p := range aqi.Pollutants() {
		fmt.Fprintf(tw, "%s\t%s\t<= %g\t<= %g\n", p.Name, p.Unit, p.Thresholds.Good, p.Thresholds.Moderate)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
