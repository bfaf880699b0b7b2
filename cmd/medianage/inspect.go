package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/medianage/internal/codec"
	"github.com/ethpandaops/medianage/internal/histogram"
)

func inspectCmd() *cobra.Command {
	var (
		file    string
		horizon = histogram.DefaultHorizon()
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print per-year totals of a persisted histogram file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := horizon.Validate(); err != nil {
				return err
			}

			snap, err := readSnapshot(file, horizon)
			if err != nil {
				return err
			}

			return printSnapshot(cmd.OutOrStdout(), snap, all)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "persisted histogram file (required)")
	cmd.Flags().IntVar(&horizon.EarliestYear, "earliest-year", horizon.EarliestYear, "first year of the horizon")
	cmd.Flags().IntVar(&horizon.Years, "years", horizon.Years, "number of years in the horizon")
	cmd.Flags().BoolVar(&all, "all", false, "include years with no birthdays")

	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func readSnapshot(path string, horizon histogram.Horizon) (*histogram.Snapshot, error) {
	counters, err := codec.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if len(counters) != horizon.Len() {
		return nil, fmt.Errorf(
			"%w: %s holds %d counters, horizon %d+%d needs %d",
			codec.ErrCorruptPersistedState, path, len(counters),
			horizon.EarliestYear, horizon.Years, horizon.Len(),
		)
	}

	return histogram.NewSnapshot(horizon, counters), nil
}

func printSnapshot(out io.Writer, snap *histogram.Snapshot, all bool) error {
	h := snap.Horizon()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "YEAR\tBIRTHDAYS")

	for y := h.EarliestYear; y < h.EarliestYear+h.Years; y++ {
		n := snap.YearCount(y)
		if n == 0 && !all {
			continue
		}

		fmt.Fprintf(w, "%d\t%d\n", y, n)
	}

	fmt.Fprintf(w, "TOTAL\t%d\n", snap.Total())

	return w.Flush()
}
