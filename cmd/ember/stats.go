package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ember/internal/config"
	"ember/internal/vm"
)

var (
	statsWorkload   string
	statsIterations int
)

func init() {
	statsCmd.Flags().StringVar(&statsWorkload, "workload", "mixed", "workload to run before reporting")
	statsCmd.Flags().IntVar(&statsIterations, "iterations", 500, "workload rounds")
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Run a workload and report collector statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		fn, err := lookupWorkload(statsWorkload)
		if err != nil {
			return err
		}
		cfg, manifest, err := config.LoadOrDefault(".")
		if err != nil {
			return err
		}
		tuning, err := cfg.Tuning()
		if err != nil {
			return err
		}
		tracer, cleanup, err := setupTracing(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		configureColor(cmd)

		m := vm.NewWithOptions(vm.Options{Tuning: tuning, Tracer: tracer})
		defer m.Close()

		if err := fn(m, statsIterations, func(int) {}); err != nil {
			return err
		}
		m.GC().Collect()

		out := cmd.OutOrStdout()
		if manifest != "" {
			fmt.Fprintf(out, "config:  %s\n", manifest)
		}
		printStats(cmd, m.GC().Stats())
		return nil
	},
}

func configureColor(cmd *cobra.Command) {
	mode, _ := cmd.Root().PersistentFlags().GetString("color")
	switch mode {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	}
}

func printStats(cmd *cobra.Command, s vm.Stats) {
	out := cmd.OutOrStdout()
	label := color.New(color.FgCyan)
	num := color.New(color.Bold)

	row := func(name, value string) {
		fmt.Fprintf(out, "%s %s\n", label.Sprintf("%-18s", name), num.Sprint(value))
	}

	row("allocated", config.FormatBytes(s.TotalAllocated))
	row("freed", config.FormatBytes(s.TotalFreed))
	row("live", config.FormatBytes(s.CurrentAllocated))
	row("peak", config.FormatBytes(s.PeakAllocated))
	row("next threshold", config.FormatBytes(s.NextThreshold))
	row("collections", fmt.Sprintf("%d", s.Collections))
	row("objects freed", fmt.Sprintf("%d", s.ObjectsFreed))
	row("strings freed", fmt.Sprintf("%d", s.StringsFreed))
	row("live objects", fmt.Sprintf("%d", s.LiveObjects))
	row("live strings", fmt.Sprintf("%d", s.LiveStrings))
	row("proto cycles", fmt.Sprintf("%d", s.ProtoCycles))
	row("gc pause", fmt.Sprintf("%s total, %s last", s.TotalPause, s.LastPause))
}
