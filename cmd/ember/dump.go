package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"ember/internal/config"
	"ember/internal/vm"
)

var (
	dumpWorkload   string
	dumpIterations int
	dumpOutput     string
	dumpInspect    string
)

func init() {
	dumpCmd.Flags().StringVar(&dumpWorkload, "workload", "mixed", "workload to run before dumping")
	dumpCmd.Flags().IntVar(&dumpIterations, "iterations", 100, "workload rounds")
	dumpCmd.Flags().StringVarP(&dumpOutput, "output", "o", "heap.ember", "snapshot output path")
	dumpCmd.Flags().StringVar(&dumpInspect, "inspect", "", "summarize an existing snapshot instead of writing one")
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Write or inspect a heap snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		if dumpInspect != "" {
			return inspectSnapshot(cmd, dumpInspect)
		}
		return writeSnapshot(cmd)
	},
}

func writeSnapshot(cmd *cobra.Command) error {
	fn, err := lookupWorkload(dumpWorkload)
	if err != nil {
		return err
	}
	cfg, _, err := config.LoadOrDefault(".")
	if err != nil {
		return err
	}
	tuning, err := cfg.Tuning()
	if err != nil {
		return err
	}

	m := vm.NewWithOptions(vm.Options{Tuning: tuning})
	defer m.Close()

	// Keep one live object graph so the snapshot has something to show
	// beyond the builtin prototypes.
	keep, err := m.NewObject()
	if err != nil {
		return err
	}
	m.Push(vm.MakeObject(keep))
	if err := m.SetProperty(keep, "workload", m.InternValue(dumpWorkload)); err != nil {
		return err
	}
	if err := fn(m, dumpIterations, func(int) {}); err != nil {
		return err
	}

	snap := m.Snapshot()
	f, err := os.Create(dumpOutput)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer f.Close()
	if err := vm.WriteSnapshot(f, snap); err != nil {
		return err
	}

	quiet, _ := cmd.Root().PersistentFlags().GetBool("quiet")
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d objects, %d strings\n",
			dumpOutput, len(snap.Objects), len(snap.Strings))
	}
	return nil
}

func inspectSnapshot(cmd *cobra.Command, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	snap, err := vm.ReadSnapshot(f)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "snapshot %s (schema %d, phase %s)\n", path, snap.Schema, snap.Phase)
	fmt.Fprintf(out, "live: %s in %d objects, %d strings\n",
		config.FormatBytes(snap.Stats.CurrentAllocated), len(snap.Objects), len(snap.Strings))

	byKind := map[string]int{}
	pinned := 0
	for _, rec := range snap.Objects {
		byKind[rec.Kind]++
		if rec.Pinned {
			pinned++
		}
	}
	kinds := make([]string, 0, len(byKind))
	for kind := range byKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(out, "  %-10s %d\n", kind, byKind[kind])
	}
	if pinned > 0 {
		fmt.Fprintf(out, "  pinned     %d\n", pinned)
	}
	fmt.Fprintf(out, "collections: %d, pause %s total\n", snap.Stats.Collections, snap.Stats.TotalPause)
	return nil
}
