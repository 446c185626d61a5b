package main

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ember/internal/config"
	"ember/internal/observ"
	"ember/internal/ui"
	"ember/internal/vm"
)

var (
	stressWorkload    string
	stressIterations  int
	stressJobs        int
	stressUI          string
	stressIncremental bool
	stressMode        bool
)

func init() {
	stressCmd.Flags().StringVar(&stressWorkload, "workload", "mixed", "workload to run (objects|arrays|structs|strings|cycles|mixed)")
	stressCmd.Flags().IntVar(&stressIterations, "iterations", 1000, "rounds per worker")
	stressCmd.Flags().IntVar(&stressJobs, "jobs", runtime.NumCPU(), "concurrent workers, one VM each")
	stressCmd.Flags().StringVar(&stressUI, "ui", "auto", "progress UI (auto|on|off)")
	stressCmd.Flags().BoolVar(&stressIncremental, "incremental", false, "use incremental collection")
	stressCmd.Flags().BoolVar(&stressMode, "gc-stress", false, "collect on every allocation")
}

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Hammer the heap with allocation workloads",
	RunE:  runStress,
}

type workerResult struct {
	stats vm.Stats
	dur   time.Duration
}

func runStress(cmd *cobra.Command, args []string) error {
	fn, err := lookupWorkload(stressWorkload)
	if err != nil {
		return err
	}
	mode, err := readUIMode(stressUI)
	if err != nil {
		return err
	}
	if stressJobs < 1 {
		stressJobs = 1
	}
	if stressIterations < 1 {
		stressIterations = 1
	}

	cfg, _, err := config.LoadOrDefault(".")
	if err != nil {
		return err
	}
	tuning, err := cfg.Tuning()
	if err != nil {
		return err
	}
	tuning.Incremental = tuning.Incremental || stressIncremental
	tuning.StressTest = tuning.StressTest || stressMode

	tracer, cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	workers := make([]string, stressJobs)
	for i := range workers {
		workers[i] = fmt.Sprintf("worker-%d", i)
	}

	var events chan ui.Event
	var uiDone chan error
	useTUI := shouldUseTUI(mode)
	if useTUI {
		events = make(chan ui.Event, 64)
		uiDone = make(chan error, 1)
		model := ui.NewProgressModel("stress: "+stressWorkload, workers, events)
		go func() {
			_, err := tea.NewProgram(model).Run()
			uiDone <- err
		}()
	}

	var totalBytes atomic.Int64
	results := make([]workerResult, stressJobs)
	timer := observ.NewTimer()
	phase := timer.Begin("stress")

	g, gctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(stressJobs)
	for i, name := range workers {
		g.Go(func(i int, name string) func() error {
			return func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}

				// VMs are single-threaded; each worker owns its own.
				m := vm.NewWithOptions(vm.Options{Tuning: tuning, Tracer: tracer})
				defer m.Close()

				start := time.Now()
				report := func(done int) {
					if events == nil {
						return
					}
					select {
					case events <- ui.Event{
						Worker:    name,
						Status:    ui.StatusRunning,
						Completed: done,
						Total:     stressIterations,
					}:
					default:
						// UI backpressure never stalls the workload.
					}
				}

				err := fn(m, stressIterations, report)
				status := ui.StatusDone
				if err != nil {
					status = ui.StatusError
				}
				if events != nil {
					events <- ui.Event{Worker: name, Status: status, Completed: stressIterations, Total: stressIterations}
					events <- ui.Event{Note: fmt.Sprintf("%d bytes live across workers", totalBytes.Load())}
				}
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}

				m.GC().Collect()
				s := m.GC().Stats()
				totalBytes.Add(s.CurrentAllocated)
				results[i] = workerResult{stats: s, dur: time.Since(start)}
				return nil
			}
		}(i, name))
	}

	runErr := g.Wait()
	timer.End(phase, stressWorkload)
	if events != nil {
		close(events)
		if err := <-uiDone; err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "ui: %v\n", err)
		}
	}
	if runErr != nil {
		return runErr
	}

	quiet, _ := cmd.Root().PersistentFlags().GetBool("quiet")
	if !quiet {
		printStressSummary(cmd, results, timer)
	}
	return nil
}

func printStressSummary(cmd *cobra.Command, results []workerResult, timer *observ.Timer) {
	out := cmd.OutOrStdout()
	var agg vm.Stats
	var pause time.Duration
	for _, r := range results {
		agg.TotalAllocated += r.stats.TotalAllocated
		agg.TotalFreed += r.stats.TotalFreed
		agg.Collections += r.stats.Collections
		agg.ObjectsFreed += r.stats.ObjectsFreed
		agg.StringsFreed += r.stats.StringsFreed
		pause += r.stats.TotalPause
	}
	fmt.Fprintf(out, "workers:      %d\n", len(results))
	fmt.Fprintf(out, "allocated:    %s\n", config.FormatBytes(agg.TotalAllocated))
	fmt.Fprintf(out, "freed:        %s\n", config.FormatBytes(agg.TotalFreed))
	fmt.Fprintf(out, "collections:  %d\n", agg.Collections)
	fmt.Fprintf(out, "objects freed: %d (+%d strings)\n", agg.ObjectsFreed, agg.StringsFreed)
	fmt.Fprintf(out, "gc pause:     %s total\n", pause)
	fmt.Fprint(out, timer.Summary())
}
