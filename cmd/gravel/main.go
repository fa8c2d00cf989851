// Command gravel runs a graph algorithm over an external-memory graph:
//
//	gravel [-c confs] <conf_file> <graph_file> <index_file> <algorithm> [algorithm-options]
//
// Algorithms: kcore, pagerank, wcc, spmv.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/pprof"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/gravel"
	"github.com/hupe1980/gravel/internal/resultsink"
	"github.com/hupe1980/gravel/algo/kcore"
	"github.com/hupe1980/gravel/algo/pagerank"
	"github.com/hupe1980/gravel/algo/wcc"
	"github.com/hupe1980/gravel/matrix"
)

func main() {
	var (
		confs   string
		output  string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:           "gravel <conf_file> <graph_file> <index_file> <algorithm> [algorithm-options]",
		Short:         "External-memory graph analytics",
		Args:          cobra.MinimumNArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args, confs, output, verbose)
		},
	}
	cmd.Flags().StringVarP(&confs, "confs", "c", "", "extra key=value configuration overrides")
	cmd.Flags().StringVarP(&output, "output", "o", "", "dump per-vertex results to this file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gravel:", err)
		os.Exit(1)
	}
}

func run(args []string, confs, output string, verbose bool) error {
	confFile, graphFile, indexFile, algorithm := args[0], args[1], args[2], args[3]
	algoArgs := args[4:]

	cfg, err := gravel.LoadConfig(confFile)
	if err != nil {
		return err
	}
	if confs != "" {
		if err := cfg.ApplyOverrides(confs); err != nil {
			return err
		}
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := gravel.NewTextLogger(level)

	if err := gravel.Init(); err != nil {
		return err
	}
	defer gravel.Destroy()

	stopProf, err := startProfile(cfg.ProfFile)
	if err != nil {
		return err
	}
	defer stopProf()

	// SIGINT stops profiling and exits, per the engine's cancellation
	// contract.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT)
	go func() {
		<-sigs
		stopProf()
		os.Exit(0)
	}()

	if algorithm == "spmv" {
		return runSpMV(graphFile, indexFile, cfg, logger)
	}

	eng, err := gravel.NewEngine(graphFile, indexFile, cfg, gravel.WithLogger(logger))
	if err != nil {
		return err
	}
	defer eng.Close()

	switch algorithm {
	case "kcore":
		err = runKCore(eng, algoArgs, output)
	case "pagerank":
		err = runPageRank(eng, algoArgs, output)
	case "wcc":
		err = runWCC(eng, output)
	default:
		return fmt.Errorf("unknown algorithm %q (want kcore, pagerank, wcc, or spmv)", algorithm)
	}
	if err != nil {
		return err
	}

	if cfg.PrintIOStat {
		fmt.Println("io:", eng.IOStats())
	}
	return nil
}

func startProfile(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create profile %s: %w", path, err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, err
	}
	var stopped bool
	return func() {
		if !stopped {
			stopped = true
			pprof.StopCPUProfile()
			f.Close()
		}
	}, nil
}

// runKCore peels for every k in [kmin, kmax]. kmax defaults to the
// maximum vertex degree.
func runKCore(eng *gravel.Engine, args []string, output string) error {
	if len(args) < 1 {
		return fmt.Errorf("kcore: usage: ... kcore kmin [kmax]")
	}
	kmin64, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("kcore: bad kmin %q: %w", args[0], err)
	}
	kmin := uint32(kmin64)

	var kmax uint32
	if len(args) > 1 {
		kmax64, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("kcore: bad kmax %q: %w", args[1], err)
		}
		kmax = uint32(kmax64)
	} else {
		fmt.Println("Computing kmax as max degree ...")
		if kmax, err = kcore.MaxDegree(eng); err != nil {
			return err
		}
		fmt.Printf("Setting kmax to %d ...\n", kmax)
	}

	results, err := kcore.Run(eng, kmin, kmax)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Printf("%d-core shows %d vertices >= %d degree in %f seconds\n",
			r.K, r.Alive, r.K, r.Elapsed.Seconds())
	}
	return nil
}

func runPageRank(eng *gravel.Engine, args []string, output string) error {
	iters := 30
	damping := pagerank.DefaultDamping
	var err error
	if len(args) > 0 {
		if iters, err = strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("pagerank: bad iterations %q: %w", args[0], err)
		}
	}
	if len(args) > 1 {
		if damping, err = strconv.ParseFloat(args[1], 64); err != nil {
			return fmt.Errorf("pagerank: bad damping %q: %w", args[1], err)
		}
	}

	ranks, err := pagerank.Run(eng, iters, damping)
	if err != nil {
		return err
	}
	fmt.Printf("pagerank finished after %d iterations over %d vertices\n", iters, len(ranks))

	if output != "" {
		return resultsink.Save(output, eng.NumVertices(), func(id uint32) interface{} {
			return ranks[id]
		})
	}
	return nil
}

func runWCC(eng *gravel.Engine, output string) error {
	s, err := wcc.Run(eng)
	if err != nil {
		return err
	}
	fmt.Printf("wcc found %d components over %d vertices\n", s.NumComponents(), eng.NumVertices())

	if output != "" {
		return resultsink.Save(output, eng.NumVertices(), func(id uint32) interface{} {
			return s.Component(gravel.VertexID(id))
		})
	}
	return nil
}

// runSpMV multiplies the graph's adjacency matrix with the all-ones
// vector, streaming rows straight from the graph file.
func runSpMV(graphFile, indexFile string, cfg gravel.Config, logger *gravel.Logger) error {
	m, err := matrix.FromGraph(graphFile, indexFile, cfg, matrix.WithLogger(logger))
	if err != nil {
		return err
	}
	defer m.Close()

	n := m.Rows()
	in := make([]float64, n)
	for i := range in {
		in[i] = 1
	}
	out := make([]float64, n)
	if err := m.MultiplyVector(context.Background(), in, out); err != nil {
		return err
	}

	var sum float64
	for _, v := range out {
		sum += v
	}
	fmt.Printf("spmv over %d rows: sum=%g\n", n, sum)
	return nil
}
