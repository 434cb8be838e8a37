// dwipipe runs the diffusion MRI processing pipelines from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/songzhibin97/gkit/generator"
	"github.com/spf13/cobra"

	"github.com/alexpron/mri-processing/dwi"
	"github.com/alexpron/mri-processing/events"
	"github.com/alexpron/mri-processing/pipeline"
	"github.com/alexpron/mri-processing/storage"
	"github.com/alexpron/mri-processing/types"
)

var (
	configPath string
	envFile    string
	workDir    string
	jobs       int
	redisAddr  string

	dwiPath   string
	bvalsPath string
	bvecsPath string
	t1Path    string

	runID uint64
)

var rootCmd = &cobra.Command{
	Use:   "dwipipe",
	Short: "Diffusion MRI processing pipelines",
	Long: `dwipipe assembles the diffusion MRI processing pipelines (bias
correction, tensor fitting, spherical deconvolution, tractography, tissue
classification and registration) and executes them by invoking the MRtrix3,
FSL and ANTs command-line tools.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full diffusion pipeline",
	Long: `Run the top-level diffusion pipeline on a diffusion volume, its
gradient tables and an anatomical T1 volume.

Examples:
  dwipipe run --dwi dwi.nii --bvals dwi.bvals --bvecs dwi.bvecs --t1 t1.nii
  dwipipe run --dwi dwi.nii --bvals dwi.bvals --bvecs dwi.bvecs --t1 t1.nii --jobs 4`,
	RunE: runPipeline,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a stored run report",
	Long:  `Fetch a run report from the configured Redis store and print the per-node diagnostics.`,
	RunE:  showRun,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML pipeline parameter file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "environment file loaded before reading configuration")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", "", "Redis address for run report storage (optional)")

	runCmd.Flags().StringVar(&dwiPath, "dwi", "", "diffusion weighted volume (required)")
	runCmd.Flags().StringVar(&bvalsPath, "bvals", "", "diffusion b-values file (required)")
	runCmd.Flags().StringVar(&bvecsPath, "bvecs", "", "diffusion b-vectors file (required)")
	runCmd.Flags().StringVar(&t1Path, "t1", "", "anatomical T1 volume (required)")
	runCmd.Flags().StringVar(&workDir, "workdir", "", "working directory for node outputs")
	runCmd.Flags().IntVar(&jobs, "jobs", 1, "number of nodes to run concurrently")
	for _, f := range []string{"dwi", "bvals", "bvecs", "t1"} {
		_ = runCmd.MarkFlagRequired(f)
	}

	showCmd.Flags().Uint64Var(&runID, "id", 0, "run ID (required)")
	_ = showCmd.MarkFlagRequired("id")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(showCmd)
}

func loadConfig() (dwi.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return dwi.Config{}, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}
	cfg, err := dwi.LoadConfig(configPath)
	if err != nil {
		return dwi.Config{}, err
	}
	if workDir != "" {
		cfg.WorkDir = workDir
	}
	return cfg, nil
}

func newStore() (storage.RunStore, func(), error) {
	if redisAddr == "" {
		return storage.NewMemoryStore(), func() {}, nil
	}
	store, err := storage.NewRedisStore(storage.RedisOptions{Addr: redisAddr})
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	wf, err := dwi.NewDiffusionPipeline(cfg)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	graph, err := wf.Flatten()
	if err != nil {
		return fmt.Errorf("failed to flatten pipeline: %w", err)
	}

	store, closeStore, err := newStore()
	if err != nil {
		return err
	}
	defer closeStore()

	bus := events.NewEventBus()
	defer bus.Stop()
	bus.SubscribeFunc(events.EventNodeStarted, logEvent)
	bus.SubscribeFunc(events.EventNodeSucceeded, logEvent)
	bus.SubscribeFunc(events.EventNodeFailed, logEvent)
	bus.SubscribeFunc(events.EventRunCompleted, logEvent)

	runner := pipeline.NewExecutor(
		pipeline.WithWorkers(jobs),
		pipeline.WithGenerator(generator.NewSnowflake(time.Now().Add(-1*time.Second), 1)),
		pipeline.WithEventBus(bus),
		pipeline.WithStore(store),
	)

	res, err := runner.Run(cmd.Context(), graph, map[string]types.Value{
		"diffusion_volume": dwiPath,
		"bvals":            bvalsPath,
		"bvecs":            bvecsPath,
		"t1_volume":        t1Path,
	})
	if err != nil {
		return err
	}

	fmt.Printf("run %d: %s\n", res.RunID, res.Status)
	for _, name := range sortedKeys(res.Outputs) {
		fmt.Printf("  %s: %v\n", name, res.Outputs[name])
	}
	if !res.Succeeded() {
		for _, id := range sortedKeys(res.Failures) {
			fmt.Fprintf(os.Stderr, "failed: %v\n", res.Failures[id])
		}
		return fmt.Errorf("pipeline finished with %d failed nodes", len(res.Failures))
	}
	return nil
}

func showRun(cmd *cobra.Command, args []string) error {
	store, closeStore, err := newStore()
	if err != nil {
		return err
	}
	defer closeStore()

	report, err := store.GetRun(cmd.Context(), runID)
	if err != nil {
		return err
	}
	fmt.Printf("run %d (%s): %s\n", report.ID, report.Pipeline, report.Status)
	for _, id := range sortedKeys(report.Nodes) {
		nr := report.Nodes[id]
		if nr.Status == types.StatusFailed {
			fmt.Printf("  %-60s %s (%s)\n", id, nr.Status, nr.Reason)
		} else {
			fmt.Printf("  %-60s %s\n", id, nr.Status)
		}
	}
	return nil
}

func logEvent(_ context.Context, event events.Event) error {
	if event.NodeID != "" {
		fmt.Printf("[run %d] %s: %s\n", event.RunID, event.Type, event.NodeID)
	} else {
		fmt.Printf("[run %d] %s: %v\n", event.RunID, event.Type, event.Data)
	}
	return nil
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
