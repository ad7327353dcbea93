package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"spikeglm/internal/artifacts"
	"spikeglm/internal/logging"
	"spikeglm/internal/simulate"
	"spikeglm/internal/storage"
	api "spikeglm/pkg/spikeglm"
)

const (
	defaultDBPath  = "spikeglm.db"
	defaultRunsDir = "runs"
	exportsDir     = "exports"
)

func main() {
	level := os.Getenv("SPIKEGLM_LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	if err := logging.Init(level, !isatty.IsTerminal(os.Stderr.Fd())); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logging.Sync()

	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		logging.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "catalogue", "catalog":
		return runCatalogue(ctx, args[1:])
	case "sessions":
		return runSessions(ctx, args[1:])
	case "datasets":
		return runDatasets(ctx, args[1:])
	case "simulate":
		return runSimulate(ctx, args[1:])
	case "fit":
		return runFit(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "kernels":
		return runKernels(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "version-compare":
		return runVersionCompare(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

type clientFlags struct {
	storeKind *string
	dbPath    *string
	runsDir   *string
}

func addClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		storeKind: fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath:    fs.String("db-path", defaultDBPath, "sqlite database path"),
		runsDir:   fs.String("runs-dir", defaultRunsDir, "fit run artifacts directory"),
	}
}

func (f clientFlags) open() (*api.Client, error) {
	return api.New(api.Options{
		StoreKind:    *f.storeKind,
		DBPath:       *f.dbPath,
		ArtifactsDir: *f.runsDir,
		ExportsDir:   exportsDir,
	})
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *cf.storeKind)
	return nil
}

func runCatalogue(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("catalogue", flag.ContinueOnError)
	cf := addClientFlags(fs)
	root := fs.String("root", "", "data root holding lab/Subjects/subject/date/number folders")
	outDir := fs.String("out", "", "directory for sessions.pqt and datasets.pqt (defaults to root)")
	index := fs.Bool("index", false, "also save sessions and datasets into the store")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *root == "" {
		return errors.New("catalogue requires --root")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Catalogue(ctx, api.CatalogueRequest{Root: *root, OutDir: *outDir, Index: *index})
	if err != nil {
		return err
	}
	fmt.Printf("sessions=%d datasets=%d sessions_table=%s datasets_table=%s indexed=%t\n",
		summary.Sessions, summary.Datasets, summary.SessionsPath, summary.DatasetsPath, *index)
	return nil
}

func runSessions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	cf := addClientFlags(fs)
	jsonOut := fs.Bool("json", false, "emit sessions as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	sessions, err := client.Sessions(ctx)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(sessions)
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions found")
		return nil
	}
	for _, s := range sessions {
		fmt.Printf("eid=%s lab=%s subject=%s date=%s number=%03d\n", s.EID, s.Lab, s.Subject, s.Date, s.Number)
	}
	return nil
}

func runDatasets(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("datasets", flag.ContinueOnError)
	cf := addClientFlags(fs)
	eid := fs.String("eid", "", "session eid (lab/Subjects/subject/date/number)")
	jsonOut := fs.Bool("json", false, "emit datasets as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *eid == "" {
		return errors.New("datasets requires --eid")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	datasets, err := client.Datasets(ctx, *eid)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(datasets)
	}
	var total uint64
	for _, d := range datasets {
		fmt.Printf("%s\t%s\n", d.RelPath, humanize.Bytes(uint64(d.FileSize)))
		total += uint64(d.FileSize)
	}
	fmt.Printf("files=%d total=%s\n", len(datasets), humanize.Bytes(total))
	return nil
}

func runSimulate(ctx context.Context, args []string) error {
	defaults := simulate.DefaultConfig()
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	outDir := fs.String("out", "", "output directory for trials.csv and spikes.csv")
	trials := fs.Int("trials", defaults.Trials, "number of trials")
	rate := fs.Float64("rate", defaults.MaxRate, "kernel peak rate in Hz")
	cluster := fs.Int("cluster", defaults.Cluster, "cluster id of the simulated unit")
	seed := fs.Uint64("seed", defaults.Seed, "random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := defaults
	cfg.Trials = *trials
	cfg.MaxRate = *rate
	cfg.Cluster = *cluster
	cfg.Seed = *seed

	client, err := api.New(api.Options{StoreKind: "memory"})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Simulate(ctx, api.SimulateRequest{Config: cfg, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("trials=%d spikes=%d trials_csv=%s spikes_csv=%s\n", summary.Trials, summary.Spikes, summary.TrialsPath, summary.SpikesPath)
	return nil
}

func runFit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fit", flag.ContinueOnError)
	cf := addClientFlags(fs)
	configPath := fs.String("config", "", "optional fit config YAML path")
	fs.String("trials", "", "trials CSV path")
	fs.String("spikes", "", "spikes CSV path (time,cluster)")
	fs.String("vartypes", "", "column types as column=type pairs (timing|value|continuous)")
	fs.Float64("bin-width", 0.02, "design matrix bin width in seconds")
	fs.Float64("train", 1, "fraction of trials used for fitting")
	fs.Bool("block-train", false, "train on the first trials instead of a random subset")
	fs.Uint64("seed", 0, "seed for the random train subset")
	fs.Int("min-trials", 0, "drop clusters firing in fewer trials")
	fs.String("method", "minimize", "fit method: minimize|regression")
	fs.String("optimizer", "", "optimizer for minimize: newton|bfgs|lbfgs")
	fs.String("init", "", "intercept initialisation: mean_log_rate|zero")
	fs.Float64("alpha", 0, "L2 penalty on weights for regression")
	fs.Int("max-iter", 0, "max iterations per cluster")
	fs.Float64("tol", 0, "relative objective change treated as converged")
	var covariates covariateList
	fs.Var(&covariates.timing, "timing", "timing covariate name:event:duration[:bases[:offset]] (repeatable)")
	fs.Var(&covariates.boxcar, "boxcar", "boxcar covariate name:start_event:end_event (repeatable)")
	jsonOut := fs.Bool("json", false, "emit fit summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	flagValue := make(map[string]any)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
		if g, ok := f.Value.(flag.Getter); ok {
			flagValue[f.Name] = g.Get()
		}
	})

	req, err := loadOrDefaultFitRequest(*configPath)
	if err != nil {
		return err
	}
	if *configPath == "" {
		req.BinWidth = 0.02
		req.Train = 1
		req.Method = "minimize"
	}
	if err := overrideFromFlags(&req, setFlags, flagValue); err != nil {
		return err
	}
	specs, err := covariates.specs()
	if err != nil {
		return err
	}
	req.Covariates = append(req.Covariates, specs...)

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Fit(ctx, req)
	if err != nil {
		return err
	}
	if *jsonOut {
		type fitItem struct {
			RunID        string   `json:"run_id"`
			ArtifactsDir string   `json:"artifacts_dir"`
			Method       string   `json:"method"`
			Rows         int      `json:"rows"`
			Columns      int      `json:"columns"`
			Clusters     []int    `json:"clusters"`
			NonConverged []int    `json:"non_converged"`
			Scores       []string `json:"scores"`
		}
		item := fitItem{
			RunID:        summary.RunID,
			ArtifactsDir: summary.ArtifactsDir,
			Method:       summary.Method,
			Rows:         summary.Rows,
			Columns:      summary.Columns,
			Clusters:     summary.Clusters,
			NonConverged: summary.NonConverged,
		}
		for _, c := range summary.Clusters {
			item.Scores = append(item.Scores, fmt.Sprintf("%d=%s", c, formatScore(summary.Scores[c])))
		}
		return writeJSON(item)
	}

	fmt.Printf("run_id=%s method=%s rows=%d columns=%d clusters=%d non_converged=%d artifacts=%s\n",
		summary.RunID, summary.Method, summary.Rows, summary.Columns, len(summary.Clusters), len(summary.NonConverged), summary.ArtifactsDir)
	for _, c := range summary.Clusters {
		fmt.Printf("cluster=%d score=%s\n", c, formatScore(summary.Scores[c]))
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	runsDir := fs.String("runs-dir", defaultRunsDir, "fit run artifacts directory")
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := api.New(api.Options{StoreKind: "memory", ArtifactsDir: *runsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, api.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(items)
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, e := range items {
		fmt.Printf("run_id=%s created_at=%s method=%s bin_width=%g clusters=%d non_converged=%d source=%s\n",
			e.RunID, e.CreatedAtUTC, e.Method, e.BinWidth, e.Clusters, e.NonConverged, e.Source)
	}
	return nil
}

func runKernels(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("kernels", flag.ContinueOnError)
	runsDir := fs.String("runs-dir", defaultRunsDir, "fit run artifacts directory")
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show the most recent run from run index")
	csvOut := fs.Bool("csv", false, "emit every kernel sample as CSV")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := api.New(api.Options{StoreKind: "memory", ArtifactsDir: *runsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	resolved, kernels, err := client.Kernels(ctx, api.KernelsRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if *csvOut {
		return artifacts.WriteKernelsCSV(os.Stdout, kernels)
	}
	fmt.Printf("run_id=%s covariates=%d\n", resolved, len(kernels))
	for _, k := range kernels {
		for _, c := range k.Clusters {
			if len(c.Rates) == 0 {
				continue
			}
			peak := 0
			for i := range c.Rates {
				if c.Rates[i] > c.Rates[peak] {
					peak = i
				}
			}
			fmt.Printf("covariate=%s kind=%s cluster=%d samples=%d peak_time=%g peak_rate=%.4f\n",
				k.Covariate, k.Kind, c.Cluster, len(c.Rates), k.Times[peak], c.Rates[peak])
		}
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runsDir := fs.String("runs-dir", defaultRunsDir, "fit run artifacts directory")
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := api.New(api.Options{StoreKind: "memory", ArtifactsDir: *runsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Export(ctx, api.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s\n", summary.RunID, summary.Directory)
	return nil
}

func runVersionCompare(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("version-compare", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("version-compare requires two version tags")
	}
	client, err := api.New(api.Options{StoreKind: "memory"})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	a, b := fs.Arg(0), fs.Arg(1)
	c, err := client.VersionCompare(a, b)
	if err != nil {
		return err
	}
	op := "=="
	switch {
	case c < 0:
		op = "<"
	case c > 0:
		op = ">"
	}
	fmt.Printf("%s %s %s\n", a, op, b)
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: spikeglmctl <init|catalogue|sessions|datasets|simulate|fit|runs|kernels|export|version-compare> [flags]", msg)
}

func writeJSON(value any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
