package spikeglm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"spikeglm/internal/artifacts"
	"spikeglm/internal/catalog"
	"spikeglm/internal/dataload"
	"spikeglm/internal/glm"
	"spikeglm/internal/logging"
	"spikeglm/internal/model"
	"spikeglm/internal/simulate"
	"spikeglm/internal/storage"
	"spikeglm/internal/version"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "spikeglm.db"
	defaultTimingBases  = 10
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
}

type Client struct {
	store storage.Store

	artifactsDir string
	exportsDir   string
	now          func() time.Time
}

type CatalogueRequest struct {
	Root   string
	OutDir string
	// Index also saves sessions and datasets into the store.
	Index bool
}

type CatalogueSummary struct {
	SessionsPath string
	DatasetsPath string
	Sessions     int
	Datasets     int
}

type SimulateRequest struct {
	Config simulate.Config
	OutDir string
}

type SimulateSummary struct {
	TrialsPath string
	SpikesPath string
	Trials     int
	Spikes     int
}

// FitRequest describes a fit of CSV trial and spike tables.
type FitRequest struct {
	TrialsPath string
	SpikesPath string
	// VarTypes overrides the inferred column types, as "column=type" pairs.
	VarTypes      string
	BinWidth      float64
	Train         float64
	BlockTrain    bool
	Seed          uint64
	MinTrials     int
	Method        string
	Optimizer     string
	InitIntercept string
	Alpha         float64
	MaxIterations int
	Tolerance     float64
	Covariates    []model.CovariateSpec
}

type FitSummary struct {
	RunID        string
	ArtifactsDir string
	Method       string
	Rows         int
	Columns      int
	Clusters     []int
	NonConverged []int
	Scores       map[int]float64
	Kernels      map[string]*glm.KernelTable
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Source       string
	Method       string
	BinWidth     float64
	Clusters     int
	NonConverged int
}

type KernelsRequest struct {
	RunID  string
	Latest bool
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
		now:          time.Now,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

// Catalogue writes the parquet session and dataset tables for every session under req.Root.
func (c *Client) Catalogue(ctx context.Context, req CatalogueRequest) (CatalogueSummary, error) {
	if req.Root == "" {
		return CatalogueSummary{}, errors.New("catalogue requires a root directory")
	}
	sessionsPath, datasetsPath, err := catalog.MakeParquetDB(ctx, req.Root, req.OutDir)
	if err != nil {
		return CatalogueSummary{}, err
	}
	sessions, _, err := catalog.ReadTable[catalog.Session](sessionsPath)
	if err != nil {
		return CatalogueSummary{}, err
	}
	datasets, _, err := catalog.ReadTable[catalog.Dataset](datasetsPath)
	if err != nil {
		return CatalogueSummary{}, err
	}

	summary := CatalogueSummary{
		SessionsPath: sessionsPath,
		DatasetsPath: datasetsPath,
		Sessions:     len(sessions),
		Datasets:     len(datasets),
	}
	if !req.Index {
		return summary, nil
	}

	if err := c.store.Init(ctx); err != nil {
		return CatalogueSummary{}, err
	}
	bySession := make(map[string][]model.Dataset, len(sessions))
	for _, d := range datasets {
		bySession[d.SessionPath] = append(bySession[d.SessionPath], model.Dataset{
			VersionedRecord: storage.Versioned(),
			SessionEID:      d.SessionPath,
			RelPath:         d.RelPath,
			FileSize:        d.FileSize,
		})
	}
	for _, s := range sessions {
		if err := c.store.SaveSession(ctx, model.Session{
			VersionedRecord: storage.Versioned(),
			EID:             s.EID,
			Lab:             s.Lab,
			Subject:         s.Subject,
			Date:            s.Date,
			Number:          s.Number,
		}); err != nil {
			return CatalogueSummary{}, err
		}
		if err := c.store.SaveDatasets(ctx, s.EID, bySession[s.EID]); err != nil {
			return CatalogueSummary{}, err
		}
	}
	return summary, nil
}

func (c *Client) Sessions(ctx context.Context) ([]model.Session, error) {
	if err := c.store.Init(ctx); err != nil {
		return nil, err
	}
	return c.store.ListSessions(ctx)
}

func (c *Client) Datasets(ctx context.Context, eid string) ([]model.Dataset, error) {
	if err := c.store.Init(ctx); err != nil {
		return nil, err
	}
	datasets, ok, err := c.store.GetDatasets(ctx, eid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("session not found: %s", eid)
	}
	return datasets, nil
}

// Simulate writes a synthetic session as trials.csv and spikes.csv in req.OutDir.
func (c *Client) Simulate(_ context.Context, req SimulateRequest) (SimulateSummary, error) {
	if req.OutDir == "" {
		return SimulateSummary{}, errors.New("simulate requires an output directory")
	}
	session, err := simulate.Generate(req.Config)
	if err != nil {
		return SimulateSummary{}, err
	}
	summary := SimulateSummary{
		TrialsPath: filepath.Join(req.OutDir, "trials.csv"),
		SpikesPath: filepath.Join(req.OutDir, "spikes.csv"),
		Trials:     len(session.TrialStart),
		Spikes:     len(session.SpikeTimes),
	}
	if err := dataload.WriteTrialsFile(summary.TrialsPath, session.Columns()); err != nil {
		return SimulateSummary{}, err
	}
	if err := dataload.WriteSpikesFile(summary.SpikesPath, session.SpikeTimes, session.SpikeClusters); err != nil {
		return SimulateSummary{}, err
	}
	return summary, nil
}

// Fit builds a model from the request's tables and covariates, fits it, and records the run in
// the store and the artifacts directory.
func (c *Client) Fit(ctx context.Context, req FitRequest) (FitSummary, error) {
	if req.TrialsPath == "" || req.SpikesPath == "" {
		return FitSummary{}, errors.New("fit requires trials and spikes paths")
	}
	if len(req.Covariates) == 0 {
		return FitSummary{}, errors.New("fit requires at least one covariate")
	}
	method, err := glm.ParseMethod(req.Method)
	if err != nil {
		return FitSummary{}, err
	}

	columns, err := dataload.ReadTrialsFile(req.TrialsPath)
	if err != nil {
		return FitSummary{}, err
	}
	times, clusters, err := dataload.ReadSpikesFile(req.SpikesPath)
	if err != nil {
		return FitSummary{}, err
	}
	vartypes := dataload.DefaultVarTypes(columns)
	overrides, err := dataload.ParseVarTypes(req.VarTypes)
	if err != nil {
		return FitSummary{}, err
	}
	for name, vt := range overrides {
		vartypes[name] = vt
	}
	trials, err := glm.NewTrials(columns)
	if err != nil {
		return FitSummary{}, err
	}

	m, err := glm.NewModel(trials, times, clusters, vartypes, glm.Config{
		BinWidth:   req.BinWidth,
		Train:      req.Train,
		BlockTrain: req.BlockTrain,
		Seed:       req.Seed,
		MinTrials:  req.MinTrials,
	})
	if err != nil {
		return FitSummary{}, err
	}
	cfg := m.Config()
	specs := make([]model.CovariateSpec, 0, len(req.Covariates))
	for _, spec := range req.Covariates {
		spec, err := addCovariate(m, spec, cfg.BinWidth)
		if err != nil {
			return FitSummary{}, err
		}
		specs = append(specs, spec)
	}
	if err := m.CompileDesignMatrix(); err != nil {
		return FitSummary{}, err
	}

	opts := glm.SolverOptions{
		MaxIterations: req.MaxIterations,
		Tolerance:     req.Tolerance,
		InitIntercept: glm.InitIntercept(req.InitIntercept),
		Optimizer:     req.Optimizer,
		Alpha:         req.Alpha,
	}
	res, err := m.Fit(method, opts)
	if err != nil {
		return FitSummary{}, err
	}
	scores, err := m.Score()
	if err != nil {
		return FitSummary{}, err
	}
	kernels, err := m.CombineWeights()
	if err != nil {
		return FitSummary{}, err
	}
	design, err := m.Design()
	if err != nil {
		return FitSummary{}, err
	}

	now := c.now().UTC()
	runID := uuid.NewString()
	rows, cols := design.Dims()
	optimizer := ""
	if method == glm.MethodMinimize {
		optimizer = strings.ToLower(req.Optimizer)
		if optimizer == "" {
			optimizer = glm.DefaultSolverOptions().Optimizer
		}
	}
	run := model.FitRun{
		VersionedRecord: storage.Versioned(),
		ID:              runID,
		CreatedAt:       now,
		Source:          req.TrialsPath,
		Method:          string(method),
		Optimizer:       optimizer,
		BinWidth:        cfg.BinWidth,
		Train:           cfg.Train,
		BlockTrain:      cfg.BlockTrain,
		Seed:            cfg.Seed,
		Alpha:           req.Alpha,
		Trials:          trials.Len(),
		Rows:            rows,
		Columns:         cols,
		Covariates:      specs,
		Clusters:        res.Clusters(),
		NonConverged:    res.NonConverged(),
	}
	fits := clusterFits(runID, res, scores)

	if err := c.store.Init(ctx); err != nil {
		return FitSummary{}, err
	}
	if err := c.store.SaveFitRun(ctx, run); err != nil {
		return FitSummary{}, err
	}
	if err := c.store.SaveClusterFits(ctx, runID, fits); err != nil {
		return FitSummary{}, err
	}

	resolved := opts
	if resolved.MaxIterations == 0 {
		resolved.MaxIterations = glm.DefaultSolverOptions().MaxIterations
	}
	if resolved.Tolerance == 0 {
		resolved.Tolerance = glm.DefaultSolverOptions().Tolerance
	}
	if resolved.InitIntercept == "" {
		resolved.InitIntercept = glm.DefaultSolverOptions().InitIntercept
	}
	runDir, err := artifacts.WriteRunArtifacts(c.artifactsDir, artifacts.RunArtifacts{
		Config: artifacts.RunConfig{
			RunID:         runID,
			Source:        run.Source,
			Method:        run.Method,
			Optimizer:     run.Optimizer,
			BinWidth:      run.BinWidth,
			Train:         run.Train,
			BlockTrain:    run.BlockTrain,
			Seed:          run.Seed,
			MinTrials:     cfg.MinTrials,
			Alpha:         run.Alpha,
			MaxIterations: resolved.MaxIterations,
			Tolerance:     resolved.Tolerance,
			InitIntercept: string(resolved.InitIntercept),
			Covariates:    specs,
		},
		Clusters: clusterWeights(fits),
		Kernels:  kernelSeries(kernels, m.Covariates()),
	})
	if err != nil {
		return FitSummary{}, err
	}
	if err := artifacts.AppendRunIndex(c.artifactsDir, artifacts.RunIndexEntry{
		RunID:        runID,
		Source:       run.Source,
		Method:       run.Method,
		BinWidth:     run.BinWidth,
		Clusters:     len(run.Clusters),
		NonConverged: len(run.NonConverged),
		CreatedAtUTC: now.Format(time.RFC3339Nano),
	}); err != nil {
		return FitSummary{}, err
	}

	logging.Log.Infow("fit run recorded", "run_id", runID, "method", run.Method,
		"clusters", len(run.Clusters), "non_converged", len(run.NonConverged))
	return FitSummary{
		RunID:        runID,
		ArtifactsDir: filepath.Clean(runDir),
		Method:       run.Method,
		Rows:         rows,
		Columns:      cols,
		Clusters:     run.Clusters,
		NonConverged: run.NonConverged,
		Scores:       scores,
		Kernels:      kernels,
	}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := artifacts.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Source:       e.Source,
			Method:       e.Method,
			BinWidth:     e.BinWidth,
			Clusters:     e.Clusters,
			NonConverged: e.NonConverged,
		})
	}
	return out, nil
}

// ClusterFits returns the stored per-cluster parameters of a run.
func (c *Client) ClusterFits(ctx context.Context, runID string) ([]model.ClusterFit, error) {
	if err := c.store.Init(ctx); err != nil {
		return nil, err
	}
	fits, ok, err := c.store.GetClusterFits(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	return fits, nil
}

func (c *Client) Kernels(_ context.Context, req KernelsRequest) (string, []artifacts.KernelSeries, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return "", nil, err
	}
	kernels, ok, err := artifacts.ReadKernels(c.artifactsDir, runID)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return "", nil, fmt.Errorf("kernels not found for run %s", runID)
	}
	return runID, kernels, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}

	exportedDir, err := artifacts.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// VersionCompare returns -1, 0 or 1 as tag a is older than, equal to or newer than tag b.
func (c *Client) VersionCompare(a, b string) (int, error) {
	return version.Compare(a, b)
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID == "" && !latest {
		return "", errors.New("run id or latest is required")
	}
	if runID != "" {
		return runID, nil
	}
	entries, err := artifacts.ListRunIndex(c.artifactsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

// addCovariate registers spec on m and returns it with defaults filled in.
func addCovariate(m *glm.Model, spec model.CovariateSpec, binWidth float64) (model.CovariateSpec, error) {
	var opts []glm.CovariateOption
	if spec.Offset != 0 {
		opts = append(opts, glm.WithOffset(spec.Offset))
	}
	if spec.Amplitude != "" {
		opts = append(opts, glm.WithAmplitude(spec.Amplitude))
	}

	switch strings.ToLower(spec.Kind) {
	case "", "timing":
		spec.Kind = "timing"
		if spec.BasisCount == 0 {
			spec.BasisCount = defaultTimingBases
		}
		basis, err := glm.RaisedCosine(spec.Duration, spec.BasisCount, binWidth)
		if err != nil {
			return spec, fmt.Errorf("covariate %s: %w", spec.Name, err)
		}
		return spec, m.AddCovariateTiming(spec.Name, spec.Event, basis, opts...)
	case "boxcar":
		spec.Kind = "boxcar"
		return spec, m.AddCovariateBoxcar(spec.Name, spec.Event, spec.EndEvent, opts...)
	default:
		return spec, fmt.Errorf("%w: unknown covariate kind %q", glm.ErrInvalidParameter, spec.Kind)
	}
}

func clusterFits(runID string, res *glm.FitResult, scores map[int]float64) []model.ClusterFit {
	clusters := res.Clusters()
	out := make([]model.ClusterFit, 0, len(clusters))
	for _, cluster := range clusters {
		weights, _ := res.Weights(cluster)
		intercept, _ := res.Intercept(cluster)
		diag, _ := res.Diagnostics(cluster)
		fit := model.ClusterFit{
			VersionedRecord: storage.Versioned(),
			RunID:           runID,
			Cluster:         cluster,
			Intercept:       intercept,
			Weights:         weights,
			Converged:       diag.Converged,
			Status:          diag.Status,
			Iterations:      diag.Iterations,
			Objective:       diag.Objective,
			Deviance:        diag.Deviance,
		}
		if s, ok := scores[cluster]; ok && !math.IsNaN(s) {
			fit.Score = &s
		}
		out = append(out, fit)
	}
	return out
}

func clusterWeights(fits []model.ClusterFit) []artifacts.ClusterWeights {
	out := make([]artifacts.ClusterWeights, 0, len(fits))
	for _, f := range fits {
		out = append(out, artifacts.ClusterWeights{
			Cluster:    f.Cluster,
			Intercept:  f.Intercept,
			Weights:    f.Weights,
			Converged:  f.Converged,
			Status:     f.Status,
			Iterations: f.Iterations,
			Deviance:   f.Deviance,
			Score:      f.Score,
		})
	}
	return out
}

// kernelSeries lists kernels in covariate registration order.
func kernelSeries(tables map[string]*glm.KernelTable, order []string) []artifacts.KernelSeries {
	out := make([]artifacts.KernelSeries, 0, len(tables))
	for _, name := range order {
		table, ok := tables[name]
		if !ok {
			continue
		}
		series := artifacts.KernelSeries{Covariate: table.Covariate, Kind: table.Kind, Times: table.Times}
		for _, row := range table.Rows {
			series.Clusters = append(series.Clusters, artifacts.KernelCluster{
				Cluster:   row.Cluster,
				Intercept: row.Intercept,
				Weights:   row.Weights,
				Rates:     row.Rates,
			})
		}
		out = append(out, series)
	}
	return out
}
