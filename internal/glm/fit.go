package glm

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"spikeglm/internal/logging"
)

// Method selects the fitting path.
type Method string

const (
	// MethodMinimize minimises the Poisson negative log-likelihood with a general optimiser.
	MethodMinimize Method = "minimize"
	// MethodRegression runs penalised iteratively reweighted least squares.
	MethodRegression Method = "regression"
)

// ParseMethod accepts the method names and their common aliases.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "minimize", "minimise":
		return MethodMinimize, nil
	case "regression", "sklearn", "irls":
		return MethodRegression, nil
	default:
		return "", fmt.Errorf("%w: unknown fit method %q", ErrInvalidParameter, s)
	}
}

// InitIntercept chooses the starting intercept.
type InitIntercept string

const (
	InitMeanLogRate InitIntercept = "mean_log_rate"
	InitZero        InitIntercept = "zero"
)

// SolverOptions tunes both fitting paths.
type SolverOptions struct {
	// MaxIterations bounds major iterations per cluster.
	MaxIterations int
	// Tolerance is the relative objective change treated as converged.
	Tolerance float64
	// GradientTolerance is the gradient infinity norm treated as converged.
	GradientTolerance float64
	// InitIntercept picks the starting intercept; weights always start at zero.
	InitIntercept InitIntercept
	// Optimizer is newton, bfgs or lbfgs and applies to MethodMinimize.
	Optimizer string
	// Alpha is the L2 penalty on weights (never the intercept) for MethodRegression.
	Alpha float64
}

// DefaultSolverOptions returns the options used when fields are left zero.
func DefaultSolverOptions() SolverOptions {
	return SolverOptions{
		MaxIterations:     500,
		Tolerance:         1e-10,
		GradientTolerance: 1e-8,
		InitIntercept:     InitMeanLogRate,
		Optimizer:         "newton",
	}
}

func (o SolverOptions) withDefaults() SolverOptions {
	d := DefaultSolverOptions()
	if o.MaxIterations == 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.Tolerance == 0 {
		o.Tolerance = d.Tolerance
	}
	if o.GradientTolerance == 0 {
		o.GradientTolerance = d.GradientTolerance
	}
	if o.InitIntercept == "" {
		o.InitIntercept = d.InitIntercept
	}
	if o.Optimizer == "" {
		o.Optimizer = d.Optimizer
	}
	return o
}

func (o SolverOptions) validate(method Method) error {
	if o.MaxIterations < 0 {
		return fmt.Errorf("%w: max iterations must be >= 0", ErrInvalidParameter)
	}
	if o.Tolerance < 0 || o.GradientTolerance < 0 {
		return fmt.Errorf("%w: tolerances must be >= 0", ErrInvalidParameter)
	}
	if o.Alpha < 0 || math.IsNaN(o.Alpha) {
		return fmt.Errorf("%w: alpha must be >= 0, got %g", ErrInvalidParameter, o.Alpha)
	}
	switch o.InitIntercept {
	case InitMeanLogRate, InitZero:
	default:
		return fmt.Errorf("%w: unknown intercept init %q", ErrInvalidParameter, o.InitIntercept)
	}
	if method == MethodMinimize {
		if _, err := optimizerFor(o.Optimizer); err != nil {
			return err
		}
	}
	return nil
}

// ClusterDiagnostics describes how one cluster's fit ended.
type ClusterDiagnostics struct {
	Converged  bool
	Status     string
	Iterations int
	Objective  float64
	Deviance   float64
}

// FitResult holds per-cluster weights and intercepts for a compiled design.
type FitResult struct {
	method      Method
	binWidth    float64
	columns     int
	clusters    []int
	weights     map[int][]float64
	intercepts  map[int]float64
	diagnostics map[int]ClusterDiagnostics
}

// Method returns the path that produced the fit.
func (r *FitResult) Method() Method { return r.method }

// Clusters returns the fitted cluster ids in ascending order.
func (r *FitResult) Clusters() []int { return append([]int(nil), r.clusters...) }

// Weights returns a copy of one cluster's weight vector, one entry per design column.
func (r *FitResult) Weights(cluster int) ([]float64, bool) {
	w, ok := r.weights[cluster]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), w...), true
}

// Intercept returns one cluster's intercept.
func (r *FitResult) Intercept(cluster int) (float64, bool) {
	b, ok := r.intercepts[cluster]
	return b, ok
}

// Diagnostics returns one cluster's solver outcome.
func (r *FitResult) Diagnostics(cluster int) (ClusterDiagnostics, bool) {
	d, ok := r.diagnostics[cluster]
	return d, ok
}

// NonConverged lists the clusters whose solver stopped without meeting a tolerance.
func (r *FitResult) NonConverged() []int {
	var out []int
	for _, c := range r.clusters {
		if !r.diagnostics[c].Converged {
			out = append(out, c)
		}
	}
	return out
}

func (r *FitResult) clone() *FitResult {
	out := *r
	out.clusters = append([]int(nil), r.clusters...)
	out.weights = make(map[int][]float64, len(r.weights))
	for c, w := range r.weights {
		out.weights[c] = append([]float64(nil), w...)
	}
	out.intercepts = make(map[int]float64, len(r.intercepts))
	for c, b := range r.intercepts {
		out.intercepts[c] = b
	}
	out.diagnostics = make(map[int]ClusterDiagnostics, len(r.diagnostics))
	for c, d := range r.diagnostics {
		out.diagnostics[c] = d
	}
	return &out
}

type clusterSolver func(p *poissonProblem, init []float64, opts SolverOptions) ([]float64, ClusterDiagnostics, error)

func fitDesign(d *Design, method Method, opts SolverOptions) (*FitResult, error) {
	opts = opts.withDefaults()
	if err := opts.validate(method); err != nil {
		return nil, err
	}

	var solve clusterSolver
	alpha := 0.0
	switch method {
	case MethodMinimize:
		solve = minimizeCluster
	case MethodRegression:
		solve = regressCluster
		alpha = opts.Alpha
	default:
		return nil, fmt.Errorf("%w: unknown fit method %q", ErrInvalidParameter, method)
	}

	xa, rowIdx, err := d.augmented(d.train)
	if err != nil {
		return nil, err
	}

	res := &FitResult{
		method:      method,
		binWidth:    d.binWidth,
		columns:     d.cols,
		clusters:    d.Clusters(),
		weights:     make(map[int][]float64, len(d.clusters)),
		intercepts:  make(map[int]float64, len(d.clusters)),
		diagnostics: make(map[int]ClusterDiagnostics, len(d.clusters)),
	}
	for _, cluster := range d.clusters {
		y := d.responses(cluster, rowIdx)
		problem := newPoissonProblem(xa, y, alpha)
		beta, diag, err := solve(problem, initialParams(y, d.cols+1, opts.InitIntercept), opts)
		if err != nil {
			return nil, fmt.Errorf("fit cluster %d: %w", cluster, err)
		}
		problem.predict(beta)
		diag.Deviance = poissonDeviance(y, problem.mu)
		if !diag.Converged {
			logging.Log.Warnw("cluster fit did not converge",
				"cluster", cluster, "method", string(method), "status", diag.Status, "iterations", diag.Iterations)
		}
		res.intercepts[cluster] = beta[0]
		res.weights[cluster] = append([]float64(nil), beta[1:]...)
		res.diagnostics[cluster] = diag
	}

	logging.Log.Infow("fitted design", "method", string(method), "clusters", len(res.clusters),
		"columns", d.cols, "rows", len(rowIdx), "non_converged", len(res.NonConverged()))
	return res, nil
}

func initialParams(y []float64, p1 int, init InitIntercept) []float64 {
	beta := make([]float64, p1)
	if init == InitMeanLogRate {
		beta[0] = math.Log(math.Max(floats.Sum(y)/float64(len(y)), 1e-10))
	}
	return beta
}
