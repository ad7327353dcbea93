package glm

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/optimize"
)

func optimizerFor(name string) (optimize.Method, error) {
	switch strings.ToLower(name) {
	case "newton":
		return &optimize.Newton{}, nil
	case "bfgs":
		return &optimize.BFGS{}, nil
	case "lbfgs":
		return &optimize.LBFGS{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown optimizer %q", ErrInvalidParameter, name)
	}
}

// minimizeCluster minimises the objective with gonum's optimisers. A solver that stops early is
// reported through the diagnostics rather than as an error.
func minimizeCluster(p *poissonProblem, init []float64, opts SolverOptions) ([]float64, ClusterDiagnostics, error) {
	method, err := optimizerFor(opts.Optimizer)
	if err != nil {
		return nil, ClusterDiagnostics{}, err
	}
	problem := optimize.Problem{
		Func: p.objective,
		Grad: func(grad, x []float64) { p.gradient(grad, x) },
		Hess: p.hessian,
	}
	settings := &optimize.Settings{
		GradientThreshold: opts.GradientTolerance,
		MajorIterations:   opts.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   opts.Tolerance,
			Relative:   opts.Tolerance,
			Iterations: 5,
		},
	}

	result, err := optimize.Minimize(problem, init, settings, method)
	if result == nil {
		if err == nil {
			err = errors.New("optimizer returned no result")
		}
		return nil, ClusterDiagnostics{}, fmt.Errorf("minimize: %w", err)
	}

	diag := ClusterDiagnostics{
		Converged:  err == nil && convergedStatus(result.Status),
		Status:     result.Status.String(),
		Iterations: result.Stats.MajorIterations,
		Objective:  result.F,
	}
	if err != nil {
		diag.Status = fmt.Sprintf("%s: %v", diag.Status, err)
	}
	return append([]float64(nil), result.X...), diag, nil
}

func convergedStatus(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence,
		optimize.FunctionThreshold, optimize.StepConvergence:
		return true
	default:
		return false
	}
}
