package glm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	maxHalvings   = 30
	maxJitterTry  = 6
	jitterInitial = 1e-10
)

// regressCluster fits the penalised Poisson GLM by Newton-Raphson on the IRLS normal equations,
// solving each step with a Cholesky factorisation and halving steps that increase the objective.
func regressCluster(p *poissonProblem, init []float64, opts SolverOptions) ([]float64, ClusterDiagnostics, error) {
	beta := append([]float64(nil), init...)
	obj := p.objective(beta)
	grad := make([]float64, p.p1)
	hess := mat.NewSymDense(p.p1, nil)
	cand := make([]float64, p.p1)
	diag := ClusterDiagnostics{Status: "iteration limit"}

	for it := 0; it < opts.MaxIterations; it++ {
		diag.Iterations = it
		p.gradient(grad, beta)
		if floats.Norm(grad, math.Inf(1)) <= opts.GradientTolerance {
			diag.Converged, diag.Status = true, "gradient threshold"
			break
		}

		p.hessian(hess, beta)
		step, err := choleskyStep(hess, grad)
		if err != nil {
			diag.Status = err.Error()
			break
		}

		t := 1.0
		accepted := false
		var next float64
		for h := 0; h < maxHalvings; h++ {
			for j := range cand {
				cand[j] = beta[j] - t*step.AtVec(j)
			}
			next = p.objective(cand)
			if next <= obj {
				accepted = true
				break
			}
			t /= 2
		}
		if !accepted {
			diag.Status = "step halving exhausted"
			break
		}

		change := (obj - next) / math.Max(math.Abs(obj), 1e-300)
		copy(beta, cand)
		obj = next
		diag.Iterations = it + 1
		if change <= opts.Tolerance {
			diag.Converged, diag.Status = true, "function convergence"
			break
		}
	}

	diag.Objective = obj
	return beta, diag, nil
}

// choleskyStep solves H s = g, adding a growing ridge to H when it is not positive definite.
func choleskyStep(hess *mat.SymDense, grad []float64) (*mat.VecDense, error) {
	n := hess.SymmetricDim()
	work := mat.NewSymDense(n, nil)
	work.CopySym(hess)
	scale := math.Max(mat.Trace(hess)/float64(n), 1)
	jitter := 0.0
	for try := 0; try <= maxJitterTry; try++ {
		if jitter > 0 {
			work.CopySym(hess)
			for i := 0; i < n; i++ {
				work.SetSym(i, i, work.At(i, i)+jitter)
			}
		}
		var chol mat.Cholesky
		if chol.Factorize(work) {
			var step mat.VecDense
			if err := chol.SolveVecTo(&step, mat.NewVecDense(n, grad)); err == nil {
				return &step, nil
			}
		}
		if jitter == 0 {
			jitter = jitterInitial * scale
		} else {
			jitter *= 100
		}
	}
	return nil, fmt.Errorf("hessian not positive definite after %d ridge attempts", maxJitterTry)
}
