package glm

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// maxEta caps the linear predictor before exponentiation so trial steps stay finite.
const maxEta = 700

// poissonProblem is the per-row mean negative log-likelihood of a log-link Poisson GLM over an
// augmented design [1 | X]. Parameters are [intercept, weights...].
type poissonProblem struct {
	xa    *mat.Dense
	y     []float64
	n     int
	p1    int
	alpha float64

	eta mat.VecDense
	mu  []float64
}

func newPoissonProblem(xa *mat.Dense, y []float64, alpha float64) *poissonProblem {
	n, p1 := xa.Dims()
	return &poissonProblem{xa: xa, y: y, n: n, p1: p1, alpha: alpha, mu: make([]float64, n)}
}

func (p *poissonProblem) predict(beta []float64) {
	p.eta.MulVec(p.xa, mat.NewVecDense(p.p1, beta))
	for i := 0; i < p.n; i++ {
		p.mu[i] = math.Exp(math.Min(p.eta.AtVec(i), maxEta))
	}
}

// objective is (1/n) Σ (μ - yη) + (α/2)‖w‖².
func (p *poissonProblem) objective(beta []float64) float64 {
	p.predict(beta)
	var sum float64
	for i := 0; i < p.n; i++ {
		eta := math.Min(p.eta.AtVec(i), maxEta)
		sum += p.mu[i] - p.y[i]*eta
	}
	return sum/float64(p.n) + p.penalty(beta)
}

func (p *poissonProblem) penalty(beta []float64) float64 {
	if p.alpha == 0 {
		return 0
	}
	var ss float64
	for _, w := range beta[1:] {
		ss += w * w
	}
	return 0.5 * p.alpha * ss
}

// gradient writes Xaᵀ(μ - y)/n + α[0, w] into grad.
func (p *poissonProblem) gradient(grad, beta []float64) {
	p.predict(beta)
	resid := make([]float64, p.n)
	for i := range resid {
		resid[i] = (p.mu[i] - p.y[i]) / float64(p.n)
	}
	g := mat.NewVecDense(p.p1, grad)
	g.MulVec(p.xa.T(), mat.NewVecDense(p.n, resid))
	for j := 1; j < p.p1; j++ {
		grad[j] += p.alpha * beta[j]
	}
}

// hessian writes Xaᵀ diag(μ) Xa / n + α diag(0, 1, ..., 1) into hess.
func (p *poissonProblem) hessian(hess *mat.SymDense, beta []float64) {
	p.predict(beta)
	h := make([]float64, p.p1*p.p1)
	raw := p.xa.RawMatrix()
	for i := 0; i < p.n; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+p.p1]
		m := p.mu[i] / float64(p.n)
		for a := 0; a < p.p1; a++ {
			va := m * row[a]
			if va == 0 {
				continue
			}
			for b := a; b < p.p1; b++ {
				h[a*p.p1+b] += va * row[b]
			}
		}
	}
	for j := 1; j < p.p1; j++ {
		h[j*p.p1+j] += p.alpha
	}
	hess.CopySym(mat.NewSymDense(p.p1, h))
}

// deviance is the Poisson deviance 2 Σ [y log(y/μ) - (y - μ)] for the given predictions.
func poissonDeviance(y, mu []float64) float64 {
	var dev float64
	for i := range y {
		m := math.Max(mu[i], 1e-300)
		if y[i] > 0 {
			dev += y[i]*math.Log(y[i]/m) - (y[i] - m)
		} else {
			dev += m
		}
	}
	return math.Max(0, 2*dev)
}
