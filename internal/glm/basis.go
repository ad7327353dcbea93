package glm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// rankTolerance is the relative singular value cutoff used to detect duplicate basis vectors.
const rankTolerance = 1e-10

// Basis is a set of temporal kernels sampled at bin resolution: one row per bin, one column per
// basis function. A Basis is immutable once constructed.
type Basis struct {
	values   *mat.Dense
	binWidth float64
}

// RaisedCosine builds the full raised-cosine family over [0, duration). Bumps are spaced so that
// each bin is covered by four of them, which makes the interior sum constant; the first bump is
// centred one spacing before zero so the kernel onset is representable.
func RaisedCosine(duration float64, count int, binWidth float64) (*Basis, error) {
	if duration <= 0 || math.IsNaN(duration) {
		return nil, fmt.Errorf("%w: basis duration must be > 0, got %g", ErrInvalidParameter, duration)
	}
	if count < 1 {
		return nil, fmt.Errorf("%w: basis count must be >= 1, got %d", ErrInvalidParameter, count)
	}
	bins, err := binsFor(duration, binWidth)
	if err != nil {
		return nil, err
	}
	if bins < 1 {
		return nil, fmt.Errorf("%w: basis duration %g is shorter than one bin", ErrInvalidParameter, duration)
	}
	if count > bins {
		return nil, fmt.Errorf("%w: %d basis functions exceed %d bins", ErrInvalidParameter, count, bins)
	}

	spacing := float64(bins) / float64(count)
	before := 0
	if count > 2 {
		spacing = float64(bins) / float64(count-2)
		before = 1
	}
	width := 4 * spacing

	values := mat.NewDense(bins, count, nil)
	for j := 0; j < count; j++ {
		center := 0.5*spacing + spacing*float64(j-before)
		for i := 0; i < bins; i++ {
			x := float64(i) - center
			if math.Abs(x/width) < 0.5 {
				values.Set(i, j, 0.5*math.Cos(2*math.Pi*x/width)+0.5)
			}
		}
	}
	return newBasis(values, binWidth)
}

// NewBasis wraps explicit basis values (bins x functions). Values must be nonnegative and the
// columns linearly independent.
func NewBasis(values [][]float64, binWidth float64) (*Basis, error) {
	if len(values) == 0 || len(values[0]) == 0 {
		return nil, fmt.Errorf("%w: basis must have at least one bin and one function", ErrInvalidParameter)
	}
	if binWidth <= 0 || math.IsNaN(binWidth) {
		return nil, fmt.Errorf("%w: bin width must be > 0, got %g", ErrInvalidParameter, binWidth)
	}
	cols := len(values[0])
	dense := mat.NewDense(len(values), cols, nil)
	for i, row := range values {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: basis row %d has %d values, want %d", ErrInvalidParameter, i, len(row), cols)
		}
		for j, v := range row {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: basis value (%d,%d)=%g must be finite and >= 0", ErrInvalidParameter, i, j, v)
			}
			dense.Set(i, j, v)
		}
	}
	return newBasis(dense, binWidth)
}

func newBasis(values *mat.Dense, binWidth float64) (*Basis, error) {
	bins, count := values.Dims()
	if count > bins {
		return nil, fmt.Errorf("%w: %d basis functions exceed %d bins", ErrInvalidParameter, count, bins)
	}
	var svd mat.SVD
	if !svd.Factorize(values, mat.SVDNone) {
		return nil, fmt.Errorf("%w: basis factorization failed", ErrInvalidParameter)
	}
	if rank := svd.Rank(rankTolerance); rank < count {
		return nil, fmt.Errorf("%w: basis has rank %d with %d functions", ErrInvalidParameter, rank, count)
	}
	return &Basis{values: values, binWidth: binWidth}, nil
}

// Bins returns the number of time bins the basis spans.
func (b *Basis) Bins() int {
	r, _ := b.values.Dims()
	return r
}

// Count returns the number of basis functions.
func (b *Basis) Count() int {
	_, c := b.values.Dims()
	return c
}

// BinWidth returns the bin width the basis was sampled at.
func (b *Basis) BinWidth() float64 { return b.binWidth }

// Duration returns the time span covered by the basis.
func (b *Basis) Duration() float64 { return float64(b.Bins()) * b.binWidth }

// At returns basis function j at bin i.
func (b *Basis) At(i, j int) float64 { return b.values.At(i, j) }

// Values returns a copy of the basis matrix.
func (b *Basis) Values() *mat.Dense { return mat.DenseCopyOf(b.values) }

// Project maps per-function weights onto the time axis (values · w).
func (b *Basis) Project(weights []float64) []float64 {
	out := mat.NewVecDense(b.Bins(), nil)
	out.MulVec(b.values, mat.NewVecDense(len(weights), append([]float64(nil), weights...)))
	return out.RawVector().Data
}

func (b *Basis) clone() *Basis {
	return &Basis{values: mat.DenseCopyOf(b.values), binWidth: b.binWidth}
}
