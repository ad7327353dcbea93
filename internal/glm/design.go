package glm

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"spikeglm/internal/logging"
)

// ColumnInfo records which covariate and basis function a design column came from.
type ColumnInfo struct {
	Covariate string
	Basis     int
}

// ColumnRange is the half-open column span [Start, End) owned by one covariate.
type ColumnRange struct {
	Covariate string
	Start     int
	End       int
}

// Design is a compiled design matrix with binned spike counts. It is immutable; Clone returns an
// independent copy.
type Design struct {
	binWidth   float64
	rows       int
	cols       int
	data       []float64
	windows    []trialWindow
	clusters   []int
	counts     [][]float64
	columns    []ColumnInfo
	ranges     []ColumnRange
	covariates []Covariate
	train      []int
	test       []int
}

func compileDesign(m *Model) (*Design, error) {
	bw := m.cfg.BinWidth
	windows, rows := layoutTrials(m.trials, bw)

	cols := 0
	ranges := make([]ColumnRange, 0, len(m.covariates))
	columns := make([]ColumnInfo, 0)
	for _, c := range m.covariates {
		ranges = append(ranges, ColumnRange{Covariate: c.Name(), Start: cols, End: cols + c.Columns()})
		for j := 0; j < c.Columns(); j++ {
			columns = append(columns, ColumnInfo{Covariate: c.Name(), Basis: j})
		}
		cols += c.Columns()
	}

	data := make([]float64, rows*cols)
	for i, c := range m.covariates {
		dst := block{data: data, stride: cols, col: ranges[i].Start}
		for _, w := range windows {
			if err := c.fill(dst, w, m.trials, bw); err != nil {
				return nil, fmt.Errorf("bin covariate %s: %w", c.Name(), err)
			}
		}
	}

	clusters, counts := binSpikes(windows, rows, m.spikeTimes, m.spikeClusters, bw, m.cfg.MinTrials)
	train, test, err := splitTrials(len(windows), m.cfg)
	if err != nil {
		return nil, err
	}

	covariates := make([]Covariate, len(m.covariates))
	for i, c := range m.covariates {
		covariates[i] = c.clone()
	}

	logging.Log.Debugw("compiled design matrix",
		"rows", rows, "columns", cols, "trials", len(windows), "clusters", len(clusters), "train_trials", len(train))

	return &Design{
		binWidth:   bw,
		rows:       rows,
		cols:       cols,
		data:       data,
		windows:    windows,
		clusters:   clusters,
		counts:     counts,
		columns:    columns,
		ranges:     ranges,
		covariates: covariates,
		train:      train,
		test:       test,
	}, nil
}

// binSpikes counts spikes per cluster per design row. Spikes outside every trial's whole bins are
// dropped. Clusters with spikes in fewer than minTrials trials (and always those with none) are
// excluded.
func binSpikes(windows []trialWindow, rows int, times []float64, clusterIDs []int, binWidth float64, minTrials int) ([]int, [][]float64) {
	order := make([]int, len(times))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return times[order[a]] < times[order[b]] })
	sorted := make([]float64, len(order))
	for i, idx := range order {
		sorted[i] = times[idx]
	}

	perCluster := make(map[int][]float64)
	trialsWithSpikes := make(map[int]int)
	slack := binTolerance * binWidth
	for _, w := range windows {
		if w.bins == 0 {
			continue
		}
		limit := w.start + float64(w.bins)*binWidth + slack
		seen := make(map[int]bool)
		for i := sort.SearchFloat64s(sorted, w.start-slack); i < len(sorted) && sorted[i] < limit; i++ {
			bin := w.binIndex(sorted[i], binWidth)
			if bin < 0 || bin >= w.bins {
				continue
			}
			id := clusterIDs[order[i]]
			counts, ok := perCluster[id]
			if !ok {
				counts = make([]float64, rows)
				perCluster[id] = counts
			}
			counts[w.row+bin]++
			if !seen[id] {
				seen[id] = true
				trialsWithSpikes[id]++
			}
		}
	}

	threshold := max(minTrials, 1)
	clusters := make([]int, 0, len(perCluster))
	for id := range perCluster {
		if trialsWithSpikes[id] >= threshold {
			clusters = append(clusters, id)
		} else {
			logging.Log.Debugw("dropping cluster below trial threshold", "cluster", id, "trials", trialsWithSpikes[id], "min_trials", threshold)
		}
	}
	sort.Ints(clusters)
	counts := make([][]float64, len(clusters))
	for i, id := range clusters {
		counts[i] = perCluster[id]
	}
	return clusters, counts
}

// splitTrials selects floor(n*train) training trials: a prefix with BlockTrain, otherwise a
// random subset drawn from a generator seeded with cfg.Seed.
func splitTrials(n int, cfg Config) ([]int, []int, error) {
	nTrain := int(math.Floor(float64(n)*cfg.Train + binTolerance))
	if nTrain < 1 {
		return nil, nil, fmt.Errorf("%w: train fraction %g leaves no training trials out of %d", ErrInvalidParameter, cfg.Train, n)
	}

	var picked []int
	if cfg.BlockTrain || nTrain == n {
		picked = make([]int, nTrain)
		for i := range picked {
			picked[i] = i
		}
	} else {
		rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
		picked = rng.Perm(n)[:nTrain]
		sort.Ints(picked)
	}

	inTrain := make([]bool, n)
	for _, i := range picked {
		inTrain[i] = true
	}
	test := make([]int, 0, n-nTrain)
	for i := 0; i < n; i++ {
		if !inTrain[i] {
			test = append(test, i)
		}
	}
	return picked, test, nil
}

// Dims returns the number of rows (bins) and columns (basis projections).
func (d *Design) Dims() (rows, cols int) { return d.rows, d.cols }

// At returns the design value at row i, column j.
func (d *Design) At(i, j int) float64 {
	if i < 0 || i >= d.rows || j < 0 || j >= d.cols {
		panic(fmt.Sprintf("glm: design index (%d,%d) out of range (%d,%d)", i, j, d.rows, d.cols))
	}
	return d.data[i*d.cols+j]
}

// Matrix returns a copy of the design matrix, or nil for an intercept-only design.
func (d *Design) Matrix() *mat.Dense {
	if d.rows == 0 || d.cols == 0 {
		return nil
	}
	return mat.NewDense(d.rows, d.cols, append([]float64(nil), d.data...))
}

// BinWidth returns the bin width used to compile the design.
func (d *Design) BinWidth() float64 { return d.binWidth }

// Columns returns the provenance of every design column.
func (d *Design) Columns() []ColumnInfo { return append([]ColumnInfo(nil), d.columns...) }

// Ranges returns the column span of each covariate in registration order.
func (d *Design) Ranges() []ColumnRange { return append([]ColumnRange(nil), d.ranges...) }

// Clusters returns the modelled cluster ids in ascending order.
func (d *Design) Clusters() []int { return append([]int(nil), d.clusters...) }

// Counts returns a copy of the binned spike counts of one cluster.
func (d *Design) Counts(cluster int) ([]float64, bool) {
	i, ok := d.clusterIndex(cluster)
	if !ok {
		return nil, false
	}
	return append([]float64(nil), d.counts[i]...), true
}

// TrialRows returns the half-open row span [start, end) of a trial.
func (d *Design) TrialRows(trial int) (start, end int) {
	w := d.windows[trial]
	return w.row, w.row + w.bins
}

// TrainTrials returns the indices of the trials used for fitting.
func (d *Design) TrainTrials() []int { return append([]int(nil), d.train...) }

// TestTrials returns the indices of the held-out trials.
func (d *Design) TestTrials() []int { return append([]int(nil), d.test...) }

// Equal reports whether two designs hold bit-identical matrices, counts and column layouts.
func (d *Design) Equal(o *Design) bool {
	if d == nil || o == nil {
		return d == o
	}
	if d.rows != o.rows || d.cols != o.cols || d.binWidth != o.binWidth {
		return false
	}
	if len(d.clusters) != len(o.clusters) || len(d.columns) != len(o.columns) {
		return false
	}
	for i := range d.data {
		if math.Float64bits(d.data[i]) != math.Float64bits(o.data[i]) {
			return false
		}
	}
	for i := range d.clusters {
		if d.clusters[i] != o.clusters[i] {
			return false
		}
		for r := range d.counts[i] {
			if d.counts[i][r] != o.counts[i][r] {
				return false
			}
		}
	}
	for i := range d.columns {
		if d.columns[i] != o.columns[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy sharing no memory with d.
func (d *Design) Clone() *Design {
	out := *d
	out.data = append([]float64(nil), d.data...)
	out.windows = append([]trialWindow(nil), d.windows...)
	out.clusters = append([]int(nil), d.clusters...)
	out.counts = make([][]float64, len(d.counts))
	for i := range d.counts {
		out.counts[i] = append([]float64(nil), d.counts[i]...)
	}
	out.columns = append([]ColumnInfo(nil), d.columns...)
	out.ranges = append([]ColumnRange(nil), d.ranges...)
	out.covariates = make([]Covariate, len(d.covariates))
	for i, c := range d.covariates {
		out.covariates[i] = c.clone()
	}
	out.train = append([]int(nil), d.train...)
	out.test = append([]int(nil), d.test...)
	return &out
}

func (d *Design) clusterIndex(cluster int) (int, bool) {
	i := sort.SearchInts(d.clusters, cluster)
	if i < len(d.clusters) && d.clusters[i] == cluster {
		return i, true
	}
	return 0, false
}

// augmented builds [1 | X] restricted to the rows of the given trials, plus the row list.
func (d *Design) augmented(trials []int) (*mat.Dense, []int, error) {
	rowIdx := make([]int, 0)
	for _, t := range trials {
		w := d.windows[t]
		for r := 0; r < w.bins; r++ {
			rowIdx = append(rowIdx, w.row+r)
		}
	}
	if len(rowIdx) == 0 {
		return nil, nil, fmt.Errorf("%w: selected trials contain no bins", ErrInvalidParameter)
	}

	p1 := d.cols + 1
	xa := mat.NewDense(len(rowIdx), p1, nil)
	raw := xa.RawMatrix()
	for i, r := range rowIdx {
		row := raw.Data[i*raw.Stride : i*raw.Stride+p1]
		row[0] = 1
		copy(row[1:], d.data[r*d.cols:(r+1)*d.cols])
	}
	return xa, rowIdx, nil
}

func (d *Design) responses(cluster int, rowIdx []int) []float64 {
	i, _ := d.clusterIndex(cluster)
	y := make([]float64, len(rowIdx))
	for k, r := range rowIdx {
		y[k] = d.counts[i][r]
	}
	return y
}
