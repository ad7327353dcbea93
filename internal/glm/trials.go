package glm

import (
	"fmt"
	"math"
	"sort"
)

const (
	ColTrialStart = "trial_start"
	ColTrialEnd   = "trial_end"
)

// binTolerance absorbs floating point error when timestamps sit on bin edges.
const binTolerance = 1e-9

// VarType tags a trial column with its semantic type.
type VarType string

const (
	VarTiming     VarType = "timing"
	VarValue      VarType = "value"
	VarContinuous VarType = "continuous"
)

func (v VarType) valid() bool {
	switch v {
	case VarTiming, VarValue, VarContinuous:
		return true
	default:
		return false
	}
}

// Trials is a column table of per-trial timestamps and values. Rows are trials.
type Trials struct {
	names   []string
	columns map[string][]float64
	n       int
}

// NewTrials validates and copies the given columns. trial_start and trial_end are required,
// trials must be ordered by start and must not overlap.
func NewTrials(columns map[string][]float64) (*Trials, error) {
	starts, ok := columns[ColTrialStart]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s column", ErrInvalidParameter, ColTrialStart)
	}
	if _, ok := columns[ColTrialEnd]; !ok {
		return nil, fmt.Errorf("%w: missing %s column", ErrInvalidParameter, ColTrialEnd)
	}

	t := &Trials{columns: make(map[string][]float64, len(columns)), n: len(starts)}
	for name, values := range columns {
		if len(values) != t.n {
			return nil, fmt.Errorf("%w: column %s has %d rows, want %d", ErrInvalidParameter, name, len(values), t.n)
		}
		t.columns[name] = append([]float64(nil), values...)
		t.names = append(t.names, name)
	}
	sort.Strings(t.names)

	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trials) validate() error {
	starts := t.columns[ColTrialStart]
	ends := t.columns[ColTrialEnd]
	for i := 0; i < t.n; i++ {
		if math.IsNaN(starts[i]) || math.IsNaN(ends[i]) {
			return fmt.Errorf("%w: trial %d has NaN bounds", ErrInvalidParameter, i)
		}
		if starts[i] > ends[i] {
			return fmt.Errorf("%w: trial %d starts after it ends (%g > %g)", ErrInvalidParameter, i, starts[i], ends[i])
		}
		if i == 0 {
			continue
		}
		if starts[i] < starts[i-1] {
			return fmt.Errorf("%w: trial %d is not ordered by start time", ErrInvalidParameter, i)
		}
		if starts[i] < ends[i-1]-binTolerance {
			return fmt.Errorf("%w: trial %d overlaps trial %d", ErrInvalidParameter, i, i-1)
		}
	}
	return nil
}

// Len returns the number of trials.
func (t *Trials) Len() int { return t.n }

// Names returns the column names in sorted order.
func (t *Trials) Names() []string { return append([]string(nil), t.names...) }

// Column returns a copy of the named column.
func (t *Trials) Column(name string) ([]float64, bool) {
	values, ok := t.columns[name]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), values...), true
}

func (t *Trials) value(name string, row int) float64 {
	return t.columns[name][row]
}

func (t *Trials) has(name string) bool {
	_, ok := t.columns[name]
	return ok
}

func (t *Trials) clone() *Trials {
	out := &Trials{
		names:   append([]string(nil), t.names...),
		columns: make(map[string][]float64, len(t.columns)),
		n:       t.n,
	}
	for name, values := range t.columns {
		out.columns[name] = append([]float64(nil), values...)
	}
	return out
}

// trialWindow is one trial laid out in design-matrix rows.
type trialWindow struct {
	trial int
	start float64
	end   float64
	bins  int
	row   int
}

// binIndex maps an absolute time to a bin relative to the trial start.
func (w trialWindow) binIndex(t, binWidth float64) int {
	return int(math.Floor((t-w.start)/binWidth + binTolerance))
}

// checkEvent rejects events outside [start, end]. ok is false for NaN (absent) events.
func (w trialWindow) checkEvent(name string, t, binWidth float64) (ok bool, err error) {
	if math.IsNaN(t) {
		return false, nil
	}
	slack := binTolerance * binWidth
	if t < w.start-slack || t > w.end+slack {
		return false, fmt.Errorf("%w: %s=%g in trial %d [%g, %g]", ErrOutOfRange, name, t, w.trial, w.start, w.end)
	}
	return true, nil
}

// layoutTrials assigns whole bins to each trial. Partial trailing bins are dropped so that no
// row spans a trial boundary.
func layoutTrials(t *Trials, binWidth float64) ([]trialWindow, int) {
	windows := make([]trialWindow, t.n)
	row := 0
	for i := 0; i < t.n; i++ {
		start := t.value(ColTrialStart, i)
		end := t.value(ColTrialEnd, i)
		bins := int(math.Floor((end-start)/binWidth + binTolerance))
		if bins < 0 {
			bins = 0
		}
		windows[i] = trialWindow{trial: i, start: start, end: end, bins: bins, row: row}
		row += bins
	}
	return windows, row
}

// binsFor converts a duration to a whole number of bins, rejecting non-multiples.
func binsFor(duration, binWidth float64) (int, error) {
	if binWidth <= 0 || math.IsNaN(binWidth) || math.IsInf(binWidth, 0) {
		return 0, fmt.Errorf("%w: bin width must be > 0, got %g", ErrInvalidParameter, binWidth)
	}
	ratio := duration / binWidth
	n := math.Round(ratio)
	if math.Abs(ratio-n) > 1e-6*math.Max(1, math.Abs(n)) {
		return 0, fmt.Errorf("%w: %g is not a multiple of bin width %g", ErrInvalidParameter, duration, binWidth)
	}
	return int(n), nil
}
