package glm

import (
	"fmt"
	"math"
	"strings"
)

// Covariate is one registered predictor. The set of kinds is closed: Timing and Boxcar. Each kind
// states how many design columns it occupies, how it bins one trial into those columns and how
// fitted weights map back to a kernel.
type Covariate interface {
	Name() string
	Kind() string
	Columns() int

	bind(trials *Trials, vartypes map[string]VarType, binWidth float64) error
	fill(dst block, w trialWindow, trials *Trials, binWidth float64) error
	kernel(weights []float64, binWidth float64) (times, values []float64)
	clone() Covariate
}

// block addresses one covariate's columns inside the row-major design data.
type block struct {
	data   []float64
	stride int
	col    int
}

func (b block) add(row, j int, v float64) {
	b.data[row*b.stride+b.col+j] += v
}

// CovariateOption adjusts optional covariate settings.
type CovariateOption func(*covariateOptions)

type covariateOptions struct {
	offset    float64
	amplitude string
}

// WithOffset shifts the covariate by the given number of seconds (negative values reach before
// the event). The offset must be a multiple of the model bin width.
func WithOffset(seconds float64) CovariateOption {
	return func(o *covariateOptions) { o.offset = seconds }
}

// WithAmplitude scales each trial's contribution by the named value column instead of 1.
func WithAmplitude(column string) CovariateOption {
	return func(o *covariateOptions) { o.amplitude = column }
}

func applyOptions(opts []CovariateOption) covariateOptions {
	var out covariateOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}
	return out
}

// Timing is a single event per trial convolved with a basis.
type Timing struct {
	name       string
	event      string
	basis      *Basis
	opts       covariateOptions
	offsetBins int
}

// NewTiming builds a timing covariate on the given event column.
func NewTiming(name, event string, basis *Basis, opts ...CovariateOption) (*Timing, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: covariate name is required", ErrInvalidParameter)
	}
	if basis == nil {
		return nil, fmt.Errorf("%w: covariate %s requires a basis", ErrInvalidParameter, name)
	}
	return &Timing{name: name, event: event, basis: basis.clone(), opts: applyOptions(opts)}, nil
}

func (c *Timing) Name() string  { return c.name }
func (c *Timing) Kind() string  { return string(VarTiming) }
func (c *Timing) Columns() int  { return c.basis.Count() }
func (c *Timing) Event() string { return c.event }
func (c *Timing) Basis() *Basis { return c.basis.clone() }

func (c *Timing) bind(trials *Trials, vartypes map[string]VarType, binWidth float64) error {
	if err := requireVar(c.name, c.event, VarTiming, trials, vartypes); err != nil {
		return err
	}
	if math.Abs(c.basis.BinWidth()-binWidth) > 1e-12*binWidth {
		return fmt.Errorf("%w: covariate %s basis sampled at %g, model bins are %g", ErrInvalidParameter, c.name, c.basis.BinWidth(), binWidth)
	}
	offsetBins, err := offsetToBins(c.name, c.opts.offset, binWidth)
	if err != nil {
		return err
	}
	if c.opts.amplitude != "" {
		if err := requireVar(c.name, c.opts.amplitude, VarValue, trials, vartypes); err != nil {
			return err
		}
	}
	c.offsetBins = offsetBins
	return nil
}

func (c *Timing) fill(dst block, w trialWindow, trials *Trials, binWidth float64) error {
	t := trials.value(c.event, w.trial)
	ok, err := w.checkEvent(c.event, t, binWidth)
	if err != nil || !ok {
		return err
	}
	amp, ok := amplitude(trials, c.opts.amplitude, w.trial)
	if !ok {
		return nil
	}

	onset := w.binIndex(t, binWidth) + c.offsetBins
	for k := 0; k < c.basis.Bins(); k++ {
		r := onset + k
		if r < 0 {
			continue
		}
		if r >= w.bins {
			break
		}
		for j := 0; j < c.basis.Count(); j++ {
			dst.add(w.row+r, j, amp*c.basis.At(k, j))
		}
	}
	return nil
}

func (c *Timing) kernel(weights []float64, binWidth float64) ([]float64, []float64) {
	values := c.basis.Project(weights)
	times := make([]float64, len(values))
	for k := range times {
		times[k] = float64(c.offsetBins+k) * binWidth
	}
	return times, values
}

func (c *Timing) clone() Covariate {
	out := *c
	out.basis = c.basis.clone()
	return &out
}

// Boxcar is an indicator that is on from one event to another within each trial.
type Boxcar struct {
	name       string
	startEvent string
	endEvent   string
	opts       covariateOptions
	offsetBins int
}

// NewBoxcar builds a boxcar covariate spanning [start event, end event].
func NewBoxcar(name, startEvent, endEvent string, opts ...CovariateOption) (*Boxcar, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: covariate name is required", ErrInvalidParameter)
	}
	return &Boxcar{name: name, startEvent: startEvent, endEvent: endEvent, opts: applyOptions(opts)}, nil
}

func (c *Boxcar) Name() string { return c.name }
func (c *Boxcar) Kind() string { return "boxcar" }
func (c *Boxcar) Columns() int { return 1 }

func (c *Boxcar) bind(trials *Trials, vartypes map[string]VarType, binWidth float64) error {
	if err := requireVar(c.name, c.startEvent, VarTiming, trials, vartypes); err != nil {
		return err
	}
	if err := requireVar(c.name, c.endEvent, VarTiming, trials, vartypes); err != nil {
		return err
	}
	offsetBins, err := offsetToBins(c.name, c.opts.offset, binWidth)
	if err != nil {
		return err
	}
	if c.opts.amplitude != "" {
		if err := requireVar(c.name, c.opts.amplitude, VarValue, trials, vartypes); err != nil {
			return err
		}
	}
	c.offsetBins = offsetBins
	return nil
}

func (c *Boxcar) fill(dst block, w trialWindow, trials *Trials, binWidth float64) error {
	on := trials.value(c.startEvent, w.trial)
	off := trials.value(c.endEvent, w.trial)
	okOn, err := w.checkEvent(c.startEvent, on, binWidth)
	if err != nil {
		return err
	}
	okOff, err := w.checkEvent(c.endEvent, off, binWidth)
	if err != nil {
		return err
	}
	if !okOn || !okOff {
		return nil
	}
	if off < on {
		return fmt.Errorf("%w: covariate %s ends before it starts in trial %d", ErrInvalidParameter, c.name, w.trial)
	}
	amp, ok := amplitude(trials, c.opts.amplitude, w.trial)
	if !ok {
		return nil
	}

	first := w.binIndex(on, binWidth) + c.offsetBins
	last := w.binIndex(off, binWidth) + c.offsetBins
	for r := max(first, 0); r <= last && r < w.bins; r++ {
		dst.add(w.row+r, 0, amp)
	}
	return nil
}

func (c *Boxcar) kernel(weights []float64, binWidth float64) ([]float64, []float64) {
	return []float64{float64(c.offsetBins) * binWidth}, []float64{weights[0]}
}

func (c *Boxcar) clone() Covariate {
	out := *c
	return &out
}

func requireVar(covariate, column string, want VarType, trials *Trials, vartypes map[string]VarType) error {
	if !trials.has(column) {
		return fmt.Errorf("%w: covariate %s refers to unknown column %q", ErrInvalidParameter, covariate, column)
	}
	got, ok := vartypes[column]
	if !ok {
		return fmt.Errorf("%w: column %q has no vartype", ErrInvalidParameter, column)
	}
	if got != want {
		return fmt.Errorf("%w: covariate %s needs a %s column, %q is %s", ErrInvalidParameter, covariate, want, column, got)
	}
	return nil
}

func offsetToBins(covariate string, offset, binWidth float64) (int, error) {
	if offset == 0 {
		return 0, nil
	}
	bins, err := binsFor(offset, binWidth)
	if err != nil {
		return 0, fmt.Errorf("covariate %s offset: %w", covariate, err)
	}
	return bins, nil
}

func amplitude(trials *Trials, column string, trial int) (float64, bool) {
	if column == "" {
		return 1, true
	}
	v := trials.value(column, trial)
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}
