package glm

import (
	"fmt"
	"math"
)

// Config holds the model-wide binning and train/test settings.
type Config struct {
	// BinWidth is the design-matrix bin width in seconds.
	BinWidth float64
	// Train is the fraction of trials used for fitting, in (0, 1].
	Train float64
	// BlockTrain selects the first trials for training instead of a random subset.
	BlockTrain bool
	// Seed drives the random train subset.
	Seed uint64
	// MinTrials drops clusters that fire in fewer trials.
	MinTrials int
}

// DefaultConfig returns 20 ms bins with every trial used for training.
func DefaultConfig() Config {
	return Config{BinWidth: 0.02, Train: 1}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BinWidth == 0 {
		c.BinWidth = d.BinWidth
	}
	if c.Train == 0 {
		c.Train = d.Train
	}
	return c
}

func (c Config) validate() error {
	if c.BinWidth <= 0 || math.IsNaN(c.BinWidth) || math.IsInf(c.BinWidth, 0) {
		return fmt.Errorf("%w: bin width must be > 0, got %g", ErrInvalidParameter, c.BinWidth)
	}
	if !(c.Train > 0 && c.Train <= 1) {
		return fmt.Errorf("%w: train fraction must be in (0, 1], got %g", ErrInvalidParameter, c.Train)
	}
	if c.MinTrials < 0 {
		return fmt.Errorf("%w: min trials must be >= 0, got %d", ErrInvalidParameter, c.MinTrials)
	}
	return nil
}

// Model accumulates covariates over a trial table and spike train, compiles them into a design
// matrix and fits one Poisson GLM per cluster.
type Model struct {
	cfg           Config
	trials        *Trials
	vartypes      map[string]VarType
	spikeTimes    []float64
	spikeClusters []int
	covariates    []Covariate
	design        *Design
	result        *FitResult
}

// NewModel validates the inputs and returns an empty model. Every vartype key must name a
// trial column.
func NewModel(trials *Trials, spikeTimes []float64, spikeClusters []int, vartypes map[string]VarType, cfg Config) (*Model, error) {
	if trials == nil || trials.Len() == 0 {
		return nil, fmt.Errorf("%w: at least one trial is required", ErrInvalidParameter)
	}
	if len(spikeTimes) != len(spikeClusters) {
		return nil, fmt.Errorf("%w: %d spike times but %d cluster ids", ErrInvalidParameter, len(spikeTimes), len(spikeClusters))
	}
	for i, t := range spikeTimes {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("%w: spike %d has non-finite time", ErrInvalidParameter, i)
		}
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	types := make(map[string]VarType, len(vartypes))
	for name, vt := range vartypes {
		if !trials.has(name) {
			return nil, fmt.Errorf("%w: vartype for unknown column %q", ErrInvalidParameter, name)
		}
		if !vt.valid() {
			return nil, fmt.Errorf("%w: column %q has unknown vartype %q", ErrInvalidParameter, name, vt)
		}
		types[name] = vt
	}

	return &Model{
		cfg:           cfg,
		trials:        trials.clone(),
		vartypes:      types,
		spikeTimes:    append([]float64(nil), spikeTimes...),
		spikeClusters: append([]int(nil), spikeClusters...),
	}, nil
}

// Config returns the effective model configuration.
func (m *Model) Config() Config { return m.cfg }

// Trials returns the model's private trial table.
func (m *Model) Trials() *Trials { return m.trials.clone() }

// AddCovariate registers a covariate. Names are unique and registration closes at compile time.
// After compile every call fails with ErrCompiled, including one that repeats a registered name;
// ErrDuplicateCovariate is only returned before compile.
func (m *Model) AddCovariate(c Covariate) error {
	if c == nil {
		return fmt.Errorf("%w: nil covariate", ErrInvalidParameter)
	}
	if m.design != nil {
		return fmt.Errorf("%w: cannot add %s", ErrCompiled, c.Name())
	}
	for _, existing := range m.covariates {
		if existing.Name() == c.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateCovariate, c.Name())
		}
	}
	own := c.clone()
	if err := own.bind(m.trials, m.vartypes, m.cfg.BinWidth); err != nil {
		return err
	}
	m.covariates = append(m.covariates, own)
	return nil
}

// AddCovariateTiming registers a timing covariate on the given event column.
func (m *Model) AddCovariateTiming(name, event string, basis *Basis, opts ...CovariateOption) error {
	c, err := NewTiming(name, event, basis, opts...)
	if err != nil {
		return err
	}
	return m.AddCovariate(c)
}

// AddCovariateBoxcar registers a boxcar covariate between two event columns.
func (m *Model) AddCovariateBoxcar(name, startEvent, endEvent string, opts ...CovariateOption) error {
	c, err := NewBoxcar(name, startEvent, endEvent, opts...)
	if err != nil {
		return err
	}
	return m.AddCovariate(c)
}

// Covariates returns the registered covariate names in registration order.
func (m *Model) Covariates() []string {
	names := make([]string, len(m.covariates))
	for i, c := range m.covariates {
		names[i] = c.Name()
	}
	return names
}

// CompileDesignMatrix bins every covariate and the spike train. Compiling again without changes
// yields an identical design; an existing fit survives only in that case.
func (m *Model) CompileDesignMatrix() error {
	d, err := compileDesign(m)
	if err != nil {
		return err
	}
	if m.result != nil && !d.Equal(m.design) {
		m.result = nil
	}
	m.design = d
	return nil
}

// Compiled reports whether the design matrix has been built.
func (m *Model) Compiled() bool { return m.design != nil }

// Design returns the compiled design.
func (m *Model) Design() (*Design, error) {
	if m.design == nil {
		return nil, ErrNotCompiled
	}
	return m.design, nil
}

// Fit fits every cluster with the chosen method.
func (m *Model) Fit(method Method, opts SolverOptions) (*FitResult, error) {
	if m.design == nil {
		return nil, ErrNotCompiled
	}
	res, err := fitDesign(m.design, method, opts)
	if err != nil {
		return nil, err
	}
	m.result = res
	return res, nil
}

// Result returns the most recent fit.
func (m *Model) Result() (*FitResult, error) {
	if m.result == nil {
		return nil, ErrNotFitted
	}
	return m.result, nil
}

// CombineWeights projects each covariate's fitted weights through its basis into a per-cluster
// kernel and firing rate, keyed by covariate name.
func (m *Model) CombineWeights() (map[string]*KernelTable, error) {
	if m.result == nil {
		return nil, ErrNotFitted
	}
	return combineWeights(m.design, m.result)
}

// Score returns the held-out pseudo-R² per cluster, falling back to the training trials when
// nothing is held out.
func (m *Model) Score() (map[int]float64, error) {
	if m.design == nil {
		return nil, ErrNotCompiled
	}
	if m.result == nil {
		return nil, ErrNotFitted
	}
	return scoreDesign(m.design, m.result)
}

// Clone returns an independent copy of the model, including its design and fit.
func (m *Model) Clone() *Model {
	out := m.Derive()
	if m.design != nil {
		out.design = m.design.Clone()
	}
	if m.result != nil {
		out.result = m.result.clone()
	}
	return out
}

// Derive returns an uncompiled copy that keeps the inputs and covariates, so more covariates can
// be added and the copy recompiled.
func (m *Model) Derive() *Model {
	out := &Model{
		cfg:           m.cfg,
		trials:        m.trials.clone(),
		vartypes:      make(map[string]VarType, len(m.vartypes)),
		spikeTimes:    append([]float64(nil), m.spikeTimes...),
		spikeClusters: append([]int(nil), m.spikeClusters...),
		covariates:    make([]Covariate, len(m.covariates)),
	}
	for k, v := range m.vartypes {
		out.vartypes[k] = v
	}
	for i, c := range m.covariates {
		out.covariates[i] = c.clone()
	}
	return out
}
