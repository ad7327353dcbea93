// Package simulate generates synthetic sessions whose spikes are driven by a known stimulus
// kernel, for checking that fitted kernels recover the generating one.
package simulate

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"spikeglm/internal/glm"
)

// ColStimOn is the event column carrying stimulus onset times.
const ColStimOn = "stimOn_times"

const edgeTolerance = 1e-9

// Config describes the synthetic session.
type Config struct {
	Trials int
	// MaxRate is the kernel peak in spikes per second.
	MaxRate float64
	// StimTime is the stimulus onset relative to trial start.
	StimTime float64
	// KernelLength is the span of the stimulus kernel.
	KernelLength float64
	// BinSize is the fine resolution spikes are drawn at.
	BinSize float64
	// TailPad extends each trial past the end of the kernel.
	TailPad float64
	// Spread is the Gaussian standard deviation as a fraction of KernelLength.
	Spread float64
	// StartOffset delays the recorded trial start past the block boundary, so the analysis bin
	// grid is not aligned with stimulus onset.
	StartOffset float64
	Cluster     int
	Seed        uint64
}

// DefaultConfig returns a 5000-trial session with a 60 Hz Gaussian kernel peaking 300 ms after a
// 400 ms stimulus. Recorded trial starts lag the block boundary by 1 ms.
func DefaultConfig() Config {
	return Config{
		Trials:       5000,
		MaxRate:      60,
		StimTime:     0.4,
		KernelLength: 0.6,
		BinSize:      0.005,
		TailPad:      0.1,
		Spread:       1.0 / 8,
		StartOffset:  1e-3,
		Cluster:      1,
		Seed:         1,
	}
}

func (c Config) validate() error {
	switch {
	case c.Trials < 1:
		return errors.New("trials must be >= 1")
	case c.MaxRate <= 0:
		return errors.New("max rate must be > 0")
	case c.BinSize <= 0:
		return errors.New("bin size must be > 0")
	case c.KernelLength < c.BinSize:
		return errors.New("kernel length must cover at least one bin")
	case c.StimTime < 0 || c.TailPad < 0:
		return errors.New("stimulus time and tail pad must be >= 0")
	case c.Spread <= 0:
		return errors.New("spread must be > 0")
	case c.StartOffset < 0 || c.StartOffset > c.StimTime:
		return errors.New("start offset must lie between 0 and the stimulus time")
	}
	return nil
}

// Session is a generated trial table and spike train plus the kernel that produced it.
type Session struct {
	TrialStart    []float64
	TrialEnd      []float64
	StimOn        []float64
	SpikeTimes    []float64
	SpikeClusters []int
	// Kernel is the generating rate in Hz at each fine bin after onset.
	Kernel  []float64
	BinSize float64
}

// Generate draws Poisson spike counts per fine bin and jitters each spike within its bin.
func Generate(cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("simulate: %w", err)
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1))

	kernBins := int(math.Ceil(cfg.KernelLength/cfg.BinSize - edgeTolerance))
	peak := cfg.KernelLength / 2
	spread := cfg.Spread * cfg.KernelLength
	kernel := make([]float64, kernBins)
	for i := range kernel {
		z := (float64(i)*cfg.BinSize - peak) / spread
		kernel[i] = math.Exp(-0.5*z*z) * cfg.MaxRate
	}

	stimIdx := int(math.Ceil(cfg.StimTime/cfg.BinSize - edgeTolerance))
	trialBins := int(math.Ceil((cfg.StimTime+cfg.KernelLength+cfg.TailPad)/cfg.BinSize - edgeTolerance))
	trialLen := float64(trialBins) * cfg.BinSize

	jitter := distuv.Normal{Mu: cfg.BinSize / 2, Sigma: cfg.BinSize / 8, Src: rng}
	maxJitter := cfg.BinSize * (1 - 1e-6)

	s := &Session{
		TrialStart: make([]float64, cfg.Trials),
		TrialEnd:   make([]float64, cfg.Trials),
		StimOn:     make([]float64, cfg.Trials),
		Kernel:     kernel,
		BinSize:    cfg.BinSize,
	}
	for i := 0; i < cfg.Trials; i++ {
		start := trialLen * float64(i)
		s.TrialStart[i] = start + cfg.StartOffset
		s.StimOn[i] = start + cfg.StimTime
		s.TrialEnd[i] = start + trialLen

		for j := stimIdx; j < trialBins && j-stimIdx < kernBins; j++ {
			lambda := kernel[j-stimIdx] * cfg.BinSize
			if lambda <= 0 {
				continue
			}
			n := int(distuv.Poisson{Lambda: lambda, Src: rng}.Rand())
			for k := 0; k < n; k++ {
				offset := math.Min(math.Max(jitter.Rand(), 0), maxJitter)
				s.SpikeTimes = append(s.SpikeTimes, start+float64(j)*cfg.BinSize+offset)
				s.SpikeClusters = append(s.SpikeClusters, cfg.Cluster)
			}
		}
	}
	return s, nil
}

// Columns returns the trial table columns.
func (s *Session) Columns() map[string][]float64 {
	return map[string][]float64{
		glm.ColTrialStart: append([]float64(nil), s.TrialStart...),
		glm.ColTrialEnd:   append([]float64(nil), s.TrialEnd...),
		ColStimOn:         append([]float64(nil), s.StimOn...),
	}
}

// VarTypes tags every generated column as a timing column.
func (s *Session) VarTypes() map[string]glm.VarType {
	return map[string]glm.VarType{
		glm.ColTrialStart: glm.VarTiming,
		glm.ColTrialEnd:   glm.VarTiming,
		ColStimOn:         glm.VarTiming,
	}
}

// Trials builds the validated trial table.
func (s *Session) Trials() (*glm.Trials, error) {
	return glm.NewTrials(s.Columns())
}

// BinnedKernel averages the generating kernel over each bin of the given width, which is the rate
// a model with that bin width should recover at each lag.
func (s *Session) BinnedKernel(binWidth float64) ([]float64, error) {
	ratio := binWidth / s.BinSize
	factor := int(math.Round(ratio))
	if factor < 1 || math.Abs(ratio-float64(factor)) > 1e-6 {
		return nil, fmt.Errorf("simulate: bin width %g is not a multiple of %g", binWidth, s.BinSize)
	}
	out := make([]float64, len(s.Kernel)/factor)
	for k := range out {
		out[k] = floats.Sum(s.Kernel[k*factor:(k+1)*factor]) / float64(factor)
	}
	return out, nil
}
