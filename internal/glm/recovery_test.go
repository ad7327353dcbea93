package glm_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spikeglm/internal/glm"
	"spikeglm/internal/simulate"
)

const recoveryBin = 0.02

func fitSynthetic(t *testing.T, cfg simulate.Config, method glm.Method) ([]float64, []float64) {
	t.Helper()
	sess, err := simulate.Generate(cfg)
	require.NoError(t, err)
	trials, err := sess.Trials()
	require.NoError(t, err)

	m, err := glm.NewModel(trials, sess.SpikeTimes, sess.SpikeClusters, sess.VarTypes(),
		glm.Config{BinWidth: recoveryBin, Train: 1})
	require.NoError(t, err)
	basis, err := glm.RaisedCosine(0.6, 10, recoveryBin)
	require.NoError(t, err)
	require.NoError(t, m.AddCovariateTiming("stim", simulate.ColStimOn, basis))
	require.NoError(t, m.CompileDesignMatrix())

	_, err = m.Fit(method, glm.SolverOptions{})
	require.NoError(t, err)
	tables, err := m.CombineWeights()
	require.NoError(t, err)
	row, ok := tables["stim"].Row(1)
	require.True(t, ok)

	truth, err := sess.BinnedKernel(recoveryBin)
	require.NoError(t, err)
	require.Len(t, row.Rates, len(truth))
	return row.Rates, truth
}

// weightedError is Σ (r/Σr)·|r/truth - 1|, weighting lags by the recovered rate.
func weightedError(recovered, truth []float64) float64 {
	var total float64
	for _, r := range recovered {
		total += r
	}
	var err float64
	for i, r := range recovered {
		err += r / total * math.Abs(r/truth[i]-1)
	}
	return err
}

func TestKernelRecovery(t *testing.T) {
	if testing.Short() {
		t.Skip("fits 5000 synthetic trials")
	}

	// Trial starts on the stimulus grid, so lag k covers the same span as truth[k].
	cfg := simulate.DefaultConfig()
	cfg.StartOffset = 0
	minRates, truth := fitSynthetic(t, cfg, glm.MethodMinimize)
	regRates, _ := fitSynthetic(t, cfg, glm.MethodRegression)

	assert.Less(t, weightedError(minRates, truth), 0.05)
	assert.Less(t, weightedError(regRates, truth), 0.05)
	assert.Less(t, weightedError(regRates, minRates), 0.05)

	peak := argmax(truth)
	assert.Equal(t, 15, peak)
	assert.InDelta(t, 60, minRates[peak], 3)
	assert.InDelta(t, 60, regRates[peak], 3)
}

func TestKernelRecoveryOffGrid(t *testing.T) {
	if testing.Short() {
		t.Skip("fits 5000 synthetic trials")
	}

	// Default sessions start each trial 1 ms late, shifting the bin grid against stimulus onset.
	rates, _ := fitSynthetic(t, simulate.DefaultConfig(), glm.MethodRegression)
	peak := argmax(rates)
	assert.Contains(t, []int{15, 16}, peak)
	assert.InDelta(t, 60, rates[peak], 3)
}

func argmax(xs []float64) int {
	best := 0
	for i, x := range xs {
		if x > xs[best] {
			best = i
		}
	}
	return best
}
