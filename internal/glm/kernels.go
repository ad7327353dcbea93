package glm

import (
	"math"
	"sort"
)

// KernelRow is one cluster's recovered kernel.
type KernelRow struct {
	Cluster   int
	Intercept float64
	// Weights is the basis projection of the covariate's weights.
	Weights []float64
	// Rates is exp(Weights + Intercept) / bin width, in spikes per second.
	Rates []float64
}

// KernelTable holds one covariate's kernels for every cluster on a shared time axis.
type KernelTable struct {
	Covariate string
	Kind      string
	// Times is the lag of each kernel sample relative to the event, in seconds.
	Times []float64
	Rows  []KernelRow
}

// Row looks up one cluster's kernel.
func (k *KernelTable) Row(cluster int) (KernelRow, bool) {
	i := sort.Search(len(k.Rows), func(i int) bool { return k.Rows[i].Cluster >= cluster })
	if i < len(k.Rows) && k.Rows[i].Cluster == cluster {
		return k.Rows[i], true
	}
	return KernelRow{}, false
}

// Clusters returns the table's cluster ids in ascending order.
func (k *KernelTable) Clusters() []int {
	out := make([]int, len(k.Rows))
	for i, r := range k.Rows {
		out[i] = r.Cluster
	}
	return out
}

func combineWeights(d *Design, res *FitResult) (map[string]*KernelTable, error) {
	out := make(map[string]*KernelTable, len(d.covariates))
	for i, c := range d.covariates {
		span := d.ranges[i]
		table := &KernelTable{Covariate: c.Name(), Kind: c.Kind()}
		for _, cluster := range res.clusters {
			w := res.weights[cluster][span.Start:span.End]
			times, combined := c.kernel(w, d.binWidth)
			if table.Times == nil {
				table.Times = times
			}
			b := res.intercepts[cluster]
			rates := make([]float64, len(combined))
			for k, v := range combined {
				rates[k] = math.Exp(v+b) / d.binWidth
			}
			table.Rows = append(table.Rows, KernelRow{Cluster: cluster, Intercept: b, Weights: combined, Rates: rates})
		}
		out[c.Name()] = table
	}
	return out, nil
}
