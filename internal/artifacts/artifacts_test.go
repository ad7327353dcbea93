package artifacts

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"spikeglm/internal/model"
)

func sampleArtifacts(runID string) RunArtifacts {
	return RunArtifacts{
		Config: RunConfig{
			RunID:    runID,
			Method:   "minimize",
			BinWidth: 0.02,
			Train:    1,
			Covariates: []model.CovariateSpec{
				{Name: "stim", Kind: "timing", Event: "stimOn_times", Duration: 0.04, BasisCount: 2},
			},
		},
		Clusters: []ClusterWeights{{Cluster: 1, Intercept: -3, Weights: []float64{0.5, 1}, Converged: true, Status: "GradientThreshold"}},
		Kernels: []KernelSeries{{
			Covariate: "stim",
			Kind:      "timing",
			Times:     []float64{0, 0.02},
			Clusters:  []KernelCluster{{Cluster: 1, Intercept: -3, Weights: []float64{0.5, 1}, Rates: []float64{4.1, 6.8}}},
		}},
	}
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runDir, err := WriteRunArtifacts(baseDir, sampleArtifacts("run-123"))
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	for _, file := range []string{configFile, weightsFile, kernelsFile, kernelsCSVFile} {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}

	exportedDir, err := ExportRunArtifacts(baseDir, "run-123", outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	if _, err := os.Stat(filepath.Join(exportedDir, kernelsCSVFile)); err != nil {
		t.Fatalf("expected exported kernels csv: %v", err)
	}

	cfg, ok, err := ReadRunConfig(baseDir, "run-123")
	if err != nil || !ok {
		t.Fatalf("read config: ok=%t err=%v", ok, err)
	}
	if cfg.Method != "minimize" || len(cfg.Covariates) != 1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	weights, ok, err := ReadWeights(baseDir, "run-123")
	if err != nil || !ok || len(weights) != 1 || weights[0].Weights[1] != 1 {
		t.Fatalf("unexpected weights: ok=%t err=%v %+v", ok, err, weights)
	}
	kernels, ok, err := ReadKernels(baseDir, "run-123")
	if err != nil || !ok || kernels[0].Clusters[0].Rates[1] != 6.8 {
		t.Fatalf("unexpected kernels: ok=%t err=%v %+v", ok, err, kernels)
	}

	if _, ok, err := ReadRunConfig(baseDir, "missing"); ok || err != nil {
		t.Fatalf("expected missing config: ok=%t err=%v", ok, err)
	}
	if _, err := WriteRunArtifacts(baseDir, RunArtifacts{}); err == nil {
		t.Fatal("expected missing run id error")
	}
}

func TestWriteKernelsCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteKernelsCSV(&buf, sampleArtifacts("r").Kernels); err != nil {
		t.Fatalf("write kernels csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d: %q", len(lines), buf.String())
	}
	if lines[2] != "stim,1,0.02,1,6.8" {
		t.Fatalf("unexpected row: %s", lines[2])
	}

	bad := sampleArtifacts("r").Kernels
	bad[0].Clusters[0].Rates = bad[0].Clusters[0].Rates[:1]
	if err := WriteKernelsCSV(&buf, bad); err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func TestRunIndexOrdering(t *testing.T) {
	baseDir := t.TempDir()
	entries := []RunIndexEntry{
		{RunID: "a", CreatedAtUTC: "2021-03-01T10:00:00Z"},
		{RunID: "b", CreatedAtUTC: "2021-03-01T12:00:00Z"},
		{RunID: "c", CreatedAtUTC: "2021-03-01T12:00:00Z"},
	}
	for _, entry := range entries {
		if err := AppendRunIndex(baseDir, entry); err != nil {
			t.Fatalf("append %s: %v", entry.RunID, err)
		}
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "a", Method: "regression", CreatedAtUTC: "2021-03-01T09:00:00Z"}); err != nil {
		t.Fatalf("replace a: %v", err)
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	got := make([]string, len(index))
	for i, e := range index {
		got[i] = e.RunID
	}
	if strings.Join(got, ",") != "c,b,a" {
		t.Fatalf("unexpected order: %v", got)
	}
	if index[2].Method != "regression" {
		t.Fatalf("expected replaced entry: %+v", index[2])
	}
}

func TestRunIndexFileKeepsAppendOrder(t *testing.T) {
	baseDir := t.TempDir()
	for _, entry := range []RunIndexEntry{
		{RunID: "old", CreatedAtUTC: "2021-03-01T08:00:00Z"},
		{RunID: "new", CreatedAtUTC: "2021-03-01T18:00:00Z"},
		{RunID: "mid", CreatedAtUTC: "2021-03-01T12:00:00Z"},
	} {
		if err := AppendRunIndex(baseDir, entry); err != nil {
			t.Fatalf("append %s: %v", entry.RunID, err)
		}
	}

	raw, err := readRunIndex(baseDir)
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	got := make([]string, len(raw))
	for i, e := range raw {
		got[i] = e.RunID
	}
	if strings.Join(got, ",") != "old,new,mid" {
		t.Fatalf("index file reordered: %v", got)
	}

	listed, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if listed[0].RunID != "new" || listed[2].RunID != "old" {
		t.Fatalf("unexpected listing: %+v", listed)
	}
}
