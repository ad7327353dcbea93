package spikeglm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"spikeglm/internal/model"
	"spikeglm/internal/simulate"
)

func newTestClient(t *testing.T) (*Client, string) {
	t.Helper()
	base := t.TempDir()
	client, err := New(Options{
		StoreKind:    "memory",
		ArtifactsDir: filepath.Join(base, "runs"),
		ExportsDir:   filepath.Join(base, "exports"),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, base
}

func TestClientSimulateFitRunsAndExport(t *testing.T) {
	ctx := context.Background()
	client, base := newTestClient(t)

	cfg := simulate.DefaultConfig()
	cfg.Trials = 300
	cfg.Cluster = 7
	sim, err := client.Simulate(ctx, SimulateRequest{Config: cfg, OutDir: filepath.Join(base, "session")})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if sim.Trials != 300 || sim.Spikes == 0 {
		t.Fatalf("unexpected simulate summary: %+v", sim)
	}

	summary, err := client.Fit(ctx, FitRequest{
		TrialsPath: sim.TrialsPath,
		SpikesPath: sim.SpikesPath,
		BinWidth:   0.02,
		Method:     "regression",
		Covariates: []model.CovariateSpec{
			{Name: "stim", Event: simulate.ColStimOn, Duration: 0.6, BasisCount: 10},
		},
	})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if summary.RunID == "" || summary.Method != "regression" {
		t.Fatalf("unexpected fit summary: %+v", summary)
	}
	if len(summary.Clusters) != 1 || summary.Clusters[0] != 7 {
		t.Fatalf("expected cluster 7, got %v", summary.Clusters)
	}
	if summary.Columns != 10 || summary.Rows != 300*54 {
		t.Fatalf("unexpected design dims: rows=%d cols=%d", summary.Rows, summary.Columns)
	}
	table, ok := summary.Kernels["stim"]
	if !ok || len(table.Times) != 30 {
		t.Fatalf("expected 30-lag stim kernel, got %+v", table)
	}

	runs, err := client.Runs(ctx, RunsRequest{})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != summary.RunID || runs[0].Clusters != 1 {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	fits, err := client.ClusterFits(ctx, summary.RunID)
	if err != nil {
		t.Fatalf("cluster fits: %v", err)
	}
	if len(fits) != 1 || len(fits[0].Weights) != 10 {
		t.Fatalf("unexpected cluster fits: %+v", fits)
	}

	runID, kernels, err := client.Kernels(ctx, KernelsRequest{Latest: true})
	if err != nil {
		t.Fatalf("kernels: %v", err)
	}
	if runID != summary.RunID || len(kernels) != 1 || kernels[0].Covariate != "stim" {
		t.Fatalf("unexpected kernels for %s: %+v", runID, kernels)
	}
	if len(kernels[0].Clusters) != 1 || len(kernels[0].Clusters[0].Rates) != 30 {
		t.Fatalf("unexpected kernel clusters: %+v", kernels[0].Clusters)
	}

	exported, err := client.Export(ctx, ExportRequest{Latest: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := os.Stat(filepath.Join(exported.Directory, "kernels.csv")); err != nil {
		t.Fatalf("expected exported kernels csv: %v", err)
	}
}

func TestClientFitValidation(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	if _, err := client.Fit(ctx, FitRequest{}); err == nil {
		t.Fatal("expected missing paths error")
	}
	if _, err := client.Fit(ctx, FitRequest{TrialsPath: "a.csv", SpikesPath: "b.csv"}); err == nil {
		t.Fatal("expected missing covariates error")
	}
	if _, err := client.Fit(ctx, FitRequest{
		TrialsPath: "a.csv",
		SpikesPath: "b.csv",
		Method:     "annealing",
		Covariates: []model.CovariateSpec{{Name: "stim", Event: "stimOn_times", Duration: 0.1, BasisCount: 2}},
	}); err == nil {
		t.Fatal("expected unknown method error")
	}
	if _, _, err := client.Kernels(ctx, KernelsRequest{}); err == nil {
		t.Fatal("expected run id or latest error")
	}
	if _, _, err := client.Kernels(ctx, KernelsRequest{RunID: "x", Latest: true}); err == nil {
		t.Fatal("expected conflicting selector error")
	}
	if _, _, err := client.Kernels(ctx, KernelsRequest{Latest: true}); err == nil {
		t.Fatal("expected no runs error")
	}
}

func TestClientCatalogue(t *testing.T) {
	ctx := context.Background()
	client, base := newTestClient(t)

	root := filepath.Join(base, "data")
	sessionDir := filepath.Join(root, "mainenlab", "Subjects", "ZM_1085", "2019-02-12", "002", "alf")
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sessionDir, "spikes.times.npy"), []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("write dataset: %v", err)
	}

	summary, err := client.Catalogue(ctx, CatalogueRequest{Root: root, OutDir: filepath.Join(base, "tables"), Index: true})
	if err != nil {
		t.Fatalf("catalogue: %v", err)
	}
	if summary.Sessions != 1 || summary.Datasets != 1 {
		t.Fatalf("unexpected catalogue summary: %+v", summary)
	}

	sessions, err := client.Sessions(ctx)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Subject != "ZM_1085" || sessions[0].Number != 2 {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
	datasets, err := client.Datasets(ctx, sessions[0].EID)
	if err != nil {
		t.Fatalf("datasets: %v", err)
	}
	if len(datasets) != 1 || datasets[0].RelPath != "alf/spikes.times.npy" || datasets[0].FileSize != 10 {
		t.Fatalf("unexpected datasets: %+v", datasets)
	}
	if _, err := client.Datasets(ctx, "nobody/Subjects/x/2020-01-01/001"); err == nil {
		t.Fatal("expected missing session error")
	}
}

func TestClientVersionCompare(t *testing.T) {
	client, _ := newTestClient(t)
	got, err := client.VersionCompare("3.2.11", "3.2.2")
	if err != nil || got != 1 {
		t.Fatalf("expected 3.2.11 > 3.2.2, got %d err=%v", got, err)
	}
	if _, err := client.VersionCompare("3.2.3", "three"); err == nil {
		t.Fatal("expected parse error")
	}
}
