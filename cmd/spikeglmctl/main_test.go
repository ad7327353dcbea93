package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"spikeglm/internal/artifacts"
)

func TestRunRejectsUnknownCommand(t *testing.T) {
	if err := run(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "missing command") {
		t.Fatalf("expected missing command error, got %v", err)
	}
	if err := run(context.Background(), []string{"evolve"}); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestSimulateFitKernelsExportCommands(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	sessionDir := filepath.Join(base, "session")
	runsDir := filepath.Join(base, "runs")

	if err := run(ctx, []string{"simulate", "--out", sessionDir, "--trials", "200", "--seed", "3"}); err != nil {
		t.Fatalf("simulate command: %v", err)
	}
	for _, file := range []string{"trials.csv", "spikes.csv"} {
		if _, err := os.Stat(filepath.Join(sessionDir, file)); err != nil {
			t.Fatalf("expected %s: %v", file, err)
		}
	}

	args := []string{
		"fit",
		"--store", "memory",
		"--runs-dir", runsDir,
		"--trials", filepath.Join(sessionDir, "trials.csv"),
		"--spikes", filepath.Join(sessionDir, "spikes.csv"),
		"--method", "regression",
		"--timing", "stim:stimOn_times:0.6:10",
	}
	if err := run(ctx, args); err != nil {
		t.Fatalf("fit command: %v", err)
	}

	entries, err := artifacts.ListRunIndex(runsDir)
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 || entries[0].Method != "regression" {
		t.Fatalf("unexpected run index: %+v", entries)
	}
	cfg, ok, err := artifacts.ReadRunConfig(runsDir, entries[0].RunID)
	if err != nil || !ok {
		t.Fatalf("read run config: ok=%t err=%v", ok, err)
	}
	if cfg.BinWidth != 0.02 || len(cfg.Covariates) != 1 || cfg.Covariates[0].BasisCount != 10 {
		t.Fatalf("unexpected run config: %+v", cfg)
	}

	if err := run(ctx, []string{"runs", "--runs-dir", runsDir}); err != nil {
		t.Fatalf("runs command: %v", err)
	}
	if err := run(ctx, []string{"kernels", "--runs-dir", runsDir, "--latest"}); err != nil {
		t.Fatalf("kernels command: %v", err)
	}
	outDir := filepath.Join(base, "exports")
	if err := run(ctx, []string{"export", "--runs-dir", runsDir, "--run-id", entries[0].RunID, "--out", outDir}); err != nil {
		t.Fatalf("export command: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, entries[0].RunID, "weights.json")); err != nil {
		t.Fatalf("expected exported weights: %v", err)
	}
	if err := run(ctx, []string{"kernels", "--runs-dir", runsDir}); err == nil {
		t.Fatal("expected kernels selector error")
	}
}

func TestCatalogueCommand(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "data")
	sessionDir := filepath.Join(root, "cortexlab", "Subjects", "KS023", "2019-12-10", "001")
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sessionDir, "trials.table.pqt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	outDir := filepath.Join(base, "tables")
	if err := run(context.Background(), []string{"catalogue", "--store", "memory", "--root", root, "--out", outDir, "--index"}); err != nil {
		t.Fatalf("catalogue command: %v", err)
	}
	for _, file := range []string{"sessions.pqt", "datasets.pqt"} {
		if _, err := os.Stat(filepath.Join(outDir, file)); err != nil {
			t.Fatalf("expected %s: %v", file, err)
		}
	}
	if err := run(context.Background(), []string{"catalogue", "--store", "memory"}); err == nil {
		t.Fatal("expected missing root error")
	}
}

func TestVersionCompareCommand(t *testing.T) {
	if err := run(context.Background(), []string{"version-compare", "3.2.3", "3.2.03"}); err != nil {
		t.Fatalf("version-compare: %v", err)
	}
	if err := run(context.Background(), []string{"version-compare", "3.2.3"}); err == nil {
		t.Fatal("expected argument count error")
	}
}
