package storage

import (
	"context"
	"testing"
	"time"

	"spikeglm/internal/model"
)

func TestMemoryStoreSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	for _, eid := range []string{"lab/Subjects/b/2021-01-02/001", "lab/Subjects/a/2021-01-01/001"} {
		if err := store.SaveSession(ctx, model.Session{VersionedRecord: Versioned(), EID: eid, Lab: "lab"}); err != nil {
			t.Fatalf("save session: %v", err)
		}
	}
	session, ok, err := store.GetSession(ctx, "lab/Subjects/a/2021-01-01/001")
	if err != nil || !ok {
		t.Fatalf("get session: ok=%t err=%v", ok, err)
	}
	if session.Lab != "lab" {
		t.Fatalf("unexpected session: %+v", session)
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].EID != "lab/Subjects/a/2021-01-01/001" {
		t.Fatalf("unexpected session order: %+v", sessions)
	}

	datasets := []model.Dataset{{VersionedRecord: Versioned(), SessionEID: session.EID, RelPath: "alf/spikes.times.npy", FileSize: 4}}
	if err := store.SaveDatasets(ctx, session.EID, datasets); err != nil {
		t.Fatalf("save datasets: %v", err)
	}
	datasets[0].RelPath = "mutated"
	loaded, ok, err := store.GetDatasets(ctx, session.EID)
	if err != nil || !ok {
		t.Fatalf("get datasets: ok=%t err=%v", ok, err)
	}
	if loaded[0].RelPath != "alf/spikes.times.npy" {
		t.Fatalf("store aliases caller slice: %+v", loaded)
	}
}

func TestMemoryStoreFitRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	base := time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)
	older := model.FitRun{VersionedRecord: Versioned(), ID: "run-old", CreatedAt: base, Method: "minimize", Clusters: []int{1}}
	newer := model.FitRun{VersionedRecord: Versioned(), ID: "run-new", CreatedAt: base.Add(time.Minute), Method: "regression", Clusters: []int{1, 2}}
	for _, run := range []model.FitRun{older, newer} {
		if err := store.SaveFitRun(ctx, run); err != nil {
			t.Fatalf("save run: %v", err)
		}
	}

	runs, err := store.ListFitRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-new" {
		t.Fatalf("expected newest run first: %+v", runs)
	}

	runs[0].Clusters[0] = 99
	loaded, ok, err := store.GetFitRun(ctx, "run-new")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%t err=%v", ok, err)
	}
	if loaded.Clusters[0] != 1 {
		t.Fatalf("store aliases returned slice: %+v", loaded)
	}

	fits := []model.ClusterFit{{VersionedRecord: Versioned(), RunID: "run-new", Cluster: 1, Weights: []float64{0.5}}}
	if err := store.SaveClusterFits(ctx, "run-new", fits); err != nil {
		t.Fatalf("save fits: %v", err)
	}
	loadedFits, ok, err := store.GetClusterFits(ctx, "run-new")
	if err != nil || !ok {
		t.Fatalf("get fits: ok=%t err=%v", ok, err)
	}
	if len(loadedFits) != 1 || loadedFits[0].Weights[0] != 0.5 {
		t.Fatalf("unexpected fits: %+v", loadedFits)
	}
	if _, ok, _ := store.GetClusterFits(ctx, "missing"); ok {
		t.Fatal("expected missing run to report not found")
	}
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	if err := store.SaveFitRun(context.Background(), model.FitRun{ID: "x"}); err == nil {
		t.Fatal("expected error before init")
	}
}

func TestMemoryStoreInitKeepsData(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.SaveFitRun(ctx, model.FitRun{VersionedRecord: Versioned(), ID: "kept"}); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("second init: %v", err)
	}
	if _, ok, err := store.GetFitRun(ctx, "kept"); err != nil || !ok {
		t.Fatalf("expected run to survive init: ok=%t err=%v", ok, err)
	}
}
