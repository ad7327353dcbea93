//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"spikeglm/internal/model"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "spikeglm.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	session := model.Session{VersionedRecord: Versioned(), EID: "mylab/Subjects/mysub/2021-02-28/001", Lab: "mylab", Subject: "mysub", Date: "2021-02-28", Number: 1}
	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("save session: %v", err)
	}
	loadedSession, ok, err := store.GetSession(ctx, session.EID)
	if err != nil || !ok {
		t.Fatalf("get session: ok=%t err=%v", ok, err)
	}
	if loadedSession != session {
		t.Fatalf("unexpected session loaded: %+v", loadedSession)
	}
	sessions, err := store.ListSessions(ctx)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("list sessions: %v %+v", err, sessions)
	}

	datasets := []model.Dataset{{VersionedRecord: Versioned(), SessionEID: session.EID, RelPath: "alf/spikes.times.npy", FileSize: 4}}
	if err := store.SaveDatasets(ctx, session.EID, datasets); err != nil {
		t.Fatalf("save datasets: %v", err)
	}
	loadedDatasets, ok, err := store.GetDatasets(ctx, session.EID)
	if err != nil || !ok || len(loadedDatasets) != 1 {
		t.Fatalf("get datasets: ok=%t err=%v %+v", ok, err, loadedDatasets)
	}

	base := time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b"} {
		run := model.FitRun{VersionedRecord: Versioned(), ID: id, CreatedAt: base.Add(time.Duration(i) * time.Hour), Method: "minimize", Clusters: []int{1}}
		if err := store.SaveFitRun(ctx, run); err != nil {
			t.Fatalf("save run: %v", err)
		}
	}
	runs, err := store.ListFitRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-b" {
		t.Fatalf("expected newest run first: %+v", runs)
	}

	fits := []model.ClusterFit{{VersionedRecord: Versioned(), RunID: "run-b", Cluster: 1, Intercept: -2, Weights: []float64{0.3, 0.4}, Converged: true}}
	if err := store.SaveClusterFits(ctx, "run-b", fits); err != nil {
		t.Fatalf("save fits: %v", err)
	}
	loadedFits, ok, err := store.GetClusterFits(ctx, "run-b")
	if err != nil || !ok {
		t.Fatalf("get fits: ok=%t err=%v", ok, err)
	}
	if len(loadedFits) != 1 || loadedFits[0].Weights[1] != 0.4 {
		t.Fatalf("unexpected fits: %+v", loadedFits)
	}

	if _, ok, err := store.GetFitRun(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing run: ok=%t err=%v", ok, err)
	}
}

func TestSQLiteStoreRequiresPath(t *testing.T) {
	if err := NewSQLiteStore("").Init(context.Background()); err == nil {
		t.Fatal("expected missing path error")
	}
}
