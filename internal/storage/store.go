package storage

import (
	"context"

	"spikeglm/internal/model"
)

// Store defines persistence for the session catalogue and fit runs.
type Store interface {
	Init(ctx context.Context) error
	SaveSession(ctx context.Context, session model.Session) error
	GetSession(ctx context.Context, eid string) (model.Session, bool, error)
	ListSessions(ctx context.Context) ([]model.Session, error)
	SaveDatasets(ctx context.Context, eid string, datasets []model.Dataset) error
	GetDatasets(ctx context.Context, eid string) ([]model.Dataset, bool, error)
	SaveFitRun(ctx context.Context, run model.FitRun) error
	GetFitRun(ctx context.Context, id string) (model.FitRun, bool, error)
	ListFitRuns(ctx context.Context) ([]model.FitRun, error)
	SaveClusterFits(ctx context.Context, runID string, fits []model.ClusterFit) error
	GetClusterFits(ctx context.Context, runID string) ([]model.ClusterFit, bool, error)
}
