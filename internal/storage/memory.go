package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"spikeglm/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	sessions    map[string]model.Session
	datasets    map[string][]model.Dataset
	runs        map[string]model.FitRun
	clusterFits map[string][]model.ClusterFit
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.sessions = make(map[string]model.Session)
	s.datasets = make(map[string][]model.Dataset)
	s.runs = make(map[string]model.FitRun)
	s.clusterFits = make(map[string][]model.ClusterFit)
	return nil
}

func (s *MemoryStore) SaveSession(_ context.Context, session model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.sessions[session.EID] = session
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, eid string) (model.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[eid]
	return session, ok, nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EID < out[j].EID })
	return out, nil
}

func (s *MemoryStore) SaveDatasets(_ context.Context, eid string, datasets []model.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	copied := make([]model.Dataset, len(datasets))
	copy(copied, datasets)
	s.datasets[eid] = copied
	return nil
}

func (s *MemoryStore) GetDatasets(_ context.Context, eid string) ([]model.Dataset, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	datasets, ok := s.datasets[eid]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.Dataset, len(datasets))
	copy(copied, datasets)
	return copied, true, nil
}

func (s *MemoryStore) SaveFitRun(_ context.Context, run model.FitRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.runs[run.ID] = copyFitRun(run)
	return nil
}

func (s *MemoryStore) GetFitRun(_ context.Context, id string) (model.FitRun, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return model.FitRun{}, false, nil
	}
	return copyFitRun(run), true, nil
}

func (s *MemoryStore) ListFitRuns(_ context.Context) ([]model.FitRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.FitRun, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, copyFitRun(run))
	}
	sortRuns(out)
	return out, nil
}

func (s *MemoryStore) SaveClusterFits(_ context.Context, runID string, fits []model.ClusterFit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.clusterFits[runID] = copyClusterFits(fits)
	return nil
}

func (s *MemoryStore) GetClusterFits(_ context.Context, runID string) ([]model.ClusterFit, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fits, ok := s.clusterFits[runID]
	if !ok {
		return nil, false, nil
	}
	return copyClusterFits(fits), true, nil
}

func copyFitRun(run model.FitRun) model.FitRun {
	run.Covariates = append([]model.CovariateSpec(nil), run.Covariates...)
	run.Clusters = append([]int(nil), run.Clusters...)
	run.NonConverged = append([]int(nil), run.NonConverged...)
	return run
}

func copyClusterFits(fits []model.ClusterFit) []model.ClusterFit {
	copied := make([]model.ClusterFit, len(fits))
	for i, f := range fits {
		f.Weights = append([]float64(nil), f.Weights...)
		if f.Score != nil {
			score := *f.Score
			f.Score = &score
		}
		copied[i] = f
	}
	return copied
}

// sortRuns orders runs newest first, breaking ties by id.
func sortRuns(runs []model.FitRun) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}
