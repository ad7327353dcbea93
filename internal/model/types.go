package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Session is a catalogued recording session, keyed by its eid
// (lab/Subjects/subject/date/number).
type Session struct {
	VersionedRecord
	EID     string `json:"eid"`
	Lab     string `json:"lab"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
	Number  int64  `json:"number"`
}

// Dataset is one file inside a session.
type Dataset struct {
	VersionedRecord
	SessionEID string `json:"session_eid"`
	RelPath    string `json:"rel_path"`
	FileSize   int64  `json:"file_size"`
}

// CovariateSpec describes how a covariate was registered for a fit.
type CovariateSpec struct {
	Name       string  `json:"name"`
	Kind       string  `json:"kind"`
	Event      string  `json:"event,omitempty"`
	EndEvent   string  `json:"end_event,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
	BasisCount int     `json:"basis_count,omitempty"`
	Offset     float64 `json:"offset,omitempty"`
	Amplitude  string  `json:"amplitude,omitempty"`
}

// FitRun summarises one fit over a trial table and spike train.
type FitRun struct {
	VersionedRecord
	ID           string          `json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	Source       string          `json:"source,omitempty"`
	Method       string          `json:"method"`
	Optimizer    string          `json:"optimizer,omitempty"`
	BinWidth     float64         `json:"bin_width"`
	Train        float64         `json:"train"`
	BlockTrain   bool            `json:"block_train"`
	Seed         uint64          `json:"seed"`
	Alpha        float64         `json:"alpha,omitempty"`
	Trials       int             `json:"trials"`
	Rows         int             `json:"rows"`
	Columns      int             `json:"columns"`
	Covariates   []CovariateSpec `json:"covariates"`
	Clusters     []int           `json:"clusters"`
	NonConverged []int           `json:"non_converged,omitempty"`
}

// ClusterFit is one cluster's fitted parameters and diagnostics within a run.
type ClusterFit struct {
	VersionedRecord
	RunID      string    `json:"run_id"`
	Cluster    int       `json:"cluster"`
	Intercept  float64   `json:"intercept"`
	Weights    []float64 `json:"weights"`
	Converged  bool      `json:"converged"`
	Status     string    `json:"status"`
	Iterations int       `json:"iterations"`
	Objective  float64   `json:"objective"`
	Deviance   float64   `json:"deviance"`
	Score      *float64  `json:"score,omitempty"`
}
