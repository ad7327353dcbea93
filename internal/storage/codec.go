package storage

import (
	"encoding/json"
	"errors"

	"spikeglm/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Versioned returns the record header written by this build.
func Versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeSession(s model.Session) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeSession(data []byte) (model.Session, error) {
	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return model.Session{}, err
	}
	if err := checkVersion(session.VersionedRecord); err != nil {
		return model.Session{}, err
	}
	return session, nil
}

func EncodeDatasets(datasets []model.Dataset) ([]byte, error) {
	return json.Marshal(datasets)
}

func DecodeDatasets(data []byte) ([]model.Dataset, error) {
	var datasets []model.Dataset
	if err := json.Unmarshal(data, &datasets); err != nil {
		return nil, err
	}
	for _, d := range datasets {
		if err := checkVersion(d.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return datasets, nil
}

func EncodeFitRun(r model.FitRun) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeFitRun(data []byte) (model.FitRun, error) {
	var run model.FitRun
	if err := json.Unmarshal(data, &run); err != nil {
		return model.FitRun{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.FitRun{}, err
	}
	return run, nil
}

func EncodeClusterFits(fits []model.ClusterFit) ([]byte, error) {
	return json.Marshal(fits)
}

func DecodeClusterFits(data []byte) ([]model.ClusterFit, error) {
	var fits []model.ClusterFit
	if err := json.Unmarshal(data, &fits); err != nil {
		return nil, err
	}
	for _, f := range fits {
		if err := checkVersion(f.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return fits, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
