// Package artifacts writes fit runs to disk as JSON and CSV files and keeps an index of runs.
package artifacts

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"spikeglm/internal/model"
)

const (
	runIndexFile   = "run_index.json"
	configFile     = "config.json"
	weightsFile    = "weights.json"
	kernelsFile    = "kernels.json"
	kernelsCSVFile = "kernels.csv"
)

type RunConfig struct {
	RunID         string                `json:"run_id"`
	Source        string                `json:"source,omitempty"`
	Method        string                `json:"method"`
	Optimizer     string                `json:"optimizer,omitempty"`
	BinWidth      float64               `json:"bin_width"`
	Train         float64               `json:"train"`
	BlockTrain    bool                  `json:"block_train"`
	Seed          uint64                `json:"seed"`
	MinTrials     int                   `json:"min_trials"`
	Alpha         float64               `json:"alpha"`
	MaxIterations int                   `json:"max_iterations"`
	Tolerance     float64               `json:"tolerance"`
	InitIntercept string                `json:"init_intercept"`
	Covariates    []model.CovariateSpec `json:"covariates"`
}

type ClusterWeights struct {
	Cluster    int       `json:"cluster"`
	Intercept  float64   `json:"intercept"`
	Weights    []float64 `json:"weights"`
	Converged  bool      `json:"converged"`
	Status     string    `json:"status"`
	Iterations int       `json:"iterations"`
	Deviance   float64   `json:"deviance"`
	Score      *float64  `json:"score,omitempty"`
}

type KernelCluster struct {
	Cluster   int       `json:"cluster"`
	Intercept float64   `json:"intercept"`
	Weights   []float64 `json:"weights"`
	Rates     []float64 `json:"rates"`
}

type KernelSeries struct {
	Covariate string          `json:"covariate"`
	Kind      string          `json:"kind"`
	Times     []float64       `json:"times"`
	Clusters  []KernelCluster `json:"clusters"`
}

type RunArtifacts struct {
	Config   RunConfig        `json:"config"`
	Clusters []ClusterWeights `json:"clusters"`
	Kernels  []KernelSeries   `json:"kernels"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Source       string  `json:"source,omitempty"`
	Method       string  `json:"method"`
	BinWidth     float64 `json:"bin_width"`
	Clusters     int     `json:"clusters"`
	NonConverged int     `json:"non_converged"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, weightsFile), artifacts.Clusters); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, kernelsFile), artifacts.Kernels); err != nil {
		return "", err
	}
	if err := writeKernelsCSVFile(filepath.Join(runDir, kernelsCSVFile), artifacts.Kernels); err != nil {
		return "", err
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// readRunIndex returns the entries in append order.
func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, weightsFile, kernelsFile, kernelsCSVFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	return cfg, ok, err
}

func ReadWeights(baseDir, runID string) ([]ClusterWeights, bool, error) {
	var weights []ClusterWeights
	ok, err := readJSON(filepath.Join(baseDir, runID, weightsFile), &weights)
	return weights, ok, err
}

func ReadKernels(baseDir, runID string) ([]KernelSeries, bool, error) {
	var kernels []KernelSeries
	ok, err := readJSON(filepath.Join(baseDir, runID, kernelsFile), &kernels)
	return kernels, ok, err
}

// WriteKernelsCSV writes kernels in long form: one covariate,cluster,time,weight,rate row per lag.
func WriteKernelsCSV(out io.Writer, kernels []KernelSeries) error {
	writer := csv.NewWriter(out)
	if err := writer.Write([]string{"covariate", "cluster", "time", "weight", "rate"}); err != nil {
		return err
	}
	for _, k := range kernels {
		for _, c := range k.Clusters {
			if len(c.Weights) != len(k.Times) || len(c.Rates) != len(k.Times) {
				return fmt.Errorf("kernel %s cluster %d has %d weights and %d rates for %d times", k.Covariate, c.Cluster, len(c.Weights), len(c.Rates), len(k.Times))
			}
			for i, t := range k.Times {
				if err := writer.Write([]string{
					k.Covariate,
					strconv.Itoa(c.Cluster),
					strconv.FormatFloat(t, 'f', -1, 64),
					strconv.FormatFloat(c.Weights[i], 'g', -1, 64),
					strconv.FormatFloat(c.Rates[i], 'g', -1, 64),
				}); err != nil {
					return err
				}
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeKernelsCSVFile(path string, kernels []KernelSeries) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteKernelsCSV(file, kernels); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func readJSON(path string, value any) (bool, error) {
	if strings.TrimSpace(path) == "" {
		return false, fmt.Errorf("path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
