// Package dataload reads and writes trial tables and spike trains as CSV.
package dataload

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"spikeglm/internal/glm"
)

const (
	ColSpikeTime    = "time"
	ColSpikeCluster = "cluster"
)

// ReadTrialsCSV parses a header row of column names followed by one row per trial. Empty cells and
// "nan" parse as NaN, meaning the event did not happen in that trial.
func ReadTrialsCSV(in io.Reader) (map[string][]float64, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("trials csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read trials csv header: %w", err)
	}
	names := make([]string, len(header))
	columns := make(map[string][]float64, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			return nil, fmt.Errorf("trials csv column %d has no name", i)
		}
		if _, dup := columns[name]; dup {
			return nil, fmt.Errorf("trials csv repeats column %s", name)
		}
		names[i] = name
		columns[name] = nil
	}

	rowIndex := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read trials csv row %d: %w", rowIndex, err)
		}
		if blankRecord(record) {
			continue
		}
		if len(record) != len(names) {
			return nil, fmt.Errorf("trials csv row %d has %d fields, want %d", rowIndex, len(record), len(names))
		}
		for i, raw := range record {
			value, err := parseCell(raw)
			if err != nil {
				return nil, fmt.Errorf("parse trials row %d column %s: %w", rowIndex, names[i], err)
			}
			columns[names[i]] = append(columns[names[i]], value)
		}
		rowIndex++
	}
	return columns, nil
}

// WriteTrialsCSV writes trial_start first, trial_end last and the other columns sorted between.
func WriteTrialsCSV(out io.Writer, columns map[string][]float64) error {
	names := orderedColumns(columns)
	n := -1
	for _, name := range names {
		if n >= 0 && len(columns[name]) != n {
			return fmt.Errorf("column %s has %d rows, want %d", name, len(columns[name]), n)
		}
		n = len(columns[name])
	}

	writer := csv.NewWriter(out)
	if err := writer.Write(names); err != nil {
		return err
	}
	record := make([]string, len(names))
	for row := 0; row < n; row++ {
		for i, name := range names {
			record[i] = formatCell(columns[name][row])
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadSpikesCSV parses time,cluster rows.
func ReadSpikesCSV(in io.Reader) ([]float64, []int, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read spikes csv header: %w", err)
	}
	timeCol, clusterCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case ColSpikeTime:
			timeCol = i
		case ColSpikeCluster:
			clusterCol = i
		}
	}
	if timeCol < 0 || clusterCol < 0 {
		return nil, nil, fmt.Errorf("spikes csv needs %s and %s columns", ColSpikeTime, ColSpikeCluster)
	}

	var times []float64
	var clusters []int
	rowIndex := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read spikes csv row %d: %w", rowIndex, err)
		}
		if blankRecord(record) {
			continue
		}
		if len(record) <= max(timeCol, clusterCol) {
			return nil, nil, fmt.Errorf("spikes csv row %d is short", rowIndex)
		}
		t, err := strconv.ParseFloat(strings.TrimSpace(record[timeCol]), 64)
		if err != nil {
			return nil, nil, fmt.Errorf("parse spike row %d time: %w", rowIndex, err)
		}
		c, err := strconv.Atoi(strings.TrimSpace(record[clusterCol]))
		if err != nil {
			return nil, nil, fmt.Errorf("parse spike row %d cluster: %w", rowIndex, err)
		}
		times = append(times, t)
		clusters = append(clusters, c)
		rowIndex++
	}
	return times, clusters, nil
}

// WriteSpikesCSV writes one time,cluster row per spike.
func WriteSpikesCSV(out io.Writer, times []float64, clusters []int) error {
	if len(times) != len(clusters) {
		return fmt.Errorf("%d spike times but %d cluster ids", len(times), len(clusters))
	}
	writer := csv.NewWriter(out)
	if err := writer.Write([]string{ColSpikeTime, ColSpikeCluster}); err != nil {
		return err
	}
	for i := range times {
		if err := writer.Write([]string{formatCell(times[i]), strconv.Itoa(clusters[i])}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadTrialsFile opens a trials CSV.
func ReadTrialsFile(path string) (map[string][]float64, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTrialsCSV(f)
}

// ReadSpikesFile opens a spikes CSV.
func ReadSpikesFile(path string) ([]float64, []int, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ReadSpikesCSV(f)
}

// WriteTrialsFile creates parent directories and writes a trials CSV.
func WriteTrialsFile(path string, columns map[string][]float64) error {
	return writeFile(path, func(w io.Writer) error { return WriteTrialsCSV(w, columns) })
}

// WriteSpikesFile creates parent directories and writes a spikes CSV.
func WriteSpikesFile(path string, times []float64, clusters []int) error {
	return writeFile(path, func(w io.Writer) error { return WriteSpikesCSV(w, times, clusters) })
}

func openFile(path string) (*os.File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("file path is required")
	}
	return os.Open(path)
}

func writeFile(path string, write func(io.Writer) error) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func orderedColumns(columns map[string][]float64) []string {
	names := make([]string, 0, len(columns))
	for name := range columns {
		if name != glm.ColTrialStart && name != glm.ColTrialEnd {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := columns[glm.ColTrialStart]; ok {
		names = append([]string{glm.ColTrialStart}, names...)
	}
	if _, ok := columns[glm.ColTrialEnd]; ok {
		names = append(names, glm.ColTrialEnd)
	}
	return names
}

func parseCell(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, "nan") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func formatCell(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
