package dataload

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"spikeglm/internal/glm"
)

func TestReadTrialsCSV(t *testing.T) {
	in := strings.NewReader("trial_start,stimOn_times,trial_end,contrast\n0,0.4,1.1,0.5\n\n1.1,,2.2,nan\n")
	columns, err := ReadTrialsCSV(in)
	if err != nil {
		t.Fatalf("read trials: %v", err)
	}
	if len(columns) != 4 {
		t.Fatalf("expected 4 columns, got %d", len(columns))
	}
	if got := columns["trial_end"]; len(got) != 2 || got[1] != 2.2 {
		t.Fatalf("unexpected trial_end column: %v", got)
	}
	if !math.IsNaN(columns["stimOn_times"][1]) || !math.IsNaN(columns["contrast"][1]) {
		t.Fatalf("expected missing cells to parse as NaN: %v", columns)
	}
}

func TestReadTrialsCSVRejectsBadRows(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"short row":    "trial_start,trial_end\n0\n",
		"not a number": "trial_start,trial_end\n0,abc\n",
		"duplicate":    "trial_start,trial_start\n0,1\n",
	}
	for name, input := range cases {
		if _, err := ReadTrialsCSV(strings.NewReader(input)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestTrialsCSVRoundTrip(t *testing.T) {
	columns := map[string][]float64{
		glm.ColTrialStart: {0, 1.1},
		glm.ColTrialEnd:   {1.1, 2.2},
		"stimOn_times":    {0.4, math.NaN()},
		"contrast":        {0.25, 1},
	}
	var buf bytes.Buffer
	if err := WriteTrialsCSV(&buf, columns); err != nil {
		t.Fatalf("write trials: %v", err)
	}
	header := strings.SplitN(buf.String(), "\n", 2)[0]
	if header != "trial_start,contrast,stimOn_times,trial_end" {
		t.Fatalf("unexpected header order: %s", header)
	}

	got, err := ReadTrialsCSV(&buf)
	if err != nil {
		t.Fatalf("read trials: %v", err)
	}
	if got["contrast"][0] != 0.25 || !math.IsNaN(got["stimOn_times"][1]) {
		t.Fatalf("round trip mismatch: %v", got)
	}
	if _, err := glm.NewTrials(got); err != nil {
		t.Fatalf("round-tripped trials invalid: %v", err)
	}
}

func TestSpikesFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "spikes.csv")
	times := []float64{0.0125, 0.5, 3.75}
	clusters := []int{1, 7, 1}
	if err := WriteSpikesFile(path, times, clusters); err != nil {
		t.Fatalf("write spikes: %v", err)
	}
	gotTimes, gotClusters, err := ReadSpikesFile(path)
	if err != nil {
		t.Fatalf("read spikes: %v", err)
	}
	if len(gotTimes) != 3 || gotTimes[0] != 0.0125 || gotClusters[1] != 7 {
		t.Fatalf("unexpected spikes: %v %v", gotTimes, gotClusters)
	}

	if err := WriteSpikesFile(path, times, clusters[:1]); err == nil {
		t.Fatal("expected length mismatch error")
	}
	if _, _, err := ReadSpikesCSV(strings.NewReader("t,c\n1,2\n")); err == nil {
		t.Fatal("expected missing column error")
	}
}

func TestParseVarTypes(t *testing.T) {
	got, err := ParseVarTypes("trial_start=timing, contrast=VALUE,")
	if err != nil {
		t.Fatalf("parse vartypes: %v", err)
	}
	if got["trial_start"] != glm.VarTiming || got["contrast"] != glm.VarValue {
		t.Fatalf("unexpected vartypes: %v", got)
	}
	if _, err := ParseVarTypes("contrast"); err == nil {
		t.Fatal("expected missing type error")
	}
	if _, err := ParseVarTypes("contrast=angle"); err == nil {
		t.Fatal("expected unknown type error")
	}

	defaults := DefaultVarTypes(map[string][]float64{"trial_start": nil, "stimOn_times": nil, "contrast": nil})
	if defaults["stimOn_times"] != glm.VarTiming || defaults["contrast"] != glm.VarValue {
		t.Fatalf("unexpected default vartypes: %v", defaults)
	}
}
