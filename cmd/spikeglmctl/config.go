package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"spikeglm/internal/model"
	api "spikeglm/pkg/spikeglm"
)

// loadFitRequestFromConfig reads a YAML (or JSON) fit config such as:
//
//	trials: session/trials.csv
//	spikes: session/spikes.csv
//	bin_width: 0.02
//	method: regression
//	covariates:
//	  - {name: stim, event: stimOn_times, duration: 0.6, bases: 10}
func loadFitRequestFromConfig(path string) (api.FitRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.FitRequest{}, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return api.FitRequest{}, err
	}

	var req api.FitRequest
	if v, ok := asString(raw["trials"]); ok {
		req.TrialsPath = v
	}
	if v, ok := asString(raw["spikes"]); ok {
		req.SpikesPath = v
	}
	switch v := raw["vartypes"].(type) {
	case string:
		req.VarTypes = v
	case map[string]any:
		pairs := make([]string, 0, len(v))
		for name, kind := range v {
			s, ok := asString(kind)
			if !ok {
				return api.FitRequest{}, fmt.Errorf("vartype for %s must be a string", name)
			}
			pairs = append(pairs, name+"="+s)
		}
		sort.Strings(pairs)
		req.VarTypes = strings.Join(pairs, ",")
	}
	if v, ok := asFloat64(raw["bin_width"]); ok {
		req.BinWidth = v
	}
	if v, ok := asFloat64(raw["train"]); ok {
		req.Train = v
	}
	if v, ok := asBool(raw["block_train"]); ok {
		req.BlockTrain = v
	}
	if v, ok := asUint64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asInt(raw["min_trials"]); ok {
		req.MinTrials = v
	}
	if v, ok := asString(raw["method"]); ok {
		req.Method = v
	}
	if v, ok := asString(raw["optimizer"]); ok {
		req.Optimizer = v
	}
	if v, ok := asString(raw["init_intercept"]); ok {
		req.InitIntercept = v
	}
	if v, ok := asFloat64(raw["alpha"]); ok {
		req.Alpha = v
	}
	if v, ok := asInt(raw["max_iterations"]); ok {
		req.MaxIterations = v
	}
	if v, ok := asFloat64(raw["tolerance"]); ok {
		req.Tolerance = v
	}

	if items, ok := raw["covariates"].([]any); ok {
		for i, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				return api.FitRequest{}, fmt.Errorf("covariate %d must be a mapping", i)
			}
			spec := model.CovariateSpec{}
			spec.Name, _ = asString(m["name"])
			spec.Kind, _ = asString(m["kind"])
			spec.Event, _ = asString(m["event"])
			spec.EndEvent, _ = asString(m["end_event"])
			spec.Duration, _ = asFloat64(m["duration"])
			spec.BasisCount, _ = asInt(m["bases"])
			spec.Offset, _ = asFloat64(m["offset"])
			spec.Amplitude, _ = asString(m["amplitude"])
			if spec.Name == "" {
				return api.FitRequest{}, fmt.Errorf("covariate %d requires a name", i)
			}
			req.Covariates = append(req.Covariates, spec)
		}
	}
	return req, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case int:
		if x < 0 {
			return 0, false
		}
		return uint64(x), true
	case uint64:
		return x, true
	case float64:
		if x < 0 {
			return 0, false
		}
		return uint64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func overrideFromFlags(req *api.FitRequest, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "trials":
			req.TrialsPath = v.(string)
		case "spikes":
			req.SpikesPath = v.(string)
		case "vartypes":
			req.VarTypes = v.(string)
		case "bin-width":
			req.BinWidth = v.(float64)
		case "train":
			req.Train = v.(float64)
		case "block-train":
			req.BlockTrain = v.(bool)
		case "seed":
			req.Seed = v.(uint64)
		case "min-trials":
			req.MinTrials = v.(int)
		case "method":
			req.Method = v.(string)
		case "optimizer":
			req.Optimizer = v.(string)
		case "init":
			req.InitIntercept = v.(string)
		case "alpha":
			req.Alpha = v.(float64)
		case "max-iter":
			req.MaxIterations = v.(int)
		case "tol":
			req.Tolerance = v.(float64)
		}
	}
	return nil
}

func loadOrDefaultFitRequest(configPath string) (api.FitRequest, error) {
	if configPath == "" {
		return api.FitRequest{}, nil
	}
	req, err := loadFitRequestFromConfig(configPath)
	if err != nil {
		return api.FitRequest{}, fmt.Errorf("load config: %w", err)
	}
	return req, nil
}

type covariateList struct {
	timing stringList
	boxcar stringList
}

func (l covariateList) specs() ([]model.CovariateSpec, error) {
	out := make([]model.CovariateSpec, 0, len(l.timing)+len(l.boxcar))
	for _, raw := range l.timing {
		spec, err := parseTimingFlag(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	for _, raw := range l.boxcar {
		parts := strings.Split(raw, ":")
		if len(parts) != 3 || parts[0] == "" {
			return nil, fmt.Errorf("boxcar covariate %q must be name:start_event:end_event", raw)
		}
		out = append(out, model.CovariateSpec{Name: parts[0], Kind: "boxcar", Event: parts[1], EndEvent: parts[2]})
	}
	return out, nil
}

// parseTimingFlag reads name:event:duration[:bases[:offset]].
func parseTimingFlag(raw string) (model.CovariateSpec, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 3 || len(parts) > 5 || parts[0] == "" {
		return model.CovariateSpec{}, fmt.Errorf("timing covariate %q must be name:event:duration[:bases[:offset]]", raw)
	}
	spec := model.CovariateSpec{Name: parts[0], Kind: "timing", Event: parts[1]}
	duration, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return model.CovariateSpec{}, fmt.Errorf("timing covariate %s: duration: %w", spec.Name, err)
	}
	spec.Duration = duration
	if len(parts) > 3 {
		bases, err := strconv.Atoi(parts[3])
		if err != nil {
			return model.CovariateSpec{}, fmt.Errorf("timing covariate %s: bases: %w", spec.Name, err)
		}
		spec.BasisCount = bases
	}
	if len(parts) > 4 {
		offset, err := strconv.ParseFloat(parts[4], 64)
		if err != nil {
			return model.CovariateSpec{}, fmt.Errorf("timing covariate %s: offset: %w", spec.Name, err)
		}
		spec.Offset = offset
	}
	return spec, nil
}
