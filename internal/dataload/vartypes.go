package dataload

import (
	"fmt"
	"strings"

	"spikeglm/internal/glm"
)

// ParseVarTypes reads "column=type" pairs separated by commas, e.g.
// "trial_start=timing,stimOn_times=timing,contrast=value".
func ParseVarTypes(spec string) (map[string]glm.VarType, error) {
	out := make(map[string]glm.VarType)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, kind, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("vartype %q must be column=type", part)
		}
		vt := glm.VarType(strings.ToLower(strings.TrimSpace(kind)))
		switch vt {
		case glm.VarTiming, glm.VarValue, glm.VarContinuous:
		default:
			return nil, fmt.Errorf("unknown vartype %q for column %s", kind, name)
		}
		out[strings.TrimSpace(name)] = vt
	}
	return out, nil
}

// DefaultVarTypes tags trial_start, trial_end and every column ending in _times as timing
// columns and everything else as values.
func DefaultVarTypes(columns map[string][]float64) map[string]glm.VarType {
	out := make(map[string]glm.VarType, len(columns))
	for name := range columns {
		switch {
		case name == glm.ColTrialStart, name == glm.ColTrialEnd, strings.HasSuffix(name, "_times"):
			out[name] = glm.VarTiming
		default:
			out[name] = glm.VarValue
		}
	}
	return out
}
