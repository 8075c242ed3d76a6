package experimentation

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/tzgateway/gateway/tzerr"
)

// UniformSampler selects uniformly among an explicit candidate pool, falling
// back to a ranked list when no candidate is active (§4.E alternative,
// §4.L). Validation rejects duplicate names within or across the two lists
// and names that do not exist in the owning function — callers validate at
// config-load time via Validate.
type UniformSampler struct {
	CandidateVariants []string
	FallbackVariants  []string
}

// Validate rejects duplicate names within or across CandidateVariants and
// FallbackVariants, and any name absent from the function's variant set
// (§4.L).
func (s UniformSampler) Validate(functionVariants map[string]struct{}) error {
	seen := make(map[string]struct{}, len(s.CandidateVariants)+len(s.FallbackVariants))
	check := func(list []string, field string) error {
		for _, name := range list {
			if _, ok := functionVariants[name]; !ok {
				return tzerr.New(tzerr.KindConfig, fmt.Sprintf("%s references unknown variant %q", field, name), nil, nil)
			}
			if _, dup := seen[name]; dup {
				return tzerr.New(tzerr.KindConfig, fmt.Sprintf("%s contains duplicate variant %q", field, name), nil, nil)
			}
			seen[name] = struct{}{}
		}
		return nil
	}
	if err := check(s.CandidateVariants, "candidate_variants"); err != nil {
		return err
	}
	return check(s.FallbackVariants, "fallback_variants")
}

// activeSet intersects a name list with the set of variants still eligible
// (i.e. not yet tried and failed in this request).
func activeSet(names []string, active map[string]struct{}) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := active[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Sample picks a variant name: uniform over the active candidates when any
// are active; otherwise the first active name in FallbackVariants rank
// order. Returns NoFallbackVariantsRemaining when neither list has an
// active entry (§4.E alternative — distinct from AllVariantsFailed, which
// covers the weighted sampler's default path).
func (s UniformSampler) Sample(functionName string, episodeID uuid.UUID, active map[string]struct{}) (string, error) {
	candidates := activeSet(s.CandidateVariants, active)
	if len(candidates) > 0 {
		u := UniformValue(functionName, episodeID)
		idx := int(math.Floor(u * float64(len(candidates))))
		if idx >= len(candidates) {
			idx = len(candidates) - 1
		}
		return candidates[idx], nil
	}
	for _, name := range s.FallbackVariants {
		if _, ok := active[name]; ok {
			return name, nil
		}
	}
	return "", tzerr.New(tzerr.KindNoFallbackVariants, "no candidate or fallback variant is active", nil, map[string]any{"function": functionName})
}

// DisplayProbabilities returns the probability each active variant would
// receive right now: uniform over active candidates if any are active,
// else 1.0 for the first active fallback and 0.0 for the rest (§4.L
// get_current_display_probabilities).
func (s UniformSampler) DisplayProbabilities(active map[string]struct{}) map[string]float64 {
	out := make(map[string]float64)
	candidates := activeSet(s.CandidateVariants, active)
	if len(candidates) > 0 {
		p := 1.0 / float64(len(candidates))
		for _, c := range candidates {
			out[c] = p
		}
		return out
	}
	firstFound := false
	for _, name := range s.FallbackVariants {
		if _, ok := active[name]; !ok {
			continue
		}
		if !firstFound {
			out[name] = 1.0
			firstFound = true
		} else {
			out[name] = 0.0
		}
	}
	return out
}
