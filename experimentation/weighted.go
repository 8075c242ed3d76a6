package experimentation

import (
	"math"

	"github.com/google/uuid"

	"github.com/tzgateway/gateway/tzerr"
)

// Candidate is one sampling candidate: a name and its non-negative weight.
type Candidate struct {
	Name   string
	Weight float64
}

// SampleWeighted picks one of candidates deterministically for
// (functionName, episodeID) (§4.E step 3):
//   - if the active set is empty, returns an error.
//   - if the sum of weights is <= 0, sampling degrades to uniform over names
//     at index floor(u * n) (§3 invariant).
//   - otherwise picks the first candidate whose cumulative weight strictly
//     exceeds u * sum(weights); numeric edge cases fall back to the last
//     candidate (§9 open question: the fallback branch is intentional).
func SampleWeighted(functionName string, episodeID uuid.UUID, candidates []Candidate) (string, error) {
	if len(candidates) == 0 {
		return "", tzerr.New(tzerr.KindAllVariantsFailed, "no active variants to sample from", nil, map[string]any{"function": functionName})
	}
	u := UniformValue(functionName, episodeID)

	var total float64
	for _, c := range candidates {
		total += c.Weight
	}
	if total <= 0 {
		idx := int(math.Floor(u * float64(len(candidates))))
		if idx >= len(candidates) {
			idx = len(candidates) - 1
		}
		return candidates[idx].Name, nil
	}

	target := u * total
	var cumulative float64
	for _, c := range candidates {
		cumulative += c.Weight
		if cumulative > target {
			return c.Name, nil
		}
	}
	return candidates[len(candidates)-1].Name, nil
}
