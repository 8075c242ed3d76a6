package experimentation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

// TestUniformValueRangeProperty verifies Property: Hash range.
// get_uniform_value(f, e) in [0, 1) for all inputs (spec §8).
func TestUniformValueRangeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("uniform value stays in [0,1)", prop.ForAll(
		func(fn string) bool {
			id, err := uuid.NewV7()
			if err != nil {
				return false
			}
			u := UniformValue(fn, id)
			return u >= 0 && u < 1
		},
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

func TestSampleWeightedDeterministic(t *testing.T) {
	id, err := uuid.NewV7()
	require.NoError(t, err)

	candidates := []Candidate{{Name: "a", Weight: 1}, {Name: "b", Weight: 2}, {Name: "c", Weight: 1}}

	first, err := SampleWeighted("basic_test", id, candidates)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		got, err := SampleWeighted("basic_test", id, candidates)
		require.NoError(t, err)
		require.Equal(t, first, got)
	}
}

func TestSampleWeightedUniformConvergence(t *testing.T) {
	candidates := []Candidate{{Name: "a", Weight: 0}, {Name: "b", Weight: 0}, {Name: "c", Weight: 0}}
	counts := map[string]int{}
	const n = 20000
	for i := 0; i < n; i++ {
		id := uuid.Must(uuid.NewV7())
		name, err := SampleWeighted("basic_test", id, candidates)
		require.NoError(t, err)
		counts[name]++
	}
	for _, c := range counts {
		frac := float64(c) / float64(n)
		require.InDelta(t, 1.0/3.0, frac, 0.05)
	}
}

func TestSampleWeightedConvergence(t *testing.T) {
	candidates := []Candidate{{Name: "a", Weight: 1}, {Name: "b", Weight: 3}}
	counts := map[string]int{}
	const n = 20000
	for i := 0; i < n; i++ {
		id := uuid.Must(uuid.NewV7())
		name, err := SampleWeighted("basic_test", id, candidates)
		require.NoError(t, err)
		counts[name]++
	}
	require.InDelta(t, 0.25, float64(counts["a"])/float64(n), 0.04)
	require.InDelta(t, 0.75, float64(counts["b"])/float64(n), 0.04)
}

func TestSampleWeightedEmptySet(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	_, err := SampleWeighted("basic_test", id, nil)
	require.Error(t, err)
}

func TestUniformSamplerFallback(t *testing.T) {
	s := UniformSampler{
		CandidateVariants: []string{"a", "b"},
		FallbackVariants:  []string{"c", "d"},
	}
	id := uuid.Must(uuid.NewV7())

	// Both candidates failed; only fallback "d" remains active.
	active := map[string]struct{}{"c": {}, "d": {}}
	delete(active, "c")
	name, err := s.Sample("fn", id, active)
	require.NoError(t, err)
	require.Equal(t, "d", name)
}

func TestUniformSamplerNoFallbackRemaining(t *testing.T) {
	s := UniformSampler{CandidateVariants: []string{"a"}, FallbackVariants: []string{"b"}}
	id := uuid.Must(uuid.NewV7())
	_, err := s.Sample("fn", id, map[string]struct{}{})
	require.Error(t, err)
}

func TestUniformSamplerValidateRejectsDuplicates(t *testing.T) {
	s := UniformSampler{CandidateVariants: []string{"a", "a"}}
	err := s.Validate(map[string]struct{}{"a": {}})
	require.Error(t, err)
}

func TestUniformSamplerValidateRejectsUnknown(t *testing.T) {
	s := UniformSampler{CandidateVariants: []string{"z"}}
	err := s.Validate(map[string]struct{}{"a": {}})
	require.Error(t, err)
}
