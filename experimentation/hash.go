// Package experimentation implements the two variant samplers (§4.E, §4.L):
// the default deterministic weighted-hash sampler and the uniform sampler
// with ranked candidate/fallback lists. Both are hash-stable per (function,
// episode) per §5's ordering guarantees.
package experimentation

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/google/uuid"
)

// UniformValue computes the deterministic value in [0,1) a (function,
// episode) pair maps to: the first 32 bits of SHA-256(function_name ||
// episode_id_bytes) divided by 2^32 (§4.E step 3, §8 "hash range" property).
func UniformValue(functionName string, episodeID uuid.UUID) float64 {
	h := sha256.New()
	h.Write([]byte(functionName))
	h.Write(episodeID[:])
	sum := h.Sum(nil)
	first32 := binary.BigEndian.Uint32(sum[:4])
	return float64(first32) / float64(uint64(1)<<32)
}
