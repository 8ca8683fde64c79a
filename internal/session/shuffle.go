package session

import (
	"math/rand/v2"
	"sort"

	"github.com/stemsi/exstem-evaluation/internal/model"
)

// ShuffleOptions returns a copy of q with its options permuted by a
// Fisher–Yates shuffle drawn from rng, and CorrectOptionIndices remapped to
// the new positions. q itself is not modified.
func ShuffleOptions(q model.Question, rng *rand.Rand) model.Question {
	n := len(q.Options)

	// perm[newPos] = oldPos
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}

	options := make([]string, n)
	newPosOf := make([]int, n)
	for newPos, oldPos := range perm {
		options[newPos] = q.Options[oldPos]
		newPosOf[oldPos] = newPos
	}

	correct := make([]int, 0, len(q.CorrectOptionIndices))
	for _, oldPos := range q.CorrectOptionIndices {
		correct = append(correct, newPosOf[oldPos])
	}
	sort.Ints(correct)

	out := q
	out.Options = options
	out.CorrectOptionIndices = correct
	return out
}

// newRand seeds a PCG source from the global generator.
func newRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}
