package session

import (
	"math/rand/v2"
	"reflect"
	"testing"

	"github.com/stemsi/exstem-evaluation/internal/model"
)

func TestShuffleOptionsKeepsCorrectTexts(t *testing.T) {
	shapes := []struct {
		name     string
		options  []string
		correct  []int
		multiple bool
	}{
		{"two options single", []string{"yes", "no"}, []int{1}, false},
		{"four options single", []string{"a", "b", "c", "d"}, []int{2}, false},
		{"five options two correct", []string{"a", "b", "c", "d", "e"}, []int{0, 3}, true},
		{"six options all correct", []string{"a", "b", "c", "d", "e", "f"}, []int{0, 1, 2, 3, 4, 5}, true},
	}

	rng := rand.New(rand.NewPCG(1, 2))

	for _, shape := range shapes {
		t.Run(shape.name, func(t *testing.T) {
			q := newQuestion("c", shape.options, shape.correct, shape.multiple)
			want := correctTexts(q)

			for trial := 0; trial < 100; trial++ {
				got := ShuffleOptions(q, rng)

				if len(got.Options) != len(q.Options) {
					t.Fatalf("trial %d: option count changed to %d", trial, len(got.Options))
				}
				if !reflect.DeepEqual(correctTexts(got), want) {
					t.Fatalf("trial %d: correct texts %v, want %v", trial, correctTexts(got), want)
				}
				if err := got.Validate(); err != nil {
					t.Fatalf("trial %d: shuffled question invalid: %v", trial, err)
				}
			}
		})
	}
}

func TestShuffleOptionsDoesNotMutateInput(t *testing.T) {
	q := newQuestion("c", []string{"a", "b", "c", "d"}, []int{3}, false)
	before := append([]string(nil), q.Options...)

	_ = ShuffleOptions(q, rand.New(rand.NewPCG(7, 7)))

	if !reflect.DeepEqual(q.Options, before) {
		t.Errorf("input options mutated: %v", q.Options)
	}
	if q.CorrectOptionIndices[0] != 3 {
		t.Errorf("input key mutated: %v", q.CorrectOptionIndices)
	}
}

func TestShuffleOptionsDeterministicForSeed(t *testing.T) {
	q := newQuestion("c", []string{"a", "b", "c", "d", "e", "f", "g"}, []int{4}, false)

	a := ShuffleOptions(q, rand.New(rand.NewPCG(42, 99)))
	b := ShuffleOptions(q, rand.New(rand.NewPCG(42, 99)))

	if !reflect.DeepEqual(a.Options, b.Options) {
		t.Errorf("same seed gave %v and %v", a.Options, b.Options)
	}
}

func TestShuffleOptionsReachesEveryPermutation(t *testing.T) {
	q := newQuestion("c", []string{"a", "b", "c"}, []int{0}, false)
	rng := rand.New(rand.NewPCG(3, 4))

	seen := make(map[string]int)
	for i := 0; i < 3000; i++ {
		got := ShuffleOptions(q, rng)
		seen[got.Options[0]+got.Options[1]+got.Options[2]]++
	}

	if len(seen) != 6 {
		t.Fatalf("saw %d permutations, want 6: %v", len(seen), seen)
	}
	for perm, n := range seen {
		if n < 350 || n > 650 {
			t.Errorf("permutation %s drawn %d times out of 3000", perm, n)
		}
	}
}

func correctTexts(q model.Question) map[string]bool {
	out := make(map[string]bool, len(q.CorrectOptionIndices))
	for _, idx := range q.CorrectOptionIndices {
		out[q.Options[idx]] = true
	}
	return out
}
