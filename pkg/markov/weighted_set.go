package markov

import (
	"errors"
	"math"
	"math/rand/v2"
	"sort"
)

// ErrEmptySet is returned when sampling from a WeightedSet that holds no data.
var ErrEmptySet = errors.New("markov: sample from empty weighted set")

// Rand is the source of randomness used for sampling. *rand.Rand satisfies it;
// DefaultRand uses the concurrency-safe top-level functions of math/rand/v2.
type Rand interface {
	IntN(n int) int
	Float64() float64
	Shuffle(n int, swap func(i, j int))
}

type globalRand struct{}

func (globalRand) IntN(n int) int                     { return rand.IntN(n) }
func (globalRand) Float64() float64                   { return rand.Float64() }
func (globalRand) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

// DefaultRand is safe for concurrent use.
var DefaultRand Rand = globalRand{}

// NewSeededRand returns a deterministic source for reproducible generation.
// It must not be shared between goroutines.
func NewSeededRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// weightedEntry is a value and how many times it was added.
type weightedEntry[T comparable] struct {
	value T
	count int
}

// WeightedSet counts occurrences of values and draws from them in proportion
// to those counts. Entries keep the order in which they were first seen so that
// a seeded draw is reproducible.
type WeightedSet[T comparable] struct {
	index   map[T]int
	entries []weightedEntry[T]
	total   int
}

// NewWeightedSet returns an empty set.
func NewWeightedSet[T comparable]() *WeightedSet[T] {
	return &WeightedSet[T]{index: make(map[T]int)}
}

// Add increments the count of every item by one.
func (s *WeightedSet[T]) Add(items ...T) {
	for _, item := range items {
		s.addCount(item, 1)
	}
}

// addCount is used by imports, where counts arrive already aggregated.
func (s *WeightedSet[T]) addCount(item T, n int) {
	if n <= 0 {
		return
	}
	if i, ok := s.index[item]; ok {
		s.entries[i].count += n
	} else {
		s.index[item] = len(s.entries)
		s.entries = append(s.entries, weightedEntry[T]{value: item, count: n})
	}
	s.total += n
}

// Count returns how often v was added.
func (s *WeightedSet[T]) Count(v T) int {
	if i, ok := s.index[v]; ok {
		return s.entries[i].count
	}
	return 0
}

// Contains reports whether v was ever added.
func (s *WeightedSet[T]) Contains(v T) bool {
	_, ok := s.index[v]
	return ok
}

// Total returns the sum of all counts.
func (s *WeightedSet[T]) Total() int { return s.total }

// Len returns the number of distinct values.
func (s *WeightedSet[T]) Len() int { return len(s.entries) }

// Each calls fn for every value in insertion order.
func (s *WeightedSet[T]) Each(fn func(value T, count int)) {
	for _, e := range s.entries {
		fn(e.value, e.count)
	}
}

// Sample draws a value with probability count/total.
func (s *WeightedSet[T]) Sample(rng Rand) (T, error) {
	var zero T
	if s.total == 0 {
		return zero, ErrEmptySet
	}
	target := rng.IntN(s.total)
	cumulative := 0
	for _, e := range s.entries {
		cumulative += e.count
		if cumulative > target {
			return e.value, nil
		}
	}
	// Unreachable while total == sum(counts).
	return s.entries[len(s.entries)-1].value, nil
}

// sampleOptions mirrors the generation knobs that shape a single draw.
type sampleOptions struct {
	temperature float64
	topK        int
}

// sampleWith applies top-K filtering and temperature before drawing. With the
// defaults (temperature 1, no top-K) it is identical to Sample.
func (s *WeightedSet[T]) sampleWith(rng Rand, options sampleOptions) (T, error) {
	var zero T
	if s.total == 0 {
		return zero, ErrEmptySet
	}
	if options.temperature == 1.0 && (options.topK <= 0 || options.topK >= len(s.entries)) {
		return s.Sample(rng)
	}

	choices := s.entries
	if options.topK > 0 && options.topK < len(choices) {
		choices = make([]weightedEntry[T], len(s.entries))
		copy(choices, s.entries)
		// Stable keeps insertion order among equal counts.
		sort.SliceStable(choices, func(i, j int) bool {
			return choices[i].count > choices[j].count
		})
		choices = choices[:options.topK]
	}

	if options.temperature <= 0 { // Deterministic
		best := choices[0]
		for _, c := range choices[1:] {
			if c.count > best.count {
				best = c
			}
		}
		return best.value, nil
	}

	if options.temperature == 1.0 {
		totalFreq := 0
		for _, c := range choices {
			totalFreq += c.count
		}
		randChoice := rng.IntN(totalFreq)
		for _, c := range choices {
			randChoice -= c.count
			if randChoice < 0 {
				return c.value, nil
			}
		}
		return choices[len(choices)-1].value, nil
	}

	logProbabilities := make([]float64, len(choices))
	maxLog := math.Inf(-1)
	for i, c := range choices {
		lp := math.Log(float64(c.count)) / options.temperature
		logProbabilities[i] = lp
		if lp > maxLog {
			maxLog = lp
		}
	}
	var totalWeight float64
	weights := make([]float64, len(choices))
	for i, lp := range logProbabilities {
		w := math.Exp(lp - maxLog)
		weights[i] = w
		totalWeight += w
	}
	randChoice := rng.Float64() * totalWeight
	for i, c := range choices {
		randChoice -= weights[i]
		if randChoice < 0 {
			return c.value, nil
		}
	}
	return choices[len(choices)-1].value, nil
}
