package markov

import (
	"errors"
	"math"
	"testing"
)

func TestWeightedSetCounts(t *testing.T) {
	s := NewWeightedSet[string]()
	s.Add("a", "b", "a")
	s.Add("c")

	if s.Total() != 4 {
		t.Errorf("Total() = %d, want 4", s.Total())
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
	if s.Count("a") != 2 || s.Count("b") != 1 || s.Count("missing") != 0 {
		t.Errorf("unexpected counts: a=%d b=%d missing=%d", s.Count("a"), s.Count("b"), s.Count("missing"))
	}
	if !s.Contains("c") || s.Contains("d") {
		t.Error("Contains() reported wrong membership")
	}

	var order []string
	s.Each(func(v string, _ int) { order = append(order, v) })
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("Each() visited %v, want insertion order [a b c]", order)
	}
}

func TestWeightedSetSampleEmpty(t *testing.T) {
	s := NewWeightedSet[int]()
	if _, err := s.Sample(NewSeededRand(1)); !errors.Is(err, ErrEmptySet) {
		t.Errorf("Sample() on empty set: expected ErrEmptySet, got %v", err)
	}
	if _, err := s.sampleWith(NewSeededRand(1), sampleOptions{temperature: 0.5}); !errors.Is(err, ErrEmptySet) {
		t.Errorf("sampleWith() on empty set: expected ErrEmptySet, got %v", err)
	}
}

func TestWeightedSetSampleConverges(t *testing.T) {
	s := NewWeightedSet[string]()
	s.Add("a", "a", "a", "b")

	const draws = 20000
	rng := NewSeededRand(7)
	hits := make(map[string]int)
	for i := 0; i < draws; i++ {
		v, err := s.Sample(rng)
		if err != nil {
			t.Fatalf("Sample() failed: %v", err)
		}
		hits[v]++
	}

	got := float64(hits["a"]) / draws
	if math.Abs(got-0.75) > 0.02 {
		t.Errorf("frequency of 'a' = %.3f, want about 0.75", got)
	}
	if hits["a"]+hits["b"] != draws {
		t.Errorf("sampled values outside the set: %v", hits)
	}
}

func TestWeightedSetSampleDeterministic(t *testing.T) {
	s := NewWeightedSet[int]()
	for i := 0; i < 50; i++ {
		s.Add(i % 7)
	}

	r1, r2 := NewSeededRand(42), NewSeededRand(42)
	for i := 0; i < 100; i++ {
		v1, _ := s.Sample(r1)
		v2, _ := s.Sample(r2)
		if v1 != v2 {
			t.Fatalf("draw %d differs with identical seeds: %d != %d", i, v1, v2)
		}
	}
}

func TestWeightedSetSampleWith(t *testing.T) {
	s := NewWeightedSet[string]()
	s.Add("rare", "common", "common", "common", "mid", "mid")
	rng := NewSeededRand(3)

	for i := 0; i < 20; i++ {
		v, err := s.sampleWith(rng, sampleOptions{temperature: 0})
		if err != nil {
			t.Fatalf("sampleWith() failed: %v", err)
		}
		if v != "common" {
			t.Fatalf("temperature 0 picked %q, want the most frequent value", v)
		}
	}

	for i := 0; i < 200; i++ {
		v, _ := s.sampleWith(rng, sampleOptions{temperature: 1, topK: 2})
		if v == "rare" {
			t.Fatal("top-K 2 picked a value outside the two most frequent")
		}
	}

	for i := 0; i < 200; i++ {
		v, _ := s.sampleWith(rng, sampleOptions{temperature: 0.5, topK: 1})
		if v != "common" {
			t.Fatalf("top-K 1 picked %q", v)
		}
	}
}
