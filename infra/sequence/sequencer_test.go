package sequence

import (
	"sync"
	"testing"
)

func TestSequencerUnique(t *testing.T) {
	s := New(0)

	const workers, per = 8, 1000
	seen := make(chan uint64, workers*per)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < per; j++ {
				seen <- s.Next()
			}
		}()
	}
	wg.Wait()
	close(seen)

	uniq := make(map[uint64]bool)
	for v := range seen {
		if v == 0 {
			t.Fatal("sequencer returned zero")
		}
		if uniq[v] {
			t.Fatalf("duplicate sequence %d", v)
		}
		uniq[v] = true
	}
	if s.Current() != workers*per {
		t.Errorf("Current = %d, want %d", s.Current(), workers*per)
	}
}

func TestSequencerAdvance(t *testing.T) {
	s := New(10)
	s.Advance(5)
	if s.Current() != 10 {
		t.Errorf("Advance moved backwards to %d", s.Current())
	}
	s.Advance(42)
	if got := s.Next(); got != 43 {
		t.Errorf("Next = %d, want 43", got)
	}
}
