package backoff

import "testing"

func TestSequenceCapsAtMax(t *testing.T) {
	cfg := Config{Initial: 1, Max: 4, Multiplier: 2, Jitter: 0}
	s := NewSequence(cfg)

	got := []int64{}
	for i := 0; i < 6; i++ {
		got = append(got, int64(s.Next()))
	}

	want := []int64{1, 2, 4, 4, 4, 4}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("delay[%d] = %d, want %d (sequence %v)", i, got[i], w, got)
		}
	}
}

func TestSequenceReset(t *testing.T) {
	cfg := Config{Initial: 1, Max: 100, Multiplier: 2, Jitter: 0}
	s := NewSequence(cfg)
	s.Next()
	s.Next()
	s.Reset()
	if got := s.Next(); got != 1 {
		t.Fatalf("after Reset, Next() = %d, want 1", got)
	}
}
