package sched

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func TestWaitSequence(t *testing.T) {
	t.Parallel()
	s := WithClock[int](time.Second, NewManualClock())

	s.After(0, 0)
	s.After(time.Second, 1)
	s.After(2*time.Second, 2)

	for _, want := range [][]int{{0}, {1}, {2}} {
		got, err := s.Wait()
		if err != nil {
			t.Fatalf("Wait() error: %v", err)
		}
		if !slices.Equal(got, want) {
			t.Fatalf("Wait() = %v, want %v", got, want)
		}
	}

	if _, err := s.Wait(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("Wait() error = %v, want ErrEmpty", err)
	}
}

func TestWaitWithOverrun(t *testing.T) {
	t.Parallel()
	s := WithClock[int](time.Second, NewManualClock())

	s.After(0, 0)
	s.After(time.Second, 1)
	s.After(2*time.Second, 2)

	s.FastForward(2 * time.Second)

	_, err := s.Wait()
	var overrun *OverrunError[int]
	if !errors.As(err, &overrun) {
		t.Fatalf("Wait() error = %v, want OverrunError", err)
	}
	if !slices.Equal(overrun.Tokens, []int{0, 1}) {
		t.Fatalf("missed tokens = %v, want [0 1]", overrun.Tokens)
	}

	got, err := s.Wait()
	if err != nil || !slices.Equal(got, []int{2}) {
		t.Fatalf("Wait() = %v, %v, want [2]", got, err)
	}
}

func TestWaitRealTime(t *testing.T) {
	t.Parallel()
	s := New[int](100 * time.Millisecond)

	s.After(0, 0)
	s.After(100*time.Millisecond, 1)
	s.After(200*time.Millisecond, 2)

	for _, want := range [][]int{{0}, {1}, {2}} {
		got, err := s.Wait()
		if err != nil {
			t.Fatalf("Wait() error: %v", err)
		}
		if !slices.Equal(got, want) {
			t.Fatalf("Wait() = %v, want %v", got, want)
		}
	}
}

// bareSource implements only TimeSource, no Waiter and no FastForwarder.
type bareSource struct{ now time.Duration }

func (b *bareSource) Now() time.Duration { return b.now }

func TestWaitWithoutWaiterPanics(t *testing.T) {
	t.Parallel()
	s := WithClock[int](time.Second, &bareSource{})
	s.After(time.Second, 1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when the time source cannot sleep")
		}
	}()
	_, _ = s.Wait()
}

func TestFastForwardWithoutFastForwarderPanics(t *testing.T) {
	t.Parallel()
	s := WithClock[int](time.Second, &bareSource{})
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when the time source cannot fast-forward")
		}
	}()
	s.FastForward(time.Second)
}
