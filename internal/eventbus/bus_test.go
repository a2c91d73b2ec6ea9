package eventbus

import (
	"slices"
	"testing"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	b := New()

	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Firing{Tokens: []string{"a", "b"}, Overrun: true})

	got := <-ch
	if !got.Overrun || !slices.Equal(got.Tokens, []string{"a", "b"}) {
		t.Fatalf("event = %+v, want overrun [a b]", got)
	}
	if got.Time.IsZero() {
		t.Fatal("Publish did not stamp a time")
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()

	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Firing{Tokens: []string{"first"}})
	b.Publish(Firing{Tokens: []string{"second"}}) // dropped, buffer full

	got := <-ch
	if !slices.Equal(got.Tokens, []string{"first"}) {
		t.Fatalf("event = %+v, want [first]", got)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected second event: %+v", e)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()

	ch, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(Firing{Tokens: []string{"x"}})
}
