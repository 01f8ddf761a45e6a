package sharedstate

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func expectNone(t *testing.T, ch <-chan Change) {
	t.Helper()
	select {
	case c := <-ch:
		t.Fatalf("unexpected change %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemory_ReadWrite(t *testing.T) {
	store := NewMemory()
	a, b := store.View(), store.View()
	defer a.Close()
	defer b.Close()

	if _, ok, _ := a.Read("timeLeft"); ok {
		t.Fatal("expected missing key")
	}
	if err := a.Write("timeLeft", "42"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	v, ok, err := b.Read("timeLeft")
	if err != nil || !ok || v != "42" {
		t.Fatalf("Read = %q %v %v", v, ok, err)
	}
}

func TestMemory_ChangesSkipWriter(t *testing.T) {
	store := NewMemory()
	a, b := store.View(), store.View()
	defer a.Close()
	defer b.Close()

	fromA := make(chan Change, 4)
	fromB := make(chan Change, 4)
	a.Subscribe(func(c Change) { fromA <- c })
	b.Subscribe(func(c Change) { fromB <- c })

	a.Write("k", "1")
	if c := recv(t, fromB); c.Key != "k" || c.Value != "1" {
		t.Fatalf("change = %+v", c)
	}
	expectNone(t, fromA)

	b.Delete("k")
	if c := recv(t, fromA); !c.Deleted || c.Key != "k" {
		t.Fatalf("change = %+v", c)
	}
}

func TestMemory_OrderedDeliveryAndUnsubscribe(t *testing.T) {
	store := NewMemory()
	a, b := store.View(), store.View()
	defer a.Close()
	defer b.Close()

	got := make(chan Change, 16)
	unsub := b.Subscribe(func(c Change) { got <- c })
	for _, v := range []string{"1", "2", "3"} {
		a.Write("seq", v)
	}
	for _, want := range []string{"1", "2", "3"} {
		if c := recv(t, got); c.Value != want {
			t.Fatalf("value = %s, want %s", c.Value, want)
		}
	}

	unsub()
	a.Write("seq", "4")
	expectNone(t, got)
}

func TestMemory_ClosedView(t *testing.T) {
	store := NewMemory()
	a := store.View()
	a.Close()
	if err := a.Write("k", "v"); err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
