package hsm

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

const (
	sigWork Signal = SigUser + iota
	sigPing
	sigOther
	sigTick
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type traceMachine struct {
	m     *Machine
	trace []string

	top *State
	a   *State
	a1  *State
	b   *State
}

func newTraceMachine(t *testing.T) *traceMachine {
	t.Helper()
	tm := &traceMachine{m: New("trace", testLogger())}

	record := func(name string, e Event) {
		switch e.Sig {
		case SigEntry:
			tm.trace = append(tm.trace, "enter:"+name)
		case SigExit:
			tm.trace = append(tm.trace, "exit:"+name)
		}
	}

	tm.top = NewState("top", nil, func(e Event) Outcome {
		record("top", e)

		return Handled()
	})
	tm.a = NewState("a", tm.top, func(e Event) Outcome {
		record("a", e)
		if e.Sig == sigWork {
			return Tran(tm.b)
		}

		return Super()
	})
	tm.a1 = NewState("a1", tm.a, func(e Event) Outcome {
		record("a1", e)
		if e.Sig == sigOther {
			return Handled()
		}

		return Super()
	})
	tm.b = NewState("b", tm.top, func(e Event) Outcome {
		record("b", e)

		return Super()
	})

	return tm
}

func assertTrace(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("trace length mismatch: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("trace[%d] = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestInitEntersAncestorsFirst(t *testing.T) {
	tm := newTraceMachine(t)
	tm.m.Init(tm.a1)

	assertTrace(t, tm.trace, []string{"enter:top", "enter:a", "enter:a1"})
	if tm.m.Current() != tm.a1 {
		t.Fatalf("current = %s, want a1", tm.m.Current().Name())
	}
}

func TestEventBubblesToParentAndTransitions(t *testing.T) {
	tm := newTraceMachine(t)
	tm.m.Init(tm.a1)
	tm.trace = nil

	tm.m.Post(Event{Sig: sigWork})
	if !tm.m.Step() {
		t.Fatal("expected an event to be processed")
	}

	// a1 sees the event, defers; a handles it with a transition to b.
	assertTrace(t, tm.trace, []string{"exit:a1", "exit:a", "enter:b"})
	if tm.m.Current() != tm.b {
		t.Fatalf("current = %s, want b", tm.m.Current().Name())
	}
}

func TestHandledEventDoesNotTransition(t *testing.T) {
	tm := newTraceMachine(t)
	tm.m.Init(tm.a1)
	tm.trace = nil

	tm.m.Post(Event{Sig: sigOther})
	tm.m.Step()

	if tm.m.Current() != tm.a1 {
		t.Fatalf("current = %s, want a1", tm.m.Current().Name())
	}
	for _, step := range tm.trace {
		if step == "exit:a1" {
			t.Fatalf("unexpected exit in trace %v", tm.trace)
		}
	}
}

func TestInitDrillsDownToLeaf(t *testing.T) {
	var entered []string
	var top, mid, leaf *State
	m := New("drill", testLogger())

	top = NewState("top", nil, func(e Event) Outcome {
		if e.Sig == SigEntry {
			entered = append(entered, "top")
		}
		if e.Sig == SigInit {
			return Tran(mid)
		}

		return Handled()
	})
	mid = NewState("mid", top, func(e Event) Outcome {
		if e.Sig == SigEntry {
			entered = append(entered, "mid")
		}
		if e.Sig == SigInit {
			return Tran(leaf)
		}

		return Super()
	})
	leaf = NewState("leaf", mid, func(e Event) Outcome {
		if e.Sig == SigEntry {
			entered = append(entered, "leaf")
		}

		return Super()
	})

	m.Init(top)

	assertTrace(t, entered, []string{"top", "mid", "leaf"})
	if m.Current() != leaf {
		t.Fatalf("current = %s, want leaf", m.Current().Name())
	}
}

func TestSelfPostedEventsQueueBehindPending(t *testing.T) {
	var order []Signal
	m := New("fifo", testLogger())
	passes := 0

	root := NewState("root", nil, func(e Event) Outcome {
		switch e.Sig {
		case sigWork:
			order = append(order, sigWork)
			passes++
			if passes < 2 {
				m.Post(Event{Sig: sigWork})
			}

			return Handled()
		case sigPing:
			order = append(order, sigPing)

			return Handled()
		}

		return Handled()
	})
	m.Init(root)

	m.Post(Event{Sig: sigWork})
	m.Post(Event{Sig: sigPing})
	for m.Step() {
	}

	want := []Signal{sigWork, sigPing, sigWork}
	if len(order) != len(want) {
		t.Fatalf("processed %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("processed %v, want %v", order, want)
		}
	}
}

func TestHaltDiscardsQueueAndStopsIntake(t *testing.T) {
	m := New("halt", testLogger())
	root := NewState("root", nil, func(e Event) Outcome { return Handled() })
	m.Init(root)

	m.Post(Event{Sig: sigWork})
	m.Halt()
	m.Post(Event{Sig: sigPing})

	if m.Step() {
		t.Fatal("expected empty queue after halt")
	}
	if !m.Halted() {
		t.Fatal("expected machine to be halted")
	}
}

func TestTimeEventFiresOnce(t *testing.T) {
	var got []Signal
	m := New("timer", testLogger())
	root := NewState("root", nil, func(e Event) Outcome {
		if e.Sig == sigTick {
			got = append(got, e.Sig)
		}

		return Handled()
	})
	m.Init(root)

	te := NewTimeEvent(m, sigTick)
	te.Arm(5 * time.Millisecond)

	deadline := time.Now().Add(500 * time.Millisecond)
	for len(got) == 0 && time.Now().Before(deadline) {
		if !m.Step() {
			time.Sleep(time.Millisecond)
		}
	}
	if len(got) != 1 {
		t.Fatalf("expected one tick, got %d", len(got))
	}

	time.Sleep(20 * time.Millisecond)
	if m.Step() {
		t.Fatal("expected no further tick")
	}
}

func TestTimeEventDisarmCancelsPending(t *testing.T) {
	m := New("timer", testLogger())
	fired := false
	root := NewState("root", nil, func(e Event) Outcome {
		if e.Sig == sigTick {
			fired = true
		}

		return Handled()
	})
	m.Init(root)

	te := NewTimeEvent(m, sigTick)
	te.Arm(5 * time.Millisecond)
	te.Disarm()

	time.Sleep(30 * time.Millisecond)
	for m.Step() {
	}
	if fired {
		t.Fatal("disarmed time event still fired")
	}
}
