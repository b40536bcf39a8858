package schedule

import (
	"testing"
	"time"
)

func collect() (EmitFunc, chan Action) {
	fired := make(chan Action, 10)
	return func(a Action) { fired <- a }, fired
}

func TestScheduleFires(t *testing.T) {
	emit, fired := collect()
	s := New(emit)

	id, ok := s.Schedule(42, "vip-reminder", 10*time.Millisecond)
	if !ok || id == "" {
		t.Fatalf("Schedule() = %q, %v", id, ok)
	}

	select {
	case a := <-fired:
		if a.ChatID != 42 || a.Kind != "vip-reminder" || a.ID != id {
			t.Errorf("fired %+v", a)
		}
	case <-time.After(time.Second):
		t.Fatal("action never fired")
	}

	if s.Outstanding(42, "vip-reminder") {
		t.Error("fired action still outstanding")
	}
}

func TestScheduleDedupes(t *testing.T) {
	emit, fired := collect()
	s := New(emit)

	if _, ok := s.Schedule(42, "nudge", 10*time.Millisecond); !ok {
		t.Fatal("first Schedule was a no-op")
	}
	if _, ok := s.Schedule(42, "nudge", 10*time.Millisecond); ok {
		t.Error("duplicate Schedule was not suppressed")
	}

	<-fired
	select {
	case a := <-fired:
		t.Errorf("duplicate firing: %+v", a)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDifferentKindsIndependent(t *testing.T) {
	emit, fired := collect()
	s := New(emit)

	s.Schedule(42, "nudge", 5*time.Millisecond)
	if _, ok := s.Schedule(42, "reminder", 5*time.Millisecond); !ok {
		t.Error("different kind was deduped")
	}
	if _, ok := s.Schedule(43, "nudge", 5*time.Millisecond); !ok {
		t.Error("different chat was deduped")
	}

	for i := 0; i < 3; i++ {
		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatalf("only %d of 3 actions fired", i)
		}
	}
}

func TestCancelSuppressesFire(t *testing.T) {
	emit, fired := collect()
	s := New(emit)

	s.Schedule(42, "nudge", 10*time.Millisecond)
	s.Cancel(42, "nudge")

	if s.Outstanding(42, "nudge") {
		t.Error("cancelled action still outstanding")
	}
	select {
	case a := <-fired:
		t.Errorf("cancelled action fired: %+v", a)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReArmAfterFire(t *testing.T) {
	emit, fired := collect()
	s := New(emit)

	s.Schedule(42, "nudge", 5*time.Millisecond)
	<-fired

	if _, ok := s.Schedule(42, "nudge", 5*time.Millisecond); !ok {
		t.Error("could not re-arm after firing")
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("re-armed action never fired")
	}
}

func TestCancelThenReArm(t *testing.T) {
	emit, fired := collect()
	s := New(emit)

	s.Schedule(42, "nudge", 10*time.Millisecond)
	s.Cancel(42, "nudge")
	s.Schedule(42, "nudge", 10*time.Millisecond)

	// only the second registration may fire, exactly once
	count := 0
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case <-fired:
			count++
		case <-deadline:
			if count != 1 {
				t.Errorf("fired %d times, want 1", count)
			}
			return
		}
	}
}
