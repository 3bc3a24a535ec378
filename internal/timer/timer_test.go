package timer

import (
	"testing"
	"time"
)

func TestSetFiresAfterDue(t *testing.T) {
	s := New()
	now := time.Now()
	var fired bool
	s.Set(now, 10*time.Millisecond, 0, false, func(id ID) { fired = true })

	if n := s.FireDue(now); n != 0 {
		t.Fatalf("FireDue(now) fired %d timers, want 0", n)
	}
	if fired {
		t.Fatalf("timer fired before its due time")
	}

	if n := s.FireDue(now.Add(10 * time.Millisecond)); n != 1 {
		t.Fatalf("FireDue(due) fired %d timers, want 1", n)
	}
	if !fired {
		t.Fatalf("timer callback never ran")
	}
}

func TestZeroDelayClampedToOneMillisecond(t *testing.T) {
	s := New()
	now := time.Now()
	s.Set(now, 0, 0, false, func(ID) {})
	due, ok := s.NextDue()
	if !ok {
		t.Fatalf("no timer scheduled")
	}
	if due.Before(now.Add(minZeroDelay)) {
		t.Fatalf("zero-delay timer due at %v, want >= %v", due, now.Add(minZeroDelay))
	}
}

func TestNegativeDelayClampedSameAsZero(t *testing.T) {
	s := New()
	now := time.Now()
	s.Set(now, -5*time.Second, 0, false, func(ID) {})
	due, _ := s.NextDue()
	if due.Before(now.Add(minZeroDelay)) {
		t.Fatalf("negative-delay timer due at %v, want >= %v", due, now.Add(minZeroDelay))
	}
}

func TestOversizedDelayClampsToImmediate(t *testing.T) {
	s := New()
	now := time.Now()
	s.Set(now, maxDelay+time.Hour, 0, false, func(ID) {})
	due, _ := s.NextDue()
	if due.After(now.Add(minZeroDelay)) {
		t.Fatalf("oversized delay due at %v, want ~%v (browser overflow quirk)", due, now.Add(minZeroDelay))
	}
}

func TestFireDueOrdersSameDueTimeFIFO(t *testing.T) {
	s := New()
	now := time.Now()
	due := now.Add(10 * time.Millisecond)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		s.mu.Lock()
		s.nextID++
		id := s.nextID
		ent := &entry{id: id, due: due, cb: func(ID) { order = append(order, i) }, refed: true}
		s.byID[id] = ent
		s.refed++
		s.insertLocked(ent)
		s.mu.Unlock()
	}

	s.FireDue(due)
	for i, v := range order {
		if v != i {
			t.Fatalf("fire order = %v, want 0..4 in order", order)
		}
	}
}

func TestClearPreventsFiring(t *testing.T) {
	s := New()
	now := time.Now()
	fired := false
	id := s.Set(now, 5*time.Millisecond, 0, false, func(ID) { fired = true })
	s.Clear(id)

	if n := s.FireDue(now.Add(time.Second)); n != 0 {
		t.Fatalf("FireDue fired %d timers after Clear, want 0", n)
	}
	if fired {
		t.Fatalf("cleared timer still fired")
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d after Clear, want 0", s.Len())
	}
}

func TestClearUnknownIDIsNoop(t *testing.T) {
	s := New()
	s.Clear(999) // must not panic
}

func TestIntervalReschedulesItself(t *testing.T) {
	s := New()
	now := time.Now()
	count := 0
	id := s.Set(now, 10*time.Millisecond, 10*time.Millisecond, true, func(ID) { count++ })

	t1 := now.Add(10 * time.Millisecond)
	if n := s.FireDue(t1); n != 1 || count != 1 {
		t.Fatalf("first fire: n=%d count=%d, want 1,1", n, count)
	}

	t2 := t1.Add(10 * time.Millisecond)
	if n := s.FireDue(t2); n != 1 || count != 2 {
		t.Fatalf("second fire: n=%d count=%d, want 1,2", n, count)
	}

	s.Clear(id)
	t3 := t2.Add(10 * time.Millisecond)
	if n := s.FireDue(t3); n != 0 || count != 2 {
		t.Fatalf("after Clear: n=%d count=%d, want 0,2", n, count)
	}
}

func TestZeroPeriodIntervalKeepsRepeating(t *testing.T) {
	s := New()
	now := time.Now()
	count := 0
	s.Set(now, 0, 0, true, func(ID) { count++ })

	t1 := now.Add(minZeroDelay)
	if n := s.FireDue(t1); n != 1 || count != 1 {
		t.Fatalf("first fire: n=%d count=%d, want 1,1", n, count)
	}

	t2 := t1.Add(minZeroDelay)
	if n := s.FireDue(t2); n != 1 || count != 2 {
		t.Fatalf("second fire: n=%d count=%d, want 1,2 (setInterval(fn, 0) must keep repeating)", n, count)
	}

	t3 := t2.Add(minZeroDelay)
	if n := s.FireDue(t3); n != 1 || count != 3 {
		t.Fatalf("third fire: n=%d count=%d, want 1,3", n, count)
	}
}

func TestIntervalCanClearItselfFromCallback(t *testing.T) {
	s := New()
	now := time.Now()
	count := 0
	var id ID
	id = s.Set(now, 10*time.Millisecond, 10*time.Millisecond, true, func(firedID ID) {
		count++
		if count == 2 {
			s.Clear(id)
		}
	})

	t1 := now.Add(10 * time.Millisecond)
	s.FireDue(t1)
	t2 := t1.Add(10 * time.Millisecond)
	s.FireDue(t2) // count becomes 2, clears itself

	t3 := t2.Add(10 * time.Millisecond)
	s.FireDue(t3)
	if count != 2 {
		t.Fatalf("count = %d, want 2 (timer should have canceled itself)", count)
	}
}

func TestRefUnrefTracksKeepAlive(t *testing.T) {
	s := New()
	now := time.Now()
	id := s.Set(now, time.Second, 0, false, func(ID) {})

	if !s.HasRef() {
		t.Fatalf("new timer should be refed by default")
	}
	s.Unref(id)
	if s.HasRef() {
		t.Fatalf("HasRef true after Unref on only timer")
	}
	s.Ref(id)
	if !s.HasRef() {
		t.Fatalf("HasRef false after Ref")
	}
}

func TestNextDueReflectsEarliestTimer(t *testing.T) {
	s := New()
	now := time.Now()
	s.Set(now, 50*time.Millisecond, 0, false, func(ID) {})
	s.Set(now, 5*time.Millisecond, 0, false, func(ID) {})

	due, ok := s.NextDue()
	if !ok {
		t.Fatalf("NextDue reported no timers")
	}
	if !due.Equal(now.Add(5 * time.Millisecond)) {
		t.Fatalf("NextDue = %v, want %v", due, now.Add(5*time.Millisecond))
	}
}
