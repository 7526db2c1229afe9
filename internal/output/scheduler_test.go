package output

import (
	"testing"
	"time"
)

var schedStart = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func TestSchedulerDueAfterFrequency(t *testing.T) {
	s := NewScheduler(6*time.Hour, schedStart)

	if s.Check(schedStart.Add(3 * time.Hour)) {
		t.Error("due before the frequency elapsed")
	}
	if s.State() != StateAccumulating {
		t.Errorf("state = %v, want accumulating", s.State())
	}
	if !s.Check(schedStart.Add(6 * time.Hour)) {
		t.Error("not due exactly at the frequency")
	}
	if s.State() != StateDue {
		t.Errorf("state = %v, want due", s.State())
	}
}

func TestSchedulerSuccessfulWriteAdvances(t *testing.T) {
	s := NewScheduler(6*time.Hour, schedStart)
	now := schedStart.Add(6 * time.Hour)

	if !s.Check(now) {
		t.Fatal("expected due")
	}
	if err := s.BeginWrite(); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateWriting {
		t.Errorf("state = %v, want writing", s.State())
	}
	s.Complete(now)

	if !s.LastWrite().Equal(now) {
		t.Errorf("LastWrite = %v, want %v", s.LastWrite(), now)
	}
	if s.Check(now.Add(3 * time.Hour)) {
		t.Error("due again before the next frequency elapsed")
	}
	if !s.Check(now.Add(6 * time.Hour)) {
		t.Error("not due at the next cycle")
	}
}

func TestSchedulerFailedWriteRetries(t *testing.T) {
	s := NewScheduler(6*time.Hour, schedStart)
	now := schedStart.Add(6 * time.Hour)

	if !s.Check(now) {
		t.Fatal("expected due")
	}
	if err := s.BeginWrite(); err != nil {
		t.Fatal(err)
	}
	s.Abort()

	if !s.LastWrite().Equal(schedStart) {
		t.Errorf("LastWrite advanced to %v after a failed write", s.LastWrite())
	}
	// the same window is immediately due again
	if !s.Check(now.Add(time.Hour)) {
		t.Error("failed write not retried at the next check")
	}
}

func TestSchedulerForceDue(t *testing.T) {
	s := NewScheduler(24*time.Hour, schedStart)

	if s.Check(schedStart.Add(time.Hour)) {
		t.Fatal("unexpectedly due")
	}
	s.ForceDue()
	if s.State() != StateDue {
		t.Errorf("state = %v, want due after ForceDue", s.State())
	}
	if err := s.BeginWrite(); err != nil {
		t.Fatal(err)
	}
}

func TestSchedulerBeginWriteRequiresDue(t *testing.T) {
	s := NewScheduler(6*time.Hour, schedStart)
	if err := s.BeginWrite(); err == nil {
		t.Error("BeginWrite succeeded while accumulating")
	}

	s.ForceDue()
	if err := s.BeginWrite(); err != nil {
		t.Fatal(err)
	}
	if err := s.BeginWrite(); err == nil {
		t.Error("BeginWrite succeeded while already writing")
	}
}

func TestSchedulerStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateAccumulating, "accumulating"},
		{StateDue, "due"},
		{StateWriting, "writing"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
