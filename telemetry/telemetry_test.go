package telemetry_test

import (
	"math"
	"testing"
	"time"

	"github.com/ejshaman54/electromagnet-control-program/telemetry"
)

func TestAssembleComputesElapsedFromFirstCall(t *testing.T) {
	p := telemetry.NewPublisher()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s0 := p.Assemble(t0, 0, 0, 0, 0, 0, 0, 0, 0, telemetry.Flags{})
	if s0.ElapsedS != 0 {
		t.Errorf("expected elapsed=0 on first sample, got %v", s0.ElapsedS)
	}

	t1 := t0.Add(500 * time.Millisecond)
	s1 := p.Assemble(t1, 0, 0, 0, 0, 0, 0, 0, 0, telemetry.Flags{})
	if math.Abs(s1.ElapsedS-0.5) > 1e-9 {
		t.Errorf("expected elapsed=0.5, got %v", s1.ElapsedS)
	}
}

func TestAssemblePropagatesAllScalarsAndFlags(t *testing.T) {
	p := telemetry.NewPublisher()
	now := time.Now()
	flags := telemetry.Flags{Enabled: true, Saturated: true, Fault: false}
	s := p.Assemble(now, 1.1, 2.2, 3.3, 4.4, 5.5, 6.6, 7.7, 8.8, flags)

	switch {
	case s.VHall != 1.1, s.BMeas != 2.2, s.BSet != 3.3, s.VCmd != 4.4,
		s.Err != 5.5, s.PV != 6.6, s.IV != 7.7, s.DV != 8.8:
		t.Fatalf("scalar mismatch in assembled sample: %+v", s)
	}
	if s.Flags != flags {
		t.Errorf("expected flags %+v, got %+v", flags, s.Flags)
	}
}

func TestStartSessionResetsElapsedBaseline(t *testing.T) {
	p := telemetry.NewPublisher()
	t0 := time.Now()
	p.Assemble(t0, 0, 0, 0, 0, 0, 0, 0, 0, telemetry.Flags{})

	t1 := t0.Add(10 * time.Second)
	p.StartSession(t1)
	s := p.Assemble(t1.Add(2*time.Second), 0, 0, 0, 0, 0, 0, 0, 0, telemetry.Flags{})
	if math.Abs(s.ElapsedS-2) > 1e-9 {
		t.Errorf("expected elapsed=2 after StartSession rebaseline, got %v", s.ElapsedS)
	}
}
