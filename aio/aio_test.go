package aio_test

import (
	"errors"
	"testing"

	"github.com/ejshaman54/electromagnet-control-program/aio"
)

func TestMockPortReadWriteRoundTrip(t *testing.T) {
	p := aio.NewMockPort()
	p.SetInputVolts(0, 1.25)
	v, err := p.ReadInputVolts(0, 0, aio.Differential)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1.25 {
		t.Errorf("expected 1.25, got %v", v)
	}

	if err := p.WriteOutputVolts(3, 4.0, 0, -10, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.LastOutputVolts(3); got != 4.0 {
		t.Errorf("expected 4.0, got %v", got)
	}
}

func TestMockPortWriteClamp(t *testing.T) {
	p := aio.NewMockPort()
	if err := p.WriteOutputVolts(0, 20, 0, -5, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.LastOutputVolts(0); got != 5 {
		t.Errorf("expected clamp to 5, got %v", got)
	}
}

func TestMockPortReadFault(t *testing.T) {
	p := aio.NewMockPort()
	injected := errors.New("bus timeout")
	p.SetReadFault(injected)
	_, err := p.ReadInputVolts(0, 0, aio.Ground)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, injected) {
		t.Errorf("expected wrapped injected error, got %v", err)
	}
	// fault clears after firing once
	v, err := p.ReadInputVolts(0, 0, aio.Ground)
	if err != nil {
		t.Fatalf("unexpected error on second read: %v", err)
	}
	if v != 0 {
		t.Errorf("expected 0, got %v", v)
	}
}

func TestMockPortDigitalLine(t *testing.T) {
	p := aio.NewMockPort()
	if err := p.WriteDigitalLine(1, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.DigitalLine(1) {
		t.Error("expected digital line 1 to be true")
	}
}

var _ aio.Port = (*aio.MockPort)(nil)
var _ aio.DigitalWriter = (*aio.MockPort)(nil)
