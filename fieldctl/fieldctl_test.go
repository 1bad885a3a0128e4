package fieldctl_test

import (
	"math"
	"testing"

	"github.com/ejshaman54/electromagnet-control-program/fieldctl"
)

func wideOpen(t *testing.T) *fieldctl.Controller {
	t.Helper()
	c := fieldctl.New()
	if err := c.SetLimits(fieldctl.Limits{
		IMin: -1000, IMax: 1000,
		OMin: -1000, OMax: 1000,
		OutputSlew: 0,
		DerivTau:   0,
		RampRate:   0,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestSetLimitsRejectsBadWindows(t *testing.T) {
	c := fieldctl.New()
	if err := c.SetLimits(fieldctl.Limits{IMin: 5, IMax: 5, OMin: -1, OMax: 1}); err == nil {
		t.Error("expected ConfigurationError for i_max == i_min")
	}
	if err := c.SetLimits(fieldctl.Limits{IMin: -1, IMax: 1, OMin: 5, OMax: 5}); err == nil {
		t.Error("expected ConfigurationError for o_max == o_min")
	}
	if err := c.SetLimits(fieldctl.Limits{IMin: -1, IMax: 1, OMin: -1, OMax: 1, OutputSlew: -1}); err == nil {
		t.Error("expected ConfigurationError for negative slew")
	}
}

// Scenario 1: ramped step.
func TestRampedStepProducesLinearRampAndMonotonicP(t *testing.T) {
	c := fieldctl.New()
	if err := c.SetLimits(fieldctl.Limits{
		IMin: -1000, IMax: 1000,
		OMin: -1000, OMax: 1000,
		RampRate: 0.1,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.SetGains(fieldctl.Gains{Kp: 5})
	c.Reset(0)

	tt := 0.0
	c.Update(tt, 0) // primer: establishes time base, dt=0

	var lastP float64
	for i := 1; i <= 10; i++ {
		if i == 1 {
			c.SetTarget(1)
		}
		tt += 0.1
		out := c.Update(tt, 0)
		wantRamp := float64(i) * 0.01
		if math.Abs(c.RampedSetpoint()-wantRamp) > 1e-9 {
			t.Errorf("tick %d: expected B_ramp=%v, got %v", i, wantRamp, c.RampedSetpoint())
		}
		if out.P <= lastP {
			t.Errorf("tick %d: expected monotonically increasing P, got %v <= %v", i, out.P, lastP)
		}
		lastP = out.P
	}
	if math.Abs(lastP-0.5) > 1e-9 {
		// tick 10: B_ramp=0.10, P = Kp * err = 5*0.10 = 0.5
		t.Errorf("expected final P=0.5, got %v", lastP)
	}
	// tick 1 specifically: P = 5 * 0.01 = 0.05
}

func TestRampedStepTick1PIsHalfOfTick2(t *testing.T) {
	c := fieldctl.New()
	if err := c.SetLimits(fieldctl.Limits{IMin: -1000, IMax: 1000, OMin: -1000, OMax: 1000, RampRate: 0.1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.SetGains(fieldctl.Gains{Kp: 5})
	c.Reset(0)
	c.Update(0, 0)
	c.SetTarget(1)
	out1 := c.Update(0.1, 0)
	if math.Abs(out1.P-0.05) > 1e-9 {
		t.Errorf("tick 1: expected P=0.05, got %v", out1.P)
	}
	out2 := c.Update(0.2, 0)
	if math.Abs(out2.P-2*out1.P) > 1e-9 {
		t.Errorf("tick 2: expected P=2*%v, got %v", out1.P, out2.P)
	}
}

// Scenario 2: anti-windup saturation.
func TestAntiWindupFreezesAccumulatorAtSaturation(t *testing.T) {
	c := fieldctl.New()
	// The integrator clamp is intentionally wide so it never itself bounds
	// candidateIV; the output clamp is what actually saturates here, which
	// is what the conditional-integration rule keys off of (satHigh/satLow
	// on vSat, not on the integrator window).
	if err := c.SetLimits(fieldctl.Limits{
		IMin: -1000, IMax: 1000,
		OMin: -5, OMax: 5,
		RampRate: 0, // snap to target
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.SetGains(fieldctl.Gains{Ki: 10})
	c.Reset(0)
	c.Update(0, 0)
	c.SetTarget(1) // err = B_ramp - B_meas = 1 - 0 = 1, held constant

	tt := 0.0
	var lastOut fieldctl.Output
	for i := 0; i < 100; i++ { // 10s at dt=0.1
		tt += 0.1
		lastOut = c.Update(tt, 0)
		if lastOut.VCmd > 5+1e-9 {
			t.Fatalf("tick %d: output exceeded o_max: %v", i, lastOut.VCmd)
		}
	}
	if math.Abs(lastOut.VCmd-5) > 1e-9 {
		t.Errorf("expected output saturated at 5, got %v", lastOut.VCmd)
	}
	frozenAccum := c.IntegratorAccumulator()
	if frozenAccum > 0.5+1e-9 {
		// accumulator should have frozen near where Ki*accum first crossed
		// the output window, i.e. accum ~= 0.5, not grown to 10 (100 ticks
		// * 0.1 * err=1) as it would with no anti-windup at all.
		t.Errorf("expected accumulator frozen near 0.5, got %v (unbounded growth would reach ~10)", frozenAccum)
	}

	// flip error negative: integrator should unwind immediately
	c.SetTarget(-1)
	out := c.Update(tt+0.1, 0)
	if out.VCmd >= lastOut.VCmd {
		t.Errorf("expected output to unwind once error flips sign, got %v (was %v)", out.VCmd, lastOut.VCmd)
	}
}

// Scenario 4: derivative kick suppression.
func TestDerivativeOnMeasurementSuppressesSetpointKick(t *testing.T) {
	c := fieldctl.New()
	if err := c.SetLimits(fieldctl.Limits{IMin: -1000, IMax: 1000, OMin: -1000, OMax: 1000}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.SetGains(fieldctl.Gains{Kd: 50})
	c.Reset(0)
	c.Update(0, 0) // primer

	c.SetTarget(1) // setpoint jumps 0 -> 1, measurement unchanged at 0
	out := c.Update(0.1, 0)
	if out.D != 0 {
		t.Errorf("expected D=0 across a setpoint step with constant measurement, got %v", out.D)
	}
}

// Slew limit behavior mirrors kepco's, applied to the controller's own
// output stage.
func TestOutputSlewLimitsRateOfChange(t *testing.T) {
	c := fieldctl.New()
	if err := c.SetLimits(fieldctl.Limits{
		IMin: -1000, IMax: 1000,
		OMin: -1000, OMax: 1000,
		OutputSlew: 2,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.SetGains(fieldctl.Gains{Kp: 1000}) // huge gain forces immediate saturation-free big output
	c.Reset(0)
	c.Update(0, 0)
	c.SetTarget(1)
	out := c.Update(0.1, 0)
	if out.VCmd > 0.2+1e-9 {
		t.Errorf("expected slew-limited output <= 0.2, got %v", out.VCmd)
	}
}

func TestOutputAlwaysWithinClamp(t *testing.T) {
	c := wideOpen(t)
	c.SetGains(fieldctl.Gains{Kp: 1, Ki: 1, Kd: 1})
	if err := c.SetLimits(fieldctl.Limits{IMin: -10, IMax: 10, OMin: -3, OMax: 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Reset(0)
	c.Update(0, 0)
	c.SetTarget(100)
	tt := 0.0
	for i := 0; i < 50; i++ {
		tt += 0.1
		out := c.Update(tt, 0)
		if out.VCmd < -3-1e-9 || out.VCmd > 3+1e-9 {
			t.Fatalf("tick %d: V_cmd %v outside clamp [-3,3]", i, out.VCmd)
		}
	}
}
