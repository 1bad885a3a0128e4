// Package fieldctl implements the setpoint-ramping PID field controller:
// ramp -> error/derivative-on-measurement PID -> feedforward -> saturate
// -> conditional-integration anti-windup -> slew limit. Its output is a
// commanded program voltage consumed by package kepco.
package fieldctl

import (
	"math"

	"github.com/ejshaman54/electromagnet-control-program/ctrlerr"
)

// antiWindupEps is the saturation-boundary tolerance used by the
// conditional-integration rule. It guards a floating point boundary
// comparison, not a tuning parameter.
const antiWindupEps = 1e-12

// Gains are the PID coefficients.
type Gains struct {
	Kp float64 // V/T
	Ki float64 // V/(T*s)
	Kd float64 // V*s/T
}

// Limits bounds the integrator contribution, the final output, the
// output slew rate, the derivative filter time constant, and the
// setpoint ramp rate.
type Limits struct {
	IMin, IMax float64 // integrator contribution clamp, volts
	OMin, OMax float64 // output clamp, volts
	OutputSlew float64 // V/s, 0 disables slew limiting
	DerivTau   float64 // s
	RampRate   float64 // T/s, 0 snaps ramp to target
}

// Feedforward is the open-loop term added to the PID output,
// proportional to the ramped setpoint.
type Feedforward struct {
	Enabled bool
	V0      float64 // V
	VPerT   float64 // V/T
}

// Output is everything Update produces for one tick: the commanded
// voltage and the components that composed it, for telemetry.
type Output struct {
	VCmd      float64
	P, I, D   float64
	VFF       float64
	Saturated bool
}

// Controller holds the PID gains, limits, feedforward configuration, and
// the runtime state that persists tick to tick.
type Controller struct {
	gains Gains
	lim   Limits
	ff    Feedforward

	target float64 // B_target
	ramp   float64 // B_ramp

	accum         float64 // integrator accumulator, T*s
	filteredDeriv float64 // T/s

	prevMeas float64
	lastOut  float64
	lastT    float64
	hasLast  bool
}

// New returns a Controller with zero gains/limits/feedforward. Callers
// must call SetGains, SetLimits, and Reset before the first Update.
func New() *Controller {
	return &Controller{}
}

// SetGains sets the PID coefficients. Gains are not otherwise validated;
// any real number is a legal (if possibly unstable) gain.
func (c *Controller) SetGains(g Gains) {
	c.gains = g
}

// Gains returns the current PID coefficients.
func (c *Controller) Gains() Gains {
	return c.gains
}

// SetLimits validates and sets the controller's clamp/slew/ramp/filter
// limits. It fails with a ConfigurationError, leaving the prior limits
// untouched, if IMax <= IMin, OMax <= OMin, or any rate/tau is negative.
func (c *Controller) SetLimits(l Limits) error {
	switch {
	case l.IMax <= l.IMin:
		return &ctrlerr.ConfigurationError{Component: "fieldctl", Param: "integrator_clamp", Reason: "i_max must be > i_min"}
	case l.OMax <= l.OMin:
		return &ctrlerr.ConfigurationError{Component: "fieldctl", Param: "output_clamp", Reason: "o_max must be > o_min"}
	case l.OutputSlew < 0:
		return &ctrlerr.ConfigurationError{Component: "fieldctl", Param: "output_slew", Reason: "must be >= 0"}
	case l.DerivTau < 0:
		return &ctrlerr.ConfigurationError{Component: "fieldctl", Param: "deriv_tau", Reason: "must be >= 0"}
	case l.RampRate < 0:
		return &ctrlerr.ConfigurationError{Component: "fieldctl", Param: "ramp_rate", Reason: "must be >= 0"}
	}
	c.lim = l
	return nil
}

// Limits returns the current limits.
func (c *Controller) Limits() Limits {
	return c.lim
}

// SetFeedforward sets the open-loop feedforward term.
func (c *Controller) SetFeedforward(ff Feedforward) {
	c.ff = ff
}

// SetTarget sets the setpoint the controller ramps toward.
func (c *Controller) SetTarget(bTarget float64) {
	c.target = bTarget
}

// Reset sets both the target and the ramped setpoint to bInitial and
// clears the integrator, derivative filter, and slew history.
func (c *Controller) Reset(bInitial float64) {
	c.target = bInitial
	c.ramp = bInitial
	c.accum = 0
	c.filteredDeriv = 0
	c.prevMeas = 0
	c.lastOut = 0
	c.lastT = 0
	c.hasLast = false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Update advances the controller by one tick at absolute time t, given
// the measured field bMeas, and returns the composed output. The first
// call after construction or Reset establishes the time base: dt is
// taken as 0, the ramp snaps toward the target with no rate limit
// applied for that first step, and the commanded voltage is 0V — the
// controller still reports its state, it just has not accumulated
// anything yet to safely command.
func (c *Controller) Update(t float64, bMeas float64) Output {
	if !c.hasLast {
		c.hasLast = true
		c.lastT = t
		c.prevMeas = bMeas
		c.ramp = c.target
		return Output{}
	}

	dt := t - c.lastT
	if dt < 1e-6 {
		dt = 1e-6
	}

	// 1. ramp setpoint
	if c.lim.RampRate == 0 {
		c.ramp = c.target
	} else {
		stepMax := c.lim.RampRate * dt
		c.ramp += clamp(c.target-c.ramp, -stepMax, stepMax)
	}

	// 2. error and PID terms, derivative on measurement
	errV := c.ramp - bMeas

	dMeas := (bMeas - c.prevMeas) / dt
	dErr := -dMeas
	if c.lim.DerivTau == 0 {
		c.filteredDeriv = dErr
	} else {
		alpha := dt / (c.lim.DerivTau + dt)
		c.filteredDeriv += alpha * (dErr - c.filteredDeriv)
	}
	dV := c.gains.Kd * c.filteredDeriv

	pV := c.gains.Kp * errV

	candidateAccum := c.accum + errV*dt
	candidateIV := clamp(c.gains.Ki*candidateAccum, c.lim.IMin, c.lim.IMax)

	// 3. feedforward, saturation, anti-windup, slew
	var vff float64
	if c.ff.Enabled {
		vff = c.ff.V0 + c.ramp*c.ff.VPerT
	}

	vUnsat := vff + pV + candidateIV + dV
	vSat := clamp(vUnsat, c.lim.OMin, c.lim.OMax)
	saturated := math.Abs(vUnsat-vSat) > antiWindupEps

	satHigh := vSat >= c.lim.OMax-antiWindupEps
	satLow := vSat <= c.lim.OMin+antiWindupEps
	integrate := !saturated || (satHigh && errV <= 0) || (satLow && errV >= 0)
	if integrate {
		c.accum = candidateAccum
	}

	vOut := c.lastOut
	if c.lim.OutputSlew > 0 {
		maxStep := c.lim.OutputSlew * dt
		vOut = c.lastOut + clamp(vSat-c.lastOut, -maxStep, maxStep)
	} else {
		vOut = vSat
	}
	vOut = clamp(vOut, c.lim.OMin, c.lim.OMax)

	c.lastOut = vOut
	c.prevMeas = bMeas
	c.lastT = t

	return Output{
		VCmd:      vOut,
		P:         pV,
		I:         candidateIV,
		D:         dV,
		VFF:       vff,
		Saturated: saturated,
	}
}

// RampedSetpoint returns the current ramped setpoint B_ramp.
func (c *Controller) RampedSetpoint() float64 {
	return c.ramp
}

// Target returns the current target setpoint B_target.
func (c *Controller) Target() float64 {
	return c.target
}

// IntegratorAccumulator returns the raw integrator accumulator state
// (T*s), which may hold "potential" beyond what the clamped contribution
// to the output reflects; see Output.I for the clamped volts.
func (c *Controller) IntegratorAccumulator() float64 {
	return c.accum
}
