// Package hallprobe converts a Hall probe's raw voltage into calibrated
// magnetic flux density, with an optional moving-average or first-order
// low-pass filter. It is a pure conversion leaf: it never touches the
// analog I/O port itself, it only transforms the voltage the caller
// already read from it.
package hallprobe

import (
	"math"

	"github.com/ejshaman54/electromagnet-control-program/ctrlerr"
)

// minSensitivity is the smallest magnitude sensitivity accepted by
// SetSensitivity. It guards the (unused, by this package) inverse map
// and division-by-near-zero; it is not a tuning parameter.
const minSensitivity = 1e-15

// Calibration is the affine map from probe voltage to field:
// B = (V - Offset) * Sensitivity.
type Calibration struct {
	Offset      float64 // V0, volts
	Sensitivity float64 // S, Tesla per volt
}

// FilterMode selects the optional conditioning filter applied after the
// affine conversion.
type FilterMode int

const (
	FilterNone FilterMode = iota
	FilterMovingAverage
	FilterLowPass
)

type movingAverageState struct {
	buf   []float64
	write int
	count int
	sum   float64
}

type lowPassState struct {
	tau    float64
	prev   float64
	primed bool
}

// Conditioner owns the Hall probe calibration and the selected filter's
// runtime state.
type Conditioner struct {
	cal Calibration

	mode FilterMode
	ma   movingAverageState
	lp   lowPassState
}

// NewConditioner returns a Conditioner with a zero calibration and no
// filter. Callers must call SetOffset/SetSensitivity before trusting
// VoltageToField.
func NewConditioner() *Conditioner {
	return &Conditioner{}
}

// SetOffset sets the calibration's zero-field voltage.
func (c *Conditioner) SetOffset(v0 float64) {
	c.cal.Offset = v0
}

// SetSensitivity sets the calibration's volts-to-Tesla slope. It fails
// with a CalibrationError, leaving the prior sensitivity untouched, if
// |s| is too small to be a physically meaningful calibration.
func (c *Conditioner) SetSensitivity(s float64) error {
	if math.Abs(s) < minSensitivity {
		return &ctrlerr.CalibrationError{
			Component: "hallprobe",
			Param:     "sensitivity",
			Value:     s,
			Reason:    "magnitude below 1e-15",
		}
	}
	c.cal.Sensitivity = s
	return nil
}

// Calibration returns a copy of the current calibration.
func (c *Conditioner) Calibration() Calibration {
	return c.cal
}

// SetFilterMode changes the active filter and resets its state,
// regardless of whether the mode is actually changing. The configured
// moving-average window and low-pass time constant are kept; only the
// accumulated samples are cleared.
func (c *Conditioner) SetFilterMode(mode FilterMode) {
	c.mode = mode
	c.ma = movingAverageState{buf: make([]float64, len(c.ma.buf))}
	c.lp = lowPassState{tau: c.lp.tau}
}

// FilterMode returns the currently selected filter mode.
func (c *Conditioner) FilterMode() FilterMode {
	return c.mode
}

// ConfigureMovingAverage selects the moving-average filter with a window
// of n samples, clamped to [1, 10000], and resets the filter state.
func (c *Conditioner) ConfigureMovingAverage(n int) {
	if n < 1 {
		n = 1
	}
	if n > 10000 {
		n = 10000
	}
	c.mode = FilterMovingAverage
	c.ma = movingAverageState{buf: make([]float64, n)}
	c.lp = lowPassState{}
}

// ConfigureLowPass selects the first-order low-pass filter with time
// constant tau seconds and resets the filter state. It fails with a
// CalibrationError if tau < 0.
func (c *Conditioner) ConfigureLowPass(tau float64) error {
	if tau < 0 {
		return &ctrlerr.CalibrationError{
			Component: "hallprobe",
			Param:     "lowpass_tau",
			Value:     tau,
			Reason:    "must be >= 0",
		}
	}
	c.mode = FilterLowPass
	c.lp = lowPassState{tau: tau}
	c.ma = movingAverageState{}
	return nil
}

// VoltageToField applies the affine calibration with no filtering.
func (c *Conditioner) VoltageToField(v float64) float64 {
	return (v - c.cal.Offset) * c.cal.Sensitivity
}

// VoltageToFieldFiltered applies the affine calibration, then the
// currently selected filter, advancing the filter's state by one sample
// taken dt seconds after the previous one.
func (c *Conditioner) VoltageToFieldFiltered(v float64, dt float64) float64 {
	b := c.VoltageToField(v)
	switch c.mode {
	case FilterMovingAverage:
		return c.movingAverage(b)
	case FilterLowPass:
		return c.lowPass(b, dt)
	default:
		return b
	}
}

// movingAverage maintains an O(1)-per-sample running sum over a circular
// buffer: when overwriting a slot, the old value is subtracted and the
// new one added, so the sum never drifts from what the full buffer
// actually contains.
func (c *Conditioner) movingAverage(x float64) float64 {
	n := len(c.ma.buf)
	if n == 0 {
		return x
	}
	old := c.ma.buf[c.ma.write]
	c.ma.buf[c.ma.write] = x
	c.ma.sum += x - old
	c.ma.write = (c.ma.write + 1) % n
	if c.ma.count < n {
		c.ma.count++
	}
	return c.ma.sum / float64(c.ma.count)
}

// lowPass implements the discrete first-order filter: the first sample
// after a reset primes the state and passes through unchanged;
// thereafter state moves toward x by alpha = dt/(tau+dt), or passes
// through unchanged if tau == 0.
func (c *Conditioner) lowPass(x float64, dt float64) float64 {
	if !c.lp.primed {
		c.lp.primed = true
		c.lp.prev = x
		return x
	}
	var alpha float64
	if c.lp.tau > 0 && dt > 0 {
		alpha = dt / (c.lp.tau + dt)
	} else {
		alpha = 1
	}
	c.lp.prev = c.lp.prev + alpha*(x-c.lp.prev)
	return c.lp.prev
}
