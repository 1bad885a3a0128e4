// Package kepco drives a bipolar power supply — the AOChannel/ClampMinV/
// ClampMaxV/SlewVps family named directly in the session metadata schema
// — through a clamped, slew-limited analog output voltage, with an
// optional digital enable/interlock line. It converts a commanded field,
// current, or program voltage through a calibrated affine chain and
// writes the result via a borrowed aio.Port; it never owns that Port.
package kepco

import (
	"math"
	"time"

	"github.com/ejshaman54/electromagnet-control-program/aio"
	"github.com/ejshaman54/electromagnet-control-program/ctrlerr"
)

// minSlope is the smallest magnitude accepted for the two affine
// slopes this package inverts (program-voltage-to-current,
// current-to-field). It guards division, not tuning.
const minSlope = 1e-12

// EnableMode selects how Driver signals enable/disable to the hardware.
type EnableMode int

const (
	EnableNone EnableMode = iota
	EnableDigitalLine
)

// progCal is the affine map from program voltage to current:
// I = I0 + (V - V0) * slope.
type progCal struct {
	v0, i0, slope float64
}

// fieldCal is the affine map from current to field: B = B0 + I*slope.
type fieldCal struct {
	b0, slope float64
}

// Driver holds the Supply State of the data model: AO channel/range,
// clamp, slew limit, last commanded voltage and timestamp, enable mode,
// and the borrowed Port it drives.
type Driver struct {
	port aio.Port

	aoChannel  uint32
	rangeIndex uint32
	clampMin   float64
	clampMax   float64
	slewLimit  float64 // V/s, 0 disables slew limiting
	configured bool

	prog  progCal
	field fieldCal

	enableMode  EnableMode
	digitalChan uint32
	enabled     bool

	lastCmd          float64
	lastUpdate       time.Time
	firstAfterEnable bool
}

// NewDriver creates a Driver that writes through port. port must outlive
// the Driver; the Driver never closes it.
func NewDriver(port aio.Port) *Driver {
	return &Driver{port: port}
}

// ConfigureAnalogOutput sets the AO channel, range, and hardware clamp.
// It fails with a ConfigurationError, leaving prior configuration intact,
// if clampMax <= clampMin.
func (d *Driver) ConfigureAnalogOutput(channel, rangeIndex uint32, clampMin, clampMax float64) error {
	if clampMax <= clampMin {
		return &ctrlerr.ConfigurationError{
			Component: "kepco",
			Param:     "clamp",
			Reason:    "clamp_max must be > clamp_min",
		}
	}
	d.aoChannel = channel
	d.rangeIndex = rangeIndex
	d.clampMin = clampMin
	d.clampMax = clampMax
	d.configured = true
	return nil
}

// SetSlewLimit sets the output slew limit in volts/second. 0 disables
// slew limiting. It fails with a ConfigurationError if vps < 0.
func (d *Driver) SetSlewLimit(vps float64) error {
	if vps < 0 {
		return &ctrlerr.ConfigurationError{
			Component: "kepco",
			Param:     "slew_limit",
			Reason:    "must be >= 0",
		}
	}
	d.slewLimit = vps
	return nil
}

// SetProgToCurrent sets the affine map from program voltage to current.
// It fails with a CalibrationError if |iPerV| < 1e-12.
func (d *Driver) SetProgToCurrent(v0, i0, iPerV float64) error {
	if math.Abs(iPerV) < minSlope {
		return &ctrlerr.CalibrationError{
			Component: "kepco",
			Param:     "i_per_v",
			Value:     iPerV,
			Reason:    "magnitude below 1e-12",
		}
	}
	d.prog = progCal{v0: v0, i0: i0, slope: iPerV}
	return nil
}

// SetCurrentToField sets the affine map from current to field.
func (d *Driver) SetCurrentToField(b0, tPerA float64) {
	d.field = fieldCal{b0: b0, slope: tPerA}
}

// ConfigureDigitalEnable selects how enable/disable is signaled to the
// hardware, and on which digital channel (when mode is EnableDigitalLine).
func (d *Driver) ConfigureDigitalEnable(mode EnableMode, channel uint32) {
	d.enableMode = mode
	d.digitalChan = channel
}

// SetEnabled transitions the driver's enable state. Transitioning to
// disabled immediately commands 0V through the port, resets the slew
// history, and drops the digital enable line if configured.
func (d *Driver) SetEnabled(on bool, now time.Time) error {
	if !on {
		if d.configured {
			if err := d.port.WriteOutputVolts(d.aoChannel, 0, d.rangeIndex, d.clampMin, d.clampMax); err != nil {
				d.enabled = false
				return &ctrlerr.IoError{Op: "SetEnabled(false)", Channel: d.aoChannel, Cause: err}
			}
		}
		d.lastCmd = 0
		d.lastUpdate = now
		if d.enableMode == EnableDigitalLine {
			if dw, ok := d.port.(aio.DigitalWriter); ok {
				_ = dw.WriteDigitalLine(d.digitalChan, false)
			}
		}
		d.enabled = false
		return nil
	}
	d.enabled = true
	d.firstAfterEnable = true
	if d.enableMode == EnableDigitalLine {
		if dw, ok := d.port.(aio.DigitalWriter); ok {
			_ = dw.WriteDigitalLine(d.digitalChan, true)
		}
	}
	return nil
}

// Enabled reports the driver's current enable state.
func (d *Driver) Enabled() bool {
	return d.enabled
}

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CommandProgramVoltage clamps vProg to the hardware window, applies the
// slew limit relative to the last commanded voltage, writes the result
// through the port, and advances the slew history. It fails with a
// NotEnabledError if the driver is not enabled.
func (d *Driver) CommandProgramVoltage(vProg float64, now time.Time) error {
	if !d.enabled {
		return &ctrlerr.NotEnabledError{Component: "kepco"}
	}
	target := clamp(vProg, d.clampMin, d.clampMax)

	var dt float64
	if d.firstAfterEnable {
		dt = 0
		d.firstAfterEnable = false
	} else {
		dt = now.Sub(d.lastUpdate).Seconds()
		if dt < 0 {
			dt = 0
		}
	}

	out := target
	if d.slewLimit > 0 {
		maxStep := d.slewLimit * dt
		out = d.lastCmd + clamp(target-d.lastCmd, -maxStep, maxStep)
	}

	if err := d.port.WriteOutputVolts(d.aoChannel, out, d.rangeIndex, d.clampMin, d.clampMax); err != nil {
		return &ctrlerr.IoError{Op: "CommandProgramVoltage", Channel: d.aoChannel, Cause: err}
	}

	d.lastCmd = out
	d.lastUpdate = now
	return nil
}

// ProgVoltageToCurrent converts a program voltage to current using the
// configured affine map.
func (d *Driver) ProgVoltageToCurrent(v float64) float64 {
	return d.prog.i0 + (v-d.prog.v0)*d.prog.slope
}

// CurrentToProgramVoltage inverts ProgVoltageToCurrent.
func (d *Driver) CurrentToProgramVoltage(i float64) float64 {
	return d.prog.v0 + (i-d.prog.i0)/d.prog.slope
}

// CurrentToField converts current to field using the configured affine
// map.
func (d *Driver) CurrentToField(i float64) float64 {
	return d.field.b0 + i*d.field.slope
}

// FieldToCurrent inverts CurrentToField. The caller should check
// SetCurrentToField was configured with a slope of sufficient magnitude;
// CommandField enforces this before calling it.
func (d *Driver) FieldToCurrent(b float64) float64 {
	return (b - d.field.b0) / d.field.slope
}

// CommandCurrent converts i to a program voltage and commands it.
func (d *Driver) CommandCurrent(i float64, now time.Time) error {
	return d.CommandProgramVoltage(d.CurrentToProgramVoltage(i), now)
}

// CommandField converts b to a current and commands it. It fails with a
// CalibrationError if the current-to-field slope is too small to invert.
func (d *Driver) CommandField(b float64, now time.Time) error {
	if math.Abs(d.field.slope) < minSlope {
		return &ctrlerr.CalibrationError{
			Component: "kepco",
			Param:     "t_per_a",
			Value:     d.field.slope,
			Reason:    "magnitude below 1e-12",
		}
	}
	return d.CommandCurrent(d.FieldToCurrent(b), now)
}

// LastProgramVoltage returns the last voltage actually written through
// the port.
func (d *Driver) LastProgramVoltage() float64 {
	return d.lastCmd
}
