// Package aio defines the analog I/O port contract consumed by the
// controller core. The core depends only on this interface; the
// low-level acquisition driver that backs it (a comedi device, an
// Acromag AcroPack, a LabJack U6, an MCC DAQ board — any of them satisfy
// the same shape) is an external collaborator and lives outside this
// module.
package aio

// Reference selects the analog input reference mode of a channel.
type Reference int

const (
	// Ground references the input to board ground.
	Ground Reference = 0
	// Common references the input to a common analog reference.
	Common Reference = 1
	// Differential reads the input differentially against its pair channel.
	Differential Reference = 2
	// Other covers device-specific reference modes opaque to the core.
	Other Reference = 3
)

// Port is the capability the controller core depends on: read an analog
// input channel as volts, and write an analog output channel as volts
// with a hardware-mirrored clamp. The device path behind a Port (e.g.
// "/dev/comedi0") is opaque to the core.
type Port interface {
	// ReadInputVolts reads channel on the given range index and
	// reference mode, returning the measured voltage.
	ReadInputVolts(channel uint32, rangeIndex uint32, ref Reference) (float64, error)

	// WriteOutputVolts writes volts to channel on the given range
	// index. clampMin/clampMax mirror the caller's own clamp for
	// defense in depth; the port is expected to enforce them as well.
	WriteOutputVolts(channel uint32, volts float64, rangeIndex uint32, clampMin, clampMax float64) error
}

// DigitalWriter is an optional capability of a Port: driving a digital
// output line, used for supply enable/interlock signaling. Components
// that need it probe for it with a type assertion, exactly as
// generichttp/daq probes a DAC for ExtendedDAC or WaveformDAC.
type DigitalWriter interface {
	WriteDigitalLine(channel uint32, level bool) error
}
