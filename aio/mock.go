package aio

import (
	"sync"

	"github.com/ejshaman54/electromagnet-control-program/ctrlerr"
)

// MockPort is an in-memory Port and DigitalWriter, in the style of
// newport.MockController: a mutex-guarded map of channel state with no
// real hardware behind it. It exists for tests and for exercising the
// control package's fault policy without real hardware.
type MockPort struct {
	mu sync.Mutex

	inputs  map[uint32]float64
	outputs map[uint32]float64
	digital map[uint32]bool

	readFault  error
	writeFault error
}

// NewMockPort creates an empty MockPort; all channels read back 0V until
// SetInputVolts is used to stage a value.
func NewMockPort() *MockPort {
	return &MockPort{
		inputs:  make(map[uint32]float64),
		outputs: make(map[uint32]float64),
		digital: make(map[uint32]bool),
	}
}

// SetInputVolts stages the voltage that ReadInputVolts will return for
// channel until changed again.
func (m *MockPort) SetInputVolts(channel uint32, volts float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs[channel] = volts
}

// SetReadFault causes the next ReadInputVolts call to fail with err, then
// clears itself. Pass nil to clear without triggering a fault.
func (m *MockPort) SetReadFault(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readFault = err
}

// SetWriteFault causes the next WriteOutputVolts call to fail with err,
// then clears itself. Pass nil to clear without triggering a fault.
func (m *MockPort) SetWriteFault(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeFault = err
}

// ReadInputVolts implements Port.
func (m *MockPort) ReadInputVolts(channel uint32, rangeIndex uint32, ref Reference) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readFault != nil {
		err := m.readFault
		m.readFault = nil
		return 0, &ctrlerr.IoError{Op: "ReadInputVolts", Channel: channel, Cause: err}
	}
	return m.inputs[channel], nil
}

// WriteOutputVolts implements Port. It mirrors the clamp for defense in
// depth, exactly as the contract expects any real backing driver to.
func (m *MockPort) WriteOutputVolts(channel uint32, volts float64, rangeIndex uint32, clampMin, clampMax float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeFault != nil {
		err := m.writeFault
		m.writeFault = nil
		return &ctrlerr.IoError{Op: "WriteOutputVolts", Channel: channel, Cause: err}
	}
	if volts < clampMin {
		volts = clampMin
	}
	if volts > clampMax {
		volts = clampMax
	}
	m.outputs[channel] = volts
	return nil
}

// WriteDigitalLine implements DigitalWriter.
func (m *MockPort) WriteDigitalLine(channel uint32, level bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.digital[channel] = level
	return nil
}

// LastOutputVolts returns the last voltage commanded on channel, for
// test assertions.
func (m *MockPort) LastOutputVolts(channel uint32) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outputs[channel]
}

// DigitalLine returns the last level written to a digital channel, for
// test assertions.
func (m *MockPort) DigitalLine(channel uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.digital[channel]
}
