// Package control is the tick scheduler and session glue: it owns one
// instance of each core component (hallprobe.Conditioner, kepco.Driver,
// fieldctl.Controller), drives them through the strict per-tick ordering
// of acquisition -> conditioning -> control -> actuation -> logging, and
// exposes a single-writer operator command channel. It has no main, no
// flag parsing, no signal handling — the calling process owns those.
package control

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/ejshaman54/electromagnet-control-program/aio"
	"github.com/ejshaman54/electromagnet-control-program/fieldctl"
	"github.com/ejshaman54/electromagnet-control-program/hallprobe"
	"github.com/ejshaman54/electromagnet-control-program/kepco"
	"github.com/ejshaman54/electromagnet-control-program/telemetry"
)

var logger = log.New(os.Stderr, "control: ", log.LstdFlags)

// CommandKind identifies which field of Command is populated.
type CommandKind int

const (
	CommandSetTarget CommandKind = iota
	CommandSetEnabled
	CommandEStop
	CommandSetGains
	CommandReconfigure
	CommandStartSession
	CommandStopSession
)

// Command is the single-writer operator surface. Exactly the fields
// relevant to Kind are populated; the rest are zero.
type Command struct {
	Kind CommandKind

	Target  float64
	Enabled bool
	Gains   fieldctl.Gains

	Limits      fieldctl.Limits
	Feedforward fieldctl.Feedforward

	SessionBasePath string
	SessionMeta     telemetry.SessionMetadata
	Overwrite       bool
}

// AcqChannels names the AI channel/range/reference the Hall probe is read
// from. The supply's AO channel is not part of it; kepco.Driver owns its
// own channel state.
type AcqChannels struct {
	HallChannel    uint32
	HallRangeIndex uint32
	HallReference  aio.Reference
}

// Session wires the three core components together over a shared
// aio.Port and drives them through one tick function.
type Session struct {
	port aio.Port

	probe *hallprobe.Conditioner
	drv   *kepco.Driver
	ctl   *fieldctl.Controller

	acq AcqChannels

	logger    telemetry.Logger
	publisher *telemetry.Publisher
	logOpen   bool

	enabled   bool
	fault     bool
	tickStart time.Time
}

// NewSession assembles a Session from already-configured components. The
// caller is responsible for calling the Configure*/Set* methods on probe,
// drv, and ctl before passing them in — NewSession does no configuration
// of its own, matching the teacher's pattern of separating object
// construction from config loading.
func NewSession(port aio.Port, probe *hallprobe.Conditioner, drv *kepco.Driver, ctl *fieldctl.Controller, acq AcqChannels, lg telemetry.Logger) *Session {
	return &Session{
		port:      port,
		probe:     probe,
		drv:       drv,
		ctl:       ctl,
		acq:       acq,
		logger:    lg,
		publisher: telemetry.NewPublisher(),
	}
}

// StartSession opens the logger's session files and rebaselines elapsed
// time for the telemetry publisher.
func (s *Session) StartSession(now time.Time, basePath string, meta telemetry.SessionMetadata, overwrite bool) error {
	if err := s.logger.OpenSession(basePath, meta, overwrite); err != nil {
		return err
	}
	s.logOpen = true
	s.publisher.StartSession(now)
	return nil
}

// StopSession closes the logger's session files. It is safe to call even
// if a prior logger error already suppressed further writes.
func (s *Session) StopSession() error {
	if !s.logOpen {
		return nil
	}
	s.logOpen = false
	return s.logger.CloseSession()
}

// EStop force-disables the supply driver synchronously, bypassing any
// other queued command. The driver itself writes 0V on the transition.
func (s *Session) EStop(now time.Time) {
	s.enabled = false
	if err := s.drv.SetEnabled(false, now); err != nil {
		logger.Printf("e-stop: disable write failed: %v", err)
	}
}

// Apply executes one operator command synchronously, before the next
// tick begins, per §5's cancellation model.
func (s *Session) Apply(cmd Command, now time.Time) error {
	switch cmd.Kind {
	case CommandSetTarget:
		s.ctl.SetTarget(cmd.Target)
	case CommandSetEnabled:
		s.enabled = cmd.Enabled
		return s.drv.SetEnabled(cmd.Enabled, now)
	case CommandEStop:
		s.EStop(now)
	case CommandSetGains:
		s.ctl.SetGains(cmd.Gains)
	case CommandReconfigure:
		if err := s.ctl.SetLimits(cmd.Limits); err != nil {
			return err
		}
		s.ctl.SetFeedforward(cmd.Feedforward)
	case CommandStartSession:
		return s.StartSession(now, cmd.SessionBasePath, cmd.SessionMeta, cmd.Overwrite)
	case CommandStopSession:
		return s.StopSession()
	}
	return nil
}

// Tick performs one full cycle: acquisition, conditioning, control,
// actuation, logging, in that strict order. Any hardware error is caught
// here, sets the fault flag, and force-disables the driver; a logger error
// only sets the fault flag on the returned Sample. A Sample is always
// returned so telemetry keeps flowing under fault.
func (s *Session) Tick(now time.Time, dt float64) telemetry.Sample {
	fault := false

	if s.tickStart.IsZero() {
		s.tickStart = now
	}

	vHall, err := s.port.ReadInputVolts(s.acq.HallChannel, s.acq.HallRangeIndex, s.acq.HallReference)
	if err != nil {
		logger.Printf("tick: hall read failed: %v", err)
		fault = true
		s.forceDisable(now)
	}

	bMeas := s.probe.VoltageToFieldFiltered(vHall, dt)

	out := s.ctl.Update(now.Sub(s.tickStart).Seconds(), bMeas)

	if s.enabled && !fault {
		if err := s.drv.CommandProgramVoltage(out.VCmd, now); err != nil {
			logger.Printf("tick: command failed: %v", err)
			fault = true
			s.forceDisable(now)
		}
	}
	vCmd := s.drv.LastProgramVoltage()

	sample := s.publisher.Assemble(now, vHall, bMeas, s.ctl.RampedSetpoint(), vCmd, s.ctl.RampedSetpoint()-bMeas,
		out.P, out.I, out.D, telemetry.Flags{
			Enabled:   s.drv.Enabled(),
			Saturated: out.Saturated,
			Fault:     fault || s.fault,
		})

	if s.logOpen {
		if err := s.logger.LogSample(sample); err != nil {
			logger.Printf("tick: log sample failed: %v", err)
			sample.Flags.Fault = true
		}
	}

	s.fault = fault
	return sample
}

func (s *Session) forceDisable(now time.Time) {
	s.enabled = false
	if err := s.drv.SetEnabled(false, now); err != nil {
		logger.Printf("tick: force-disable write failed: %v", err)
	}
}

// Run drives Tick off a periodic timer at period, reading operator
// commands from cmds, entirely on this one goroutine. Tick, Apply, and
// every component they touch are single-threaded by construction (§5):
// nothing here spawns a worker for a tick. time.Ticker only ever holds
// one pending tick in its channel, so if a tick genuinely overruns the
// period, the ticker silently drops the intervening fires rather than
// queuing them — the "coalesced, not queued" rule falls straight out of
// that behavior without any extra bookkeeping.
func (s *Session) Run(ctx context.Context, period time.Duration, cmds <-chan Command) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-cmds:
			now := time.Now()
			if err := s.Apply(cmd, now); err != nil {
				logger.Printf("run: command %v failed: %v", cmd.Kind, err)
			}

		case now := <-ticker.C:
			dt := now.Sub(lastTick).Seconds()
			if dt < 1e-6 {
				dt = 1e-6
			}
			lastTick = now
			s.Tick(now, dt)
		}
	}
}
