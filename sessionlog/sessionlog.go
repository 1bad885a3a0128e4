// Package sessionlog is the reference telemetry.Logger: a CSV of per-tick
// samples plus an INI-like metadata file written once at session open,
// with an XMODEM CRC-16 integrity tag over the four metadata sections
// ([HallProbe], [Kepco], [Calibration], [Controller]).
package sessionlog

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/snksoft/crc"

	"github.com/ejshaman54/electromagnet-control-program/ctrlerr"
	"github.com/ejshaman54/electromagnet-control-program/telemetry"
)

var crcTable = crc.NewTable(crc.XMODEM)

const csvHeader = "t_utc_iso, elapsed_s, vhall_v, bmeas_t, bset_t, vcmd_v, err_t, p_v, i_v, d_v, enabled, saturated, fault"

// Logger writes a <base>.csv and <base>.meta.txt pair. It implements
// telemetry.Logger. Once a write to the CSV fails, Logger stops attempting
// further writes until OpenSession is called again, per the "logger
// errors are non-fatal but may suppress further writes" policy.
type Logger struct {
	csv      *os.File
	w        *bufio.Writer
	open     bool
	suppress bool
}

// New returns an unopened Logger.
func New() *Logger {
	return &Logger{}
}

func boolDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func ff(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func ffShort(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// OpenSession creates <basePath>.csv and <basePath>.meta.txt, writes the
// CSV header and the full metadata block (including the Checksum line),
// and prepares the Logger for LogSample calls. If overwrite is false and
// either file already exists, OpenSession fails without creating anything.
func (l *Logger) OpenSession(basePath string, meta telemetry.SessionMetadata, overwrite bool) error {
	csvPath := basePath + ".csv"
	metaPath := basePath + ".meta.txt"

	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}

	csvFile, err := os.OpenFile(csvPath, flags, 0644)
	if err != nil {
		return &ctrlerr.IoError{Op: "OpenSession", Cause: err}
	}

	metaFile, err := os.OpenFile(metaPath, flags, 0644)
	if err != nil {
		csvFile.Close()
		if !overwrite {
			// the CSV was created by this call (O_EXCL); do not leave it behind
			os.Remove(csvPath)
		}
		return &ctrlerr.IoError{Op: "OpenSession", Cause: err}
	}
	defer metaFile.Close()

	if _, err := csvFile.WriteString(csvHeader + "\n"); err != nil {
		csvFile.Close()
		return &ctrlerr.IoError{Op: "OpenSession", Cause: err}
	}

	body := renderMetaBody(meta)
	checksum := crcTable.CalculateCRC([]byte(body))

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("StartUTC: %s\n", time.Now().UTC().Format("2006-01-02T15:04:05.000Z")))
	sb.WriteString(body)
	sb.WriteString(fmt.Sprintf("Checksum: %d\n", checksum))

	if _, err := metaFile.WriteString(sb.String()); err != nil {
		csvFile.Close()
		return &ctrlerr.IoError{Op: "OpenSession", Cause: err}
	}

	l.csv = csvFile
	l.w = bufio.NewWriter(csvFile)
	l.open = true
	l.suppress = false
	return nil
}

func renderMetaBody(m telemetry.SessionMetadata) string {
	var sb strings.Builder
	sb.WriteString("[HallProbe]\n")
	fmt.Fprintf(&sb, "V0_V: %s\n", ff(m.HallProbe.V0V))
	fmt.Fprintf(&sb, "TperV: %s\n", ff(m.HallProbe.TperV))
	fmt.Fprintf(&sb, "Filter: %s\n", m.HallProbe.Filter)

	sb.WriteString("[Kepco]\n")
	fmt.Fprintf(&sb, "AOChannel: %d\n", m.Kepco.AOChannel)
	fmt.Fprintf(&sb, "ClampMinV: %s\n", ff(m.Kepco.ClampMinV))
	fmt.Fprintf(&sb, "ClampMaxV: %s\n", ff(m.Kepco.ClampMaxV))
	fmt.Fprintf(&sb, "SlewVps: %s\n", ff(m.Kepco.SlewVps))

	sb.WriteString("[Calibration]\n")
	fmt.Fprintf(&sb, "ProgV0_V: %s\n", ff(m.Calibration.ProgV0V))
	fmt.Fprintf(&sb, "I0_A: %s\n", ff(m.Calibration.I0A))
	fmt.Fprintf(&sb, "IperV: %s\n", ff(m.Calibration.IperV))
	fmt.Fprintf(&sb, "B0_T: %s\n", ff(m.Calibration.B0T))
	fmt.Fprintf(&sb, "TperA: %s\n", ff(m.Calibration.TperA))

	sb.WriteString("[Controller]\n")
	fmt.Fprintf(&sb, "Kp: %s\n", ff(m.Controller.Kp))
	fmt.Fprintf(&sb, "Ki: %s\n", ff(m.Controller.Ki))
	fmt.Fprintf(&sb, "Kd: %s\n", ff(m.Controller.Kd))
	fmt.Fprintf(&sb, "Ramp_Tps: %s\n", ff(m.Controller.RampTps))
	fmt.Fprintf(&sb, "DerivTau_s: %s\n", ff(m.Controller.DerivTauS))
	fmt.Fprintf(&sb, "OutMinV: %s\n", ff(m.Controller.OutMinV))
	fmt.Fprintf(&sb, "OutMaxV: %s\n", ff(m.Controller.OutMaxV))

	return sb.String()
}

// LogSample appends one CSV row. After any write failure it returns a
// NotOpenError-wrapped error and suppresses further writes until
// OpenSession is called again.
func (l *Logger) LogSample(s telemetry.Sample) error {
	if !l.open {
		return &ctrlerr.NotOpenError{Component: "sessionlog"}
	}
	if l.suppress {
		return &ctrlerr.NotOpenError{Component: "sessionlog", Cause: fmt.Errorf("writes suppressed after prior I/O error")}
	}

	row := strings.Join([]string{
		s.TUTC.UTC().Format("2006-01-02T15:04:05.000Z"),
		ffShort(s.ElapsedS),
		ffShort(s.VHall),
		ffShort(s.BMeas),
		ffShort(s.BSet),
		ffShort(s.VCmd),
		ffShort(s.Err),
		ffShort(s.PV),
		ffShort(s.IV),
		ffShort(s.DV),
		boolDigit(s.Flags.Enabled),
		boolDigit(s.Flags.Saturated),
		boolDigit(s.Flags.Fault),
	}, ", ")

	if _, err := l.w.WriteString(row + "\n"); err != nil {
		l.suppress = true
		return &ctrlerr.NotOpenError{Component: "sessionlog", Cause: err}
	}
	if err := l.w.Flush(); err != nil {
		l.suppress = true
		return &ctrlerr.NotOpenError{Component: "sessionlog", Cause: err}
	}
	return nil
}

// CloseSession flushes and closes the CSV file. The metadata file was
// already fully written at OpenSession and needs no further action.
func (l *Logger) CloseSession() error {
	if !l.open {
		return &ctrlerr.NotOpenError{Component: "sessionlog"}
	}
	err := l.w.Flush()
	closeErr := l.csv.Close()
	l.open = false
	if err != nil {
		return &ctrlerr.IoError{Op: "CloseSession", Cause: err}
	}
	if closeErr != nil {
		return &ctrlerr.IoError{Op: "CloseSession", Cause: closeErr}
	}
	return nil
}
