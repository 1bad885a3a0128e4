// Package config loads the two configuration shapes the core needs: a
// rarely-touched calibration file loaded directly with yaml.v2 (the
// envsrv.LoadYaml idiom), and a per-run session file layered through
// koanf so compiled-in defaults are overridden field-by-field by whatever
// the operator's YAML actually sets (the cmd/multiserver setupconfig
// idiom). Neither loader starts a session; they only produce plain structs
// for the caller to apply to the components it then hands to
// control.NewSession.
package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yml "gopkg.in/yaml.v2"

	"github.com/ejshaman54/electromagnet-control-program/kepco"
)

// Calibration is the Hall-probe and supply calibration, loaded from a
// standalone file that's rarely touched between sessions.
type Calibration struct {
	HallOffsetV float64 `yaml:"hall_offset_v"`
	HallSensTPV float64 `yaml:"hall_sensitivity_t_per_v"`
	ProgV0      float64 `yaml:"prog_v0"`
	I0A         float64 `yaml:"i0_a"`
	IperV       float64 `yaml:"i_per_v"`
	B0T         float64 `yaml:"b0_t"`
	TperA       float64 `yaml:"t_per_a"`
}

// LoadCalibration decodes a calibration YAML file directly into a
// Calibration struct, mirroring envsrv.LoadYaml's signature and behavior:
// open the file, decode, return whatever error the decoder produces.
func LoadCalibration(path string) (Calibration, error) {
	cal := Calibration{}
	f, err := os.Open(path)
	if err != nil {
		return cal, err
	}
	defer f.Close()

	err = yml.NewDecoder(f).Decode(&cal)
	return cal, err
}

// Session is the per-run operating configuration: everything an operator
// might reasonably edit between runs of the same physical setup.
type Session struct {
	AOChannel   uint32           `koanf:"ao_channel"`
	RangeIndex  uint32           `koanf:"range_index"`
	ClampMinV   float64          `koanf:"clamp_min_v"`
	ClampMaxV   float64          `koanf:"clamp_max_v"`
	SlewVps     float64          `koanf:"slew_vps"`
	EnableMode  kepco.EnableMode `koanf:"enable_mode"`
	DigitalChan uint32           `koanf:"digital_chan"`

	Kp       float64 `koanf:"kp"`
	Ki       float64 `koanf:"ki"`
	Kd       float64 `koanf:"kd"`
	IMin     float64 `koanf:"i_min"`
	IMax     float64 `koanf:"i_max"`
	OMin     float64 `koanf:"o_min"`
	OMax     float64 `koanf:"o_max"`
	RampTps  float64 `koanf:"ramp_tps"`
	DerivTau float64 `koanf:"deriv_tau_s"`

	FeedforwardEnabled bool    `koanf:"ff_enabled"`
	FeedforwardV0      float64 `koanf:"ff_v0"`
	FeedforwardVPerT   float64 `koanf:"ff_v_per_t"`

	FilterMode string  `koanf:"filter_mode"`
	FilterN    int     `koanf:"filter_n"`
	FilterTau  float64 `koanf:"filter_tau_s"`

	TickPeriodMs int `koanf:"tick_period_ms"`
}

// DefaultSession returns the compiled-in defaults layered under any
// operator-supplied YAML: 20 Hz ticking, slew and filtering disabled,
// output clamp wide open at ±10 V, no feedforward.
func DefaultSession() Session {
	return Session{
		RangeIndex:   0,
		ClampMinV:    -10,
		ClampMaxV:    10,
		SlewVps:      0,
		EnableMode:   kepco.EnableNone,
		IMin:         -10,
		IMax:         10,
		OMin:         -10,
		OMax:         10,
		RampTps:      0,
		DerivTau:     0,
		FilterMode:   "none",
		FilterN:      1,
		TickPeriodMs: 50,
	}
}

// LoadSession layers DefaultSession() under the YAML file at path using
// koanf: compiled defaults via structs.Provider, then the file itself via
// file.Provider+yaml.Parser() so only the keys the operator actually sets
// override the defaults. A missing file is not an error — the defaults
// alone are a valid Session — mirroring setupconfig's "file missing, who
// cares" tolerance.
func LoadSession(path string) (Session, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultSession(), "koanf"), nil); err != nil {
		return Session{}, err
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such") {
			return Session{}, err
		}
	}

	var s Session
	if err := k.Unmarshal("", &s); err != nil {
		return Session{}, err
	}
	return s, nil
}
