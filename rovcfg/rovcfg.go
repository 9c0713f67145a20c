/*Package rovcfg holds the vehicle configuration: pulse bounds, thruster
specs, transport connection parameters and safety settings.  Everything here
is loaded once at startup and immutable afterward.

The file format is YAML; defaults mirror the vehicle as wired (three
thrusters on a Maestro at /dev/serial0, pendant buttons on the GPIO header).
*/
package rovcfg

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/michaelwjones/rov/drive"
	"github.com/michaelwjones/rov/pulse"
)

// Transport types understood by the loader.
const (
	TypeMaestro = "maestro"
	TypePCA9685 = "pca9685"
	TypeRpiPWM  = "rpipwm"
)

var (
	// ErrUnknownTransport is generated when Transport.Type names no backend
	ErrUnknownTransport = errors.New("unknown transport type")

	// ErrBadFrequency is generated when the PWM frequency is not positive
	ErrBadFrequency = errors.New("pwm frequency must be positive")

	// ErrUnknownButton is generated when a thruster references a button with
	// no pin configured
	ErrUnknownButton = errors.New("thruster references a button with no pin")
)

// TransportConfig selects and parameterizes the PWM backend.
type TransportConfig struct {
	// Type is one of maestro, pca9685, rpipwm
	Type string `yaml:"Type"`

	// Port, Baud, Device, Compact and Crc configure the maestro backend.
	// Device and the protocol flags only matter when several controllers
	// share the bus or CRC checking is enabled on the controller.
	Port    string `yaml:"Port"`
	Baud    int    `yaml:"Baud"`
	Device  int    `yaml:"Device"`
	Compact bool   `yaml:"Compact"`
	Crc     bool   `yaml:"Crc"`

	// Bus and Address configure the pca9685 backend
	Bus     string `yaml:"Bus"`
	Address int    `yaml:"Address"`

	// GPIO maps thruster channels to BCM pins for the rpipwm backend
	GPIO []PinMap `yaml:"GPIO"`
}

// PinMap wires one thruster channel to one BCM pin.
type PinMap struct {
	Channel int `yaml:"Channel"`
	Pin     int `yaml:"Pin"`
}

// PWMConfig holds the pulse timing shared by every channel.
type PWMConfig struct {
	// FrequencyHz is the PWM repetition rate; 50 is standard for ESCs
	FrequencyHz int `yaml:"FrequencyHz"`

	// MinPulse, Neutral, MaxPulse and Deadband are microseconds
	MinPulse int `yaml:"MinPulse"`
	Neutral  int `yaml:"Neutral"`
	MaxPulse int `yaml:"MaxPulse"`
	Deadband int `yaml:"Deadband"`
}

// Bounds converts the timing config to the pipeline's bounds type.
func (p PWMConfig) Bounds() pulse.Bounds {
	return pulse.Bounds{
		Min:      pulse.Width(p.MinPulse),
		Neutral:  pulse.Width(p.Neutral),
		Max:      pulse.Width(p.MaxPulse),
		Deadband: pulse.Width(p.Deadband),
	}
}

// SafetyConfig holds the arming and limiting parameters.
type SafetyConfig struct {
	// GlobalPowerLimit scales every channel's output, in [0, 1]
	GlobalPowerLimit float64 `yaml:"GlobalPowerLimit"`

	// ArmingDwellSeconds is the mandatory neutral hold before the ESCs
	// accept throttle; StartupDelaySeconds is an extra settling period
	ArmingDwellSeconds  float64 `yaml:"ArmingDwellSeconds"`
	StartupDelaySeconds float64 `yaml:"StartupDelaySeconds"`

	// EmergencyStopPin is the BCM pin of the physical stop button, -1 for
	// none
	EmergencyStopPin int `yaml:"EmergencyStopPin"`
}

// ArmingDwell returns the dwell as a duration.
func (s SafetyConfig) ArmingDwell() time.Duration {
	return time.Duration(s.ArmingDwellSeconds * float64(time.Second))
}

// StartupDelay returns the startup delay as a duration.
func (s SafetyConfig) StartupDelay() time.Duration {
	return time.Duration(s.StartupDelaySeconds * float64(time.Second))
}

// Config is the whole configuration file.
type Config struct {
	// Addr is the listen address for the read-only diagnostics routes;
	// empty disables the HTTP server
	Addr string `yaml:"Addr"`

	// UpdateHz is the control loop rate
	UpdateHz int `yaml:"UpdateHz"`

	Transport TransportConfig      `yaml:"Transport"`
	PWM       PWMConfig            `yaml:"PWM"`
	Safety    SafetyConfig         `yaml:"Safety"`
	Thrusters []drive.ThrusterSpec `yaml:"Thrusters"`

	// Buttons maps pendant button names to BCM pins
	Buttons map[string]int `yaml:"Buttons"`
}

// Default returns the configuration for the vehicle as wired.
func Default() Config {
	return Config{
		Addr:     ":8000",
		UpdateHz: 20,
		Transport: TransportConfig{
			Type:    TypeMaestro,
			Port:    "/dev/serial0",
			Baud:    9600,
			Device:  12,
			Compact: true,
		},
		PWM: PWMConfig{
			FrequencyHz: 50,
			MinPulse:    1000,
			Neutral:     1500,
			MaxPulse:    2000,
			Deadband:    50,
		},
		Safety: SafetyConfig{
			GlobalPowerLimit:    1.0,
			ArmingDwellSeconds:  3,
			StartupDelaySeconds: 2,
			EmergencyStopPin:    26,
		},
		Thrusters: []drive.ThrusterSpec{
			{Name: "port", Channel: 0, DirectionMultiplier: 1, MaxPower: 1, ForwardButton: "h1_forward", BackButton: "h1_back"},
			{Name: "starboard", Channel: 1, DirectionMultiplier: -1, MaxPower: 1, ForwardButton: "h2_forward", BackButton: "h2_back"},
			{Name: "vertical", Channel: 2, DirectionMultiplier: 1, MaxPower: 1, ForwardButton: "v_up", BackButton: "v_down"},
		},
		Buttons: map[string]int{
			"h1_forward": 5,
			"h1_back":    6,
			"h2_forward": 19,
			"h2_back":    20,
			"v_up":       21,
			"v_down":     16,
		},
	}
}

// Validate checks the parts of the config the pipeline cannot check for
// itself (the controller validates bounds, specs and limits when built).
func (c Config) Validate() error {
	switch c.Transport.Type {
	case TypeMaestro, TypePCA9685, TypeRpiPWM:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport.Type)
	}
	if c.PWM.FrequencyHz <= 0 {
		return fmt.Errorf("%w: %d", ErrBadFrequency, c.PWM.FrequencyHz)
	}
	for _, spec := range c.Thrusters {
		for _, button := range []string{spec.ForwardButton, spec.BackButton} {
			if button == "" {
				continue
			}
			if _, ok := c.Buttons[button]; !ok {
				return fmt.Errorf("%w: %q wants %q", ErrUnknownButton, spec.Name, button)
			}
		}
	}
	return nil
}

// Load reads the config file at path layered over the defaults.  A missing
// file yields the defaults; a malformed one is an error.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	k.Load(structs.Provider(Default(), "koanf"), nil)
	if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
		if !errors.Is(err, os.ErrNotExist) && !strings.Contains(err.Error(), "no such") {
			return Config{}, fmt.Errorf("loading config %s: %w", path, err)
		}
	}
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return c, nil
}
