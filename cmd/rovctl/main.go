// Command rovctl runs the ROV thruster control loop: it reads the pendant
// buttons, gates them through the arming state machine and drives the
// thruster ESCs over the configured transport.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	yml "gopkg.in/yaml.v2"

	"github.com/michaelwjones/rov/drive"
	"github.com/michaelwjones/rov/input"
	"github.com/michaelwjones/rov/maestro"
	"github.com/michaelwjones/rov/pca9685"
	"github.com/michaelwjones/rov/rovcfg"
	"github.com/michaelwjones/rov/rpipwm"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "rovctl.yml"
)

func root() {
	str := `rovctl drives the vehicle's thrusters from the pendant buttons.

Usage:
	rovctl <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `rovctl is configured via its .yml file; run "rovctl mkconf" to write the
defaults and edit from there.

Transports and matching "Type" fields:
- Pololu Maestro servo controller over TTL serial or USB: "maestro"
	Port, Baud, Device, Compact, Crc
- PCA9685 16-channel PWM hat over I2C: "pca9685"
	Bus, Address
- Raspberry Pi native hardware PWM: "rpipwm"
	GPIO (channel -> pin; at most 2 channels, pins 12/13/18/19)

The vehicle arms by holding neutral for ArmingDwellSeconds plus
StartupDelaySeconds, then follows the buttons until shutdown or an
emergency stop.  An emergency stop (stop button, transport fault, or
SIGINT/SIGTERM) is terminal: restart the process to re-arm.

The Addr key serves read-only diagnostics over HTTP (/state, /status);
set it empty to disable.`
	fmt.Println(str)
}

func mkconf() {
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := yml.NewEncoder(f).Encode(rovcfg.Default()); err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c, err := rovcfg.Load(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	if err := yml.NewEncoder(os.Stdout).Encode(c); err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("rovctl version %v\n", Version)
}

// buildTransport opens the configured PWM backend.  Failure here is fatal to
// startup; the operator fixes the wiring or config and runs again.
func buildTransport(c rovcfg.Config) (drive.Transport, error) {
	switch c.Transport.Type {
	case rovcfg.TypeMaestro:
		m, err := maestro.New(c.Transport.Port, c.Transport.Baud)
		if err != nil {
			return nil, err
		}
		m.Device = byte(c.Transport.Device)
		m.Compact = c.Transport.Compact
		m.Crc = c.Transport.Crc
		return m, nil
	case rovcfg.TypePCA9685:
		addr := uint16(c.Transport.Address)
		if addr == 0 {
			addr = pca9685.DefaultAddr
		}
		return pca9685.New(c.Transport.Bus, addr, c.PWM.FrequencyHz)
	case rovcfg.TypeRpiPWM:
		gpio := make(map[int]int, len(c.Transport.GPIO))
		for _, pm := range c.Transport.GPIO {
			gpio[pm.Channel] = pm.Pin
		}
		return rpipwm.New(gpio, c.PWM.FrequencyHz)
	default:
		return nil, fmt.Errorf("%w: %q", rovcfg.ErrUnknownTransport, c.Transport.Type)
	}
}

func run() {
	c, err := rovcfg.Load(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	if err := c.Validate(); err != nil {
		log.Fatal(err)
	}

	transport, err := buildTransport(c)
	if err != nil {
		log.Fatal(err)
	}

	pendant, err := input.New(c.Buttons, c.Safety.EmergencyStopPin)
	if err != nil {
		transport.Close()
		log.Fatal(err)
	}
	defer pendant.Close()

	ctl, err := drive.New(drive.Params{
		Transport:    transport,
		Input:        pendant,
		Thrusters:    c.Thrusters,
		Bounds:       c.PWM.Bounds(),
		PowerLimit:   c.Safety.GlobalPowerLimit,
		UpdateHz:     c.UpdateHz,
		ArmingDwell:  c.Safety.ArmingDwell(),
		StartupDelay: c.Safety.StartupDelay(),
	})
	if err != nil {
		transport.Close()
		log.Fatal(err)
	}

	// the shutdown path owns a reference to the running controller; a
	// signal cancels the context and Run's own exit path flushes neutral
	// and releases the transport
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if c.Addr != "" {
		go func() {
			log.Println("diagnostics listening at", c.Addr)
			if err := http.ListenAndServe(c.Addr, ctl.Routes()); err != nil {
				log.Println("diagnostics server:", err)
			}
		}()
	}

	log.Printf("rov control started, transport=%s loop=%dHz limit=%.2f",
		c.Transport.Type, c.UpdateHz, c.Safety.GlobalPowerLimit)
	if err := ctl.Run(ctx); err != nil {
		log.Fatal(err)
	}
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd := strings.ToLower(args[1])
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "run":
		run()
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
}
