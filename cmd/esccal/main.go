// Command esccal runs the one-shot ESC throttle-range calibration.  Run it
// once when setting up new ESCs; the motors will spin, so take the props off
// first.
//
// The procedure, per ESC: command max throttle, power-cycle the ESC so it
// latches the max point, command min throttle so it latches the min point,
// then command neutral.  Calibration goes through the Maestro transport, the
// same path the control loop uses.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/theckman/yacspin"

	"github.com/michaelwjones/rov/maestro"
	"github.com/michaelwjones/rov/pulse"
	"github.com/michaelwjones/rov/rovcfg"
)

var ConfigFileName = "rovctl.yml"

func prompt(msg string) {
	fmt.Printf("%s — press ENTER to continue...", msg)
	bufio.NewReader(os.Stdin).ReadString('\n')
}

// dwell shows a spinner while the ESC does its beeping.
func dwell(msg string, d time.Duration) {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:     100 * time.Millisecond,
		CharSet:       yacspin.CharSets[14],
		Suffix:        " ",
		Message:       msg,
		StopCharacter: "*",
	})
	if err != nil {
		// no terminal frills available; just wait
		fmt.Println(msg)
		time.Sleep(d)
		return
	}
	spinner.Start()
	time.Sleep(d)
	spinner.Stop()
}

func main() {
	c, err := rovcfg.Load(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	if c.Transport.Type != rovcfg.TypeMaestro {
		log.Fatalf("calibration runs over the maestro transport; configured type is %q", c.Transport.Type)
	}

	fmt.Println("ESC CALIBRATION")
	fmt.Println()
	fmt.Println("WARNING: remove propellers before calibrating; motors will spin.")
	prompt("Propellers removed and clear of the motors?")

	m, err := maestro.New(c.Transport.Port, c.Transport.Baud)
	if err != nil {
		log.Fatal(err)
	}
	defer m.Close()
	m.Device = byte(c.Transport.Device)
	m.Compact = c.Transport.Compact
	m.Crc = c.Transport.Crc

	bounds := c.PWM.Bounds()
	set := func(channel int, w pulse.Width) {
		if err := m.SetPulse(channel, w); err != nil {
			log.Fatalf("write to channel %d failed: %v", channel, err)
		}
	}
	setEvery := func(w pulse.Width) {
		for _, spec := range c.Thrusters {
			set(spec.Channel, w)
		}
	}

	for _, spec := range c.Thrusters {
		fmt.Printf("\ncalibrating %s (channel %d)\n", spec.Name, spec.Channel)

		// the ESC latches max throttle when it powers on seeing it
		fmt.Printf("  commanding MAX throttle (%dus)\n", bounds.Max)
		set(spec.Channel, bounds.Max)
		prompt("  DISCONNECT power to the ESC")
		prompt("  RECONNECT power to the ESC")
		dwell("  waiting for max-throttle beeps", 2*time.Second)

		fmt.Printf("  commanding MIN throttle (%dus)\n", bounds.Min)
		set(spec.Channel, bounds.Min)
		dwell("  waiting for min-throttle beeps", 3*time.Second)

		fmt.Printf("  commanding NEUTRAL (%dus)\n", bounds.Neutral)
		set(spec.Channel, bounds.Neutral)
		dwell("  waiting for confirmation beep", 2*time.Second)

		fmt.Printf("  %s calibrated\n", spec.Name)
	}

	fmt.Println("\ncalibration complete; spin test follows")
	prompt("Test all thrusters FORWARD?")
	setEvery(bounds.Max)
	dwell("forward", 2*time.Second)
	setEvery(bounds.Neutral)
	dwell("neutral", time.Second)

	prompt("Test all thrusters REVERSE?")
	setEvery(bounds.Min)
	dwell("reverse", 2*time.Second)
	setEvery(bounds.Neutral)
	dwell("neutral", time.Second)

	fmt.Println("\nESCs calibrated and ready; run rovctl for normal operation.")
}
