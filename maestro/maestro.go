/*Package maestro talks to a Pololu Maestro servo controller over TTL serial
or USB, as used to drive the vehicle's thruster ESCs.

Command primer:

targets are pulse widths in quarter-microsecond units (6000 == 1500us) and
travel as 14-bit values split into two 7-bit bytes, low bits first.  In the
compact protocol a set-target command is

	[0x84] [channel] [target low 7] [target high 7]

In the Pololu protocol the same command is prefixed with a start byte and a
device number so several controllers can share one bus, and the opcode drops
its high bit:

	[0xAA] [device] [0x04] [channel] [target low 7] [target high 7]

The controller can be configured to require a CRC-7 byte at the end of every
command; Crc enables that here.
*/
package maestro

import (
	"errors"
	"fmt"
	"time"

	"github.com/snksoft/crc"
	"github.com/tarm/serial"

	"github.com/michaelwjones/rov/comm"
	"github.com/michaelwjones/rov/pulse"
)

const (
	cmdSetTarget       = 0x84
	cmdSetSpeed        = 0x87
	cmdSetAcceleration = 0x89
	cmdGetPosition     = 0x90
	cmdGoHome          = 0xA2
	protocolStart      = 0xAA

	// targets, speeds and accelerations are 14-bit on the wire
	maxWireValue = 0x3FFF
)

var (
	// ErrShortWrite is generated when the port accepts fewer bytes than the
	// framed command holds
	ErrShortWrite = errors.New("maestro did not accept all bytes of command")

	// ErrShortResponse is generated when a position query returns fewer than
	// two bytes before the read timeout
	ErrShortResponse = errors.New("maestro returned a short position response")

	// crcParams is the Maestro's CRC-7: polynomial x^7+x^3+1, bit-reversed
	// byte order, zero init
	crcParams = &crc.Parameters{Width: 7, Polynomial: 0x09, ReflectIn: true, ReflectOut: true, Init: 0, FinalXor: 0}
)

// quarterMicros converts a pulse width to the Maestro's native quarter-
// microsecond units.  Widths that do not fit the 14-bit wire format are a
// programming error upstream (the mapper can never produce one from valid
// bounds) and panic rather than truncate.
func quarterMicros(w pulse.Width) uint16 {
	q := int(w) * 4
	if q < 0 || q > maxWireValue {
		panic(fmt.Sprintf("pulse width %dus does not fit the 14-bit wire format", w))
	}
	return uint16(q)
}

// widthFromQuarters is the inverse of quarterMicros, used to decode position
// responses.
func widthFromQuarters(q uint16) pulse.Width {
	return pulse.Width(q / 4)
}

// split14 splits a 14-bit value into its low and high 7-bit wire bytes.
func split14(v uint16) (lo, hi byte) {
	return byte(v & 0x7F), byte((v >> 7) & 0x7F)
}

// join14 reassembles a value split with split14.
func join14(lo, hi byte) uint16 {
	return uint16(lo&0x7F) | uint16(hi&0x7F)<<7
}

// crc7 returns the CRC byte the Maestro expects appended to cmd.
func crc7(cmd []byte) byte {
	return byte(crc.CalculateCRC(crcParams, cmd))
}

// makeSerConf makes a new serial.Config with the Maestro's framing (8N1) and
// a read timeout so a dead controller cannot wedge a position query.
func makeSerConf(addr string, baud int) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: time.Second}
}

// Maestro represents a Pololu Maestro servo controller.
type Maestro struct {
	pool *comm.Pool

	// Device is the controller's device number, used only by the Pololu
	// protocol.  The factory default is 12.
	Device byte

	// Compact selects the compact protocol (no start byte or device number).
	// It is the default for a controller fresh out of the box.
	Compact bool

	// Crc appends a CRC-7 byte to each command.  The controller must have
	// CRC checking enabled in its settings for this to work.
	Crc bool
}

// New opens a connection to a Maestro on the given port and returns the
// controller handle, speaking the compact protocol.  The open waits up to
// about a second for the port to stabilize; failure after that is returned,
// not retried.
func New(addr string, baud int) (*Maestro, error) {
	maker := comm.BackingOffSerialConnMaker(makeSerConf(addr, baud), time.Second)
	pool := comm.NewPool(1, maker)
	// probe the port now; a bad path or wedged adapter should fail startup,
	// not the first commanded pulse
	conn, err := pool.Get()
	if err != nil {
		return nil, fmt.Errorf("maestro: opening %s: %w", addr, err)
	}
	pool.Put(conn)
	return &Maestro{pool: pool, Device: 12, Compact: true}, nil
}

// frame builds the wire form of a command in the configured protocol.
func (m *Maestro) frame(opcode byte, data ...byte) []byte {
	var cmd []byte
	if m.Compact {
		cmd = append([]byte{opcode}, data...)
	} else {
		cmd = append([]byte{protocolStart, m.Device, opcode & 0x7F}, data...)
	}
	if m.Crc {
		cmd = append(cmd, crc7(cmd))
	}
	return cmd
}

func (m *Maestro) write(cmd []byte) error {
	conn, err := m.pool.Get()
	if err != nil {
		return err
	}
	defer func() { m.pool.ReturnWithError(conn, err) }()
	n, err := conn.Write(cmd)
	if err != nil {
		return err
	}
	if n != len(cmd) {
		err = ErrShortWrite
		return err
	}
	return nil
}

// SetPulse commands a channel to the given pulse width.  Fire and forget; the
// controller sends no acknowledgement.
func (m *Maestro) SetPulse(channel int, w pulse.Width) error {
	lo, hi := split14(quarterMicros(w))
	return m.write(m.frame(cmdSetTarget, byte(channel), lo, hi))
}

// SetSpeed limits how fast a channel slews between targets, in units of
// quarter-microseconds per 10ms.  Zero is unlimited.
func (m *Maestro) SetSpeed(channel int, speed uint16) error {
	lo, hi := split14(speed & maxWireValue)
	return m.write(m.frame(cmdSetSpeed, byte(channel), lo, hi))
}

// SetAcceleration limits how fast a channel's speed changes.  Zero is
// unlimited.
func (m *Maestro) SetAcceleration(channel int, accel uint16) error {
	lo, hi := split14(accel & maxWireValue)
	return m.write(m.frame(cmdSetAcceleration, byte(channel), lo, hi))
}

// GoHome sends every channel to its configured home position.
func (m *Maestro) GoHome() error {
	return m.write(m.frame(cmdGoHome))
}

// GetPosition reads back the pulse width a channel is currently driving.
// The response is two bytes, little-endian, in quarter-microseconds.
//
// Diagnostic only; the control loop never reads back in its hot path.
func (m *Maestro) GetPosition(channel int) (pulse.Width, error) {
	conn, err := m.pool.Get()
	if err != nil {
		return 0, err
	}
	defer func() { m.pool.ReturnWithError(conn, err) }()
	cmd := m.frame(cmdGetPosition, byte(channel))
	n, err := conn.Write(cmd)
	if err != nil {
		return 0, err
	}
	if n != len(cmd) {
		err = ErrShortWrite
		return 0, err
	}
	var buf [2]byte
	nTotal := 0
	// the controller may dribble the response one byte at a time
	for nTotal < 2 {
		n, err = conn.Read(buf[nTotal:])
		nTotal += n
		if err != nil {
			return 0, err
		}
		if n == 0 {
			err = ErrShortResponse
			return 0, err
		}
	}
	return widthFromQuarters(uint16(buf[0]) | uint16(buf[1])<<8), nil
}

// Close releases the serial port.
func (m *Maestro) Close() error {
	return m.pool.Close()
}
