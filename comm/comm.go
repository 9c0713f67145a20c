/*Package comm provides connection management for the buses the thruster
transports sit on.

Transports own exactly one physical port, but the port is touched from more
than one place: the control loop writes pulse commands every tick, and the
diagnostics HTTP routes may query position at any time.  A Pool with one
connection serializes that access without the transports needing their own
locking.

Most usages boil down to:
 1. build a CreationFunc for the bus, e.g. with SerialConnMaker
 2. wrap it in a Pool of size 1
 3. Get a connection, use it, and give it back with ReturnWithError
*/
package comm

import (
	"io"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// CreationFunc is a function which returns a new "connection" to something.
// A closure should be used to encapsulate the variables and functions needed.
type CreationFunc func() (io.ReadWriteCloser, error)

// SerialConnMaker returns a CreationFunc which opens the serial port
// described by conf.
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(conf)
	}
}

// BackingOffSerialConnMaker is SerialConnMaker with retry.  Opens are retried
// with exponential backoff until maxElapsed has passed; some USB-serial
// adapters enumerate a beat after the device node appears, and ESCs do not
// appreciate being connection thrashed.
func BackingOffSerialConnMaker(conf *serial.Config, maxElapsed time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn io.ReadWriteCloser
		op := func() error {
			var err error
			conn, err = serial.OpenPort(conf)
			return err
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         250 * time.Millisecond,
			MaxElapsedTime:      maxElapsed,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
