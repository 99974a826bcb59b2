package link

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// DefaultReadTimeout bounds a blocking read so the receiver observes cancellation
const DefaultReadTimeout = 100 * time.Millisecond

// SerialOpener opens a serial port
type SerialOpener struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
}

func (o SerialOpener) Open() (io.ReadCloser, error) {
	port, err := serial.Open(o.Port, &serial.Mode{BaudRate: o.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("error opening serial port %s: %w", o.Port, err)
	}

	timeout := o.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	if err = port.SetReadTimeout(timeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("error setting read timeout on %s: %w", o.Port, err)
	}

	return port, nil
}
