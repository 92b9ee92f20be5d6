package link

import (
	"errors"
	"io"

	serial "github.com/jacobsa/go-serial/serial"
)

// NewSerial opens the probe on a serial port. The device id doubles as the
// port name when no port is configured.
func NewSerial(opts Options, p Poster) (Link, error) {
	port := opts.SerialPort
	if port == "" {
		port = opts.DeviceID
	}
	if port == "" {
		return nil, errors.New("serial: no port configured")
	}
	baud := opts.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	serialOpts := serial.OpenOptions{
		PortName:        port,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 0,
		ParityMode:      serial.PARITY_NONE,
		// reads return empty after 100ms so Stop is not stuck behind a
		// blocking read
		InterCharacterTimeout: 100,
	}
	return &lineLink{
		name:    "serial " + port,
		open:    func() (io.ReadWriteCloser, error) { return serial.Open(serialOpts) },
		idleEOF: true,
		post:    p,
		log:     loggerOf(opts),
	}, nil
}
