package sensor

import (
	"log/slog"
	"time"

	"go.bug.st/serial"

	"github.com/audiolibrelab/trialsync/internal/faults"
)

// pollInterval bounds how long a single port read blocks, so a cancelled
// context is noticed promptly.
const pollInterval = 100 * time.Millisecond

// OpenSerial opens the encoder's serial port at baud. Reads time out every
// pollInterval and ReadLine retries until a line arrives or ctx ends.
func OpenSerial(port string, baud int) (Source, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, faults.New(faults.KindConnection, "sensor.open", port, err)
	}
	if err := p.SetReadTimeout(pollInterval); err != nil {
		p.Close()
		return nil, faults.New(faults.KindConnection, "sensor.open", port, err)
	}
	slog.Debug("Serial port opened", "port", port, "baud", baud)
	return NewStreamSource(port, p, p), nil
}

// ListPorts returns the serial ports the OS reports.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
