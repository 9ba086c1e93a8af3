package ezsp

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// serialPort wraps a serial connection to the radio's USB dongle.
//
// Grounded on the teacher's SerialPort (urmzd-homai pkg/zigbee/serial.go),
// unchanged apart from taking an injected logger instead of the global
// rs/zerolog/log singleton, matching this module's per-component logger
// convention.
type serialPort struct {
	port   serial.Port
	mu     sync.Mutex
	logger zerolog.Logger
}

// openSerial opens the serial port at 115200 baud, 8N1, and enables RTS —
// the Silicon Labs EZSP dongles this layer targets require RTS/CTS
// hardware flow control.
func openSerial(portPath string, logger zerolog.Logger) (*serialPort, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portPath, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portPath, err)
	}

	if err := port.SetRTS(true); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set RTS: %w", err)
	}

	logger.Info().Str("port", portPath).Msg("serial port opened")

	return &serialPort{port: port, logger: logger}, nil
}

func (s *serialPort) Write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Write(data)
}

func (s *serialPort) Read(buf []byte) (int, error) {
	return s.port.Read(buf)
}

func (s *serialPort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}

func (s *serialPort) ReadByte() (byte, error) {
	buf := make([]byte, 1)
	_, err := io.ReadFull(s.port, buf)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}
