//go:build !wasm

package serial

import (
	"errors"
	"fmt"

	"github.com/tarm/serial"
)

var ErrNoDevice = errors.New("serial: no device configured")

// printerPort is a printer link over tarm/serial. A read that times out
// returns 0 bytes and no error, which the sink treats as silence.
type printerPort struct {
	*serial.Port
}

// withDefaults fills the fields the sink depends on. A zero read timeout
// would block the sink and stop it honouring its context.
func (c Config) withDefaults() Config {
	def := DefaultConfig(c.Device)
	if c.Baud <= 0 {
		c.Baud = def.Baud
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	return c
}

// Open opens the printer's serial device and discards whatever the
// firmware printed before we connected (boot banner, stale replies).
func Open(cfg *Config) (Port, error) {
	if cfg == nil || cfg.Device == "" {
		return nil, ErrNoDevice
	}
	c := cfg.withDefaults()

	port, err := serial.OpenPort(&serial.Config{
		Name:        c.Device,
		Baud:        c.Baud,
		ReadTimeout: c.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open printer port %s: %w", c.Device, err)
	}
	p := &printerPort{Port: port}
	if err := p.Flush(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("flush printer port %s: %w", c.Device, err)
	}
	return p, nil
}

// OpenSink opens the device and wraps it in a Sink. Closing the returned
// port ends the session.
func OpenSink(cfg *Config) (*Sink, Port, error) {
	port, err := Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	sink := NewSink(port)
	sink.log = sink.log.With().Str("device", cfg.Device).Logger()
	return sink, port, nil
}
