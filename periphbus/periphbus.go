// Package periphbus connects the at86rf212 driver to a Linux host through
// periph.io, typically a Raspberry Pi with the transceiver on spidev.
//
// Chip select is driven as a plain GPIO since the driver keeps it asserted
// across several transfers when streaming frames.
package periphbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soypat/chibi/at86rf212"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

// DefaultFrequency is safely below the 7.5MHz limit of the transceiver's
// synchronous SPI mode.
const DefaultFrequency = 4 * physic.MegaHertz

// irqPoll bounds how long WatchIRQ blocks before checking for cancellation
// and a missed edge.
const irqPoll = 100 * time.Millisecond

// SPI adapts a periph.io connection to the drivers.SPI interface used by
// at86rf212.Device.
type SPI struct {
	c     conn.Conn
	port  spi.PortCloser
	zeros [128]byte
	b     [2]byte
}

// NewSPI wraps an already connected c. An spi.Conn should have been
// connected with spi.NoCS.
func NewSPI(c conn.Conn) *SPI {
	return &SPI{c: c}
}

// Open opens the SPI port by name (empty for the first one available) and
// connects to it in mode 0 without hardware chip select.
func Open(name string, freq physic.Frequency) (*SPI, error) {
	if freq == 0 {
		freq = DefaultFrequency
	}
	port, err := spireg.Open(name)
	if err != nil {
		return nil, err
	}
	c, err := port.Connect(freq, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("connecting to %s: %w", port, err)
	}
	s := NewSPI(c)
	s.port = port
	return s, nil
}

// Close releases the port if it was opened with Open.
func (s *SPI) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}

// Tx performs a full duplex transfer. Either w or r may be nil.
func (s *SPI) Tx(w, r []byte) error {
	if len(w) == 0 && len(r) == 0 {
		return nil
	}
	if len(w) == 0 {
		if len(r) <= len(s.zeros) {
			w = s.zeros[:len(r)]
		} else {
			w = make([]byte, len(r))
		}
	}
	return s.c.Tx(w, r)
}

// Transfer writes b and returns the byte clocked in at the same time.
func (s *SPI) Transfer(b byte) (byte, error) {
	s.b[0] = b
	err := s.c.Tx(s.b[:1], s.b[1:2])
	return s.b[1], err
}

// Output returns a PinOutput driving p.
func Output(p gpio.PinOut) at86rf212.PinOutput {
	return func(level bool) {
		p.Out(gpio.Level(level))
	}
}

// PinNames holds the gpioreg names of the transceiver control lines.
// HighGain is optional.
type PinNames struct {
	CS, Reset, SleepTrigger, HighGain string
}

// Pins looks up the named GPIOs and sets them as outputs: chip select
// deasserted, reset released and sleep trigger low.
func Pins(names PinNames) (at86rf212.Pins, error) {
	var pins at86rf212.Pins
	cs, err := outPin(names.CS, gpio.High)
	if err != nil {
		return pins, err
	}
	rst, err := outPin(names.Reset, gpio.High)
	if err != nil {
		return pins, err
	}
	slptr, err := outPin(names.SleepTrigger, gpio.Low)
	if err != nil {
		return pins, err
	}
	pins = at86rf212.Pins{CS: Output(cs), Reset: Output(rst), SleepTrigger: Output(slptr)}
	if names.HighGain != "" {
		hgm, err := outPin(names.HighGain, gpio.Low)
		if err != nil {
			return pins, err
		}
		pins.HighGain = Output(hgm)
	}
	return pins, nil
}

func outPin(name string, initial gpio.Level) (gpio.PinIO, error) {
	if name == "" {
		return nil, errors.New("periphbus: missing pin name")
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("periphbus: no GPIO named %q", name)
	}
	err := p.Out(initial)
	if err != nil {
		return nil, fmt.Errorf("periphbus: %s: %w", name, err)
	}
	return p, nil
}

// IRQPin looks up the interrupt line by name.
func IRQPin(name string) (gpio.PinIn, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("periphbus: no GPIO named %q", name)
	}
	return p, nil
}

// WatchIRQ calls fn for every falling edge of the active low interrupt line
// until ctx is done, and returns ctx.Err(). fn is typically
// (*at86rf212.Device).HandleInterrupt. The line is also sampled after every
// poll timeout so that an edge missed while fn was running is not lost.
func WatchIRQ(ctx context.Context, pin gpio.PinIn, fn func()) error {
	err := pin.In(gpio.Float, gpio.FallingEdge)
	if err != nil {
		return err
	}
	defer pin.In(gpio.Float, gpio.NoEdge)
	if pin.Read() == gpio.Low {
		fn()
	}
	for ctx.Err() == nil {
		if pin.WaitForEdge(irqPoll) || pin.Read() == gpio.Low {
			fn()
		}
	}
	return ctx.Err()
}
