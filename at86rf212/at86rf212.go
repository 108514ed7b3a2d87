// Package at86rf212 drives the Microchip (Atmel) AT86RF212 sub-GHz
// IEEE 802.15.4 transceiver over SPI.
//
// The transceiver signals frame reception and transmission completion on a
// single interrupt line, configured active-low by Init. The user must arrange
// for HandleInterrupt to be called from task context after each falling edge;
// on TinyGo the pin interrupt callback should only wake a goroutine that
// calls it.
package at86rf212

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soypat/chibi"
	"github.com/soypat/chibi/internal/ringbuf"
	"tinygo.org/x/drivers"
)

// PinOutput drives a GPIO line: true is high, false is low.
type PinOutput func(level bool)

// Pins are the GPIO lines used by the Device besides the SPI bus.
type Pins struct {
	CS           PinOutput // Active low chip select.
	Reset        PinOutput // Active low reset (RST).
	SleepTrigger PinOutput // SLP_TR.
	// HighGain drives the HGM line of an optional CC1190 front end. May be nil.
	HighGain PinOutput
}

var (
	// ErrWrongState is returned when the transceiver is asleep or a transmission
	// is already in flight.
	ErrWrongState = errors.New("at86rf212: wrong state")
	// ErrTimedOut is returned when the transceiver did not reach the requested
	// state or setting after the datasheet settle time.
	ErrTimedOut = errors.New("at86rf212: timed out")
	// ErrBusyTimeout is returned when the transceiver stays in a busy state
	// longer than the configured BusyTimeout.
	ErrBusyTimeout   = errors.New("at86rf212: busy state timeout")
	ErrNotDetected   = errors.New("at86rf212: device not detected")
	ErrFrameTooLong  = errors.New("at86rf212: frame too long")
	ErrInvalidState  = errors.New("at86rf212: state cannot be requested")
	ErrBroadcastAddr = errors.New("at86rf212: broadcast address cannot be assigned")
	ErrNoHighGainPin = errors.New("at86rf212: no high gain mode pin")

	errAsleep        = fmt.Errorf("%w: sleeping", ErrWrongState)
	errTxInFlight    = fmt.Errorf("%w: transmission in progress", ErrWrongState)
	errNotInit       = errors.New("at86rf212: device not initialized")
	errMissedRxState = errors.New("at86rf212: init did not end in receive state")
)

// Device is an AT86RF212 transceiver. Its methods are safe for concurrent use.
type Device struct {
	mu    sync.Mutex
	spi   drivers.SPI
	cs    PinOutput
	rst   PinOutput
	slptr PinOutput
	hgm   PinOutput
	// Level last driven on SLP_TR.
	slp bool

	delay       func(time.Duration)
	logger      *slog.Logger
	busyTimeout time.Duration
	mode        chibi.Mode
	rxState     State
	store       chibi.Store

	// rxmu serializes readers of rx, which supports a single consumer.
	// Acquired after mu when both are held.
	rxmu    sync.Mutex
	rx      *ringbuf.Ring
	txDone  chan struct{}
	rxReady chan struct{}
	pcb     pcb
	scratch [chibi.MaxFrameLength]byte
	buf     [4]byte
}

// pcb holds the state the interrupt handler shares with callers.
type pcb struct {
	srcAddr  atomic.Uint32
	panID    atomic.Uint32
	seq      atomic.Uint32
	ed       atomic.Uint32
	crc      atomic.Bool
	rcvd     atomic.Uint32
	overflow atomic.Uint32
	underrun atomic.Uint32
	battlow  atomic.Uint32
	dataRcv  atomic.Bool
}

// Stats is a snapshot of the receive measurements and event counters
// maintained by HandleInterrupt.
type Stats struct {
	ShortAddr  uint16
	ED         uint8 // Energy detected during the last reception.
	CRCValid   bool  // Whether the last received frame passed the FCS check.
	Received   uint32
	Overflow   uint32 // Frames dropped for lack of receive buffer space.
	Underrun   uint32
	BatteryLow uint32
}

// New returns a Device on bus. No bus transaction is performed until Init.
func New(bus drivers.SPI, pins Pins) *Device {
	d := &Device{
		spi:     bus,
		cs:      pins.CS,
		rst:     pins.Reset,
		slptr:   pins.SleepTrigger,
		hgm:     pins.HighGain,
		delay:   time.Sleep,
		txDone:  make(chan struct{}, 1),
		rxReady: make(chan struct{}, 1),
	}
	d.cs(true) // Make sure CS is high or first transaction will fail.
	return d
}

// Init resets the transceiver and configures it according to cfg, leaving it
// in receive state: RX_AACK_ON, or RX_ON if cfg.Promiscuous is set.
func (d *Device) Init(cfg chibi.Config) (err error) {
	if !cfg.Mode.IsValid() {
		return chibi.ErrInvalidMode
	}
	if !chibi.ValidChannel(cfg.Mode, cfg.Channel) {
		return chibi.ErrInvalidChannel
	}
	d.lock()
	defer d.unlock()
	d.applyConfig(cfg)
	err = d.reset(cfg.ResetRetries)
	if err != nil {
		return err
	}
	// Mask interrupts while configuring.
	err = d.write8(RegIRQMask, 0)
	if err != nil {
		return err
	}
	err = d.writeMasked8(RegTRXCtrl1, irqPolarityLow, irqPolarityLow)
	if err != nil {
		return err
	}
	err = d.writeMasked8(RegTRXState, cmdForceTRXOff, trxCmdMask)
	if err != nil {
		return err
	}
	err = d.waitState(StateTRXOff)
	if err != nil {
		return err
	}
	if cfg.FrameRetries != 0 {
		err = d.writeMasked8(RegXAHCtrl0, cfg.FrameRetries<<frameRetriesPos, frameRetryMask)
		if err != nil {
			return err
		}
	}
	if cfg.CSMARetries != 0 {
		err = d.writeMasked8(RegXAHCtrl0, cfg.CSMARetries<<csmaRetriesPos, csmaRetryMask)
		if err != nil {
			return err
		}
	}
	err = d.writeMasked8(RegCSMASeed1, frameVersion<<fvnPos, fvnMask)
	if err != nil {
		return err
	}
	err = d.write8(RegIRQMask, uint8(IRQRxStart|IRQTRXEnd))
	if err != nil {
		return err
	}
	if !cfg.Promiscuous {
		err = d.writeMasked8(RegTRXCtrl1, autoCRCOn, autoCRCOn)
		if err != nil {
			return err
		}
	}
	err = d.setMode(cfg.Mode)
	if err != nil {
		return err
	}
	err = d.write8(RegPHYTxPwr, uint8(cfg.Power))
	if err != nil {
		return err
	}
	err = d.setChannel(cfg.Channel)
	if err != nil {
		return err
	}
	err = d.setState(d.rxState)
	if err != nil {
		return err
	}
	err = d.write16(RegPANID0, cfg.PANID)
	if err != nil {
		return err
	}
	d.pcb.panID.Store(uint32(cfg.PANID))
	short, ieee := cfg.ShortAddr, cfg.IEEEAddr
	if d.store != nil {
		short, err = chibi.ReadShortAddr(d.store)
		if err != nil {
			return err
		}
		ieee, err = chibi.ReadIEEEAddr(d.store)
		if err != nil {
			return err
		}
	}
	err = d.write16(RegShortAddr0, short)
	if err != nil {
		return err
	}
	d.pcb.srcAddr.Store(uint32(short))
	err = d.write64(RegIEEEAddr0, ieee)
	if err != nil {
		return err
	}
	if d.hgm != nil {
		// CC1190 front end: start in low gain and drive it through the external PA control.
		d.hgm(false)
		err = d.writeMasked8(RegTRXCtrl1, paExtEn, paExtEn)
		if err != nil {
			return err
		}
		err = d.write8(RegPHYTxPwr, uint8(chibi.PowerCC1190))
		if err != nil {
			return err
		}
	}
	state, err := d.getState()
	if err != nil {
		return err
	}
	if state != d.rxState {
		d.logerr("init:state", slog.String("got", state.String()), slog.String("want", d.rxState.String()))
		return fmt.Errorf("%w: in %s", errMissedRxState, state)
	}
	d.info("init:done",
		slog.String("mode", cfg.Mode.String()),
		slog.Int("channel", int(cfg.Channel)),
		slog.Int("pan", int(cfg.PANID)),
		slog.Int("short", int(short)),
	)
	return nil
}

func (d *Device) applyConfig(cfg chibi.Config) {
	d.logger = cfg.Logger
	d.store = cfg.Store
	d.delay = cfg.Delay
	if d.delay == nil {
		d.delay = time.Sleep
	}
	d.busyTimeout = cfg.BusyTimeout
	if d.busyTimeout <= 0 {
		d.busyTimeout = chibi.DefaultBusyTimeout
	}
	size := cfg.RxBufferSize
	if size <= 0 {
		size = chibi.DefaultRxBufferSize
	}
	d.rxmu.Lock()
	if d.rx == nil || d.rx.Cap() != size {
		d.rx = ringbuf.New(size)
	} else {
		d.rx.Discard()
	}
	d.rxmu.Unlock()
	d.rxState = StateRxAACKOn
	if cfg.Promiscuous {
		d.rxState = StateRxOn
	}
}

// Reset pulses the reset line and waits until the transceiver identifies itself.
func (d *Device) Reset() error {
	d.lock()
	defer d.unlock()
	return d.reset(chibi.DefaultResetRetries)
}

func (d *Device) reset(retries int) (err error) {
	if retries <= 0 {
		retries = chibi.DefaultResetRetries
	}
	d.rst(true)
	d.setSleepTrigger(false)
	d.delay(timePOnToCLKMAvail)
	d.rst(false)
	d.delay(timeRstPulseWidth)
	d.rst(true)
	d.delay(timeResetTRXOff)
	for i := 0; i < retries; i++ {
		err = d.checkConnection()
		if err == nil {
			return nil
		}
		d.delay(timePOnToCLKMAvail)
	}
	d.logerr("reset:not-detected", slog.Int("retries", retries), slog.String("err", err.Error()))
	return err
}

// CheckConnection validates the device is connected and SPI is working by
// reading the part and version numbers.
func (d *Device) CheckConnection() error {
	d.lock()
	defer d.unlock()
	return d.checkConnection()
}

func (d *Device) checkConnection() error {
	part, err := d.read8(RegPartNum)
	if err != nil {
		return fmt.Errorf("failed to read from SPI: %w", err)
	}
	version, err := d.read8(RegVersionNum)
	if err != nil {
		return fmt.Errorf("failed to read from SPI: %w", err)
	}
	if part != partNumber || version != versionNumber {
		return fmt.Errorf("%w: part=%#x version=%#x", ErrNotDetected, part, version)
	}
	return nil
}

// SetChannel selects channel in the current mode and verifies the setting.
func (d *Device) SetChannel(channel uint8) error {
	d.lock()
	defer d.unlock()
	return d.setChannel(channel)
}

func (d *Device) setChannel(channel uint8) (err error) {
	if !chibi.ValidChannel(d.mode, channel) {
		return fmt.Errorf("%w: %d in %s", chibi.ErrInvalidChannel, channel, d.mode)
	}
	reg, mask, want := uint8(RegPHYCCCCA), uint8(ccaChannelMask), channel
	if d.mode == chibi.OQPSK780 {
		reg, mask, want = RegCCCtrl0, 0xff, 2*channel+ccChannelBase
		err = d.writeMasked8(RegCCCtrl1, ccBand769MHz, ccBandMask)
		if err == nil {
			err = d.write8(RegCCCtrl0, want)
		}
	} else {
		err = d.writeMasked8(RegPHYCCCCA, channel, ccaChannelMask)
	}
	if err != nil {
		return err
	}
	state, err := d.getState()
	if err != nil {
		return err
	}
	if state == StateRxOn || state == StatePLLOn {
		d.delay(timePLLLockTime) // PLL must relock on the new channel.
	}
	got, err := d.read8(reg)
	if err != nil {
		return err
	}
	if got&mask != want {
		return fmt.Errorf("%w: channel register %#x, want %#x", ErrTimedOut, got&mask, want)
	}
	return nil
}

// SetPower writes the transmit power register.
func (d *Device) SetPower(pwr chibi.Power) error {
	d.lock()
	defer d.unlock()
	return d.write8(RegPHYTxPwr, uint8(pwr))
}

// SetMode selects modulation and data rate. The channel should be set again
// after changing between bands.
func (d *Device) SetMode(mode chibi.Mode) error {
	d.lock()
	defer d.unlock()
	return d.setMode(mode)
}

func (d *Device) setMode(mode chibi.Mode) error {
	var ctrl2 uint8
	offset := uint8(oqpskTxOffset)
	switch mode {
	case chibi.OQPSK868:
		ctrl2 = 0x08 // Channel page 2, 100kb/s.
	case chibi.OQPSK915:
		ctrl2 = 0x0c // Channel page 2, 250kb/s.
	case chibi.OQPSK780:
		ctrl2 = 0x1c // Channel page 5, 250kb/s.
	case chibi.BPSK40, chibi.BPSK20:
		ctrl2 = 0x00 // Band is given by the channel.
		offset = bpskTxOffset
	default:
		return chibi.ErrInvalidMode
	}
	err := d.writeMasked8(RegTRXCtrl2, ctrl2, modeMask)
	if err != nil {
		return err
	}
	err = d.writeMasked8(RegRFCtrl0, offset, paOffsetMask)
	if err != nil {
		return err
	}
	d.mode = mode
	return nil
}

// SetPANID sets the PAN identifier used for address filtering.
func (d *Device) SetPANID(id uint16) error {
	d.lock()
	defer d.unlock()
	err := d.write16(RegPANID0, id)
	if err != nil {
		return err
	}
	d.pcb.panID.Store(uint32(id))
	return nil
}

// SetShortAddr sets the 16 bit node address and saves it to the Store, if any.
func (d *Device) SetShortAddr(addr uint16) error {
	if addr == chibi.BroadcastAddr {
		return ErrBroadcastAddr
	}
	d.lock()
	defer d.unlock()
	if d.store != nil {
		err := chibi.WriteShortAddr(d.store, addr)
		if err != nil {
			return err
		}
	}
	err := d.write16(RegShortAddr0, addr)
	if err != nil {
		return err
	}
	d.pcb.srcAddr.Store(uint32(addr))
	return nil
}

// ShortAddr returns the node address saved in the Store, or the one
// programmed in the transceiver if there is no Store.
func (d *Device) ShortAddr() (uint16, error) {
	d.lock()
	defer d.unlock()
	if d.store != nil {
		return chibi.ReadShortAddr(d.store)
	}
	return d.read16(RegShortAddr0)
}

// SetIEEEAddr sets the 64 bit extended address and saves it to the Store, if any.
func (d *Device) SetIEEEAddr(addr uint64) error {
	d.lock()
	defer d.unlock()
	if d.store != nil {
		err := chibi.WriteIEEEAddr(d.store, addr)
		if err != nil {
			return err
		}
	}
	return d.write64(RegIEEEAddr0, addr)
}

// IEEEAddr returns the extended address saved in the Store, or the one
// programmed in the transceiver if there is no Store.
func (d *Device) IEEEAddr() (uint64, error) {
	d.lock()
	defer d.unlock()
	if d.store != nil {
		return chibi.ReadIEEEAddr(d.store)
	}
	return d.read64(RegIEEEAddr0)
}

// Sleep puts the transceiver to sleep or wakes it back into receive state.
// While asleep state changes and transmissions fail with ErrWrongState.
func (d *Device) Sleep(enable bool) error {
	d.lock()
	defer d.unlock()
	if enable {
		err := d.setState(StateTRXOff)
		if err != nil {
			return err
		}
		d.setSleepTrigger(true)
		d.delay(timeTRXOffToSleep)
		return nil
	}
	d.setSleepTrigger(false)
	d.delay(timeSleepToTRXOff)
	return d.setState(d.rxState)
}

// SetHighGainMode switches the CC1190 front end between high and low gain.
func (d *Device) SetHighGainMode(enable bool) error {
	if d.hgm == nil {
		return ErrNoHighGainPin
	}
	d.hgm(enable)
	return nil
}

// ReadRegister reads a single register. It is intended for debugging.
func (d *Device) ReadRegister(addr uint8) (uint8, error) {
	d.lock()
	defer d.unlock()
	return d.read8(addr)
}

// WriteRegister writes a single register. It is intended for debugging;
// state changes must go through SetState.
func (d *Device) WriteRegister(addr, value uint8) error {
	d.lock()
	defer d.unlock()
	return d.write8(addr, value)
}

// ModifyRegister replaces the bits of register addr selected by mask with
// those of value.
func (d *Device) ModifyRegister(addr, value, mask uint8) error {
	d.lock()
	defer d.unlock()
	return d.writeMasked8(addr, value, mask)
}

// ReadFrame copies the oldest received frame, FCS included, into dst.
// It returns io.EOF if no frame is queued and io.ErrShortBuffer if dst
// cannot hold the frame, which is left queued.
func (d *Device) ReadFrame(dst []byte) (int, error) {
	d.rxmu.Lock()
	defer d.rxmu.Unlock()
	if d.rx == nil {
		return 0, io.EOF
	}
	n, err := d.rx.Get(dst)
	if d.rx.Len() == 0 {
		d.pcb.dataRcv.Store(false)
		if d.rx.Len() > 0 {
			// Raced with the interrupt handler.
			d.pcb.dataRcv.Store(true)
		}
	}
	return n, err
}

// Receive reads the oldest received frame into buf and splits it into data
// frame header and payload. The payload aliases buf.
func (d *Device) Receive(buf []byte) (chibi.Header, []byte, error) {
	n, err := d.ReadFrame(buf)
	if err != nil {
		return chibi.Header{}, nil, err
	}
	return chibi.ParseDataFrame(buf[:n])
}

// DataReceived reports whether frames are waiting to be read.
func (d *Device) DataReceived() bool { return d.pcb.dataRcv.Load() }

// Received returns a channel that is signaled after frames are queued.
func (d *Device) Received() <-chan struct{} { return d.rxReady }

// Stats returns a snapshot of the receive counters.
func (d *Device) Stats() Stats {
	return Stats{
		ShortAddr:  uint16(d.pcb.srcAddr.Load()),
		ED:         uint8(d.pcb.ed.Load()),
		CRCValid:   d.pcb.crc.Load(),
		Received:   d.pcb.rcvd.Load(),
		Overflow:   d.pcb.overflow.Load(),
		Underrun:   d.pcb.underrun.Load(),
		BatteryLow: d.pcb.battlow.Load(),
	}
}

func (d *Device) setSleepTrigger(b bool) {
	d.slp = b
	d.slptr(b)
}

func (d *Device) lock()   { d.mu.Lock() }
func (d *Device) unlock() { d.mu.Unlock() }
