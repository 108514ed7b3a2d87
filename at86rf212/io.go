package at86rf212

import (
	"errors"
	"log/slog"

	"github.com/soypat/chibi"
)

// Register access. All functions here expect the device lock held and
// bracket each transaction with chip select.

func (d *Device) read8(addr uint8) (uint8, error) {
	d.buf[0] = cmdRegRead | addr&regAddrMask
	d.buf[1] = 0
	d.enable(true)
	err := d.spi.Tx(d.buf[:2], d.buf[2:4])
	d.enable(false)
	if d.logenabled(levelTrace) {
		d.trace("reg:read", slog.Int("addr", int(addr)), slog.Int("val", int(d.buf[3])))
	}
	return d.buf[3], err
}

func (d *Device) write8(addr, value uint8) error {
	d.buf[0] = cmdRegWrite | addr&regAddrMask
	d.buf[1] = value
	d.enable(true)
	err := d.spi.Tx(d.buf[:2], nil)
	d.enable(false)
	if d.logenabled(levelTrace) {
		d.trace("reg:write", slog.Int("addr", int(addr)), slog.Int("val", int(value)))
	}
	return err
}

// writeMasked8 performs a read-modify-write of the bits of addr selected by mask.
func (d *Device) writeMasked8(addr, value, mask uint8) error {
	prev, err := d.read8(addr)
	if err != nil {
		return err
	}
	return d.write8(addr, prev&^mask|value&mask)
}

// read16 reads a little endian value held in two consecutive registers.
func (d *Device) read16(addr uint8) (uint16, error) {
	lo, err := d.read8(addr)
	if err != nil {
		return 0, err
	}
	hi, err := d.read8(addr + 1)
	return uint16(hi)<<8 | uint16(lo), err
}

func (d *Device) write16(addr uint8, value uint16) error {
	err := d.write8(addr, uint8(value))
	if err != nil {
		return err
	}
	return d.write8(addr+1, uint8(value>>8))
}

func (d *Device) read64(addr uint8) (v uint64, err error) {
	for i := uint8(0); i < 8; i++ {
		b, err := d.read8(addr + i)
		if err != nil {
			return 0, err
		}
		v |= uint64(b) << (8 * i)
	}
	return v, nil
}

func (d *Device) write64(addr uint8, value uint64) error {
	for i := uint8(0); i < 8; i++ {
		err := d.write8(addr+i, uint8(value>>(8*i)))
		if err != nil {
			return err
		}
	}
	return nil
}

// Frame buffer access.

var errSRAMRange = errors.New("at86rf212: SRAM access out of frame buffer range")

// writeFrame loads the frame buffer with the PHR followed by hdr and payload.
// The PHR accounts for the FCS appended by the transceiver.
func (d *Device) writeFrame(hdr, payload []byte) (err error) {
	n := len(hdr) + len(payload)
	if n > chibi.MaxPayload {
		return ErrFrameTooLong
	}
	d.enable(true)
	_, err = d.spi.Transfer(cmdFrameWrite)
	if err == nil {
		_, err = d.spi.Transfer(byte(n + chibi.FCSLength))
	}
	if err == nil && len(hdr) > 0 {
		err = d.spi.Tx(hdr, nil)
	}
	if err == nil && len(payload) > 0 {
		err = d.spi.Tx(payload, nil)
	}
	d.enable(false)
	return err
}

// readFrame drains the received frame from the frame buffer into the
// receive queue. Frames with an invalid length are left in the buffer,
// frames that do not fit the queue are read out and dropped.
func (d *Device) readFrame() error {
	d.enable(true)
	defer d.enable(false)
	_, err := d.spi.Transfer(cmdFrameRead)
	if err != nil {
		return err
	}
	length, err := d.spi.Transfer(0)
	if err != nil {
		return err
	}
	if length < chibi.MinFrameLength || length > chibi.MaxFrameLength {
		if d.logenabled(slog.LevelDebug) {
			d.debug("rx:bad-length", slog.Int("len", int(length)))
		}
		return nil
	}
	frame := d.scratch[:length]
	err = d.spi.Tx(nil, frame)
	if err != nil {
		return err
	}
	if !d.rx.Put(frame) {
		d.pcb.overflow.Add(1)
		if d.logenabled(slog.LevelWarn) {
			d.warn("rx:overflow", slog.Int("len", int(length)), slog.Int("buffered", d.rx.Len()))
		}
	}
	return nil
}

// ReadSRAM reads len(dst) bytes of the frame buffer starting at addr.
// It is intended for debugging.
func (d *Device) ReadSRAM(addr uint8, dst []byte) error {
	if int(addr)+len(dst) > chibi.MaxFrameLength+1 {
		return errSRAMRange
	}
	d.lock()
	defer d.unlock()
	d.enable(true)
	_, err := d.spi.Transfer(cmdSRAMRead)
	if err == nil {
		_, err = d.spi.Transfer(addr)
	}
	if err == nil && len(dst) > 0 {
		err = d.spi.Tx(nil, dst)
	}
	d.enable(false)
	return err
}

// WriteSRAM writes src into the frame buffer starting at addr.
// It is intended for debugging.
func (d *Device) WriteSRAM(addr uint8, src []byte) error {
	if int(addr)+len(src) > chibi.MaxFrameLength+1 {
		return errSRAMRange
	}
	d.lock()
	defer d.unlock()
	d.enable(true)
	_, err := d.spi.Transfer(cmdSRAMWrite)
	if err == nil {
		_, err = d.spi.Transfer(addr)
	}
	if err == nil && len(src) > 0 {
		err = d.spi.Tx(src, nil)
	}
	d.enable(false)
	return err
}

//go:inline
func (d *Device) enable(b bool) {
	d.cs(!b)
}
