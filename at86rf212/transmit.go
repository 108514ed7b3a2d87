package at86rf212

import (
	"context"
	"log/slog"

	"github.com/soypat/chibi"
)

// Transmit sends a frame made of hdr followed by payload in extended
// operating mode (CSMA-CA and automatic retransmission) and waits for the
// interrupt handler to report completion. The FCS is appended by the
// transceiver. The returned TRAC tells whether the frame was acknowledged;
// a nil error does not imply delivery.
//
// If ctx is done before completion ctx.Err() is returned. The transceiver
// is returned to receive state by HandleInterrupt once the attempt ends.
func (d *Device) Transmit(ctx context.Context, hdr, payload []byte) (TRAC, error) {
	if len(hdr)+len(payload) > chibi.MaxPayload {
		return TRACInvalid, ErrFrameTooLong
	}
	err := d.startTx(hdr, payload)
	if err != nil {
		return TRACInvalid, err
	}
	select {
	case <-d.txDone:
	case <-ctx.Done():
		d.warn("tx:abandoned", slog.String("err", ctx.Err().Error()))
		return TRACInvalid, ctx.Err()
	}
	d.lock()
	defer d.unlock()
	status, err := d.read8(RegTRXState)
	if err != nil {
		return TRACInvalid, err
	}
	trac := TRAC(status >> tracPos)
	d.debug("tx:done", slog.Int("len", len(hdr)+len(payload)), slog.String("trac", trac.String()))
	return trac, nil
}

// Send transmits payload to the node with short address dst, or to every
// node in range if dst is chibi.BroadcastAddr, in a data frame carrying this
// node's PAN ID and short address.
func (d *Device) Send(ctx context.Context, dst uint16, payload []byte) (TRAC, error) {
	if len(payload) > chibi.MaxDataPayload {
		return TRACInvalid, ErrFrameTooLong
	}
	seq := uint8(d.pcb.seq.Add(1))
	hdr := chibi.DataHeader(seq, uint16(d.pcb.panID.Load()), dst, uint16(d.pcb.srcAddr.Load()))
	var buf [chibi.HeaderLength]byte
	return d.Transmit(ctx, hdr.Append(buf[:0]), payload)
}

func (d *Device) startTx(hdr, payload []byte) error {
	d.lock()
	defer d.unlock()
	if d.rx == nil {
		return errNotInit
	}
	state, err := d.getState()
	if err != nil {
		return err
	}
	if state == StateBusyTx || state == StateBusyTxARET {
		return errTxInFlight
	}
	// Drop a completion left by an abandoned transmission.
	select {
	case <-d.txDone:
	default:
	}
	err = d.setState(StateTRXOff)
	if err != nil {
		return err
	}
	err = d.setState(StateTxARETOn)
	if err != nil {
		return err
	}
	err = d.writeFrame(hdr, payload)
	if err != nil {
		return err
	}
	return d.writeMasked8(RegTRXState, cmdTxStart, trxCmdMask)
}
