package at86rf212

import (
	"errors"
	"log/slog"
)

// HandleInterrupt services the transceiver interrupt line. It reads and
// thereby clears IRQ_STATUS, then handles every pending event in priority
// order: RX_START, TRX_END, TRX_UR, PLL_UNLOCK, PLL_LOCK, BAT_LOW.
//
// After TRX_END the transceiver is always returned to receive state.
// Received frames with a valid FCS are queued for ReadFrame; a completed
// transmission releases the waiting Transmit call.
func (d *Device) HandleInterrupt() {
	d.lock()
	defer d.unlock()
	if d.rx == nil {
		return // Not initialized.
	}
	status, err := d.read8(RegIRQStatus)
	if err != nil {
		d.logerr("irq:status", slog.String("err", err.Error()))
		return
	}
	irq := IRQ(status)
	if d.logenabled(levelTrace) {
		d.trace("irq", slog.String("flags", irq.String()))
	}
	for irq != 0 {
		switch {
		case irq&IRQRxStart != 0:
			irq &^= IRQRxStart
		case irq&IRQTRXEnd != 0:
			irq &^= IRQTRXEnd
			d.handleTRXEnd()
		case irq&IRQTRXUnderrun != 0:
			irq &^= IRQTRXUnderrun
			d.pcb.underrun.Add(1)
		case irq&IRQPLLUnlock != 0:
			irq &^= IRQPLLUnlock
		case irq&IRQPLLLock != 0:
			irq &^= IRQPLLLock
		case irq&IRQBatLow != 0:
			irq &^= IRQBatLow
			d.pcb.battlow.Add(1)
		default:
			// CCA_ED_READY and AMI: not enabled in IRQ_MASK, cleared so dispatch terminates.
			irq &^= IRQCCAEDReady | IRQAMI
		}
	}
}

func (d *Device) handleTRXEnd() {
	state, err := d.getState()
	if err != nil {
		d.logerr("irq:trx-end", slog.String("err", err.Error()))
	} else if state.IsReceiving() {
		d.receive()
	} else {
		select {
		case d.txDone <- struct{}{}:
		default:
		}
	}
	for {
		err = d.setState(d.rxState)
		switch {
		case err == nil:
			return
		case errors.Is(err, ErrTimedOut) || errors.Is(err, ErrBusyTimeout):
			if d.logenabled(slog.LevelDebug) {
				d.debug("irq:rearm-retry", slog.String("err", err.Error()))
			}
		case errors.Is(err, ErrWrongState):
			// Put to sleep meanwhile; Sleep(false) restores receive state.
			return
		default:
			d.logerr("irq:rearm", slog.String("err", err.Error()))
			return
		}
	}
}

func (d *Device) receive() {
	ed, err := d.read8(RegPHYEDLevel)
	if err != nil {
		d.logerr("irq:ed", slog.String("err", err.Error()))
		return
	}
	rssi, err := d.read8(RegPHYRSSI)
	if err != nil {
		d.logerr("irq:rssi", slog.String("err", err.Error()))
		return
	}
	crcValid := rssi&rssiCRCValid != 0
	d.pcb.ed.Store(uint32(ed))
	d.pcb.crc.Store(crcValid)
	if !crcValid {
		return // Corrupted frames stay in the frame buffer.
	}
	err = d.readFrame()
	if err != nil {
		d.logerr("irq:frame-read", slog.String("err", err.Error()))
		return
	}
	d.pcb.rcvd.Add(1)
	d.pcb.dataRcv.Store(true)
	select {
	case d.rxReady <- struct{}{}:
	default:
	}
}
