package at86rf212

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"
)

// State reads the current transceiver state.
func (d *Device) State() (State, error) {
	d.lock()
	defer d.unlock()
	return d.getState()
}

// SetState requests a transition to target, which must be one of
// StateTRXOff, StatePLLOn, StateRxOn, StateRxAACKOn or StateTxARETOn.
// Transitions the hardware does not support directly are performed
// through PLL_ON.
func (d *Device) SetState(target State) error {
	d.lock()
	defer d.unlock()
	return d.setState(target)
}

func (d *Device) getState() (State, error) {
	v, err := d.read8(RegTRXStatus)
	return State(v & trxCmdMask), err
}

func (d *Device) setState(target State) error {
	if !target.commandable() {
		return fmt.Errorf("%w: %s", ErrInvalidState, target)
	}
	if d.slp {
		return errAsleep
	}
	curr, err := d.getState()
	if err != nil {
		return err
	}
	if curr.IsBusy() {
		curr, err = d.waitNotBusy(curr)
		if err != nil {
			return err
		}
	}

	switch target {
	case StateTRXOff:
		d.setSleepTrigger(false)
		err = d.writeMasked8(RegTRXState, cmdForceTRXOff, trxCmdMask)
		d.delay(timeAllStatesTRXOff)
	case StateRxOn, StateRxAACKOn, StateTxARETOn:
		if curr != target && (curr == StateRxOn || curr == StateRxAACKOn || curr == StateTxARETOn) {
			// No direct path between receive and extended operating modes.
			err = d.writeMasked8(RegTRXState, uint8(StatePLLOn), trxCmdMask)
			d.delay(timeRxOnToPLLOn)
		}
	}
	if err != nil {
		return err
	}

	err = d.writeMasked8(RegTRXState, uint8(target), trxCmdMask)
	if err != nil {
		return err
	}
	if curr == StateTRXOff {
		d.delay(timeTRXOffToPLLOn) // PLL must lock.
	} else {
		d.delay(timeRxOnToPLLOn)
	}

	got, err := d.getState()
	if err != nil {
		return err
	}
	if got != target {
		if d.logenabled(slog.LevelDebug) {
			d.debug("state:mismatch", slog.String("from", curr.String()),
				slog.String("want", target.String()), slog.String("got", got.String()))
		}
		return fmt.Errorf("%w: in %s, want %s", ErrTimedOut, got, target)
	}
	return nil
}

// waitNotBusy polls the state until it differs from busy and returns it.
func (d *Device) waitNotBusy(busy State) (State, error) {
	deadline := time.Now().Add(d.busyTimeout)
	for {
		state, err := d.getState()
		if err != nil {
			return state, err
		}
		if state != busy {
			return state, nil
		}
		if time.Since(deadline) > 0 {
			return state, fmt.Errorf("%w: stuck in %s", ErrBusyTimeout, busy)
		}
		runtime.Gosched()
	}
}

// waitState polls the state until it equals want.
func (d *Device) waitState(want State) error {
	deadline := time.Now().Add(d.busyTimeout)
	for {
		state, err := d.getState()
		if err != nil {
			return err
		}
		if state == want {
			return nil
		}
		if time.Since(deadline) > 0 {
			return fmt.Errorf("%w: in %s waiting for %s", ErrBusyTimeout, state, want)
		}
		runtime.Gosched()
	}
}
