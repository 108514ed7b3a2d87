package at86rf212

import "strconv"

// State is the radio transceiver state reported in TRX_STATUS. The states
// that can be requested share their value with the TRX_CMD command.
type State uint8

const (
	StatePOn                State = 0x00
	StateBusyRx             State = 0x01
	StateBusyTx             State = 0x02
	StateRxOn               State = 0x06
	StateTRXOff             State = 0x08
	StatePLLOn              State = 0x09
	StateSleep              State = 0x0f
	StateBusyRxAACK         State = 0x11
	StateBusyTxARET         State = 0x12
	StateRxAACKOn           State = 0x16
	StateTxARETOn           State = 0x19
	StateRxOnNoClk          State = 0x1c
	StateRxAACKOnNoClk      State = 0x1d
	StateBusyRxAACKNoClk    State = 0x1e
	StateTransitionProgress State = 0x1f
)

// TRX_CMD values without a State counterpart.
const (
	cmdNOP         = 0x00
	cmdTxStart     = 0x02
	cmdForceTRXOff = 0x03
	cmdForcePLLOn  = 0x04
)

func (s State) String() string {
	switch s {
	case StatePOn:
		return "P_ON"
	case StateBusyRx:
		return "BUSY_RX"
	case StateBusyTx:
		return "BUSY_TX"
	case StateRxOn:
		return "RX_ON"
	case StateTRXOff:
		return "TRX_OFF"
	case StatePLLOn:
		return "PLL_ON"
	case StateSleep:
		return "SLEEP"
	case StateBusyRxAACK:
		return "BUSY_RX_AACK"
	case StateBusyTxARET:
		return "BUSY_TX_ARET"
	case StateRxAACKOn:
		return "RX_AACK_ON"
	case StateTxARETOn:
		return "TX_ARET_ON"
	case StateRxOnNoClk:
		return "RX_ON_NOCLK"
	case StateRxAACKOnNoClk:
		return "RX_AACK_ON_NOCLK"
	case StateBusyRxAACKNoClk:
		return "BUSY_RX_AACK_NOCLK"
	case StateTransitionProgress:
		return "STATE_TRANSITION_IN_PROGRESS"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// IsBusy reports whether s is a transient state the hardware leaves on its own.
func (s State) IsBusy() bool {
	return s == StateBusyRx || s == StateBusyTx || s == StateBusyRxAACK || s == StateBusyTxARET
}

// IsReceiving reports whether s is a state in which frames are received.
func (s State) IsReceiving() bool {
	return s == StateRxOn || s == StateRxAACKOn || s == StateBusyRxAACK || s == StateBusyRx
}

// commandable reports whether s may be requested through TRX_CMD.
func (s State) commandable() bool {
	switch s {
	case StateRxOn, StateTRXOff, StatePLLOn, StateRxAACKOn, StateTxARETOn:
		return true
	}
	return false
}

// IRQ is the content of the IRQ_STATUS and IRQ_MASK registers.
type IRQ uint8

const (
	IRQPLLLock    IRQ = 1 << iota // PLL locked.
	IRQPLLUnlock                  // PLL unlocked.
	IRQRxStart                    // Start of PSDU reception.
	IRQTRXEnd                     // End of frame reception or transmission.
	IRQCCAEDReady                 // CCA or ED measurement done.
	IRQAMI                        // Address match.
	IRQTRXUnderrun                // Frame buffer underrun.
	IRQBatLow                     // Supply voltage below threshold.
)

func (f IRQ) String() string {
	return flags("BAT_LOW+ TRX_UR+ AMI+ CCA_ED_READY+ TRX_END+ RX_START+ PLL_UNLOCK+ PLL_LOCK+", 0xff, byte(f))
}

// TRAC is the outcome of the last extended mode transaction, read from the
// TRAC_STATUS field of TRX_STATE.
type TRAC uint8

const (
	TRACSuccess            TRAC = 0
	TRACSuccessDataPending TRAC = 1
	TRACWaitForACK         TRAC = 2
	TRACChannelAccessFail  TRAC = 3
	TRACNoACK              TRAC = 5
	TRACInvalid            TRAC = 7
)

func (t TRAC) String() string {
	switch t {
	case TRACSuccess:
		return "SUCCESS"
	case TRACSuccessDataPending:
		return "SUCCESS_DATA_PENDING"
	case TRACWaitForACK:
		return "SUCCESS_WAIT_FOR_ACK"
	case TRACChannelAccessFail:
		return "CHANNEL_ACCESS_FAILURE"
	case TRACNoACK:
		return "NO_ACK"
	case TRACInvalid:
		return "INVALID"
	}
	return "TRAC(" + strconv.Itoa(int(t)) + ")"
}

// OK reports whether the frame was acknowledged or did not request one.
func (t TRAC) OK() bool { return t == TRACSuccess || t == TRACSuccessDataPending }

// flags formats the bits of b selected by mask, most significant first,
// replacing each '+' in f with '+' or '-' for a set or cleared bit.
func flags(f string, mask, b byte) string {
	buf := make([]byte, len(f))
	m := byte(0x80)
	for i := range buf {
		if f[i] != '+' {
			buf[i] = f[i]
			continue
		}
		for mask&m == 0 {
			m >>= 1
		}
		if b&m == 0 {
			buf[i] = '-'
		} else {
			buf[i] = '+'
		}
		m >>= 1
	}
	return string(buf)
}
