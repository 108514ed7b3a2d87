package at86rf212

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soypat/chibi"
)

// fakeChip emulates the SPI protocol and state machine of an AT86RF212 well
// enough to exercise the driver.
type fakeChip struct {
	t  *testing.T
	mu sync.Mutex

	regs  [64]byte
	fb    [128]byte // Frame buffer. fb[0] is the PHR.
	state State
	trac  TRAC

	// Bus bookkeeping.
	selected bool
	cur      []byte   // MOSI bytes of the transaction in progress.
	txns     [][]byte // Completed transactions.
	framePos int      // Frame buffer bytes clocked out after the PHR in the current frame read.
	// Total PSDU bytes clocked out by frame reads.
	frameReadBytes int

	// Behavior knobs.
	busyPolls  int            // TRX_STATUS reads that return busyState before settling.
	busyState  State          // Reported while busyPolls > 0.
	refuse     map[State]bool // Requested states that are never reached.
	txResult   TRAC           // TRAC reported by the next transmission.
	slptr      bool
	resets     int
	wrongIdent bool

	transitions []State // Every state entered through TRX_CMD.
	illegal     []State // Commands rejected by the state machine.
	irq         chan struct{}
}

func newFakeChip(t *testing.T) *fakeChip {
	c := &fakeChip{
		t:      t,
		state:  StatePOn,
		refuse: make(map[State]bool),
		irq:    make(chan struct{}, 8),
	}
	c.powerOnDefaults()
	return c
}

func (c *fakeChip) powerOnDefaults() {
	c.regs = [64]byte{}
	c.regs[RegPartNum] = partNumber
	c.regs[RegVersionNum] = versionNumber
	c.regs[RegManID0] = 0x1f
	c.regs[RegTRXCtrl1] = 0x22
	c.regs[RegTRXCtrl2] = 0x0c
	c.regs[RegPHYCCCCA] = 0x21
	c.regs[RegXAHCtrl0] = 0x38
	c.regs[RegCSMASeed1] = 0x42
	if c.wrongIdent {
		c.regs[RegPartNum] = 0x03
	}
}

// newTestDevice returns a Device on a fake chip with delays disabled.
func newTestDevice(t *testing.T) (*Device, *fakeChip) {
	c := newFakeChip(t)
	d := New(c, Pins{CS: c.setCS, Reset: c.setReset, SleepTrigger: c.setSlpTr})
	return d, c
}

func testConfig() chibi.Config {
	cfg := chibi.DefaultConfig()
	cfg.Delay = func(time.Duration) {}
	return cfg
}

func initTestDevice(t *testing.T) (*Device, *fakeChip) {
	d, c := newTestDevice(t)
	err := d.Init(testConfig())
	if err != nil {
		t.Fatal("init:", err)
	}
	c.clearLog()
	return d, c
}

// serveIRQ calls HandleInterrupt for every interrupt raised by the chip
// until the returned function is called.
func (c *fakeChip) serveIRQ(d *Device) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-c.irq:
				d.HandleInterrupt()
			case <-done:
				return
			}
		}
	}()
	return func() { close(done); wg.Wait() }
}

// GPIO.

func (c *fakeChip) setCS(level bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !level && !c.selected {
		c.selected = true
		c.cur = nil
		c.framePos = 0
	} else if level && c.selected {
		c.selected = false
		c.txns = append(c.txns, c.cur)
	}
}

func (c *fakeChip) setReset(level bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !level {
		c.resets++
		c.powerOnDefaults()
		c.state = StateTRXOff
	}
}

func (c *fakeChip) setSlpTr(level bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slptr = level
	if level && c.state == StateTRXOff {
		c.state = StateSleep
	} else if !level && c.state == StateSleep {
		c.state = StateTRXOff
	}
}

// drivers.SPI implementation.

func (c *fakeChip) Tx(w, r []byte) error {
	n := len(w)
	if len(r) > n {
		n = len(r)
	}
	for i := 0; i < n; i++ {
		var in byte
		if w != nil {
			in = w[i]
		}
		out, err := c.Transfer(in)
		if err != nil {
			return err
		}
		if r != nil {
			r[i] = out
		}
	}
	return nil
}

var errNotSelected = errors.New("fake: transfer without chip select")

func (c *fakeChip) Transfer(in byte) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.selected {
		c.t.Error("SPI transfer with CS deasserted")
		return 0, errNotSelected
	}
	pos := len(c.cur)
	c.cur = append(c.cur, in)
	if pos == 0 {
		return 0, nil // PHY_STATUS byte.
	}
	cmd := c.cur[0]
	switch {
	case cmd&0xc0 == cmdRegWrite:
		if pos == 1 {
			c.writeReg(cmd&regAddrMask, in)
		}
	case cmd&0xc0 == cmdRegRead:
		if pos == 1 {
			return c.readReg(cmd & regAddrMask), nil
		}
	case cmd&0xe0 == cmdFrameWrite:
		if pos-1 < len(c.fb) {
			c.fb[pos-1] = in
		}
	case cmd&0xe0 == cmdFrameRead:
		if pos == 1 {
			return c.fb[0], nil
		}
		c.frameReadBytes++
		c.framePos++
		if c.framePos < len(c.fb) {
			return c.fb[c.framePos], nil
		}
	case cmd&0xe0 == cmdSRAMWrite:
		if pos >= 2 {
			addr := int(c.cur[1]) + pos - 2
			if addr < len(c.fb) {
				c.fb[addr] = in
			}
		}
	case cmd&0xe0 == cmdSRAMRead:
		if pos >= 2 {
			addr := int(c.cur[1]) + pos - 2
			if addr < len(c.fb) {
				return c.fb[addr], nil
			}
		}
	}
	return 0, nil
}

func (c *fakeChip) readReg(addr uint8) byte {
	switch addr {
	case RegTRXStatus:
		if c.busyPolls > 0 {
			c.busyPolls--
			return byte(c.busyState)
		}
		return byte(c.state)
	case RegTRXState:
		return byte(c.trac)<<tracPos | c.regs[RegTRXState]&trxCmdMask
	case RegIRQStatus:
		v := c.regs[RegIRQStatus]
		c.regs[RegIRQStatus] = 0
		return v
	}
	return c.regs[addr]
}

func (c *fakeChip) writeReg(addr, v uint8) {
	switch addr {
	case RegTRXStatus, RegIRQStatus, RegPartNum, RegVersionNum:
		return // Read only.
	case RegTRXState:
		c.regs[RegTRXState] = v & trxCmdMask
		c.command(v & trxCmdMask)
		return
	}
	c.regs[addr] = v
}

func (c *fakeChip) command(cmd uint8) {
	if c.state == StateSleep || c.slptr {
		c.illegal = append(c.illegal, State(cmd))
		return
	}
	switch cmd {
	case cmdNOP:
		return
	case cmdTxStart:
		if c.state != StateTxARETOn {
			c.illegal = append(c.illegal, State(cmd))
			return
		}
		// Transmission completes instantly and reports through TRX_END.
		c.transitions = append(c.transitions, StateBusyTxARET)
		c.trac = c.txResult
		c.regs[RegIRQStatus] |= byte(IRQTRXEnd)
		c.irq <- struct{}{}
		return
	case cmdForceTRXOff:
		c.enter(StateTRXOff)
		return
	case cmdForcePLLOn:
		c.enter(StatePLLOn)
		return
	}
	target := State(cmd)
	if !target.commandable() {
		c.illegal = append(c.illegal, target)
		return
	}
	if target == c.state {
		return
	}
	var legal bool
	switch target {
	case StateTRXOff:
		legal = true
	case StatePLLOn:
		legal = c.state == StateTRXOff || c.state == StateRxOn || c.state == StateRxAACKOn || c.state == StateTxARETOn
	case StateRxOn:
		legal = c.state == StateTRXOff || c.state == StatePLLOn
	case StateRxAACKOn, StateTxARETOn:
		legal = c.state == StateTRXOff || c.state == StatePLLOn
	}
	if !legal {
		c.illegal = append(c.illegal, target)
		return
	}
	if c.refuse[target] {
		return
	}
	c.enter(target)
}

func (c *fakeChip) enter(s State) {
	c.state = s
	c.transitions = append(c.transitions, s)
}

// Test helpers.

// receiveFrame loads psdu into the frame buffer and raises TRX_END as if
// it had just been received.
func (c *fakeChip) receiveFrame(psdu []byte, crcValid bool, ed uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fb[0] = byte(len(psdu))
	copy(c.fb[1:], psdu)
	c.regs[RegPHYEDLevel] = ed
	c.regs[RegPHYRSSI] = 0x0a
	if crcValid {
		c.regs[RegPHYRSSI] |= rssiCRCValid
	}
	c.regs[RegIRQStatus] |= byte(IRQRxStart | IRQTRXEnd)
}

func (c *fakeChip) raise(irq IRQ) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs[RegIRQStatus] |= byte(irq)
}

func (c *fakeChip) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *fakeChip) getState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeChip) reg(addr uint8) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[addr]
}

func (c *fakeChip) clearLog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txns = nil
	c.transitions = nil
	c.illegal = nil
	c.frameReadBytes = 0
}

func (c *fakeChip) transactions() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.txns...)
}

// regWrites returns the register writes found in the transaction log as
// address/value pairs.
func (c *fakeChip) regWrites() [][2]byte {
	var writes [][2]byte
	for _, txn := range c.transactions() {
		if len(txn) >= 2 && txn[0]&0xc0 == cmdRegWrite {
			writes = append(writes, [2]byte{txn[0] & regAddrMask, txn[1]})
		}
	}
	return writes
}

func (c *fakeChip) stateLog() (transitions, illegal []State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]State(nil), c.transitions...), append([]State(nil), c.illegal...)
}
