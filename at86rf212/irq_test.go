package at86rf212

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"
)

func TestReceiveFrame(t *testing.T) {
	d, c := initTestDevice(t)
	psdu := []byte{0x41, 0x88, 0x07, 0x34, 0x12, 0xff, 0xff, 0x01, 0x00, 'h', 'i', 0xaa, 0xbb}
	c.receiveFrame(psdu, true, 0x30)
	d.HandleInterrupt()

	select {
	case <-d.Received():
	default:
		t.Fatal("reception not signaled")
	}
	if !d.DataReceived() {
		t.Fatal("DataReceived false after reception")
	}
	if c.frameReadBytes != len(psdu) {
		t.Errorf("drained %d bytes, want %d", c.frameReadBytes, len(psdu))
	}
	buf := make([]byte, 127)
	n, err := d.ReadFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:n], psdu) {
		t.Errorf("got frame % x, want % x", buf[:n], psdu)
	}
	if d.DataReceived() {
		t.Error("DataReceived true with empty queue")
	}
	if _, err = d.ReadFrame(buf); err != io.EOF {
		t.Errorf("want io.EOF on empty queue, got %v", err)
	}
	stats := d.Stats()
	if stats.Received != 1 || stats.ED != 0x30 || !stats.CRCValid {
		t.Errorf("stats %+v", stats)
	}
	if c.getState() != StateRxAACKOn {
		t.Errorf("not re-armed: %s", c.getState())
	}
}

func TestReadFrameConcurrent(t *testing.T) {
	d, c := initTestDevice(t)
	const frames = 20
	for i := 0; i < frames; i++ {
		c.receiveFrame([]byte{byte(i), 0x55, 0xaa, 0xbb}, true, 0)
		d.HandleInterrupt()
	}
	if got := d.Stats().Received; got != frames {
		t.Fatalf("queued %d frames, want %d", got, frames)
	}
	var (
		mu   sync.Mutex
		seen [frames]int
		wg   sync.WaitGroup
	)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var buf [8]byte
			for {
				n, err := d.ReadFrame(buf[:])
				if err == io.EOF {
					return
				} else if err != nil || n != 4 || buf[0] >= frames {
					t.Errorf("ReadFrame: n=%d err=%v frame=% x", n, err, buf[:n])
					return
				}
				mu.Lock()
				seen[buf[0]]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	for i, count := range seen {
		if count != 1 {
			t.Errorf("frame %d read %d times", i, count)
		}
	}
	if d.DataReceived() {
		t.Error("DataReceived true after draining queue")
	}
}

func TestReceiveShortBuffer(t *testing.T) {
	d, c := initTestDevice(t)
	c.receiveFrame(make([]byte, 20), true, 0)
	d.HandleInterrupt()
	n, err := d.ReadFrame(make([]byte, 10))
	if err != io.ErrShortBuffer || n != 0 {
		t.Fatalf("got n=%d err=%v", n, err)
	}
	if !d.DataReceived() {
		t.Error("frame lost after short read")
	}
	n, err = d.ReadFrame(make([]byte, 20))
	if err != nil || n != 20 {
		t.Errorf("got n=%d err=%v", n, err)
	}
}

func TestReceiveBadCRC(t *testing.T) {
	d, c := initTestDevice(t)
	c.setState(StateRxOn)
	c.receiveFrame([]byte{1, 2, 3, 4, 5}, false, 0x10)
	d.HandleInterrupt()
	if c.frameReadBytes != 0 {
		t.Errorf("drained %d bytes of corrupted frame", c.frameReadBytes)
	}
	if d.DataReceived() {
		t.Error("corrupted frame delivered")
	}
	select {
	case <-d.Received():
		t.Error("corrupted frame signaled")
	default:
	}
	stats := d.Stats()
	if stats.Received != 0 || stats.CRCValid || stats.ED != 0x10 {
		t.Errorf("stats %+v", stats)
	}
	if c.getState() != StateRxAACKOn {
		t.Errorf("not re-armed: %s", c.getState())
	}
}

func TestInterruptCounters(t *testing.T) {
	d, c := initTestDevice(t)
	c.raise(IRQBatLow | IRQTRXUnderrun)
	d.HandleInterrupt()
	stats := d.Stats()
	if stats.BatteryLow != 1 || stats.Underrun != 1 {
		t.Errorf("battery low %d, underrun %d: want 1 each", stats.BatteryLow, stats.Underrun)
	}
	if len(c.regWrites()) != 0 {
		t.Error("counter interrupts changed registers")
	}
	d.HandleInterrupt()
	if d.Stats().BatteryLow != 1 {
		t.Error("IRQ_STATUS not cleared by read")
	}
}

func TestInterruptUnhandledBits(t *testing.T) {
	d, c := initTestDevice(t)
	c.raise(IRQCCAEDReady | IRQAMI | IRQPLLLock | IRQPLLUnlock)
	done := make(chan struct{})
	go func() {
		d.HandleInterrupt()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleInterrupt did not return")
	}
}

func TestInterruptBeforeInit(t *testing.T) {
	d, c := newTestDevice(t)
	d.HandleInterrupt()
	if len(c.transactions()) != 0 {
		t.Error("uninitialized device touched the bus")
	}
}
