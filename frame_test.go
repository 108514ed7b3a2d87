package chibi

import (
	"bytes"
	"errors"
	"testing"
)

func TestDataHeader(t *testing.T) {
	h := DataHeader(7, 0x1234, BroadcastAddr, 0x0001)
	if h.AckRequest() {
		t.Error("broadcast frame requests acknowledgment")
	}
	got := h.Append(nil)
	want := []byte{0x41, 0x88, 7, 0x34, 0x12, 0xff, 0xff, 0x01, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("broadcast header % x, want % x", got, want)
	}
	h = DataHeader(8, 0x1234, 0x0002, 0x0001)
	if !h.AckRequest() || h.FrameControl != 0x8861 {
		t.Errorf("unicast frame control %#x", h.FrameControl)
	}
	if len(h.Append(nil)) != HeaderLength {
		t.Error("header length mismatch")
	}
}

func TestParseDataFrame(t *testing.T) {
	h := DataHeader(42, 0xbeef, 0x0010, 0x0020)
	frame := h.Append(nil)
	frame = append(frame, "payload"...)
	frame = append(frame, 0x12, 0x34) // FCS.
	got, payload, err := ParseDataFrame(frame)
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Errorf("got header %+v, want %+v", got, h)
	}
	if string(payload) != "payload" {
		t.Errorf("payload %q", payload)
	}

	_, _, err = ParseDataFrame(frame[:HeaderLength+1])
	if !errors.Is(err, ErrShortFrame) {
		t.Errorf("want ErrShortFrame, got %v", err)
	}
	beacon := append([]byte{0x00, 0x80}, frame[2:]...)
	_, _, err = ParseDataFrame(beacon)
	if !errors.Is(err, ErrUnsupportedHeader) {
		t.Errorf("want ErrUnsupportedHeader, got %v", err)
	}
	empty := append(h.Append(nil), 0, 0)
	_, payload, err = ParseDataFrame(empty)
	if err != nil || len(payload) != 0 {
		t.Errorf("empty payload: %q %v", payload, err)
	}
}
