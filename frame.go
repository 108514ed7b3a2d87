package chibi

import (
	"encoding/binary"
	"errors"
)

// Frame control field bits of the data frames exchanged by chibi nodes.
const (
	fcfTypeData       = 0x0001
	fcfTypeMask       = 0x0007
	fcfAckRequest     = 1 << 5
	fcfPANCompression = 1 << 6
	fcfDstShort       = 2 << 10
	fcfDstModeMask    = 3 << 10
	fcfSrcShort       = 2 << 14
	fcfSrcModeMask    = 3 << 14
)

// HeaderLength is the length of a data frame header with PAN ID compression
// and short addressing: frame control, sequence number, PAN ID, destination
// and source addresses.
const HeaderLength = 9

// MaxDataPayload is the largest payload carried after a data frame header.
const MaxDataPayload = MaxPayload - HeaderLength

var (
	ErrShortFrame        = errors.New("chibi: frame shorter than data header")
	ErrUnsupportedHeader = errors.New("chibi: not a short addressed data frame")
)

// Header is the MAC header of a data frame between two short addresses of
// the same PAN.
type Header struct {
	FrameControl uint16
	Seq          uint8
	PANID        uint16
	Dst          uint16
	Src          uint16
}

// DataHeader returns the header of a data frame from src to dst.
// Acknowledgment is requested unless dst is the broadcast address.
func DataHeader(seq uint8, pan, dst, src uint16) Header {
	fcf := uint16(fcfTypeData | fcfPANCompression | fcfDstShort | fcfSrcShort)
	if dst != BroadcastAddr {
		fcf |= fcfAckRequest
	}
	return Header{FrameControl: fcf, Seq: seq, PANID: pan, Dst: dst, Src: src}
}

// AckRequest reports whether the sender asked for an acknowledgment.
func (h Header) AckRequest() bool { return h.FrameControl&fcfAckRequest != 0 }

// Append appends the little-endian wire encoding of h to b.
func (h Header) Append(b []byte) []byte {
	b = binary.LittleEndian.AppendUint16(b, h.FrameControl)
	b = append(b, h.Seq)
	b = binary.LittleEndian.AppendUint16(b, h.PANID)
	b = binary.LittleEndian.AppendUint16(b, h.Dst)
	return binary.LittleEndian.AppendUint16(b, h.Src)
}

// ParseDataFrame splits a received frame, FCS included, into its header and
// payload.
func ParseDataFrame(frame []byte) (h Header, payload []byte, err error) {
	if len(frame) < HeaderLength+FCSLength {
		return h, nil, ErrShortFrame
	}
	h.FrameControl = binary.LittleEndian.Uint16(frame)
	if h.FrameControl&fcfTypeMask != fcfTypeData || h.FrameControl&fcfPANCompression == 0 ||
		h.FrameControl&fcfDstModeMask != fcfDstShort || h.FrameControl&fcfSrcModeMask != fcfSrcShort {
		return h, nil, ErrUnsupportedHeader
	}
	h.Seq = frame[2]
	h.PANID = binary.LittleEndian.Uint16(frame[3:])
	h.Dst = binary.LittleEndian.Uint16(frame[5:])
	h.Src = binary.LittleEndian.Uint16(frame[7:])
	return h, frame[HeaderLength : len(frame)-FCSLength], nil
}
