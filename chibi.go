package chibi

import (
	"errors"
	"log/slog"
	"time"

	"golang.org/x/exp/constraints"
)

// Config holds the IEEE 802.15.4 radio configuration applied at initialization.
type Config struct {
	Mode        Mode   // Modulation, data rate and band.
	Channel     uint8  // Channel number within the Mode's channel page.
	Power       Power  // Raw transmit power register value. See the Power constants.
	PANID       uint16 // 802.15.4 PAN identifier.
	ShortAddr   uint16 // 16 bit address. Ignored when Store is set.
	IEEEAddr    uint64 // 64 bit extended address. Ignored when Store is set.
	Promiscuous bool   // Receive every frame: disables auto acknowledge and hardware CRC.
	// FrameRetries is the number of automatic retransmissions in extended
	// transmit mode (0..15). Zero keeps the hardware default of 3.
	FrameRetries uint8
	// CSMARetries is the number of CSMA-CA backoffs before reporting channel
	// access failure (0..5). Zero keeps the hardware default of 4.
	CSMARetries uint8
	// RxBufferSize is the capacity in bytes of the receive frame queue.
	RxBufferSize int
	// BusyTimeout bounds how long to wait for the transceiver to leave a busy state.
	BusyTimeout time.Duration
	// ResetRetries is the number of identity checks performed after reset
	// before giving up on the device.
	ResetRetries int
	// Store persists the short and IEEE addresses. May be nil.
	Store Store
	// Delay is the microsecond delay primitive. Nil uses time.Sleep.
	Delay  func(time.Duration)
	Logger *slog.Logger
}

const (
	DefaultPANID        = 0x1234
	DefaultRxBufferSize = 128
	DefaultBusyTimeout  = 10 * time.Millisecond
	DefaultResetRetries = 10
	// BroadcastAddr is the 802.15.4 short broadcast address. It may not be
	// assigned to a node.
	BroadcastAddr = 0xffff
)

// PHY frame limits.
const (
	MaxFrameLength = 127 // aMaxPHYPacketSize, includes the FCS.
	MinFrameLength = 3
	FCSLength      = 2
	// MaxPayload is the largest header+payload the transceiver accepts.
	MaxPayload = MaxFrameLength - FCSLength
)

var (
	ErrInvalidChannel = errors.New("chibi: channel not available in mode")
	ErrInvalidMode    = errors.New("chibi: invalid mode")
	ErrUnknownRegion  = errors.New("chibi: region config not added yet")
)

// DefaultConfig returns the configuration used by the reference firmware:
// O-QPSK 100kb/s on 868.3MHz at +3dBm.
func DefaultConfig() Config {
	return Config{
		Mode:         OQPSK868,
		Channel:      0,
		Power:        PowerEUBoost3dBm,
		PANID:        DefaultPANID,
		RxBufferSize: DefaultRxBufferSize,
		BusyTimeout:  DefaultBusyTimeout,
		ResetRetries: DefaultResetRetries,
	}
}

// RegionConfig returns a default configuration legal in the region given
// by its ISO 3166 alpha-2 code. "eu" is accepted for all of Europe.
func RegionConfig(code string) (cfg Config, err error) {
	cfg = DefaultConfig()
	switch code {
	case "eu", "de", "es", "fr", "be", "nl", "it", "gb":
		cfg.Mode = OQPSK868
		cfg.Channel = 0
		cfg.Power = PowerEUBoost3dBm
	case "us", "ca", "ar", "au", "br":
		cfg.Mode = OQPSK915
		cfg.Channel = 1
		cfg.Power = PowerNA3dBm
	case "cn":
		cfg.Mode = OQPSK780
		cfg.Channel = 0
		cfg.Power = PowerCN3dBm
	default:
		return cfg, ErrUnknownRegion
	}
	return cfg, nil
}

// Mode is the PHY modulation and data rate.
type Mode uint8

const (
	OQPSK868 Mode = iota // O-QPSK 100kb/s, channel page 2 channel 0 (Europe).
	OQPSK915             // O-QPSK 250kb/s, channel page 2 channels 1-10 (North America).
	OQPSK780             // O-QPSK 250kb/s, channel page 5 channels 0-3 (China).
	BPSK40               // BPSK 40kb/s, 915MHz band.
	BPSK20               // BPSK 20kb/s, 868MHz band.
	numModes
)

func (m Mode) String() string {
	switch m {
	case OQPSK868:
		return "O-QPSK-868"
	case OQPSK915:
		return "O-QPSK-915"
	case OQPSK780:
		return "O-QPSK-780"
	case BPSK40:
		return "BPSK-40"
	case BPSK20:
		return "BPSK-20"
	}
	return "Mode(invalid)"
}

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool { return m < numModes }

// IsBPSK reports whether m uses BPSK modulation.
func (m Mode) IsBPSK() bool { return m == BPSK40 || m == BPSK20 }

// BitRate returns the PHY data rate in bits per second.
func (m Mode) BitRate() int {
	switch m {
	case OQPSK868:
		return 100e3
	case OQPSK915, OQPSK780:
		return 250e3
	case BPSK40:
		return 40e3
	case BPSK20:
		return 20e3
	}
	return -1
}

// TimeOnAir returns the air time of a PPDU carrying a PSDU of frameLength
// bytes (header, payload and FCS). Synchronization header and PHR are included.
func (m Mode) TimeOnAir(frameLength int) time.Duration {
	const shrPHR = 4 + 1 + 1 // Preamble, SFD and PHR bytes.
	br := m.BitRate()
	if br <= 0 {
		return 0
	}
	bits := int64(8 * (shrPHR + clamp(frameLength, 0, MaxFrameLength)))
	return time.Duration(bits * int64(time.Second) / int64(br))
}

// ValidChannel reports whether channel can be selected in mode m.
func ValidChannel(m Mode, channel uint8) bool {
	if !m.IsValid() {
		return false
	}
	if m == OQPSK780 {
		return channel <= 3
	}
	return channel <= 10
}

// ChannelFrequency returns the center frequency in Hertz of channel in mode m.
func ChannelFrequency(m Mode, channel uint8) (uint32, error) {
	switch {
	case !ValidChannel(m, channel):
		return 0, ErrInvalidChannel
	case m == OQPSK780:
		return 780_000_000 + 2_000_000*uint32(channel), nil
	case channel == 0:
		return 868_300_000, nil
	}
	return 906_000_000 + 2_000_000*uint32(channel-1), nil
}

// EDToDBm converts an energy detection register value to received power in dBm.
// dBm = RSSI_BASE + 1.03*ED, with a base of -100dBm for O-QPSK and -98dBm for BPSK.
func EDToDBm(ed uint8, m Mode) int {
	base := -10000
	if m.IsBPSK() {
		base = -9800
	}
	return (103*int(ed) + base) / 100
}

// Power is the value of the PHY_TX_PWR register. Each band has its own
// calibrated table; values are not portable across bands.
type Power uint8

// Transmit power settings for the 868MHz band. Linear PA mode is only
// meant for BPSK 20kb/s.
const (
	PowerEULinear2dBm Power = 0x63
	PowerEULinear1dBm Power = 0x64
	PowerEULinear0dBm Power = 0x65
	PowerEUBoost5dBm  Power = 0xe7 // Boost mode draws more supply current. 4-5dBm BPSK 20kb/s only.
	PowerEUBoost4dBm  Power = 0xe8
	PowerEUBoost3dBm  Power = 0xe9
	PowerEUBoost2dBm  Power = 0xea
	PowerEUBoost1dBm  Power = 0xcb
	PowerEUBoost0dBm  Power = 0xab
)

// Transmit power settings for the 915MHz band.
const (
	PowerNA10dBm Power = 0xc0
	PowerNA9dBm  Power = 0xa1
	PowerNA8dBm  Power = 0x81
	PowerNA7dBm  Power = 0x82
	PowerNA6dBm  Power = 0x83
	PowerNA5dBm  Power = 0x60
	PowerNA4dBm  Power = 0x61
	PowerNA3dBm  Power = 0x41
	PowerNA2dBm  Power = 0x42
	PowerNA1dBm  Power = 0x22
	PowerNA0dBm  Power = 0x23
)

// Transmit power settings for the 780MHz band.
const (
	PowerCN5dBm Power = 0xe7
	PowerCN4dBm Power = 0xe8
	PowerCN3dBm Power = 0xe9
	PowerCN2dBm Power = 0xea
	PowerCN1dBm Power = 0xca
	PowerCN0dBm Power = 0xaa
)

// PowerCC1190 is the drive level used with a CC1190 front end (-11dBm into the PA).
const PowerCC1190 Power = 0x0d

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
