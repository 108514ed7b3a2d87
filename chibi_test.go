package chibi

import (
	"errors"
	"testing"
	"time"
)

func TestTimeOnAir(t *testing.T) {
	// 127 byte PSDU + 6 bytes SHR/PHR at 100kb/s.
	got := OQPSK868.TimeOnAir(MaxFrameLength)
	want := 10640 * time.Microsecond
	if got != want {
		t.Errorf("OQPSK868 max frame: got %s, want %s", got, want)
	}
	got = BPSK20.TimeOnAir(10)
	want = 6400 * time.Microsecond
	if got != want {
		t.Errorf("BPSK20 10 bytes: got %s, want %s", got, want)
	}
	if OQPSK915.TimeOnAir(1000) != OQPSK915.TimeOnAir(MaxFrameLength) {
		t.Error("frame length should be clamped to PHY maximum")
	}
	if Mode(200).TimeOnAir(10) != 0 {
		t.Error("invalid mode should have no air time")
	}
}

func TestChannelFrequency(t *testing.T) {
	for _, test := range []struct {
		mode Mode
		ch   uint8
		want uint32
		err  error
	}{
		{mode: OQPSK868, ch: 0, want: 868_300_000},
		{mode: OQPSK915, ch: 1, want: 906_000_000},
		{mode: BPSK40, ch: 10, want: 924_000_000},
		{mode: OQPSK780, ch: 3, want: 786_000_000},
		{mode: OQPSK780, ch: 4, err: ErrInvalidChannel},
		{mode: OQPSK915, ch: 11, err: ErrInvalidChannel},
	} {
		got, err := ChannelFrequency(test.mode, test.ch)
		if !errors.Is(err, test.err) {
			t.Errorf("%s ch%d: got error %v, want %v", test.mode, test.ch, err, test.err)
			continue
		}
		if got != test.want {
			t.Errorf("%s ch%d: got %d Hz, want %d Hz", test.mode, test.ch, got, test.want)
		}
	}
}

func TestEDToDBm(t *testing.T) {
	if got := EDToDBm(0, OQPSK868); got != -100 {
		t.Errorf("OQPSK ed=0: got %d", got)
	}
	if got := EDToDBm(0, BPSK20); got != -98 {
		t.Errorf("BPSK ed=0: got %d", got)
	}
	// 1.03*50 - 100 = -48.5, truncated toward zero.
	if got := EDToDBm(50, OQPSK915); got != -48 {
		t.Errorf("OQPSK ed=50: got %d", got)
	}
}

func TestRegionConfig(t *testing.T) {
	cfg, err := RegionConfig("us")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != OQPSK915 || !ValidChannel(cfg.Mode, cfg.Channel) {
		t.Errorf("bad us config %+v", cfg)
	}
	if cfg.PANID != DefaultPANID || cfg.RxBufferSize != DefaultRxBufferSize {
		t.Error("region config should start from defaults")
	}
	cfg, err = RegionConfig("cn")
	if err != nil || cfg.Mode != OQPSK780 {
		t.Errorf("bad cn config %+v err=%v", cfg, err)
	}
	_, err = RegionConfig("xx")
	if !errors.Is(err, ErrUnknownRegion) {
		t.Errorf("want unknown region, got %v", err)
	}
}

func TestMemStore(t *testing.T) {
	var s MemStore
	err := WriteShortAddr(&s, 0xbeef)
	if err != nil {
		t.Fatal(err)
	}
	err = WriteIEEEAddr(&s, 0x0102030405060708)
	if err != nil {
		t.Fatal(err)
	}
	short, err := ReadShortAddr(&s)
	if err != nil || short != 0xbeef {
		t.Errorf("short address: got %#x err=%v", short, err)
	}
	ieee, err := ReadIEEEAddr(&s)
	if err != nil || ieee != 0x0102030405060708 {
		t.Errorf("IEEE address: got %#x err=%v", ieee, err)
	}
	// Little endian layout at EEPROM offsets.
	var raw [StoreSize]byte
	s.ReadAt(raw[:], 0)
	if raw[0] != 0x08 || raw[7] != 0x01 || raw[StoreShortAddrOffset] != 0xef {
		t.Errorf("unexpected layout % x", raw)
	}
	_, err = s.WriteAt(make([]byte, 4), StoreSize-2)
	if err == nil {
		t.Error("expected error writing past end of store")
	}
}
