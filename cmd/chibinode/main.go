package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/soypat/chibi"
	"github.com/soypat/chibi/at86rf212"
	"github.com/soypat/chibi/periphbus"
	mqtt "github.com/soypat/natiu-mqtt"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

type flags struct {
	spi       string
	hz        int64
	cs        string
	rst       string
	slp       string
	irq       string
	hgm       string
	region    string
	ch        int
	pan       int
	promisc   bool
	store     string
	addr      int
	dst       int
	send      string
	hdr       string
	mqttAddr  string
	topic     string
	verbose   bool
	trace     bool
	txTimeout time.Duration
}

func main() {
	var f flags
	flag.StringVar(&f.spi, "spi", "", "SPI port to use. Empty selects the first available.")
	flag.Int64Var(&f.hz, "hz", int64(periphbus.DefaultFrequency/physic.Hertz), "SPI clock frequency in Hz.")
	flag.StringVar(&f.cs, "cs", "GPIO8", "Chip select pin.")
	flag.StringVar(&f.rst, "rst", "GPIO25", "RST pin.")
	flag.StringVar(&f.slp, "slp", "GPIO24", "SLP_TR pin.")
	flag.StringVar(&f.irq, "irq", "GPIO23", "IRQ pin.")
	flag.StringVar(&f.hgm, "hgm", "", "CC1190 HGM pin, if fitted.")
	flag.StringVar(&f.region, "region", "eu", "Region code selecting band, channel and power: eu, us or cn.")
	flag.IntVar(&f.ch, "ch", -1, "Channel override.")
	flag.IntVar(&f.pan, "pan", chibi.DefaultPANID, "PAN ID.")
	flag.BoolVar(&f.promisc, "promisc", false, "Promiscuous mode: receive every frame, corrupted ones included.")
	flag.StringVar(&f.store, "store", "", "File persisting the node addresses.")
	flag.IntVar(&f.addr, "addr", -1, "Set the node short address and exit.")
	flag.IntVar(&f.dst, "dst", chibi.BroadcastAddr, "Destination short address for -send.")
	flag.StringVar(&f.send, "send", "", "Send this text and exit.")
	flag.StringVar(&f.hdr, "hdr", "", "Raw MAC header in hex used by -send instead of a data frame header.")
	flag.StringVar(&f.mqttAddr, "mqtt", "", "MQTT broker host:port to publish received payloads to.")
	flag.StringVar(&f.topic, "topic", "chibi", "MQTT topic for received payloads.")
	flag.BoolVar(&f.verbose, "v", false, "Verbose output.")
	flag.BoolVar(&f.trace, "trace", false, "Log every SPI transaction.")
	flag.DurationVar(&f.txTimeout, "tx-timeout", time.Second, "Transmission timeout.")
	flag.Parse()

	level := slog.LevelInfo
	if f.trace {
		level = slog.LevelDebug - 1
	} else if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err := run(ctx, f, logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err.Error())
	}
}

func run(ctx context.Context, f flags, logger *slog.Logger) error {
	cfg, err := f.config()
	if err != nil {
		return err
	}
	cfg.Logger = logger
	if f.store != "" {
		fp, err := openStore(f.store, cfg)
		if err != nil {
			return err
		}
		defer fp.Close()
		cfg.Store = fp
	}

	if _, err := host.Init(); err != nil {
		return err
	}
	bus, err := periphbus.Open(f.spi, physic.Frequency(f.hz)*physic.Hertz)
	if err != nil {
		return err
	}
	defer bus.Close()
	pins, err := periphbus.Pins(periphbus.PinNames{CS: f.cs, Reset: f.rst, SleepTrigger: f.slp, HighGain: f.hgm})
	if err != nil {
		return err
	}
	irq, err := periphbus.IRQPin(f.irq)
	if err != nil {
		return err
	}

	dev := at86rf212.New(bus, pins)
	err = dev.Init(cfg)
	if err != nil {
		return err
	}
	go periphbus.WatchIRQ(ctx, irq, dev.HandleInterrupt)

	switch {
	case f.addr >= 0:
		err = dev.SetShortAddr(uint16(f.addr))
		if err != nil {
			return err
		}
		addr, err := dev.ShortAddr()
		if err != nil {
			return err
		}
		fmt.Printf("address set to: %#04x\n", addr)
		return nil

	case f.send != "":
		return f.transmit(ctx, dev)
	}

	var pub *publisher
	if f.mqttAddr != "" {
		pub, err = dialPublisher(ctx, f.mqttAddr, f.topic, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
	}
	return listen(ctx, dev, cfg.Mode, pub, logger)
}

func (f *flags) config() (chibi.Config, error) {
	cfg, err := chibi.RegionConfig(f.region)
	if err != nil {
		return cfg, fmt.Errorf("%w: %q", err, f.region)
	}
	if f.ch >= 0 {
		cfg.Channel = uint8(f.ch)
	}
	if !chibi.ValidChannel(cfg.Mode, cfg.Channel) {
		return cfg, fmt.Errorf("%w: %d in %s", chibi.ErrInvalidChannel, cfg.Channel, cfg.Mode)
	}
	if f.pan < 0 || f.pan > 0xffff {
		return cfg, fmt.Errorf("PAN ID %#x out of range", f.pan)
	}
	cfg.PANID = uint16(f.pan)
	cfg.Promiscuous = f.promisc
	if f.addr == chibi.BroadcastAddr || f.addr > 0xffff {
		return cfg, fmt.Errorf("invalid address %#x: 0x0000-0xfffe required", f.addr)
	}
	return cfg, nil
}

// openStore opens the address file, seeding it from cfg when it is new.
func openStore(name string, cfg chibi.Config) (*os.File, error) {
	fp, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := fp.Stat()
	if err != nil {
		fp.Close()
		return nil, err
	}
	if info.Size() < chibi.StoreSize {
		err = chibi.WriteShortAddr(fp, cfg.ShortAddr)
		if err == nil {
			err = chibi.WriteIEEEAddr(fp, cfg.IEEEAddr)
		}
		if err != nil {
			fp.Close()
			return nil, err
		}
	}
	return fp, nil
}

func (f *flags) transmit(ctx context.Context, dev *at86rf212.Device) error {
	ctx, cancel := context.WithTimeout(ctx, f.txTimeout)
	defer cancel()
	var (
		trac at86rf212.TRAC
		hdr  []byte
		err  error
	)
	if f.hdr != "" {
		hdr, err = hex.DecodeString(f.hdr)
		if err != nil {
			return fmt.Errorf("parsing -hdr: %w", err)
		}
		trac, err = dev.Transmit(ctx, hdr, []byte(f.send))
	} else {
		trac, err = dev.Send(ctx, uint16(f.dst), []byte(f.send))
	}
	if err != nil {
		return err
	}
	fmt.Printf("sent %d bytes to %#04x: %s\n", len(f.send), f.dst, trac)
	if !trac.OK() && f.dst != chibi.BroadcastAddr {
		return fmt.Errorf("transmission failed: %s", trac)
	}
	return nil
}

func listen(ctx context.Context, dev *at86rf212.Device, mode chibi.Mode, pub *publisher, logger *slog.Logger) error {
	var buf [chibi.MaxFrameLength]byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-dev.Received():
		}
		for dev.DataReceived() {
			n, err := dev.ReadFrame(buf[:])
			if err == io.EOF {
				break
			} else if err != nil {
				return err
			}
			stats := dev.Stats()
			frame := buf[:n]
			hdr, payload, err := chibi.ParseDataFrame(frame)
			if err != nil {
				fmt.Printf("frame len=%d dBm=%d crc=%v raw=%x\n", n, chibi.EDToDBm(stats.ED, mode), stats.CRCValid, frame)
				continue
			}
			fmt.Printf("message from node %#04x: %q, len=%d, dBm=%d\n", hdr.Src, payload, len(payload), chibi.EDToDBm(stats.ED, mode))
			if pub != nil {
				err = pub.Publish(payload)
				if err != nil {
					logger.Error("mqtt:publish-failed", slog.String("err", err.Error()))
				}
			}
		}
		if stats := dev.Stats(); stats.Overflow > 0 {
			logger.Debug("rx:stats", slog.Uint64("received", uint64(stats.Received)), slog.Uint64("overflow", uint64(stats.Overflow)))
		}
	}
}

// publisher forwards received payloads to an MQTT broker.
type publisher struct {
	conn   net.Conn
	client *mqtt.Client
	flags  mqtt.PacketFlags
	vars   mqtt.VariablesPublish
}

func dialPublisher(ctx context.Context, addr, topic string, logger *slog.Logger) (*publisher, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	client := mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 1024)},
		OnPub: func(_ mqtt.Header, varPub mqtt.VariablesPublish, r io.Reader) error {
			logger.Info("mqtt:received", slog.String("topic", string(varPub.TopicName)))
			return nil
		},
	})
	var varconn mqtt.VariablesConnect
	hostname, _ := os.Hostname()
	varconn.SetDefaultMQTT([]byte("chibi-" + hostname))
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = client.Connect(connCtx, conn, &varconn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	pubFlags, err := mqtt.NewPublishFlags(mqtt.QoS0, false, false)
	if err != nil {
		conn.Close()
		return nil, err
	}
	logger.Info("mqtt:connected", slog.String("broker", addr), slog.String("topic", topic))
	return &publisher{
		conn:   conn,
		client: client,
		flags:  pubFlags,
		vars:   mqtt.VariablesPublish{TopicName: []byte(topic)},
	}, nil
}

func (p *publisher) Publish(payload []byte) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("mqtt disconnected: %v", p.client.Err())
	}
	p.conn.SetDeadline(time.Now().Add(5 * time.Second))
	p.vars.PacketIdentifier++
	return p.client.PublishPayload(p.flags, p.vars, payload)
}

func (p *publisher) Close() error { return p.conn.Close() }
