package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/soypat/chibi/at86rf212"
	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
	"golang.org/x/exp/constraints"
)

type options struct {
	OmitRead     bool
	OmitWrite    bool
	OmitReadData bool
	OmitFrames   bool
	// Maximum number of data bytes printed per command. 0 prints all.
	MaxData int
	// Names of the TRX_STATE commands instead of raw values.
	DecodeState bool
}

func main() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(handler))
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "rf212analyze - Process Binary Saleae digital data files corresponding to AT86RF212 SPI transactions.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	mosi := flag.String("f-mosi", "digital_1.bin", "Input filename: SPI MOSI data.")
	miso := flag.String("f-miso", "", "Input filename: SPI MISO data. Defaults to MOSI file.")
	enable := flag.String("f-cs", "digital_0.bin", "Input filename: SPI CS/SS data.")
	clk := flag.String("f-clk", "digital_2.bin", "Input filename: SPI CLK data.")
	output := flag.String("o-cmd", "commands.txt", "Output filename of AT86RF212 command transactions. Use - for stdout.")
	timings := flag.String("o-time", "", "Output timing data to a file corresponding to output command history line-by-line.")
	var opts options
	flag.BoolVar(&opts.OmitRead, "omit-read", false, "Choose to omit read commands in output.")
	flag.BoolVar(&opts.OmitWrite, "omit-write", false, "Choose to omit write commands in output.")
	flag.BoolVar(&opts.OmitReadData, "omit-read-data", false, "Choose to omit read data in output.")
	flag.BoolVar(&opts.OmitFrames, "omit-frame", false, "Omit frame buffer and SRAM accesses.")
	flag.IntVar(&opts.MaxData, "max-data", 0, "Truncate data printed per command to this many bytes.")
	flag.BoolVar(&opts.DecodeState, "decode-state", true, "Print TRX_STATE writes as state commands.")
	flag.Parse()
	if opts.OmitRead && opts.OmitWrite {
		log.Fatal("cannot omit both read and write commands")
	}
	if *miso == "" {
		*miso = *mosi
	}
	start := time.Now()
	txs, err := scanFiles(*clk, *enable, *mosi, *miso)
	if err != nil {
		log.Fatal(err.Error())
	}
	out := os.Stdout
	if *output != "-" {
		out, err = os.Create(*output)
		if err != nil {
			log.Fatal(err.Error())
		}
		defer out.Close()
	}
	var tout io.Writer
	if *timings != "" {
		slog.Info("creating timings file", slog.String("name", *timings))
		fp, err := os.Create(*timings)
		if err != nil {
			log.Fatal(err.Error())
		}
		defer fp.Close()
		tout = fp
	}
	n, err := opts.run(out, tout, txs)
	if err != nil {
		log.Fatal(err.Error())
	}
	slog.Info("finished", slog.Int("transactions", len(txs)), slog.Int("lines", n), slog.Duration("elapsed", time.Since(start)))
}

// tx is a single chip select bracketed transaction.
type tx struct {
	SDO   []byte
	Start float64
}

func scanFiles(fclk, fenable, fmosi, fmiso string) ([]tx, error) {
	clk, err := opendigital(fclk)
	if err != nil {
		return nil, err
	}
	enable, err := opendigital(fenable)
	if err != nil {
		return nil, err
	}
	mosi, err := opendigital(fmosi)
	if err != nil {
		return nil, err
	}
	miso, err := opendigital(fmiso)
	if err != nil {
		return nil, err
	}
	spi := analyzers.SPI{}
	stxs, _ := spi.Scan(clk, enable, mosi, miso)
	txs := make([]tx, len(stxs))
	for i := range stxs {
		txs[i] = tx{SDO: stxs[i].SDO, Start: stxs[i].StartTime()}
	}
	return txs, nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return saleae.ReadDigitalFile(fp)
}

// run writes one line per run of identical commands. Polling loops such as
// waiting on TRX_STATUS collapse into a single line with a repeat count.
func (o *options) run(w, timings io.Writer, txs []tx) (lines int, err error) {
	const fmtMsg = "cmd×%-3d %s"
	for i := 0; i < len(txs); i++ {
		c := decode(txs[i].SDO)
		num := 1
		for j := i + 1; j < len(txs); j++ {
			if !bytes.Equal(txs[i].SDO, txs[j].SDO) {
				break
			}
			num++
			i = j
		}
		if o.omit(c) {
			continue
		}
		if o.OmitReadData && !c.Kind.write() {
			c.Data = nil
		}
		if o.MaxData > 0 {
			c.Data = c.Data[:min(len(c.Data), o.MaxData)]
		}
		_, err = fmt.Fprintf(w, fmtMsg+"\n", num, c.describe(o.DecodeState))
		if err != nil {
			return lines, err
		}
		lines++
		if timings != nil {
			fmt.Fprintf(timings, "t=%f\tdata=%#x\n", txs[i].Start, c.Data)
		}
	}
	return lines, nil
}

func (o *options) omit(c command) bool {
	switch {
	case o.OmitRead && !c.Kind.write(), o.OmitWrite && c.Kind.write():
		return true
	case o.OmitFrames && c.Kind != kindRegRead && c.Kind != kindRegWrite:
		return true
	}
	return false
}

type kind uint8

const (
	kindInvalid kind = iota
	kindRegRead
	kindRegWrite
	kindFrameRead
	kindFrameWrite
	kindSRAMRead
	kindSRAMWrite
)

func (k kind) write() bool {
	return k == kindRegWrite || k == kindFrameWrite || k == kindSRAMWrite
}

func (k kind) String() string {
	switch k {
	case kindRegRead:
		return "reg-read"
	case kindRegWrite:
		return "reg-write"
	case kindFrameRead:
		return "frame-read"
	case kindFrameWrite:
		return "frame-write"
	case kindSRAMRead:
		return "sram-read"
	case kindSRAMWrite:
		return "sram-write"
	}
	return "invalid"
}

type command struct {
	Kind kind
	Addr uint8
	Data []byte
}

// decode interprets the MOSI bytes of one transaction. The first byte is
// the command; SRAM accesses carry the start address in the second.
func decode(b []byte) (c command) {
	if len(b) == 0 {
		return c
	}
	switch {
	case b[0]&0xc0 == 0xc0:
		c.Kind, c.Addr = kindRegWrite, b[0]&0x3f
	case b[0]&0xc0 == 0x80:
		c.Kind, c.Addr = kindRegRead, b[0]&0x3f
	case b[0]&0xe0 == 0x60:
		c.Kind = kindFrameWrite
	case b[0]&0xe0 == 0x20:
		c.Kind = kindFrameRead
	case b[0]&0xe0 == 0x40, b[0]&0xe0 == 0x00:
		c.Kind = kindSRAMRead
		if b[0]&0xe0 == 0x40 {
			c.Kind = kindSRAMWrite
		}
		if len(b) < 2 {
			c.Kind = kindInvalid
			c.Data = b
			return c
		}
		c.Addr = b[1] & 0x7f
		c.Data = b[2:]
		return c
	default:
		c.Data = b
		return c
	}
	c.Data = b[1:]
	return c
}

func (c command) describe(decodeState bool) string {
	switch c.Kind {
	case kindRegRead, kindRegWrite:
		s := fmt.Sprintf("%-10s %-13s", c.Kind, at86rf212.RegisterName(c.Addr))
		if c.Kind == kindRegWrite && c.Addr == at86rf212.RegTRXState && decodeState && len(c.Data) > 0 {
			return s + " cmd=" + stateCommand(c.Data[0]&0x1f)
		}
		if c.Kind == kindRegWrite && c.Addr == at86rf212.RegIRQMask && len(c.Data) > 0 {
			return s + " irq=" + at86rf212.IRQ(c.Data[0]).String()
		}
		return fmt.Sprintf("%s data=%#x", s, c.Data)
	case kindFrameWrite:
		if len(c.Data) > 0 {
			return fmt.Sprintf("%-10s PHR=%-3d     data=%#x", c.Kind, c.Data[0], c.Data[1:])
		}
	case kindSRAMRead, kindSRAMWrite:
		return fmt.Sprintf("%-10s addr=%#-8x data=%#x", c.Kind, c.Addr, c.Data)
	}
	return fmt.Sprintf("%-10s %13s data=%#x", c.Kind, "", c.Data)
}

func stateCommand(cmd uint8) string {
	switch cmd {
	case 0x00:
		return "NOP"
	case 0x02:
		return "TX_START"
	case 0x03:
		return "FORCE_TRX_OFF"
	case 0x04:
		return "FORCE_PLL_ON"
	}
	return at86rf212.State(cmd).String()
}

func min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}
