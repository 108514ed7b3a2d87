package chibi

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// Store persists node addressing across resets. It is addressed like the
// EEPROM the firmware keeps it in, so an *os.File satisfies it.
type Store interface {
	io.ReaderAt
	io.WriterAt
}

// Store layout.
const (
	StoreIEEEAddrOffset  = 0x0000 // 8 bytes, little endian.
	StoreShortAddrOffset = 0x0009 // 2 bytes, little endian.
	StoreSize            = StoreShortAddrOffset + 2
)

// ReadShortAddr reads the short address saved in s.
func ReadShortAddr(s Store) (uint16, error) {
	var buf [2]byte
	_, err := s.ReadAt(buf[:], StoreShortAddrOffset)
	if err != nil {
		return 0, fmt.Errorf("reading short address: %w", err)
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

// WriteShortAddr saves addr in s.
func WriteShortAddr(s Store, addr uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], addr)
	_, err := s.WriteAt(buf[:], StoreShortAddrOffset)
	if err != nil {
		return fmt.Errorf("writing short address: %w", err)
	}
	return nil
}

// ReadIEEEAddr reads the IEEE address saved in s.
func ReadIEEEAddr(s Store) (uint64, error) {
	var buf [8]byte
	_, err := s.ReadAt(buf[:], StoreIEEEAddrOffset)
	if err != nil {
		return 0, fmt.Errorf("reading IEEE address: %w", err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteIEEEAddr saves addr in s.
func WriteIEEEAddr(s Store, addr uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], addr)
	_, err := s.WriteAt(buf[:], StoreIEEEAddrOffset)
	if err != nil {
		return fmt.Errorf("writing IEEE address: %w", err)
	}
	return nil
}

// MemStore is a Store held in memory, useful for boards without
// non-volatile memory and for tests. The zero value is ready for use.
type MemStore struct {
	mu  sync.Mutex
	buf [StoreSize]byte
}

var _ Store = (*MemStore)(nil)

func (m *MemStore) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemStore) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(m.buf)) {
		return 0, io.ErrShortWrite
	}
	return copy(m.buf[off:], p), nil
}
