package store

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/at24cx"
)

const eepromHeaderLen = 2

// EEPROMConfig places the record inside an AT24Cxx part
type EEPROMConfig struct {
	Address  uint16 // I2C address, at24cx.Address if zero
	Base     uint16 // first byte of the record area
	Capacity uint16 // size of the record area including the length header
	PageSize uint16 // device page size, 32 if zero
	Size     uint16 // device size in bytes, 4096 if zero
}

// EEPROMStore keeps the record in an I2C EEPROM as a little-endian 16-bit
// length followed by the payload. An erased (0xFFFF) or zero length means no
// record. Rewrites store the payload before the length header.
type EEPROMStore struct {
	dev      at24cx.Device
	base     uint16
	capacity uint16
	mounted  atomic.Bool
}

// NewEEPROMStore configures an at24cx device on bus
func NewEEPROMStore(bus drivers.I2C, cfg EEPROMConfig) *EEPROMStore {
	dev := at24cx.New(bus)
	if cfg.Address != 0 {
		dev.Address = cfg.Address
	}
	dev.Configure(at24cx.Config{
		PageSize:      cfg.PageSize,
		EndRAMAddress: cfg.Size,
	})
	if cfg.Capacity == 0 {
		cfg.Capacity = 1024
	}
	return &EEPROMStore{dev: dev, base: cfg.Base, capacity: cfg.Capacity}
}

func (s *EEPROMStore) Mounted() bool {
	return s.mounted.Load()
}

// Mount probes the device by reading the length header
func (s *EEPROMStore) Mount() error {
	if _, err := s.readLength(); err != nil {
		return fmt.Errorf("mount eeprom: %w", err)
	}
	s.mounted.Store(true)
	return nil
}

func (s *EEPROMStore) readLength() (uint16, error) {
	var hdr [eepromHeaderLen]byte
	if _, err := s.dev.ReadAt(hdr[:], int64(s.base)); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(hdr[:]), nil
}

func (s *EEPROMStore) writeLength(n uint16) error {
	var hdr [eepromHeaderLen]byte
	binary.LittleEndian.PutUint16(hdr[:], n)
	_, err := s.dev.WriteAt(hdr[:], int64(s.base))
	return err
}

// storedLength returns the payload length, or 0 when there is no record
func (s *EEPROMStore) storedLength() (int, error) {
	n, err := s.readLength()
	if err != nil {
		return 0, fmt.Errorf("read eeprom header: %w", err)
	}
	if n == 0xFFFF || int(n) > int(s.capacity)-eepromHeaderLen {
		return 0, nil
	}
	return int(n), nil
}

func (s *EEPROMStore) Exists() (bool, error) {
	if !s.Mounted() {
		return false, ErrNotMounted
	}
	n, err := s.storedLength()
	return n > 0, err
}

func (s *EEPROMStore) Open(forRead bool) (Record, error) {
	if !s.Mounted() {
		return nil, ErrNotMounted
	}
	if forRead {
		ok, err := s.Exists()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNoRecord
		}
	}
	return &eepromRecord{s: s, forRead: forRead}, nil
}

func (s *EEPROMStore) Remove() error {
	if !s.Mounted() {
		return ErrNotMounted
	}
	if err := s.writeLength(0); err != nil {
		return fmt.Errorf("clear eeprom header: %w", err)
	}
	return nil
}

// eepromRecord buffers a rewrite and commits it on Close
type eepromRecord struct {
	s       *EEPROMStore
	forRead bool
	buf     []byte
	dirty   bool
}

func (r *eepromRecord) SeekToStart() error {
	r.buf = r.buf[:0]
	return nil
}

func (r *eepromRecord) WriteAll(p []byte) error {
	if r.forRead {
		return ErrReadOnly
	}
	if len(r.buf)+len(p) > int(r.s.capacity)-eepromHeaderLen {
		return ErrTooLarge
	}
	r.buf = append(r.buf, p...)
	r.dirty = true
	return nil
}

func (r *eepromRecord) ReadAll(maxLen int) ([]byte, error) {
	n, err := r.s.storedLength()
	if err != nil {
		return nil, err
	}
	if n > maxLen {
		return nil, ErrTooLarge
	}
	b := make([]byte, n)
	if _, err := r.s.dev.ReadAt(b, int64(r.s.base)+eepromHeaderLen); err != nil {
		return nil, fmt.Errorf("read eeprom record: %w", err)
	}
	return b, nil
}

func (r *eepromRecord) Close() error {
	if r.forRead || !r.dirty {
		return nil
	}
	if _, err := r.s.dev.WriteAt(r.buf, int64(r.s.base)+eepromHeaderLen); err != nil {
		return fmt.Errorf("write eeprom record: %w", err)
	}
	if err := r.s.writeLength(uint16(len(r.buf))); err != nil {
		return fmt.Errorf("write eeprom header: %w", err)
	}
	return nil
}
