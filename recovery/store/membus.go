package store

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/renameio/v2"
	"tinygo.org/x/drivers/at24cx"
)

var ErrNack = errors.New("i2c: no acknowledge")

// MemoryBus emulates an AT24Cxx EEPROM on an I2C bus. Writes are optionally
// mirrored to an image file so the contents survive a process restart.
type MemoryBus struct {
	mu      sync.Mutex
	address uint16
	mem     []byte
	image   string
	fail    error
	writes  int
}

// NewMemoryBus returns an erased device of size bytes
func NewMemoryBus(size int) *MemoryBus {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &MemoryBus{address: at24cx.Address, mem: mem}
}

// OpenMemoryBus loads the device contents from an image file, creating an
// erased image if it does not exist.
func OpenMemoryBus(image string, size int) (*MemoryBus, error) {
	b := NewMemoryBus(size)
	b.image = image

	data, err := os.ReadFile(image)
	switch {
	case err == nil:
		copy(b.mem, data)
	case errors.Is(err, os.ErrNotExist):
		if err := b.persist(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read eeprom image: %w", err)
	}
	return b, nil
}

// FailWrites makes every following write transaction return err. A nil err
// clears the fault.
func (b *MemoryBus) FailWrites(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = err
}

// Writes returns the number of write transactions accepted
func (b *MemoryBus) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// Bytes returns a copy of the device contents
func (b *MemoryBus) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.mem...)
}

// Tx implements drivers.I2C. The first two bytes of w are the memory address;
// the rest is data to program. A non-empty r reads sequentially from that
// address.
func (b *MemoryBus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if addr != b.address {
		return fmt.Errorf("%w: address 0x%02X", ErrNack, addr)
	}
	if len(w) < 2 {
		return fmt.Errorf("%w: short address", ErrNack)
	}
	at := int(w[0])<<8 | int(w[1])

	if len(r) > 0 {
		for i := range r {
			r[i] = b.mem[(at+i)%len(b.mem)]
		}
		return nil
	}

	data := w[2:]
	if len(data) == 0 {
		return nil
	}
	if b.fail != nil {
		return b.fail
	}
	for i, v := range data {
		b.mem[(at+i)%len(b.mem)] = v
	}
	b.writes++
	return b.persist()
}

func (b *MemoryBus) persist() error {
	if b.image == "" {
		return nil
	}
	if err := renameio.WriteFile(b.image, b.mem, 0o644); err != nil {
		return fmt.Errorf("write eeprom image: %w", err)
	}
	return nil
}
