// Package d2r2i2c runs the HTS221 driver over github.com/d2r2/go-i2c, for
// hosts where only the /dev/i2c-N character device is available.
package d2r2i2c

import (
	"fmt"

	i2c "github.com/d2r2/go-i2c"
)

// Bus is a register transport bound to one device address.
type Bus struct {
	i2c  *i2c.I2C
	addr uint8
	bus  int
}

// Open opens /dev/i2c-<bus> for the device at addr.
func Open(addr uint8, bus int) (*Bus, error) {
	c, err := i2c.NewI2C(addr, bus)
	if err != nil {
		return nil, fmt.Errorf("d2r2i2c: open bus %d addr 0x%02X: %w", bus, addr, err)
	}
	return &Bus{i2c: c, addr: addr, bus: bus}, nil
}

func (b *Bus) ReadUint8(reg uint8) (uint8, error) {
	return b.i2c.ReadRegU8(reg)
}

func (b *Bus) WriteUint8(reg uint8, v uint8) error {
	return b.i2c.WriteRegU8(reg, v)
}

func (b *Bus) Close() error {
	return b.i2c.Close()
}

func (b *Bus) String() string {
	return fmt.Sprintf("i2c-%d@0x%02X", b.bus, b.addr)
}
