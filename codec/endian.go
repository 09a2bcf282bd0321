package codec

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

var ErrShortBuffer = errors.New("codec: short buffer")

func LE16(b []byte) uint16       { return binary.LittleEndian.Uint16(b) }
func LE32(b []byte) uint32       { return binary.LittleEndian.Uint32(b) }
func PutLE16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func PutLE32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }

// Cursor reads or writes fixed-width little-endian values, advancing past
// each one.
type Cursor struct {
	buf []byte
	off int
}

func NewCursor(b []byte) *Cursor {
	return &Cursor{buf: b}
}

func (c *Cursor) Offset() int    { return c.off }
func (c *Cursor) Remaining() int { return len(c.buf) - c.off }

func (c *Cursor) take(n int) ([]byte, error) {
	if c.Remaining() < n {
		return nil, errors.Wrapf(ErrShortBuffer, "need %d at offset %d, have %d", n, c.off, c.Remaining())
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *Cursor) ReadU8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *Cursor) ReadLE16() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (c *Cursor) ReadLE32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *Cursor) ReadLE64() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *Cursor) WriteU8(v uint8) error {
	b, err := c.take(1)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

func (c *Cursor) WriteLE16(v uint16) error {
	b, err := c.take(2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b, v)
	return nil
}

func (c *Cursor) WriteLE32(v uint32) error {
	b, err := c.take(4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

func (c *Cursor) WriteLE64(v uint64) error {
	b, err := c.take(8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}

// TLVValue assembles up to four little-endian bytes of a TLV value.
// Longer values are not representable and yield 0.
func TLVValue(data []byte, length uint16) uint32 {
	if length > 4 || int(length) > len(data) {
		return 0
	}
	var v uint32
	for i := 0; i < int(length); i++ {
		v |= uint32(data[i]) << (i * 8)
	}
	return v
}
