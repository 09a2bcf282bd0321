package codec

import (
	"encoding/binary"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
)

// ErrAttrTooShort is returned when an attribute's payload is shorter than
// the value being decoded.
var ErrAttrTooShort = errors.New("codec: attribute too short")

// Scalar is the set of fixed-width integers Decode understands.
type Scalar interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64
}

func need(a netlink.Attribute, n int) error {
	if len(a.Data) < n {
		return errors.Wrapf(ErrAttrTooShort, "attr %d: %d bytes, need %d", a.Type, len(a.Data), n)
	}
	return nil
}

// Decode reads a host-order integer of T's width from the front of the
// attribute payload.
func Decode[T Scalar](a netlink.Attribute) (T, error) {
	var v T
	w := int(unsafe.Sizeof(v))
	if err := need(a, w); err != nil {
		return v, err
	}
	switch w {
	case 1:
		v = T(a.Data[0])
	case 2:
		v = T(nlenc.Uint16(a.Data[:2]))
	case 4:
		v = T(nlenc.Uint32(a.Data[:4]))
	case 8:
		v = T(nlenc.Uint64(a.Data[:8]))
	}
	return v, nil
}

func DecodeBE16(a netlink.Attribute) (uint16, error) {
	if err := need(a, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(a.Data), nil
}

func DecodeBE32(a netlink.Attribute) (uint32, error) {
	if err := need(a, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(a.Data), nil
}

func DecodeBE64(a netlink.Attribute) (uint64, error) {
	if err := need(a, 8); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(a.Data), nil
}

func DecodeLE16(a netlink.Attribute) (uint16, error) {
	if err := need(a, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(a.Data), nil
}

func DecodeLE32(a netlink.Attribute) (uint32, error) {
	if err := need(a, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(a.Data), nil
}

func DecodeLE64(a netlink.Attribute) (uint64, error) {
	if err := need(a, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(a.Data), nil
}

// DecodeBytes copies exactly n payload bytes into dst.
func DecodeBytes(a netlink.Attribute, n int, dst []byte) error {
	if err := need(a, n); err != nil {
		return err
	}
	if len(dst) < n {
		return errors.Wrapf(ErrShortBuffer, "attr %d: destination %d < %d", a.Type, len(dst), n)
	}
	copy(dst, a.Data[:n])
	return nil
}

// ParseAttributes splits a netlink attribute stream.
func ParseAttributes(b []byte) ([]netlink.Attribute, error) {
	attrs, err := netlink.UnmarshalAttributes(b)
	if err != nil {
		return nil, errors.Wrap(err, "codec: parse attributes")
	}
	return attrs, nil
}
