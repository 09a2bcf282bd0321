package codec

import (
	"encoding/binary"

	"netbuf/domain/buffer"

	"github.com/cockroachdb/errors"
)

// MSDU framing from the firmware:
//
//	DA[6] SA[6] length[2 BE] DSAP SSAP CTRL OUI[3] ethertype[2 BE]
//
// length counts the SNAP header, ethertype and payload.
const (
	SNAPLen  = 6
	MSDUHLen = 2*AddrLen + 2 + SNAPLen + 2
	// MSDULength is what the length field adds on top of the payload.
	MSDULength = SNAPLen + 2
	// ExtraHeadroom is what ToVendorHeader needs in front of an Ethernet frame.
	ExtraHeadroom = MSDUHLen - EtherHLen
)

// RFC1042 is the SNAP template written into vendor headers.
var RFC1042 = [SNAPLen]byte{0xaa, 0xaa, 0x03, 0x00, 0x00, 0x00}

var (
	ErrShortFrame           = errors.New("codec: frame shorter than its header")
	ErrInsufficientHeadroom = errors.New("codec: insufficient headroom")
)

// ToStandardHeader rewrites an MSDU-framed buffer in place as an Ethernet
// frame with the same addresses and ethertype.
func ToStandardHeader(b *buffer.Buffer) error {
	if b.Len() < MSDUHLen {
		return errors.Wrapf(ErrShortFrame, "msdu %d < %d", b.Len(), MSDUHLen)
	}
	var da, sa [AddrLen]byte
	hdr := b.Bytes()
	copy(da[:], hdr[0:6])
	copy(sa[:], hdr[6:12])
	proto := binary.BigEndian.Uint16(hdr[20:22])

	if _, err := b.Pull(MSDUHLen); err != nil {
		return err
	}
	eth, err := b.Push(EtherHLen)
	if err != nil {
		return err
	}
	copy(eth[0:6], da[:])
	copy(eth[6:12], sa[:])
	binary.BigEndian.PutUint16(eth[12:14], proto)
	return nil
}

// ToVendorHeader rewrites an Ethernet-framed buffer in place as an MSDU
// frame. It needs ExtraHeadroom bytes in front of the frame.
func ToVendorHeader(b *buffer.Buffer) error {
	if b.Headroom() < ExtraHeadroom {
		return errors.Wrapf(ErrInsufficientHeadroom, "have %d, need %d", b.Headroom(), ExtraHeadroom)
	}
	if b.Len() < EtherHLen {
		return errors.Wrapf(ErrShortFrame, "ethernet %d < %d", b.Len(), EtherHLen)
	}
	var da, sa [AddrLen]byte
	eth := b.Bytes()
	copy(da[:], eth[0:6])
	copy(sa[:], eth[6:12])
	proto := binary.BigEndian.Uint16(eth[12:14])
	length := b.Len() - EtherHLen + MSDULength

	if _, err := b.Pull(EtherHLen); err != nil {
		return err
	}
	msdu, err := b.Push(MSDUHLen)
	if err != nil {
		return err
	}
	copy(msdu[0:6], da[:])
	copy(msdu[6:12], sa[:])
	binary.BigEndian.PutUint16(msdu[12:14], uint16(length))
	copy(msdu[14:20], RFC1042[:])
	binary.BigEndian.PutUint16(msdu[20:22], proto)
	return nil
}
