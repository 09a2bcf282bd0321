package codec

import "bytes"

const (
	AddrLen   = 6
	EtherHLen = 14
)

var broadcast = [AddrLen]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func ZeroAddr(addr []byte)      { clear(addr[:AddrLen]) }
func BroadcastAddr(addr []byte) { copy(addr[:AddrLen], broadcast[:]) }
func CopyAddr(dst, src []byte)  { copy(dst[:AddrLen], src[:AddrLen]) }

func AddrEqual(a, b []byte) bool {
	return bytes.Equal(a[:AddrLen], b[:AddrLen])
}

func IsBroadcast(addr []byte) bool {
	return bytes.Equal(addr[:AddrLen], broadcast[:])
}
