package memory

// PoisonByte fills released slabs when poisoning is on, so a stale reader
// sees an obvious pattern instead of the next packet's bytes.
const PoisonByte = 0xDE

func Poison(b []byte) {
	for i := range b {
		b[i] = PoisonByte
	}
}

// Poisoned reports whether b is entirely poison.
func Poisoned(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, v := range b {
		if v != PoisonByte {
			return false
		}
	}
	return true
}
