package journal

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"time"

	"netbuf/domain/buffer"
	"netbuf/tracker"

	"github.com/cockroachdb/errors"
)

// Frame:
//
//	[kind:1][seq:8][time:8][len:4][payload][crc:4]
//
// payload is [id:8][size:4][site], crc covers header and payload.
const (
	headerLen  = 1 + 8 + 8 + 4
	payloadMin = 8 + 4
	// MaxSite bounds the stored site tag; longer tags are cut.
	MaxSite    = 4 << 10
	payloadMax = payloadMin + MaxSite
)

var ErrCorrupt = errors.New("journal: corrupt record")

// Entry is one replayed record.
type Entry struct {
	Seq   uint64
	Event tracker.Event
}

func encode(seq uint64, ev tracker.Event) []byte {
	if len(ev.Site) > MaxSite {
		ev.Site = ev.Site[:MaxSite]
	}
	plen := payloadMin + len(ev.Site)
	buf := make([]byte, headerLen+plen+4)

	buf[0] = byte(ev.Kind)
	binary.BigEndian.PutUint64(buf[1:9], seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(ev.Time.UnixNano()))
	binary.BigEndian.PutUint32(buf[17:21], uint32(plen))

	p := buf[headerLen : headerLen+plen]
	binary.BigEndian.PutUint64(p[0:8], uint64(ev.ID))
	binary.BigEndian.PutUint32(p[8:12], uint32(ev.Size))
	copy(p[12:], ev.Site)

	binary.BigEndian.PutUint32(buf[headerLen+plen:], crc32.ChecksumIEEE(buf[:headerLen+plen]))
	return buf
}

// readEntry returns io.EOF at a clean end and io.ErrUnexpectedEOF for a
// torn trailing record.
func readEntry(r io.Reader) (Entry, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Entry{}, err
	}
	plen := binary.BigEndian.Uint32(header[17:21])
	if plen < payloadMin || plen > payloadMax {
		return Entry{}, errors.Wrapf(ErrCorrupt, "payload length %d", plen)
	}
	data := make([]byte, plen+4)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Entry{}, err
	}
	payload := data[:plen]
	sum := binary.BigEndian.Uint32(data[plen:])

	h := crc32.NewIEEE()
	h.Write(header[:])
	h.Write(payload)
	if h.Sum32() != sum {
		return Entry{}, errors.Wrapf(ErrCorrupt, "crc mismatch at seq %d", binary.BigEndian.Uint64(header[1:9]))
	}

	return Entry{
		Seq: binary.BigEndian.Uint64(header[1:9]),
		Event: tracker.Event{
			Kind: tracker.EventKind(header[0]),
			ID:   buffer.ID(binary.BigEndian.Uint64(payload[0:8])),
			Size: int(binary.BigEndian.Uint32(payload[8:12])),
			Site: string(payload[12:]),
			Time: time.Unix(0, int64(binary.BigEndian.Uint64(header[9:17]))),
		},
	}, nil
}
