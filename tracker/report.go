package tracker

import (
	"fmt"
	"io"
	"strings"
	"time"

	"netbuf/domain/buffer"
)

// Report is a point-in-time view of the registry: every buffer still live
// plus the counters.
type Report struct {
	Time    time.Time `json:"time"`
	Enabled bool      `json:"enabled"`
	Live    []Record  `json:"live"`
	Stats   Stats     `json:"stats"`
}

// Leaks returns the live records; at shutdown every one of them is a leak.
func (r Report) Leaks() []Record { return r.Live }

// Contains reports whether id is listed as live.
func (r Report) Contains(id buffer.ID) bool {
	for _, rec := range r.Live {
		if rec.ID == id {
			return true
		}
	}
	return false
}

// BySite groups live buffer counts by allocation site.
func (r Report) BySite() map[string]int {
	out := make(map[string]int)
	for _, rec := range r.Live {
		out[rec.Site]++
	}
	return out
}

// Format writes the human-readable leak summary.
func (r Report) Format(w io.Writer) error {
	if !r.Enabled {
		_, err := fmt.Fprintln(w, "buffer tracking disabled")
		return err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "unreleased buffers: %d (double free %d, double track %d, unknown marker %d)\n",
		len(r.Live), r.Stats.DoubleFree, r.Stats.DoubleTrack, r.Stats.UnknownMark)
	for _, rec := range r.Live {
		fmt.Fprintf(&sb, "  buf#%d size=%d allocated=%s", rec.ID, rec.Size, rec.Site)
		if rec.Marker != "" {
			fmt.Fprintf(&sb, " last=%s", rec.Marker)
		}
		if rec.Shadow != 0 {
			fmt.Fprintf(&sb, " shadow=buf#%d", rec.Shadow)
		}
		fmt.Fprintf(&sb, " age=%s\n", r.Time.Sub(rec.Allocated).Truncate(time.Millisecond))
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func (r Report) String() string {
	var sb strings.Builder
	_ = r.Format(&sb)
	return sb.String()
}
