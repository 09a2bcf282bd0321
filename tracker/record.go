package tracker

import (
	"time"

	"netbuf/domain/buffer"
)

// Record is the registry's entry for one buffer.
type Record struct {
	ID        buffer.ID `json:"id"`
	Size      int       `json:"size"`
	Site      string    `json:"site"`
	Shadow    buffer.ID `json:"shadow,omitempty"`
	Marker    string    `json:"marker,omitempty"`
	Marks     uint32    `json:"marks,omitempty"`
	Allocated time.Time `json:"allocated"`

	Freed   bool   `json:"freed,omitempty"`
	FreedAt string `json:"freed_at,omitempty"`
}
