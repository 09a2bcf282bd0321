// Package codec holds the stateless wire helpers the buffer layer carries:
// little-endian cursors, translation between the firmware's 802.11 MSDU
// framing and Ethernet framing, and bounds-checked netlink attribute
// decoding.
package codec
