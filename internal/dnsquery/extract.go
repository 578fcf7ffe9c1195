// Package dnsquery pulls the queried name out of a raw packet buffer.
//
// Detection is a heuristic, not a DNS parse: a buffer is treated as a query
// when bytes 2 and 3 carry the "standard query, recursion desired, no error"
// flag pattern. Compression pointers are not followed; a pointer byte is read
// as a literal label length.
package dnsquery

import "strings"

// HeaderSize is the fixed DNS header length. Labels start right after it.
const HeaderSize = 12

const (
	flagsHi = 0x01
	flagsLo = 0x00
)

// Extract returns the domain name carried by packet, or false when the
// packet does not look like a DNS query or holds no labels. A truncated name
// is returned as far as it could be read. Extract never panics.
func Extract(packet []byte) (string, bool) {
	if len(packet) < HeaderSize {
		return "", false
	}
	if packet[2] != flagsHi || packet[3] != flagsLo {
		return "", false
	}

	var b strings.Builder
	labels := 0
	off := HeaderSize
	for off < len(packet) {
		n := int(packet[off])
		if n == 0 {
			break
		}
		off++
		if off+n > len(packet) {
			break
		}
		b.Write(packet[off : off+n])
		b.WriteByte('.')
		off += n
		labels++
	}

	if labels == 0 {
		return "", false
	}
	return strings.TrimSuffix(b.String(), "."), true
}
