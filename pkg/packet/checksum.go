package packet

import "encoding/binary"

// Checksum field offsets relative to the start of the transport header.
const (
	udpChecksumOffset    = 6
	tcpChecksumOffset    = 16
	icmpv6ChecksumOffset = 2
)

// ChecksumAdd adds x to the ones'-complement accumulator c, carrying
// overflow back into the low bit.
func ChecksumAdd(c, x uint64) uint64 {
	s := c + x
	if s < x {
		s++
	}
	return s
}

// ChecksumSub subtracts x from the ones'-complement accumulator c.
func ChecksumSub(c, x uint64) uint64 {
	return ChecksumAdd(c, ^x)
}

// ChecksumFold reduces a 64-bit ones'-complement accumulator to 16 bits.
func ChecksumFold(c uint64) uint16 {
	c = (c & 0xffffffff) + (c >> 32)
	c = (c & 0xffffffff) + (c >> 32)
	c = (c & 0xffff) + (c >> 16)
	c = (c & 0xffff) + (c >> 16)
	return uint16(c)
}

// UpdateChecksum returns the checksum that results from replacing the
// 128-bit value from with to in the data covered by sum (RFC 1624, eqn. 3).
func UpdateChecksum(sum uint16, from, to *[16]byte) uint16 {
	acc := uint64(^sum)
	acc = ChecksumSub(acc, binary.BigEndian.Uint64(from[0:8]))
	acc = ChecksumSub(acc, binary.BigEndian.Uint64(from[8:16]))
	acc = ChecksumAdd(acc, binary.BigEndian.Uint64(to[0:8]))
	acc = ChecksumAdd(acc, binary.BigEndian.Uint64(to[8:16]))
	return ^ChecksumFold(acc)
}

// checksumOffset returns the absolute offset of the transport checksum that
// covers the IPv6 pseudo-header, or -1 when there is nothing to repair.
func checksumOffset(c Classified) int {
	if c.Fragmented() {
		return -1
	}
	switch c.Protocol {
	case ProtocolUDP:
		return c.L4Offset + udpChecksumOffset
	case ProtocolTCP:
		return c.L4Offset + tcpChecksumOffset
	case ProtocolICMPv6:
		return c.L4Offset + icmpv6ChecksumOffset
	default:
		return -1
	}
}
