package packet

import (
	"encoding/binary"
	"net/netip"
)

// Source returns the source address of an IPv6 packet. The caller must have
// checked that buf holds at least a fixed header.
func Source(buf []byte) netip.Addr {
	return netip.AddrFrom16([16]byte(buf[SourceOffset : SourceOffset+16]))
}

// Destination returns the destination address of an IPv6 packet.
func Destination(buf []byte) netip.Addr {
	return netip.AddrFrom16([16]byte(buf[DestinationOffset : DestinationOffset+16]))
}

// RewriteSource overwrites the source address of buf with addr and repairs
// the transport checksum in place. c must be the classification of buf.
func RewriteSource(buf []byte, c Classified, addr netip.Addr) {
	rewriteAddress(buf, c, SourceOffset, addr)
}

// RewriteDestination overwrites the destination address of buf with addr and
// repairs the transport checksum in place.
func RewriteDestination(buf []byte, c Classified, addr netip.Addr) {
	rewriteAddress(buf, c, DestinationOffset, addr)
}

func rewriteAddress(buf []byte, c Classified, field int, addr netip.Addr) {
	cur := (*[16]byte)(buf[field : field+16])
	repl := addr.As16()

	if off := checksumOffset(c); off >= 0 {
		sum := binary.BigEndian.Uint16(buf[off : off+2])
		// A zero UDP checksum means the sender did not compute one.
		if c.Protocol != ProtocolUDP || sum != 0 {
			sum = UpdateChecksum(sum, cur, &repl)
			if c.Protocol == ProtocolUDP && sum == 0 {
				sum = 0xffff
			}
			binary.BigEndian.PutUint16(buf[off:off+2], sum)
		}
	}

	*cur = repl
}
