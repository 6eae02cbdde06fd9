package packet

import "encoding/binary"

// Protocol is the upper-layer protocol found after the IPv6 extension-header chain.
type Protocol uint8

const (
	ProtocolOther Protocol = iota
	ProtocolUDP
	ProtocolTCP
	ProtocolICMPv6
)

// String returns the lowercase protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtocolUDP:
		return "udp"
	case ProtocolTCP:
		return "tcp"
	case ProtocolICMPv6:
		return "icmp6"
	default:
		return "other"
	}
}

// IPv6 next-header values understood by the classifier.
const (
	NextHeaderHopByHop    uint8 = 0
	NextHeaderTCP         uint8 = 6
	NextHeaderUDP         uint8 = 17
	NextHeaderRouting     uint8 = 43
	NextHeaderFragment    uint8 = 44
	NextHeaderESP         uint8 = 50
	NextHeaderAH          uint8 = 51
	NextHeaderICMPv6      uint8 = 58
	NextHeaderNoNext      uint8 = 59
	NextHeaderDestOptions uint8 = 60
	NextHeaderMobility    uint8 = 135
	NextHeaderHIP         uint8 = 139
	NextHeaderShim6       uint8 = 140
	NextHeaderExp1        uint8 = 253
	NextHeaderExp2        uint8 = 254
)

const (
	// HeaderLen is the size of the fixed IPv6 header.
	HeaderLen = 40

	// SourceOffset and DestinationOffset locate the addresses in the fixed header.
	SourceOffset      = 8
	DestinationOffset = 24

	// maxExtensionHeaders bounds the chain walk.
	maxExtensionHeaders = 8
)

// Classified describes where the transport header of an IPv6 packet starts.
// It is returned by value and never escapes the packet being processed.
type Classified struct {
	Protocol       Protocol
	NextHeader     uint8
	L4Offset       int
	FragmentOffset uint16
	Valid          bool
}

// Fragmented reports whether the packet is a non-initial fragment, in which
// case no transport header is present at L4Offset.
func (c Classified) Fragmented() bool {
	return c.FragmentOffset != 0
}

// Classify parses the fixed IPv6 header of buf and follows the extension
// header chain to the first upper-layer header. A zero Classified with
// Valid=false is returned for truncated or malformed packets.
func Classify(buf []byte) Classified {
	if len(buf) < HeaderLen || buf[0]>>4 != 6 {
		return Classified{}
	}

	end := HeaderLen + int(binary.BigEndian.Uint16(buf[4:6]))
	if end > len(buf) {
		return Classified{}
	}

	next := buf[6]
	offset := HeaderLen
	var fragOffset uint16

	for i := 0; ; i++ {
		if !isExtension(next) {
			break
		}
		if i == maxExtensionHeaders || offset+8 > end {
			return Classified{}
		}

		hdr := buf[offset:]
		var length int
		switch next {
		case NextHeaderFragment:
			length = 8
			fragOffset = binary.BigEndian.Uint16(hdr[2:4]) >> 3
		case NextHeaderAH:
			length = (int(hdr[1]) + 2) * 4
		default:
			length = (int(hdr[1]) + 1) * 8
		}
		if offset+length > end {
			return Classified{}
		}

		next = hdr[0]
		offset += length

		if fragOffset != 0 {
			// Later fragments carry payload only.
			return Classified{
				Protocol:       protocolOf(next),
				NextHeader:     next,
				L4Offset:       offset,
				FragmentOffset: fragOffset,
				Valid:          true,
			}
		}
	}

	proto := protocolOf(next)
	if offset+minTransportLen(proto) > end {
		return Classified{}
	}

	return Classified{
		Protocol:   proto,
		NextHeader: next,
		L4Offset:   offset,
		Valid:      true,
	}
}

func isExtension(next uint8) bool {
	switch next {
	case NextHeaderHopByHop, NextHeaderRouting, NextHeaderFragment, NextHeaderAH,
		NextHeaderDestOptions, NextHeaderMobility, NextHeaderHIP, NextHeaderShim6,
		NextHeaderExp1, NextHeaderExp2:
		return true
	}
	return false
}

func protocolOf(next uint8) Protocol {
	switch next {
	case NextHeaderUDP:
		return ProtocolUDP
	case NextHeaderTCP:
		return ProtocolTCP
	case NextHeaderICMPv6:
		return ProtocolICMPv6
	default:
		return ProtocolOther
	}
}

// minTransportLen is the number of bytes that must follow the chain before
// the packet is considered complete enough to process.
func minTransportLen(p Protocol) int {
	switch p {
	case ProtocolUDP:
		return 8
	case ProtocolTCP:
		return 20
	case ProtocolICMPv6:
		return 4
	default:
		return 0
	}
}
