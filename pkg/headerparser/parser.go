// Package headerparser turns a raw captured frame plus a datalink hint
// into a descriptor.Packet, per SPEC_FULL.md §4.1: explicit offset
// arithmetic over encoding/binary, early bounds checks, never reading
// past the captured window.
package headerparser

import (
	"encoding/binary"

	"github.com/netweaver/flowmeter/pkg/bitutil"
	"github.com/netweaver/flowmeter/pkg/descriptor"
)

const (
	ethertypeIPv4    = 0x0800
	ethertypeIPv6    = 0x86DD
	ethertypeVLAN    = 0x8100
	ethertypeQinQ    = 0x88A8
	ethertypePPPoED  = 0x8863
	ethertypePPPoES  = 0x8864
	ethertypeMPLSUC  = 0x8847
	ethertypeMPLSMC  = 0x8848
	ethertypeTRILL   = 0x22F3
	pppProtoIPv4     = 0x0021
	pppProtoIPv6     = 0x0057
	maxTagStackDepth = 10
)

// IP protocol numbers relevant to L4 dispatch.
const (
	protoICMP   = 1
	protoTCP    = 6
	protoUDP    = 17
	protoICMPv6 = 58
)

// IPv6 extension header "next header" values that must be walked past.
const (
	ipv6HopByHop  = 0
	ipv6Routing   = 43
	ipv6Fragment  = 44
	ipv6Dest      = 60
)

// Parser decodes frames into descriptors and accumulates telemetry.
type Parser struct {
	Stats *Stats
}

// New creates a header parser with fresh telemetry counters.
func New() *Parser {
	return &Parser{Stats: NewStats()}
}

// Parse decodes frame (captured bytes, length wireLen on the wire) into out.
// On any malformed-header condition it sets out.IPVersion = descriptor.IPUnknown
// and returns nil — callers must skip flow processing for such packets, per
// SPEC_FULL.md §7. Parse never reads past len(frame).
func (p *Parser) Parse(frame []byte, wireLen int, tsSec, tsUsec int64, dl descriptor.Datalink, out *descriptor.Packet) error {
	out.Reset()
	out.TimestampSec, out.TimestampUsec = tsSec, tsUsec
	out.Packet = frame
	out.PacketLen = len(frame)
	out.PacketLenWire = wireLen

	p.Stats.mu.Lock()
	p.Stats.SeenCount++
	p.Stats.mu.Unlock()

	off, ethertype, ok := p.parseLinkLayer(frame, dl, out)
	if !ok {
		p.unknown(out)
		return nil
	}
	out.Ethertype = ethertype

	off, ethertype, ok = p.parseTagStack(frame, off, ethertype, out)
	if !ok {
		p.unknown(out)
		return nil
	}

	switch ethertype {
	case ethertypeIPv4:
		ok = p.parseIPv4(frame, off, out)
	case ethertypeIPv6:
		ok = p.parseIPv6(frame, off, out)
	default:
		ok = false
	}
	if !ok {
		p.unknown(out)
		return nil
	}

	p.Stats.observeVLAN(out.VLANID, out.PacketLenWire)
	return nil
}

func (p *Parser) unknown(out *descriptor.Packet) {
	out.IPVersion = descriptor.IPUnknown
	p.Stats.mu.Lock()
	p.Stats.UnknownCount++
	p.Stats.mu.Unlock()
}

// parseLinkLayer handles EN10MB / LINUX_SLL / RAW framing.
func (p *Parser) parseLinkLayer(frame []byte, dl descriptor.Datalink, out *descriptor.Packet) (offset int, ethertype uint16, ok bool) {
	switch dl {
	case descriptor.DatalinkEN10MB:
		if len(frame) < 14 {
			return 0, 0, false
		}
		copy(out.DstMAC[:], frame[0:6])
		copy(out.SrcMAC[:], frame[6:12])
		ethertype = binary.BigEndian.Uint16(frame[12:14])
		return 14, ethertype, true

	case descriptor.DatalinkLinuxSLL:
		if len(frame) < 16 {
			return 0, 0, false
		}
		ethertype = binary.BigEndian.Uint16(frame[14:16])
		return 16, ethertype, true

	case descriptor.DatalinkRaw:
		if len(frame) < 1 {
			return 0, 0, false
		}
		version := frame[0] >> 4
		if version == 4 {
			return 0, ethertypeIPv4, true
		}
		if version == 6 {
			return 0, ethertypeIPv6, true
		}
		return 0, 0, false
	}
	return 0, 0, false
}

// parseTagStack walks 802.1Q/802.1ad/PPPoE/MPLS/TRILL layers, recording up
// to two VLAN IDs and the topmost MPLS label. Best-effort past
// maxTagStackDepth layers: the loop simply stops rather than fault.
func (p *Parser) parseTagStack(frame []byte, off int, ethertype uint16, out *descriptor.Packet) (int, uint16, bool) {
	sawOuterVLAN := false

	for depth := 0; depth < maxTagStackDepth; depth++ {
		switch ethertype {
		case ethertypeVLAN, ethertypeQinQ:
			if len(frame) < off+4 {
				return off, ethertype, false
			}
			tci := binary.BigEndian.Uint16(frame[off : off+2])
			vlanID := tci & 0x0FFF
			if !sawOuterVLAN {
				out.VLANID = vlanID
				sawOuterVLAN = true
			} else {
				out.VLANID2 = vlanID
			}
			ethertype = binary.BigEndian.Uint16(frame[off+2 : off+4])
			off += 4
			p.Stats.mu.Lock()
			p.Stats.VLANCount++
			p.Stats.mu.Unlock()
			continue

		case ethertypePPPoES:
			// PPPoE session header: 1B ver/type, 1B code, 2B session-id,
			// 2B length, then a 2B PPP protocol field.
			if len(frame) < off+8 {
				return off, ethertype, false
			}
			pppProto := binary.BigEndian.Uint16(frame[off+6 : off+8])
			off += 8
			switch pppProto {
			case pppProtoIPv4:
				ethertype = ethertypeIPv4
			case pppProtoIPv6:
				ethertype = ethertypeIPv6
			default:
				return off, ethertype, false
			}
			p.Stats.mu.Lock()
			p.Stats.PPPoECount++
			p.Stats.mu.Unlock()
			continue

		case ethertypePPPoED:
			return off, ethertype, false

		case ethertypeMPLSUC, ethertypeMPLSMC:
			if len(frame) < off+4 {
				return off, ethertype, false
			}
			word := binary.BigEndian.Uint32(frame[off : off+4])
			label := descriptor.MPLSLabel(word)
			if out.MPLSTopLabel == 0 {
				out.MPLSTopLabel = label
			}
			bos := label.BoS()
			off += 4
			p.Stats.mu.Lock()
			p.Stats.MPLSCount++
			p.Stats.mu.Unlock()
			if bos {
				// Next header after the MPLS label stack is usually IP;
				// best-effort guess from the first nibble.
				if len(frame) <= off {
					return off, ethertype, false
				}
				version := frame[off] >> 4
				if version == 4 {
					ethertype = ethertypeIPv4
				} else if version == 6 {
					ethertype = ethertypeIPv6
				} else {
					return off, ethertype, false
				}
				return off, ethertype, true
			}
			continue

		case ethertypeTRILL:
			// TRILL header: 2B (version/flags/hop-count), 2B egress
			// nickname, 2B ingress nickname, then an inner Ethernet
			// header.
			if len(frame) < off+6+12+2 {
				return off, ethertype, false
			}
			off += 6
			off += 12 // inner dst/src MAC, not tracked separately
			ethertype = binary.BigEndian.Uint16(frame[off : off+2])
			off += 2
			p.Stats.mu.Lock()
			p.Stats.TRILLCount++
			p.Stats.mu.Unlock()
			continue

		default:
			return off, ethertype, true
		}
	}
	return off, ethertype, true
}

func (p *Parser) parseIPv4(frame []byte, off int, out *descriptor.Packet) bool {
	if len(frame) < off+20 {
		return false
	}
	b := frame[off:]
	ihl := int(b[0]&0x0F) * 4
	if ihl < 20 || len(frame) < off+ihl {
		return false
	}

	totalLength := binary.BigEndian.Uint16(b[2:4])
	flagsFrag := binary.BigEndian.Uint16(b[6:8])

	out.IPVersion = descriptor.IPv4
	out.IPTOS = b[1]
	out.IPLen = totalLength
	out.IPTTL = b[8]
	out.IPProto = b[9]
	out.SrcIP.SetV4(b[12:16])
	out.DstIP.SetV4(b[16:20])

	out.FragOff = bitutil.Extract16(flagsFrag, 3, 13) * 8
	out.MoreFragments = bitutil.Extract16(flagsFrag, 2, 1) != 0
	out.FragID = uint32(binary.BigEndian.Uint16(b[4:6]))
	out.IPFlags = uint8(flagsFrag >> 13)

	payloadLen := int(totalLength) - ihl
	if payloadLen < 0 {
		payloadLen = 0
	}
	out.IPPayloadLen = uint16(payloadLen)

	p.Stats.mu.Lock()
	p.Stats.IPv4Count++
	p.Stats.mu.Unlock()

	l4Off := off + ihl
	return p.parseL4(frame, l4Off, out)
}

func (p *Parser) parseIPv6(frame []byte, off int, out *descriptor.Packet) bool {
	if len(frame) < off+40 {
		return false
	}
	b := frame[off:]
	payloadLength := binary.BigEndian.Uint16(b[4:6])
	nextHeader := b[6]
	hopLimit := b[7]

	out.IPVersion = descriptor.IPv6
	out.IPTTL = hopLimit
	out.IPLen = payloadLength
	out.IPPayloadLen = payloadLength
	out.SrcIP.SetV6(b[8:24])
	out.DstIP.SetV6(b[24:40])

	p.Stats.mu.Lock()
	p.Stats.IPv6Count++
	p.Stats.mu.Unlock()

	l4Off := off + 40
	for {
		switch nextHeader {
		case ipv6HopByHop, ipv6Routing, ipv6Dest:
			if len(frame) < l4Off+2 {
				return false
			}
			next := frame[l4Off]
			extLen := int(frame[l4Off+1])*8 + 8
			if len(frame) < l4Off+extLen {
				return false
			}
			nextHeader = next
			l4Off += extLen
			continue

		case ipv6Fragment:
			if len(frame) < l4Off+8 {
				return false
			}
			next := frame[l4Off]
			fragData := binary.BigEndian.Uint16(frame[l4Off+2 : l4Off+4])
			out.FragOff = bitutil.Extract16(fragData, 0, 13) * 8
			out.MoreFragments = bitutil.Extract16(fragData, 15, 1) != 0
			out.FragID = binary.BigEndian.Uint32(frame[l4Off+4 : l4Off+8])
			nextHeader = next
			l4Off += 8
			continue

		default:
			out.IPProto = nextHeader
			return p.parseL4(frame, l4Off, out)
		}
	}
}

func (p *Parser) parseL4(frame []byte, off int, out *descriptor.Packet) bool {
	switch out.IPProto {
	case protoTCP:
		return p.parseTCP(frame, off, out)
	case protoUDP:
		return p.parseUDP(frame, off, out)
	case protoICMP, protoICMPv6:
		return p.parseICMP(frame, off, out)
	default:
		out.SrcPort, out.DstPort = 0, 0
		p.setPayload(frame, off, off, out)
		return true
	}
}

func (p *Parser) parseTCP(frame []byte, off int, out *descriptor.Packet) bool {
	if len(frame) < off+20 {
		return false
	}
	b := frame[off:]
	out.SrcPort = binary.BigEndian.Uint16(b[0:2])
	out.DstPort = binary.BigEndian.Uint16(b[2:4])
	out.TCPSeq = binary.BigEndian.Uint32(b[4:8])
	out.TCPAck = binary.BigEndian.Uint32(b[8:12])
	dataOffset := int(b[12]>>4) * 4
	out.TCPFlags = b[13]
	out.TCPWindow = binary.BigEndian.Uint16(b[14:16])

	if dataOffset < 20 || len(frame) < off+dataOffset {
		return false
	}

	opts := b[20:dataOffset]
	i := 0
	for i < len(opts) {
		kind := opts[i]
		if kind == 0 { // end of options
			break
		}
		if kind == 1 { // NOP
			i++
			continue
		}
		if i+1 >= len(opts) {
			break
		}
		optLen := int(opts[i+1])
		if optLen < 2 || i+optLen > len(opts) {
			break
		}
		out.SetTCPOption(kind)
		if kind == descriptor.TCPOptMSS && optLen == 4 {
			out.TCPMSS = binary.BigEndian.Uint16(opts[i+2 : i+4])
		}
		i += optLen
	}

	p.Stats.mu.Lock()
	p.Stats.TCPCount++
	p.Stats.mu.Unlock()
	p.Stats.TopTCPPorts.Observe(out.DstPort)

	p.setPayload(frame, off, off+dataOffset, out)
	return true
}

func (p *Parser) parseUDP(frame []byte, off int, out *descriptor.Packet) bool {
	if len(frame) < off+8 {
		return false
	}
	b := frame[off:]
	out.SrcPort = binary.BigEndian.Uint16(b[0:2])
	out.DstPort = binary.BigEndian.Uint16(b[2:4])

	p.Stats.mu.Lock()
	p.Stats.UDPCount++
	p.Stats.mu.Unlock()
	p.Stats.TopUDPPorts.Observe(out.DstPort)

	p.setPayload(frame, off, off+8, out)
	return true
}

func (p *Parser) parseICMP(frame []byte, off int, out *descriptor.Packet) bool {
	out.SrcPort, out.DstPort = 0, 0
	p.setPayload(frame, off, off, out)
	return true
}

// setPayload computes the payload window per SPEC_FULL.md §4.1 step 5:
// payload_len = min(captured_tail, wire_tail); payload_len_wire = wire_tail.
func (p *Parser) setPayload(frame []byte, l3Start, l4HeaderEnd int, out *descriptor.Packet) {
	if l4HeaderEnd > len(frame) {
		l4HeaderEnd = len(frame)
	}
	out.Payload = frame[l4HeaderEnd:]
	capturedTail := len(frame) - l4HeaderEnd
	wireTail := out.PacketLenWire - l4HeaderEnd
	if wireTail < 0 {
		wireTail = 0
	}
	out.PayloadLenWire = wireTail
	if capturedTail < wireTail {
		out.PayloadLen = capturedTail
	} else {
		out.PayloadLen = wireTail
	}
	_ = l3Start
}
