package integration

import "encoding/binary"

// The echo scenario works entirely in terms of raw Ethernet+IPv4+UDP
// frames, the same shape a real client on the simulated wire would send:
// 14 bytes of Ethernet header, 20 bytes of IPv4 header (no options), 8
// bytes of UDP header, then payload. RecvBuffer.Buffer and
// NetSendRequest.Packets both carry exactly this — the driver tracks the
// 12-byte virtio-net header in its own separate descriptor, so none of
// it appears here.
const (
	ethHeaderLen  = 14
	ipv4HeaderLen = 20
	udpHeaderLen  = 8
	etherTypeIPv4 = 0x0800
	protoUDP      = 17

	// echoPort is the well-known UDP echo port (RFC 862); the callback
	// only replies to packets addressed to it, which also keeps the
	// hosted netLoopback's unconditional TX-to-RX delivery from
	// re-triggering the echo on its own reply (a reply's destination
	// port is the original request's ephemeral source port, never
	// echoPort again).
	echoPort = 7
)

type macAddr [6]byte
type ipv4Addr [4]byte

// ipv4Checksum computes the IPv4 header checksum: the one's-complement
// sum of the header's 16-bit words, with the checksum field itself
// treated as zero, then one's-complemented.
func ipv4Checksum(header []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(header); i += 2 {
		if i == 10 { // checksum field: treated as zero regardless of its actual bytes
			continue
		}
		sum += uint32(binary.BigEndian.Uint16(header[i : i+2]))
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// buildUDPPacket assembles a full Ethernet+IPv4+UDP frame addressed from
// (srcMAC, srcIP, srcPort) to (dstMAC, dstIP, dstPort) carrying payload,
// with a freshly computed IPv4 header checksum. The UDP checksum is left
// 0 (optional over IPv4, per RFC 768).
func buildUDPPacket(dstMAC, srcMAC macAddr, dstIP, srcIP ipv4Addr, dstPort, srcPort uint16, payload []byte) []byte {
	totalLen := ipv4HeaderLen + udpHeaderLen + len(payload)
	pkt := make([]byte, ethHeaderLen+totalLen)

	copy(pkt[0:6], dstMAC[:])
	copy(pkt[6:12], srcMAC[:])
	binary.BigEndian.PutUint16(pkt[12:14], etherTypeIPv4)

	ip := pkt[ethHeaderLen : ethHeaderLen+ipv4HeaderLen]
	ip[0] = 0x45 // version 4, IHL 5 (no options)
	ip[1] = 0
	binary.BigEndian.PutUint16(ip[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(ip[4:6], 0) // identification
	binary.BigEndian.PutUint16(ip[6:8], 0) // flags/fragment offset
	ip[8] = 64                             // TTL
	ip[9] = protoUDP
	binary.BigEndian.PutUint16(ip[10:12], 0) // checksum, filled below
	copy(ip[12:16], srcIP[:])
	copy(ip[16:20], dstIP[:])
	binary.BigEndian.PutUint16(ip[10:12], ipv4Checksum(ip))

	udp := pkt[ethHeaderLen+ipv4HeaderLen:]
	binary.BigEndian.PutUint16(udp[0:2], srcPort)
	binary.BigEndian.PutUint16(udp[2:4], dstPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpHeaderLen+len(payload)))
	binary.BigEndian.PutUint16(udp[6:8], 0) // checksum
	copy(udp[udpHeaderLen:], payload)

	return pkt
}

// parsedUDPPacket is what the echo callback actually needs out of a
// received frame to build its reply.
type parsedUDPPacket struct {
	dstMAC, srcMAC macAddr
	dstIP, srcIP   ipv4Addr
	dstPort        uint16
	srcPort        uint16
	payload        []byte
}

// parseUDPPacket validates pkt's Ethernet/IPv4/UDP framing (EtherType,
// IHL, protocol, recomputed checksum) and extracts its addressing and
// payload. ok is false for anything that doesn't match, e.g. a frame
// this driver itself transmitted that has no business being re-parsed
// as an inbound request.
func parseUDPPacket(pkt []byte) (parsedUDPPacket, bool) {
	var p parsedUDPPacket
	if len(pkt) < ethHeaderLen+ipv4HeaderLen+udpHeaderLen {
		return p, false
	}
	if binary.BigEndian.Uint16(pkt[12:14]) != etherTypeIPv4 {
		return p, false
	}
	ip := pkt[ethHeaderLen : ethHeaderLen+ipv4HeaderLen]
	if ip[0]>>4 != 4 || ip[0]&0x0f != 5 {
		return p, false // IHL with options isn't produced or consumed here
	}
	if ip[9] != protoUDP {
		return p, false
	}
	if binary.BigEndian.Uint16(ip[10:12]) != ipv4Checksum(ip) {
		return p, false // corrupt or forged header checksum
	}

	copy(p.dstMAC[:], pkt[0:6])
	copy(p.srcMAC[:], pkt[6:12])
	copy(p.srcIP[:], ip[12:16])
	copy(p.dstIP[:], ip[16:20])

	udp := pkt[ethHeaderLen+ipv4HeaderLen:]
	p.srcPort = binary.BigEndian.Uint16(udp[0:2])
	p.dstPort = binary.BigEndian.Uint16(udp[2:4])
	udpLen := int(binary.BigEndian.Uint16(udp[4:6]))
	if udpLen < udpHeaderLen || udpLen > len(udp) {
		return p, false
	}
	p.payload = append([]byte(nil), udp[udpHeaderLen:udpLen]...)
	return p, true
}

// buildEchoReply swaps every address/port in req and returns the reply
// frame, per the echo scenario's "swapped MACs, IPs, and ports" wording.
func buildEchoReply(req parsedUDPPacket) []byte {
	return buildUDPPacket(req.srcMAC, req.dstMAC, req.srcIP, req.dstIP, req.srcPort, req.dstPort, req.payload)
}
