package hostif

import "encoding/binary"

// -------------------------------------------------------------------------
// Checksum Engine — component B
// -------------------------------------------------------------------------
//
// Ethernet/IPv4/UDP/TCP header layout constants used throughout this
// package. Offsets are relative to the start of the respective header.

const (
	EthHeaderLen     = 14
	EthVLANHeaderLen = 18
	vlanEtherType    = 0x8100

	ipv4HeaderLenMin = 20
	ipv4ChecksumOff  = 10
	ipv4ProtoOff     = 9
	ipv4SrcOff       = 12
	ipv4DstOff       = 16
	ipv4TotalLenOff  = 2
	ipv4IDOff        = 4

	// ipv6HeaderLen is the fixed IPv6 header length. Like the ground-truth
	// vr_ip6 struct this engine walks against, extension headers are not
	// parsed: the next-header byte is read directly off the fixed header.
	ipv6HeaderLen     = 40
	ipv6NextHeaderOff = 6
	ipv6SrcOff        = 8
	ipv6DstOff        = 24

	protoTCP = 6
	protoUDP = 17

	udpChecksumOff = 6
	udpLengthOff   = 4
	tcpChecksumOff = 16
)

// EtherHeaderLen returns 14, or 18 when the two bytes at offset 12 in buf
// indicate a VLAN tag (0x8100), per §4.B "Ethernet header length".
func EtherHeaderLen(buf []byte) int {
	if len(buf) >= 14 && binary.BigEndian.Uint16(buf[12:14]) == vlanEtherType {
		return EthVLANHeaderLen
	}
	return EthHeaderLen
}

// ipv4HeaderLen returns the IHL-derived header length in bytes.
func ipv4HeaderLen(hdr []byte) int {
	return int(hdr[0]&0x0f) * 4
}

// rfc1071Sum computes the running ones'-complement sum of b, folding the
// carry at the end. Pass a non-zero seed to extend a pseudo-header sum.
func rfc1071Sum(b []byte, seed uint32) uint16 {
	sum := seed
	n := len(b)
	i := 0
	for ; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if i < n {
		sum += uint32(b[i]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// ipv4HeaderChecksum computes the RFC 1071 checksum of an IPv4 header
// with its own checksum field treated as zero.
func ipv4HeaderChecksum(hdr []byte) uint16 {
	save := binary.BigEndian.Uint16(hdr[ipv4ChecksumOff : ipv4ChecksumOff+2])
	binary.BigEndian.PutUint16(hdr[ipv4ChecksumOff:ipv4ChecksumOff+2], 0)
	csum := rfc1071Sum(hdr[:ipv4HeaderLen(hdr)], 0)
	binary.BigEndian.PutUint16(hdr[ipv4ChecksumOff:ipv4ChecksumOff+2], save)
	return csum
}

// writeIPv4HeaderChecksum zero-clears then recomputes and writes the
// IPv4 header checksum field in place.
func writeIPv4HeaderChecksum(hdr []byte) {
	binary.BigEndian.PutUint16(hdr[ipv4ChecksumOff:ipv4ChecksumOff+2], 0)
	csum := rfc1071Sum(hdr[:ipv4HeaderLen(hdr)], 0)
	binary.BigEndian.PutUint16(hdr[ipv4ChecksumOff:ipv4ChecksumOff+2], csum)
}

// ipv4PseudoHeaderSum accumulates the IPv4 pseudo-header sum (src, dst,
// zero, protocol, transport length) used by UDP/TCP checksums.
func ipv4PseudoHeaderSum(iphdr []byte, proto byte, transportLen int) uint32 {
	var sum uint32
	sum += uint32(binary.BigEndian.Uint16(iphdr[ipv4SrcOff : ipv4SrcOff+2]))
	sum += uint32(binary.BigEndian.Uint16(iphdr[ipv4SrcOff+2 : ipv4SrcOff+4]))
	sum += uint32(binary.BigEndian.Uint16(iphdr[ipv4DstOff : ipv4DstOff+2]))
	sum += uint32(binary.BigEndian.Uint16(iphdr[ipv4DstOff+2 : ipv4DstOff+4]))
	sum += uint32(proto)
	sum += uint32(transportLen)
	return sum
}

// ipv6PseudoHeaderSum accumulates the IPv6 pseudo-header sum (128-bit src,
// 128-bit dst, upper-layer length, next header) used by UDP/TCP checksums,
// per RFC 8200 §8.1.
func ipv6PseudoHeaderSum(iphdr []byte, proto byte, transportLen int) uint32 {
	var sum uint32
	src := iphdr[ipv6SrcOff : ipv6SrcOff+16]
	for i := 0; i < len(src); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(src[i : i+2]))
	}
	dst := iphdr[ipv6DstOff : ipv6DstOff+16]
	for i := 0; i < len(dst); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(dst[i : i+2]))
	}
	sum += uint32(proto)
	sum += uint32(transportLen)
	return sum
}

// writeUDPChecksumV6 is writeUDPChecksum's IPv6 pseudo-header counterpart.
func writeUDPChecksumV6(iphdr, udp []byte) {
	binary.BigEndian.PutUint16(udp[udpChecksumOff:udpChecksumOff+2], 0)
	seed := ipv6PseudoHeaderSum(iphdr, protoUDP, len(udp))
	csum := rfc1071Sum(udp, seed)
	if csum == 0 {
		csum = 0xffff // RFC 768: a computed zero is transmitted as all-ones
	}
	binary.BigEndian.PutUint16(udp[udpChecksumOff:udpChecksumOff+2], csum)
}

// writeTCPChecksumV6 is writeTCPChecksum's IPv6 pseudo-header counterpart.
func writeTCPChecksumV6(iphdr, tcp []byte) {
	binary.BigEndian.PutUint16(tcp[tcpChecksumOff:tcpChecksumOff+2], 0)
	seed := ipv6PseudoHeaderSum(iphdr, protoTCP, len(tcp))
	csum := rfc1071Sum(tcp, seed)
	binary.BigEndian.PutUint16(tcp[tcpChecksumOff:tcpChecksumOff+2], csum)
}

// primePseudoHeaderUDPv6 is primePseudoHeaderUDP's IPv6 pseudo-header
// counterpart.
func primePseudoHeaderUDPv6(iphdr, udp []byte) {
	seed := ipv6PseudoHeaderSum(iphdr, protoUDP, len(udp))
	for seed>>16 != 0 {
		seed = (seed & 0xffff) + (seed >> 16)
	}
	binary.BigEndian.PutUint16(udp[udpChecksumOff:udpChecksumOff+2], uint16(seed))
}

// primePseudoHeaderTCPv6 is primePseudoHeaderTCP's IPv6 pseudo-header
// counterpart.
func primePseudoHeaderTCPv6(iphdr, tcp []byte) {
	seed := ipv6PseudoHeaderSum(iphdr, protoTCP, len(tcp))
	for seed>>16 != 0 {
		seed = (seed & 0xffff) + (seed >> 16)
	}
	binary.BigEndian.PutUint16(tcp[tcpChecksumOff:tcpChecksumOff+2], uint16(seed))
}

// writeUDPChecksum zero-clears then recomputes the UDP checksum over the
// pseudo-header plus the UDP segment.
func writeUDPChecksum(iphdr, udp []byte) {
	binary.BigEndian.PutUint16(udp[udpChecksumOff:udpChecksumOff+2], 0)
	seed := ipv4PseudoHeaderSum(iphdr, protoUDP, len(udp))
	csum := rfc1071Sum(udp, seed)
	if csum == 0 {
		csum = 0xffff // RFC 768: a computed zero is transmitted as all-ones
	}
	binary.BigEndian.PutUint16(udp[udpChecksumOff:udpChecksumOff+2], csum)
}

// writeTCPChecksum zero-clears then recomputes the TCP checksum over the
// pseudo-header plus the TCP segment.
func writeTCPChecksum(iphdr, tcp []byte) {
	binary.BigEndian.PutUint16(tcp[tcpChecksumOff:tcpChecksumOff+2], 0)
	seed := ipv4PseudoHeaderSum(iphdr, protoTCP, len(tcp))
	csum := rfc1071Sum(tcp, seed)
	binary.BigEndian.PutUint16(tcp[tcpChecksumOff:tcpChecksumOff+2], csum)
}

// primePseudoHeader writes the pseudo-header sum into the transport
// checksum field without folding the segment payload, for the case where
// the NIC will finish the job in hardware (§4.B rule: "udp_csum and
// tcp_csum are zeroed before pseudo-sum injection when HW offload will
// finish them").
func primePseudoHeaderUDP(iphdr, udp []byte) {
	seed := ipv4PseudoHeaderSum(iphdr, protoUDP, len(udp))
	for seed>>16 != 0 {
		seed = (seed & 0xffff) + (seed >> 16)
	}
	binary.BigEndian.PutUint16(udp[udpChecksumOff:udpChecksumOff+2], uint16(seed))
}

func primePseudoHeaderTCP(iphdr, tcp []byte) {
	seed := ipv4PseudoHeaderSum(iphdr, protoTCP, len(tcp))
	for seed>>16 != 0 {
		seed = (seed & 0xffff) + (seed >> 16)
	}
	binary.BigEndian.PutUint16(tcp[tcpChecksumOff:tcpChecksumOff+2], uint16(seed))
}

// ApplyChecksums runs the four-policy decision tree of §4.B against pkt,
// given the transmitting vif's capability flags and whether the packet
// will subsequently be fragmented (willFragment is decided by the caller
// per §4.D step 6 before checksums run, since the will-fragment HW/SW
// split depends on it).
func ApplyChecksums(pkt *Packet, vif *Vif, willFragment bool) error {
	hw := vif.Flags.Has(FlagCsumOffload)

	switch {
	case pkt.Type.IsOverlay() && willFragment:
		return applyOverlayFragmenting(pkt, hw)
	case pkt.Type.IsOverlay() && hw:
		return applyOverlayHW(pkt)
	case pkt.Type.IsOverlay():
		return applyOverlaySW(pkt)
	default:
		return applyPlain(pkt, hw)
	}
}

// applyOverlayHW implements §4.B policy 1: overlay + HW offload +
// not-fragmenting. The outer header is always IPv4 (§3: both overlay type
// tags name an IPv4 outer), but the inner header is IPv4 for TypeIPoIP and
// IPv6 for TypeIP6oIP, mirroring dpdk_hw_checksum_at_offset's
// VP_TYPE_IPOIP/VP_TYPE_IP6OIP branch.
func applyOverlayHW(pkt *Packet) error {
	outerEthLen := EtherHeaderLen(pkt.Bytes())
	outer := pkt.DataAt(outerEthLen)
	writeIPv4HeaderChecksum(outer)

	inner := pkt.DataAt(pkt.InnerNetHeaderOff - pkt.HeadSpace())
	if pkt.Type == TypeIP6oIP {
		// IPv6 carries no header checksum; only TXIPv6 and the
		// transport checksum apply.
		pkt.Flags |= TXIPv6
		primeInnerTransportV6(pkt, inner)
		pkt.L3Len = ipv6HeaderLen
	} else {
		binary.BigEndian.PutUint16(inner[ipv4ChecksumOff:ipv4ChecksumOff+2], 0)
		pkt.Flags |= TXIPChecksum | TXIPv4
		primeInnerTransport(pkt, inner)
		pkt.L3Len = ipv4HeaderLen(inner)
	}

	pkt.L2Len = pkt.InnerNetHeaderOff - pkt.HeadSpace()
	return nil
}

// applyOverlaySW implements §4.B policy 2: overlay + SW, full inner and
// (unless fragmentation will overwrite it, which this path never sees
// since willFragment routes to applyOverlayFragmenting) outer in
// software. The inner header branches on TypeIP6oIP the same way
// applyOverlayHW does.
func applyOverlaySW(pkt *Packet) error {
	outerEthLen := EtherHeaderLen(pkt.Bytes())
	outer := pkt.DataAt(outerEthLen)
	writeIPv4HeaderChecksum(outer)

	inner := pkt.DataAt(pkt.InnerNetHeaderOff - pkt.HeadSpace())
	if pkt.Type == TypeIP6oIP {
		finishInnerTransportSWv6(pkt, inner)
	} else {
		writeIPv4HeaderChecksum(inner)
		finishInnerTransportSW(pkt, inner)
	}
	return nil
}

// applyOverlayFragmenting implements §4.B policy 3: overlay + HW offload
// + will-fragment — inner done in software now (fragmenter will not
// revisit it), outer left to hardware since the fragmenter rewrites the
// outer IP length after prepending and must not have the checksum
// clobbered prematurely. The inner header branches on TypeIP6oIP the same
// way applyOverlayHW does.
func applyOverlayFragmenting(pkt *Packet, hw bool) error {
	inner := pkt.DataAt(pkt.InnerNetHeaderOff - pkt.HeadSpace())
	if pkt.Type == TypeIP6oIP {
		finishInnerTransportSWv6(pkt, inner)
	} else {
		writeIPv4HeaderChecksum(inner)
		finishInnerTransportSW(pkt, inner)
	}

	if hw {
		pkt.Flags |= TXIPChecksum | TXIPv4
	}
	return nil
}

// applyPlain implements §4.B policy 4: a single header at
// vp_data+EthernetHeaderLen, HW or SW per capability. IPv6 carries no
// header checksum of its own, only a transport checksum, but per §4.B
// that transport checksum is still required.
func applyPlain(pkt *Packet, hw bool) error {
	ethLen := EtherHeaderLen(pkt.Bytes())
	hdr := pkt.DataAt(ethLen)

	if pkt.Type == TypeIP6 {
		if hw {
			pkt.Flags |= TXIPv6
		}
		finishTransportOnly(pkt, hdr, hw, true)
		return nil
	}

	if hw {
		binary.BigEndian.PutUint16(hdr[ipv4ChecksumOff:ipv4ChecksumOff+2], 0)
		pkt.Flags |= TXIPChecksum | TXIPv4
	} else {
		writeIPv4HeaderChecksum(hdr)
	}
	finishTransportOnly(pkt, hdr, hw, false)
	return nil
}

// primeInnerTransport injects (but does not fold) the pseudo-header sum
// for the inner transport header when HW offload will finish the job.
func primeInnerTransport(pkt *Packet, iphdr []byte) {
	proto := iphdr[ipv4ProtoOff]
	ihl := ipv4HeaderLen(iphdr)
	switch proto {
	case protoUDP:
		primePseudoHeaderUDP(iphdr, iphdr[ihl:])
		pkt.Flags |= TXUDPChecksum
	case protoTCP:
		primePseudoHeaderTCP(iphdr, iphdr[ihl:])
		pkt.Flags |= TXTCPChecksum
	}
}

// finishInnerTransportSW fully computes the inner transport checksum in
// software.
func finishInnerTransportSW(pkt *Packet, iphdr []byte) {
	proto := iphdr[ipv4ProtoOff]
	ihl := ipv4HeaderLen(iphdr)
	switch proto {
	case protoUDP:
		writeUDPChecksum(iphdr, iphdr[ihl:])
	case protoTCP:
		writeTCPChecksum(iphdr, iphdr[ihl:])
	}
}

// primeInnerTransportV6 is primeInnerTransport's IPv6 inner-header
// counterpart, used when the overlay's inner header is IPv6 (TypeIP6oIP).
func primeInnerTransportV6(pkt *Packet, iphdr []byte) {
	proto := iphdr[ipv6NextHeaderOff]
	switch proto {
	case protoUDP:
		primePseudoHeaderUDPv6(iphdr, iphdr[ipv6HeaderLen:])
		pkt.Flags |= TXUDPChecksum
	case protoTCP:
		primePseudoHeaderTCPv6(iphdr, iphdr[ipv6HeaderLen:])
		pkt.Flags |= TXTCPChecksum
	}
}

// finishInnerTransportSWv6 is finishInnerTransportSW's IPv6 inner-header
// counterpart.
func finishInnerTransportSWv6(pkt *Packet, iphdr []byte) {
	proto := iphdr[ipv6NextHeaderOff]
	switch proto {
	case protoUDP:
		writeUDPChecksumV6(iphdr, iphdr[ipv6HeaderLen:])
	case protoTCP:
		writeTCPChecksumV6(iphdr, iphdr[ipv6HeaderLen:])
	}
}

// finishTransportOnly handles the plain-packet transport checksum, either
// priming the pseudo-header for HW offload or fully computing it in
// software. isV6 selects IPv6 pseudo-header semantics (§4.B: IPv6 has no
// header checksum but still requires a transport checksum).
func finishTransportOnly(pkt *Packet, hdr []byte, hw, isV6 bool) {
	var proto byte
	var transport []byte
	if isV6 {
		proto = hdr[ipv6NextHeaderOff]
		transport = hdr[ipv6HeaderLen:]
	} else {
		proto = hdr[ipv4ProtoOff]
		transport = hdr[ipv4HeaderLen(hdr):]
	}

	if hw {
		switch proto {
		case protoUDP:
			if isV6 {
				primePseudoHeaderUDPv6(hdr, transport)
			} else {
				primePseudoHeaderUDP(hdr, transport)
			}
			pkt.Flags |= TXUDPChecksum
		case protoTCP:
			if isV6 {
				primePseudoHeaderTCPv6(hdr, transport)
			} else {
				primePseudoHeaderTCP(hdr, transport)
			}
			pkt.Flags |= TXTCPChecksum
		}
		return
	}

	switch proto {
	case protoUDP:
		if isV6 {
			writeUDPChecksumV6(hdr, transport)
		} else {
			writeUDPChecksum(hdr, transport)
		}
	case protoTCP:
		if isV6 {
			writeTCPChecksumV6(hdr, transport)
		} else {
			writeTCPChecksum(hdr, transport)
		}
	}
}
