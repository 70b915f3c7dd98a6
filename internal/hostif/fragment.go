package hostif

import "encoding/binary"

// -------------------------------------------------------------------------
// IPv4 Fragmenter — component C
// -------------------------------------------------------------------------

const (
	ipv4FlagsFragOff = 6 // offset of the 3-bit flags + 13-bit frag-offset word
	ipv4FlagMF       = 0x2000
	ipv4OffsetMask   = 0x1fff
)

// FragmentPools supplies the backing buffers for fragment packets,
// standing in for the direct+indirect mbuf pool pair of §3 Data Model.
// internal/config has no pool-size settings for them.
type FragmentPools struct {
	// Alloc returns a zeroed buffer of at least size bytes with
	// headSpace bytes of headroom reserved at the front, or nil if the
	// pool is exhausted.
	Alloc func(headSpace, size int) []byte
}

// MaxFragmentSize computes F per §4.C step 3:
//
//	F = floor((MTU - outerHeaderLen - sizeof(IPv4Header)) / 8) * 8 + sizeof(IPv4Header)
//
// preserving IPv4's 8-byte fragment-offset alignment requirement.
func MaxFragmentSize(mtu, outerHeaderLen int) int {
	avail := mtu - outerHeaderLen - ipv4HeaderLenMin
	return (avail/8)*8 + ipv4HeaderLenMin
}

// Fragment produces up to K fragments from pkt per §4.C. pkt must be an
// overlay packet whose InnerNetHeaderOff has already been set by the
// caller. Each produced fragment is itself a standalone inner IPv4
// datagram (replicated header with fragment offset/MF/checksum fixed up,
// mirroring what rte_ipv4_fragment_packet does to the stripped inner
// buffer) with the saved outer header re-prepended and fixed up per
// §4.C step 4. On success it frees pkt and returns the fragments
// (headless per §9 Design Notes — each independently freeable, never
// routed back through a function expecting packet metadata); on failure
// it returns ErrPoolExhausted without freeing pkt, for the caller to
// drop. pkt's head may by then have been advanced past the outer header.
func Fragment(pkt *Packet, vif *Vif, pools *FragmentPools) ([]*Packet, error) {
	outerHeaderLen := pkt.InnerNetHeaderOff - pkt.HeadSpace()
	full := pkt.Bytes()
	outerHeader := make([]byte, outerHeaderLen)
	copy(outerHeader, full[:outerHeaderLen])

	if !pkt.Adj(outerHeaderLen) {
		return nil, ErrPoolExhausted
	}
	inner := pkt.Bytes()

	innerIHL := ipv4HeaderLen(inner)
	innerHeader := inner[:innerIHL]
	innerPayload := inner[innerIHL:]
	innerID := binary.BigEndian.Uint16(innerHeader[ipv4IDOff : ipv4IDOff+2])
	innerFlags := binary.BigEndian.Uint16(innerHeader[ipv4FlagsFragOff:ipv4FlagsFragOff+2]) &^ (ipv4FlagMF | ipv4OffsetMask)

	maxFrag := MaxFragmentSize(vif.MTU, outerHeaderLen)
	payloadCap := maxFrag - innerIHL
	if payloadCap <= 0 || payloadCap%8 != 0 {
		return nil, ErrPoolExhausted
	}

	outerEthLen := EtherHeaderLen(outerHeader)
	outerIP := outerHeader[outerEthLen:]
	outerIsUDP := outerIP[ipv4ProtoOff] == protoUDP
	outerIPHL := ipv4HeaderLen(outerIP)
	hwOuterCsum := vif.Flags.Has(FlagCsumOffload)

	var fragments []*Packet
	plen := len(innerPayload)
	for off := 0; off < plen || (off == 0 && plen == 0); off += payloadCap {
		end := off + payloadCap
		last := end >= plen
		if last {
			end = plen
		}
		chunk := innerPayload[off:end]

		frag, err := buildFragment(pools, outerHeader, innerHeader, chunk, innerID, innerFlags, off, last)
		if err != nil {
			for _, f := range fragments {
				f.Free(DropFragment)
			}
			return nil, err
		}

		fragOuter := frag.DataAt(outerEthLen)
		pktLen := frag.HeadLen() - outerEthLen
		binary.BigEndian.PutUint16(fragOuter[ipv4TotalLenOff:ipv4TotalLenOff+2], uint16(pktLen))
		// §6 Wire/Format, §8.5: fragments share the outer ip_id equal
		// to the inner ip_id of the pre-fragmentation packet.
		binary.BigEndian.PutUint16(fragOuter[ipv4IDOff:ipv4IDOff+2], innerID)
		frag.L2Len = pkt.L2Len
		frag.L3Len = pkt.L3Len

		if outerIsUDP {
			udp := fragOuter[outerIPHL:]
			binary.BigEndian.PutUint16(udp[udpLengthOff:udpLengthOff+2], uint16(pktLen-outerIPHL))
		}

		if hwOuterCsum {
			frag.Flags |= TXIPChecksum | TXIPv4
		} else {
			writeIPv4HeaderChecksum(fragOuter)
			frag.Flags &^= TXIPChecksum
		}

		fragments = append(fragments, frag)
		if last {
			break
		}
	}

	pkt.Free(DropNone)
	return fragments, nil
}

// buildFragment assembles one standalone inner IPv4 fragment: a fresh
// copy of innerHeader with total-length/ID/flags/frag-offset fixed up
// and the checksum recomputed, followed by chunk, then prepends the
// saved outer header.
func buildFragment(pools *FragmentPools, outerHeader, innerHeader, chunk []byte, innerID, innerFlags uint16, payloadOff int, last bool) (*Packet, error) {
	innerIHL := len(innerHeader)
	headSpace := len(outerHeader)
	size := headSpace + innerIHL + len(chunk)
	buf := pools.Alloc(headSpace, size)
	if buf == nil {
		return nil, ErrPoolExhausted
	}

	frag := NewPacket(buf, headSpace, innerIHL+len(chunk))
	body := frag.Bytes()
	copy(body[:innerIHL], innerHeader)
	copy(body[innerIHL:], chunk)

	fragOffWord := innerFlags | uint16(payloadOff/8)&ipv4OffsetMask
	if !last {
		fragOffWord |= ipv4FlagMF
	}
	binary.BigEndian.PutUint16(body[ipv4FlagsFragOff:ipv4FlagsFragOff+2], fragOffWord)
	binary.BigEndian.PutUint16(body[ipv4TotalLenOff:ipv4TotalLenOff+2], uint16(innerIHL+len(chunk)))
	binary.BigEndian.PutUint16(body[ipv4IDOff:ipv4IDOff+2], innerID)
	writeIPv4HeaderChecksum(body[:innerIHL])

	if !frag.Prepend(headSpace) {
		return nil, ErrPoolExhausted
	}
	copy(frag.Bytes()[:headSpace], outerHeader)

	frag.Type = TypeIP
	return frag, nil
}
