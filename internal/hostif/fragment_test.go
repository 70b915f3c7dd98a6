package hostif

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFragmentPools() *FragmentPools {
	return &FragmentPools{Alloc: func(_, size int) []byte { return make([]byte, size) }}
}

// buildOverlayPacket constructs: 14B outer Ethernet + 20B outer IPv4 +
// 8B outer UDP + innerLen bytes of inner IPv4 datagram (header+payload),
// matching §8 S3's overlay shape.
func buildOverlayPacket(t *testing.T, innerPayloadLen int) (*Packet, int) {
	t.Helper()
	const outerEth, outerIP, outerUDP = 14, 20, 8
	outerHeaderLen := outerEth + outerIP + outerUDP
	innerIHL := 20
	innerTotal := innerIHL + innerPayloadLen

	buf := make([]byte, 32+outerHeaderLen+innerTotal) // 32B headroom
	headSpace := 32
	p := NewPacket(buf, headSpace, outerHeaderLen+innerTotal)

	b := p.Bytes()
	outerIPHdr := b[outerEth : outerEth+outerIP]
	outerIPHdr[0] = 0x45
	outerIPHdr[9] = protoUDP
	binary.BigEndian.PutUint16(outerIPHdr[ipv4TotalLenOff:ipv4TotalLenOff+2], uint16(outerIP+outerUDP+innerTotal))

	udp := b[outerEth+outerIP : outerEth+outerIP+outerUDP]
	binary.BigEndian.PutUint16(udp[udpLengthOff:udpLengthOff+2], uint16(outerUDP+innerTotal))

	innerHdr := b[outerHeaderLen : outerHeaderLen+innerIHL]
	innerHdr[0] = 0x45
	innerHdr[9] = protoUDP
	binary.BigEndian.PutUint16(innerHdr[ipv4TotalLenOff:ipv4TotalLenOff+2], uint16(innerTotal))
	binary.BigEndian.PutUint16(innerHdr[ipv4IDOff:ipv4IDOff+2], 0xBEEF)

	p.Type = TypeIPoIP
	p.InnerNetHeaderOff = headSpace + outerHeaderLen
	return p, outerHeaderLen
}

// TestFragmentS3 matches §8 S3: payload 2000B, outer hdr 42B, MTU 1500.
func TestFragmentS3(t *testing.T) {
	pkt, outerHeaderLen := buildOverlayPacket(t, 2000-42-20)
	require.Equal(t, 42, outerHeaderLen)

	vif := &Vif{MTU: 1500}
	frags, err := Fragment(pkt, vif, testFragmentPools())
	require.NoError(t, err)
	require.Len(t, frags, 2, "fragment count must match ceil(inner payload / max frag payload)")

	for i, f := range frags {
		fragOuter := f.DataAt(14)
		pktLen := f.HeadLen() - 14
		gotLen := binary.BigEndian.Uint16(fragOuter[ipv4TotalLenOff : ipv4TotalLenOff+2])
		assert.Equal(t, uint16(pktLen), gotLen, "fragment %d: outer ip_len must equal buf.len - eth_len", i)

		gotID := binary.BigEndian.Uint16(fragOuter[ipv4IDOff : ipv4IDOff+2])
		assert.Equal(t, uint16(0xBEEF), gotID, "fragment %d: outer ip_id must equal inner ip_id", i)

		udp := fragOuter[20:]
		gotUDPLen := binary.BigEndian.Uint16(udp[udpLengthOff : udpLengthOff+2])
		assert.Equal(t, uint16(pktLen-20), gotUDPLen, "fragment %d: udp.length must equal ip_len - ip_hl*4", i)
	}

	// §8 property 3: every non-last fragment's payload length is a
	// multiple of 8 bytes.
	for i := 0; i < len(frags)-1; i++ {
		innerLen := frags[i].HeadLen() - outerHeaderLen
		payloadLen := innerLen - 20 // minus the replicated inner IHL
		assert.Zero(t, payloadLen%8, "fragment %d non-last payload must be 8-byte aligned", i)
	}
}

func TestMaxFragmentSize(t *testing.T) {
	got := MaxFragmentSize(1500, 42)
	assert.Equal(t, 1452, got)
}

func TestFragmentSetsOuterChecksumOffloadFlagWhenHW(t *testing.T) {
	pkt, _ := buildOverlayPacket(t, 2000-42-20)
	vif := &Vif{MTU: 1500}
	vif.Flags.Set(FlagCsumOffload)

	frags, err := Fragment(pkt, vif, testFragmentPools())
	require.NoError(t, err)

	for _, f := range frags {
		assert.NotZero(t, f.Flags&TXIPChecksum, "outer checksum offload flag must be set when NIC supports HW offload")
	}
}

func TestFragmentPoolExhausted(t *testing.T) {
	pkt, _ := buildOverlayPacket(t, 100)
	vif := &Vif{MTU: 1500}
	pools := &FragmentPools{Alloc: func(_, _ int) []byte { return nil }}

	_, err := Fragment(pkt, vif, pools)
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestMaxFragmentSizeAlwaysEightByteAligned(t *testing.T) {
	for mtu := 100; mtu < 9000; mtu += 37 {
		f := MaxFragmentSize(mtu, 42)
		if f <= ipv4HeaderLenMin {
			continue
		}
		assert.Zero(t, (f-ipv4HeaderLenMin)%8, "mtu=%d", mtu)
	}
}
