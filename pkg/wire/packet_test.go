package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequestHeaderByte(t *testing.T) {
	raw := EncodeRequest(0x1122334455667788)
	require.Len(t, raw, PacketSizeBytes)

	header := raw[0]
	assert.Equal(t, uint8(0), header>>6, "leap indicator")
	assert.Equal(t, Version, (header>>3)&0b111, "version")
	assert.Equal(t, uint8(ModeClient), header&0b111, "mode")
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := Decode(make([]byte, PacketSizeBytes-1))
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	raw := make([]byte, PacketSizeBytes)
	raw[0] = (0 << 6) | (2 << 3) | uint8(ModeServer)
	_, err := Decode(raw)
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestDecodeRejectsBadMode(t *testing.T) {
	raw := make([]byte, PacketSizeBytes)
	raw[0] = (0 << 6) | (Version << 3) | uint8(ModeClient)
	_, err := Decode(raw)
	assert.ErrorIs(t, err, ErrBadMode)
}

func TestDecodeAcceptsServerAndBroadcastModes(t *testing.T) {
	for _, mode := range []Mode{ModeServer, ModeBroadcast} {
		raw := make([]byte, PacketSizeBytes)
		raw[0] = (0 << 6) | (Version << 3) | uint8(mode)
		pkt, err := Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, mode, pkt.Mode)
	}
}

func TestEncodeDecodeRoundTripsTransmitTimestamp(t *testing.T) {
	const transmit = uint64(0xDEADBEEFCAFEBABE)
	raw := EncodeRequest(transmit)

	// Flip the header to a valid reply mode so Decode accepts our own
	// request, mirroring how a server's echo carries our value back as the
	// originate timestamp.
	raw[0] = (raw[0] &^ 0b111) | uint8(ModeServer)

	pkt, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, transmit, pkt.TransmitTime)
}

func TestValidSettingsFormat(t *testing.T) {
	cases := []struct {
		name  string
		leap  LeapIndicator
		ver   uint8
		mode  Mode
		valid bool
	}{
		{"no-warning server reply", 0, 4, ModeServer, true},
		{"unsync broadcast reply", 3, 4, ModeBroadcast, true},
		{"bad leap", 1, 4, ModeServer, false},
		{"bad version", 0, 2, ModeServer, false},
		{"client mode reply", 0, 4, ModeClient, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &Packet{Leap: tc.leap, Version: tc.ver, Mode: tc.mode}
			assert.Equal(t, tc.valid, p.ValidSettingsFormat())
		})
	}
}

func TestRefIDAsIPv4ByteOrder(t *testing.T) {
	p := &Packet{Fields: Fields{ReferenceID: [4]byte{192, 168, 1, 1}}}
	assert.Equal(t, uint32(0xC0A80101), p.RefIDAsIPv4())
}

func TestRefIDDisplayPicksASCIIOrIPv4ByStratum(t *testing.T) {
	primary := &Packet{Fields: Fields{Stratum: 1, ReferenceID: [4]byte{'G', 'P', 'S', 0}}}
	assert.Equal(t, "GPS", primary.RefIDDisplay())

	secondary := &Packet{Fields: Fields{Stratum: 2, ReferenceID: [4]byte{192, 168, 1, 1}}}
	assert.Equal(t, "192.168.1.1", secondary.RefIDDisplay())
}

func TestRootDelayAndDispersionUseShortFormatScale(t *testing.T) {
	// 0x00010000 is exactly 1.0 in 16.16 short format, not 2^-16 as the
	// 32.32 Time/Duration scale would read it.
	p := &Packet{Fields: Fields{RootDelay: 0x00010000, RootDispersion: 0x00008000}}
	assert.Equal(t, 1.0, p.RootDelaySeconds())
	assert.Equal(t, 0.5, p.RootDispersionSeconds())
}
