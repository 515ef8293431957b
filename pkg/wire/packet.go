// Package wire implements the 48-byte NTP packet codec: encoding requests
// and decoding replies, and the handful of fixed-point/identifier
// conversions the wire format carries. It deliberately implements only the
// framing this monitor needs (client request, stratum/refid/timestamps on
// read) and not the full NTPv4 control or authentication surface.
package wire

import (
	"bytes"
	"encoding/binary"
	"net"
	"strings"

	"github.com/pkg/errors"
)

// PacketSizeBytes is the length of an NTPv3/v4 packet without extension
// fields or a MAC.
const PacketSizeBytes = 48

// LeapIndicator is the two-bit LI field.
type LeapIndicator uint8

// Mode is the three-bit mode field.
type Mode uint8

// Modes this monitor sends or accepts.
const (
	ModeClient    Mode = 3
	ModeServer    Mode = 4
	ModeBroadcast Mode = 5
)

// Version is the wire protocol version we speak.
const Version uint8 = 3

var (
	// ErrShortBuffer is returned when a buffer is too small to hold a packet.
	ErrShortBuffer = errors.New("ntp: buffer shorter than a packet")
	// ErrBadVersion is returned for a version below the minimum we understand.
	ErrBadVersion = errors.New("ntp: unsupported version")
	// ErrBadMode is returned when the reply mode is not 4 (server) or 5 (broadcast).
	ErrBadMode = errors.New("ntp: unexpected mode in reply")
)

// Fields is the set of NTP header fields laid out exactly as they appear on
// the wire, after the leading LI|VN|Mode byte.
type Fields struct {
	Stratum        uint8
	Poll           int8
	Precision      int8
	RootDelay      uint32
	RootDispersion uint32
	ReferenceID    [4]byte
	ReferenceTime  uint64
	OriginateTime  uint64
	ReceiveTime    uint64
	TransmitTime   uint64
}

// Packet is a decoded NTP packet: the framing byte plus Fields.
type Packet struct {
	Leap    LeapIndicator
	Version uint8
	Mode    Mode
	Fields
}

// EncodeRequest builds a 48-byte client-mode request with the given raw
// 64-bit value placed in the transmit timestamp slot. The value is the host
// counter reading at send time, cast by identity, not a real timestamp: the
// server echoes it back as the originate timestamp and that echo is our
// correlation token, per the wire contract this monitor relies on.
func EncodeRequest(transmit uint64) []byte {
	var buf bytes.Buffer
	header := (uint8(0) << 6) | (Version << 3) | uint8(ModeClient)
	buf.WriteByte(header)
	fields := Fields{
		Precision:    -18,
		TransmitTime: transmit,
	}
	// binary.Write cannot fail for fixed-size struct fields written to a
	// bytes.Buffer.
	_ = binary.Write(&buf, binary.BigEndian, &fields)
	return buf.Bytes()
}

// Decode parses a reply packet off the wire. It rejects buffers shorter than
// a packet, versions below Version, and modes outside {server, broadcast}.
func Decode(raw []byte) (*Packet, error) {
	if len(raw) < PacketSizeBytes {
		return nil, ErrShortBuffer
	}

	header := raw[0]
	p := &Packet{
		Leap:    LeapIndicator(header >> 6),
		Version: (header >> 3) & 0b111,
		Mode:    Mode(header & 0b111),
	}

	if p.Version < Version {
		return nil, errors.Wrapf(ErrBadVersion, "got version %d", p.Version)
	}
	if p.Mode != ModeServer && p.Mode != ModeBroadcast {
		return nil, errors.Wrapf(ErrBadMode, "got mode %d", p.Mode)
	}

	reader := bytes.NewReader(raw[1:PacketSizeBytes])
	if err := binary.Read(reader, binary.BigEndian, &p.Fields); err != nil {
		return nil, errors.Wrap(err, "ntp: decoding fixed fields")
	}

	return p, nil
}

// ValidSettingsFormat checks the leading LI|VN|Mode byte against what a
// reply to our own request is allowed to carry: leap indicator 0 (no
// warning) or 3 (unsynchronized), version 3 or 4, and a reply mode (server
// or broadcast). Decode already rejects version/mode on the wire; this is
// the additional guard the transport loop runs before a packet reaches the
// sample ring.
func (p *Packet) ValidSettingsFormat() bool {
	if p.Leap != 0 && p.Leap != 3 {
		return false
	}
	if p.Version != 3 && p.Version != 4 {
		return false
	}
	return p.Mode == ModeServer || p.Mode == ModeBroadcast
}

// RefIDString interprets the reference ID as ASCII, valid only when the
// packet's stratum is 1 (primary reference) or lower.
func (p *Packet) RefIDString() string {
	return string(p.ReferenceID[:])
}

// RefIDAsIPv4 byte-swaps the reference ID as a network-order IPv4 address,
// valid when the packet's stratum is greater than 1.
func (p *Packet) RefIDAsIPv4() uint32 {
	return binary.BigEndian.Uint32(p.ReferenceID[:])
}

// RefIDDisplay renders the reference ID the way it's meant to be read: ASCII
// for stratum 1 (primary reference) or lower, dotted-quad IPv4 otherwise.
func (p *Packet) RefIDDisplay() string {
	if p.Stratum <= 1 {
		return strings.TrimRight(p.RefIDString(), "\x00")
	}
	ip := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(ip, p.RefIDAsIPv4())
	return ip.String()
}

// shortToSeconds converts a 16.16 fixed-point short format value, the format
// root delay and root dispersion are carried in (distinct from the 32.32
// Time/Duration format the rest of this codebase uses), to seconds.
func shortToSeconds(v uint32) float64 {
	return float64(int32(v)) / 65536
}

// RootDelaySeconds converts the 16.16 fixed-point root delay field to seconds.
func (p *Packet) RootDelaySeconds() float64 {
	return shortToSeconds(p.RootDelay)
}

// RootDispersionSeconds converts the 16.16 fixed-point root dispersion field to seconds.
func (p *Packet) RootDispersionSeconds() float64 {
	return shortToSeconds(p.RootDispersion)
}
