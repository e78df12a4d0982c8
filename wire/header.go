package wire

import (
	"encoding/binary"

	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/rtpserr"
)

// HeaderSize is the fixed size in bytes of the RTPS message header
// (spec.md §4.2).
const HeaderSize = 20

var magic = [4]byte{'R', 'T', 'P', 'S'}

// ProtocolVersion is the RTPS protocol version carried in the header.
type ProtocolVersion struct {
	Major byte
	Minor byte
}

// ProtocolVersion2_3 is the version this package implements.
var ProtocolVersion2_3 = ProtocolVersion{Major: 2, Minor: 3}

// VendorId identifies the implementation that produced a message.
type VendorId [2]byte

// VendorIdThisImplementation is an unregistered vendor id used when no
// other identity has been assigned.
var VendorIdThisImplementation = VendorId{0x01, 0x0f}

// Header is the fixed 20-byte RTPS message header.
type Header struct {
	Version    ProtocolVersion
	Vendor     VendorId
	GuidPrefix guid.GuidPrefix
}

// Encode writes the 20-byte wire representation of h.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], magic[:])
	buf[4] = h.Version.Major
	buf[5] = h.Version.Minor
	buf[6] = h.Vendor[0]
	buf[7] = h.Vendor[1]
	copy(buf[8:20], h.GuidPrefix[:])
	return buf
}

// DecodeHeader parses the fixed header from the front of buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, rtpserr.New(rtpserr.WireFormat, "message shorter than header: %d bytes", len(buf))
	}
	if buf[0] != magic[0] || buf[1] != magic[1] || buf[2] != magic[2] || buf[3] != magic[3] {
		return Header{}, rtpserr.New(rtpserr.WireFormat, "bad magic %q", buf[0:4])
	}
	var h Header
	h.Version = ProtocolVersion{Major: buf[4], Minor: buf[5]}
	h.Vendor = VendorId{buf[6], buf[7]}
	copy(h.GuidPrefix[:], buf[8:20])
	return h, nil
}

// byteOrderFromFlags returns the binary.ByteOrder implied by a submessage's
// flags byte: bit 0 set means little-endian payload (spec.md §4.2).
func byteOrderFromFlags(flags byte) binary.ByteOrder {
	if flags&0x01 != 0 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func endiannessFlag(littleEndian bool) byte {
	if littleEndian {
		return 0x01
	}
	return 0x00
}
