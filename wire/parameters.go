package wire

import (
	"encoding/binary"

	"github.com/go-rtps/rtps/rtpserr"
)

// ParameterID is an OMG-assigned inline-QoS / discovery-data tag
// (spec.md §6, selected examples).
type ParameterID uint16

const (
	PIDPad              ParameterID = 0x0000
	PIDTopicName        ParameterID = 0x0005
	PIDTypeName         ParameterID = 0x0007
	PIDKeyHash          ParameterID = 0x0070
	PIDStatusInfo       ParameterID = 0x0071
	PIDDataRepresentation ParameterID = 0x0073
	PIDParticipantGUID  ParameterID = 0x0050
	PIDSentinel         ParameterID = 0x0001

	// Discovery-data parameters (spec.md §4.6/§4.7's participant and
	// reader/writer proxy data, carried in SPDP/SEDP DATA payloads).
	PIDDefaultUnicastLocator       ParameterID = 0x0031
	PIDMetatrafficUnicastLocator   ParameterID = 0x0032
	PIDMetatrafficMulticastLocator ParameterID = 0x0033
	PIDUnicastLocator              ParameterID = 0x002F
	PIDMulticastLocator             ParameterID = 0x0030
	PIDLeaseDuration                ParameterID = 0x0002
	PIDBuiltinEndpointSet           ParameterID = 0x0058
	PIDReliability                   ParameterID = 0x001A
	PIDDurability                    ParameterID = 0x001D
	PIDPartition                     ParameterID = 0x0029
	PIDEndpointGUID                  ParameterID = 0x005A
)

// Parameter is one entry of an inline-QoS/discovery parameter list.
type Parameter struct {
	ID    ParameterID
	Value []byte
}

// ParameterList is an ordered, sentinel-terminated sequence of
// Parameters, as carried in DATA inline QoS and SPDP/SEDP payloads.
type ParameterList []Parameter

// Get returns the first parameter with the given id, if present.
func (pl ParameterList) Get(id ParameterID) ([]byte, bool) {
	for _, p := range pl {
		if p.ID == id {
			return p.Value, true
		}
	}
	return nil, false
}

// Encode serializes the list, padding each value to a 4-byte boundary
// and appending the PID_SENTINEL terminator, per the OMG parameter-list
// encapsulation.
func (pl ParameterList) Encode(order binary.ByteOrder) []byte {
	var buf []byte
	for _, p := range pl {
		buf = append(buf, encodeOneParameter(order, p)...)
	}
	sentinel := make([]byte, 4)
	order.PutUint16(sentinel[0:2], uint16(PIDSentinel))
	buf = append(buf, sentinel...)
	return buf
}

func encodeOneParameter(order binary.ByteOrder, p Parameter) []byte {
	padded := pad4(len(p.Value))
	head := make([]byte, 4)
	order.PutUint16(head[0:2], uint16(p.ID))
	order.PutUint16(head[2:4], uint16(padded))
	out := make([]byte, 4+padded)
	copy(out, head)
	copy(out[4:], p.Value)
	return out
}

func pad4(n int) int { return (n + 3) &^ 3 }

// DecodeParameterList parses a parameter list starting at buf[0],
// stopping at PID_SENTINEL or when the buffer is exhausted. It returns
// the list and the number of bytes consumed (including the sentinel).
func DecodeParameterList(order binary.ByteOrder, buf []byte) (ParameterList, int, error) {
	var list ParameterList
	off := 0
	for {
		if off+4 > len(buf) {
			return nil, 0, rtpserr.New(rtpserr.WireFormat, "parameter list truncated before sentinel")
		}
		id := ParameterID(order.Uint16(buf[off : off+2]))
		length := int(order.Uint16(buf[off+2 : off+4]))
		off += 4
		if id == PIDSentinel {
			return list, off, nil
		}
		if off+length > len(buf) {
			return nil, 0, rtpserr.New(rtpserr.WireFormat, "parameter 0x%04x length %d exceeds buffer", id, length)
		}
		value := make([]byte, length)
		copy(value, buf[off:off+length])
		list = append(list, Parameter{ID: id, Value: value})
		off += length
	}
}
