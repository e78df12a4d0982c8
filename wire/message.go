package wire

import (
	"encoding/binary"

	"github.com/go-rtps/rtps/rtpserr"
)

const submessageHeaderSize = 4

// Message is a decoded RTPS message: a fixed header followed by an
// ordered sequence of submessages (spec.md §4.2).
type Message struct {
	Header       Header
	Submessages []Submessage
}

// Encode serializes the message, writing each submessage with its own
// endianness flag as recorded on the instance.
func (m Message) Encode() []byte {
	buf := m.Header.Encode()
	for _, sm := range m.Submessages {
		buf = append(buf, encodeSubmessage(sm)...)
	}
	return buf
}

func encodeSubmessage(sm Submessage) []byte {
	payload := sm.encode()
	flags := endiannessFlag(sm.Endian()) | sm.flagsExtra()
	head := make([]byte, submessageHeaderSize)
	head[0] = byte(sm.Kind())
	head[1] = flags
	order := byteOrderOf(sm)
	order.PutUint16(head[2:4], uint16(len(payload)))
	return append(head, payload...)
}

// Decode parses a full RTPS message from buf. Unknown submessage kinds
// below VendorSpecificThreshold abort decoding of the whole message
// (the receiver cannot know how much to skip); kinds at or above the
// threshold are skipped using their declared octetsToNextHeader, per
// spec.md §4.2's edge case for forward compatibility.
func Decode(buf []byte) (Message, error) {
	hdr, err := DecodeHeader(buf)
	if err != nil {
		return Message{}, err
	}
	m := Message{Header: hdr}
	off := HeaderSize
	for off < len(buf) {
		if off+submessageHeaderSize > len(buf) {
			return Message{}, rtpserr.New(rtpserr.WireFormat, "submessage header truncated at offset %d", off)
		}
		kind := Kind(buf[off])
		flags := buf[off+1]
		order := byteOrderFromFlags(flags)
		length := int(order.Uint16(buf[off+2 : off+4]))
		bodyStart := off + submessageHeaderSize
		if length == 0 {
			// "Until end of message" — only legal for the final submessage.
			length = len(buf) - bodyStart
		}
		if bodyStart+length > len(buf) {
			return Message{}, rtpserr.New(rtpserr.WireFormat, "submessage body truncated at offset %d", off)
		}
		body := buf[bodyStart : bodyStart+length]
		sm, err := decodeOneSubmessage(order, kind, flags, body)
		if err != nil {
			return Message{}, err
		}
		if sm != nil {
			m.Submessages = append(m.Submessages, sm)
		} else if byte(kind) < VendorSpecificThreshold {
			return Message{}, rtpserr.New(rtpserr.WireFormat, "unknown standard submessage kind 0x%02x", byte(kind))
		}
		off = bodyStart + length
	}
	return m, nil
}

func decodeOneSubmessage(order binary.ByteOrder, kind Kind, flags byte, body []byte) (Submessage, error) {
	switch kind {
	case KindPad:
		return &Pad{LittleEndian: flags&0x01 != 0, Payload: append([]byte(nil), body...)}, nil
	case KindData:
		return decodeData(order, flags, body)
	case KindDataFrag:
		return decodeDataFrag(order, flags, body)
	case KindHeartbeat:
		return decodeHeartbeat(order, flags, body)
	case KindAckNack:
		return decodeAckNack(order, flags, body)
	case KindGap:
		return decodeGap(order, flags, body)
	case KindNackFrag:
		return decodeNackFrag(order, flags, body)
	case KindHeartbeatFrag:
		return decodeHeartbeatFrag(order, flags, body)
	case KindInfoTS:
		return decodeInfoTS(order, flags, body)
	case KindInfoDst:
		return decodeInfoDst(flags, body)
	case KindInfoSrc:
		return decodeInfoSrc(flags, body)
	default:
		// Unknown kind: caller decides skip-vs-abort based on VendorSpecificThreshold.
		return nil, nil
	}
}
