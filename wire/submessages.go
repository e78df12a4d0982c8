package wire

import (
	"encoding/binary"

	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/rtpserr"
)

// Kind identifies a submessage type (spec.md §4.2).
type Kind byte

const (
	KindPad           Kind = 0x01
	KindAckNack       Kind = 0x06
	KindHeartbeat     Kind = 0x07
	KindGap           Kind = 0x08
	KindInfoTS        Kind = 0x09
	KindInfoSrc       Kind = 0x0c
	KindInfoDst       Kind = 0x0e
	KindNackFrag      Kind = 0x12
	KindHeartbeatFrag Kind = 0x13
	KindData          Kind = 0x15
	KindDataFrag      Kind = 0x16
)

// VendorSpecificThreshold splits standard submessage ids (below) from
// vendor-specific ones (at or above); see spec.md §4.2 edge case.
const VendorSpecificThreshold = 0x80

// Submessage is any decoded RTPS submessage payload. LittleEndian
// records the endianness the instance should be (re-)encoded with;
// each submessage is independently endian-tagged (spec.md §4.2).
type Submessage interface {
	Kind() Kind
	Endian() bool
	encode() []byte // payload only, using this submessage's own endianness
	flagsExtra() byte
}

func byteOrderOf(s Submessage) binary.ByteOrder { return byteOrderFromFlags(endiannessFlag(s.Endian())) }

// ---- DATA ----

// Data carries a single CacheChange's wire representation.
type Data struct {
	LittleEndian      bool
	InlineQosPresent  bool
	KeyOnly           bool // serialized payload holds only the key (dispose/unregister)
	ReaderID          guid.EntityId
	WriterID          guid.EntityId
	WriterSN          guid.SequenceNumber
	InlineQos         ParameterList
	SerializedPayload []byte
}

func (d *Data) Kind() Kind      { return KindData }
func (d *Data) Endian() bool    { return d.LittleEndian }
func (d *Data) flagsExtra() byte {
	var f byte
	if d.InlineQosPresent {
		f |= 0x02
	}
	if d.KeyOnly {
		f |= 0x08
	} else {
		f |= 0x04 // DATA flag: payload present
	}
	return f
}

func (d *Data) encode() []byte {
	order := byteOrderOf(d)
	qos := d.InlineQos.Encode(order)
	octetsToInline := 16 // readerId(4)+writerId(4)+writerSN(8), the bytes between this field and the inline QoS
	buf := make([]byte, 0, 24+len(qos)+len(d.SerializedPayload))
	tmp := make([]byte, 4)
	order.PutUint16(tmp[0:2], 0) // extraFlags
	order.PutUint16(tmp[2:4], uint16(octetsToInline))
	buf = append(buf, tmp...)
	buf = append(buf, d.ReaderID[:]...)
	buf = append(buf, d.WriterID[:]...)
	hi, lo := d.WriterSN.HighLow()
	snbuf := make([]byte, 8)
	order.PutUint32(snbuf[0:4], uint32(hi))
	order.PutUint32(snbuf[4:8], lo)
	buf = append(buf, snbuf...)
	if d.InlineQosPresent {
		buf = append(buf, qos...)
	}
	buf = append(buf, d.SerializedPayload...)
	return buf
}

func decodeData(order binary.ByteOrder, flags byte, payload []byte) (*Data, error) {
	if len(payload) < 20 {
		return nil, rtpserr.New(rtpserr.WireFormat, "DATA submessage too short: %d bytes", len(payload))
	}
	d := &Data{
		LittleEndian:     flags&0x01 != 0,
		InlineQosPresent: flags&0x02 != 0,
		KeyOnly:          flags&0x08 != 0,
	}
	octetsToInline := int(order.Uint16(payload[2:4]))
	off := 4 + octetsToInline
	if off > len(payload) {
		return nil, rtpserr.New(rtpserr.WireFormat, "DATA octetsToInlineQos overruns submessage")
	}
	copy(d.ReaderID[:], payload[4:8])
	copy(d.WriterID[:], payload[8:12])
	hi := int32(order.Uint32(payload[12:16]))
	lo := order.Uint32(payload[16:20])
	d.WriterSN = guid.FromHighLow(hi, lo)
	if d.InlineQosPresent {
		pl, n, err := DecodeParameterList(order, payload[off:])
		if err != nil {
			return nil, err
		}
		d.InlineQos = pl
		off += n
	}
	d.SerializedPayload = append([]byte(nil), payload[off:]...)
	return d, nil
}

// ---- DATA_FRAG ----

// DataFrag carries one or more fragments of a CacheChange too large
// for a single DATA submessage (spec.md §4.2).
type DataFrag struct {
	LittleEndian          bool
	InlineQosPresent      bool
	KeyOnly               bool
	ReaderID              guid.EntityId
	WriterID              guid.EntityId
	WriterSN              guid.SequenceNumber
	FragmentStartingNum   uint32 // 1-based
	FragmentsInSubmessage uint16
	FragmentSize          uint16
	SampleSize            uint32
	InlineQos             ParameterList
	SerializedPayload     []byte
}

func (f *DataFrag) Kind() Kind   { return KindDataFrag }
func (f *DataFrag) Endian() bool { return f.LittleEndian }
func (f *DataFrag) flagsExtra() byte {
	var fl byte
	if f.InlineQosPresent {
		fl |= 0x02
	}
	if f.KeyOnly {
		fl |= 0x04
	}
	return fl
}

func (f *DataFrag) encode() []byte {
	order := byteOrderOf(f)
	qos := f.InlineQos.Encode(order)
	buf := make([]byte, 4)
	order.PutUint16(buf[0:2], 0)
	order.PutUint16(buf[2:4], 28) // readerId+writerId+writerSN (16) + fragment fields (12)
	buf = append(buf, f.ReaderID[:]...)
	buf = append(buf, f.WriterID[:]...)
	hi, lo := f.WriterSN.HighLow()
	snbuf := make([]byte, 8)
	order.PutUint32(snbuf[0:4], uint32(hi))
	order.PutUint32(snbuf[4:8], lo)
	buf = append(buf, snbuf...)
	tail := make([]byte, 12)
	order.PutUint32(tail[0:4], f.FragmentStartingNum)
	order.PutUint16(tail[4:6], f.FragmentsInSubmessage)
	order.PutUint16(tail[6:8], f.FragmentSize)
	order.PutUint32(tail[8:12], f.SampleSize)
	buf = append(buf, tail...)
	if f.InlineQosPresent {
		buf = append(buf, qos...)
	}
	buf = append(buf, f.SerializedPayload...)
	return buf
}

func decodeDataFrag(order binary.ByteOrder, flags byte, payload []byte) (*DataFrag, error) {
	if len(payload) < 32 {
		return nil, rtpserr.New(rtpserr.WireFormat, "DATA_FRAG submessage too short: %d bytes", len(payload))
	}
	f := &DataFrag{
		LittleEndian:     flags&0x01 != 0,
		InlineQosPresent: flags&0x02 != 0,
		KeyOnly:          flags&0x04 != 0,
	}
	octetsToInline := int(order.Uint16(payload[2:4]))
	copy(f.ReaderID[:], payload[4:8])
	copy(f.WriterID[:], payload[8:12])
	hi := int32(order.Uint32(payload[12:16]))
	lo := order.Uint32(payload[16:20])
	f.WriterSN = guid.FromHighLow(hi, lo)
	f.FragmentStartingNum = order.Uint32(payload[20:24])
	f.FragmentsInSubmessage = order.Uint16(payload[24:26])
	f.FragmentSize = order.Uint16(payload[26:28])
	f.SampleSize = order.Uint32(payload[28:32])
	off := 4 + octetsToInline
	if off > len(payload) {
		return nil, rtpserr.New(rtpserr.WireFormat, "DATA_FRAG octetsToInlineQos overruns submessage")
	}
	if f.InlineQosPresent {
		pl, n, err := DecodeParameterList(order, payload[off:])
		if err != nil {
			return nil, err
		}
		f.InlineQos = pl
		off += n
	}
	f.SerializedPayload = append([]byte(nil), payload[off:]...)
	return f, nil
}

// ---- HEARTBEAT ----

// Heartbeat announces the writer's [FirstSN, LastSN] available range.
type Heartbeat struct {
	LittleEndian bool
	Final        bool
	Liveliness   bool
	ReaderID     guid.EntityId
	WriterID     guid.EntityId
	FirstSN      guid.SequenceNumber
	LastSN       guid.SequenceNumber
	Count        uint32
}

func (h *Heartbeat) Kind() Kind   { return KindHeartbeat }
func (h *Heartbeat) Endian() bool { return h.LittleEndian }
func (h *Heartbeat) flagsExtra() byte {
	var f byte
	if h.Final {
		f |= 0x02
	}
	if h.Liveliness {
		f |= 0x04
	}
	return f
}

func (h *Heartbeat) encode() []byte {
	order := byteOrderOf(h)
	buf := make([]byte, 28)
	copy(buf[0:4], h.ReaderID[:])
	copy(buf[4:8], h.WriterID[:])
	fhi, flo := h.FirstSN.HighLow()
	order.PutUint32(buf[8:12], uint32(fhi))
	order.PutUint32(buf[12:16], flo)
	lhi, llo := h.LastSN.HighLow()
	order.PutUint32(buf[16:20], uint32(lhi))
	order.PutUint32(buf[20:24], llo)
	order.PutUint32(buf[24:28], h.Count)
	return buf
}

func decodeHeartbeat(order binary.ByteOrder, flags byte, payload []byte) (*Heartbeat, error) {
	if len(payload) < 28 {
		return nil, rtpserr.New(rtpserr.WireFormat, "HEARTBEAT submessage too short: %d bytes", len(payload))
	}
	h := &Heartbeat{
		LittleEndian: flags&0x01 != 0,
		Final:        flags&0x02 != 0,
		Liveliness:   flags&0x04 != 0,
	}
	copy(h.ReaderID[:], payload[0:4])
	copy(h.WriterID[:], payload[4:8])
	h.FirstSN = guid.FromHighLow(int32(order.Uint32(payload[8:12])), order.Uint32(payload[12:16]))
	h.LastSN = guid.FromHighLow(int32(order.Uint32(payload[16:20])), order.Uint32(payload[20:24]))
	h.Count = order.Uint32(payload[24:28])
	return h, nil
}

// ---- ACKNACK ----

// AckNack reports missing sequence numbers from a reader to a writer.
type AckNack struct {
	LittleEndian bool
	Final        bool
	ReaderID     guid.EntityId
	WriterID     guid.EntityId
	ReaderSNState SequenceNumberSet
	Count        uint32
}

func (a *AckNack) Kind() Kind   { return KindAckNack }
func (a *AckNack) Endian() bool { return a.LittleEndian }
func (a *AckNack) flagsExtra() byte {
	if a.Final {
		return 0x02
	}
	return 0
}

func (a *AckNack) encode() []byte {
	order := byteOrderOf(a)
	buf := make([]byte, 8)
	copy(buf[0:4], a.ReaderID[:])
	copy(buf[4:8], a.WriterID[:])
	buf = append(buf, encodeSequenceNumberSet(order, a.ReaderSNState)...)
	cbuf := make([]byte, 4)
	order.PutUint32(cbuf, a.Count)
	return append(buf, cbuf...)
}

func decodeAckNack(order binary.ByteOrder, flags byte, payload []byte) (*AckNack, error) {
	if len(payload) < 8 {
		return nil, rtpserr.New(rtpserr.WireFormat, "ACKNACK submessage too short")
	}
	a := &AckNack{LittleEndian: flags&0x01 != 0, Final: flags&0x02 != 0}
	copy(a.ReaderID[:], payload[0:4])
	copy(a.WriterID[:], payload[4:8])
	set, n, err := decodeSequenceNumberSet(order, payload[8:])
	if err != nil {
		return nil, err
	}
	a.ReaderSNState = set
	off := 8 + n
	if off+4 > len(payload) {
		return nil, rtpserr.New(rtpserr.WireFormat, "ACKNACK missing count field")
	}
	a.Count = order.Uint32(payload[off : off+4])
	return a, nil
}

// ---- GAP ----

// Gap tells a reader the writer will never send the given sequence range.
type Gap struct {
	LittleEndian bool
	ReaderID     guid.EntityId
	WriterID     guid.EntityId
	GapStart     guid.SequenceNumber
	GapList      SequenceNumberSet
}

func (g *Gap) Kind() Kind          { return KindGap }
func (g *Gap) Endian() bool        { return g.LittleEndian }
func (g *Gap) flagsExtra() byte    { return 0 }

func (g *Gap) encode() []byte {
	order := byteOrderOf(g)
	buf := make([]byte, 8)
	copy(buf[0:4], g.ReaderID[:])
	copy(buf[4:8], g.WriterID[:])
	hi, lo := g.GapStart.HighLow()
	snbuf := make([]byte, 8)
	order.PutUint32(snbuf[0:4], uint32(hi))
	order.PutUint32(snbuf[4:8], lo)
	buf = append(buf, snbuf...)
	buf = append(buf, encodeSequenceNumberSet(order, g.GapList)...)
	return buf
}

func decodeGap(order binary.ByteOrder, flags byte, payload []byte) (*Gap, error) {
	if len(payload) < 16 {
		return nil, rtpserr.New(rtpserr.WireFormat, "GAP submessage too short")
	}
	g := &Gap{LittleEndian: flags&0x01 != 0}
	copy(g.ReaderID[:], payload[0:4])
	copy(g.WriterID[:], payload[4:8])
	g.GapStart = guid.FromHighLow(int32(order.Uint32(payload[8:12])), order.Uint32(payload[12:16]))
	set, _, err := decodeSequenceNumberSet(order, payload[16:])
	if err != nil {
		return nil, err
	}
	g.GapList = set
	return g, nil
}

// ---- NACK_FRAG ----

// NackFrag is the fragment-level analog of AckNack.
type NackFrag struct {
	LittleEndian        bool
	ReaderID             guid.EntityId
	WriterID             guid.EntityId
	WriterSN             guid.SequenceNumber
	FragmentNumberState  FragmentNumberSet
	Count                uint32
}

func (n *NackFrag) Kind() Kind       { return KindNackFrag }
func (n *NackFrag) Endian() bool     { return n.LittleEndian }
func (n *NackFrag) flagsExtra() byte { return 0 }

func (n *NackFrag) encode() []byte {
	order := byteOrderOf(n)
	buf := make([]byte, 8)
	copy(buf[0:4], n.ReaderID[:])
	copy(buf[4:8], n.WriterID[:])
	hi, lo := n.WriterSN.HighLow()
	snbuf := make([]byte, 8)
	order.PutUint32(snbuf[0:4], uint32(hi))
	order.PutUint32(snbuf[4:8], lo)
	buf = append(buf, snbuf...)
	buf = append(buf, encodeFragmentNumberSet(order, n.FragmentNumberState)...)
	cbuf := make([]byte, 4)
	order.PutUint32(cbuf, n.Count)
	return append(buf, cbuf...)
}

func decodeNackFrag(order binary.ByteOrder, flags byte, payload []byte) (*NackFrag, error) {
	if len(payload) < 16 {
		return nil, rtpserr.New(rtpserr.WireFormat, "NACK_FRAG submessage too short")
	}
	n := &NackFrag{LittleEndian: flags&0x01 != 0}
	copy(n.ReaderID[:], payload[0:4])
	copy(n.WriterID[:], payload[4:8])
	n.WriterSN = guid.FromHighLow(int32(order.Uint32(payload[8:12])), order.Uint32(payload[12:16]))
	set, consumed, err := decodeFragmentNumberSet(order, payload[16:])
	if err != nil {
		return nil, err
	}
	n.FragmentNumberState = set
	off := 16 + consumed
	if off+4 > len(payload) {
		return nil, rtpserr.New(rtpserr.WireFormat, "NACK_FRAG missing count field")
	}
	n.Count = order.Uint32(payload[off : off+4])
	return n, nil
}

// ---- HEARTBEAT_FRAG ----

// HeartbeatFrag announces the highest fragment number available for a
// partially-sent, fragmented CacheChange.
type HeartbeatFrag struct {
	LittleEndian    bool
	ReaderID        guid.EntityId
	WriterID        guid.EntityId
	WriterSN        guid.SequenceNumber
	LastFragmentNum uint32
	Count           uint32
}

func (h *HeartbeatFrag) Kind() Kind       { return KindHeartbeatFrag }
func (h *HeartbeatFrag) Endian() bool     { return h.LittleEndian }
func (h *HeartbeatFrag) flagsExtra() byte { return 0 }

func (h *HeartbeatFrag) encode() []byte {
	order := byteOrderOf(h)
	buf := make([]byte, 8)
	copy(buf[0:4], h.ReaderID[:])
	copy(buf[4:8], h.WriterID[:])
	hi, lo := h.WriterSN.HighLow()
	snbuf := make([]byte, 8)
	order.PutUint32(snbuf[0:4], uint32(hi))
	order.PutUint32(snbuf[4:8], lo)
	buf = append(buf, snbuf...)
	tail := make([]byte, 8)
	order.PutUint32(tail[0:4], h.LastFragmentNum)
	order.PutUint32(tail[4:8], h.Count)
	return append(buf, tail...)
}

func decodeHeartbeatFrag(order binary.ByteOrder, flags byte, payload []byte) (*HeartbeatFrag, error) {
	if len(payload) < 24 {
		return nil, rtpserr.New(rtpserr.WireFormat, "HEARTBEAT_FRAG submessage too short")
	}
	h := &HeartbeatFrag{LittleEndian: flags&0x01 != 0}
	copy(h.ReaderID[:], payload[0:4])
	copy(h.WriterID[:], payload[4:8])
	h.WriterSN = guid.FromHighLow(int32(order.Uint32(payload[8:12])), order.Uint32(payload[12:16]))
	h.LastFragmentNum = order.Uint32(payload[16:20])
	h.Count = order.Uint32(payload[20:24])
	return h, nil
}

// ---- INFO_TS / INFO_SRC / INFO_DST ----

// InfoTS timestamps the submessages that follow it in the same message.
type InfoTS struct {
	LittleEndian bool
	Invalidate   bool // true: no timestamp present, clears prior INFO_TS
	Seconds      int32
	Fraction     uint32
}

func (t *InfoTS) Kind() Kind   { return KindInfoTS }
func (t *InfoTS) Endian() bool { return t.LittleEndian }
func (t *InfoTS) flagsExtra() byte {
	if t.Invalidate {
		return 0x02
	}
	return 0
}

func (t *InfoTS) encode() []byte {
	if t.Invalidate {
		return nil
	}
	order := byteOrderOf(t)
	buf := make([]byte, 8)
	order.PutUint32(buf[0:4], uint32(t.Seconds))
	order.PutUint32(buf[4:8], t.Fraction)
	return buf
}

func decodeInfoTS(order binary.ByteOrder, flags byte, payload []byte) (*InfoTS, error) {
	t := &InfoTS{LittleEndian: flags&0x01 != 0, Invalidate: flags&0x02 != 0}
	if t.Invalidate {
		return t, nil
	}
	if len(payload) < 8 {
		return nil, rtpserr.New(rtpserr.WireFormat, "INFO_TS submessage too short")
	}
	t.Seconds = int32(order.Uint32(payload[0:4]))
	t.Fraction = order.Uint32(payload[4:8])
	return t, nil
}

// InfoDst overrides the destination GuidPrefix for submessages that follow.
type InfoDst struct {
	LittleEndian bool
	GuidPrefix   guid.GuidPrefix
}

func (d *InfoDst) Kind() Kind       { return KindInfoDst }
func (d *InfoDst) Endian() bool     { return d.LittleEndian }
func (d *InfoDst) flagsExtra() byte { return 0 }
func (d *InfoDst) encode() []byte   { return append([]byte(nil), d.GuidPrefix[:]...) }

func decodeInfoDst(flags byte, payload []byte) (*InfoDst, error) {
	if len(payload) < 12 {
		return nil, rtpserr.New(rtpserr.WireFormat, "INFO_DST submessage too short")
	}
	d := &InfoDst{LittleEndian: flags&0x01 != 0}
	copy(d.GuidPrefix[:], payload[0:12])
	return d, nil
}

// InfoSrc identifies the original source participant of a relayed message.
type InfoSrc struct {
	LittleEndian bool
	Version      ProtocolVersion
	Vendor       VendorId
	GuidPrefix   guid.GuidPrefix
}

func (s *InfoSrc) Kind() Kind       { return KindInfoSrc }
func (s *InfoSrc) Endian() bool     { return s.LittleEndian }
func (s *InfoSrc) flagsExtra() byte { return 0 }

func (s *InfoSrc) encode() []byte {
	buf := make([]byte, 16)
	buf[4] = s.Version.Major
	buf[5] = s.Version.Minor
	buf[6] = s.Vendor[0]
	buf[7] = s.Vendor[1]
	copy(buf[8:16], s.GuidPrefix[:8])
	return append(buf, s.GuidPrefix[8:12]...)
}

func decodeInfoSrc(flags byte, payload []byte) (*InfoSrc, error) {
	if len(payload) < 20 {
		return nil, rtpserr.New(rtpserr.WireFormat, "INFO_SRC submessage too short")
	}
	s := &InfoSrc{LittleEndian: flags&0x01 != 0}
	s.Version = ProtocolVersion{Major: payload[4], Minor: payload[5]}
	s.Vendor = VendorId{payload[6], payload[7]}
	copy(s.GuidPrefix[:8], payload[8:16])
	copy(s.GuidPrefix[8:12], payload[16:20])
	return s, nil
}

// Pad is a no-op submessage occasionally used for alignment.
type Pad struct {
	LittleEndian bool
	Payload      []byte
}

func (p *Pad) Kind() Kind          { return KindPad }
func (p *Pad) Endian() bool        { return p.LittleEndian }
func (p *Pad) flagsExtra() byte    { return 0 }
func (p *Pad) encode() []byte      { return p.Payload }
