package wire

import (
	"testing"

	"github.com/go-rtps/rtps/guid"
	"github.com/stretchr/testify/require"
)

func TestDataEncodeDecodeRoundTrip(t *testing.T) {
	d := &Data{
		LittleEndian:     true,
		InlineQosPresent: true,
		ReaderID:         guid.EntityIdUnknown,
		WriterID:         guid.EntityId{0, 0, 1, 2},
		WriterSN:         guid.SequenceNumber(42),
		InlineQos:        ParameterList{{ID: PIDTopicName, Value: []byte("Sq")}},
		SerializedPayload: []byte{0xCA, 0xFE, 0xBA, 0xBE},
	}
	order := byteOrderOf(d)
	body := d.encode()
	got, err := decodeData(order, endiannessFlag(d.LittleEndian)|d.flagsExtra(), body)
	require.NoError(t, err)
	require.Equal(t, d.ReaderID, got.ReaderID)
	require.Equal(t, d.WriterID, got.WriterID)
	require.Equal(t, d.WriterSN, got.WriterSN)
	require.Equal(t, d.InlineQos, got.InlineQos)
	require.Equal(t, d.SerializedPayload, got.SerializedPayload)
}

func TestDataFragEncodeDecodeRoundTrip(t *testing.T) {
	f := &DataFrag{
		LittleEndian:          false,
		ReaderID:              guid.EntityIdUnknown,
		WriterID:              guid.EntityId{0, 0, 1, 2},
		WriterSN:              guid.SequenceNumber(7),
		FragmentStartingNum:   1,
		FragmentsInSubmessage: 3,
		FragmentSize:          1024,
		SampleSize:            3000,
		SerializedPayload:     []byte{1, 2, 3},
	}
	order := byteOrderOf(f)
	body := f.encode()
	got, err := decodeDataFrag(order, endiannessFlag(f.LittleEndian)|f.flagsExtra(), body)
	require.NoError(t, err)
	require.Equal(t, f.FragmentStartingNum, got.FragmentStartingNum)
	require.Equal(t, f.FragmentsInSubmessage, got.FragmentsInSubmessage)
	require.Equal(t, f.FragmentSize, got.FragmentSize)
	require.Equal(t, f.SampleSize, got.SampleSize)
	require.Equal(t, f.SerializedPayload, got.SerializedPayload)
}

func TestHeartbeatEncodeDecodeRoundTrip(t *testing.T) {
	h := &Heartbeat{
		LittleEndian: true,
		Final:        true,
		ReaderID:     guid.EntityIdUnknown,
		WriterID:     guid.EntityId{0, 0, 1, 3},
		FirstSN:      guid.SequenceNumber(1),
		LastSN:       guid.SequenceNumber(99),
		Count:        5,
	}
	order := byteOrderOf(h)
	got, err := decodeHeartbeat(order, endiannessFlag(h.LittleEndian)|h.flagsExtra(), h.encode())
	require.NoError(t, err)
	require.Equal(t, h.FirstSN, got.FirstSN)
	require.Equal(t, h.LastSN, got.LastSN)
	require.Equal(t, h.Count, got.Count)
	require.True(t, got.Final)
}

func TestAckNackEncodeDecodeRoundTrip(t *testing.T) {
	set := NewSequenceNumberSet(guid.SequenceNumber(1))
	set.Add(1)
	set.Add(3)
	a := &AckNack{
		ReaderID:      guid.EntityIdUnknown,
		WriterID:      guid.EntityId{0, 0, 1, 3},
		ReaderSNState: set,
		Count:         1,
	}
	order := byteOrderOf(a)
	got, err := decodeAckNack(order, endiannessFlag(a.LittleEndian)|a.flagsExtra(), a.encode())
	require.NoError(t, err)
	require.Equal(t, a.Count, got.Count)
	require.Equal(t, set.Seqs(), got.ReaderSNState.Seqs())
}

func TestGapEncodeDecodeRoundTrip(t *testing.T) {
	list := NewSequenceNumberSet(guid.SequenceNumber(10))
	list.Add(10)
	g := &Gap{
		ReaderID: guid.EntityIdUnknown,
		WriterID: guid.EntityId{0, 0, 1, 3},
		GapStart: guid.SequenceNumber(9),
		GapList:  list,
	}
	order := byteOrderOf(g)
	got, err := decodeGap(order, endiannessFlag(g.LittleEndian), g.encode())
	require.NoError(t, err)
	require.Equal(t, g.GapStart, got.GapStart)
	require.Equal(t, list.Seqs(), got.GapList.Seqs())
}

func TestNackFragEncodeDecodeRoundTrip(t *testing.T) {
	n := &NackFrag{
		ReaderID:            guid.EntityIdUnknown,
		WriterID:            guid.EntityId{0, 0, 1, 3},
		WriterSN:            guid.SequenceNumber(4),
		FragmentNumberState: FragmentNumberSet{Base: 1, NumBits: 8, Bitmap: []uint32{0xFF000000}},
		Count:               2,
	}
	order := byteOrderOf(n)
	got, err := decodeNackFrag(order, endiannessFlag(n.LittleEndian), n.encode())
	require.NoError(t, err)
	require.Equal(t, n.WriterSN, got.WriterSN)
	require.Equal(t, n.Count, got.Count)
	require.Equal(t, n.FragmentNumberState, got.FragmentNumberState)
}

func TestHeartbeatFragEncodeDecodeRoundTrip(t *testing.T) {
	h := &HeartbeatFrag{
		ReaderID:        guid.EntityIdUnknown,
		WriterID:        guid.EntityId{0, 0, 1, 3},
		WriterSN:        guid.SequenceNumber(4),
		LastFragmentNum: 9,
		Count:           2,
	}
	order := byteOrderOf(h)
	got, err := decodeHeartbeatFrag(order, endiannessFlag(h.LittleEndian), h.encode())
	require.NoError(t, err)
	require.Equal(t, h.LastFragmentNum, got.LastFragmentNum)
	require.Equal(t, h.Count, got.Count)
}

func TestInfoTSInvalidateProducesNoPayload(t *testing.T) {
	ts := &InfoTS{Invalidate: true}
	require.Nil(t, ts.encode())
	got, err := decodeInfoTS(byteOrderOf(ts), endiannessFlag(ts.LittleEndian)|ts.flagsExtra(), nil)
	require.NoError(t, err)
	require.True(t, got.Invalidate)
}

func TestInfoTSEncodeDecodeRoundTrip(t *testing.T) {
	ts := &InfoTS{Seconds: 12345, Fraction: 67890}
	order := byteOrderOf(ts)
	got, err := decodeInfoTS(order, endiannessFlag(ts.LittleEndian)|ts.flagsExtra(), ts.encode())
	require.NoError(t, err)
	require.Equal(t, ts.Seconds, got.Seconds)
	require.Equal(t, ts.Fraction, got.Fraction)
}

func TestInfoDstEncodeDecodeRoundTrip(t *testing.T) {
	d := &InfoDst{GuidPrefix: guid.GuidPrefix{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}}
	got, err := decodeInfoDst(endiannessFlag(d.LittleEndian), d.encode())
	require.NoError(t, err)
	require.Equal(t, d.GuidPrefix, got.GuidPrefix)
}

func TestInfoSrcEncodeDecodeRoundTrip(t *testing.T) {
	s := &InfoSrc{
		Version:    ProtocolVersion2_3,
		Vendor:     VendorIdThisImplementation,
		GuidPrefix: guid.GuidPrefix{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
	}
	got, err := decodeInfoSrc(endiannessFlag(s.LittleEndian), s.encode())
	require.NoError(t, err)
	require.Equal(t, s.Version, got.Version)
	require.Equal(t, s.Vendor, got.Vendor)
	require.Equal(t, s.GuidPrefix, got.GuidPrefix)
}
