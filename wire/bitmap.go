package wire

import (
	"encoding/binary"

	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/rtpserr"
)

// SequenceNumberSet is the base+bitmap representation of spec.md §4.2:
// "base (8B) + bitcount (4B) + ceil(bitcount/32) words". Bit i set
// means sequence number (Base+i) is a member of the set (e.g. missing,
// for ACKNACK; will-never-be-sent, for GAP).
type SequenceNumberSet struct {
	Base    guid.SequenceNumber
	NumBits uint32
	Bitmap  []uint32 // each element holds 32 bits, MSB-first within the word
}

// MaxBitmapBits is the largest legal bit count (spec.md §4.2 edge case).
const MaxBitmapBits = 256

// NewSequenceNumberSet builds an empty set based at base.
func NewSequenceNumberSet(base guid.SequenceNumber) SequenceNumberSet {
	return SequenceNumberSet{Base: base}
}

// Add marks seq as a member of the set, growing NumBits/Bitmap as needed.
func (s *SequenceNumberSet) Add(seq guid.SequenceNumber) {
	if seq < s.Base {
		return
	}
	idx := uint32(seq - s.Base)
	if idx >= MaxBitmapBits {
		return
	}
	if idx+1 > s.NumBits {
		s.NumBits = idx + 1
	}
	word := int(idx / 32)
	for len(s.Bitmap) <= word {
		s.Bitmap = append(s.Bitmap, 0)
	}
	s.Bitmap[word] |= 1 << (31 - (idx % 32))
}

// Contains reports whether seq is a member of the set.
func (s SequenceNumberSet) Contains(seq guid.SequenceNumber) bool {
	if seq < s.Base {
		return false
	}
	idx := uint32(seq - s.Base)
	if idx >= s.NumBits {
		return false
	}
	word := int(idx / 32)
	if word >= len(s.Bitmap) {
		return false
	}
	return s.Bitmap[word]&(1<<(31-(idx%32))) != 0
}

// Seqs returns every sequence number that is a member of the set, in
// ascending order.
func (s SequenceNumberSet) Seqs() []guid.SequenceNumber {
	var out []guid.SequenceNumber
	for i := uint32(0); i < s.NumBits; i++ {
		word := int(i / 32)
		if word >= len(s.Bitmap) {
			break
		}
		if s.Bitmap[word]&(1<<(31-(i%32))) != 0 {
			out = append(out, s.Base+guid.SequenceNumber(i))
		}
	}
	return out
}

func bitmapWordCount(numBits uint32) int {
	return int((numBits + 31) / 32)
}

func encodeSequenceNumberSet(order binary.ByteOrder, s SequenceNumberSet) []byte {
	hi, lo := s.Base.HighLow()
	wc := bitmapWordCount(s.NumBits)
	buf := make([]byte, 8+4+4*wc)
	order.PutUint32(buf[0:4], uint32(hi))
	order.PutUint32(buf[4:8], lo)
	order.PutUint32(buf[8:12], s.NumBits)
	for i := 0; i < wc; i++ {
		var w uint32
		if i < len(s.Bitmap) {
			w = s.Bitmap[i]
		}
		order.PutUint32(buf[12+4*i:16+4*i], w)
	}
	return buf
}

func decodeSequenceNumberSet(order binary.ByteOrder, buf []byte) (SequenceNumberSet, int, error) {
	if len(buf) < 12 {
		return SequenceNumberSet{}, 0, rtpserr.New(rtpserr.WireFormat, "sequence number set truncated")
	}
	hi := int32(order.Uint32(buf[0:4]))
	lo := order.Uint32(buf[4:8])
	numBits := order.Uint32(buf[8:12])
	if numBits > MaxBitmapBits {
		return SequenceNumberSet{}, 0, rtpserr.New(rtpserr.WireFormat, "sequence number set bit count %d exceeds %d", numBits, MaxBitmapBits)
	}
	wc := bitmapWordCount(numBits)
	if len(buf) < 12+4*wc {
		return SequenceNumberSet{}, 0, rtpserr.New(rtpserr.WireFormat, "sequence number set bitmap truncated")
	}
	words := make([]uint32, wc)
	for i := 0; i < wc; i++ {
		words[i] = order.Uint32(buf[12+4*i : 16+4*i])
	}
	return SequenceNumberSet{
		Base:    guid.FromHighLow(hi, lo),
		NumBits: numBits,
		Bitmap:  words,
	}, 12 + 4*wc, nil
}

// FragmentNumberSet is the fragment-level analog of SequenceNumberSet
// used by NACK_FRAG (spec.md §4.2).
type FragmentNumberSet struct {
	Base    uint32
	NumBits uint32
	Bitmap  []uint32
}

func encodeFragmentNumberSet(order binary.ByteOrder, s FragmentNumberSet) []byte {
	wc := bitmapWordCount(s.NumBits)
	buf := make([]byte, 4+4+4*wc)
	order.PutUint32(buf[0:4], s.Base)
	order.PutUint32(buf[4:8], s.NumBits)
	for i := 0; i < wc; i++ {
		var w uint32
		if i < len(s.Bitmap) {
			w = s.Bitmap[i]
		}
		order.PutUint32(buf[8+4*i:12+4*i], w)
	}
	return buf
}

func decodeFragmentNumberSet(order binary.ByteOrder, buf []byte) (FragmentNumberSet, int, error) {
	if len(buf) < 8 {
		return FragmentNumberSet{}, 0, rtpserr.New(rtpserr.WireFormat, "fragment number set truncated")
	}
	base := order.Uint32(buf[0:4])
	numBits := order.Uint32(buf[4:8])
	if numBits > MaxBitmapBits {
		return FragmentNumberSet{}, 0, rtpserr.New(rtpserr.WireFormat, "fragment number set bit count %d exceeds %d", numBits, MaxBitmapBits)
	}
	wc := bitmapWordCount(numBits)
	if len(buf) < 8+4*wc {
		return FragmentNumberSet{}, 0, rtpserr.New(rtpserr.WireFormat, "fragment number set bitmap truncated")
	}
	words := make([]uint32, wc)
	for i := 0; i < wc; i++ {
		words[i] = order.Uint32(buf[8+4*i : 12+4*i])
	}
	return FragmentNumberSet{Base: base, NumBits: numBits, Bitmap: words}, 8 + 4*wc, nil
}
