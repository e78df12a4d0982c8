package persistence

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/go-rtps/rtps/guid"
	"github.com/go-rtps/rtps/history"
)

var (
	changesBucket = []byte("changes")
	acksBucket    = []byte("acks")
)

// BoltStore is a go.etcd.io/bbolt-backed Hook, for TRANSIENT and
// PERSISTENT durability (spec.md §4.9), grounded on
// discovery/pdp/serverstore's bucket-per-concern, one-transaction-
// per-operation idiom.
//
// changesBucket keys are writerGUID||sequenceNumber; acksBucket keys
// are readerGUID||writerGUID. Both buckets hold one flat namespace
// rather than nested per-GUID buckets, since bbolt range scans with a
// shared key prefix are cheap and this avoids a bucket-per-entity
// proliferation as writers/readers come and go.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if absent) the bbolt database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(changesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(acksBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

// guidKeyLen is the byte width of a GUID.Prefix||GUID.Entity encoding.
const guidKeyLen = 12 + 4

func putGUID(key []byte, g guid.GUID) {
	copy(key, g.Prefix[:])
	copy(key[12:], g.Entity[:])
}

func changeKey(writerGUID guid.GUID, seq guid.SequenceNumber) []byte {
	key := make([]byte, guidKeyLen+8)
	putGUID(key, writerGUID)
	binary.BigEndian.PutUint64(key[guidKeyLen:], uint64(seq))
	return key
}

func ackKey(readerGUID, writerGUID guid.GUID) []byte {
	key := make([]byte, 2*guidKeyLen)
	putGUID(key, readerGUID)
	putGUID(key[guidKeyLen:], writerGUID)
	return key
}

func (s *BoltStore) LoadWriterHistory(writerGUID guid.GUID) ([]*history.CacheChange, error) {
	prefix := changeKey(writerGUID, 0)[:guidKeyLen]
	var out []*history.CacheChange
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(changesBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			ch, err := decodeCacheChange(v)
			if err != nil {
				return err
			}
			out = append(out, ch)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) StoreChange(writerGUID guid.GUID, c *history.CacheChange) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(changesBucket).Put(changeKey(writerGUID, c.SequenceNumber), encodeCacheChange(c))
	})
}

func (s *BoltStore) RemoveChange(writerGUID guid.GUID, seq guid.SequenceNumber) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(changesBucket).Delete(changeKey(writerGUID, seq))
	})
}

func (s *BoltStore) LoadReaderLastAcks(readerGUID guid.GUID) (map[guid.GUID]guid.SequenceNumber, error) {
	prefix := ackKey(readerGUID, guid.GUID{})[:guidKeyLen]
	out := make(map[guid.GUID]guid.SequenceNumber)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(acksBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var writerGUID guid.GUID
			copy(writerGUID.Prefix[:], k[guidKeyLen:guidKeyLen+12])
			copy(writerGUID.Entity[:], k[guidKeyLen+12:guidKeyLen+16])
			out[writerGUID] = guid.SequenceNumber(binary.BigEndian.Uint64(v))
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) StoreAckWatermark(readerGUID, writerGUID guid.GUID, seq guid.SequenceNumber) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := acksBucket
		if old := tx.Bucket(b).Get(ackKey(readerGUID, writerGUID)); old != nil && guid.SequenceNumber(binary.BigEndian.Uint64(old)) >= seq {
			return nil
		}
		v := make([]byte, 8)
		binary.BigEndian.PutUint64(v, uint64(seq))
		return tx.Bucket(b).Put(ackKey(readerGUID, writerGUID), v)
	})
}

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}

// encodeCacheChange/decodeCacheChange give CacheChange a flat binary
// layout for bbolt storage. No corpus library serializes this
// internal struct (the pack's serialization libraries are either the
// RTPS wire codec itself or JSON/protobuf, both ruled out elsewhere in
// DESIGN.md), so this follows discovery.ParticipantProxyData.Encode's
// own hand-rolled binary.BigEndian layout.
// header layout: WriterGUID.Prefix(12) | WriterGUID.Entity(4) |
// InstanceHandle(16) | SequenceNumber(8) | Kind(1) | SourceTimestamp(8)
// | MaxPayloadSize(8) | payload length(8), followed by the payload.
const cacheChangeHeaderLen = 12 + 4 + 16 + 8 + 1 + 8 + 8 + 8

func encodeCacheChange(c *history.CacheChange) []byte {
	buf := make([]byte, 0, cacheChangeHeaderLen+len(c.SerializedPayload))
	buf = append(buf, c.WriterGUID.Prefix[:]...)
	buf = append(buf, c.WriterGUID.Entity[:]...)
	buf = append(buf, c.InstanceHandle[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(c.SequenceNumber))
	buf = append(buf, byte(c.Kind))
	buf = binary.BigEndian.AppendUint64(buf, uint64(c.SourceTimestamp.UnixNano()))
	buf = binary.BigEndian.AppendUint64(buf, uint64(c.MaxPayloadSize))
	buf = binary.BigEndian.AppendUint64(buf, uint64(len(c.SerializedPayload)))
	buf = append(buf, c.SerializedPayload...)
	return buf
}

func decodeCacheChange(buf []byte) (*history.CacheChange, error) {
	if len(buf) < cacheChangeHeaderLen {
		return nil, fmt.Errorf("persistence: truncated cache change (%d bytes)", len(buf))
	}
	c := &history.CacheChange{}
	copy(c.WriterGUID.Prefix[:], buf[0:12])
	copy(c.WriterGUID.Entity[:], buf[12:16])
	copy(c.InstanceHandle[:], buf[16:32])
	c.SequenceNumber = guid.SequenceNumber(binary.BigEndian.Uint64(buf[32:40]))
	c.Kind = history.ChangeKind(buf[40])
	nanos := int64(binary.BigEndian.Uint64(buf[41:49]))
	c.SourceTimestamp = time.Unix(0, nanos)
	c.MaxPayloadSize = int(binary.BigEndian.Uint64(buf[49:57]))
	plen := int(binary.BigEndian.Uint64(buf[57:65]))
	if len(buf) < cacheChangeHeaderLen+plen {
		return nil, fmt.Errorf("persistence: truncated cache change payload (want %d, have %d)", plen, len(buf)-cacheChangeHeaderLen)
	}
	c.SerializedPayload = append([]byte(nil), buf[cacheChangeHeaderLen:cacheChangeHeaderLen+plen]...)
	return c, nil
}
