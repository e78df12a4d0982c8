// Package serverstore persists a discovery server's participant
// database so a restarted server does not forget every client it had
// learned about (spec.md §4.6 "persistence of the discovery
// database"; SPEC_FULL.md §4.17).
//
// Backed by go.etcd.io/bbolt: one bucket of serialized
// ParticipantProxyData keyed by GuidPrefix. bbolt is named in the
// dependency set but exercised by no file in the retrieval pack, so
// this package follows the library's own standard idiom (one
// bucket, one View/Update transaction per operation) rather than any
// example's usage.
package serverstore

import (
	"github.com/go-rtps/rtps/discovery"
	"github.com/go-rtps/rtps/guid"
	bolt "go.etcd.io/bbolt"
)

var participantsBucket = []byte("participants")

// Store is a bbolt-backed persistence of learned participant proxy
// data, used by a discovery server or backup server.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt database at path and
// ensures the participants bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(participantsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Put persists p, keyed by its GUID prefix.
func (s *Store) Put(p discovery.ParticipantProxyData) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(participantsBucket)
		return b.Put(p.GUID.Prefix[:], p.Encode())
	})
}

// Delete removes the persisted entry for prefix, if any.
func (s *Store) Delete(prefix guid.GuidPrefix) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(participantsBucket).Delete(prefix[:])
	})
}

// LoadAll returns every persisted participant, for reload on server
// restart.
func (s *Store) LoadAll() ([]discovery.ParticipantProxyData, error) {
	var out []discovery.ParticipantProxyData
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(participantsBucket)
		return b.ForEach(func(_, v []byte) error {
			p, err := discovery.DecodeParticipantProxyData(v)
			if err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	})
	return out, err
}
