package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/mwojnars/schemat-sub000/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketDeployments = []byte("deployments")
	bucketManifest    = []byte("manifest")
)

const manifestKey = "manifest"

// BoltStore implements Store using bbolt.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the kernel's database file
// under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "schemat.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketDeployments, bucketManifest} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// PutDeployments replaces nodeID's full deployment record set.
func (s *BoltStore) PutDeployments(nodeID string, records []types.DeploymentRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		data, err := json.Marshal(records)
		if err != nil {
			return err
		}
		return b.Put([]byte(nodeID), data)
	})
}

// GetDeployments returns nodeID's last-persisted deployment records.
func (s *BoltStore) GetDeployments(nodeID string) ([]types.DeploymentRecord, error) {
	var records []types.DeploymentRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		data := b.Get([]byte(nodeID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &records)
	})
	return records, err
}

// PutManifestCache stores the raw bootstrap manifest bytes.
func (s *BoltStore) PutManifestCache(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketManifest)
		return b.Put([]byte(manifestKey), data)
	})
}

// GetManifestCache returns the cached manifest bytes, or nil if none
// were ever stored.
func (s *BoltStore) GetManifestCache() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketManifest)
		raw := b.Get([]byte(manifestKey))
		if raw == nil {
			return nil
		}
		data = make([]byte, len(raw))
		copy(data, raw)
		return nil
	})
	return data, err
}
