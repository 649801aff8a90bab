package pending

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/alanbriolat/media-fetch"
)

var Buckets = struct {
	Metadata   []byte
	Selections []byte
}{
	Metadata:   []byte("__metadata__"),
	Selections: []byte("selections"),
}

var MetadataKeys = struct {
	Version []byte
}{
	Version: []byte("version"),
}

const currentVersion = 1

// How long to wait for another process to release the database file.
const openTimeout = 2 * time.Second

// BoltStore keeps selections in a bbolt database, so that they survive between runs of a process. Only one process
// can have the file open at a time.
type BoltStore struct {
	db *bbolt.DB
}

func OpenBoltStore(path string) (_ *BoltStore, err error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open selection store %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) (err error) {
		// Ensure buckets exist
		var metadata *bbolt.Bucket
		if metadata, err = tx.CreateBucketIfNotExists(Buckets.Metadata); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(Buckets.Selections); err != nil {
			return err
		}

		var version int
		if versionBytes := metadata.Get(MetadataKeys.Version); versionBytes == nil {
			version = 0
		} else if err = json.Unmarshal(versionBytes, &version); err != nil {
			return err
		}
		if version > currentVersion {
			return fmt.Errorf("selection store version %d is newer than supported version %d", version, currentVersion)
		}

		if versionBytes, err := json.Marshal(currentVersion); err != nil {
			return err
		} else if err = metadata.Put(MetadataKeys.Version, versionBytes); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Put(selection mediafetch.PendingSelection) error {
	data, err := json.Marshal(selection)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(Buckets.Selections).Put([]byte(selection.Token), data)
	})
}

// Take reads and deletes in one write transaction; bbolt serializes write transactions.
func (s *BoltStore) Take(token string) (selection mediafetch.PendingSelection, found bool, err error) {
	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(Buckets.Selections)
		data := bucket.Get([]byte(token))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &selection); err != nil {
			return err
		}
		found = true
		return bucket.Delete([]byte(token))
	})
	if err != nil {
		return mediafetch.PendingSelection{}, false, err
	}
	return selection, found, nil
}

func (s *BoltStore) Delete(token string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(Buckets.Selections).Delete([]byte(token))
	})
}

func (s *BoltStore) Sweep(cutoff time.Time) (removed int, err error) {
	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(Buckets.Selections)
		// Deleting during ForEach is not allowed, so collect first
		var expired [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var selection mediafetch.PendingSelection
			if err := json.Unmarshal(v, &selection); err != nil || selection.CreatedAt.Before(cutoff) {
				// Unreadable entries can never be consumed either
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *BoltStore) Len() (n int, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(Buckets.Selections).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
