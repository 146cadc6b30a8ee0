package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"kobold-bridge/internal/reconcile"
)

var (
	bucketRobots    = []byte("robots")
	bucketSnapshots = []byte("snapshots")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketRobots, bucketSnapshots} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveRobot(r *Robot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRobots)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketRobots)
		}
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put([]byte(r.ID), data)
	})
}

func (s *BoltStore) GetRobot(id string) (*Robot, error) {
	var r Robot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRobots)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketRobots)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("robot %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoltStore) DeleteRobot(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRobots)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketRobots)
		}
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
		// The snapshot of a removed robot is useless on its own.
		if sb := tx.Bucket(bucketSnapshots); sb != nil {
			return sb.Delete([]byte(id))
		}
		return nil
	})
}

func (s *BoltStore) ListRobots() ([]*Robot, error) {
	var robots []*Robot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRobots)
		if b == nil {
			return nil // no bucket = no robots
		}
		robots = make([]*Robot, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var r Robot
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			robots = append(robots, &r)
			return nil
		})
	})
	return robots, err
}

func (s *BoltStore) SaveSnapshot(robotID string, snap *reconcile.Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketSnapshots)
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return b.Put([]byte(robotID), data)
	})
}

func (s *BoltStore) GetSnapshot(robotID string) (*reconcile.Snapshot, error) {
	var snap reconcile.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketSnapshots)
		}
		data := b.Get([]byte(robotID))
		if data == nil {
			return fmt.Errorf("snapshot %s: %w", robotID, ErrNotFound)
		}
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
