package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"

	"github.com/NamanBalaji/webdl/pkg/download"
)

const (
	downloadsBucket = "downloads"
	metadataBucket  = "metadata"
)

// ErrRecordNotFound is returned when no row exists for an id.
var ErrRecordNotFound = errors.New("download record not found")

// BoltDBRepository is the engine's status table, one JSON encoded
// download.Record per request id.
type BoltDBRepository struct {
	db *bolt.DB
}

// NewBoltDBRepository opens or creates the database at dbPath.
func NewBoltDBRepository(dbPath string) (*BoltDBRepository, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(downloadsBucket)); err != nil {
			return fmt.Errorf("failed to create downloads bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(metadataBucket)); err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltDBRepository{
		db: db,
	}, nil
}

// Save inserts or replaces a record.
func (r *BoltDBRepository) Save(rec *download.Record) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		bucket, err := downloads(tx)
		if err != nil {
			return err
		}
		return put(bucket, rec)
	})
}

// Update applies fn to the stored record inside one transaction. It returns
// ErrRecordNotFound if the row is gone, so a removed download is never
// written back.
func (r *BoltDBRepository) Update(id uuid.UUID, fn func(rec *download.Record) error) (*download.Record, error) {
	var updated *download.Record

	err := r.db.Update(func(tx *bolt.Tx) error {
		bucket, err := downloads(tx)
		if err != nil {
			return err
		}

		rec, err := get(bucket, id)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		rec.UpdatedAt = time.Now()

		updated = rec
		return put(bucket, rec)
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// Find retrieves a record by id.
func (r *BoltDBRepository) Find(id uuid.UUID) (*download.Record, error) {
	var rec *download.Record

	err := r.db.View(func(tx *bolt.Tx) error {
		bucket, err := downloads(tx)
		if err != nil {
			return err
		}

		rec, err = get(bucket, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// FindAll retrieves every record.
func (r *BoltDBRepository) FindAll() ([]*download.Record, error) {
	var recs []*download.Record

	err := r.db.View(func(tx *bolt.Tx) error {
		bucket, err := downloads(tx)
		if err != nil {
			return err
		}

		return bucket.ForEach(func(k, v []byte) error {
			var rec download.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
			recs = append(recs, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return recs, nil
}

// Delete removes a record. Deleting a missing record returns
// ErrRecordNotFound.
func (r *BoltDBRepository) Delete(id uuid.UUID) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		bucket, err := downloads(tx)
		if err != nil {
			return err
		}

		key := []byte(id.String())
		if bucket.Get(key) == nil {
			return ErrRecordNotFound
		}
		return bucket.Delete(key)
	})
}

// Close closes the database.
func (r *BoltDBRepository) Close() error {
	return r.db.Close()
}

func downloads(tx *bolt.Tx) (*bolt.Bucket, error) {
	bucket := tx.Bucket([]byte(downloadsBucket))
	if bucket == nil {
		return nil, fmt.Errorf("bucket not found: %s", downloadsBucket)
	}
	return bucket, nil
}

func get(bucket *bolt.Bucket, id uuid.UUID) (*download.Record, error) {
	data := bucket.Get([]byte(id.String()))
	if data == nil {
		return nil, ErrRecordNotFound
	}

	var rec download.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

func put(bucket *bolt.Bucket, rec *download.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := bucket.Put([]byte(rec.ID.String()), data); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}
