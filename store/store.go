// Package store persists signing aux data and synced key images in a bbolt
// database.
//
// Tx aux data is keyed by transaction prefix hash so that tx-key recovery
// can find it from a transaction alone. Key images are keyed by the one-time
// output key they spend.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/anchorageoss/coldsign/keys"
)

var (
	bucketTxAux     = []byte("tx_aux")
	bucketKeyImages = []byte("key_images")
)

// ErrNotFound is returned when a key is absent.
var ErrNotFound = errors.New("not found")

// KeyImageEntry maps an output to the key image that spends it.
type KeyImageEntry struct {
	OutKey   keys.Point
	KeyImage keys.KeyImage
}

// DB is an open store.
type DB struct {
	db *bolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("store path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := bdb.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTxAux, bucketKeyImages} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return &DB{db: bdb}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// PutTxAux stores the aux data of a signed transaction.
func (d *DB) PutTxAux(prefixHash keys.Hash, aux []byte) error {
	if len(aux) == 0 {
		return errors.New("empty tx aux data")
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTxAux).Put(prefixHash[:], aux)
	})
}

// GetTxAux returns the aux data stored for prefixHash.
func (d *DB) GetTxAux(prefixHash keys.Hash) ([]byte, error) {
	var out []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTxAux).Get(prefixHash[:])
		if v == nil {
			return fmt.Errorf("tx aux for %s: %w", prefixHash, ErrNotFound)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// TxAuxHashes lists the prefix hashes with stored aux data, in key order.
func (d *DB) TxAuxHashes() ([]keys.Hash, error) {
	var out []keys.Hash
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTxAux).ForEach(func(k, _ []byte) error {
			h, err := keys.StringToKey[keys.Hash](k)
			if err != nil {
				return fmt.Errorf("corrupt tx aux key: %w", err)
			}
			out = append(out, h)
			return nil
		})
	})
	return out, err
}

// PutKeyImages stores key images in one transaction.
func (d *DB) PutKeyImages(entries []KeyImageEntry) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKeyImages)
		for _, e := range entries {
			if err := b.Put(e.OutKey[:], e.KeyImage[:]); err != nil {
				return fmt.Errorf("failed to store key image for %s: %w", e.OutKey, err)
			}
		}
		return nil
	})
}

// GetKeyImage returns the key image stored for outKey.
func (d *DB) GetKeyImage(outKey keys.Point) (keys.KeyImage, error) {
	var ki keys.KeyImage
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketKeyImages).Get(outKey[:])
		if v == nil {
			return fmt.Errorf("key image for %s: %w", outKey, ErrNotFound)
		}
		var err error
		ki, err = keys.StringToKey[keys.KeyImage](v)
		return err
	})
	return ki, err
}

// KeyImages returns every stored key image.
func (d *DB) KeyImages() ([]KeyImageEntry, error) {
	var out []KeyImageEntry
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeyImages).ForEach(func(k, v []byte) error {
			outKey, err := keys.StringToKey[keys.Point](k)
			if err != nil {
				return fmt.Errorf("corrupt key image key: %w", err)
			}
			ki, err := keys.StringToKey[keys.KeyImage](v)
			if err != nil {
				return fmt.Errorf("corrupt key image: %w", err)
			}
			out = append(out, KeyImageEntry{OutKey: outKey, KeyImage: ki})
			return nil
		})
	})
	return out, err
}
