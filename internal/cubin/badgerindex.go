package cubin

import (
	"github.com/dgraph-io/badger/v4"
)

// BadgerIndex is a DedupIndex backed by an embedded badger store, letting
// the record of persisted content hashes survive process restarts so that
// cubin files a prior run wrote to outputDir are not written again (each
// image is still hashed on Insert). This is the one
// place badger is exercised; the registry works identically, only
// slower to warm up, without it.
type BadgerIndex struct {
	db *badger.DB
}

// OpenBadgerIndex opens (creating if necessary) a badger database at dir.
func OpenBadgerIndex(dir string) (*BadgerIndex, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerIndex{db: db}, nil
}

// Close releases the underlying database.
func (b *BadgerIndex) Close() error {
	return b.db.Close()
}

// Has implements DedupIndex.
func (b *BadgerIndex) Has(hash [32]byte) (bool, error) {
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(hash[:])
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// Put implements DedupIndex.
func (b *BadgerIndex) Put(hash [32]byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(hash[:], []byte{1})
	})
}
