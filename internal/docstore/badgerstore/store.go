// Package badgerstore keeps documents in an embedded BadgerDB for
// single-node deployments that run without PostgreSQL.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"assetdesk.io/internal/docstore"
)

const keyPrefix = "doc:"

type Store struct {
	db *badger.DB
}

var _ docstore.Store = (*Store)(nil)

// Open opens (or creates) a database under dir. An empty dir keeps
// everything in memory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already opened database.
func New(db *badger.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func key(path string) []byte { return []byte(keyPrefix + path) }

func (s *Store) Get(ctx context.Context, path string) (docstore.Document, error) {
	if _, _, err := docstore.SplitDoc(path); err != nil {
		return nil, err
	}
	var doc docstore.Document
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		doc, err = read(txn, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return nil, err
	}
	var docs []docstore.Document
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := key(collection + "/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			// Skip documents of nested sub-collections.
			if strings.Contains(string(item.Key()[len(prefix):]), "/") {
				continue
			}
			err := item.Value(func(val []byte) error {
				doc, err := docstore.Unmarshal(val)
				if err != nil {
					return fmt.Errorf("decode %s: %w", item.Key(), err)
				}
				docs = append(docs, doc)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q.Apply(docs), nil
}

// Commit runs every write in one badger transaction. Reads inside the
// transaction see earlier writes of the same batch.
func (s *Store) Commit(ctx context.Context, writes []docstore.Write) error {
	writes, err := docstore.PrepareWrites(writes)
	if err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, w := range writes {
			current, err := read(txn, w.Path)
			exists := err == nil
			if err != nil && !errors.Is(err, docstore.ErrNotFound) {
				return err
			}
			next, remove, err := docstore.ApplyWrite(current, exists, w)
			if err != nil {
				return err
			}
			if remove {
				if err := txn.Delete(key(w.Path)); err != nil {
					return err
				}
				continue
			}
			raw, err := docstore.Marshal(next)
			if err != nil {
				return err
			}
			if err := txn.Set(key(w.Path), raw); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %v", docstore.ErrConflict, err)
	}
	return err
}

func read(txn *badger.Txn, path string) (docstore.Document, error) {
	item, err := txn.Get(key(path))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", docstore.ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	var doc docstore.Document
	err = item.Value(func(val []byte) error {
		doc, err = docstore.Unmarshal(val)
		return err
	})
	return doc, err
}
