// Copyright 2022 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"encoding/json"

	"github.com/dgraph-io/badger/v4"
	"github.com/juju/errors"
	"github.com/shengiv/better-read/common/log"
	"go.uber.org/zap"
)

const badgerMemory = ":memory:"

// badgerLogger prints badger logs through zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}

// Badger stores books and similarity lists in an embedded key-value store. Every value is
// a JSON document under a prefixed key.
type Badger struct {
	db *badger.DB
	TablePrefix
}

func openBadger(path, tablePrefix string) (*Badger, error) {
	var opts badger.Options
	if path == badgerMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(badgerLogger{log.Logger().Sugar()}).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Badger{db: db, TablePrefix: TablePrefix(tablePrefix)}, nil
}

func (b *Badger) Init(context.Context) error {
	return nil
}

func (b *Badger) Ping(context.Context) error {
	if b.db.IsClosed() {
		return errors.New("badger is closed")
	}
	return nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func (b *Badger) Purge(context.Context) error {
	return b.db.DropPrefix(
		[]byte(b.BookKey("")),
		[]byte(b.SimilaritiesKey("")),
		[]byte(b.MetaKey("")))
}

func (b *Badger) BatchUpsertBooks(_ context.Context, books []Book) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, book := range books {
		value, err := json.Marshal(book)
		if err != nil {
			return errors.Trace(err)
		}
		if err = wb.Set([]byte(b.BookKey(book.ISBN)), value); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(wb.Flush())
}

func (b *Badger) GetBook(_ context.Context, isbn string) (Book, error) {
	var book Book
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(b.BookKey(isbn)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.NotFoundf("book %s", isbn)
		} else if err != nil {
			return errors.Trace(err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &book)
		})
	})
	return book, err
}

func (b *Badger) ScanBooks(_ context.Context, cursor string, n int) (string, []Book, error) {
	n = PageSize(n)
	prefix := []byte(b.BookKey(""))
	var books []Book
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(b.BookKey(cursor))); it.ValidForPrefix(prefix) && len(books) < n; it.Next() {
			item := it.Item()
			if string(item.Key()[len(prefix):]) == cursor {
				continue
			}
			var book Book
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &book)
			}); err != nil {
				return errors.Trace(err)
			}
			books = append(books, book)
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	if len(books) == n {
		return books[n-1].ISBN, books, nil
	}
	return "", books, nil
}

func (b *Badger) CountBooks(context.Context) (int, error) {
	prefix := []byte(b.BookKey(""))
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (b *Badger) BatchReplaceSimilarities(_ context.Context, lists []SimilarityList) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, list := range lists {
		value, err := json.Marshal(list.Neighbors)
		if err != nil {
			return errors.Trace(err)
		}
		if err = wb.Set([]byte(b.SimilaritiesKey(list.ISBN)), value); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(wb.Flush())
}

func (b *Badger) GetSimilarities(_ context.Context, isbn string) ([]Neighbor, error) {
	var neighbors []Neighbor
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(b.SimilaritiesKey(isbn)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		} else if err != nil {
			return errors.Trace(err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &neighbors)
		})
	})
	return neighbors, err
}

func (b *Badger) CountSimilarities(context.Context) (int, error) {
	prefix := []byte(b.SimilaritiesKey(""))
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var neighbors []Neighbor
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &neighbors)
			}); err != nil {
				return errors.Trace(err)
			}
			count += len(neighbors)
		}
		return nil
	})
	return count, err
}

func (b *Badger) SetMeta(_ context.Context, name, value string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(b.MetaKey(name)), []byte(value))
	})
}

func (b *Badger) GetMeta(_ context.Context, name string) (string, error) {
	var value string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(b.MetaKey(name)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.NotFoundf("meta %s", name)
		} else if err != nil {
			return errors.Trace(err)
		}
		val, err := item.ValueCopy(nil)
		value = string(val)
		return err
	})
	return value, err
}
