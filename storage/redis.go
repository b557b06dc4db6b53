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
	"strconv"

	"github.com/juju/errors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

// Redis stores books as JSON strings. The isbn set is kept in a sorted set with equal
// scores so that books can be scanned in lexical order. Neighbor counts are kept in a
// hash for counting.
type Redis struct {
	client *redis.Client
	TablePrefix
}

func openRedis(path, tablePrefix string) (*Redis, error) {
	opt, err := redis.ParseURL(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	client := redis.NewClient(opt)
	if err = redisotel.InstrumentTracing(client); err != nil {
		return nil, errors.Trace(err)
	}
	return &Redis{client: client, TablePrefix: TablePrefix(tablePrefix)}, nil
}

func (r *Redis) booksIndex() string {
	return r.Key(BooksCollection)
}

func (r *Redis) similarityCounts() string {
	return r.Key(SimilaritiesCollection + "_count")
}

func (r *Redis) Init(context.Context) error {
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Purge(ctx context.Context) error {
	patterns := []string{
		r.BookKey("*"),
		r.SimilaritiesKey("*"),
		r.MetaKey("*"),
		r.booksIndex(),
		r.similarityCounts(),
	}
	for _, pattern := range patterns {
		var cursor uint64
		for {
			keys, next, err := r.client.Scan(ctx, cursor, pattern, 1000).Result()
			if err != nil {
				return errors.Trace(err)
			}
			if len(keys) > 0 {
				if err = r.client.Del(ctx, keys...).Err(); err != nil {
					return errors.Trace(err)
				}
			}
			if cursor = next; cursor == 0 {
				break
			}
		}
	}
	return nil
}

func (r *Redis) BatchUpsertBooks(ctx context.Context, books []Book) error {
	if len(books) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, book := range books {
			data, err := json.Marshal(book)
			if err != nil {
				return errors.Trace(err)
			}
			pipe.Set(ctx, r.BookKey(book.ISBN), data, 0)
		}
		pipe.ZAdd(ctx, r.booksIndex(), lo.Map(books, func(book Book, _ int) redis.Z {
			return redis.Z{Member: book.ISBN}
		})...)
		return nil
	})
	return errors.Trace(err)
}

func (r *Redis) GetBook(ctx context.Context, isbn string) (Book, error) {
	data, err := r.client.Get(ctx, r.BookKey(isbn)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Book{}, errors.NotFoundf("book %s", isbn)
	} else if err != nil {
		return Book{}, errors.Trace(err)
	}
	var book Book
	err = json.Unmarshal(data, &book)
	return book, errors.Trace(err)
}

func (r *Redis) ScanBooks(ctx context.Context, cursor string, n int) (string, []Book, error) {
	n = PageSize(n)
	minimum := "-"
	if cursor != "" {
		minimum = "(" + cursor
	}
	isbns, err := r.client.ZRangeByLex(ctx, r.booksIndex(), &redis.ZRangeBy{
		Min:   minimum,
		Max:   "+",
		Count: int64(n),
	}).Result()
	if err != nil {
		return "", nil, errors.Trace(err)
	}
	if len(isbns) == 0 {
		return "", nil, nil
	}
	values, err := r.client.MGet(ctx, lo.Map(isbns, func(isbn string, _ int) string {
		return r.BookKey(isbn)
	})...).Result()
	if err != nil {
		return "", nil, errors.Trace(err)
	}
	books := make([]Book, 0, len(values))
	for _, value := range values {
		s, ok := value.(string)
		if !ok {
			continue
		}
		var book Book
		if err = json.Unmarshal([]byte(s), &book); err != nil {
			return "", nil, errors.Trace(err)
		}
		books = append(books, book)
	}
	if len(isbns) == n {
		return isbns[n-1], books, nil
	}
	return "", books, nil
}

func (r *Redis) CountBooks(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, r.booksIndex()).Result()
	return int(n), errors.Trace(err)
}

func (r *Redis) BatchReplaceSimilarities(ctx context.Context, lists []SimilarityList) error {
	if len(lists) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, list := range lists {
			data, err := json.Marshal(lo.Ternary(list.Neighbors == nil, []Neighbor{}, list.Neighbors))
			if err != nil {
				return errors.Trace(err)
			}
			pipe.Set(ctx, r.SimilaritiesKey(list.ISBN), data, 0)
			pipe.HSet(ctx, r.similarityCounts(), list.ISBN, len(list.Neighbors))
		}
		return nil
	})
	return errors.Trace(err)
}

func (r *Redis) GetSimilarities(ctx context.Context, isbn string) ([]Neighbor, error) {
	data, err := r.client.Get(ctx, r.SimilaritiesKey(isbn)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	var neighbors []Neighbor
	err = json.Unmarshal(data, &neighbors)
	return neighbors, errors.Trace(err)
}

func (r *Redis) CountSimilarities(ctx context.Context) (int, error) {
	counts, err := r.client.HVals(ctx, r.similarityCounts()).Result()
	if err != nil {
		return 0, errors.Trace(err)
	}
	total := 0
	for _, count := range counts {
		n, err := strconv.Atoi(count)
		if err != nil {
			return 0, errors.Trace(err)
		}
		total += n
	}
	return total, nil
}

func (r *Redis) SetMeta(ctx context.Context, name, value string) error {
	return errors.Trace(r.client.Set(ctx, r.MetaKey(name), value, 0).Err())
}

func (r *Redis) GetMeta(ctx context.Context, name string) (string, error) {
	value, err := r.client.Get(ctx, r.MetaKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", errors.NotFoundf("meta %s", name)
	}
	return value, errors.Trace(err)
}
