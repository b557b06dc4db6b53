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

package worker

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/ratelimit"
	"github.com/samber/lo"
	"github.com/shengiv/better-read/common/log"
	"github.com/shengiv/better-read/common/parallel"
	"github.com/shengiv/better-read/config"
	"github.com/shengiv/better-read/storage"
	"go.uber.org/zap"
)

// CollectionError reports a batch that could not be written after retries.
type CollectionError struct {
	Collection string
	// Partition is the index of the failed batch in isbn order.
	Partition int
	// First and Last bound the isbn range of the failed batch.
	First string
	Last  string
	Err   error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("failed to write %s partition %d [%s, %s]: %v",
		e.Collection, e.Partition, e.First, e.Last, e.Err)
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

// Writer writes books and similarity lists in batches. Batches cover disjoint isbn ranges
// and run concurrently.
type Writer struct {
	database  storage.Database
	batchSize int
	jobs      int
	bucket    *ratelimit.Bucket
}

func NewWriter(database storage.Database, cfg config.WriterConfig) *Writer {
	w := &Writer{
		database:  database,
		batchSize: max(cfg.BatchSize, 1),
		jobs:      max(cfg.Jobs, 1),
	}
	if cfg.WriteRate > 0 {
		rate := int64(cfg.WriteRate)
		w.bucket = ratelimit.NewBucketWithQuantum(time.Second, rate, rate)
	}
	return w
}

// WriteBooks upserts books by isbn.
func (w *Writer) WriteBooks(ctx context.Context, books []storage.Book) error {
	return write(ctx, w, storage.BooksCollection, books,
		func(book storage.Book) string { return book.ISBN },
		w.database.BatchUpsertBooks)
}

// WriteSimilarities replaces the neighbor list of every isbn in lists.
func (w *Writer) WriteSimilarities(ctx context.Context, lists []storage.SimilarityList) error {
	return write(ctx, w, storage.SimilaritiesCollection, lists,
		func(list storage.SimilarityList) string { return list.ISBN },
		w.database.BatchReplaceSimilarities)
}

func write[T any](ctx context.Context, w *Writer, collection string, records []T, key func(T) string,
	batchWrite func(context.Context, []T) error) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b T) int {
		return strings.Compare(key(a), key(b))
	})
	batches := lo.Chunk(sorted, w.batchSize)
	log.Logger().Info("start writing",
		zap.String("collection", collection),
		zap.Int("n_records", len(records)),
		zap.Int("n_batches", len(batches)),
		zap.Int("n_jobs", w.jobs))
	err := parallel.Parallel(ctx, len(batches), w.jobs, func(_, jobId int) error {
		batch := batches[jobId]
		if w.bucket != nil {
			w.bucket.Wait(int64(len(batch)))
		}
		if err := batchWrite(ctx, batch); err != nil {
			FailedBatchesTotal.WithLabelValues(collection).Inc()
			collectionErr := &CollectionError{
				Collection: collection,
				Partition:  jobId,
				First:      key(batch[0]),
				Last:       key(batch[len(batch)-1]),
				Err:        err,
			}
			log.Logger().Error("failed to write batch",
				zap.String("collection", collection),
				zap.Int("partition", jobId),
				zap.String("first", collectionErr.First),
				zap.String("last", collectionErr.Last),
				zap.Error(err))
			return collectionErr
		}
		WrittenRecordsTotal.WithLabelValues(collection).Add(float64(len(batch)))
		return nil
	})
	WriteSecondsVec.WithLabelValues(collection).Set(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	log.Logger().Info("complete writing",
		zap.String("collection", collection),
		zap.Int("n_records", len(records)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
