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
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/shengiv/better-read/config"
	"github.com/shengiv/better-read/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// brokenDatabase fails every batch of books containing a poisoned isbn.
type brokenDatabase struct {
	storage.Database
	poison string

	mu      sync.Mutex
	batches [][]string
}

func (d *brokenDatabase) BatchUpsertBooks(ctx context.Context, books []storage.Book) error {
	isbns := lo.Map(books, func(book storage.Book, _ int) string { return book.ISBN })
	d.mu.Lock()
	d.batches = append(d.batches, isbns)
	d.mu.Unlock()
	if lo.Contains(isbns, d.poison) {
		return errors.New("connection reset by peer")
	}
	return d.Database.BatchUpsertBooks(ctx, books)
}

type WriterTestSuite struct {
	suite.Suite
	database *brokenDatabase
}

func (suite *WriterTestSuite) SetupTest() {
	database, err := storage.Open(storage.BadgerPrefix+":memory:", "")
	suite.Require().NoError(err)
	suite.database = &brokenDatabase{Database: database}
}

func (suite *WriterTestSuite) TearDownTest() {
	suite.NoError(suite.database.Close())
}

func newBooks(n int) []storage.Book {
	// reversed so that writers have to sort
	return lo.Times(n, func(i int) storage.Book {
		j := n - 1 - i
		return storage.Book{
			ISBN:   fmt.Sprintf("%04d", j),
			Title:  fmt.Sprintf("Title %d", j),
			Author: fmt.Sprintf("Author %d", j%7),
			Year:   2000 + j%20,
		}
	})
}

func (suite *WriterTestSuite) TestWriteBooks() {
	ctx := context.Background()
	writer := NewWriter(suite.database, config.WriterConfig{BatchSize: 100, Jobs: 4})
	err := writer.WriteBooks(ctx, newBooks(250))
	suite.NoError(err)
	count, err := suite.database.CountBooks(ctx)
	suite.NoError(err)
	suite.Equal(250, count)

	// batches are disjoint isbn ranges
	suite.Len(suite.database.batches, 3)
	var sizes []int
	for _, batch := range suite.database.batches {
		sizes = append(sizes, len(batch))
		suite.IsIncreasing(batch)
	}
	suite.ElementsMatch([]int{100, 100, 50}, sizes)

	// empty input
	err = writer.WriteBooks(ctx, nil)
	suite.NoError(err)
}

func (suite *WriterTestSuite) TestWriteSimilarities() {
	ctx := context.Background()
	writer := NewWriter(suite.database, config.WriterConfig{BatchSize: 2, Jobs: 2})
	lists := []storage.SimilarityList{
		{ISBN: "0003", Neighbors: []storage.Neighbor{{SimilarISBN: "0001", Score: 0.5, Rank: 1}}},
		{ISBN: "0001", Neighbors: []storage.Neighbor{
			{SimilarISBN: "0002", Score: 0.9, Rank: 1},
			{SimilarISBN: "0003", Score: 0.5, Rank: 2},
		}},
		{ISBN: "0002", Neighbors: []storage.Neighbor{{SimilarISBN: "0001", Score: 0.9, Rank: 1}}},
	}
	err := writer.WriteSimilarities(ctx, lists)
	suite.NoError(err)
	count, err := suite.database.CountSimilarities(ctx)
	suite.NoError(err)
	suite.Equal(4, count)

	// rewriting replaces lists
	err = writer.WriteSimilarities(ctx, []storage.SimilarityList{
		{ISBN: "0001", Neighbors: []storage.Neighbor{{SimilarISBN: "0003", Score: 0.75, Rank: 1}}},
	})
	suite.NoError(err)
	neighbors, err := suite.database.GetSimilarities(ctx, "0001")
	suite.NoError(err)
	suite.Equal([]storage.Neighbor{{SimilarISBN: "0003", Score: 0.75, Rank: 1}}, neighbors)
	count, err = suite.database.CountSimilarities(ctx)
	suite.NoError(err)
	suite.Equal(3, count)
}

func (suite *WriterTestSuite) TestCollectionError() {
	suite.database.poison = "0150"
	writer := NewWriter(suite.database, config.WriterConfig{BatchSize: 100, Jobs: 1})
	err := writer.WriteBooks(context.Background(), newBooks(250))
	var collectionErr *CollectionError
	suite.Require().True(errors.As(err, &collectionErr))
	suite.Equal(storage.BooksCollection, collectionErr.Collection)
	suite.Equal(1, collectionErr.Partition)
	suite.Equal("0100", collectionErr.First)
	suite.Equal("0199", collectionErr.Last)
	suite.Contains(collectionErr.Error(), "books partition 1 [0100, 0199]")
}

func (suite *WriterTestSuite) TestCanceled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	writer := NewWriter(suite.database, config.WriterConfig{BatchSize: 10, Jobs: 4})
	err := writer.WriteBooks(ctx, newBooks(100))
	suite.ErrorIs(err, context.Canceled)
}

func TestWriter(t *testing.T) {
	suite.Run(t, new(WriterTestSuite))
}

func TestWriteRate(t *testing.T) {
	database, err := storage.Open(storage.BadgerPrefix+":memory:", "")
	require.NoError(t, err)
	defer database.Close()
	writer := NewWriter(database, config.WriterConfig{BatchSize: 100, Jobs: 1, WriteRate: 100})
	start := time.Now()
	err = writer.WriteBooks(context.Background(), newBooks(150))
	assert.NoError(t, err)
	// the first batch drains the bucket, the second waits for a refill
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}
