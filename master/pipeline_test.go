// Copyright 2021 gorse Project Authors
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

package master

import (
	"context"
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jaswdr/faker"
	"github.com/juju/errors"
	"github.com/shengiv/better-read/config"
	"github.com/shengiv/better-read/dataset"
	"github.com/shengiv/better-read/logics"
	"github.com/shengiv/better-read/model/cf"
	"github.com/shengiv/better-read/storage"
	"github.com/shengiv/better-read/storage/blob"
	"github.com/shengiv/better-read/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	numTestUsers = 40
	numTestBooks = 15
	// orphanISBN is rated by everyone but missing from the books file.
	orphanISBN = "9999999999"
)

func testISBN(i int) string {
	return fmt.Sprintf("%010d", i+1)
}

// writeTestInput writes synthetic Books.csv and Ratings.csv to dir.
func writeTestInput(t *testing.T, dir string) {
	fake := faker.NewWithSeed(rand.NewSource(0))
	rng := rand.New(rand.NewSource(1))

	books, err := os.Create(filepath.Join(dir, "Books.csv"))
	require.NoError(t, err)
	w := csv.NewWriter(books)
	require.NoError(t, w.Write([]string{"ISBN", "Book-Title", "Book-Author", "Year-Of-Publication", "Publisher", "Image-URL-S", "Image-URL-M", "Image-URL-L"}))
	for i := 0; i < numTestBooks; i++ {
		isbn := testISBN(i)
		require.NoError(t, w.Write([]string{
			isbn,
			fake.Lorem().Sentence(3),
			fake.Person().Name(),
			strconv.Itoa(fake.IntBetween(1950, 2020)),
			fake.Company().Name(),
			"http://images.example.com/" + isbn + ".S.jpg",
			"http://images.example.com/" + isbn + ".M.jpg",
			"http://images.example.com/" + isbn + ".L.jpg",
		}))
	}
	w.Flush()
	require.NoError(t, w.Error())
	require.NoError(t, books.Close())

	ratings, err := os.Create(filepath.Join(dir, "Ratings.csv"))
	require.NoError(t, err)
	w = csv.NewWriter(ratings)
	require.NoError(t, w.Write([]string{"User-ID", "ISBN", "Book-Rating"}))
	for u := 0; u < numTestUsers; u++ {
		userId := strconv.Itoa(1000 + u)
		for _, i := range rng.Perm(numTestBooks)[:8] {
			require.NoError(t, w.Write([]string{userId, testISBN(i), strconv.Itoa(1 + rng.Intn(10))}))
		}
		// implicit interaction
		require.NoError(t, w.Write([]string{userId, testISBN(rng.Intn(numTestBooks)), "0"}))
		require.NoError(t, w.Write([]string{userId, orphanISBN, strconv.Itoa(1 + rng.Intn(10))}))
	}
	w.Flush()
	require.NoError(t, w.Error())
	require.NoError(t, ratings.Close())
}

func newTestConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Filter.MinUserRatings = 3
	cfg.Filter.MinItemRatings = 3
	cfg.Train.Rank = 4
	cfg.Train.Iterations = 5
	cfg.Train.Verbose = 0
	cfg.Similarity.K = 5
	cfg.Writer.BatchSize = 4
	cfg.Writer.Jobs = 2
	cfg.Parallel.Partitions = 3
	cfg.Parallel.Jobs = 2
	cfg.Output.FactorsBlob = "factors.bin"
	return cfg
}

type PipelineTestSuite struct {
	suite.Suite
	dir      string
	config   *config.Config
	store    blob.Store
	database storage.Database
}

func (suite *PipelineTestSuite) SetupTest() {
	suite.dir = suite.T().TempDir()
	writeTestInput(suite.T(), suite.dir)
	suite.config = newTestConfig()
	suite.store = blob.NewPOSIX(suite.dir)
	var err error
	suite.database, err = storage.Open(storage.BadgerPrefix+":memory:", "")
	suite.Require().NoError(err)
	suite.Require().NoError(suite.database.Init(context.Background()))
}

func (suite *PipelineTestSuite) TearDownTest() {
	suite.NoError(suite.database.Close())
}

func (suite *PipelineTestSuite) run(database storage.Database) (*RunReport, error) {
	return NewPipeline(suite.config, suite.store, suite.store, database).Run(context.Background())
}

func (suite *PipelineTestSuite) TestRun() {
	ctx := context.Background()
	report, err := suite.run(suite.database)
	suite.Require().NoError(err)
	suite.Equal(RunStatusSuccess, report.Status)
	suite.NotEmpty(report.RunId)
	suite.Equal(numTestUsers*10, report.Filter.Input)
	suite.Equal(numTestUsers*9, report.Filter.Explicit)
	suite.Equal(numTestUsers, report.Users)
	suite.Equal(numTestBooks+1, report.Items)
	suite.Equal(report.Filter.AfterItem, report.TrainRatings+report.TestRatings)

	// books without metadata are not written
	suite.Equal(numTestBooks, report.Books)
	count, err := suite.database.CountBooks(ctx)
	suite.NoError(err)
	suite.Equal(numTestBooks, count)
	book, err := suite.database.GetBook(ctx, testISBN(0))
	suite.NoError(err)
	suite.Equal("http://images.example.com/"+testISBN(0)+".M.jpg", book.ImageURLMedium)
	_, err = suite.database.GetBook(ctx, orphanISBN)
	suite.True(errors.Is(err, errors.NotFound), err)

	// neighbor lists
	suite.Equal(numTestBooks, report.Lists)
	suite.Equal(numTestBooks*5, report.Edges)
	suite.Len(report.Similarity.Failed(), 1)
	suite.Equal(orphanISBN, report.Similarity.Failed()[0].ISBN)
	neighbors, err := suite.database.GetSimilarities(ctx, testISBN(0))
	suite.NoError(err)
	suite.Len(neighbors, 5)
	for i, neighbor := range neighbors {
		suite.Equal(i+1, neighbor.Rank)
		suite.NotEqual(testISBN(0), neighbor.SimilarISBN)
		suite.NotEqual(orphanISBN, neighbor.SimilarISBN)
		suite.NotEmpty(neighbor.SimilarTitle)
		if i > 0 {
			suite.LessOrEqual(neighbor.Score, neighbors[i-1].Score)
		}
	}
	edges, err := suite.database.CountSimilarities(ctx)
	suite.NoError(err)
	suite.Equal(report.Edges, edges)

	// run status
	status, err := suite.database.GetMeta(ctx, MetaLastRun)
	suite.NoError(err)
	suite.Equal(RunStatusSuccess, status)
	runId, err := suite.database.GetMeta(ctx, MetaLastRunId)
	suite.NoError(err)
	suite.Equal(report.RunId, runId)
	runTime, err := suite.database.GetMeta(ctx, MetaLastRunTime)
	suite.NoError(err)
	_, err = time.Parse(time.RFC3339, runTime)
	suite.NoError(err)

	// tasks
	suite.Len(report.Tasks, len(taskOrder))
	for _, task := range report.Tasks {
		suite.Equal(TaskStatusComplete, task.Status, task.Name)
	}
}

func (suite *PipelineTestSuite) TestDeterministic() {
	first, err := suite.run(suite.database)
	suite.Require().NoError(err)
	second, err := suite.run(suite.database)
	suite.Require().NoError(err)
	suite.NotEqual(first.RunId, second.RunId)
	suite.Equal(first.Vectors, second.Vectors)
	suite.Equal(first.Score, second.Score)
	suite.Equal(first.Similarity.Edges(), second.Similarity.Edges())
}

func (suite *PipelineTestSuite) TestReplaceSimilarities() {
	ctx := context.Background()
	_, err := suite.run(suite.database)
	suite.Require().NoError(err)
	suite.config.Similarity.K = 2
	_, err = suite.run(suite.database)
	suite.Require().NoError(err)
	neighbors, err := suite.database.GetSimilarities(ctx, testISBN(3))
	suite.NoError(err)
	suite.Len(neighbors, 2)
	edges, err := suite.database.CountSimilarities(ctx)
	suite.NoError(err)
	suite.Equal(numTestBooks*2, edges)
}

func (suite *PipelineTestSuite) TestFactors() {
	report, err := suite.run(suite.database)
	suite.Require().NoError(err)
	r, err := suite.store.Open(context.Background(), suite.config.Output.FactorsBlob)
	suite.Require().NoError(err)
	defer r.Close()
	factors, err := cf.UnmarshalFactors(r)
	suite.Require().NoError(err)
	suite.Equal(suite.config.Train.Rank, factors.Params.Rank)
	suite.Equal(suite.config.Train.Seed, factors.Params.Seed)
	suite.Require().Len(factors.Vectors, len(report.Vectors))
	for i, vector := range report.Vectors {
		suite.Equal(vector.Vector, factors.Vectors[i])
	}
	suite.Contains(factors.ISBN, orphanISBN)
	suite.Contains(factors.ISBN, testISBN(0))
}

func (suite *PipelineTestSuite) TestMissingInput() {
	suite.config.Input.RatingsFile = "Missing.csv"
	report, err := suite.run(suite.database)
	suite.True(errors.Is(err, errors.NotFound), err)
	suite.Equal("failed:load", report.Status)
	status, err := suite.database.GetMeta(context.Background(), MetaLastRun)
	suite.NoError(err)
	suite.Equal("failed:load", status)
	suite.Equal(TaskStatusFailed, report.Tasks[0].Status)
	suite.Equal(TaskStatusPending, report.Tasks[1].Status)
}

func (suite *PipelineTestSuite) TestEmptyAfterFilter() {
	suite.config.Filter.MinUserRatings = 1000
	report, err := suite.run(suite.database)
	suite.True(errors.Is(err, errors.NotValid), err)
	suite.Equal("failed:filter", report.Status)
}

// brokenSimilarities fails to replace neighbor lists.
type brokenSimilarities struct {
	storage.Database
}

func (brokenSimilarities) BatchReplaceSimilarities(context.Context, []storage.SimilarityList) error {
	return errors.New("connection reset")
}

func (suite *PipelineTestSuite) TestWriteFailure() {
	report, err := suite.run(brokenSimilarities{suite.database})
	suite.Error(err)
	var collectionErr *worker.CollectionError
	suite.Require().ErrorAs(err, &collectionErr)
	suite.Equal(storage.SimilaritiesCollection, collectionErr.Collection)
	suite.Equal("failed:"+storage.SimilaritiesCollection, report.Status)

	// books are written before neighbor lists
	count, err := suite.database.CountBooks(context.Background())
	suite.NoError(err)
	suite.Equal(numTestBooks, count)
	status, err := suite.database.GetMeta(context.Background(), MetaLastRun)
	suite.NoError(err)
	suite.Equal("failed:book_similarities", status)
}

func (suite *PipelineTestSuite) TestCanceled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := NewPipeline(suite.config, suite.store, suite.store, suite.database).Run(ctx)
	suite.ErrorIs(err, context.Canceled)
	suite.NotEqual(RunStatusSuccess, report.Status)
	status, err := suite.database.GetMeta(context.Background(), MetaLastRun)
	suite.NoError(err)
	suite.Equal(report.Status, status)
}

func TestPipeline(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}

func TestIndexedBooks(t *testing.T) {
	items := dataset.NewFreqDict(map[string]int{"a": 3, "b": 2, "c": 1})
	books := indexedBooks(items, map[string]dataset.RawBook{
		"a": {ISBN: "a", Title: "A", ImageURLLarge: "a.L.jpg"},
		"c": {ISBN: "c", Title: "C", Year: 1999},
		"d": {ISBN: "d", Title: "D"},
	})
	assert.ElementsMatch(t, []storage.Book{
		{ISBN: "a", Title: "A"},
		{ISBN: "c", Title: "C", Year: 1999},
	}, books)
}

func TestSimilarityLists(t *testing.T) {
	lists := similarityLists(&logics.Report{Results: []logics.ItemResult{
		{ISBN: "a", Edges: []logics.SimilarityEdge{{ISBN: "a", SimilarISBN: "b", SimilarTitle: "B", Score: 0.5, Rank: 1}}},
		{ISBN: "b", Err: errors.NotFoundf("book b")},
		{ISBN: "c"},
	}})
	assert.Equal(t, []storage.SimilarityList{
		{ISBN: "a", Neighbors: []storage.Neighbor{{SimilarISBN: "b", SimilarTitle: "B", Score: 0.5, Rank: 1}}},
		{ISBN: "c", Neighbors: []storage.Neighbor{}},
	}, lists)
}
