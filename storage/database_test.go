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
	"fmt"
	"os"
	"testing"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type baseTestSuite struct {
	suite.Suite
	Database
}

func (suite *baseTestSuite) SetupTest() {
	err := suite.Database.Purge(context.Background())
	suite.NoError(err)
}

func (suite *baseTestSuite) TearDownSuite() {
	err := suite.Database.Close()
	suite.NoError(err)
}

func newTestBook(i int) Book {
	return Book{
		ISBN:      fmt.Sprintf("%04d", i),
		Title:     fmt.Sprintf("Title %d", i),
		Author:    fmt.Sprintf("Author %d", i%3),
		Year:      1990 + i,
		Publisher: "Publisher",
	}
}

func (suite *baseTestSuite) TestBooks() {
	ctx := context.Background()
	books := []Book{newTestBook(1), newTestBook(2), newTestBook(3)}
	err := suite.Database.BatchUpsertBooks(ctx, books)
	suite.NoError(err)
	book, err := suite.Database.GetBook(ctx, "0002")
	suite.NoError(err)
	suite.Equal(books[1], book)

	// overwrite by isbn
	books[1].Title = "New Title"
	books[1].ImageURLSmall = "http://images.example.com/0002.jpg"
	err = suite.Database.BatchUpsertBooks(ctx, books[1:2])
	suite.NoError(err)
	book, err = suite.Database.GetBook(ctx, "0002")
	suite.NoError(err)
	suite.Equal(books[1], book)
	count, err := suite.Database.CountBooks(ctx)
	suite.NoError(err)
	suite.Equal(3, count)

	_, err = suite.Database.GetBook(ctx, "9999")
	suite.True(errors.Is(err, errors.NotFound))

	// empty batch
	err = suite.Database.BatchUpsertBooks(ctx, nil)
	suite.NoError(err)
}

func (suite *baseTestSuite) TestScanBooks() {
	ctx := context.Background()
	var books []Book
	for i := 24; i >= 0; i-- {
		books = append(books, newTestBook(i))
	}
	err := suite.Database.BatchUpsertBooks(ctx, books)
	suite.NoError(err)

	var (
		cursor string
		pages  int
		isbns  []string
	)
	for {
		var page []Book
		cursor, page, err = suite.Database.ScanBooks(ctx, cursor, 10)
		suite.NoError(err)
		suite.LessOrEqual(len(page), 10)
		pages++
		for _, book := range page {
			isbns = append(isbns, book.ISBN)
		}
		if cursor == "" {
			break
		}
	}
	suite.Equal(3, pages)
	suite.Equal(lo.Times(25, func(i int) string { return fmt.Sprintf("%04d", i) }), isbns)

	// default page size
	cursor, page, err := suite.Database.ScanBooks(ctx, "", 0)
	suite.NoError(err)
	suite.Len(page, DefaultPageSize)
	suite.Equal("0019", cursor)
}

func (suite *baseTestSuite) TestSimilarities() {
	ctx := context.Background()
	lists := []SimilarityList{
		{ISBN: "0001", Neighbors: []Neighbor{
			{SimilarISBN: "0002", SimilarTitle: "Title 2", SimilarAuthor: "Author 2", Score: 0.9, Rank: 1},
			{SimilarISBN: "0003", SimilarTitle: "Title 3", SimilarAuthor: "Author 0", Score: 0.5, Rank: 2},
			{SimilarISBN: "0004", SimilarTitle: "Title 4", SimilarAuthor: "Author 1", Score: 0.25, Rank: 3},
		}},
		{ISBN: "0002", Neighbors: []Neighbor{
			{SimilarISBN: "0001", SimilarTitle: "Title 1", SimilarAuthor: "Author 1", Score: 0.9, Rank: 1},
		}},
	}
	err := suite.Database.BatchReplaceSimilarities(ctx, lists)
	suite.NoError(err)
	neighbors, err := suite.Database.GetSimilarities(ctx, "0001")
	suite.NoError(err)
	suite.Equal(lists[0].Neighbors, neighbors)
	count, err := suite.Database.CountSimilarities(ctx)
	suite.NoError(err)
	suite.Equal(4, count)

	// replace never appends
	err = suite.Database.BatchReplaceSimilarities(ctx, []SimilarityList{
		{ISBN: "0001", Neighbors: []Neighbor{
			{SimilarISBN: "0005", SimilarTitle: "Title 5", SimilarAuthor: "Author 2", Score: 0.75, Rank: 1},
		}},
		{ISBN: "0002"},
	})
	suite.NoError(err)
	neighbors, err = suite.Database.GetSimilarities(ctx, "0001")
	suite.NoError(err)
	suite.Equal([]Neighbor{
		{SimilarISBN: "0005", SimilarTitle: "Title 5", SimilarAuthor: "Author 2", Score: 0.75, Rank: 1},
	}, neighbors)
	neighbors, err = suite.Database.GetSimilarities(ctx, "0002")
	suite.NoError(err)
	suite.Empty(neighbors)
	count, err = suite.Database.CountSimilarities(ctx)
	suite.NoError(err)
	suite.Equal(1, count)

	// unknown isbn
	neighbors, err = suite.Database.GetSimilarities(ctx, "9999")
	suite.NoError(err)
	suite.Empty(neighbors)
}

func (suite *baseTestSuite) TestMeta() {
	ctx := context.Background()
	_, err := suite.Database.GetMeta(ctx, "last_run")
	suite.True(errors.Is(err, errors.NotFound))
	err = suite.Database.SetMeta(ctx, "last_run", "failed:books")
	suite.NoError(err)
	err = suite.Database.SetMeta(ctx, "last_run", "success")
	suite.NoError(err)
	value, err := suite.Database.GetMeta(ctx, "last_run")
	suite.NoError(err)
	suite.Equal("success", value)
}

func (suite *baseTestSuite) TestPurge() {
	ctx := context.Background()
	err := suite.Database.BatchUpsertBooks(ctx, []Book{newTestBook(1)})
	suite.NoError(err)
	err = suite.Database.BatchReplaceSimilarities(ctx, []SimilarityList{{ISBN: "0001", Neighbors: []Neighbor{{SimilarISBN: "0002", Rank: 1}}}})
	suite.NoError(err)
	err = suite.Database.SetMeta(ctx, "last_run", "success")
	suite.NoError(err)
	err = suite.Database.Purge(ctx)
	suite.NoError(err)
	count, err := suite.Database.CountBooks(ctx)
	suite.NoError(err)
	suite.Zero(count)
	count, err = suite.Database.CountSimilarities(ctx)
	suite.NoError(err)
	suite.Zero(count)
	_, err = suite.Database.GetMeta(ctx, "last_run")
	suite.True(errors.Is(err, errors.NotFound))
}

type BadgerTestSuite struct {
	baseTestSuite
}

func (suite *BadgerTestSuite) SetupSuite() {
	var err error
	suite.Database, err = Open(BadgerPrefix+badgerMemory, "")
	suite.Require().NoError(err)
	err = suite.Database.Init(context.Background())
	suite.Require().NoError(err)
}

func TestBadger(t *testing.T) {
	suite.Run(t, new(BadgerTestSuite))
}

type SQLiteTestSuite struct {
	baseTestSuite
}

func (suite *SQLiteTestSuite) SetupSuite() {
	var err error
	suite.Database, err = Open(fmt.Sprintf("sqlite://%s/sqlite.db", suite.T().TempDir()), "better_read_")
	suite.Require().NoError(err)
	err = suite.Database.Init(context.Background())
	suite.Require().NoError(err)
}

func TestSQLite(t *testing.T) {
	suite.Run(t, new(SQLiteTestSuite))
}

// envTestSuite runs against an external database given by an environment variable.
type envTestSuite struct {
	baseTestSuite
	env string
}

func (suite *envTestSuite) SetupSuite() {
	url := os.Getenv(suite.env)
	if url == "" {
		suite.T().Skipf("%s is not set", suite.env)
	}
	var err error
	suite.Database, err = Open(url, "better_read_")
	suite.Require().NoError(err)
	err = suite.Database.Init(context.Background())
	suite.Require().NoError(err)
}

func (suite *envTestSuite) TearDownSuite() {
	if suite.Database != nil {
		suite.baseTestSuite.TearDownSuite()
	}
}

func TestRedis(t *testing.T) {
	suite.Run(t, &envTestSuite{env: "BETTER_READ_REDIS_URI"})
}

func TestMongoDB(t *testing.T) {
	suite.Run(t, &envTestSuite{env: "BETTER_READ_MONGO_URI"})
}

func TestMySQL(t *testing.T) {
	suite.Run(t, &envTestSuite{env: "BETTER_READ_MYSQL_URI"})
}

func TestPostgres(t *testing.T) {
	suite.Run(t, &envTestSuite{env: "BETTER_READ_POSTGRES_URI"})
}

func TestOpenUnknown(t *testing.T) {
	_, err := Open("cassandra://localhost:9042", "")
	assert.True(t, errors.Is(err, errors.NotSupported))
}

func TestPageSize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, PageSize(0))
	assert.Equal(t, DefaultPageSize, PageSize(-1))
	assert.Equal(t, 50, PageSize(50))
	assert.Equal(t, MaxPageSize, PageSize(1000))
}

func TestAppendURLParams(t *testing.T) {
	url, err := AppendURLParams("sqlite:///tmp/sqlite.db", []lo.Tuple2[string, string]{
		{"_pragma", "busy_timeout(10000)"},
	})
	assert.NoError(t, err)
	assert.Equal(t, "sqlite:///tmp/sqlite.db?_pragma=busy_timeout%2810000%29", url)
}

func TestAppendMySQLParams(t *testing.T) {
	dsn, err := AppendMySQLParams("root:password@tcp(localhost:3306)/better_read", map[string]string{
		"charset": "utf8mb4",
	})
	assert.NoError(t, err)
	assert.Equal(t, "root:password@tcp(localhost:3306)/better_read?charset=utf8mb4", dsn)
	// existing parameters are kept
	dsn, err = AppendMySQLParams("root:password@tcp(localhost:3306)/better_read?charset=latin1", map[string]string{
		"charset": "utf8mb4",
	})
	assert.NoError(t, err)
	assert.Equal(t, "root:password@tcp(localhost:3306)/better_read?charset=latin1", dsn)
}
