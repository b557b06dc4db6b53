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
	"strings"

	"github.com/juju/errors"
	"github.com/shengiv/better-read/common/log"
	"go.uber.org/zap"
)

const (
	BooksCollection        = "books"
	SimilaritiesCollection = "book_similarities"
	MetaCollection         = "meta"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageSize bounds the page size of a scan.
func PageSize(n int) int {
	if n <= 0 {
		return DefaultPageSize
	}
	return min(n, MaxPageSize)
}

// Book is a row of the books collection.
type Book struct {
	ISBN           string `json:"isbn" bson:"_id"`
	Title          string `json:"title" bson:"title"`
	Author         string `json:"author" bson:"author"`
	Year           int    `json:"year" bson:"year"`
	Publisher      string `json:"publisher" bson:"publisher"`
	ImageURLSmall  string `json:"image_url_small" bson:"image_url_small"`
	ImageURLMedium string `json:"image_url_medium" bson:"image_url_medium"`
}

// Neighbor is an entry of a similarity list.
type Neighbor struct {
	SimilarISBN   string  `json:"similar_isbn" bson:"similar_isbn"`
	SimilarTitle  string  `json:"similar_title" bson:"similar_title"`
	SimilarAuthor string  `json:"similar_author" bson:"similar_author"`
	Score         float32 `json:"score" bson:"score"`
	Rank          int     `json:"rank" bson:"rank"`
}

// SimilarityList is the ordered neighbor list of a book.
type SimilarityList struct {
	ISBN      string     `json:"isbn" bson:"_id"`
	Neighbors []Neighbor `json:"neighbors" bson:"neighbors"`
}

type Database interface {
	Init(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
	// Purge removes all books, similarity lists and metadata.
	Purge(ctx context.Context) error

	// BatchUpsertBooks inserts books or overwrites books with the same isbn.
	BatchUpsertBooks(ctx context.Context, books []Book) error
	// GetBook returns errors.NotFound if the book does not exist.
	GetBook(ctx context.Context, isbn string) (Book, error)
	// ScanBooks returns up to n books with isbn greater than cursor in isbn order. The
	// returned cursor is empty when there are no more books.
	ScanBooks(ctx context.Context, cursor string, n int) (string, []Book, error)
	CountBooks(ctx context.Context) (int, error)

	// BatchReplaceSimilarities replaces the whole neighbor list of every isbn in lists.
	// Neighbors from previous lists never survive.
	BatchReplaceSimilarities(ctx context.Context, lists []SimilarityList) error
	// GetSimilarities returns neighbors ordered by rank. Books without neighbors get an
	// empty list.
	GetSimilarities(ctx context.Context, isbn string) ([]Neighbor, error)
	// CountSimilarities returns the number of neighbors over all lists.
	CountSimilarities(ctx context.Context) (int, error)

	SetMeta(ctx context.Context, name, value string) error
	// GetMeta returns errors.NotFound if the name does not exist.
	GetMeta(ctx context.Context, name string) (string, error)
}

// Open a connection to a database.
func Open(path, tablePrefix string, opts ...Option) (Database, error) {
	option := NewOptions(opts...)
	switch {
	case strings.HasPrefix(path, BadgerPrefix):
		return openBadger(path[len(BadgerPrefix):], tablePrefix)
	case strings.HasPrefix(path, RedisPrefix), strings.HasPrefix(path, RedissPrefix):
		return openRedis(path, tablePrefix)
	case strings.HasPrefix(path, MongoPrefix), strings.HasPrefix(path, MongoSrvPrefix):
		return openMongoDB(path, tablePrefix)
	case strings.HasPrefix(path, MySQLPrefix):
		return openMySQL(path[len(MySQLPrefix):], tablePrefix, option)
	case strings.HasPrefix(path, PostgresPrefix), strings.HasPrefix(path, PostgreSQLPrefix):
		return openPostgres(path, tablePrefix, option)
	case strings.HasPrefix(path, SQLitePrefix):
		return openSQLite(path, tablePrefix, option)
	}
	log.Logger().Error("unknown database", zap.String("database", log.RedactDBURL(path)))
	return nil, errors.NotSupportedf("database %s", log.RedactDBURL(path))
}
