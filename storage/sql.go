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
	"database/sql"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/samber/lo"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	_ "modernc.org/sqlite"
)

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	SQLite
)

type SQLBook struct {
	ISBN           string `gorm:"column:isbn;type:varchar(32);primaryKey"`
	Title          string `gorm:"column:title;type:text"`
	Author         string `gorm:"column:author;type:text"`
	Year           int    `gorm:"column:year"`
	Publisher      string `gorm:"column:publisher;type:text"`
	ImageURLSmall  string `gorm:"column:image_url_small;type:text"`
	ImageURLMedium string `gorm:"column:image_url_medium;type:text"`
}

// SQLSimilarity is a neighbor row. The rank column is named neighbor_rank since rank is
// reserved in MySQL.
type SQLSimilarity struct {
	ISBN          string  `gorm:"column:isbn;type:varchar(32);primaryKey"`
	SimilarISBN   string  `gorm:"column:similar_isbn;type:varchar(32);primaryKey"`
	SimilarTitle  string  `gorm:"column:similar_title;type:text"`
	SimilarAuthor string  `gorm:"column:similar_author;type:text"`
	Score         float32 `gorm:"column:score"`
	Rank          int     `gorm:"column:neighbor_rank"`
}

type SQLMeta struct {
	Name  string `gorm:"column:name;type:varchar(128);primaryKey"`
	Value string `gorm:"column:value;type:text"`
}

type SQLDatabase struct {
	TablePrefix
	client *sql.DB
	gormDB *gorm.DB
	driver SQLDriver
}

func openMySQL(name, tablePrefix string, opt Options) (*SQLDatabase, error) {
	name, err := AppendMySQLParams(name, map[string]string{
		"sql_mode":  "'ONLY_FULL_GROUP_BY,STRICT_TRANS_TABLES,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION'",
		"parseTime": "true",
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	database := &SQLDatabase{driver: MySQL, TablePrefix: TablePrefix(tablePrefix)}
	if database.client, err = otelsql.Open("mysql", name,
		otelsql.WithAttributes(semconv.DBSystemMySQL),
		otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
	); err != nil {
		return nil, errors.Trace(err)
	}
	ApplySQLPool(database.client, opt)
	database.gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: database.client}), NewGORMConfig(tablePrefix))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return database, nil
}

func openPostgres(path, tablePrefix string, opt Options) (*SQLDatabase, error) {
	var err error
	database := &SQLDatabase{driver: Postgres, TablePrefix: TablePrefix(tablePrefix)}
	if database.client, err = otelsql.Open("postgres", path,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
		otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
	); err != nil {
		return nil, errors.Trace(err)
	}
	ApplySQLPool(database.client, opt)
	database.gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: database.client}), NewGORMConfig(tablePrefix))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return database, nil
}

func openSQLite(path, tablePrefix string, opt Options) (*SQLDatabase, error) {
	path, err := AppendURLParams(path, []lo.Tuple2[string, string]{
		{"_pragma", "busy_timeout(10000)"},
		{"_pragma", "journal_mode(wal)"},
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	name := path[len(SQLitePrefix):]
	database := &SQLDatabase{driver: SQLite, TablePrefix: TablePrefix(tablePrefix)}
	if database.client, err = otelsql.Open("sqlite", name,
		otelsql.WithAttributes(semconv.DBSystemSqlite),
		otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
	); err != nil {
		return nil, errors.Trace(err)
	}
	ApplySQLPool(database.client, opt)
	database.gormDB, err = gorm.Open(&sqlite.Dialector{Conn: database.client}, NewGORMConfig(tablePrefix))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return database, nil
}

func (d *SQLDatabase) Init(ctx context.Context) error {
	return errors.Trace(d.gormDB.WithContext(ctx).AutoMigrate(&SQLBook{}, &SQLSimilarity{}, &SQLMeta{}))
}

func (d *SQLDatabase) Ping(ctx context.Context) error {
	return d.client.PingContext(ctx)
}

func (d *SQLDatabase) Close() error {
	return d.client.Close()
}

func (d *SQLDatabase) Purge(ctx context.Context) error {
	for _, model := range []any{&SQLBook{}, &SQLSimilarity{}, &SQLMeta{}} {
		if err := d.gormDB.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (d *SQLDatabase) BatchUpsertBooks(ctx context.Context, books []Book) error {
	if len(books) == 0 {
		return nil
	}
	rows := lo.Map(books, func(book Book, _ int) SQLBook {
		return SQLBook(book)
	})
	err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "isbn"}},
		UpdateAll: true,
	}).Create(&rows).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) GetBook(ctx context.Context, isbn string) (Book, error) {
	var rows []SQLBook
	if err := d.gormDB.WithContext(ctx).Where("isbn = ?", isbn).Limit(1).Find(&rows).Error; err != nil {
		return Book{}, errors.Trace(err)
	}
	if len(rows) == 0 {
		return Book{}, errors.NotFoundf("book %s", isbn)
	}
	return Book(rows[0]), nil
}

func (d *SQLDatabase) ScanBooks(ctx context.Context, cursor string, n int) (string, []Book, error) {
	n = PageSize(n)
	var rows []SQLBook
	if err := d.gormDB.WithContext(ctx).
		Where("isbn > ?", cursor).
		Order("isbn").
		Limit(n).
		Find(&rows).Error; err != nil {
		return "", nil, errors.Trace(err)
	}
	books := lo.Map(rows, func(row SQLBook, _ int) Book {
		return Book(row)
	})
	if len(books) == n {
		return books[n-1].ISBN, books, nil
	}
	return "", books, nil
}

func (d *SQLDatabase) CountBooks(ctx context.Context) (int, error) {
	var n int64
	err := d.gormDB.WithContext(ctx).Model(&SQLBook{}).Count(&n).Error
	return int(n), errors.Trace(err)
}

// BatchReplaceSimilarities deletes old neighbors and inserts new ones in one transaction.
func (d *SQLDatabase) BatchReplaceSimilarities(ctx context.Context, lists []SimilarityList) error {
	if len(lists) == 0 {
		return nil
	}
	isbns := lo.Map(lists, func(list SimilarityList, _ int) string {
		return list.ISBN
	})
	var rows []SQLSimilarity
	for _, list := range lists {
		for _, neighbor := range list.Neighbors {
			rows = append(rows, SQLSimilarity{
				ISBN:          list.ISBN,
				SimilarISBN:   neighbor.SimilarISBN,
				SimilarTitle:  neighbor.SimilarTitle,
				SimilarAuthor: neighbor.SimilarAuthor,
				Score:         neighbor.Score,
				Rank:          neighbor.Rank,
			})
		}
	}
	err := d.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("isbn IN ?", isbns).Delete(&SQLSimilarity{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 1000).Error
	})
	return errors.Trace(err)
}

func (d *SQLDatabase) GetSimilarities(ctx context.Context, isbn string) ([]Neighbor, error) {
	var rows []SQLSimilarity
	if err := d.gormDB.WithContext(ctx).
		Where("isbn = ?", isbn).
		Order("neighbor_rank").
		Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLSimilarity, _ int) Neighbor {
		return Neighbor{
			SimilarISBN:   row.SimilarISBN,
			SimilarTitle:  row.SimilarTitle,
			SimilarAuthor: row.SimilarAuthor,
			Score:         row.Score,
			Rank:          row.Rank,
		}
	}), nil
}

func (d *SQLDatabase) CountSimilarities(ctx context.Context) (int, error) {
	var n int64
	err := d.gormDB.WithContext(ctx).Model(&SQLSimilarity{}).Count(&n).Error
	return int(n), errors.Trace(err)
}

func (d *SQLDatabase) SetMeta(ctx context.Context, name, value string) error {
	err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(&SQLMeta{Name: name, Value: value}).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) GetMeta(ctx context.Context, name string) (string, error) {
	var rows []SQLMeta
	if err := d.gormDB.WithContext(ctx).Where("name = ?", name).Limit(1).Find(&rows).Error; err != nil {
		return "", errors.Trace(err)
	}
	if len(rows) == 0 {
		return "", errors.NotFoundf("meta %s", name)
	}
	return rows[0].Value, nil
}
