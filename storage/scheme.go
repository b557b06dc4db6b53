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
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/shengiv/better-read/common/log"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

const (
	BadgerPrefix     = "badger://"
	MySQLPrefix      = "mysql://"
	MongoPrefix      = "mongodb://"
	MongoSrvPrefix   = "mongodb+srv://"
	PostgresPrefix   = "postgres://"
	PostgreSQLPrefix = "postgresql://"
	SQLitePrefix     = "sqlite://"
	RedisPrefix      = "redis://"
	RedissPrefix     = "rediss://"
)

func AppendURLParams(rawURL string, params []lo.Tuple2[string, string]) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Trace(err)
	}
	q := parsed.Query()
	for _, tuple := range params {
		q.Add(tuple.A, tuple.B)
	}
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

func AppendMySQLParams(dsn string, params map[string]string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", errors.Trace(err)
	}
	if cfg.Params == nil {
		cfg.Params = make(map[string]string)
	}
	for key, value := range params {
		if _, exist := cfg.Params[key]; !exist {
			cfg.Params[key] = value
		}
	}
	return cfg.FormatDSN(), nil
}

type TablePrefix string

func (tp TablePrefix) BooksTable() string {
	return string(tp) + BooksCollection
}

func (tp TablePrefix) SimilaritiesTable() string {
	return string(tp) + SimilaritiesCollection
}

func (tp TablePrefix) MetaTable() string {
	return string(tp) + MetaCollection
}

func (tp TablePrefix) Key(key string) string {
	return string(tp) + key
}

// BookKey is the key of a book in key-value stores.
func (tp TablePrefix) BookKey(isbn string) string {
	return string(tp) + BooksCollection + "/" + isbn
}

// SimilaritiesKey is the key of a neighbor list in key-value stores.
func (tp TablePrefix) SimilaritiesKey(isbn string) string {
	return string(tp) + SimilaritiesCollection + "/" + isbn
}

func (tp TablePrefix) MetaKey(name string) string {
	return string(tp) + MetaCollection + "/" + name
}

// gormWriter prints gorm logs through zap.
type gormWriter struct {
	*zap.SugaredLogger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.Warnf(format, args...)
}

func NewGORMConfig(tablePrefix string) *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(gormWriter{log.Logger().Sugar()}, logger.Config{
			SlowThreshold:             10 * time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		CreateBatchSize:        1000,
		SkipDefaultTransaction: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   tablePrefix,
			SingularTable: true,
			NameReplacer: strings.NewReplacer(
				"SQLBook", "Books",
				"SQLSimilarity", "BookSimilarities",
				"SQLMeta", "Meta",
			),
		},
	}
}
