// Copyright 2025 gorse Project Authors
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

package dataset

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/samber/lo"
)

const (
	columnUserId    = "user_id"
	columnISBN      = "isbn"
	columnRating    = "rating"
	columnTitle     = "title"
	columnAuthor    = "author"
	columnYear      = "year"
	columnPublisher = "publisher"
	columnImageS    = "image_url_small"
	columnImageM    = "image_url_medium"
	columnImageL    = "image_url_large"
)

// columnAliases maps normalized header names to columns.
var columnAliases = map[string]string{
	"userid":            columnUserId,
	"user":              columnUserId,
	"isbn":              columnISBN,
	"rating":            columnRating,
	"bookrating":        columnRating,
	"title":             columnTitle,
	"booktitle":         columnTitle,
	"author":            columnAuthor,
	"bookauthor":        columnAuthor,
	"year":              columnYear,
	"yearofpublication": columnYear,
	"publisher":         columnPublisher,
	"imageurls":         columnImageS,
	"imageurlsmall":     columnImageS,
	"imageurlm":         columnImageM,
	"imageurlmedium":    columnImageM,
	"imageurll":         columnImageL,
	"imageurllarge":     columnImageL,
}

func normalizeHeader(name string) string {
	name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", "")
	return strings.ReplaceAll(name, "_", "")
}

// table is a header-aware CSV reader. Errors carry the file name, the line and the column.
type table struct {
	name    string
	reader  *csv.Reader
	columns map[string]int
	record  []string
}

func newTable(name string, r io.Reader, required ...string) (*table, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true
	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.NotValidf("%s: empty file", name)
	} else if err != nil {
		return nil, errors.Annotatef(err, "failed to read header of %s", name)
	}
	t := &table{name: name, reader: reader, columns: make(map[string]int)}
	for i, field := range header {
		if column, ok := columnAliases[normalizeHeader(field)]; ok {
			if _, exist := t.columns[column]; !exist {
				t.columns[column] = i
			}
		}
	}
	missing := lo.Filter(required, func(column string, _ int) bool {
		_, ok := t.columns[column]
		return !ok
	})
	if len(missing) > 0 {
		return nil, errors.NotValidf("%s: missing columns %v in header", name, missing)
	}
	return t, nil
}

// next reads the next record. It returns false at the end of the file.
func (t *table) next() (bool, error) {
	record, err := t.reader.Read()
	if err == io.EOF {
		return false, nil
	} else if err != nil {
		return false, errors.Annotatef(err, "failed to read %s", t.name)
	}
	t.record = record
	return true, nil
}

func (t *table) line() int {
	line, _ := t.reader.FieldPos(0)
	return line
}

func (t *table) optional(column string) string {
	i, ok := t.columns[column]
	if !ok || i >= len(t.record) {
		return ""
	}
	return strings.TrimSpace(t.record[i])
}

func (t *table) required(column string) (string, error) {
	value := t.optional(column)
	if value == "" {
		return "", errors.NotValidf("%s line %d: empty %s", t.name, t.line(), column)
	}
	return value, nil
}

func (t *table) int(column string) (int, error) {
	value, err := t.required(column)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.NotValidf("%s line %d: %s %q", t.name, t.line(), column, value)
	}
	return n, nil
}

// LoadRatings reads ratings from a CSV stream. Every row must carry a user, an isbn and an
// integer rating of at most 10. Non-positive ratings are kept for the filter to drop.
func LoadRatings(r io.Reader, name string) ([]RawRating, error) {
	t, err := newTable(name, r, columnUserId, columnISBN, columnRating)
	if err != nil {
		return nil, err
	}
	var ratings []RawRating
	for {
		ok, err := t.next()
		if err != nil {
			return nil, err
		} else if !ok {
			return ratings, nil
		}
		var rating RawRating
		if rating.UserId, err = t.required(columnUserId); err != nil {
			return nil, err
		}
		if rating.ISBN, err = t.required(columnISBN); err != nil {
			return nil, err
		}
		if rating.Rating, err = t.int(columnRating); err != nil {
			return nil, err
		}
		if rating.Rating > MaxRating {
			return nil, errors.NotValidf("%s line %d: rating %d out of range", name, t.line(), rating.Rating)
		}
		ratings = append(ratings, rating)
	}
}

// LoadBooks reads books from a CSV stream. Publisher and image URLs are optional.
func LoadBooks(r io.Reader, name string) ([]RawBook, error) {
	t, err := newTable(name, r, columnISBN, columnTitle, columnAuthor, columnYear)
	if err != nil {
		return nil, err
	}
	var books []RawBook
	for {
		ok, err := t.next()
		if err != nil {
			return nil, err
		} else if !ok {
			return books, nil
		}
		var book RawBook
		if book.ISBN, err = t.required(columnISBN); err != nil {
			return nil, err
		}
		if book.Title, err = t.required(columnTitle); err != nil {
			return nil, err
		}
		if book.Author, err = t.required(columnAuthor); err != nil {
			return nil, err
		}
		if book.Year, err = t.int(columnYear); err != nil {
			return nil, err
		}
		book.Publisher = t.optional(columnPublisher)
		book.ImageURLSmall = t.optional(columnImageS)
		book.ImageURLMedium = t.optional(columnImageM)
		book.ImageURLLarge = t.optional(columnImageL)
		books = append(books, book)
	}
}
