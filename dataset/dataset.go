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

// MaxRating is the upper bound of a rating. Zero means the user interacted with the
// book without giving an opinion.
const MaxRating = 10

// RawRating is a row of the ratings file.
type RawRating struct {
	UserId string
	ISBN   string
	Rating int
}

// RawBook is a row of the books file.
type RawBook struct {
	ISBN           string
	Title          string
	Author         string
	Year           int
	Publisher      string
	ImageURLSmall  string
	ImageURLMedium string
	ImageURLLarge  string
}

// Rating is an explicit rating that survived the quality filter.
type Rating struct {
	UserId string
	ISBN   string
	Rating int
}

// IndexedRating is a Rating with dense user and item indices.
type IndexedRating struct {
	Rating
	UserIndex int32
	ItemIndex int32
}

// BookMap indexes books by isbn. Duplicated isbn keep the first row.
func BookMap(books []RawBook) map[string]RawBook {
	m := make(map[string]RawBook, len(books))
	for _, book := range books {
		if _, exist := m[book.ISBN]; !exist {
			m[book.ISBN] = book
		}
	}
	return m
}
