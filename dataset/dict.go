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
	"sort"

	"github.com/samber/lo"
)

// FreqDict is an immutable bijection between identifiers and dense indices. Identifiers
// are numbered by descending frequency, ties broken by lexical order.
type FreqDict struct {
	si  map[string]int
	is  []string
	cnt []int
}

// NewFreqDict numbers the keys of freq.
func NewFreqDict(freq map[string]int) *FreqDict {
	is := lo.Keys(freq)
	sort.Slice(is, func(i, j int) bool {
		if freq[is[i]] != freq[is[j]] {
			return freq[is[i]] > freq[is[j]]
		}
		return is[i] < is[j]
	})
	d := &FreqDict{
		si:  make(map[string]int, len(is)),
		is:  is,
		cnt: make([]int, len(is)),
	}
	for i, s := range is {
		d.si[s] = i
		d.cnt[i] = freq[s]
	}
	return d
}

func (d *FreqDict) Count() int {
	return len(d.is)
}

// Id returns the index of s, or -1 if s is unknown.
func (d *FreqDict) Id(s string) int {
	if y, ok := d.si[s]; ok {
		return y
	}
	return -1
}

func (d *FreqDict) String(id int) (s string, ok bool) {
	if id < 0 || id >= len(d.is) {
		return "", false
	}
	return d.is[id], true
}

func (d *FreqDict) Freq(id int) int {
	if id < 0 || id >= len(d.cnt) {
		return 0
	}
	return d.cnt[id]
}

// Strings returns identifiers in index order.
func (d *FreqDict) Strings() []string {
	return d.is
}
