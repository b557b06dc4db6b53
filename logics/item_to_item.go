// Copyright 2024 gorse Project Authors
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

package logics

import (
	"context"
	"reflect"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/shengiv/better-read/common/floats"
	"github.com/shengiv/better-read/common/log"
	"github.com/shengiv/better-read/common/parallel"
	"github.com/shengiv/better-read/dataset"
	"github.com/shengiv/better-read/model/cf"
	"go.uber.org/zap"
)

type ItemToItemConfig struct {
	K    int
	Jobs int
	// Filter is a boolean expression over "source" and "candidate" books. Candidates
	// evaluating to false are skipped.
	Filter string
}

// SimilarityEdge links a book to one of its neighbors.
type SimilarityEdge struct {
	ISBN          string
	SimilarISBN   string
	SimilarTitle  string
	SimilarAuthor string
	Score         float32
	Rank          int
}

// ItemResult is the neighbor list of one book, or the reason it could not be built.
type ItemResult struct {
	ISBN      string
	ItemIndex int32
	Edges     []SimilarityEdge
	Err       error
}

type Report struct {
	Results []ItemResult
}

func (r *Report) Succeeded() []ItemResult {
	return lo.Filter(r.Results, func(result ItemResult, _ int) bool {
		return result.Err == nil
	})
}

func (r *Report) Failed() []ItemResult {
	return lo.Filter(r.Results, func(result ItemResult, _ int) bool {
		return result.Err != nil
	})
}

// Edges returns edges of all succeeded items.
func (r *Report) Edges() []SimilarityEdge {
	var edges []SimilarityEdge
	for _, result := range r.Results {
		edges = append(edges, result.Edges...)
	}
	return edges
}

// ItemToItem builds top-K neighbor lists by cosine similarity of item factors.
type ItemToItem struct {
	k          int
	jobs       int
	filterFunc *vm.Program
	progress   func()
}

func NewItemToItem(cfg ItemToItemConfig) (*ItemToItem, error) {
	if cfg.K <= 0 {
		return nil, errors.NotValidf("k %d", cfg.K)
	}
	// Compile filter expression
	var filterFunc *vm.Program
	if cfg.Filter != "" {
		var err error
		filterFunc, err = expr.Compile(cfg.Filter, expr.Env(map[string]any{
			"source":    dataset.RawBook{},
			"candidate": dataset.RawBook{},
		}))
		if err != nil {
			return nil, errors.Annotatef(err, "failed to compile filter %q", cfg.Filter)
		}
		if filterFunc.Node().Type().Kind() != reflect.Bool {
			return nil, errors.NotValidf("filter %q must return bool", cfg.Filter)
		}
	}
	return &ItemToItem{
		k:          cfg.K,
		jobs:       max(cfg.Jobs, 1),
		filterFunc: filterFunc,
	}, nil
}

// SetProgress registers a callback invoked once per processed item. It may be called
// from several goroutines.
func (m *ItemToItem) SetProgress(progress func()) {
	m.progress = progress
}

// candidate is an item that may appear in neighbor lists.
type candidate struct {
	index  int32
	isbn   string
	vector []float32
	book   dataset.RawBook
	// hasBook is false if the item has no metadata.
	hasBook bool
	// hasVector is false if the factor does not match the rank.
	hasVector bool
}

// Build computes the neighbor lists of all items in vectors. Each source is compared with
// every other item, so the cost is O(N² · rank). Candidates are ranked by descending
// score and equal scores keep ascending item index order. Candidates without metadata or
// rejected by the filter are skipped and do not count toward K.
//
// A failure of one item is recorded in its ItemResult and does not stop the others.
// Only cancellation of ctx returns an error.
func (m *ItemToItem) Build(ctx context.Context, vectors []cf.FactorVector, items *dataset.FreqDict, books map[string]dataset.RawBook) (*Report, error) {
	vectors = append([]cf.FactorVector(nil), vectors...)
	sort.SliceStable(vectors, func(i, j int) bool {
		return vectors[i].Index < vectors[j].Index
	})
	rank := 0
	if len(vectors) > 0 {
		rank = len(vectors[0].Vector)
	}
	candidates := make([]candidate, len(vectors))
	for i, v := range vectors {
		c := candidate{index: v.Index}
		c.isbn, _ = items.String(int(v.Index))
		c.book, c.hasBook = books[c.isbn]
		c.hasVector = len(v.Vector) == rank && rank > 0
		if c.hasVector {
			c.vector = floats.Normalize(v.Vector)
		}
		candidates[i] = c
	}

	// per worker buffers
	scores := make([][]float32, m.jobs)
	orders := make([][]int, m.jobs)
	for i := 0; i < m.jobs; i++ {
		scores[i] = make([]float32, len(candidates))
		orders[i] = make([]int, 0, len(candidates))
	}
	report := &Report{Results: make([]ItemResult, len(candidates))}
	err := parallel.Parallel(ctx, len(candidates), m.jobs, func(workerId, jobId int) error {
		report.Results[jobId] = m.buildItem(candidates, jobId, scores[workerId], orders[workerId])
		if m.progress != nil {
			m.progress()
		}
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	failed := report.Failed()
	for _, result := range failed {
		log.Logger().Warn("failed to build neighbors",
			zap.String("isbn", result.ISBN),
			zap.Int32("item_index", result.ItemIndex),
			zap.Error(result.Err))
	}
	log.Logger().Info("build item-to-item neighbors complete",
		zap.Int("n_items", len(candidates)),
		zap.Int("n_succeeded", len(candidates)-len(failed)),
		zap.Int("n_failed", len(failed)))
	return report, nil
}

func (m *ItemToItem) buildItem(candidates []candidate, source int, scores []float32, order []int) ItemResult {
	src := candidates[source]
	result := ItemResult{ISBN: src.isbn, ItemIndex: src.index}
	if src.isbn == "" {
		result.Err = errors.NotFoundf("isbn of item %d", src.index)
		return result
	}
	if !src.hasVector {
		result.Err = errors.NotValidf("factor of %s", src.isbn)
		return result
	}
	if !src.hasBook {
		result.Err = errors.NotFoundf("book %s", src.isbn)
		return result
	}

	// score all other items
	order = order[:0]
	for j := range candidates {
		if j == source || !candidates[j].hasVector {
			continue
		}
		scores[j] = clip(floats.Dot(src.vector, candidates[j].vector))
		order = append(order, j)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	// take the first K resolvable candidates
	edges := make([]SimilarityEdge, 0, m.k)
	for _, j := range order {
		if len(edges) >= m.k {
			break
		}
		c := candidates[j]
		if !c.hasBook {
			continue
		}
		if m.filterFunc != nil {
			ok, err := expr.Run(m.filterFunc, map[string]any{
				"source":    src.book,
				"candidate": c.book,
			})
			if err != nil {
				result.Err = errors.Annotatef(err, "failed to evaluate filter on %s", c.isbn)
				return result
			}
			if !ok.(bool) {
				continue
			}
		}
		edges = append(edges, SimilarityEdge{
			ISBN:          src.isbn,
			SimilarISBN:   c.isbn,
			SimilarTitle:  c.book.Title,
			SimilarAuthor: c.book.Author,
			Score:         scores[j],
			Rank:          len(edges) + 1,
		})
	}
	result.Edges = edges
	return result
}

// clip keeps rounding errors of unit vectors inside [-1, 1].
func clip(score float32) float32 {
	return min(max(score, -1), 1)
}
