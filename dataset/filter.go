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
	"context"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/shengiv/better-read/common/parallel"
)

// SequentialThresholds is the only filtering policy: users are counted on explicit
// ratings and filtered first, then items are counted on the survivors and filtered.
// Per-user counts may drop below the threshold after the item pass, and no second pass
// corrects that.
const SequentialThresholds = "sequential"

// QualityFilter removes implicit feedback and inactive users and items.
type QualityFilter struct {
	MinUserRatings int
	MinItemRatings int
	// Partitions is the number of chunks counted concurrently.
	Partitions int
	Jobs       int
}

// FilterStats describes the size of the rating set after each step.
type FilterStats struct {
	Input     int
	Explicit  int
	AfterUser int
	AfterItem int
	Users     int
	Items     int
}

// Filter applies SequentialThresholds to ratings. The output keeps the input order.
func (f *QualityFilter) Filter(ctx context.Context, ratings []RawRating) ([]Rating, FilterStats, error) {
	stats := FilterStats{Input: len(ratings)}

	// drop implicit feedback
	explicit := make([]Rating, 0, len(ratings))
	for _, r := range ratings {
		if r.Rating > 0 {
			explicit = append(explicit, Rating(r))
		}
	}
	stats.Explicit = len(explicit)

	// drop inactive users
	userCount, err := f.count(ctx, explicit, func(r Rating) string { return r.UserId })
	if err != nil {
		return nil, stats, errors.Trace(err)
	}
	afterUser := lo.Filter(explicit, func(r Rating, _ int) bool {
		return userCount[r.UserId] >= f.MinUserRatings
	})
	stats.AfterUser = len(afterUser)

	// drop inactive items, counted on what the user pass kept
	itemCount, err := f.count(ctx, afterUser, func(r Rating) string { return r.ISBN })
	if err != nil {
		return nil, stats, errors.Trace(err)
	}
	afterItem := lo.Filter(afterUser, func(r Rating, _ int) bool {
		return itemCount[r.ISBN] >= f.MinItemRatings
	})
	stats.AfterItem = len(afterItem)

	users, items := mapset.NewThreadUnsafeSet[string](), mapset.NewThreadUnsafeSet[string]()
	for _, r := range afterItem {
		users.Add(r.UserId)
		items.Add(r.ISBN)
	}
	stats.Users, stats.Items = users.Cardinality(), items.Cardinality()
	return afterItem, stats, nil
}

// count counts ratings per key. Partitions are counted concurrently and merged, so the
// result is the global count.
func (f *QualityFilter) count(ctx context.Context, ratings []Rating, key func(Rating) string) (map[string]int, error) {
	partitions := parallel.Split(ratings, max(f.Partitions, 1))
	partial := make([]map[string]int, len(partitions))
	err := parallel.For(ctx, len(partitions), max(f.Jobs, 1), func(i int) {
		counts := make(map[string]int)
		for _, r := range partitions[i] {
			counts[key(r)]++
		}
		partial[i] = counts
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	total := make(map[string]int)
	for _, counts := range partial {
		for k, n := range counts {
			total[k] += n
		}
	}
	return total, nil
}
