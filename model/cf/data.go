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

package cf

import (
	"github.com/shengiv/better-read/common/util"
	"github.com/shengiv/better-read/dataset"
)

type feedback struct {
	index  int32
	rating float32
}

// DataSet groups indexed ratings by user and by item.
type DataSet struct {
	userFeedback [][]feedback
	itemFeedback [][]feedback
	ratings      []dataset.IndexedRating
}

// NewDataSet creates a data set over nUsers users and nItems items.
func NewDataSet(nUsers, nItems int, ratings []dataset.IndexedRating) *DataSet {
	d := &DataSet{
		userFeedback: make([][]feedback, nUsers),
		itemFeedback: make([][]feedback, nItems),
		ratings:      ratings,
	}
	for _, r := range ratings {
		d.userFeedback[r.UserIndex] = append(d.userFeedback[r.UserIndex], feedback{index: r.ItemIndex, rating: float32(r.Rating.Rating)})
		d.itemFeedback[r.ItemIndex] = append(d.itemFeedback[r.ItemIndex], feedback{index: r.UserIndex, rating: float32(r.Rating.Rating)})
	}
	return d
}

func (d *DataSet) CountUsers() int {
	return len(d.userFeedback)
}

func (d *DataSet) CountItems() int {
	return len(d.itemFeedback)
}

func (d *DataSet) CountRatings() int {
	return len(d.ratings)
}

func (d *DataSet) GetRatings() []dataset.IndexedRating {
	return d.ratings
}

// Split assigns every rating to the test set with probability testRatio. The generator is
// seeded and ratings are visited in input order, so the split is reproducible.
func Split(ratings []dataset.IndexedRating, testRatio float64, seed int64) (train, test []dataset.IndexedRating) {
	rng := util.NewRandomGenerator(seed)
	train = make([]dataset.IndexedRating, 0, int(float64(len(ratings))*(1-testRatio))+1)
	for _, r := range ratings {
		if rng.Float64() < testRatio {
			test = append(test, r)
		} else {
			train = append(train, r)
		}
	}
	return
}
