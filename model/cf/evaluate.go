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

import "github.com/chewxy/math32"

// Evaluate computes the root mean squared error on a test set. Ratings of users or items
// without trained factors are dropped. RMSE is zero when nothing is left to evaluate.
func (als *ALS) Evaluate(testSet *DataSet) Score {
	var score Score
	var sum float32
	for _, r := range testSet.GetRatings() {
		prediction, ok := als.Predict(r.UserIndex, r.ItemIndex)
		if !ok {
			score.Dropped++
			continue
		}
		diff := prediction - float32(r.Rating.Rating)
		sum += diff * diff
		score.Evaluated++
	}
	if score.Evaluated > 0 {
		score.RMSE = math32.Sqrt(sum / float32(score.Evaluated))
	}
	return score
}
