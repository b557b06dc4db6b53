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

// Index holds the user and item numbering of a filtered rating set.
type Index struct {
	Users *FreqDict
	Items *FreqDict
}

func (idx *Index) CountUsers() int {
	return idx.Users.Count()
}

func (idx *Index) CountItems() int {
	return idx.Items.Count()
}

// BuildIndex numbers users and items of ratings. It depends only on its input, so
// identical rating sets always produce identical indices.
func BuildIndex(ratings []Rating) (*Index, []IndexedRating) {
	userFreq := make(map[string]int)
	itemFreq := make(map[string]int)
	for _, r := range ratings {
		userFreq[r.UserId]++
		itemFreq[r.ISBN]++
	}
	idx := &Index{
		Users: NewFreqDict(userFreq),
		Items: NewFreqDict(itemFreq),
	}
	indexed := make([]IndexedRating, len(ratings))
	for i, r := range ratings {
		indexed[i] = IndexedRating{
			Rating:    r,
			UserIndex: int32(idx.Users.Id(r.UserId)),
			ItemIndex: int32(idx.Items.Id(r.ISBN)),
		}
	}
	return idx, indexed
}
