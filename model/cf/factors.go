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
	"encoding/binary"
	"io"

	"github.com/juju/errors"
	"github.com/shengiv/better-read/common/encoding"
	"github.com/shengiv/better-read/dataset"
)

// maxPreallocItems caps the capacity reserved from the item count of a snapshot.
const maxPreallocItems = 1 << 16

// Factors is a snapshot of trained item factors keyed by isbn.
type Factors struct {
	Params  Params
	ISBN    []string
	Vectors [][]float32
}

// MarshalFactors writes params followed by (isbn, vector) records of trained items.
func MarshalFactors(w io.Writer, params Params, items *dataset.FreqDict, vectors []FactorVector) error {
	// write params
	if err := encoding.WriteGob(w, params); err != nil {
		return errors.Trace(err)
	}
	// write item count
	if err := binary.Write(w, binary.LittleEndian, int64(len(vectors))); err != nil {
		return errors.Trace(err)
	}
	// write item factors
	for _, v := range vectors {
		isbn, ok := items.String(int(v.Index))
		if !ok {
			return errors.NotFoundf("item index %d", v.Index)
		}
		if len(v.Vector) != params.Rank {
			return errors.NotValidf("factor of %s has length %d, rank is %d", isbn, len(v.Vector), params.Rank)
		}
		if err := encoding.WriteString(w, isbn); err != nil {
			return errors.Trace(err)
		}
		if err := binary.Write(w, binary.LittleEndian, v.Vector); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// UnmarshalFactors reads a snapshot written by MarshalFactors.
func UnmarshalFactors(r io.Reader) (*Factors, error) {
	var factors Factors
	// read params
	if err := encoding.ReadGob(r, &factors.Params); err != nil {
		return nil, errors.Trace(err)
	}
	if factors.Params.Rank <= 0 {
		return nil, errors.NotValidf("rank %d", factors.Params.Rank)
	}
	// read item count
	var count int64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, errors.Trace(err)
	}
	if count < 0 {
		return nil, errors.NotValidf("item count %d", count)
	}
	// read item factors
	capacity := min(count, maxPreallocItems)
	factors.ISBN = make([]string, 0, capacity)
	factors.Vectors = make([][]float32, 0, capacity)
	for i := int64(0); i < count; i++ {
		isbn, err := encoding.ReadString(r)
		if err != nil {
			return nil, errors.Trace(err)
		}
		vector := make([]float32, factors.Params.Rank)
		if err = binary.Read(r, binary.LittleEndian, vector); err != nil {
			return nil, errors.Trace(err)
		}
		factors.ISBN = append(factors.ISBN, isbn)
		factors.Vectors = append(factors.Vectors, vector)
	}
	return &factors, nil
}
