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

package floats

import (
	"github.com/chewxy/math32"
)

// Dot two vectors.
func Dot(a, b []float32) (ret float32) {
	if len(a) != len(b) {
		panic("floats: slice lengths do not match")
	}
	for i := range a {
		ret += a[i] * b[i]
	}
	return
}

// Norm returns the Euclidean length of a.
func Norm(a []float32) float32 {
	return math32.Sqrt(Dot(a, a))
}

// Normalize returns a unit-length copy of a. A zero vector stays zero.
func Normalize(a []float32) []float32 {
	ret := make([]float32, len(a))
	n := Norm(a)
	if n == 0 {
		return ret
	}
	for i := range a {
		ret[i] = a[i] / n
	}
	return ret
}

// IsZero reports whether every element of a is zero.
func IsZero(a []float32) bool {
	for _, v := range a {
		if v != 0 {
			return false
		}
	}
	return true
}

