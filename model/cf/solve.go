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
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	maxSweeps = 100
	tolerance = 1e-8
)

// solver holds the normal equations of one least squares sub-problem. Each worker owns
// one solver, so no state is shared between concurrent solves.
type solver struct {
	a    *mat.SymDense
	b    *mat.VecDense
	x    *mat.VecDense
	v    *mat.VecDense
	chol mat.Cholesky
}

func newSolver(rank int) *solver {
	return &solver{
		a: mat.NewSymDense(rank, nil),
		b: mat.NewVecDense(rank, nil),
		x: mat.NewVecDense(rank, nil),
		v: mat.NewVecDense(rank, nil),
	}
}

// build fills A = Σ v vᵀ + λ·n·I and b = Σ r·v over the observed ratings.
func (s *solver) build(factors [][]float32, observed []feedback, reg float64) {
	s.a.Zero()
	s.b.Zero()
	for _, fb := range observed {
		for i, x := range factors[fb.index] {
			s.v.SetVec(i, float64(x))
		}
		s.a.SymRankOne(s.a, 1, s.v)
		s.b.AddScaledVec(s.b, float64(fb.rating), s.v)
	}
	lambda := reg * float64(len(observed))
	for i := 0; i < s.a.SymmetricDim(); i++ {
		s.a.SetSym(i, i, s.a.At(i, i)+lambda)
	}
}

// solve writes the solution of A x = b into dst. With nonNegative, the problem is
// min ½xᵀAx - bᵀx subject to x >= 0, solved by projected coordinate descent starting
// from dst. A matrix that is not positive definite falls back to unconstrained descent.
func (s *solver) solve(dst []float32, nonNegative bool) {
	if nonNegative {
		for i := range dst {
			s.x.SetVec(i, math.Max(float64(dst[i]), 0))
		}
		s.coordinateDescent(true)
	} else if !s.chol.Factorize(s.a) || s.chol.SolveVecTo(s.x, s.b) != nil {
		for i := range dst {
			s.x.SetVec(i, float64(dst[i]))
		}
		s.coordinateDescent(false)
	}
	for i := range dst {
		dst[i] = float32(s.x.AtVec(i))
	}
}

func (s *solver) coordinateDescent(nonNegative bool) {
	n := s.x.Len()
	for sweep := 0; sweep < maxSweeps; sweep++ {
		var delta float64
		for k := 0; k < n; k++ {
			akk := s.a.At(k, k)
			if akk <= 0 {
				continue
			}
			grad := -s.b.AtVec(k)
			for j := 0; j < n; j++ {
				grad += s.a.At(k, j) * s.x.AtVec(j)
			}
			xk := s.x.AtVec(k)
			next := xk - grad/akk
			if nonNegative && next < 0 {
				next = 0
			}
			delta = math.Max(delta, math.Abs(next-xk))
			s.x.SetVec(k, next)
		}
		if delta < tolerance {
			return
		}
	}
}
