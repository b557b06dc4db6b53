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
	"context"
	"fmt"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/juju/errors"
	"github.com/shengiv/better-read/common/floats"
	"github.com/shengiv/better-read/common/log"
	"github.com/shengiv/better-read/common/parallel"
	"github.com/shengiv/better-read/common/util"
	"go.uber.org/zap"
)

// ColdStartDrop excludes evaluation rows whose user or item was not trained.
const ColdStartDrop = "drop"

// Params are the hyper-parameters of ALS.
type Params struct {
	Rank              int
	Iterations        int
	Reg               float32
	NonNegative       bool
	ColdStartStrategy string
	InitStdDev        float32
	Seed              int64
}

func DefaultParams() Params {
	return Params{
		Rank:              10,
		Iterations:        10,
		Reg:               0.1,
		NonNegative:       true,
		ColdStartStrategy: ColdStartDrop,
		InitStdDev:        0.1,
		Seed:              42,
	}
}

func (p Params) Validate() error {
	if p.Rank <= 0 {
		return errors.NotValidf("rank %d", p.Rank)
	}
	if p.Iterations <= 0 {
		return errors.NotValidf("iterations %d", p.Iterations)
	}
	if p.Reg < 0 {
		return errors.NotValidf("regularization %v", p.Reg)
	}
	if p.ColdStartStrategy != ColdStartDrop {
		return errors.NotSupportedf("cold start strategy %q", p.ColdStartStrategy)
	}
	return nil
}

type Score struct {
	RMSE float32
	// Evaluated is the number of test ratings scored.
	Evaluated int
	// Dropped is the number of test ratings excluded by the cold start strategy.
	Dropped int
	// ZeroVectors is the number of trained items whose factors are all zeros.
	ZeroVectors int
}

type FitConfig struct {
	Jobs    int
	Verbose int
}

func NewFitConfig() *FitConfig {
	return &FitConfig{
		Jobs:    1,
		Verbose: 10,
	}
}

func (config *FitConfig) SetVerbose(verbose int) *FitConfig {
	config.Verbose = verbose
	return config
}

func (config *FitConfig) SetJobs(jobs int) *FitConfig {
	config.Jobs = jobs
	return config
}

// FactorVector is the latent factor of a trained item.
type FactorVector struct {
	Index  int32
	Vector []float32
}

// ALS is the alternating least squares matrix factorization for explicit ratings with
// weighted-λ regularization [1]. The user step solves, for every user u,
//
//	(Q_uᵀ Q_u + λ n_u I) p_u = Q_uᵀ r_u
//
// where Q_u holds the factors of items rated by u and n_u is the number of these items.
// The item step is symmetric.
//
// [1] Zhou, Yunhong, et al. "Large-scale parallel collaborative filtering for the netflix
// prize." International conference on algorithmic applications in management. 2008.
type ALS struct {
	Params
	UserFactor  [][]float32 // p_u
	ItemFactor  [][]float32 // q_i
	UserTrained *bitset.BitSet
	ItemTrained *bitset.BitSet
}

// NewALS creates an ALS model.
func NewALS(params Params) *ALS {
	return &ALS{Params: params}
}

func (als *ALS) Init(trainSet *DataSet) {
	rng := util.NewRandomGenerator(als.Seed)
	if als.NonNegative {
		als.ItemFactor = rng.AbsNormalMatrix(trainSet.CountItems(), als.Rank, als.InitStdDev)
		als.UserFactor = rng.AbsNormalMatrix(trainSet.CountUsers(), als.Rank, als.InitStdDev)
	} else {
		als.ItemFactor = rng.NormalMatrix(trainSet.CountItems(), als.Rank, 0, als.InitStdDev)
		als.UserFactor = rng.NormalMatrix(trainSet.CountUsers(), als.Rank, 0, als.InitStdDev)
	}
	// set trained flags
	als.UserTrained = bitset.New(uint(trainSet.CountUsers()))
	for userIndex, observed := range trainSet.userFeedback {
		if len(observed) > 0 {
			als.UserTrained.Set(uint(userIndex))
		}
	}
	als.ItemTrained = bitset.New(uint(trainSet.CountItems()))
	for itemIndex, observed := range trainSet.itemFeedback {
		if len(observed) > 0 {
			als.ItemTrained.Set(uint(itemIndex))
		}
	}
}

// Fit the ALS model. Sub-problems of one step only read the factors of the other side,
// so the result does not depend on config.Jobs.
func (als *ALS) Fit(ctx context.Context, trainSet, testSet *DataSet, config *FitConfig) (Score, error) {
	if err := als.Params.Validate(); err != nil {
		return Score{}, errors.Trace(err)
	}
	log.Logger().Info("fit als",
		zap.Int("train_set_size", trainSet.CountRatings()),
		zap.Int("test_set_size", testSet.CountRatings()),
		zap.Any("params", als.Params),
		zap.Int("jobs", config.Jobs))
	als.Init(trainSet)
	solvers := make([]*solver, max(config.Jobs, 1))
	for i := range solvers {
		solvers[i] = newSolver(als.Rank)
	}
	reg := float64(als.Reg)

	var score Score
	for ep := 1; ep <= als.Iterations; ep++ {
		fitStart := time.Now()
		// Update user factors
		if err := parallel.Parallel(ctx, trainSet.CountUsers(), len(solvers), func(workerId, userIndex int) error {
			if observed := trainSet.userFeedback[userIndex]; len(observed) > 0 {
				solvers[workerId].build(als.ItemFactor, observed, reg)
				solvers[workerId].solve(als.UserFactor[userIndex], als.NonNegative)
			}
			return nil
		}); err != nil {
			return Score{}, errors.Trace(err)
		}
		// Update item factors
		if err := parallel.Parallel(ctx, trainSet.CountItems(), len(solvers), func(workerId, itemIndex int) error {
			if observed := trainSet.itemFeedback[itemIndex]; len(observed) > 0 {
				solvers[workerId].build(als.UserFactor, observed, reg)
				solvers[workerId].solve(als.ItemFactor[itemIndex], als.NonNegative)
			}
			return nil
		}); err != nil {
			return Score{}, errors.Trace(err)
		}
		fitTime := time.Since(fitStart)
		// Cross validation
		if (config.Verbose > 0 && ep%config.Verbose == 0) || ep == als.Iterations {
			evalStart := time.Now()
			score = als.Evaluate(testSet)
			log.Logger().Debug(fmt.Sprintf("fit als %v/%v", ep, als.Iterations),
				zap.String("fit_time", fitTime.String()),
				zap.String("eval_time", time.Since(evalStart).String()),
				zap.Float32("rmse", score.RMSE),
				zap.Int("evaluated", score.Evaluated),
				zap.Int("dropped", score.Dropped))
		}
	}

	score.ZeroVectors = als.countZeroItemFactors()
	if score.ZeroVectors > 0 {
		log.Logger().Warn("some item factors are all zeros",
			zap.Int("zero_vectors", score.ZeroVectors),
			zap.Uint("trained_items", als.ItemTrained.Count()))
	}
	log.Logger().Info("fit als complete",
		zap.Float32("rmse", score.RMSE),
		zap.Int("evaluated", score.Evaluated),
		zap.Int("dropped", score.Dropped))
	return score, nil
}

// Predict the rating of an item by a user. ok is false if either was not trained.
func (als *ALS) Predict(userIndex, itemIndex int32) (rating float32, ok bool) {
	if !als.IsUserTrained(userIndex) || !als.IsItemTrained(itemIndex) {
		return 0, false
	}
	return floats.Dot(als.UserFactor[userIndex], als.ItemFactor[itemIndex]), true
}

func (als *ALS) IsUserTrained(userIndex int32) bool {
	return als.UserTrained != nil && userIndex >= 0 && als.UserTrained.Test(uint(userIndex))
}

func (als *ALS) IsItemTrained(itemIndex int32) bool {
	return als.ItemTrained != nil && itemIndex >= 0 && als.ItemTrained.Test(uint(itemIndex))
}

// ItemFactors returns copies of the factors of trained items in ascending index order.
func (als *ALS) ItemFactors() []FactorVector {
	vectors := make([]FactorVector, 0, als.ItemTrained.Count())
	for i, ok := als.ItemTrained.NextSet(0); ok; i, ok = als.ItemTrained.NextSet(i + 1) {
		vectors = append(vectors, FactorVector{
			Index:  int32(i),
			Vector: append([]float32(nil), als.ItemFactor[i]...),
		})
	}
	return vectors
}

func (als *ALS) countZeroItemFactors() int {
	count := 0
	for i, ok := als.ItemTrained.NextSet(0); ok; i, ok = als.ItemTrained.NextSet(i + 1) {
		if floats.IsZero(als.ItemFactor[i]) {
			count++
		}
	}
	return count
}
