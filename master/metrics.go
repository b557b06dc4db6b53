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

package master

import (
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/shengiv/better-read/common/log"
	"go.uber.org/zap"
)

const (
	LabelStep = "step"
	LabelData = "data"
)

var (
	StageSecondsVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "better_read",
		Subsystem: "master",
		Name:      "stage_seconds",
	}, []string{LabelStep})
	RunTotalSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "better_read",
		Subsystem: "master",
		Name:      "run_total_seconds",
	})
	RatingsTotalVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "better_read",
		Subsystem: "master",
		Name:      "ratings_total",
	}, []string{LabelData})
	UsersTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "better_read",
		Subsystem: "master",
		Name:      "users_total",
	})
	ItemsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "better_read",
		Subsystem: "master",
		Name:      "items_total",
	})
	TestRMSE = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "better_read",
		Subsystem: "master",
		Name:      "test_rmse",
	})
	SimilarityFailuresTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "better_read",
		Subsystem: "master",
		Name:      "similarity_failures_total",
	})
	SimilarityEdgesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "better_read",
		Subsystem: "master",
		Name:      "similarity_edges_total",
	})
	LastRunSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "better_read",
		Subsystem: "master",
		Name:      "last_run_success",
	})
	LastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "better_read",
		Subsystem: "master",
		Name:      "last_run_timestamp_seconds",
	})
)

// PushMetrics pushes all registered metrics to a Pushgateway.
func PushMetrics(gateway, job string) error {
	if gateway == "" {
		return nil
	}
	err := push.New(gateway, job).Gatherer(prometheus.DefaultGatherer).Push()
	if err != nil {
		return errors.Annotatef(err, "failed to push metrics to %s", gateway)
	}
	log.Logger().Info("push metrics", zap.String("gateway", gateway), zap.String("job", job))
	return nil
}
