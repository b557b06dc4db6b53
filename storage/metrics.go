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

package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OperationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "better_read",
		Subsystem: "storage",
		Name:      "operation_seconds",
	}, []string{"collection", "operation"})
	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "better_read",
		Subsystem: "storage",
		Name:      "retries_total",
	}, []string{"collection", "operation"})
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "better_read",
		Subsystem: "storage",
		Name:      "errors_total",
	}, []string{"collection", "operation"})
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "better_read",
		Subsystem: "storage",
		Name:      "breaker_state",
		Help:      "0 closed, 1 half-open, 2 open",
	}, []string{"collection"})
)
