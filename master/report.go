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
	"fmt"
	"io"
	"strconv"

	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/shengiv/better-read/common/encoding"
)

// PrintReport writes the task table and run summary of a report.
func PrintReport(w io.Writer, report *RunReport) error {
	tasks := tablewriter.NewWriter(w)
	tasks.Header("task", "status", "progress", "duration", "error")
	for _, task := range report.Tasks {
		if err := tasks.Append([]string{
			task.Name,
			task.Status,
			fmt.Sprintf("%d/%d", task.Done, task.Total),
			task.Duration().String(),
			task.Error,
		}); err != nil {
			return errors.Trace(err)
		}
	}
	if err := tasks.Render(); err != nil {
		return errors.Trace(err)
	}

	summary := tablewriter.NewWriter(w)
	summary.Header("stat", "value")
	rows := [][]string{
		{"run_id", report.RunId},
		{"status", report.Status},
		{"duration", report.Duration.String()},
		{"input_ratings", strconv.Itoa(report.Filter.Input)},
		{"explicit_ratings", strconv.Itoa(report.Filter.Explicit)},
		{"filtered_ratings", strconv.Itoa(report.Filter.AfterItem)},
		{"users", strconv.Itoa(report.Users)},
		{"items", strconv.Itoa(report.Items)},
		{"train_ratings", strconv.Itoa(report.TrainRatings)},
		{"test_ratings", strconv.Itoa(report.TestRatings)},
		{"test_rmse", encoding.FormatFloat32(report.Score.RMSE)},
		{"dropped_test_ratings", strconv.Itoa(report.Score.Dropped)},
		{"zero_vectors", strconv.Itoa(report.Score.ZeroVectors)},
		{"books", strconv.Itoa(report.Books)},
		{"similarity_lists", strconv.Itoa(report.Lists)},
		{"similarity_edges", strconv.Itoa(report.Edges)},
	}
	if report.Similarity != nil {
		rows = append(rows, []string{"similarity_failures", strconv.Itoa(len(report.Similarity.Failed()))})
	}
	for _, row := range rows {
		if err := summary.Append(row); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(summary.Render())
}
