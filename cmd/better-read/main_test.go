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

package main

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/shengiv/better-read/config"
	"github.com/shengiv/better-read/master"
	"github.com/shengiv/better-read/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDatabase(t *testing.T) {
	ctx := context.Background()
	conf := config.GetDefaultConfig()
	conf.Database.URL = storage.BadgerPrefix + ":memory:"
	database, err := openDatabase(ctx, conf)
	require.NoError(t, err)
	defer database.Close()
	assert.IsType(t, &storage.Proxy{}, database)
	require.NoError(t, database.SetMeta(ctx, master.MetaLastRun, master.RunStatusSuccess))
	status, err := database.GetMeta(ctx, master.MetaLastRun)
	assert.NoError(t, err)
	assert.Equal(t, master.RunStatusSuccess, status)

	conf.Database.URL = "cassandra://localhost:9042"
	_, err = openDatabase(ctx, conf)
	assert.True(t, errors.Is(err, errors.NotSupported), err)
}

func TestProgressListener(t *testing.T) {
	monitor := master.NewTaskMonitor()
	monitor.SetListener(newProgressListener(master.TaskBuildSimilarities))
	tracker := monitor.NewTaskTracker(master.TaskBuildSimilarities)
	tracker.Start(3)
	for i := 0; i < 3; i++ {
		tracker.Add()
	}
	tracker.Finish()
	monitor.Start(master.TaskWriteBooks, 1)
	assert.Equal(t, 3, monitor.Get(master.TaskBuildSimilarities))
}

func TestCommands(t *testing.T) {
	names := make([]string, 0)
	for _, cmd := range rootCommand.Commands() {
		names = append(names, cmd.Name())
	}
	assert.Subset(t, names, []string{"run", "verify-input", "verify-output", "version"})
	assert.NotNil(t, rootCommand.PersistentFlags().Lookup("log-path"))
	assert.NotNil(t, runCommand.Flags().Lookup("progress"))
}
