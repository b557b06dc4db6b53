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
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/juju/errors"
	"github.com/shengiv/better-read/config"
	"github.com/shengiv/better-read/storage"
	"github.com/shengiv/better-read/storage/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyInput(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.GetDefaultConfig()
	cfg.Verify.MinInputBytes = 10
	store := blob.NewPOSIX(dir)

	// missing
	err := VerifyInput(ctx, store, cfg)
	assert.True(t, errors.Is(err, errors.NotFound), err)

	// truncated
	require.NoError(t, os.WriteFile(filepath.Join(dir, cfg.Input.BooksFile), []byte("ISBN,Book-Title\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, cfg.Input.RatingsFile), []byte("ISBN"), 0644))
	err = VerifyInput(ctx, store, cfg)
	assert.True(t, errors.Is(err, errors.NotValid), err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, cfg.Input.RatingsFile), []byte("User-ID,ISBN,Book-Rating\n"), 0644))
	assert.NoError(t, VerifyInput(ctx, store, cfg))
}

func TestVerifyOutput(t *testing.T) {
	ctx := context.Background()
	database, err := storage.Open(storage.BadgerPrefix+":memory:", "")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, database.Init(ctx))
	cfg := config.VerifyConfig{MinBooks: 2, MinSimilarities: 1}

	// never run
	err = VerifyOutput(ctx, database, cfg)
	assert.True(t, errors.Is(err, errors.NotFound), err)

	// failed run
	require.NoError(t, database.SetMeta(ctx, MetaLastRun, "failed:train"))
	err = VerifyOutput(ctx, database, cfg)
	assert.True(t, errors.Is(err, errors.NotValid), err)

	// not enough books
	require.NoError(t, database.SetMeta(ctx, MetaLastRun, RunStatusSuccess))
	require.NoError(t, database.BatchUpsertBooks(ctx, []storage.Book{{ISBN: "1", Title: "A"}}))
	err = VerifyOutput(ctx, database, cfg)
	assert.True(t, errors.Is(err, errors.NotValid), err)

	// not enough similarities
	require.NoError(t, database.BatchUpsertBooks(ctx, []storage.Book{{ISBN: "2", Title: "B"}}))
	err = VerifyOutput(ctx, database, cfg)
	assert.True(t, errors.Is(err, errors.NotValid), err)

	require.NoError(t, database.BatchReplaceSimilarities(ctx, []storage.SimilarityList{
		{ISBN: "1", Neighbors: []storage.Neighbor{{SimilarISBN: "2", SimilarTitle: "B", Score: 0.9, Rank: 1}}},
	}))
	assert.NoError(t, VerifyOutput(ctx, database, cfg))
}
