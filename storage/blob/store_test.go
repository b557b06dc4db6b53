// Copyright 2024 gorse Project Authors
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

package blob

import (
	"context"
	"io"
	"testing"

	"github.com/juju/errors"
	"github.com/shengiv/better-read/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStore writes, reads, lists and removes a blob.
func testStore(t *testing.T, store Store) {
	ctx := context.Background()

	w, err := store.Create(ctx, "test.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello world"))
	assert.NoError(t, err)
	assert.NoError(t, w.Close())

	size, err := store.Stat(ctx, "test.txt")
	assert.NoError(t, err)
	assert.Equal(t, int64(11), size)

	names, err := store.List(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []string{"test.txt"}, names)

	r, err := store.Open(ctx, "test.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.NoError(t, r.Close())

	err = store.Remove(ctx, "test.txt")
	assert.NoError(t, err)
	names, err = store.List(ctx)
	assert.NoError(t, err)
	assert.Empty(t, names)

	_, err = store.Stat(ctx, "test.txt")
	assert.True(t, errors.Is(err, errors.NotFound))
	_, err = store.Open(ctx, "test.txt")
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestOpen(t *testing.T) {
	store, err := Open("data", config.InputConfig{})
	assert.NoError(t, err)
	assert.IsType(t, &POSIX{}, store)

	store, err = Open("s3://better-read/input/", config.InputConfig{})
	assert.NoError(t, err)
	if assert.IsType(t, &S3{}, store) {
		assert.Equal(t, "better-read", store.(*S3).bucket)
		assert.Equal(t, "input", store.(*S3).prefix)
	}

	store, err = Open("azblob://better-read/input", config.InputConfig{Azure: config.AzureBlobConfig{
		AccountName: "devstoreaccount1",
		AccountKey:  "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==",
		Endpoint:    "http://127.0.0.1:10000/devstoreaccount1",
	}})
	assert.NoError(t, err)
	if assert.IsType(t, &AzureBlob{}, store) {
		assert.Equal(t, "better-read", store.(*AzureBlob).container)
		assert.Equal(t, "input", store.(*AzureBlob).prefix)
	}

	_, err = Open("hdfs://namenode/input", config.InputConfig{})
	assert.True(t, errors.Is(err, errors.NotSupported))
}

func TestSplitBucket(t *testing.T) {
	bucket, prefix := splitBucket("bucket")
	assert.Equal(t, "bucket", bucket)
	assert.Empty(t, prefix)
	bucket, prefix = splitBucket("bucket/a/b/")
	assert.Equal(t, "bucket", bucket)
	assert.Equal(t, "a/b", prefix)
}
