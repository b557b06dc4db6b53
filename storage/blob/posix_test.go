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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPOSIX(t *testing.T) {
	testStore(t, NewPOSIX(filepath.Join(t.TempDir(), "blob")))
}

func TestPOSIXOverwrite(t *testing.T) {
	ctx := context.Background()
	store := NewPOSIX(t.TempDir())
	for _, content := range []string{"first version", "second"} {
		w, err := store.Create(ctx, "nested/item_factors.bin")
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		assert.NoError(t, err)
		assert.NoError(t, w.Close())
	}
	size, err := store.Stat(ctx, "nested/item_factors.bin")
	assert.NoError(t, err)
	assert.Equal(t, int64(6), size)
	names, err := store.List(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []string{"nested/item_factors.bin"}, names)
}

func TestPOSIXMissingDir(t *testing.T) {
	store := NewPOSIX(filepath.Join(t.TempDir(), "missing"))
	names, err := store.List(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, names)
}
