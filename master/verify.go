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

	"github.com/juju/errors"
	"github.com/shengiv/better-read/common/log"
	"github.com/shengiv/better-read/config"
	"github.com/shengiv/better-read/storage"
	"github.com/shengiv/better-read/storage/blob"
	"go.uber.org/zap"
)

// VerifyInput checks that both input files exist and are not truncated.
func VerifyInput(ctx context.Context, store blob.Store, cfg *config.Config) error {
	for _, name := range []string{cfg.Input.BooksFile, cfg.Input.RatingsFile} {
		size, err := store.Stat(ctx, name)
		if err != nil {
			return errors.Annotatef(err, "failed to stat %s", name)
		}
		if size < cfg.Verify.MinInputBytes {
			return errors.NotValidf("%s has %d bytes, expected at least %d", name, size, cfg.Verify.MinInputBytes)
		}
		log.Logger().Info("input verified", zap.String("name", name), zap.Int64("size", size))
	}
	return nil
}

// VerifyOutput checks that the last run succeeded and wrote enough records.
func VerifyOutput(ctx context.Context, database storage.Database, cfg config.VerifyConfig) error {
	status, err := database.GetMeta(ctx, MetaLastRun)
	if err != nil {
		return errors.Annotate(err, "failed to read last run")
	}
	if status != RunStatusSuccess {
		return errors.NotValidf("last run status %q", status)
	}
	nBooks, err := database.CountBooks(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if nBooks < cfg.MinBooks {
		return errors.NotValidf("%d books, expected at least %d", nBooks, cfg.MinBooks)
	}
	nEdges, err := database.CountSimilarities(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if nEdges < cfg.MinSimilarities {
		return errors.NotValidf("%d similarities, expected at least %d", nEdges, cfg.MinSimilarities)
	}
	log.Logger().Info("output verified", zap.Int("n_books", nBooks), zap.Int("n_similarities", nEdges))
	return nil
}
