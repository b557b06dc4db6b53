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
	"strings"

	"github.com/juju/errors"
	"github.com/shengiv/better-read/config"
)

const (
	S3Prefix    = "s3://"
	GCSPrefix   = "gs://"
	AzurePrefix = "azblob://"
)

// Store reads and writes named blobs under a location.
type Store interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Create returns a writer whose Close blocks until the blob is stored.
	Create(ctx context.Context, name string) (io.WriteCloser, error)
	// Stat returns the size of a blob or errors.NotFound.
	Stat(ctx context.Context, name string) (int64, error)
	List(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, name string) error
}

// Open a blob store. The path is a local directory or a bucket URL with an optional prefix.
func Open(path string, cfg config.InputConfig) (Store, error) {
	switch {
	case strings.HasPrefix(path, S3Prefix):
		bucket, prefix := splitBucket(path[len(S3Prefix):])
		return NewS3(cfg.S3, bucket, prefix)
	case strings.HasPrefix(path, GCSPrefix):
		bucket, prefix := splitBucket(path[len(GCSPrefix):])
		return NewGCS(cfg.GCS, bucket, prefix)
	case strings.HasPrefix(path, AzurePrefix):
		container, prefix := splitBucket(path[len(AzurePrefix):])
		return NewAzureBlob(cfg.Azure, container, prefix)
	case strings.Contains(path, "://"):
		return nil, errors.NotSupportedf("blob store %s", path)
	}
	return NewPOSIX(path), nil
}

func splitBucket(s string) (string, string) {
	bucket, prefix, _ := strings.Cut(s, "/")
	return bucket, strings.Trim(prefix, "/")
}

// uploadWriter feeds a pipe consumed by an upload goroutine.
type uploadWriter struct {
	*io.PipeWriter
	done chan error
}

func newUploadWriter(upload func(r io.Reader) error) *uploadWriter {
	pr, pw := io.Pipe()
	w := &uploadWriter{PipeWriter: pw, done: make(chan error, 1)}
	go func() {
		err := upload(pr)
		_ = pr.CloseWithError(err)
		w.done <- err
	}()
	return w
}

func (w *uploadWriter) Close() error {
	if err := w.PipeWriter.Close(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(<-w.done)
}

func trimPrefix(name, prefix string) string {
	name = strings.TrimPrefix(name, prefix)
	return strings.TrimPrefix(name, "/")
}
