// Copyright 2025 gorse Project Authors
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
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/juju/errors"
	"github.com/shengiv/better-read/common/log"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type RetryOptions struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxTries        uint
}

type BreakerOptions struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// Timeout is the period of the open state.
	Timeout time.Duration
}

// Proxy retries calls to a database and guards each collection with a circuit breaker.
// Not-found and not-valid errors are returned immediately.
type Proxy struct {
	Database
	retry    RetryOptions
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewProxy(database Database, retry RetryOptions, breaker BreakerOptions) *Proxy {
	p := &Proxy{
		Database: database,
		retry:    retry,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
	for _, collection := range []string{BooksCollection, SimilaritiesCollection, MetaCollection} {
		p.breakers[collection] = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        collection,
			MaxRequests: 1,
			Timeout:     breaker.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breaker.FailureThreshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || isPermanent(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				BreakerState.WithLabelValues(name).Set(float64(to))
				log.Logger().Warn("circuit breaker state changed",
					zap.String("collection", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
	}
	return p
}

func isPermanent(err error) bool {
	return errors.Is(err, errors.NotFound) || errors.Is(err, errors.NotValid) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func call[T any](ctx context.Context, p *Proxy, collection, operation string, f func() (T, error)) (T, error) {
	start := time.Now()
	defer func() {
		OperationSeconds.WithLabelValues(collection, operation).Observe(time.Since(start).Seconds())
	}()
	b := backoff.NewExponentialBackOff()
	if p.retry.InitialInterval > 0 {
		b.InitialInterval = p.retry.InitialInterval
	}
	if p.retry.MaxInterval > 0 {
		b.MaxInterval = p.retry.MaxInterval
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithNotify(func(err error, d time.Duration) {
			RetriesTotal.WithLabelValues(collection, operation).Inc()
			log.Logger().Warn("retry store operation",
				zap.String("collection", collection),
				zap.String("operation", operation),
				zap.Duration("backoff", d),
				zap.Error(err))
		}),
	}
	if p.retry.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.retry.MaxElapsedTime))
	}
	if p.retry.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(p.retry.MaxTries))
	}
	result, err := backoff.Retry(ctx, func() (T, error) {
		var zero T
		v, err := p.breakers[collection].Execute(func() (any, error) {
			return f()
		})
		if err != nil {
			if isPermanent(err) {
				return zero, backoff.Permanent(err)
			}
			return zero, err
		}
		return v.(T), nil
	}, opts...)
	if err != nil && !errors.Is(err, errors.NotFound) {
		ErrorsTotal.WithLabelValues(collection, operation).Inc()
	}
	return result, err
}

func exec(ctx context.Context, p *Proxy, collection, operation string, f func() error) error {
	_, err := call(ctx, p, collection, operation, func() (struct{}, error) {
		return struct{}{}, f()
	})
	return err
}

func (p *Proxy) BatchUpsertBooks(ctx context.Context, books []Book) error {
	return exec(ctx, p, BooksCollection, "batch_upsert", func() error {
		return p.Database.BatchUpsertBooks(ctx, books)
	})
}

func (p *Proxy) GetBook(ctx context.Context, isbn string) (Book, error) {
	return call(ctx, p, BooksCollection, "get", func() (Book, error) {
		return p.Database.GetBook(ctx, isbn)
	})
}

func (p *Proxy) ScanBooks(ctx context.Context, cursor string, n int) (string, []Book, error) {
	type page struct {
		cursor string
		books  []Book
	}
	result, err := call(ctx, p, BooksCollection, "scan", func() (page, error) {
		next, books, err := p.Database.ScanBooks(ctx, cursor, n)
		return page{cursor: next, books: books}, err
	})
	return result.cursor, result.books, err
}

func (p *Proxy) CountBooks(ctx context.Context) (int, error) {
	return call(ctx, p, BooksCollection, "count", func() (int, error) {
		return p.Database.CountBooks(ctx)
	})
}

func (p *Proxy) BatchReplaceSimilarities(ctx context.Context, lists []SimilarityList) error {
	return exec(ctx, p, SimilaritiesCollection, "batch_replace", func() error {
		return p.Database.BatchReplaceSimilarities(ctx, lists)
	})
}

func (p *Proxy) GetSimilarities(ctx context.Context, isbn string) ([]Neighbor, error) {
	return call(ctx, p, SimilaritiesCollection, "get", func() ([]Neighbor, error) {
		return p.Database.GetSimilarities(ctx, isbn)
	})
}

func (p *Proxy) CountSimilarities(ctx context.Context) (int, error) {
	return call(ctx, p, SimilaritiesCollection, "count", func() (int, error) {
		return p.Database.CountSimilarities(ctx)
	})
}

func (p *Proxy) SetMeta(ctx context.Context, name, value string) error {
	return exec(ctx, p, MetaCollection, "set", func() error {
		return p.Database.SetMeta(ctx, name, value)
	})
}

func (p *Proxy) GetMeta(ctx context.Context, name string) (string, error) {
	return call(ctx, p, MetaCollection, "get", func() (string, error) {
		return p.Database.GetMeta(ctx, name)
	})
}
