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
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/shengiv/better-read/common/log"
	"github.com/shengiv/better-read/config"
	"github.com/shengiv/better-read/dataset"
	"github.com/shengiv/better-read/logics"
	"github.com/shengiv/better-read/model/cf"
	"github.com/shengiv/better-read/storage"
	"github.com/shengiv/better-read/storage/blob"
	"github.com/shengiv/better-read/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	MetaLastRun     = "last_run"
	MetaLastRunId   = "last_run_id"
	MetaLastRunTime = "last_run_time"

	RunStatusSuccess = "success"
	runStatusFailed  = "failed:"
)

// RunReport summarizes a run.
type RunReport struct {
	RunId     string
	StartTime time.Time
	Duration  time.Duration
	// Status is "success" or "failed:<step>" where step names a collection for write
	// failures.
	Status string

	Filter       dataset.FilterStats
	Users        int
	Items        int
	TrainRatings int
	TestRatings  int
	Score        cf.Score

	Vectors    []cf.FactorVector
	Similarity *logics.Report

	Books int
	Lists int
	Edges int

	Tasks []Task
}

// Pipeline runs the offline job: load, filter, index, train, build neighbors and write.
type Pipeline struct {
	Config   *config.Config
	Input    blob.Store
	Artifact blob.Store
	Database storage.Database
	Monitor  *TaskMonitor
}

func NewPipeline(cfg *config.Config, input, artifact blob.Store, database storage.Database) *Pipeline {
	return &Pipeline{
		Config:   cfg,
		Input:    input,
		Artifact: artifact,
		Database: database,
		Monitor:  NewTaskMonitor(),
	}
}

// Run the pipeline once. The report is returned even if the run fails.
func (p *Pipeline) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{RunId: uuid.NewString(), StartTime: time.Now()}
	ctx, span := otel.Tracer("better-read").Start(ctx, "run",
		trace.WithAttributes(attribute.String("run_id", report.RunId)))
	defer span.End()
	logger := log.RunLogger(report.RunId)
	logger.Info("start run", zap.String("database", log.RedactDBURL(p.Config.Database.URL)))
	step, err := p.run(ctx, report)
	if err != nil {
		report.Status = runStatusFailed + step
		span.RecordError(err)
		span.SetStatus(codes.Error, report.Status)
	} else {
		report.Status = RunStatusSuccess
	}
	report.Duration = time.Since(report.StartTime)
	report.Tasks = p.Monitor.List()
	p.record(context.WithoutCancel(ctx), report)
	if err != nil {
		logger.Error("run failed",
			zap.String("status", report.Status),
			zap.Error(err))
		return report, err
	}
	logger.Info("run complete",
		zap.Duration("duration", report.Duration),
		zap.Int("n_books", report.Books),
		zap.Int("n_edges", report.Edges))
	return report, nil
}

// stage runs a tracked step and returns the step name on failure.
func (p *Pipeline) stage(name, step string, f func(tracker *TaskTracker) error) (string, error) {
	tracker := p.Monitor.NewTaskTracker(name)
	tracker.Start(0)
	start := time.Now()
	if err := f(tracker); err != nil {
		tracker.Fail(err)
		return step, err
	}
	tracker.Finish()
	StageSecondsVec.WithLabelValues(step).Set(time.Since(start).Seconds())
	return "", nil
}

func (p *Pipeline) run(ctx context.Context, report *RunReport) (string, error) {
	cfg := p.Config
	var (
		ratings []dataset.RawRating
		books   []dataset.RawBook
	)
	if step, err := p.stage(TaskLoadInput, "load", func(*TaskTracker) (err error) {
		if ratings, err = loadFile(ctx, p.Input, cfg.Input.RatingsFile, dataset.LoadRatings); err != nil {
			return err
		}
		books, err = loadFile(ctx, p.Input, cfg.Input.BooksFile, dataset.LoadBooks)
		return err
	}); err != nil {
		return step, err
	}
	log.Logger().Info("load input complete",
		zap.Int("n_ratings", len(ratings)),
		zap.Int("n_books", len(books)))

	// filter ratings
	var filtered []dataset.Rating
	if step, err := p.stage(TaskFilterRatings, "filter", func(*TaskTracker) (err error) {
		filter := &dataset.QualityFilter{
			MinUserRatings: cfg.Filter.MinUserRatings,
			MinItemRatings: cfg.Filter.MinItemRatings,
			Partitions:     cfg.Parallel.Partitions,
			Jobs:           cfg.Parallel.Jobs,
		}
		filtered, report.Filter, err = filter.Filter(ctx, ratings)
		if err != nil {
			return err
		}
		if len(filtered) == 0 {
			return errors.NotValidf("no ratings left after filtering")
		}
		return nil
	}); err != nil {
		return step, err
	}
	RatingsTotalVec.WithLabelValues("input").Set(float64(report.Filter.Input))
	RatingsTotalVec.WithLabelValues("explicit").Set(float64(report.Filter.Explicit))
	RatingsTotalVec.WithLabelValues("after_user").Set(float64(report.Filter.AfterUser))
	RatingsTotalVec.WithLabelValues("after_item").Set(float64(report.Filter.AfterItem))

	// index identifiers
	var (
		index   *dataset.Index
		indexed []dataset.IndexedRating
	)
	if step, err := p.stage(TaskIndexIdentifiers, "index", func(*TaskTracker) error {
		index, indexed = dataset.BuildIndex(filtered)
		return nil
	}); err != nil {
		return step, err
	}
	report.Users, report.Items = index.CountUsers(), index.CountItems()
	UsersTotal.Set(float64(report.Users))
	ItemsTotal.Set(float64(report.Items))

	// train factors
	params := cf.Params{
		Rank:              cfg.Train.Rank,
		Iterations:        cfg.Train.Iterations,
		Reg:               float32(cfg.Train.Reg),
		NonNegative:       cfg.Train.NonNegative,
		ColdStartStrategy: cfg.Train.ColdStartStrategy,
		InitStdDev:        float32(cfg.Train.InitStdDev),
		Seed:              cfg.Train.Seed,
	}
	var model *cf.ALS
	if step, err := p.stage(TaskTrainFactors, "train", func(tracker *TaskTracker) (err error) {
		if err = params.Validate(); err != nil {
			return err
		}
		train, test := cf.Split(indexed, cfg.Train.TestRatio, cfg.Train.Seed)
		report.TrainRatings, report.TestRatings = len(train), len(test)
		trainSet := cf.NewDataSet(report.Users, report.Items, train)
		testSet := cf.NewDataSet(report.Users, report.Items, test)
		tracker.Start(params.Iterations)
		model = cf.NewALS(params)
		report.Score, err = model.Fit(ctx, trainSet, testSet, cf.NewFitConfig().
			SetJobs(cfg.Parallel.Jobs).
			SetVerbose(cfg.Train.Verbose))
		return err
	}); err != nil {
		return step, err
	}
	report.Vectors = model.ItemFactors()
	TestRMSE.Set(float64(report.Score.RMSE))

	// save factors
	if cfg.Output.FactorsBlob != "" && p.Artifact != nil {
		if step, err := p.stage(TaskSaveFactors, "factors", func(*TaskTracker) error {
			return p.saveFactors(ctx, params, index.Items, report.Vectors)
		}); err != nil {
			return step, err
		}
	}

	// build similarities
	bookMap := dataset.BookMap(books)
	if step, err := p.stage(TaskBuildSimilarities, "similarity", func(tracker *TaskTracker) (err error) {
		itemToItem, err := logics.NewItemToItem(logics.ItemToItemConfig{
			K:      cfg.Similarity.K,
			Jobs:   cfg.Parallel.Jobs,
			Filter: cfg.Similarity.Filter,
		})
		if err != nil {
			return err
		}
		tracker.Start(len(report.Vectors))
		itemToItem.SetProgress(tracker.Add)
		report.Similarity, err = itemToItem.Build(ctx, report.Vectors, index.Items, bookMap)
		return err
	}); err != nil {
		return step, err
	}
	SimilarityFailuresTotal.Set(float64(len(report.Similarity.Failed())))

	// write books and similarities
	writer := worker.NewWriter(p.Database, cfg.Writer)
	newBooks := indexedBooks(index.Items, bookMap)
	if step, err := p.stage(TaskWriteBooks, storage.BooksCollection, func(tracker *TaskTracker) error {
		tracker.Start(len(newBooks))
		return writer.WriteBooks(ctx, newBooks)
	}); err != nil {
		return step, err
	}
	report.Books = len(newBooks)
	lists := similarityLists(report.Similarity)
	if step, err := p.stage(TaskWriteSimilarities, storage.SimilaritiesCollection, func(tracker *TaskTracker) error {
		tracker.Start(len(lists))
		return writer.WriteSimilarities(ctx, lists)
	}); err != nil {
		return step, err
	}
	report.Lists = len(lists)
	report.Edges = lo.SumBy(lists, func(list storage.SimilarityList) int { return len(list.Neighbors) })
	SimilarityEdgesTotal.Set(float64(report.Edges))
	return "", nil
}

func loadFile[T any](ctx context.Context, store blob.Store, name string, load func(io.Reader, string) ([]T, error)) ([]T, error) {
	r, err := store.Open(ctx, name)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open %s", name)
	}
	defer r.Close()
	return load(r, name)
}

func (p *Pipeline) saveFactors(ctx context.Context, params cf.Params, items *dataset.FreqDict, vectors []cf.FactorVector) error {
	name := p.Config.Output.FactorsBlob
	w, err := p.Artifact.Create(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	if err = cf.MarshalFactors(w, params, items, vectors); err != nil {
		_ = w.Close()
		return errors.Trace(err)
	}
	if err = w.Close(); err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("save item factors", zap.String("name", name), zap.Int("n_items", len(vectors)))
	return nil
}

// indexedBooks returns metadata of books that survived filtering.
func indexedBooks(items *dataset.FreqDict, books map[string]dataset.RawBook) []storage.Book {
	var result []storage.Book
	for _, isbn := range items.Strings() {
		if book, ok := books[isbn]; ok {
			result = append(result, storage.Book{
				ISBN:           book.ISBN,
				Title:          book.Title,
				Author:         book.Author,
				Year:           book.Year,
				Publisher:      book.Publisher,
				ImageURLSmall:  book.ImageURLSmall,
				ImageURLMedium: book.ImageURLMedium,
			})
		}
	}
	return result
}

func similarityLists(report *logics.Report) []storage.SimilarityList {
	succeeded := report.Succeeded()
	lists := make([]storage.SimilarityList, 0, len(succeeded))
	for _, result := range succeeded {
		lists = append(lists, storage.SimilarityList{
			ISBN: result.ISBN,
			Neighbors: lo.Map(result.Edges, func(edge logics.SimilarityEdge, _ int) storage.Neighbor {
				return storage.Neighbor{
					SimilarISBN:   edge.SimilarISBN,
					SimilarTitle:  edge.SimilarTitle,
					SimilarAuthor: edge.SimilarAuthor,
					Score:         edge.Score,
					Rank:          edge.Rank,
				}
			}),
		})
	}
	return lists
}

// record stores the run status in the database and updates run metrics.
func (p *Pipeline) record(ctx context.Context, report *RunReport) {
	RunTotalSeconds.Set(report.Duration.Seconds())
	LastRunTimestamp.Set(float64(report.StartTime.Unix()))
	if report.Status == RunStatusSuccess {
		LastRunSuccess.Set(1)
	} else {
		LastRunSuccess.Set(0)
	}
	for name, value := range map[string]string{
		MetaLastRun:     report.Status,
		MetaLastRunId:   report.RunId,
		MetaLastRunTime: report.StartTime.UTC().Format(time.RFC3339),
	} {
		if err := p.Database.SetMeta(ctx, name, value); err != nil {
			log.Logger().Error("failed to write meta", zap.String("name", name), zap.Error(err))
		}
	}
}
