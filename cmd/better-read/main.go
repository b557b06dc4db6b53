// Copyright 2020 gorse Project Authors
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
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/juju/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/shengiv/better-read/cmd/version"
	"github.com/shengiv/better-read/common/log"
	"github.com/shengiv/better-read/config"
	"github.com/shengiv/better-read/master"
	"github.com/shengiv/better-read/storage"
	"github.com/shengiv/better-read/storage/blob"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "better-read",
	Short: "Offline job building similar book lists from Book-Crossing ratings.",
}

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Train item factors and write similar books to the database.",
	Run: func(cmd *cobra.Command, args []string) {
		conf := setup(cmd)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		// setup trace provider
		tp, err := conf.Tracing.NewTracerProvider()
		if err != nil {
			log.Logger().Fatal("failed to create trace provider", zap.Error(err))
		}
		otel.SetTracerProvider(tp)
		otel.SetErrorHandler(log.GetErrorHandler())
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
		defer shutdownTracerProvider(tp)

		// open input and artifact stores
		input, err := blob.Open(conf.Input.Path, conf.Input)
		if err != nil {
			log.Logger().Fatal("failed to open input", zap.String("path", conf.Input.Path), zap.Error(err))
		}
		artifact := input
		if conf.Output.ArtifactPath != "" {
			artifact, err = blob.Open(conf.Output.ArtifactPath, conf.Input)
			if err != nil {
				log.Logger().Fatal("failed to open artifact store", zap.String("path", conf.Output.ArtifactPath), zap.Error(err))
			}
		}

		database, err := openDatabase(ctx, conf)
		if err != nil {
			log.Logger().Fatal("failed to open database", zap.String("database", log.RedactDBURL(conf.Database.URL)), zap.Error(err))
		}

		pipeline := master.NewPipeline(conf, input, artifact, database)
		if showProgress, _ := cmd.Flags().GetBool("progress"); showProgress {
			pipeline.Monitor.SetListener(newProgressListener(master.TaskBuildSimilarities))
		}
		report, runErr := pipeline.Run(ctx)
		if err = master.PrintReport(os.Stdout, report); err != nil {
			log.Logger().Error("failed to print report", zap.Error(err))
		}
		if err = master.PushMetrics(conf.Metrics.PushGateway, conf.Metrics.JobName); err != nil {
			log.Logger().Error("failed to push metrics", zap.Error(err))
		}
		if err = database.Close(); err != nil {
			log.Logger().Error("failed to close database", zap.Error(err))
		}
		if runErr != nil {
			shutdownTracerProvider(tp)
			log.Logger().Fatal("run failed", zap.String("status", report.Status), zap.Error(runErr))
		}
	},
}

var verifyInputCommand = &cobra.Command{
	Use:   "verify-input",
	Short: "Check that the input files exist and are not truncated.",
	Run: func(cmd *cobra.Command, args []string) {
		conf := setup(cmd)
		input, err := blob.Open(conf.Input.Path, conf.Input)
		if err != nil {
			log.Logger().Fatal("failed to open input", zap.String("path", conf.Input.Path), zap.Error(err))
		}
		if err = master.VerifyInput(context.Background(), input, conf); err != nil {
			log.Logger().Fatal("input verification failed", zap.Error(err))
		}
	},
}

var verifyOutputCommand = &cobra.Command{
	Use:   "verify-output",
	Short: "Check that the last run succeeded and wrote enough records.",
	Run: func(cmd *cobra.Command, args []string) {
		conf := setup(cmd)
		ctx := context.Background()
		database, err := openDatabase(ctx, conf)
		if err != nil {
			log.Logger().Fatal("failed to open database", zap.String("database", log.RedactDBURL(conf.Database.URL)), zap.Error(err))
		}
		err = master.VerifyOutput(ctx, database, conf.Verify)
		if closeErr := database.Close(); closeErr != nil {
			log.Logger().Error("failed to close database", zap.Error(closeErr))
		}
		if err != nil {
			log.Logger().Fatal("output verification failed", zap.Error(err))
		}
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Show the version of better-read.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.BuildInfo())
	},
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	runCommand.Flags().Bool("progress", false, "show progress of the similarity stage")
	rootCommand.AddCommand(runCommand, verifyInputCommand, verifyOutputCommand, versionCommand)
}

// setup the logger and load the configuration.
func setup(cmd *cobra.Command) *config.Config {
	debug, _ := cmd.Flags().GetBool("debug")
	log.SetLogger(cmd.Flags(), debug)
	configPath, _ := cmd.Flags().GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		log.Logger().Fatal("failed to load config", zap.Error(err))
	}
	return conf
}

// openDatabase opens and initializes the database behind a retrying proxy.
func openDatabase(ctx context.Context, conf *config.Config) (storage.Database, error) {
	database, err := storage.Open(conf.Database.URL, conf.Database.TablePrefix,
		storage.WithMaxOpenConns(conf.Writer.Jobs+1),
		storage.WithMaxIdleConns(conf.Writer.Jobs+1))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err = database.Init(ctx); err != nil {
		_ = database.Close()
		return nil, errors.Trace(err)
	}
	return storage.NewProxy(database,
		storage.RetryOptions{
			InitialInterval: conf.Database.Retry.InitialInterval,
			MaxInterval:     conf.Database.Retry.MaxInterval,
			MaxElapsedTime:  conf.Database.Retry.MaxElapsedTime,
			MaxTries:        conf.Database.Retry.MaxTries,
		},
		storage.BreakerOptions{
			FailureThreshold: conf.Database.Breaker.FailureThreshold,
			Timeout:          conf.Database.Breaker.Timeout,
		}), nil
}

// newProgressListener draws a progress bar for one task.
func newProgressListener(name string) func(master.Task) {
	var (
		mu  sync.Mutex
		bar *progressbar.ProgressBar
	)
	return func(task master.Task) {
		if task.Name != name {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		switch task.Status {
		case master.TaskStatusRunning:
			if bar == nil || task.Done == 0 {
				bar = progressbar.Default(int64(task.Total), task.Name)
			}
			_ = bar.Set(task.Done)
		case master.TaskStatusComplete, master.TaskStatusFailed:
			if bar != nil {
				_ = bar.Finish()
				bar = nil
			}
		}
	}
}

func shutdownTracerProvider(tp any) {
	if p, ok := tp.(interface{ Shutdown(context.Context) error }); ok {
		if err := p.Shutdown(context.Background()); err != nil {
			log.Logger().Error("failed to shutdown trace provider", zap.Error(err))
		}
	}
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
