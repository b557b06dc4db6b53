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

package config

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/juju/errors"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config is the configuration of a pipeline run.
type Config struct {
	Input      InputConfig      `mapstructure:"input"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Filter     FilterConfig     `mapstructure:"filter"`
	Train      TrainConfig      `mapstructure:"train"`
	Similarity SimilarityConfig `mapstructure:"similarity"`
	Writer     WriterConfig     `mapstructure:"writer"`
	Parallel   ParallelConfig   `mapstructure:"parallel"`
	Output     OutputConfig     `mapstructure:"output"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Verify     VerifyConfig     `mapstructure:"verify"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// InputConfig locates Books.csv and Ratings.csv. Path is a local directory or a
// bucket URL: s3://bucket/prefix, gs://bucket/prefix, azblob://container/prefix.
type InputConfig struct {
	Path        string          `mapstructure:"path" validate:"required"`
	BooksFile   string          `mapstructure:"books_file" validate:"required"`
	RatingsFile string          `mapstructure:"ratings_file" validate:"required"`
	S3          S3Config        `mapstructure:"s3"`
	GCS         GCSConfig       `mapstructure:"gcs"`
	Azure       AzureBlobConfig `mapstructure:"azure"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type GCSConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
}

type AzureBlobConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
}

// DatabaseConfig is the configuration of the key-value store receiving the outputs.
type DatabaseConfig struct {
	URL         string        `mapstructure:"url" validate:"required"`
	TablePrefix string        `mapstructure:"table_prefix"`
	Retry       RetryConfig   `mapstructure:"retry"`
	Breaker     BreakerConfig `mapstructure:"breaker"`
}

type RetryConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `mapstructure:"max_interval" validate:"gtefield=InitialInterval"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time" validate:"gte=0"`
	MaxTries        uint          `mapstructure:"max_tries" validate:"gte=0"`
}

type BreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold" validate:"gt=0"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// FilterConfig holds the minimum-activity thresholds. They are applied one after
// the other: users first, then items on what the user pass kept.
type FilterConfig struct {
	MinUserRatings int `mapstructure:"min_user_ratings" validate:"gt=0"`
	MinItemRatings int `mapstructure:"min_item_ratings" validate:"gt=0"`
}

type TrainConfig struct {
	Rank              int     `mapstructure:"rank" validate:"gt=0"`
	Iterations        int     `mapstructure:"iterations" validate:"gt=0"`
	Reg               float64 `mapstructure:"reg" validate:"gte=0"`
	NonNegative       bool    `mapstructure:"non_negative"`
	ColdStartStrategy string  `mapstructure:"cold_start_strategy" validate:"oneof=drop"`
	TestRatio         float64 `mapstructure:"test_ratio" validate:"gte=0,lt=1"`
	Seed              int64   `mapstructure:"seed"`
	InitStdDev        float64 `mapstructure:"init_std" validate:"gt=0"`
	Verbose           int     `mapstructure:"verbose" validate:"gte=0"`
}

type SimilarityConfig struct {
	K      int    `mapstructure:"k" validate:"gt=0"`
	Filter string `mapstructure:"filter"`
}

type WriterConfig struct {
	BatchSize int `mapstructure:"batch_size" validate:"gt=0"`
	Jobs      int `mapstructure:"jobs" validate:"gt=0"`
	// WriteRate caps records written per second, 0 means unlimited.
	WriteRate int `mapstructure:"write_rate" validate:"gte=0"`
}

// ParallelConfig sizes the data-parallel stages.
type ParallelConfig struct {
	Partitions int `mapstructure:"partitions" validate:"gt=0"`
	Jobs       int `mapstructure:"jobs" validate:"gt=0"`
}

type OutputConfig struct {
	// FactorsBlob is the name of the item factor snapshot, empty disables it.
	FactorsBlob string `mapstructure:"factors_blob"`
	// ArtifactPath is where the snapshot goes, defaults to the input location.
	ArtifactPath string `mapstructure:"artifact_path"`
}

type MetricsConfig struct {
	PushGateway string `mapstructure:"push_gateway" validate:"omitempty,url"`
	JobName     string `mapstructure:"job_name" validate:"required"`
}

type VerifyConfig struct {
	MinInputBytes   int64 `mapstructure:"min_input_bytes" validate:"gte=0"`
	MinBooks        int   `mapstructure:"min_books" validate:"gte=0"`
	MinSimilarities int   `mapstructure:"min_similarities" validate:"gte=0"`
}

// TracingConfig exports spans of store clients.
type TracingConfig struct {
	EnableTracing     bool    `mapstructure:"enable_tracing"`
	Exporter          string  `mapstructure:"exporter" validate:"oneof=zipkin otlp otlphttp"`
	CollectorEndpoint string  `mapstructure:"collector_endpoint"`
	Sampler           string  `mapstructure:"sampler" validate:"oneof=always never ratio"`
	Ratio             float64 `mapstructure:"ratio" validate:"gte=0,lte=1"`
}

func (config *TracingConfig) NewTracerProvider() (trace.TracerProvider, error) {
	if !config.EnableTracing {
		return noop.NewTracerProvider(), nil
	}

	var exporter tracesdk.SpanExporter
	var err error
	switch config.Exporter {
	case "zipkin":
		exporter, err = zipkin.New(config.CollectorEndpoint)
	case "otlp":
		client := otlptracegrpc.NewClient(otlptracegrpc.WithInsecure(), otlptracegrpc.WithEndpoint(config.CollectorEndpoint))
		exporter, err = otlptrace.New(context.Background(), client)
	case "otlphttp":
		client := otlptracehttp.NewClient(otlptracehttp.WithInsecure(), otlptracehttp.WithEndpoint(config.CollectorEndpoint))
		exporter, err = otlptrace.New(context.Background(), client)
	default:
		return nil, errors.NotSupportedf("exporter %s", config.Exporter)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}

	var sampler tracesdk.Sampler
	switch config.Sampler {
	case "always":
		sampler = tracesdk.AlwaysSample()
	case "never":
		sampler = tracesdk.NeverSample()
	case "ratio":
		sampler = tracesdk.TraceIDRatioBased(config.Ratio)
	default:
		return nil, errors.NotSupportedf("sampler %s", config.Sampler)
	}

	return tracesdk.NewTracerProvider(
		tracesdk.WithSampler(sampler),
		tracesdk.WithBatcher(exporter),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("better-read"),
		)),
	), nil
}

func GetDefaultConfig() *Config {
	return &Config{
		Input: InputConfig{
			Path:        "data",
			BooksFile:   "Books.csv",
			RatingsFile: "Ratings.csv",
		},
		Database: DatabaseConfig{
			URL: "badger://better-read.db",
			Retry: RetryConfig{
				InitialInterval: 100 * time.Millisecond,
				MaxInterval:     5 * time.Second,
				MaxElapsedTime:  time.Minute,
				MaxTries:        10,
			},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				Timeout:          10 * time.Second,
			},
		},
		Filter: FilterConfig{
			MinUserRatings: 5,
			MinItemRatings: 5,
		},
		Train: TrainConfig{
			Rank:              10,
			Iterations:        10,
			Reg:               0.1,
			NonNegative:       true,
			ColdStartStrategy: "drop",
			TestRatio:         0.2,
			Seed:              42,
			InitStdDev:        0.1,
			Verbose:           5,
		},
		Similarity: SimilarityConfig{
			K: 20,
		},
		Writer: WriterConfig{
			BatchSize: 100,
			Jobs:      4,
		},
		Parallel: ParallelConfig{
			Partitions: runtime.NumCPU(),
			Jobs:       runtime.NumCPU(),
		},
		Metrics: MetricsConfig{
			JobName: "better-read",
		},
		Verify: VerifyConfig{
			MinInputBytes:   100,
			MinBooks:        1000,
			MinSimilarities: 10000,
		},
		Tracing: TracingConfig{
			Exporter: "otlp",
			Sampler:  "always",
			Ratio:    1,
		},
	}
}

func (config *Config) Validate() error {
	validate := validator.New()
	return errors.Trace(validate.Struct(config))
}

func setDefault() {
	defaultConfig := GetDefaultConfig()
	// [input]
	viper.SetDefault("input.path", defaultConfig.Input.Path)
	viper.SetDefault("input.books_file", defaultConfig.Input.BooksFile)
	viper.SetDefault("input.ratings_file", defaultConfig.Input.RatingsFile)
	// [database]
	viper.SetDefault("database.url", defaultConfig.Database.URL)
	viper.SetDefault("database.retry.initial_interval", defaultConfig.Database.Retry.InitialInterval)
	viper.SetDefault("database.retry.max_interval", defaultConfig.Database.Retry.MaxInterval)
	viper.SetDefault("database.retry.max_elapsed_time", defaultConfig.Database.Retry.MaxElapsedTime)
	viper.SetDefault("database.retry.max_tries", defaultConfig.Database.Retry.MaxTries)
	viper.SetDefault("database.breaker.failure_threshold", defaultConfig.Database.Breaker.FailureThreshold)
	viper.SetDefault("database.breaker.timeout", defaultConfig.Database.Breaker.Timeout)
	// [filter]
	viper.SetDefault("filter.min_user_ratings", defaultConfig.Filter.MinUserRatings)
	viper.SetDefault("filter.min_item_ratings", defaultConfig.Filter.MinItemRatings)
	// [train]
	viper.SetDefault("train.rank", defaultConfig.Train.Rank)
	viper.SetDefault("train.iterations", defaultConfig.Train.Iterations)
	viper.SetDefault("train.reg", defaultConfig.Train.Reg)
	viper.SetDefault("train.non_negative", defaultConfig.Train.NonNegative)
	viper.SetDefault("train.cold_start_strategy", defaultConfig.Train.ColdStartStrategy)
	viper.SetDefault("train.test_ratio", defaultConfig.Train.TestRatio)
	viper.SetDefault("train.seed", defaultConfig.Train.Seed)
	viper.SetDefault("train.init_std", defaultConfig.Train.InitStdDev)
	viper.SetDefault("train.verbose", defaultConfig.Train.Verbose)
	// [similarity]
	viper.SetDefault("similarity.k", defaultConfig.Similarity.K)
	// [writer]
	viper.SetDefault("writer.batch_size", defaultConfig.Writer.BatchSize)
	viper.SetDefault("writer.jobs", defaultConfig.Writer.Jobs)
	viper.SetDefault("writer.write_rate", defaultConfig.Writer.WriteRate)
	// [parallel]
	viper.SetDefault("parallel.partitions", defaultConfig.Parallel.Partitions)
	viper.SetDefault("parallel.jobs", defaultConfig.Parallel.Jobs)
	// [metrics]
	viper.SetDefault("metrics.job_name", defaultConfig.Metrics.JobName)
	// [verify]
	viper.SetDefault("verify.min_input_bytes", defaultConfig.Verify.MinInputBytes)
	viper.SetDefault("verify.min_books", defaultConfig.Verify.MinBooks)
	viper.SetDefault("verify.min_similarities", defaultConfig.Verify.MinSimilarities)
	// [tracing]
	viper.SetDefault("tracing.exporter", defaultConfig.Tracing.Exporter)
	viper.SetDefault("tracing.sampler", defaultConfig.Tracing.Sampler)
	viper.SetDefault("tracing.ratio", defaultConfig.Tracing.Ratio)
}

type configBinding struct {
	key string
	env string
}

// LoadConfig loads configuration from toml file. An empty path loads defaults and
// environment variables only.
func LoadConfig(path string) (*Config, error) {
	// set default config
	setDefault()

	// bind environment bindings
	bindings := []configBinding{
		{"input.path", "BETTER_READ_INPUT_PATH"},
		{"input.s3.endpoint", "S3_ENDPOINT"},
		{"input.s3.access_key_id", "S3_ACCESS_KEY_ID"},
		{"input.s3.secret_access_key", "S3_SECRET_ACCESS_KEY"},
		{"input.gcs.credentials_file", "GCS_CREDENTIALS_FILE"},
		{"input.azure.connection_string", "AZURE_STORAGE_CONNECTION_STRING"},
		{"database.url", "BETTER_READ_DATABASE"},
		{"database.table_prefix", "BETTER_READ_TABLE_PREFIX"},
		{"parallel.jobs", "BETTER_READ_JOBS"},
		{"metrics.push_gateway", "BETTER_READ_PUSH_GATEWAY"},
		{"tracing.collector_endpoint", "BETTER_READ_TRACING_ENDPOINT"},
	}
	for _, binding := range bindings {
		if err := viper.BindEnv(binding.key, binding.env); err != nil {
			return nil, errors.Trace(err)
		}
	}

	// load config file
	if path != "" {
		viper.SetConfigFile(path)
		if strings.HasSuffix(path, ".toml") {
			viper.SetConfigType("toml")
		}
		if err := viper.ReadInConfig(); err != nil {
			return nil, errors.Annotatef(err, "failed to read config file %s", path)
		}
	}

	// unmarshal config file
	var conf Config
	if err := viper.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}
