package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/askdb/askdb/internal/answer"
	"github.com/askdb/askdb/internal/api"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/chart"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/database"
	"github.com/askdb/askdb/internal/gate"
	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/memory"
	historypostgres "github.com/askdb/askdb/internal/memory/postgres"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/pipeline"
	"github.com/askdb/askdb/internal/query/sqldb"
	"github.com/askdb/askdb/internal/sandbox"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/storage"
	s3store "github.com/askdb/askdb/internal/storage/s3"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("askdb-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	dialect, err := database.ParseDialect(cfg.Database.Dialect)
	if err != nil {
		logger.Error("invalid database dialect", slog.Any("error", err))
		os.Exit(1)
	}
	db, err := database.Open(context.Background(), database.Config{
		Dialect:         dialect,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	completer, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
		MaxRetries:  cfg.AI.MaxRetries,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize language model client", slog.Any("error", err))
		os.Exit(1)
	}

	history, locker, closeHistory, err := openHistory(cfg)
	if err != nil {
		logger.Error("failed to open history store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeHistory()
	if cfg.History.Backend == config.HistoryBackendPostgres && cfg.History.DSN == cfg.Database.DSN {
		logger.Warn("history shares the queried database; history tables are hidden from the schema and refused by the gate")
	}

	var objectStore storage.ObjectStore
	if cfg.ObjectStore.Enabled {
		objectStore, err = s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
	}

	accessor := schema.NewSQLAccessor(db.DB, dialect, cfg.Database.Schema, schema.ParseTableList(cfg.Database.Tables))
	chain := &pipeline.Chain{
		Schema:    accessor,
		Generator: nl2sql.NewGenerator(completer),
		Gate:      gate.New(completer, logger),
		Executor: sqldb.NewExecutor(db.DB, dialect, sqldb.Config{
			Timeout:  cfg.Database.QueryTimeout,
			RowLimit: cfg.Database.RowLimit,
		}),
		Synthesizer: answer.NewSynthesizer(completer, history),
		Memory:      history,
		Locker:      locker,
		Config: pipeline.Config{
			Timeout:      cfg.Pipeline.Timeout,
			ChartLibrary: cfg.Chart.Library,
		},
		Logger: logger,
	}

	readiness := []api.ReadinessCheck{api.CheckDatabase(db), api.CheckObjectStoreConfig(cfg)}
	chartDir := ""
	if cfg.Chart.Runner != config.ChartRunnerDisabled {
		runner, closeRunner, err := openChartRunner(cfg, logger)
		if err != nil {
			logger.Error("failed to initialize chart runner", slog.Any("error", err))
			os.Exit(1)
		}
		defer closeRunner()

		chartType, err := chart.ParseType(cfg.Chart.DefaultType)
		if err != nil {
			logger.Error("invalid default chart type", slog.Any("error", err))
			os.Exit(1)
		}
		if err := os.MkdirAll(cfg.Chart.OutputDir, 0o755); err != nil {
			logger.Error("failed to create chart output dir", slog.Any("error", err))
			os.Exit(1)
		}
		opts := []chart.Option{}
		if objectStore != nil {
			opts = append(opts, chart.WithObjectStore(objectStore))
		}
		chain.Intent = chart.NewIntentClassifier(completer, logger)
		chain.Charts = chart.NewGenerator(completer, runner, chart.Config{
			OutputDir:   cfg.Chart.OutputDir,
			Timeout:     cfg.Chart.Timeout,
			Library:     cfg.Chart.Library,
			DefaultType: chartType,
		}, logger, opts...)
		chain.Config.ChartType = chartType
		chartDir = cfg.Chart.OutputDir
		readiness = append(readiness, api.CheckChartDir(chartDir))
	}

	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
		Assistant:         chain,
		Schema:            accessor,
		ChartDir:          chartDir,
		ChartStore:        objectStore,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("dialect", string(dialect)),
			slog.String("chart_runner", cfg.Chart.Runner),
			slog.String("history_backend", cfg.History.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

// openHistory returns the turn store with the locker that serializes a
// session wherever that store is visible.
func openHistory(cfg config.Config) (memory.Store, memory.SessionLocker, func(), error) {
	if cfg.History.Backend != config.HistoryBackendPostgres {
		return memory.NewInMemoryStore(cfg.History.MaxTurns), memory.NewLocker(), func() {}, nil
	}
	historyDB, err := database.Open(context.Background(), database.Config{
		Dialect: database.DialectPostgres,
		DSN:     cfg.History.DSN,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open history db: %w", err)
	}
	return historypostgres.NewStore(historyDB.DB, cfg.History.MaxTurns),
		historypostgres.NewLocker(historyDB.DB),
		func() { _ = historyDB.Close() },
		nil
}

func openChartRunner(cfg config.Config, logger *slog.Logger) (sandbox.Runner, func(), error) {
	var runner sandbox.Runner
	closeRunner := func() {}
	switch cfg.Chart.Runner {
	case config.ChartRunnerDocker:
		docker, err := sandbox.NewDockerRunner(sandbox.DockerConfig{
			Image:    cfg.Chart.Image,
			MemoryMB: cfg.Chart.MemoryMB,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		runner = docker
		closeRunner = func() { _ = docker.Close() }
	case config.ChartRunnerLocal:
		logger.Warn("charts run as local processes; use the docker runner outside development")
		runner = sandbox.NewLocalRunner(cfg.Chart.PythonBin)
	default:
		return nil, nil, fmt.Errorf("unsupported chart runner %q", cfg.Chart.Runner)
	}
	return sandbox.NewLimited(runner, cfg.Chart.MaxConcurrent), closeRunner, nil
}
