package main

import (
	"context"
	"expvar"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"scanhooks/internal"
	"scanhooks/pkg/api"
	"scanhooks/pkg/providers/bitbucket"
	"scanhooks/pkg/providers/github"
	"scanhooks/pkg/providers/gitlab"
	"scanhooks/pkg/scm"
	"scanhooks/pkg/storage"
	"scanhooks/pkg/storage/logs"
	"scanhooks/pkg/storage/rules"
	"scanhooks/pkg/storage/tasks"
	"scanhooks/pkg/storage/webhooks"
	"scanhooks/pkg/webhook"
	"scanhooks/pkg/worker"

	"github.com/robfig/cron/v3"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	storeCfg := func(table string) storage.Config {
		return storage.Config{
			Driver:      config.Storage.Driver,
			Dialect:     config.Storage.Dialect,
			DSN:         config.Storage.DSN,
			Table:       table,
			AutoMigrate: config.Storage.AutoMigrate,
		}
	}

	webhookStore, err := webhooks.Open(storeCfg(config.Storage.Tables.Webhooks))
	if err != nil {
		logger.Fatalf("open webhook store: %v", err)
	}
	defer webhookStore.Close()

	ruleStore, err := rules.Open(storeCfg(config.Storage.Tables.Rules))
	if err != nil {
		logger.Fatalf("open rule store: %v", err)
	}
	defer ruleStore.Close()

	logStore, err := logs.Open(storeCfg(config.Storage.Tables.Logs))
	if err != nil {
		logger.Fatalf("open log store: %v", err)
	}
	defer logStore.Close()

	taskStore, err := tasks.Open(storeCfg(config.Storage.Tables.Tasks))
	if err != nil {
		logger.Fatalf("open task store: %v", err)
	}
	defer taskStore.Close()

	publisher, err := internal.NewPublisher(config.Queue)
	if err != nil {
		logger.Fatalf("publisher: %v", err)
	}
	defer publisher.Close()

	providers := scm.NewRegistry()
	if token := config.Providers.GitHub.Token; token != "" {
		client, err := github.NewClient(token, config.Providers.GitHub.BaseURL)
		if err != nil {
			logger.Fatalf("github client: %v", err)
		}
		providers.Register(storage.ProviderGitHub, client)
	}
	if token := config.Providers.GitLab.Token; token != "" {
		client, err := gitlab.NewClient(token, config.Providers.GitLab.BaseURL)
		if err != nil {
			logger.Fatalf("gitlab client: %v", err)
		}
		providers.Register(storage.ProviderGitLab, client)
	}
	if token := config.Providers.Bitbucket.Token; token != "" {
		providers.Register(storage.ProviderBitbucket, bitbucket.NewClient(token, config.Providers.Bitbucket.BaseURL))
	}

	evaluator := internal.NewEvaluator(internal.NewLogger("rules"))
	executor := worker.NewExecutor(publisher, providers, config.Topics, internal.NewLogger("executor"))
	manager := worker.NewManager(taskStore, executor, nil, internal.NewLogger("tasks"))

	ingest := webhook.NewHandler(webhook.HandlerConfig{
		Webhooks:  webhookStore,
		Rules:     ruleStore,
		Logs:      logStore,
		Tasks:     taskStore,
		Evaluator: evaluator,
		Processor: manager,
		Logger:    internal.NewLogger("webhook"),
		MaxBody:   config.Server.MaxBodyBytes,
	})

	management := api.NewHandler(api.HandlerConfig{
		Webhooks: webhookStore,
		Rules:    ruleStore,
		Logs:     logStore,
		Tasks:    taskStore,
		Logger:   internal.NewLogger("api"),
	})

	mux := http.NewServeMux()
	mux.Handle(config.Server.IngestPath, ingest)
	management.Register(mux)
	if config.Server.MetricsEnabled {
		mux.Handle(config.Server.MetricsPath, expvar.Handler())
	}

	var handler http.Handler = mux
	if config.Server.RateLimitRPS > 0 {
		handler = internal.NewRateLimitHandler(mux, config.Server.RateLimitRPS, config.Server.RateLimitBurst, 10*time.Minute)
	}

	sweeper := internal.NewSweeper(
		internal.PolicyFromConfig(config.Retention),
		logStore,
		taskStore,
		nil,
		internal.NewLogger("retention"),
	)
	scheduler := cron.New(cron.WithLocation(time.UTC))
	if _, err := scheduler.AddFunc(config.Retention.LogSchedule, func() {
		if _, err := sweeper.SweepLogs(context.Background()); err != nil {
			logger.Printf("log sweep: %v", err)
		}
	}); err != nil {
		logger.Fatalf("schedule log sweep: %v", err)
	}
	if _, err := scheduler.AddFunc(config.Retention.TaskSchedule, func() {
		if _, err := sweeper.SweepTasks(context.Background()); err != nil {
			logger.Printf("task sweep: %v", err)
		}
	}); err != nil {
		logger.Fatalf("schedule task sweep: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(config.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("listening on %s, ingest on %s", addr, config.Server.IngestPath)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}
