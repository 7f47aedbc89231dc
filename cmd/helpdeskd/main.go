// Command helpdeskd runs the conversation lifecycle daemon: the HTTP API,
// the job queue workers and the hourly auto-close sweep in one process.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/techmannih/helpdesk/internal/ai"
	"github.com/techmannih/helpdesk/internal/api"
	"github.com/techmannih/helpdesk/internal/autoclose"
	"github.com/techmannih/helpdesk/internal/bulk"
	"github.com/techmannih/helpdesk/internal/config"
	"github.com/techmannih/helpdesk/internal/conversation"
	"github.com/techmannih/helpdesk/internal/conversation/search"
	"github.com/techmannih/helpdesk/internal/jobs"
	"github.com/techmannih/helpdesk/internal/logging"
	"github.com/techmannih/helpdesk/internal/notify"
	"github.com/techmannih/helpdesk/internal/resolution"
	"github.com/techmannih/helpdesk/internal/store"
	"github.com/techmannih/helpdesk/internal/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup(cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := store.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	llm, err := openai.New(openai.WithModel(cfg.AI.Model), openai.WithToken(cfg.AI.APIKey))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize llm client")
	}
	classifier := ai.NewClassifier(llm, cfg.AI.Timeout, cfg.AI.RequestsPerMinute)

	dispatcher := jobs.NewDispatcher(cfg.Resolution.Delay)
	convStore := conversation.NewPgStore(pool, dispatcher)
	searchStore := search.NewStore(pool)
	workflowStore := workflow.NewPgStore(pool)

	executor := bulk.NewExecutor(searchStore, convStore, cfg.Bulk.Ceiling, cfg.Bulk.Parallelism)
	sweeper := autoclose.NewSweeper(convStore, dispatcher, convStore, cfg.Bulk.Parallelism)
	detector := resolution.NewDetector(convStore, classifier, cfg.Resolution.Delay)
	engine := workflow.NewEngine(classifier)
	runner := workflow.NewRunner(convStore, workflowStore, convStore, workflowStore, classifier)
	notifier := notify.NewNotifier(cfg.Notify.WebhookURL)

	queue, err := jobs.NewQueue(pool, dispatcher, jobs.Deps{
		Store:      convStore,
		Workflows:  workflowStore,
		Sweeper:    sweeper,
		Detector:   detector,
		Executor:   executor,
		Engine:     engine,
		Runner:     runner,
		Classifier: classifier,
		Notifier:   notifier,
		Model:      cfg.AI.Model,
		MaxWorkers: cfg.Queue.MaxWorkers,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create job queue")
	}

	if err := queue.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start job queue")
	}
	defer func() {
		if err := queue.Stop(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to stop job queue")
		}
	}()

	server := api.NewServer(cfg, convStore, searchStore, executor, dispatcher)
	if err := server.Start(); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
		os.Exit(1)
	}
}
