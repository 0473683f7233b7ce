// Command orchestratord is the orchestration core's server process: it
// loads configuration, connects to Postgres, wires every domain component,
// and serves the HTTP surface defined in internal/api. Unlike apicall's
// combined binary, it owns no dialer, no AMI/FastAGI listener, and no
// in-process timers — the queue processor pass and reconciler sweep are
// only ever driven by an external HTTP-triggered cron (§9).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sddhantjaiii/callorch/internal/api"
	"github.com/sddhantjaiii/callorch/internal/auth"
	"github.com/sddhantjaiii/callorch/internal/billing"
	"github.com/sddhantjaiii/callorch/internal/concurrency"
	"github.com/sddhantjaiii/callorch/internal/config"
	"github.com/sddhantjaiii/callorch/internal/database"
	"github.com/sddhantjaiii/callorch/internal/llm"
	"github.com/sddhantjaiii/callorch/internal/notify"
	"github.com/sddhantjaiii/callorch/internal/processor"
	"github.com/sddhantjaiii/callorch/internal/queue"
	"github.com/sddhantjaiii/callorch/internal/reconciler"
	"github.com/sddhantjaiii/callorch/internal/schedule"
	"github.com/sddhantjaiii/callorch/internal/voiceprovider"
	"github.com/sddhantjaiii/callorch/internal/webhook"
	"github.com/sddhantjaiii/callorch/internal/wsfeed"
)

const defaultConfigPath = "/etc/callorch/orchestratord.yaml"

func main() {
	configPath := os.Getenv("ORCH_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}

	configureLogger(cfg.Log)

	migrationsPath := os.Getenv("ORCH_MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "./migrations"
	}

	dbConn, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to database")
	}
	defer dbConn.Close()

	if err := database.RunMigrations(dbConn.DB, migrationsPath); err != nil {
		log.Fatal().Err(err).Msg("running migrations")
	}

	repo := database.NewRepository(dbConn)
	defer repo.Close()
	log.Info().Msg("database connected and migrated")

	conc := concurrency.New(repo, cfg.Queue)
	q := queue.New(repo, cfg.Queue)
	sched := schedule.New(repo, cfg.Queue.ScheduleCacheTTL)
	voice := voiceprovider.New(cfg.VoiceProvider)
	issuer := auth.NewIssuer(cfg.Auth)
	hub := wsfeed.New()
	go hub.Run()

	mailer := notify.NewSMTPMailer(cfg.Email)
	notifyDispatcher := notify.New(repo, mailer, cfg.Email)
	billingHook := billing.New(repo, notifyDispatcher)

	var llmOrch *llm.Orchestrator
	if cfg.LLM.APIKey != "" {
		llmOrch = llm.New(repo, cfg.LLM)
	}

	proc := processor.New(repo, q, conc, sched, voice, billingHook, cfg.Queue)
	ingestor := webhook.New(repo, conc, billingHook, llmOrch, notifyDispatcher, proc)
	recon := reconciler.New(repo, conc, voice)

	server := api.New(cfg, repo, q, proc, sched, recon, ingestor, notifyDispatcher, billingHook, issuer, hub)

	httpServer := &http.Server{
		Addr:    cfg.Server.Address(),
		Handler: server.Handler(),
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Address()).Msg("http server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func configureLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
