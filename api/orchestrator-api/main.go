// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	orchestrator_api "github.com/rapidaai/orchestrator/api/orchestrator-api/api"
	internal_agent "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/agent"
	internal_audio "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/audio"
	internal_call "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/call"
	internal_knowledge "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/knowledge"
	internal_outbound "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/outbound"
	internal_phone "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/phone"
	internal_pool "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/pool"
	internal_prompt "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/prompt"
	internal_schedule "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/schedule"
	internal_scheduler "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/scheduler"
	internal_session "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/session"
	internal_transformer "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/transformer"
	internal_transformer_deepgram "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/transformer/deepgram"
	internal_transformer_elevenlabs "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/transformer/elevenlabs"
	internal_transformer_openai "github.com/rapidaai/orchestrator/api/orchestrator-api/internal/transformer/openai"
	orchestrator_routers "github.com/rapidaai/orchestrator/api/orchestrator-api/router"
	"github.com/rapidaai/orchestrator/config"
	"github.com/rapidaai/orchestrator/pkg/commons"
	"github.com/rapidaai/orchestrator/pkg/connectors"
)

func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		log.Fatalf("failed to init config: %v", err)
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := commons.NewApplicationLogger()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	logger.Infow("starting orchestrator", "name", cfg.Name, "version", cfg.Version)

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.PostgresConfig.Host, cfg.PostgresConfig.Port, cfg.PostgresConfig.User,
		cfg.PostgresConfig.Password, cfg.PostgresConfig.DbName, cfg.PostgresConfig.SslMode)
	postgres, err := connectors.NewPostgresConnector(dsn, logger)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer postgres.Close()

	redis, err := connectors.NewRedisConnector(
		fmt.Sprintf("%s:%d", cfg.RedisConfig.Host, cfg.RedisConfig.Port),
		cfg.RedisConfig.Password, cfg.RedisConfig.Db, logger)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer redis.Close()

	box, err := commons.NewSecretBox(cfg.Secret)
	if err != nil {
		log.Fatalf("failed to create secret box: %v", err)
	}

	// Stores.
	agentStore := internal_agent.NewStore(postgres, logger)
	callStore := internal_call.NewStore(postgres, logger)
	phoneStore := internal_phone.NewStore(postgres, box, logger)
	scheduleStore := internal_schedule.NewStore(postgres, logger)
	knowledgeStore := internal_knowledge.NewStore(postgres, logger)

	// Shared LLM client and knowledge retriever.
	llm, err := internal_transformer_openai.NewOpenAITransformer(
		logger, cfg.OpenAIConfig.ApiKey, cfg.OpenAIConfig.EmbeddingModel)
	if err != nil {
		log.Fatalf("failed to create llm client: %v", err)
	}
	retriever := internal_knowledge.NewRetriever(logger, knowledgeStore, llm,
		cfg.RetrievalConfig.TopK, cfg.RetrievalConfig.MinScore)

	promptBuilder, err := internal_prompt.NewBuilder(0)
	if err != nil {
		log.Fatalf("failed to create prompt builder: %v", err)
	}

	// Transcription lease pool and session registry.
	pool := internal_pool.NewPool(logger,
		internal_pool.WithMaxConnections(cfg.PoolConfig.MaxConnections),
		internal_pool.WithMaxQueueSize(cfg.PoolConfig.MaxQueueSize),
		internal_pool.WithAcquireTimeout(time.Duration(cfg.PoolConfig.QueueTimeoutMs)*time.Millisecond))
	registry := internal_session.NewRegistry()

	// Outbound placement and the scheduling engine.
	outbound := internal_outbound.NewController(logger, cfg.OutboundConfig,
		cfg.OutboundPercentage, cfg.PublicBaseURL,
		callStore, agentStore, phoneStore, redis, registry,
		internal_outbound.DefaultDialerFactory(logger))

	queue := internal_scheduler.NewRedisQueue(redis, logger)
	scheduler := internal_scheduler.NewScheduler(logger,
		cfg.SchedulerConfig, cfg.QueueConfig, scheduleStore, queue, outbound)

	sessionCfg := internal_session.Config{
		SilenceThreshold:     time.Duration(cfg.SessionConfig.SilenceThresholdMs) * time.Millisecond,
		BatchSilence:         time.Duration(cfg.SessionConfig.BatchSilenceMs) * time.Millisecond,
		LlmFirstTokenTimeout: time.Duration(cfg.SessionConfig.LlmFirstTokenTimeoutMs) * time.Millisecond,
		LlmMidStreamTimeout:  time.Duration(cfg.SessionConfig.LlmMidStreamTimeoutMs) * time.Millisecond,
		TtsSentenceTimeout:   time.Duration(cfg.SessionConfig.TtsSentenceTimeoutMs) * time.Millisecond,
		GraceWindow:          time.Duration(cfg.SessionConfig.GraceWindowMs) * time.Millisecond,
		HoldingAudioAfter:    time.Duration(cfg.SessionConfig.HoldingAudioAfterMs) * time.Millisecond,
	}

	sessionDeps := internal_session.Dependencies{
		Logger:    logger,
		Pool:      pool,
		Calls:     callStore,
		Registry:  registry,
		Retriever: retriever,
		Prompt:    promptBuilder,
		LLM:       llm,
		NewSTT: func(ctx context.Context, opts *internal_transformer.SpeechToTextInitializeOptions) (internal_transformer.SpeechToTextTransformer, error) {
			return internal_transformer_deepgram.NewDeepgramSpeechToText(ctx, logger, cfg.DeepgramConfig.ApiKey, opts)
		},
		NewTTS: func(ctx context.Context, opts *internal_transformer.TextToSpeechInitializeOptions) (internal_transformer.TextToSpeechTransformer, error) {
			if opts.AudioConfig.SampleRate == 0 {
				opts.AudioConfig.SampleRate = internal_audio.CanonicalRate
			}
			if opts.Voice == "" {
				// Agents without an explicit voice fall back to the stock one.
				opts.Voice = "21m00Tcm4TlvDq8ikWAM"
			}
			return internal_transformer_elevenlabs.NewElevenLabsTextToSpeech(ctx, logger,
				cfg.ElevenLabsConfig.ApiKey, cfg.ElevenLabsConfig.ModelId, opts)
		},
		Hangup: func(callSid string) error {
			t, err := internal_outbound.DefaultDialerFactory(logger)(
				cfg.TwilioConfig.AccountSid, cfg.TwilioConfig.AuthToken)
			if err != nil {
				return err
			}
			return t.Hangup(callSid)
		},
	}

	newSession := func(ctx context.Context, callID string,
		agent *internal_agent.Agent, conn internal_session.MediaConn) *internal_session.Session {
		return internal_session.NewSession(ctx, sessionDeps, sessionCfg, callID, agent, conn)
	}

	// HTTP surface.
	engine := orchestrator_routers.NewEngine(cfg, logger)
	orchestrator_routers.HealthCheckRoutes(cfg, engine, logger, postgres)
	orchestrator_routers.CallApiRoutes(cfg, engine, logger,
		orchestrator_api.NewCallApi(cfg, logger, callStore, outbound))
	orchestrator_routers.ScheduleApiRoutes(cfg, engine, logger,
		orchestrator_api.NewScheduleApi(cfg, logger, scheduleStore, scheduler))
	orchestrator_routers.StatsApiRoutes(cfg, engine, logger,
		orchestrator_api.NewStatsApi(cfg, logger, pool, registry))
	orchestrator_routers.TelephonyApiRoutes(cfg, engine, logger,
		orchestrator_api.NewTelephonyApi(cfg, logger, callStore, phoneStore, agentStore, scheduler, newSession))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}

	group, groupCtx := errgroup.WithContext(rootCtx)
	group.Go(func() error {
		logger.Infow("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return scheduler.Run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Infow("shutting down, draining sessions",
			"activeSessions", registry.Count())

		grace := time.Duration(cfg.SessionConfig.GraceWindowMs) * time.Millisecond
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()

		registry.CancelAll()
		if err := pool.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("pool did not drain inside grace window", "error", err)
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Errorw("orchestrator exited with error", "error", err)
	}
	logger.Infow("orchestrator stopped")
}
