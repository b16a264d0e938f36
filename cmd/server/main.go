package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/kawan-ai/internal/ai"
	"github.com/suPer8Hu/kawan-ai/internal/analytics"
	"github.com/suPer8Hu/kawan-ai/internal/chat"
	"github.com/suPer8Hu/kawan-ai/internal/config"
	"github.com/suPer8Hu/kawan-ai/internal/db"
	"github.com/suPer8Hu/kawan-ai/internal/httpapi"
	"github.com/suPer8Hu/kawan-ai/internal/logx"
	"github.com/suPer8Hu/kawan-ai/internal/models"
	"github.com/suPer8Hu/kawan-ai/internal/mood"
	"github.com/suPer8Hu/kawan-ai/internal/store/rabbitmq"
	"github.com/suPer8Hu/kawan-ai/internal/store/redisstore"
	"github.com/suPer8Hu/kawan-ai/internal/vision"
	"go.uber.org/zap"
)

const (
	sessionLockMinTTL = 2 * time.Minute
	sessionLockWait   = 3 * time.Second
)

// sessionLockTTL covers a describe call plus a streamed completion, each
// bounded by the upstream timeout.
func sessionLockTTL(llmTimeout time.Duration) time.Duration {
	ttl := 2*llmTimeout + 30*time.Second
	if ttl < sessionLockMinTTL {
		ttl = sessionLockMinTTL
	}
	return ttl
}

func main() {
	cfg := config.Load()

	log := logx.Must(cfg.IsProduction())
	defer func() { _ = log.Sync() }()

	if cfg.DebugBypassOwnership {
		if cfg.IsProduction() {
			log.Warn("DEBUG_BYPASS_OWNERSHIP is set but ignored in production")
		} else {
			log.Warn("session ownership checks are bypassed")
		}
	}

	gdb, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal("db open", zap.Error(err))
	}
	if err := db.Migrate(gdb,
		&models.User{},
		&models.Character{},
		&chat.Session{},
		&chat.Message{},
		&analytics.CharacterStat{},
	); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}

	var locker chat.Locker = chat.NewLocalLocker()
	if cfg.RedisAddr != "" {
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rds.Ping(pctx)
		cancel()
		if err != nil {
			log.Warn("redis unavailable, session lock is process-local", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = rds.Close()
		} else {
			defer rds.Close()
			locker = redisstore.NewSessionLocker(rds, sessionLockTTL(cfg.LLMTimeout), sessionLockWait)
		}
	}

	var publisher chat.TurnPublisher
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Warn("rabbitmq unavailable, turn analytics disabled", zap.Error(err))
		} else {
			defer pub.Close()
			publisher = pub
		}
	}

	provider := ai.NewOpenRouterProvider(ai.OpenRouterOptions{
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		SiteURL:     cfg.LLMSiteURL,
		AppName:     cfg.LLMAppName,
		Timeout:     cfg.LLMTimeout,
	})
	if err := provider.Validate(); err != nil {
		// keep serving; chat requests answer with a configuration error
		log.Error("chat provider misconfigured", zap.Error(err))
	}

	var describer vision.Describer
	if cfg.LLMAPIKey != "" && cfg.VisionModel != "" {
		describer = vision.NewOpenAIDescriber(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.VisionModel, cfg.LLMTimeout)
	}

	chatSvc := chat.NewService(chat.NewRepo(gdb), provider, chat.Options{
		ContextWindowSize:    cfg.ChatContextWindowSize,
		Location:             cfg.Location(),
		DebugBypassOwnership: cfg.DebugBypassOwnership,
		Production:           cfg.IsProduction(),
		Describer:            describer,
		Engine:               mood.NewEngine(),
		Locker:               locker,
		Publisher:            publisher,
		Logger:               log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(gdb, cfg, log, chatSvc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("server started", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error("server shutdown", zap.Error(err))
	}
}
