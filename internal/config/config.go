package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvProduction = "production"

type Config struct {
	AppEnv   string
	HTTPAddr string

	DBDriver      string
	DBDSN         string
	JWTSecret     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ChatContextWindowSize int
	Timezone              string
	// Only honoured outside production; see IsProduction.
	DebugBypassOwnership bool
	CORSOrigins          []string

	// upstream completion provider (OpenAI-compatible)
	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeout     time.Duration
	LLMSiteURL     string
	LLMAppName     string
	VisionModel    string

	// rabbitMQ
	RabbitURL   string
	RabbitQueue string

	WorkerConcurrency int
	StatsFlushEvery   time.Duration
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), EnvProduction)
}

func defaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", ":8080")

	// DSN demo：
	// app:apppass@tcp(127.0.0.1:3306)/kawan_ai?charset=utf8mb4&parseTime=true&loc=Local
	v.SetDefault("DB_DRIVER", "mysql")
	v.SetDefault("DB_DSN", fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=Local",
		"app", "apppass", "127.0.0.1", "3306", "kawan_ai",
	))
	v.SetDefault("JWT_SECRET", "dev-secret-change-me")
	v.SetDefault("REDIS_ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("CHAT_CONTEXT_WINDOW_SIZE", 8)
	v.SetDefault("TIMEZONE", "Asia/Jakarta")
	v.SetDefault("DEBUG_BYPASS_OWNERSHIP", false)
	v.SetDefault("CORS_ORIGINS", "*")

	v.SetDefault("LLM_BASE_URL", "https://openrouter.ai/api/v1")
	v.SetDefault("LLM_MODEL", "openrouter/auto")
	v.SetDefault("LLM_MAX_TOKENS", 600)
	v.SetDefault("LLM_TEMPERATURE", 0.9)
	v.SetDefault("LLM_TIMEOUT_SECONDS", 60)
	v.SetDefault("VISION_MODEL", "openai/gpt-4o-mini")

	v.SetDefault("RABBIT_QUEUE", "chat_turns")

	v.SetDefault("WORKER_CONCURRENCY", 2)
	v.SetDefault("STATS_FLUSH_SECONDS", 30)
}

// Load reads an optional .env file, then environment variables.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	return FromViper(v)
}

func FromViper(v *viper.Viper) Config {
	windowSize := v.GetInt("CHAT_CONTEXT_WINDOW_SIZE")
	if windowSize <= 0 {
		windowSize = 8
	}

	concurrency := v.GetInt("WORKER_CONCURRENCY")
	if concurrency <= 0 {
		concurrency = 2
	}
	if concurrency > 50 {
		concurrency = 50
	}

	flushEvery := time.Duration(v.GetInt("STATS_FLUSH_SECONDS")) * time.Second
	if flushEvery <= 0 {
		flushEvery = 30 * time.Second
	}

	var origins []string
	for _, o := range strings.Split(v.GetString("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return Config{
		AppEnv:   v.GetString("APP_ENV"),
		HTTPAddr: v.GetString("HTTP_ADDR"),

		DBDriver:      strings.ToLower(v.GetString("DB_DRIVER")),
		DBDSN:         v.GetString("DB_DSN"),
		JWTSecret:     v.GetString("JWT_SECRET"),
		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		ChatContextWindowSize: windowSize,
		Timezone:              v.GetString("TIMEZONE"),
		DebugBypassOwnership:  v.GetBool("DEBUG_BYPASS_OWNERSHIP"),
		CORSOrigins:           origins,

		LLMBaseURL:     v.GetString("LLM_BASE_URL"),
		LLMAPIKey:      v.GetString("LLM_API_KEY"),
		LLMModel:       v.GetString("LLM_MODEL"),
		LLMMaxTokens:   v.GetInt("LLM_MAX_TOKENS"),
		LLMTemperature: v.GetFloat64("LLM_TEMPERATURE"),
		LLMTimeout:     time.Duration(v.GetInt("LLM_TIMEOUT_SECONDS")) * time.Second,
		LLMSiteURL:     v.GetString("LLM_SITE_URL"),
		LLMAppName:     v.GetString("LLM_APP_NAME"),
		VisionModel:    v.GetString("VISION_MODEL"),

		RabbitURL:   v.GetString("RABBIT_URL"),
		RabbitQueue: v.GetString("RABBIT_QUEUE"),

		WorkerConcurrency: concurrency,
		StatsFlushEvery:   flushEvery,
	}
}

// Location resolves Timezone, falling back to UTC+7 when tzdata is missing.
func (c Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.FixedZone("WIB", 7*60*60)
}
