// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Application config structure
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Secret   string `mapstructure:"secret" validate:"required"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`

	// public base url twilio uses to reach the answer webhook and the
	// media websocket
	PublicBaseURL string `mapstructure:"public_base_url" validate:"required"`

	PostgresConfig PostgresConfig `mapstructure:"postgres" validate:"required"`
	RedisConfig    RedisConfig    `mapstructure:"redis" validate:"required"`

	PoolConfig      PoolConfig      `mapstructure:"pool" validate:"required"`
	OutboundConfig  OutboundConfig  `mapstructure:"outbound" validate:"required"`
	SessionConfig   SessionConfig   `mapstructure:"session" validate:"required"`
	RetrievalConfig RetrievalConfig `mapstructure:"retrieval" validate:"required"`
	SchedulerConfig SchedulerConfig `mapstructure:"scheduler" validate:"required"`
	QueueConfig     QueueConfig     `mapstructure:"queue" validate:"required"`

	// staged rollout gate for outbound calling, 0..100
	OutboundPercentage int `mapstructure:"outbound_percentage"`

	TwilioConfig     TwilioConfig     `mapstructure:"twilio" validate:"required"`
	DeepgramConfig   DeepgramConfig   `mapstructure:"deepgram" validate:"required"`
	OpenAIConfig     OpenAIConfig     `mapstructure:"openai" validate:"required"`
	ElevenLabsConfig ElevenLabsConfig `mapstructure:"elevenlabs" validate:"required"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	DbName   string `mapstructure:"db_name" validate:"required"`
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
	SslMode  string `mapstructure:"ssl_mode" validate:"required"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	Password string `mapstructure:"password"`
	Db       int    `mapstructure:"db"`
}

type PoolConfig struct {
	MaxConnections int `mapstructure:"max_connections" validate:"required"`
	QueueTimeoutMs int `mapstructure:"queue_timeout_ms" validate:"required"`
	MaxQueueSize   int `mapstructure:"max_queue_size" validate:"required"`
}

type OutboundConfig struct {
	MaxConcurrent    int `mapstructure:"max_concurrent" validate:"required"`
	RatePerSec       int `mapstructure:"rate_per_sec" validate:"required"`
	MinSpacingMs     int `mapstructure:"min_spacing_ms" validate:"required"`
	BreakerThreshold int `mapstructure:"breaker_threshold" validate:"required"`
	BreakerOpenMs    int `mapstructure:"breaker_open_ms" validate:"required"`
}

type SessionConfig struct {
	SilenceThresholdMs     int `mapstructure:"silence_threshold_ms" validate:"required"`
	BatchSilenceMs         int `mapstructure:"batch_silence_ms" validate:"required"`
	LlmFirstTokenTimeoutMs int `mapstructure:"llm_first_token_timeout_ms" validate:"required"`
	LlmMidStreamTimeoutMs  int `mapstructure:"llm_mid_stream_timeout_ms" validate:"required"`
	TtsSentenceTimeoutMs   int `mapstructure:"tts_sentence_timeout_ms" validate:"required"`
	GraceWindowMs          int `mapstructure:"grace_window_ms" validate:"required"`
	HoldingAudioAfterMs    int `mapstructure:"holding_audio_after_ms" validate:"required"`
}

type RetrievalConfig struct {
	TopK         int     `mapstructure:"top_k" validate:"required"`
	MinScore     float64 `mapstructure:"min_score" validate:"required"`
	EmbeddingDim int     `mapstructure:"embedding_dim" validate:"required"`
}

type SchedulerConfig struct {
	DefaultTimezone    string `mapstructure:"default_timezone" validate:"required"`
	BusinessHoursStart string `mapstructure:"business_hours_start" validate:"required"`
	BusinessHoursEnd   string `mapstructure:"business_hours_end" validate:"required"`
	BusinessDays       []int  `mapstructure:"business_days" validate:"required"`
	PollIntervalMs     int    `mapstructure:"poll_interval_ms" validate:"required"`
}

type QueueConfig struct {
	RetryAttempts  int `mapstructure:"retry_attempts" validate:"required"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms" validate:"required"`
}

type TwilioConfig struct {
	AccountSid string `mapstructure:"account_sid" validate:"required"`
	AuthToken  string `mapstructure:"auth_token" validate:"required"`
}

type DeepgramConfig struct {
	ApiKey string `mapstructure:"api_key" validate:"required"`
	Model  string `mapstructure:"model" validate:"required"`
}

type OpenAIConfig struct {
	ApiKey         string `mapstructure:"api_key" validate:"required"`
	Model          string `mapstructure:"model" validate:"required"`
	EmbeddingModel string `mapstructure:"embedding_model" validate:"required"`
}

type ElevenLabsConfig struct {
	ApiKey  string `mapstructure:"api_key" validate:"required"`
	ModelId string `mapstructure:"model_id" validate:"required"`
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env variables.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// setting all default values
	// keeping watch on https://github.com/spf13/viper/issues/188

	v.SetDefault("SERVICE_NAME", "orchestrator-api")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 9090)
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:9090")

	v.SetDefault("POSTGRES__HOST", "localhost")
	v.SetDefault("POSTGRES__PORT", 5432)
	v.SetDefault("POSTGRES__DB_NAME", "orchestrator")
	v.SetDefault("POSTGRES__USER", "postgres")
	v.SetDefault("POSTGRES__PASSWORD", "postgres")
	v.SetDefault("POSTGRES__SSL_MODE", "disable")

	v.SetDefault("REDIS__HOST", "localhost")
	v.SetDefault("REDIS__PORT", 6379)
	v.SetDefault("REDIS__PASSWORD", "")
	v.SetDefault("REDIS__DB", 0)

	v.SetDefault("POOL__MAX_CONNECTIONS", 20)
	v.SetDefault("POOL__QUEUE_TIMEOUT_MS", 30000)
	v.SetDefault("POOL__MAX_QUEUE_SIZE", 50)

	v.SetDefault("OUTBOUND__MAX_CONCURRENT", 10)
	v.SetDefault("OUTBOUND__RATE_PER_SEC", 20)
	v.SetDefault("OUTBOUND__MIN_SPACING_MS", 50)
	v.SetDefault("OUTBOUND__BREAKER_THRESHOLD", 5)
	v.SetDefault("OUTBOUND__BREAKER_OPEN_MS", 60000)

	v.SetDefault("SESSION__SILENCE_THRESHOLD_MS", 150)
	v.SetDefault("SESSION__BATCH_SILENCE_MS", 1500)
	v.SetDefault("SESSION__LLM_FIRST_TOKEN_TIMEOUT_MS", 4000)
	v.SetDefault("SESSION__LLM_MID_STREAM_TIMEOUT_MS", 2000)
	v.SetDefault("SESSION__TTS_SENTENCE_TIMEOUT_MS", 10000)
	v.SetDefault("SESSION__GRACE_WINDOW_MS", 30000)
	v.SetDefault("SESSION__HOLDING_AUDIO_AFTER_MS", 2000)

	v.SetDefault("RETRIEVAL__TOP_K", 5)
	v.SetDefault("RETRIEVAL__MIN_SCORE", 0.70)
	v.SetDefault("RETRIEVAL__EMBEDDING_DIM", 1536)

	v.SetDefault("SCHEDULER__DEFAULT_TIMEZONE", "Asia/Kolkata")
	v.SetDefault("SCHEDULER__BUSINESS_HOURS_START", "09:00")
	v.SetDefault("SCHEDULER__BUSINESS_HOURS_END", "18:00")
	v.SetDefault("SCHEDULER__BUSINESS_DAYS", []int{1, 2, 3, 4, 5})
	v.SetDefault("SCHEDULER__POLL_INTERVAL_MS", 1000)

	v.SetDefault("QUEUE__RETRY_ATTEMPTS", 3)
	v.SetDefault("QUEUE__RETRY_BACKOFF_MS", 2000)

	v.SetDefault("OUTBOUND_PERCENTAGE", 100)

	v.SetDefault("TWILIO__ACCOUNT_SID", "")
	v.SetDefault("TWILIO__AUTH_TOKEN", "")
	v.SetDefault("DEEPGRAM__API_KEY", "")
	v.SetDefault("DEEPGRAM__MODEL", "nova-2")
	v.SetDefault("OPENAI__API_KEY", "")
	v.SetDefault("OPENAI__MODEL", "gpt-4o-mini")
	v.SetDefault("OPENAI__EMBEDDING_MODEL", "text-embedding-3-small")
	v.SetDefault("ELEVENLABS__API_KEY", "")
	v.SetDefault("ELEVENLABS__MODEL_ID", "eleven_turbo_v2")
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
