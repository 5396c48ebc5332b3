package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Cron   CronConfig   `mapstructure:"cron"`

	Execution    ExecutionConfig    `mapstructure:"execution"`
	Breaker      BreakerConfig      `mapstructure:"breaker"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Risk         RiskConfig         `mapstructure:"risk"`
	Paper        PaperConfig        `mapstructure:"paper"`
	Episodes     EpisodesConfig     `mapstructure:"episodes"`
	Lifecycle    LifecycleConfig    `mapstructure:"lifecycle"`
	Safety       SafetyConfig       `mapstructure:"safety"`

	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	OpsLog  OpsLogConfig  `mapstructure:"ops_log"`
}

type AppConfig struct {
	Env  string `mapstructure:"env"`
	Name string `mapstructure:"name"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type CronConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Orchestrator       string `mapstructure:"orchestrator"`
	SafetyMonitor      string `mapstructure:"safety_monitor"`
	EpisodeSettlement  string `mapstructure:"episode_settlement"`
	MetricsRollup      string `mapstructure:"metrics_rollup"`
	LifecycleUpdate    string `mapstructure:"lifecycle_update"`
	LifecyclePromotion string `mapstructure:"lifecycle_promotion"`
}

// ExecutionConfig configures the outbound execution endpoint and its retry policy.
type ExecutionConfig struct {
	EndpointURL  string        `mapstructure:"endpoint_url"`
	HMACSecret   string        `mapstructure:"hmac_secret"`
	ServiceName  string        `mapstructure:"service_name"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	ResignDelay  time.Duration `mapstructure:"resign_delay"`
	BackoffUnit  time.Duration `mapstructure:"backoff_unit"`
	RateLimitRPS float64       `mapstructure:"rate_limit_rps"`
	RateBurst    int           `mapstructure:"rate_burst"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
}

type OrchestratorConfig struct {
	MaxParallelUsers int           `mapstructure:"max_parallel_users"`
	DrainLimit       int           `mapstructure:"drain_limit"`
	SentTimeout      time.Duration `mapstructure:"sent_timeout"`
	LeaseName        string        `mapstructure:"lease_name"`
	LeaseTTL         time.Duration `mapstructure:"lease_ttl"`
	LeaseBackend     string        `mapstructure:"lease_backend"`
	GeneratorURL     string        `mapstructure:"generator_url"`
	GeneratorTimeout time.Duration `mapstructure:"generator_timeout"`
	ShadowEvaluation bool          `mapstructure:"shadow_evaluation"`
}

type RiskConfig struct {
	ExposureWindow        time.Duration `mapstructure:"exposure_window"`
	DefaultMaxExposureUSD float64       `mapstructure:"default_max_exposure_usd"`
}

type PaperConfig struct {
	PriceURL       string        `mapstructure:"price_url"`
	PriceWSURL     string        `mapstructure:"price_ws_url"`
	PriceTimeout   time.Duration `mapstructure:"price_timeout"`
	StreamMaxStale time.Duration `mapstructure:"stream_max_stale"`
}

type EpisodesConfig struct {
	MaxHold            time.Duration `mapstructure:"max_hold"`
	TransitionInterval time.Duration `mapstructure:"transition_interval"`
	BatchSize          int           `mapstructure:"batch_size"`
}

// LifecycleConfig holds the update-safety thresholds and promotion gates.
type LifecycleConfig struct {
	MinEpisodes        int           `mapstructure:"min_episodes"`
	MinTransitions     int           `mapstructure:"min_transitions"`
	EpisodeLookback    int           `mapstructure:"episode_lookback"`
	ClipRange          float64       `mapstructure:"clip_range"`
	TargetKL           float64       `mapstructure:"target_kl"`
	LearningRate       float64       `mapstructure:"learning_rate"`
	MaxKLDivergence    float64       `mapstructure:"max_kl_divergence"`
	MaxCurriculumStage int           `mapstructure:"max_curriculum_stage"`
	TrainerURL         string        `mapstructure:"trainer_url"`
	TrainerTimeout     time.Duration `mapstructure:"trainer_timeout"`

	MinTrades      int     `mapstructure:"min_trades"`
	MaxDrawdown    float64 `mapstructure:"max_drawdown"`
	MaxWinRateDrop float64 `mapstructure:"max_win_rate_drop"`
	MinWinRateGain float64 `mapstructure:"min_win_rate_gain"`
	MinSharpeGain  float64 `mapstructure:"min_sharpe_gain"`
}

type SafetyConfig struct {
	MaxDrawdown         float64       `mapstructure:"max_drawdown"`
	ConsecutiveFailures int           `mapstructure:"consecutive_failures"`
	MinWinRate          float64       `mapstructure:"min_win_rate"`
	MinTradesForWinRate int           `mapstructure:"min_trades_for_win_rate"`
	MaxAvgLatencyMs     float64       `mapstructure:"max_avg_latency_ms"`
	LatencyWindow       time.Duration `mapstructure:"latency_window"`
	ShadowStaleAfter    time.Duration `mapstructure:"shadow_stale_after"`
	DedupWindow         time.Duration `mapstructure:"dedup_window"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	TopicPrefix  string        `mapstructure:"topic_prefix"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type NotifyConfig struct {
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	TelegramChatID   string `mapstructure:"telegram_chat_id"`
	WebhookURL       string `mapstructure:"webhook_url"`
	MinSeverity      string `mapstructure:"min_severity"`
}

type AuthConfig struct {
	Disabled  bool   `mapstructure:"disabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

type OpsLogConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Agent   string `mapstructure:"agent"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.name", "signal-orchestrator")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.auto_migrate", true)

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.orchestrator", "@every 1m")
	v.SetDefault("cron.safety_monitor", "@every 5m")
	v.SetDefault("cron.episode_settlement", "@every 1m")
	v.SetDefault("cron.metrics_rollup", "@every 10m")
	v.SetDefault("cron.lifecycle_update", "@every 30m")
	v.SetDefault("cron.lifecycle_promotion", "@every 1h")

	v.SetDefault("execution.endpoint_url", "")
	v.SetDefault("execution.hmac_secret", "")
	v.SetDefault("execution.service_name", "execution_endpoint")
	v.SetDefault("execution.timeout", "10s")
	v.SetDefault("execution.max_attempts", 3)
	v.SetDefault("execution.resign_delay", "500ms")
	v.SetDefault("execution.backoff_unit", "1s")
	v.SetDefault("execution.rate_limit_rps", 10)
	v.SetDefault("execution.rate_burst", 5)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.open_timeout", "60s")

	v.SetDefault("orchestrator.max_parallel_users", 4)
	v.SetDefault("orchestrator.drain_limit", 200)
	v.SetDefault("orchestrator.sent_timeout", "10m")
	v.SetDefault("orchestrator.lease_name", "orchestrator_cycle")
	v.SetDefault("orchestrator.lease_ttl", "5m")
	v.SetDefault("orchestrator.lease_backend", "db")
	v.SetDefault("orchestrator.generator_url", "")
	v.SetDefault("orchestrator.generator_timeout", "30s")
	v.SetDefault("orchestrator.shadow_evaluation", true)

	v.SetDefault("risk.exposure_window", "24h")
	v.SetDefault("risk.default_max_exposure_usd", 1000)

	v.SetDefault("paper.price_url", "")
	v.SetDefault("paper.price_ws_url", "")
	v.SetDefault("paper.price_timeout", "5s")
	v.SetDefault("paper.stream_max_stale", "30s")

	v.SetDefault("episodes.max_hold", "24h")
	v.SetDefault("episodes.transition_interval", "5m")
	v.SetDefault("episodes.batch_size", 200)

	v.SetDefault("lifecycle.min_episodes", 10)
	v.SetDefault("lifecycle.min_transitions", 32)
	v.SetDefault("lifecycle.episode_lookback", 500)
	v.SetDefault("lifecycle.clip_range", 0.2)
	v.SetDefault("lifecycle.target_kl", 0.01)
	v.SetDefault("lifecycle.learning_rate", 0.0003)
	v.SetDefault("lifecycle.max_kl_divergence", 0.05)
	v.SetDefault("lifecycle.max_curriculum_stage", 3)
	v.SetDefault("lifecycle.trainer_url", "")
	v.SetDefault("lifecycle.trainer_timeout", "2m")
	v.SetDefault("lifecycle.min_trades", 100)
	v.SetDefault("lifecycle.max_drawdown", 0.15)
	v.SetDefault("lifecycle.max_win_rate_drop", 0.05)
	v.SetDefault("lifecycle.min_win_rate_gain", 0.02)
	v.SetDefault("lifecycle.min_sharpe_gain", 0.1)

	v.SetDefault("safety.max_drawdown", 0.10)
	v.SetDefault("safety.consecutive_failures", 5)
	v.SetDefault("safety.min_win_rate", 0.40)
	v.SetDefault("safety.min_trades_for_win_rate", 20)
	v.SetDefault("safety.max_avg_latency_ms", 2000)
	v.SetDefault("safety.latency_window", "1h")
	v.SetDefault("safety.shadow_stale_after", "48h")
	v.SetDefault("safety.dedup_window", "1h")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "ta")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "trading")
	v.SetDefault("kafka.write_timeout", "10s")

	v.SetDefault("notify.min_severity", "critical")

	v.SetDefault("auth.disabled", false)
	v.SetDefault("auth.issuer", "signal-orchestrator")

	v.SetDefault("metrics.namespace", "trading")

	v.SetDefault("ops_log.agent", "signal-orchestrator")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
