package model

import "time"

// ----------------------------------------------------
// ================ Logging ================
// LogConfig controls the zerolog output
type LogConfig struct {
	Level      string `envconfig:"LEVEL" default:"info"`
	Format     string `envconfig:"FORMAT" default:"json"` // json | console
	Output     string `envconfig:"OUTPUT" default:"stdout"` // stdout | stderr | file
	FilePath   string `envconfig:"FILE_PATH" default:"logs/homelink.log"`
	TimeFormat string `envconfig:"TIME_FORMAT" default:"rfc3339"`
}

// ----------------------------------------------------
// ================ Storage ================
type RedisConfig struct {
	URL string `envconfig:"URL" default:"redis://localhost:6379/0"`
}

// ----------------------------------------------------
// ================ LLM ================
// LLMConfig holds provider credentials and call pacing. Provider and model
// selection live in settings.yml and can change at runtime.
type LLMConfig struct {
	OpenAIAPIKey      string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL     string  `envconfig:"OPENAI_BASE_URL"`
	OllamaBaseURL     string  `envconfig:"OLLAMA_BASE_URL" default:"http://localhost:11434"`
	MaxTokens         int     `envconfig:"LLM_MAX_TOKENS" default:"1024"`
	RequestsPerMinute float64 `envconfig:"LLM_REQUESTS_PER_MINUTE" default:"120"`
	BackoffMaxRetries uint64  `envconfig:"LLM_BACKOFF_MAX_RETRIES" default:"3"`
}

// HealConfig bounds the self-correcting invoker
type HealConfig struct {
	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	CallTimeout time.Duration `envconfig:"CALL_TIMEOUT" default:"30s"`
}

// ----------------------------------------------------
// ================ Conversation ================
type ConversationConfig struct {
	IdleTimeout   time.Duration `envconfig:"IDLE_TIMEOUT" default:"10m"`
	EvictAfter    time.Duration `envconfig:"EVICT_AFTER" default:"1h"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	HistoryLimit  int           `envconfig:"HISTORY_LIMIT" default:"10"`

	// messages of the overflow a highlight summary sees, 0 for all of them
	HighlightWindow int `envconfig:"HIGHLIGHT_WINDOW" default:"20"`
}

// ----------------------------------------------------
// ================ Transport ================
type ServerConfig struct {
	Addr      string `envconfig:"SERVER_ADDR" default:":8080"`
	ClientURL string `envconfig:"CLIENT_URL" default:"http://localhost:6454"`
	ConfigDir string `envconfig:"CONFIG_DIR" default:"config"`
}
