// Package config holds the daemon's typed configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// BlockWindow is one configured capture slot, in station-local wall clock.
type BlockWindow struct {
	Code  string `mapstructure:"code"`
	Start string `mapstructure:"start"`
	End   string `mapstructure:"end"`
}

// Config holds typed configuration for the monitor daemon.
type Config struct {
	LogLevel string
	LogFile  string

	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers string // comma-separated; empty disables the event feed

	Timezone    string
	Blocks      []BlockWindow
	DigestTime  string
	CleanupTime string
	Retention   time.Duration

	StreamURL string
	AudioDir  string

	WhisperURL string

	LLMProvider   string
	LLMModel      string
	LLMAPIKey     string
	LLMOllamaHost string

	SMTPHost        string
	SMTPPort        int
	SMTPFrom        string
	SMTPUsername    string
	SMTPPassword    string
	EmailRecipients []string
	EmailWindow     time.Duration // sent-marker validity
	EmailBlocks     bool          // legacy per-block emails

	TranscribeTimeout time.Duration
	SummarizeTimeout  time.Duration
	TaskTimeout       time.Duration
	StaleAfter        time.Duration

	HTTPAddr     string
	MetricsAddr  string
	OTelEndpoint string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		LogLevel: v.GetString("log_level"),
		LogFile:  v.GetString("log_file"),

		PostgresDSN:  v.GetString("postgres_dsn"),
		RedisAddr:    v.GetString("redis_addr"),
		KafkaBrokers: v.GetString("kafka_brokers"),

		Timezone:    v.GetString("timezone"),
		DigestTime:  v.GetString("digest_time"),
		CleanupTime: v.GetString("cleanup_time"),
		Retention:   v.GetDuration("retention"),

		StreamURL: v.GetString("stream_url"),
		AudioDir:  v.GetString("audio_dir"),

		WhisperURL: v.GetString("whisper_url"),

		LLMProvider:   v.GetString("llm_provider"),
		LLMModel:      v.GetString("llm_model"),
		LLMAPIKey:     v.GetString("llm_api_key"),
		LLMOllamaHost: v.GetString("llm_ollama_host"),

		SMTPHost:        v.GetString("smtp_host"),
		SMTPPort:        v.GetInt("smtp_port"),
		SMTPFrom:        v.GetString("smtp_from"),
		SMTPUsername:    v.GetString("smtp_username"),
		SMTPPassword:    v.GetString("smtp_password"),
		EmailRecipients: v.GetStringSlice("email_recipients"),
		EmailWindow:     v.GetDuration("email_window"),
		EmailBlocks:     v.GetBool("email_blocks"),

		TranscribeTimeout: v.GetDuration("transcribe_timeout"),
		SummarizeTimeout:  v.GetDuration("summarize_timeout"),
		TaskTimeout:       v.GetDuration("task_timeout"),
		StaleAfter:        v.GetDuration("stale_after"),

		HTTPAddr:     v.GetString("http_addr"),
		MetricsAddr:  v.GetString("metrics_addr"),
		OTelEndpoint: v.GetString("otel_endpoint"),
	}

	if err := v.UnmarshalKey("blocks", &cfg.Blocks); err != nil {
		return cfg, fmt.Errorf("parse blocks grid: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if len(c.Blocks) == 0 {
		return fmt.Errorf("no capture blocks configured")
	}
	seen := make(map[string]bool, len(c.Blocks))
	for _, b := range c.Blocks {
		if b.Code == "" || b.Start == "" || b.End == "" {
			return fmt.Errorf("block %+v: code, start and end are all required", b)
		}
		if seen[b.Code] {
			return fmt.Errorf("duplicate block code %q", b.Code)
		}
		seen[b.Code] = true
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("bad timezone %q: %w", c.Timezone, err)
	}
	if len(c.EmailRecipients) == 0 {
		return fmt.Errorf("no email recipients configured")
	}
	return nil
}
