package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"paintEstimator/internal/llm"
	"paintEstimator/internal/media"
)

// Config holds runtime configuration values.
type Config struct {
	Port        string
	DatabaseURL string
	LogLevel    string
	CacheTTL    time.Duration
	Gemini      llm.Config
	Media       media.Config
}

// Load reads an optional .env file and an optional YAML file at path, then
// lets environment variables override both. Keys are the environment names;
// in YAML they may be written in lower case.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CACHE_TTL", "1h")
	v.SetDefault("GEMINI_MODEL", llm.DefaultModel)
	v.SetDefault("GEMINI_BACKEND", string(llm.BackendGeminiAPI))
	v.SetDefault("GOOGLE_CLOUD_LOCATION", "us-central1")
	v.SetDefault("GEMINI_TIMEOUT", "120s")
	v.SetDefault("GEMINI_RATE_PER_MINUTE", 60)
	v.SetDefault("S3_FORCE_PATH_STYLE", false)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:        strings.TrimSpace(v.GetString("APP_PORT")),
		DatabaseURL: v.GetString("DATABASE_URL"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		CacheTTL:    v.GetDuration("CACHE_TTL"),
		Gemini: llm.Config{
			APIKey:          strings.TrimSpace(v.GetString("GEMINI_API_KEY")),
			Model:           v.GetString("GEMINI_MODEL"),
			Backend:         llm.Backend(strings.ToLower(v.GetString("GEMINI_BACKEND"))),
			Project:         v.GetString("GOOGLE_CLOUD_PROJECT"),
			Location:        v.GetString("GOOGLE_CLOUD_LOCATION"),
			CredentialsFile: v.GetString("GOOGLE_APPLICATION_CREDENTIALS"),
			Timeout:         v.GetDuration("GEMINI_TIMEOUT"),
			RatePerMinute:   v.GetInt("GEMINI_RATE_PER_MINUTE"),
		},
		Media: media.Config{
			Bucket:         v.GetString("S3_BUCKET"),
			Region:         v.GetString("S3_REGION"),
			Endpoint:       v.GetString("S3_ENDPOINT"),
			PublicURL:      v.GetString("S3_PUBLIC_URL"),
			KeyPrefix:      strings.Trim(v.GetString("S3_KEY_PREFIX"), "/"),
			ForcePathStyle: v.GetBool("S3_FORCE_PATH_STYLE"),
		},
	}

	if cfg.Port == "" {
		return Config{}, errors.New("config: APP_PORT cannot be empty")
	}
	switch cfg.Gemini.Backend {
	case llm.BackendGeminiAPI, llm.BackendVertexAI:
	default:
		return Config{}, fmt.Errorf("config: GEMINI_BACKEND must be %q or %q, got %q", llm.BackendGeminiAPI, llm.BackendVertexAI, cfg.Gemini.Backend)
	}
	if cfg.CacheTTL < 0 {
		return Config{}, errors.New("config: CACHE_TTL cannot be negative")
	}

	return cfg, nil
}
