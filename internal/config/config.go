// Package config loads reelplan settings from an optional TOML file,
// environment overrides and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultFileName = "reelplan.toml"
	EnvConfigPath   = "REELPLAN_CONFIG"
)

type Transcription struct {
	Mode           string `toml:"mode"`
	FallbackPolicy string `toml:"fallback_policy"`
	Model          string `toml:"model"`
	Language       string `toml:"language"`
	APIBaseURL     string `toml:"api_base_url"`
	APIKeyEnv      string `toml:"api_key_env"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type LLM struct {
	APIKey               string   `toml:"api_key"`
	BaseURL              string   `toml:"base_url"`
	AllowedHosts         []string `toml:"allowed_hosts"`
	TimeoutSeconds       int      `toml:"timeout_seconds"`
	CutPlannerModel      string   `toml:"cut_planner_model"`
	TemplatePlannerModel string   `toml:"template_planner_model"`
}

type Media struct {
	FFmpegPath  string `toml:"ffmpeg_path"`
	FFprobePath string `toml:"ffprobe_path"`
}

type Templates struct {
	Dir string `toml:"dir"`
}

type Assets struct {
	FetchExternal          bool   `toml:"fetch_external"`
	MaxRetries             int    `toml:"max_retries"`
	RetryDelayMs           int    `toml:"retry_delay_ms"`
	SearchTimeoutSeconds   int    `toml:"search_timeout_seconds"`
	DownloadTimeoutSeconds int    `toml:"download_timeout_seconds"`
	Concurrency            int    `toml:"concurrency"`
	VideoProvider          string `toml:"video_provider"`
	ImageProvider          string `toml:"image_provider"`
	PexelsBaseURL          string `toml:"pexels_base_url"`
	PixabayBaseURL         string `toml:"pixabay_base_url"`
}

type Config struct {
	ProjectsDir   string        `toml:"projects_dir"`
	LogLevel      string        `toml:"log_level"`
	LogFormat     string        `toml:"log_format"`
	Transcription Transcription `toml:"transcription"`
	LLM           LLM           `toml:"llm"`
	Media         Media         `toml:"media"`
	Templates     Templates     `toml:"templates"`
	Assets        Assets        `toml:"assets"`
}

// Load reads path on top of Default(). An empty path falls back to
// $REELPLAN_CONFIG and then ./reelplan.toml; only an explicitly requested
// file is required to exist.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
		explicit = path != ""
	}
	if path == "" {
		path = DefaultFileName
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables on cfg.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.ProjectsDir, "REELPLAN_PROJECTS_DIR")
	set(&c.LogLevel, "REELPLAN_LOG_LEVEL")
	set(&c.LogFormat, "REELPLAN_LOG_FORMAT")
	set(&c.LLM.APIKey, "OPENROUTER_API_KEY")
	set(&c.LLM.BaseURL, "OPENROUTER_BASE_URL")
	set(&c.Media.FFmpegPath, "REELPLAN_FFMPEG")
	set(&c.Media.FFprobePath, "REELPLAN_FFPROBE")
	if v := strings.TrimSpace(getenv("OPENROUTER_ALLOWED_HOSTS")); v != "" {
		c.LLM.AllowedHosts = strings.Split(v, ",")
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ProjectsDir) == "" {
		return errors.New("projects dir is empty")
	}
	if c.Assets.MaxRetries < 0 {
		return errors.New("assets max_retries must be >= 0")
	}
	if c.Assets.RetryDelayMs < 0 {
		return errors.New("assets retry_delay_ms must be >= 0")
	}
	if c.Assets.Concurrency <= 0 {
		return errors.New("assets concurrency must be > 0")
	}
	if c.Assets.SearchTimeoutSeconds <= 0 || c.Assets.DownloadTimeoutSeconds <= 0 {
		return errors.New("assets timeouts must be > 0")
	}
	switch c.Transcription.Mode {
	case "local", "api", "hybrid":
	default:
		return fmt.Errorf("transcription mode %q: want local|api|hybrid", c.Transcription.Mode)
	}
	switch c.Transcription.FallbackPolicy {
	case "local-first", "api-first", "local-only", "api-only":
	default:
		return fmt.Errorf("transcription fallback policy %q: want local-first|api-first|local-only|api-only", c.Transcription.FallbackPolicy)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log format %q: want text|json", c.LogFormat)
	}
	return nil
}
