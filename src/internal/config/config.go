package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"molecule-lab/src/internal/interaction"

	"github.com/spf13/viper"
)

type Config struct {
	Models     ModelsConfig     `mapstructure:"models" json:"models"`
	Generation GenerationConfig `mapstructure:"generation" json:"generation"`
	Speech     SpeechConfig     `mapstructure:"speech" json:"speech"`
	Server     ServerConfig     `mapstructure:"server" json:"server"`
	Cache      CacheConfig      `mapstructure:"cache" json:"cache"`
	Viewer     ViewerConfig     `mapstructure:"viewer" json:"viewer"`
	Warmup     WarmupConfig     `mapstructure:"warmup" json:"warmup"`
	Catalog    CatalogConfig    `mapstructure:"catalog" json:"catalog"`
	StorageDir string           `mapstructure:"storage_dir" json:"storage_dir"`
	Log        LogConfig        `mapstructure:"log" json:"log"`
}

type ModelsConfig struct {
	Providers map[string]ProviderConfig `mapstructure:"providers" json:"providers"`
}

type ProviderConfig struct {
	BaseURL string `mapstructure:"baseUrl" json:"baseUrl"`
	APIKey  string `mapstructure:"apiKey" json:"apiKey,omitempty"`
}

type ModelSelection struct {
	Primary   string   `mapstructure:"primary" json:"primary"`
	Fallbacks []string `mapstructure:"fallbacks" json:"fallbacks"`
}

type GenerationConfig struct {
	// Engine is "basic" (plain chat completion) or "eino".
	Engine      string         `mapstructure:"engine" json:"engine"`
	Model       ModelSelection `mapstructure:"model" json:"model"`
	Language    string         `mapstructure:"language" json:"language"`
	Temperature float32        `mapstructure:"temperature" json:"temperature"`
	Timeout     time.Duration  `mapstructure:"timeout" json:"timeout"`
}

type SpeechConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Model   string `mapstructure:"model" json:"model"`
	Voice   string `mapstructure:"voice" json:"voice"`
}

type ServerConfig struct {
	Addr          string `mapstructure:"addr" json:"addr"`
	Key           string `mapstructure:"key" json:"key"`
	AdminUser     string `mapstructure:"admin_user" json:"admin_user"`
	AdminPass     string `mapstructure:"admin_pass" json:"-"`
	EffectiveHost string `mapstructure:"-" json:"effectiveHost"`
	Port          int    `mapstructure:"-" json:"port"`
}

type CacheConfig struct {
	Path     string `mapstructure:"path" json:"path"`
	MaxBytes int64  `mapstructure:"max_bytes" json:"max_bytes"`
}

type ViewerConfig struct {
	FPS             int     `mapstructure:"fps" json:"fps"`
	Width           int     `mapstructure:"width" json:"width"`
	Height          int     `mapstructure:"height" json:"height"`
	Sensitivity     float64 `mapstructure:"sensitivity" json:"sensitivity"`
	ZoomFactor      float64 `mapstructure:"zoom_factor" json:"zoom_factor"`
	MinDistance     float64 `mapstructure:"min_distance" json:"min_distance"`
	MaxDistance     float64 `mapstructure:"max_distance" json:"max_distance"`
	InitialDistance float64 `mapstructure:"initial_distance" json:"initial_distance"`
	IdleSpeed       float64 `mapstructure:"idle_speed" json:"idle_speed"`
}

// Settings converts the viewer section into interaction settings.
func (v ViewerConfig) Settings() interaction.Settings {
	return interaction.Settings{
		Sensitivity:     v.Sensitivity,
		ZoomFactor:      v.ZoomFactor,
		MinDistance:     v.MinDistance,
		MaxDistance:     v.MaxDistance,
		InitialDistance: v.InitialDistance,
		IdleSpeed:       v.IdleSpeed,
	}.Sanitize()
}

type WarmupConfig struct {
	Enabled  bool     `mapstructure:"enabled" json:"enabled"`
	Schedule string   `mapstructure:"schedule" json:"schedule"`
	Samples  []string `mapstructure:"samples" json:"samples"`
}

type CatalogConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

type LogConfig struct {
	Debug bool `mapstructure:"debug" json:"debug"`
}

// Samples are the quick-pick substances offered by the viewer and pre-generated by warmup.
var Samples = []string{"水", "二氧化碳", "甲烷", "乙醇", "葡萄糖", "咖啡因", "阿司匹林"}

func setDefaults() {
	d := interaction.DefaultSettings()
	viper.SetDefault("server.addr", "127.0.0.1:8080")
	viper.SetDefault("server.admin_user", "admin")
	viper.SetDefault("generation.engine", "basic")
	viper.SetDefault("generation.model.primary", "openai/gpt-4o-mini")
	viper.SetDefault("generation.language", "Simplified Chinese (简体中文)")
	viper.SetDefault("generation.temperature", 0.3)
	viper.SetDefault("generation.timeout", "120s")
	viper.SetDefault("speech.enabled", true)
	viper.SetDefault("speech.model", "openai/gpt-4o-mini-tts")
	viper.SetDefault("speech.voice", "alloy")
	viper.SetDefault("cache.max_bytes", 5*1024*1024)
	viper.SetDefault("viewer.fps", 30)
	viper.SetDefault("viewer.width", 800)
	viper.SetDefault("viewer.height", 600)
	viper.SetDefault("viewer.sensitivity", d.Sensitivity)
	viper.SetDefault("viewer.zoom_factor", d.ZoomFactor)
	viper.SetDefault("viewer.min_distance", d.MinDistance)
	viper.SetDefault("viewer.max_distance", d.MaxDistance)
	viper.SetDefault("viewer.initial_distance", d.InitialDistance)
	viper.SetDefault("viewer.idle_speed", d.IdleSpeed)
	viper.SetDefault("warmup.enabled", false)
	viper.SetDefault("warmup.schedule", "0 0 4 * * *")
	viper.SetDefault("warmup.samples", Samples)
	viper.SetDefault("catalog.enabled", true)
	viper.SetDefault("models.providers.openai.baseUrl", "https://api.openai.com/v1")
	viper.SetDefault("models.providers.openai.apiKey", "$OPENAI_API_KEY")
}

func Load(override string) (*Config, error) {

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	appDir := filepath.Join(home, ".molecule-lab")

	// Environment overrides
	if envDir := os.Getenv("MOLAB_STORAGE_DIR"); envDir != "" {
		appDir = envDir
	}
	if err := os.MkdirAll(appDir, 0755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	setDefaults()
	if override != "" {
		viper.SetConfigFile(override)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(appDir)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Compute effective host/port from addr
	host, portStr, err := net.SplitHostPort(cfg.Server.Addr)
	if err != nil {
		return nil, fmt.Errorf("invalid server.addr %q: %w", cfg.Server.Addr, err)
	}
	cfg.Server.EffectiveHost = host
	if cfg.Server.EffectiveHost == "" {
		cfg.Server.EffectiveHost = "0.0.0.0"
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q in server.addr %q: %w", portStr, cfg.Server.Addr, err)
	}
	cfg.Server.Port = p

	if cfg.StorageDir == "" {
		cfg.StorageDir = appDir
	}
	if strings.HasPrefix(cfg.StorageDir, "~/") {
		cfg.StorageDir = filepath.Join(home, cfg.StorageDir[2:])
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = filepath.Join(cfg.StorageDir, "cache.db")
	}
	if len(cfg.Warmup.Samples) == 0 {
		cfg.Warmup.Samples = Samples
	}

	// Override API keys from inline placeholders ($VAR) or default environment variables
	for p, prov := range cfg.Models.Providers {
		prov.APIKey = resolveKey(p, prov.APIKey)
		cfg.Models.Providers[p] = prov
	}

	return &cfg, nil
}

func resolveKey(provider, apiKey string) string {
	if strings.HasPrefix(apiKey, "$") {
		return os.Getenv(strings.TrimPrefix(apiKey, "$"))
	}
	if apiKey == "" {
		return os.Getenv(strings.ToUpper(provider) + "_API_KEY")
	}
	return apiKey
}

func Save(cfg *Config) error {
	// Ensure storage directory exists
	if err := os.MkdirAll(cfg.StorageDir, 0755); err != nil {
		return err
	}

	// Update viper state
	for p, prov := range cfg.Models.Providers {
		viper.Set("models.providers."+p+".baseUrl", prov.BaseURL)
		viper.Set("models.providers."+p+".apiKey", prov.APIKey)
	}
	viper.Set("generation.engine", cfg.Generation.Engine)
	viper.Set("generation.model.primary", cfg.Generation.Model.Primary)
	viper.Set("generation.model.fallbacks", cfg.Generation.Model.Fallbacks)
	viper.Set("generation.language", cfg.Generation.Language)
	viper.Set("generation.temperature", cfg.Generation.Temperature)
	viper.Set("generation.timeout", cfg.Generation.Timeout.String())
	viper.Set("speech.enabled", cfg.Speech.Enabled)
	viper.Set("speech.model", cfg.Speech.Model)
	viper.Set("speech.voice", cfg.Speech.Voice)
	viper.Set("server.addr", cfg.Server.Addr)
	viper.Set("server.key", cfg.Server.Key)
	viper.Set("server.admin_user", cfg.Server.AdminUser)
	viper.Set("server.admin_pass", cfg.Server.AdminPass)
	viper.Set("cache.path", cfg.Cache.Path)
	viper.Set("cache.max_bytes", cfg.Cache.MaxBytes)
	viper.Set("viewer.fps", cfg.Viewer.FPS)
	viper.Set("viewer.width", cfg.Viewer.Width)
	viper.Set("viewer.height", cfg.Viewer.Height)
	viper.Set("viewer.sensitivity", cfg.Viewer.Sensitivity)
	viper.Set("viewer.zoom_factor", cfg.Viewer.ZoomFactor)
	viper.Set("viewer.min_distance", cfg.Viewer.MinDistance)
	viper.Set("viewer.max_distance", cfg.Viewer.MaxDistance)
	viper.Set("viewer.initial_distance", cfg.Viewer.InitialDistance)
	viper.Set("viewer.idle_speed", cfg.Viewer.IdleSpeed)
	viper.Set("warmup.enabled", cfg.Warmup.Enabled)
	viper.Set("warmup.schedule", cfg.Warmup.Schedule)
	viper.Set("warmup.samples", cfg.Warmup.Samples)
	viper.Set("catalog.enabled", cfg.Catalog.Enabled)
	viper.Set("log.debug", cfg.Log.Debug)
	viper.Set("storage_dir", cfg.StorageDir)

	configPath := filepath.Join(cfg.StorageDir, "config.yaml")
	viper.SetConfigType("yaml")
	return viper.WriteConfigAs(configPath)
}
