package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AppEnv   string `yaml:"app_env"`
	HTTPAddr string `yaml:"http_addr"`

	PoolSize         int    `yaml:"pool_size"`
	StorePath        string `yaml:"store_path"`
	DefaultOutputDir string `yaml:"default_output_dir"`
	YtDlpBin         string `yaml:"ytdlp_bin"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// Load builds the configuration from an optional YAML file (CONFIG_FILE)
// with environment variables taking precedence, then defaults.
func Load() Config {
	cfg := Config{
		AppEnv:           "development",
		HTTPAddr:         ":8081",
		PoolSize:         3,
		StorePath:        "./data/catalog.db",
		DefaultOutputDir: "./downloads",
		YtDlpBin:         "yt-dlp",
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if b, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(b, &cfg)
		}
	}

	cfg.AppEnv = getenv("APP_ENV", cfg.AppEnv)
	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.PoolSize = getenvInt("POOL_SIZE", cfg.PoolSize)
	cfg.StorePath = getenv("STORE_PATH", cfg.StorePath)
	cfg.DefaultOutputDir = getenv("DEFAULT_OUTPUT_DIR", cfg.DefaultOutputDir)
	cfg.YtDlpBin = getenv("YTDLP_BIN", cfg.YtDlpBin)
	cfg.RedisAddr = getenv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getenv("REDIS_PASSWORD", cfg.RedisPassword)

	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	return cfg
}
