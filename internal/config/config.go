package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Storage backend names accepted in config.
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// Config is the daemon configuration read from <data>/config.toml.
type Config struct {
	ListenAddr string    `toml:"listen_addr"`
	Storage    string    `toml:"storage"`
	RedisURL   string    `toml:"redis_url"`
	Responder  Responder `toml:"responder"`
	TTS        TTS       `toml:"tts"`
}

// Responder configures the AI auto-reply gateway.
type Responder struct {
	Model   string `toml:"model"`
	Token   string `toml:"token"`
	BaseURL string `toml:"base_url"`
}

// TTS configures the speech-synthesis gateway.
type TTS struct {
	Voice string `toml:"voice"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		ListenAddr: "127.0.0.1:8891",
		Storage:    StorageSQLite,
		Responder: Responder{
			Model: "gpt-4o-mini",
		},
		TTS: TTS{
			Voice: "alloy",
		},
	}
}

// Load reads config from the given path. A missing file yields defaults;
// present fields override them. OPENAI_API_KEY in the environment takes
// precedence over the token in the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if tok := os.Getenv("OPENAI_API_KEY"); tok != "" {
		cfg.Responder.Token = tok
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
