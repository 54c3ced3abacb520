package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed tuning.yaml
var defaultTuning []byte

type Tuning struct {
	Boost   BoostTuning   `yaml:"boost"`
	Trades  TradeTuning   `yaml:"trades"`
	Watch   WatchTuning   `yaml:"watch"`
	Storage StorageTuning `yaml:"storage"`
	Players PlayerTuning  `yaml:"players"`
}

type BoostTuning struct {
	Duration      time.Duration `yaml:"duration"`
	MaxMultiplier int           `yaml:"max_multiplier"`
}

type TradeTuning struct {
	// Strict rejects trades larger than the sender's stock instead of
	// debiting the source down to zero.
	Strict       bool `yaml:"strict"`
	HistoryLimit int  `yaml:"history_limit"`
}

type WatchTuning struct {
	EchoGrace       time.Duration `yaml:"echo_grace"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type StorageTuning struct {
	MaxRetries int `yaml:"max_retries"`
}

type PlayerTuning struct {
	DefaultCapacity int64 `yaml:"default_capacity"`
}

// LoadTuning reads the embedded defaults, then overlays the file at path
// when path is not empty.
func LoadTuning(path string) (Tuning, error) {
	var t Tuning
	if err := yaml.Unmarshal(defaultTuning, &t); err != nil {
		return t, fmt.Errorf("default tuning: %w", err)
	}
	if path == "" {
		return t, t.validate()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("failed to read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("%s: %w", path, err)
	}
	return t, t.validate()
}

func DefaultTuning() Tuning {
	t, err := LoadTuning("")
	if err != nil {
		panic(err)
	}
	return t
}

func (t Tuning) validate() error {
	if t.Boost.Duration <= 0 {
		return fmt.Errorf("boost.duration must be positive")
	}
	if t.Boost.MaxMultiplier < 2 {
		return fmt.Errorf("boost.max_multiplier must be at least 2")
	}
	if t.Trades.HistoryLimit <= 0 {
		return fmt.Errorf("trades.history_limit must be positive")
	}
	if t.Storage.MaxRetries < 1 {
		return fmt.Errorf("storage.max_retries must be at least 1")
	}
	if t.Players.DefaultCapacity <= 0 {
		return fmt.Errorf("players.default_capacity must be positive")
	}
	return nil
}
