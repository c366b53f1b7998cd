package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is loaded once at startup from the environment (plus an optional
// .env file for local runs) and handed to the components that need it.
type Config struct {
	ListenAddr  string
	PostgresDSN string // empty means run with the in-memory leaderboard store

	CountdownSec    int
	GraceWindow     time.Duration
	DefaultLimitSec int
	ReplayBuffer    int

	IdleAfter    time.Duration
	QueryTimeout time.Duration

	MatchBaseWindow int
	MatchWidenStep  int
	MatchWidenEvery time.Duration
	MatchMaxWindow  int
	MatchSweepEvery time.Duration
}

func Load() (Config, error) {
	// Missing .env is fine in production; env vars win either way.
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		PostgresDSN:     os.Getenv("POSTGRES_DSN"),
		CountdownSec:    3,
		GraceWindow:     15 * time.Second,
		DefaultLimitSec: 300,
		ReplayBuffer:    50,
		IdleAfter:       5 * time.Minute,
		QueryTimeout:    3 * time.Second,
		MatchBaseWindow: 200,
		MatchWidenStep:  100,
		MatchWidenEvery: 10 * time.Second,
		MatchMaxWindow:  1000,
		MatchSweepEvery: 2 * time.Second,
	}

	var err error
	if cfg.CountdownSec, err = getInt("COUNTDOWN_SEC", cfg.CountdownSec); err != nil {
		return Config{}, err
	}
	if cfg.GraceWindow, err = getDuration("GRACE_WINDOW", cfg.GraceWindow); err != nil {
		return Config{}, err
	}
	if cfg.DefaultLimitSec, err = getInt("DEFAULT_TIME_LIMIT_SEC", cfg.DefaultLimitSec); err != nil {
		return Config{}, err
	}
	if cfg.ReplayBuffer, err = getInt("REPLAY_BUFFER", cfg.ReplayBuffer); err != nil {
		return Config{}, err
	}
	if cfg.IdleAfter, err = getDuration("PRESENCE_IDLE_AFTER", cfg.IdleAfter); err != nil {
		return Config{}, err
	}
	if cfg.QueryTimeout, err = getDuration("QUERY_TIMEOUT", cfg.QueryTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MatchBaseWindow, err = getInt("MATCH_BASE_WINDOW", cfg.MatchBaseWindow); err != nil {
		return Config{}, err
	}
	if cfg.MatchMaxWindow, err = getInt("MATCH_MAX_WINDOW", cfg.MatchMaxWindow); err != nil {
		return Config{}, err
	}

	if cfg.GraceWindow < 10*time.Second || cfg.GraceWindow > 60*time.Second {
		return Config{}, fmt.Errorf("GRACE_WINDOW must be between 10s and 60s, got %v", cfg.GraceWindow)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
