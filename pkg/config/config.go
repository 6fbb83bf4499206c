// Package config loads client configuration from the environment.
// The CLI loads a .env file first (godotenv), so every setting can
// live either in the process environment or alongside the project.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the client needs to reach an orchestrator.
type Config struct {
	// ServerURL is the HTTP base URL of the orchestration API.
	ServerURL string
	// StreamURL is the WebSocket endpoint. Derived from ServerURL
	// when unset.
	StreamURL string
	// APIToken is the bearer token for the REST API. Optional.
	APIToken string

	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
}

// LoadFromEnv reads configuration from QUORUM_* environment variables.
func LoadFromEnv() (Config, error) {
	serverURL := getEnvOrDefault("QUORUM_SERVER_URL", "http://localhost:8080")

	heartbeat, err := parseDuration("QUORUM_HEARTBEAT_INTERVAL", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	baseDelay, err := parseDuration("QUORUM_RECONNECT_BASE_DELAY", time.Second)
	if err != nil {
		return Config{}, err
	}
	maxAttempts := 5
	if v := os.Getenv("QUORUM_MAX_RECONNECT_ATTEMPTS"); v != "" {
		maxAttempts, err = strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid QUORUM_MAX_RECONNECT_ATTEMPTS: %w", err)
		}
	}

	cfg := Config{
		ServerURL:            serverURL,
		StreamURL:            os.Getenv("QUORUM_STREAM_URL"),
		APIToken:             os.Getenv("QUORUM_API_TOKEN"),
		HeartbeatInterval:    heartbeat,
		ReconnectBaseDelay:   baseDelay,
		MaxReconnectAttempts: maxAttempts,
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = deriveStreamURL(serverURL)
	}
	return cfg, nil
}

// deriveStreamURL maps the HTTP base URL to the /ws endpoint.
func deriveStreamURL(serverURL string) string {
	ws := serverURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return strings.TrimRight(ws, "/") + "/ws"
}

func parseDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
