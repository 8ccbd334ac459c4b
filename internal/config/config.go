package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice gateway process.
type Config struct {
	// TCPBindAddr is the telephony audio socket listener. It must stay on
	// loopback: the switch and this process share a host, and the frame
	// protocol carries no authentication.
	TCPBindAddr  string
	HTTPBindAddr string

	MetricsNamespace string
	ShutdownTimeout  time.Duration
	LogLevel         string

	AgentsDir      string
	DefaultAgentID string

	DatabaseURL string

	OpenAIAPIKey  string
	OpenAIBaseURL string

	// ProviderConnectTimeout bounds every provider stream handshake; a
	// provider that cannot connect in time fails the call setup instead of
	// hanging it.
	ProviderConnectTimeout time.Duration

	SampleRate       int
	SpeechThreshold  float64
	BargeInThreshold float64
	SilenceHold      time.Duration

	// MinSpeakChars is how much streamed reply text must accumulate before
	// playback starts; it trades a little coherence for perceived latency.
	MinSpeakChars int

	// CharsPerSecond estimates speaking duration when the synthesized audio
	// length is unknown.
	CharsPerSecond float64

	AllowAnyOrigin bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		TCPBindAddr:            envOrDefault("VOX_TCP_BIND_ADDR", "127.0.0.1:9100"),
		HTTPBindAddr:           envOrDefault("VOX_HTTP_BIND_ADDR", ":8080"),
		MetricsNamespace:       envOrDefault("VOX_METRICS_NAMESPACE", "voxline"),
		LogLevel:               envOrDefault("VOX_LOG_LEVEL", "info"),
		AgentsDir:              envOrDefault("VOX_AGENTS_DIR", "agents"),
		DefaultAgentID:         strings.TrimSpace(os.Getenv("VOX_DEFAULT_AGENT_ID")),
		DatabaseURL:            strings.TrimSpace(os.Getenv("DATABASE_URL")),
		OpenAIAPIKey:           strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:          strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		ShutdownTimeout:        15 * time.Second,
		ProviderConnectTimeout: 10 * time.Second,
		SampleRate:             8000,
		SpeechThreshold:        0.02,
		BargeInThreshold:       0.05,
		SilenceHold:            700 * time.Millisecond,
		MinSpeakChars:          60,
		CharsPerSecond:         15,
		AllowAnyOrigin:         false,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("VOX_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ProviderConnectTimeout, err = durationFromEnv("VOX_PROVIDER_CONNECT_TIMEOUT", cfg.ProviderConnectTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SilenceHold, err = durationFromEnv("VOX_SILENCE_HOLD", cfg.SilenceHold); err != nil {
		return Config{}, err
	}
	if cfg.SampleRate, err = intFromEnv("VOX_SAMPLE_RATE", cfg.SampleRate); err != nil {
		return Config{}, err
	}
	if cfg.MinSpeakChars, err = intFromEnv("VOX_MIN_SPEAK_CHARS", cfg.MinSpeakChars); err != nil {
		return Config{}, err
	}
	if cfg.SpeechThreshold, err = floatFromEnv("VOX_SPEECH_THRESHOLD", cfg.SpeechThreshold); err != nil {
		return Config{}, err
	}
	if cfg.BargeInThreshold, err = floatFromEnv("VOX_BARGE_IN_THRESHOLD", cfg.BargeInThreshold); err != nil {
		return Config{}, err
	}
	if cfg.CharsPerSecond, err = floatFromEnv("VOX_CHARS_PER_SECOND", cfg.CharsPerSecond); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("VOX_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}

	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("VOX_SAMPLE_RATE must be positive")
	}
	if cfg.SilenceHold < 100*time.Millisecond {
		return Config{}, fmt.Errorf("VOX_SILENCE_HOLD must be at least 100ms")
	}
	if cfg.ProviderConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("VOX_PROVIDER_CONNECT_TIMEOUT must be positive")
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold >= 1 {
		return Config{}, fmt.Errorf("VOX_SPEECH_THRESHOLD must be in (0, 1)")
	}
	if cfg.BargeInThreshold <= 0 || cfg.BargeInThreshold >= 1 {
		return Config{}, fmt.Errorf("VOX_BARGE_IN_THRESHOLD must be in (0, 1)")
	}
	if host := hostOf(cfg.TCPBindAddr); host != "127.0.0.1" && host != "localhost" && host != "::1" {
		return Config{}, fmt.Errorf("VOX_TCP_BIND_ADDR must bind loopback, got %q", cfg.TCPBindAddr)
	}

	return cfg, nil
}

func hostOf(addr string) string {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return addr
	}
	return strings.Trim(addr[:i], "[]")
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
