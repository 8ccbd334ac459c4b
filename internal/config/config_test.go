package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TCPBindAddr != "127.0.0.1:9100" {
		t.Fatalf("TCPBindAddr = %q", cfg.TCPBindAddr)
	}
	if cfg.SilenceHold != 700*time.Millisecond {
		t.Fatalf("SilenceHold = %v, want 700ms", cfg.SilenceHold)
	}
	if cfg.SampleRate != 8000 {
		t.Fatalf("SampleRate = %d, want 8000", cfg.SampleRate)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("VOX_SILENCE_HOLD", "450ms")
	t.Setenv("VOX_MIN_SPEAK_CHARS", "30")
	t.Setenv("VOX_SPEECH_THRESHOLD", "0.03")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SilenceHold != 450*time.Millisecond {
		t.Fatalf("SilenceHold = %v, want 450ms", cfg.SilenceHold)
	}
	if cfg.MinSpeakChars != 30 {
		t.Fatalf("MinSpeakChars = %d, want 30", cfg.MinSpeakChars)
	}
	if cfg.SpeechThreshold != 0.03 {
		t.Fatalf("SpeechThreshold = %v, want 0.03", cfg.SpeechThreshold)
	}
}

func TestLoadRejectsNonLoopbackTCPBind(t *testing.T) {
	t.Setenv("VOX_TCP_BIND_ADDR", "0.0.0.0:9100")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted a non-loopback telephony bind address")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("VOX_SILENCE_HOLD", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted an unparseable duration")
	}
}

func TestLoadRejectsTinySilenceHold(t *testing.T) {
	t.Setenv("VOX_SILENCE_HOLD", "10ms")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted a silence hold below the floor")
	}
}
