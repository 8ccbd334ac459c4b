// Package app wires configuration, providers, storage and servers into a
// runnable process.
package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/voxline-ai/voxline/internal/agent"
	"github.com/voxline-ai/voxline/internal/config"
	"github.com/voxline-ai/voxline/internal/httpapi"
	"github.com/voxline-ai/voxline/internal/observability"
	"github.com/voxline-ai/voxline/internal/providers"
	"github.com/voxline-ai/voxline/internal/providers/openai"
	"github.com/voxline-ai/voxline/internal/registry"
	"github.com/voxline-ai/voxline/internal/store"
	"github.com/voxline-ai/voxline/internal/telephony"
)

type BuildResult struct {
	Config   config.Config
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Registry *registry.Registry
	Store    store.Store
	Audio    *telephony.Server
	API      *httpapi.Server

	// Cleanup releases external resources on shutdown.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	reg := registry.New()

	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	agents, err := agent.LoadDir(cfg.AgentsDir)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load agents from %s: %w", cfg.AgentsDir, err)
	}
	defaultAgent := cfg.DefaultAgentID
	if defaultAgent == "" && len(agents) == 1 {
		for id := range agents {
			defaultAgent = id
		}
	}
	if _, ok := agents[defaultAgent]; !ok {
		_ = st.Close()
		return nil, fmt.Errorf("default agent %q not found in %s", defaultAgent, cfg.AgentsDir)
	}

	prov, err := resolveProviders(cfg, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	audio, err := telephony.NewServer(telephony.ServerDeps{
		Config: telephony.ServerConfig{
			BindAddr:         cfg.TCPBindAddr,
			SampleRate:       cfg.SampleRate,
			SpeechThreshold:  cfg.SpeechThreshold,
			BargeInThreshold: cfg.BargeInThreshold,
			SilenceHold:      cfg.SilenceHold,
			MinSpeakChars:    cfg.MinSpeakChars,
			CharsPerSecond:   int(cfg.CharsPerSecond),
			ConnectTimeout:   cfg.ProviderConnectTimeout,
		},
		Agents:         agents,
		DefaultAgentID: defaultAgent,
		Providers:      prov,
		Store:          st,
		Registry:       reg,
		Metrics:        metrics,
		Logger:         log,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	api := httpapi.New(cfg, reg, metrics, log)

	return &BuildResult{
		Config:   cfg,
		Logger:   log,
		Metrics:  metrics,
		Registry: reg,
		Store:    st,
		Audio:    audio,
		API:      api,
		Cleanup:  st.Close,
	}, nil
}

// resolveProviders picks the vendor adapters once at startup. The language
// model uses OpenAI when a key is configured and the deterministic mock
// otherwise; speech providers ship as mocks, with vendor adapters slotting
// in behind the same interfaces.
func resolveProviders(cfg config.Config, log *zap.Logger) (telephony.Providers, error) {
	prov := telephony.Providers{
		STT: providers.NewMockSTT(),
		TTS: providers.NewMockTTS(),
	}

	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		llm, err := openai.NewLLM(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		if err != nil {
			return telephony.Providers{}, fmt.Errorf("openai llm init failed: %w", err)
		}
		prov.LLM = llm
		log.Info("llm provider: openai")
		return prov, nil
	}

	prov.LLM = providers.NewMockLLM()
	log.Info("llm provider: mock (OPENAI_API_KEY not set)")
	return prov, nil
}
