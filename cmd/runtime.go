package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/KaramelBytes/csvlens/internal/ai"
	cfgpkg "github.com/KaramelBytes/csvlens/internal/config"
	"github.com/KaramelBytes/csvlens/internal/insight"
)

// buildRuntime turns config into a chat-completion runtime. The credential is
// not baked in; it is supplied per call.
func buildRuntime(cfg *cfgpkg.Global) (ai.Runtime, string, error) {
	httpTimeout := 60 * time.Second
	retryMax := 1
	baseDelay := 500 * time.Millisecond
	maxDelay := 4 * time.Second
	if cfg.HTTPTimeoutSec > 0 {
		httpTimeout = time.Duration(cfg.HTTPTimeoutSec) * time.Second
	}
	if cfg.RetryMaxAttempts > 0 {
		retryMax = cfg.RetryMaxAttempts
	}
	if cfg.RetryBaseDelayMs > 0 {
		baseDelay = time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond
	}
	if cfg.RetryMaxDelayMs > 0 {
		maxDelay = time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond
	}

	providerName := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if providerName == "" {
		providerName = ai.ProviderOpenAI
	}
	rc := ai.RuntimeConfig{
		HTTPTimeout: httpTimeout,
		RetryMax:    retryMax,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		Host:        cfg.OllamaHost,
	}
	// base_url defaults to the HF router; openrouter keeps its own endpoint
	// unless the user pointed base_url elsewhere.
	if providerName != ai.ProviderOpenRouter || cfg.BaseURL != ai.DefaultBaseURL {
		rc.BaseURL = cfg.BaseURL
	}

	rt, ok := ai.GetRuntime(providerName, rc)
	if !ok {
		return nil, providerName, fmt.Errorf("provider not supported: %s (use one of %s)", providerName, strings.Join(ai.Providers(), ", "))
	}
	return rt, providerName, nil
}

// buildInsight returns the role mapper and summarizer for cfg.
func buildInsight(cfg *cfgpkg.Global) (*insight.RoleMapper, *insight.Summarizer, error) {
	rt, _, err := buildRuntime(cfg)
	if err != nil {
		return nil, nil, err
	}
	sum := insight.NewSummarizer(rt, cfg.Model)
	if cfg.SampleRows > 0 {
		sum.SampleRows = cfg.SampleRows
	}
	sum.TokenLimit = cfg.PromptTokenLimit
	return insight.NewRoleMapper(rt, cfg.Model), sum, nil
}
