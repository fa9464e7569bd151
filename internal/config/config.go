package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Global configuration structure.
type Global struct {
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
	Provider string `mapstructure:"provider" yaml:"provider"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	Model    string `mapstructure:"model" yaml:"model"`

	// HTTP/Retry configuration
	HTTPTimeoutSec   int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`

	// Local runtimes (Ollama)
	OllamaHost string `mapstructure:"ollama_host" yaml:"ollama_host"`

	// Analysis
	TopN             int `mapstructure:"top_n" yaml:"top_n"`
	SampleRows       int `mapstructure:"sample_rows" yaml:"sample_rows"`
	HistogramBins    int `mapstructure:"histogram_bins" yaml:"histogram_bins"`
	MaxRows          int `mapstructure:"max_rows" yaml:"max_rows"`
	PromptTokenLimit int `mapstructure:"prompt_token_limit" yaml:"prompt_token_limit"`

	// Web UI
	ListenAddr    string   `mapstructure:"listen_addr" yaml:"listen_addr"`
	MaxUploadMB   int      `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	CORSOrigins   []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	SessionTTLMin int      `mapstructure:"session_ttl_min" yaml:"session_ttl_min"`
}

// Dir returns ~/.csvlens.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".csvlens"), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.csvlens/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		dir, err := Dir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", "openai")
	v.SetDefault("base_url", "https://router.huggingface.co/v1")
	v.SetDefault("model", "meta-llama/Llama-3.3-70B-Instruct:groq")
	v.SetDefault("http_timeout_sec", 60)
	v.SetDefault("retry_max_attempts", 1)
	v.SetDefault("retry_base_delay_ms", 500)
	v.SetDefault("retry_max_delay_ms", 4000)
	v.SetDefault("ollama_host", "http://127.0.0.1:11434")
	v.SetDefault("top_n", 10)
	v.SetDefault("sample_rows", 5)
	v.SetDefault("histogram_bins", 0)
	v.SetDefault("max_rows", 0)
	v.SetDefault("prompt_token_limit", 6000)
	v.SetDefault("listen_addr", ":8501")
	v.SetDefault("max_upload_mb", 50)
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("session_ttl_min", 60)
}

// Load loads configuration from .env, environment, config file and defaults.
// Precedence: env > config file > defaults; command flags are applied by the caller.
func Load(cfgFile string) (*Global, error) {
	// .env only fills variables that are not already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("CSVLENS")
	v.AutomaticEnv()
	// Tokens are commonly exported under their provider's name.
	if err := v.BindEnv("api_key", "CSVLENS_API_KEY", "HF_TOKEN", "OPENROUTER_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// Set assigns one key from its textual form, validating numbers and providers.
func (c *Global) Set(key, val string) error {
	atoi := func(min int) (int, error) {
		i, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil || i < min {
			return 0, fmt.Errorf("invalid int for %s: %v", key, val)
		}
		return i, nil
	}
	var err error
	switch key {
	case "api_key":
		c.APIKey = val
	case "provider":
		p := strings.ToLower(strings.TrimSpace(val))
		switch p {
		case "openai", "huggingface", "openrouter", "ollama", "local":
			c.Provider = p
		default:
			return fmt.Errorf("invalid provider: %s (use openai, huggingface, openrouter or ollama)", val)
		}
	case "base_url":
		c.BaseURL = strings.TrimRight(val, "/")
	case "model":
		c.Model = val
	case "ollama_host":
		c.OllamaHost = val
	case "listen_addr":
		c.ListenAddr = val
	case "cors_origins":
		c.CORSOrigins = nil
		for _, o := range strings.Split(val, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORSOrigins = append(c.CORSOrigins, o)
			}
		}
	case "http_timeout_sec":
		c.HTTPTimeoutSec, err = atoi(1)
	case "retry_max_attempts":
		c.RetryMaxAttempts, err = atoi(1)
	case "retry_base_delay_ms":
		c.RetryBaseDelayMs, err = atoi(0)
	case "retry_max_delay_ms":
		c.RetryMaxDelayMs, err = atoi(0)
	case "top_n":
		c.TopN, err = atoi(1)
	case "sample_rows":
		c.SampleRows, err = atoi(0)
	case "histogram_bins":
		c.HistogramBins, err = atoi(0)
	case "max_rows":
		c.MaxRows, err = atoi(0)
	case "prompt_token_limit":
		c.PromptTokenLimit, err = atoi(0)
	case "max_upload_mb":
		c.MaxUploadMB, err = atoi(1)
	case "session_ttl_min":
		c.SessionTTLMin, err = atoi(1)
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return err
}

// Entries returns every key with its display value, secrets masked, sorted by key.
func (c *Global) Entries() [][2]string {
	out := [][2]string{
		{"api_key", Mask(c.APIKey)},
		{"provider", c.Provider},
		{"base_url", c.BaseURL},
		{"model", c.Model},
		{"ollama_host", c.OllamaHost},
		{"http_timeout_sec", strconv.Itoa(c.HTTPTimeoutSec)},
		{"retry_max_attempts", strconv.Itoa(c.RetryMaxAttempts)},
		{"retry_base_delay_ms", strconv.Itoa(c.RetryBaseDelayMs)},
		{"retry_max_delay_ms", strconv.Itoa(c.RetryMaxDelayMs)},
		{"top_n", strconv.Itoa(c.TopN)},
		{"sample_rows", strconv.Itoa(c.SampleRows)},
		{"histogram_bins", strconv.Itoa(c.HistogramBins)},
		{"max_rows", strconv.Itoa(c.MaxRows)},
		{"prompt_token_limit", strconv.Itoa(c.PromptTokenLimit)},
		{"listen_addr", c.ListenAddr},
		{"max_upload_mb", strconv.Itoa(c.MaxUploadMB)},
		{"cors_origins", strings.Join(c.CORSOrigins, ",")},
		{"session_ttl_min", strconv.Itoa(c.SessionTTLMin)},
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// Mask hides all but the ends of a secret.
func Mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "******"
	}
	return s[:3] + "****" + s[len(s)-3:]
}
