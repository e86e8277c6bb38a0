package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vantagestack/vantage-intel/internal/models"
)

// Config captures the settings required to boot the intelligence engine.
type Config struct {
	Server       ServerConfig           `yaml:"server"`
	Logging      LoggingConfig          `yaml:"logging"`
	Signals      SignalsConfig          `yaml:"signals"`
	Orchestrator OrchestratorConfig     `yaml:"orchestrator"`
	Cache        CacheConfig            `yaml:"cache"`
	Store        StoreConfig            `yaml:"store"`
	Similarity   SimilarityConfig       `yaml:"similarity"`
	Anomaly      AnomalyConfig          `yaml:"anomaly"`
	Alerting     AlertingConfig         `yaml:"alerting"`
	Classify     ClassifyConfig         `yaml:"classify"`
	Notify       NotifyConfig           `yaml:"notify"`
	Monitors     []models.MonitorConfig `yaml:"monitors"`
}

// ServerConfig controls the metrics listener and shutdown behaviour.
type ServerConfig struct {
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// SignalsConfig configures access to the upstream intelligence data API.
type SignalsConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	MetricsPath string        `yaml:"metricsPath"`
	FactsPath   string        `yaml:"factsPath"`
	Timeout     time.Duration `yaml:"timeout"`
}

// OrchestratorConfig tunes phased worker execution.
type OrchestratorConfig struct {
	WorkerTimeout   time.Duration            `yaml:"workerTimeout"`
	WorkerTimeouts  map[string]time.Duration `yaml:"workerTimeouts"`
	FailurePenalty  float64                  `yaml:"failurePenalty"`
	ConfidenceFloor float64                  `yaml:"confidenceFloor"`
	ResultTTL       time.Duration            `yaml:"resultTTL"`
	SingleFlight    bool                     `yaml:"singleFlight"`
}

// CacheConfig controls Valkey-backed caching of analysis results.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// StoreConfig controls the embedded snapshot/alert store.
type StoreConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"inMemory"`
}

// SimilarityConfig controls semantic cache recall.
type SimilarityConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold float64       `yaml:"threshold"`
	Endpoint  string        `yaml:"endpoint"`
	APIKey    string        `yaml:"apiKey"`
	Timeout   time.Duration `yaml:"timeout"`
}

// AnomalyConfig tunes statistical detection.
type AnomalyConfig struct {
	MinHistory      int     `yaml:"minHistory"`
	PointSigma      float64 `yaml:"pointSigma"`
	Window          int     `yaml:"window"`
	Period          int     `yaml:"period"`
	TrendSustained  int     `yaml:"trendSustained"`
	VolatilityRatio float64 `yaml:"volatilityRatio"`
}

// AlertingConfig tunes scoring, throttling and the daily cap.
type AlertingConfig struct {
	DailyCap int `yaml:"dailyCap"`
}

// ClassifyConfig points at the metric-namespace to change-type pack.
type ClassifyConfig struct {
	Path string `yaml:"path"`
}

// NotifyConfig configures outbound alert channels.
type NotifyConfig struct {
	WebhookURL     string        `yaml:"webhookURL"`
	WebhookTimeout time.Duration `yaml:"webhookTimeout"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("VANTAGE_INTEL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Signals: SignalsConfig{
			MetricsPath: "/api/v1/intel/metrics",
			FactsPath:   "/api/v1/intel/facts",
			Timeout:     5 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			WorkerTimeout:   30 * time.Second,
			FailurePenalty:  0.10,
			ConfidenceFloor: 0.3,
			// Below the scheduler's default 5m frequency: a scheduled check
			// must re-execute, not diff a replayed result against itself.
			ResultTTL:       4 * time.Minute,
			SingleFlight:    true,
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Store:      StoreConfig{Path: "data/intel"},
		Similarity: SimilarityConfig{Threshold: 0.85, Timeout: 5 * time.Second},
		Anomaly: AnomalyConfig{
			MinHistory:      10,
			PointSigma:      3,
			Window:          20,
			Period:          7,
			TrendSustained:  2,
			VolatilityRatio: 2,
		},
		Alerting: AlertingConfig{DailyCap: 5},
		Classify: ClassifyConfig{Path: "configs/metric-types.yaml"},
		Notify:   NotifyConfig{WebhookTimeout: 5 * time.Second},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VANTAGE_INTEL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("VANTAGE_INTEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VANTAGE_INTEL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("VANTAGE_INTEL_SIGNALS_BASE_URL"); v != "" {
		cfg.Signals.BaseURL = v
	}
	if v := os.Getenv("VANTAGE_INTEL_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("VANTAGE_INTEL_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("VANTAGE_INTEL_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("VANTAGE_INTEL_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("VANTAGE_INTEL_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("VANTAGE_INTEL_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("VANTAGE_INTEL_CACHE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("VANTAGE_INTEL_SIMILARITY_ENDPOINT"); v != "" {
		cfg.Similarity.Endpoint = v
		cfg.Similarity.Enabled = true
	}
	if v := os.Getenv("VANTAGE_INTEL_SIMILARITY_API_KEY"); v != "" {
		cfg.Similarity.APIKey = v
	}
	if v := os.Getenv("VANTAGE_INTEL_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Similarity.Threshold = f
		}
	}
	if v := os.Getenv("VANTAGE_INTEL_WORKER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Orchestrator.WorkerTimeout = d
		}
	}
	if v := os.Getenv("VANTAGE_INTEL_RESULT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Orchestrator.ResultTTL = d
		}
	}
	if v := os.Getenv("VANTAGE_INTEL_CLASSIFY_PATH"); v != "" {
		cfg.Classify.Path = v
	}
	if v := os.Getenv("VANTAGE_INTEL_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
}
