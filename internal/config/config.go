package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"fleetctl/internal/logging"
)

// Config holds all fleetctl configuration.
type Config struct {
	// Name and Generation identify this fleet deployment. Generation maps
	// to HFO_GENERATION and feeds the exempt-pattern namespace.
	Name       string `yaml:"name"`
	Generation string `yaml:"generation"`

	// FleetRoot is the root directory containing the store database,
	// logs, and state files (HFO_ROOT).
	FleetRoot string `yaml:"fleet_root"`

	Store       StoreConfig       `yaml:"store"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Watchdog    WatchdogConfig    `yaml:"watchdog"`
	LLM         LLMConfig         `yaml:"llm"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Logging     LoggingConfig     `yaml:"logging"`
	Server      ServerConfig      `yaml:"server"`
}

// StoreConfig configures the SQLite-backed store (C1).
type StoreConfig struct {
	// Path is the SQLite database file, relative to FleetRoot unless absolute.
	Path string `yaml:"path"`
	// Namespace is the event-type prefix root, e.g. "hfo".
	Namespace string `yaml:"namespace"`
	// PriorGenerations lists generation strings fully exempt from the
	// signal_metadata gate, for cross-generation compatibility.
	PriorGenerations []string `yaml:"prior_generations"`
	// RequireVec fails startup if the sqlite-vec extension is unavailable.
	RequireVec bool `yaml:"require_vec"`
}

// SchedulerConfig configures the fixed-cadence tick loop (C7). Cadences
// are expressed in seconds.
type SchedulerConfig struct {
	HeartbeatSeconds  int `yaml:"heartbeat_seconds"`
	EnrichmentSeconds int `yaml:"enrichment_seconds"`
	EmbedSweepSeconds int `yaml:"embed_sweep_seconds"`
	ResearchSeconds   int `yaml:"research_seconds"`
	GovernanceSeconds int `yaml:"governance_seconds"`
	AuditSeconds      int `yaml:"audit_seconds"`
	WatchdogSeconds   int `yaml:"watchdog_seconds"`
	// IOWorkerLimit bounds the errgroup-managed I/O worker pool used for
	// provider fetches during the research/enrichment cadences.
	IOWorkerLimit int `yaml:"io_worker_limit"`
}

// CoordinatorConfig configures the pheromone-scoring coordinator (C6).
type CoordinatorConfig struct {
	WindowHours           int     `yaml:"window_hours"`
	EvaporationRate       float64 `yaml:"evaporation_rate"`
	MinPheromone          float64 `yaml:"min_pheromone"`
	ExplorationProb       float64 `yaml:"exploration_probability"`
	DefaultWishConfidence float64 `yaml:"default_wish_confidence"`
}

// WatchdogConfig configures the lifecycle and defense supervisors (C8).
type WatchdogConfig struct {
	StaleMinutes        int    `yaml:"stale_minutes"`
	FleetStatePath      string `yaml:"fleet_state_path"`
	SupervisorStatePath string `yaml:"supervisor_state_path"`
}

// LLMConfig points at the external model servers consumed as opaque
// collaborators. The core never inspects model behavior, only the
// provider/model_id strings it carries.
type LLMConfig struct {
	OllamaHost  string `yaml:"ollama_host"`
	GenAIModel  string `yaml:"genai_model"`
	GenAIAPIKey string `yaml:"genai_api_key"`
}

// EmbeddingConfig selects and configures the vector-embedding backend
// C10 uses to turn a claimed document into the BLOB stored in the
// embeddings table. OllamaHost and the GenAI credentials are shared
// with LLMConfig rather than duplicated.
type EmbeddingConfig struct {
	Provider    string `yaml:"provider"` // "ollama" or "genai"
	OllamaModel string `yaml:"ollama_model"`
	GenAIModel  string `yaml:"genai_model"`
	TaskType    string `yaml:"task_type"` // GenAI task type, e.g. "SEMANTIC_SIMILARITY"
}

// LoggingConfig mirrors the category logger's on-disk config shape so
// Config.Save can persist it alongside the rest of the fleet settings.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// ServerConfig configures the read-only HTTP surface (serve subcommand):
// /metrics, /healthz, and /events.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	EventsLimit    int    `yaml:"events_limit"`
	ReadTimeoutSec int    `yaml:"read_timeout_seconds"`
}

// DefaultConfig returns the default configuration, with the fleet's
// fixed cadences and constants.
func DefaultConfig() *Config {
	return &Config{
		Name:       "fleetctl",
		Generation: "1",
		FleetRoot:  ".",

		Store: StoreConfig{
			Path:       "data/fleet.db",
			Namespace:  "hfo",
			RequireVec: false,
		},

		Scheduler: SchedulerConfig{
			HeartbeatSeconds:  60,
			EnrichmentSeconds: 120,
			EmbedSweepSeconds: 300,
			ResearchSeconds:   900,
			GovernanceSeconds: 1800,
			AuditSeconds:      3600,
			WatchdogSeconds:   21600,
			IOWorkerLimit:     4,
		},

		Coordinator: CoordinatorConfig{
			WindowHours:           24,
			EvaporationRate:       0.10,
			MinPheromone:          0.01,
			ExplorationProb:       0.10,
			DefaultWishConfidence: 0.3,
		},

		Watchdog: WatchdogConfig{
			StaleMinutes:        15,
			FleetStatePath:      ".fleet_state.json",
			SupervisorStatePath: ".p5_supervisor_state.json",
		},

		LLM: LLMConfig{
			OllamaHost: "http://127.0.0.1:11434",
			GenAIModel: "gemini-embedding-001",
		},

		Embedding: EmbeddingConfig{
			Provider:    "ollama",
			OllamaModel: "embeddinggemma",
			GenAIModel:  "gemini-embedding-001",
			TaskType:    "SEMANTIC_SIMILARITY",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},

		Server: ServerConfig{
			Addr:           "127.0.0.1:9091",
			EventsLimit:    100,
			ReadTimeoutSec: 5,
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults
// when the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	logging.BootDebug("loading config from: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Boot("config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		logging.BootError("failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		logging.BootError("failed to parse config file %s: %v", path, err)
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	logging.Boot("config loaded: fleet_root=%s generation=%s", cfg.FleetRoot, cfg.Generation)
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies the supported environment variable
// overrides: HFO_ROOT, HFO_GENERATION, OLLAMA_HOST, GENAI_API_KEY.
func (c *Config) applyEnvOverrides() {
	if root := os.Getenv("HFO_ROOT"); root != "" {
		c.FleetRoot = root
	}
	if gen := os.Getenv("HFO_GENERATION"); gen != "" {
		c.Generation = gen
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		c.LLM.OllamaHost = host
	}
	if key := os.Getenv("GENAI_API_KEY"); key != "" {
		c.LLM.GenAIAPIKey = key
	}
}

// StorePath resolves the store's database path against FleetRoot.
func (c *Config) StorePath() string {
	if filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(c.FleetRoot, c.Store.Path)
}

// StateFilePath resolves a state file name (e.g. FleetStatePath) against
// FleetRoot, matching the store's filesystem state file convention.
func (c *Config) StateFilePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.FleetRoot, name)
}

// GetLLMTimeout returns a sane default client timeout for provider calls.
func (c *Config) GetLLMTimeout() time.Duration {
	return 120 * time.Second
}
