package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the RPG MCP server.
// Precedence: environment variables > config file > defaults.
type Config struct {
	Encoding   EncodingConfig   `toml:"encoding"`
	Navigation NavigationConfig `toml:"navigation"`
	Hierarchy  HierarchyConfig  `toml:"hierarchy"`
	Server     ServerConfig     `toml:"server"`
	Transport  TransportConfig  `toml:"transport"`
	Log        LogConfig        `toml:"log"`
	Janitor    JanitorConfig    `toml:"janitor"`
	Collaborators CollaboratorsConfig `toml:"collaborators"`
}

// CollaboratorsConfig points at the out-of-process parser and embedding
// collaborators (§9 Polymorphism, §4.7): HTTP endpoints the core calls
// but never owns. Empty URLs mean the collaborator is absent — build_rpg
// reports a KindParseCollaborator error, and search degrades to
// lexical-only.
type CollaboratorsConfig struct {
	ParserURL    string `toml:"parser_url"`
	EmbeddingURL string `toml:"embedding_url"`
	TimeoutSeconds int  `toml:"timeout_seconds"`
}

// EncodingConfig controls lifting batching and drift classification.
type EncodingConfig struct {
	BatchSize            int     `toml:"batch_size"`
	MaxBatchTokens       int     `toml:"max_batch_tokens"`
	DriftThreshold       float64 `toml:"drift_threshold"`
	DriftIgnoreThreshold float64 `toml:"drift_ignore_threshold"`
	DriftAutoThreshold   float64 `toml:"drift_auto_threshold"`

	// Auto-lift heuristic thresholds (tunable per the open question in
	// the design notes: implementers should expose these as config
	// rather than guessing intent).
	AutoLiftMaxBranches int `toml:"auto_lift_max_branches"`
	AutoLiftMaxLoops    int `toml:"auto_lift_max_loops"`
	AutoLiftMaxCalls    int `toml:"auto_lift_max_calls"`
	ReviewBranches      int `toml:"review_branches"`
	ReviewCalls         int `toml:"review_calls"`
}

// NavigationConfig controls search scoring and diff-aware boosting.
type NavigationConfig struct {
	SearchResultLimit     int     `toml:"search_result_limit"`
	SemanticWeight        float64 `toml:"semantic_weight"`
	LexicalWeight         float64 `toml:"lexical_weight"`
	EmbeddingEnabled      bool    `toml:"embedding_enabled"`
	DiffBoostChanged      float64 `toml:"diff_boost_changed"`
	DiffBoost1Hop         float64 `toml:"diff_boost_1hop"`
	DiffBoost2Hop         float64 `toml:"diff_boost_2hop"`
	DiffCandidateMultiple int     `toml:"diff_candidate_multiplier"`
}

// HierarchyConfig controls clustering for large repositories.
type HierarchyConfig struct {
	ClusterSizeThreshold int `toml:"cluster_size_threshold"`
	ClusterTargetSize    int `toml:"cluster_target_size"`
}

// ServerConfig holds MCP server metadata.
type ServerConfig struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// TransportConfig holds transport-related settings.
type TransportConfig struct {
	// Mode selects the transport: "stdio" (default) or "http".
	Mode string `toml:"mode"`
	// Port is the HTTP listen port (default: 21452). Only used when Mode is "http".
	Port string `toml:"port"`
	// Host is the HTTP listen address (default: "0.0.0.0"). Only used when Mode is "http".
	Host string `toml:"host"`
	// CORSOrigins is a comma-separated list of allowed CORS origins (default: "*").
	CORSOrigins string `toml:"cors_origins"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// JanitorConfig holds background consistency-check scheduling.
type JanitorConfig struct {
	Enabled       bool `toml:"enabled"`        // Enable scheduled consistency checks
	IntervalHours int  `toml:"interval_hours"` // How often to run (in hours)
}

// Load creates a Config by reading from a TOML config file and environment
// variables. Precedence: environment variables > config file > defaults.
//
// Config file search order (first found wins):
//  1. Path passed via configPath parameter (from --config flag)
//  2. RPGMCP_CONFIG environment variable
//  3. ./.rpg/config.toml (current repository)
//  4. ~/.config/rpgmcp/config.toml (XDG-style)
//
// All fields are optional in the config file. Environment variables always
// override file values.
func Load(configPath string) (*Config, error) {
	// Start with defaults
	cfg := &Config{
		Encoding: EncodingConfig{
			BatchSize:            50,
			MaxBatchTokens:       8000,
			DriftThreshold:       0.5,
			DriftIgnoreThreshold: 0.3,
			DriftAutoThreshold:   0.7,
			AutoLiftMaxBranches:  0,
			AutoLiftMaxLoops:     0,
			AutoLiftMaxCalls:     2,
			ReviewBranches:       1,
			ReviewCalls:          3,
		},
		Navigation: NavigationConfig{
			SearchResultLimit:     10,
			SemanticWeight:        0.6,
			LexicalWeight:         0.4,
			EmbeddingEnabled:      true,
			DiffBoostChanged:      3.0,
			DiffBoost1Hop:         2.0,
			DiffBoost2Hop:         1.5,
			DiffCandidateMultiple: 10,
		},
		Hierarchy: HierarchyConfig{
			ClusterSizeThreshold: 100,
			ClusterTargetSize:    70,
		},
		Server: ServerConfig{
			Name:    "rpgmcp",
			Version: "0.1.0",
		},
		Transport: TransportConfig{
			Mode:        "stdio",
			Port:        "21452",
			Host:        "0.0.0.0",
			CORSOrigins: "*",
		},
		Log: LogConfig{
			Level: "info",
		},
		Janitor: JanitorConfig{
			Enabled:       false,
			IntervalHours: 1,
		},
		Collaborators: CollaboratorsConfig{
			TimeoutSeconds: 30,
		},
	}

	// Layer config file values on top of defaults
	if err := cfg.loadFile(configPath); err != nil {
		return nil, err
	}

	// Layer environment variables on top (always win)
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile finds and parses the TOML config file. If no file is found,
// this is a no-op (config file is optional).
func (c *Config) loadFile(configPath string) error {
	path := resolveConfigPath(configPath)
	if path == "" {
		return nil // no config file found; rely on defaults + env
	}

	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	return nil
}

// resolveConfigPath determines which config file to use. Returns empty string
// if no config file is found (config file is optional).
func resolveConfigPath(explicit string) string {
	// 1. Explicit path from --config flag
	if explicit != "" {
		return explicit // caller wants this file; let DecodeFile report if missing
	}

	// 2. RPGMCP_CONFIG env var
	if p := os.Getenv("RPGMCP_CONFIG"); p != "" {
		return p
	}

	// 3. ./.rpg/config.toml in current repository
	if _, err := os.Stat(".rpg/config.toml"); err == nil {
		return ".rpg/config.toml"
	}

	// 4. ~/.config/rpgmcp/config.toml
	if home, err := os.UserHomeDir(); err == nil {
		p := home + "/.config/rpgmcp/config.toml"
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// applyEnv overlays environment variables on top of existing config values.
// An env var only takes effect if it is non-empty.
func (c *Config) applyEnv() {
	// Encoding
	envOverrideInt("RPGMCP_BATCH_SIZE", &c.Encoding.BatchSize)
	envOverrideInt("RPGMCP_MAX_BATCH_TOKENS", &c.Encoding.MaxBatchTokens)
	envOverrideFloat("RPGMCP_DRIFT_THRESHOLD", &c.Encoding.DriftThreshold)
	envOverrideFloat("RPGMCP_DRIFT_IGNORE_THRESHOLD", &c.Encoding.DriftIgnoreThreshold)
	envOverrideFloat("RPGMCP_DRIFT_AUTO_THRESHOLD", &c.Encoding.DriftAutoThreshold)

	// Navigation
	envOverrideInt("RPGMCP_SEARCH_RESULT_LIMIT", &c.Navigation.SearchResultLimit)
	envOverrideFloat("RPGMCP_SEMANTIC_WEIGHT", &c.Navigation.SemanticWeight)
	envOverrideFloat("RPGMCP_LEXICAL_WEIGHT", &c.Navigation.LexicalWeight)
	if v := os.Getenv("RPGMCP_EMBEDDING_ENABLED"); v != "" {
		c.Navigation.EmbeddingEnabled = (v == "true" || v == "1")
	}

	// Transport
	envOverride("RPGMCP_TRANSPORT", &c.Transport.Mode)
	envOverride("RPGMCP_PORT", &c.Transport.Port)
	envOverride("RPGMCP_HOST", &c.Transport.Host)
	envOverride("RPGMCP_CORS_ORIGINS", &c.Transport.CORSOrigins)

	// Logging
	envOverride("RPGMCP_LOG_LEVEL", &c.Log.Level)

	// Janitor
	if v := os.Getenv("RPGMCP_JANITOR_ENABLED"); v != "" {
		c.Janitor.Enabled = (v == "true" || v == "1")
	}
	envOverrideInt("RPGMCP_JANITOR_INTERVAL_HOURS", &c.Janitor.IntervalHours)

	// Collaborators
	envOverride("RPGMCP_PARSER_URL", &c.Collaborators.ParserURL)
	envOverride("RPGMCP_EMBEDDING_URL", &c.Collaborators.EmbeddingURL)
	envOverrideInt("RPGMCP_COLLABORATOR_TIMEOUT_SECONDS", &c.Collaborators.TimeoutSeconds)
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.Transport.Mode {
	case "stdio", "http":
	default:
		return fmt.Errorf("invalid transport mode: %q (must be \"stdio\" or \"http\")", c.Transport.Mode)
	}

	if c.Encoding.DriftIgnoreThreshold > c.Encoding.DriftAutoThreshold {
		return fmt.Errorf("encoding.drift_ignore_threshold (%v) must not exceed encoding.drift_auto_threshold (%v)",
			c.Encoding.DriftIgnoreThreshold, c.Encoding.DriftAutoThreshold)
	}
	if c.Encoding.BatchSize <= 0 {
		return fmt.Errorf("encoding.batch_size must be positive")
	}
	if c.Hierarchy.ClusterTargetSize <= 0 {
		return fmt.Errorf("hierarchy.cluster_target_size must be positive")
	}

	return nil
}

// envOverride sets *dst to the value of the named env var, if it is non-empty.
func envOverride(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envOverrideInt sets *dst to the parsed value of the named env var, if present and valid.
func envOverrideInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
		*dst = n
	}
}

// envOverrideFloat sets *dst to the parsed value of the named env var, if present and valid.
func envOverrideFloat(key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var f float64
	if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
		*dst = f
	}
}
