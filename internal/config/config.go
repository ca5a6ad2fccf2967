package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectType represents the type of project detected.
type ProjectType string

const (
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeNode    ProjectType = "node"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeUnknown ProjectType = "unknown"
)

// Config represents the complete ragkb configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Paths       PathsConfig       `yaml:"paths" json:"paths"`
	Search      SearchConfig      `yaml:"search" json:"search"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Contextual  ContextualConfig  `yaml:"contextual" json:"contextual"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Server      ServerConfig      `yaml:"server" json:"server"`
	Reranking   RerankingConfig   `yaml:"reranking" json:"reranking"`
	Cache       CacheConfig       `yaml:"cache" json:"cache"`
	Expansion   ExpansionConfig   `yaml:"query_expansion" json:"query_expansion"`
	Watch       WatchConfig       `yaml:"watch" json:"watch"`
	SelfHeal    SelfHealConfig    `yaml:"self_heal" json:"self_heal"`
	HTTP        HTTPConfig        `yaml:"http" json:"http"`
}

// PathsConfig configures which paths to include and exclude.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// SearchConfig configures hybrid search parameters.
// Weights and RRF constant are configurable via:
//  1. User config (~/.config/ragkb/config.yaml) - personal defaults
//  2. Project config (.ragkb.yaml) - per-repo tuning
//  3. Env vars (RAGKB_BM25_WEIGHT, RAGKB_SEMANTIC_WEIGHT, RAGKB_RRF_CONSTANT) - highest priority
type SearchConfig struct {
	// BM25Weight is the weight for BM25 keyword matching (0.0-1.0).
	// Must sum to 1.0 with SemanticWeight.
	BM25Weight float64 `yaml:"bm25_weight" json:"bm25_weight"`

	// SemanticWeight is the weight for semantic similarity (0.0-1.0).
	// Must sum to 1.0 with BM25Weight.
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`

	// RRFConstant is the RRF fusion smoothing parameter (k).
	// Default: 60 (industry standard used by Azure AI Search, OpenSearch).
	// Higher values reduce the impact of rank differences.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// LexicalBackend selects the lexical (BM25) index backend.
	// Options: "bleve" (default, segment-based) or "sqlite_fts" (FTS5, shares
	// the metadata DB connection, useful for concurrent multi-process access).
	LexicalBackend string `yaml:"lexical_backend" json:"lexical_backend"`

	// VectorBackend selects the vector index backend.
	// Options: "hnsw" (default, approximate, scales to large corpora) or
	// "flat" (brute-force dot product scan, exact, only for small corpora).
	VectorBackend string `yaml:"vector_backend" json:"vector_backend"`

	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
	MaxResults   int `yaml:"max_results" json:"max_results"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider             string        `yaml:"provider" json:"provider"`
	Model                string        `yaml:"model" json:"model"`
	Dimensions           int           `yaml:"dimensions" json:"dimensions"`
	BatchSize            int           `yaml:"batch_size" json:"batch_size"`
	Workers              int           `yaml:"workers" json:"workers"`
	MaxPending           int           `yaml:"max_pending" json:"max_pending"`
	ModelDownloadTimeout time.Duration `yaml:"model_download_timeout" json:"model_download_timeout"`

	// Ollama settings (default, cross-platform)
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"` // Ollama API endpoint (default: http://localhost:11434)

	// Thermal management settings for sustained embedding workloads.
	// These help prevent timeout failures during long indexing operations.
	InterBatchDelay        string  `yaml:"inter_batch_delay" json:"inter_batch_delay"`               // Pause between batches (e.g., "200ms", "0" = disabled)
	TimeoutProgression     float64 `yaml:"timeout_progression" json:"timeout_progression"`           // Timeout multiplier for later batches (1.0-3.0, default: 1.0)
	RetryTimeoutMultiplier float64 `yaml:"retry_timeout_multiplier" json:"retry_timeout_multiplier"` // Timeout multiplier per retry (1.0-2.0, default: 1.0)
}

// PerformanceConfig configures performance tuning options.
type PerformanceConfig struct {
	MaxFiles      int    `yaml:"max_files" json:"max_files"`
	IndexWorkers  int    `yaml:"index_workers" json:"index_workers"`
	CacheSize     int    `yaml:"cache_size" json:"cache_size"`
	MemoryLimit   string `yaml:"memory_limit" json:"memory_limit"`
	SQLiteCacheMB int    `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"` // SQLite cache size in MB (default: 64)
}

// ServerConfig configures general server behavior shared by CLI and HTTP entry points.
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// HTTPConfig configures the HTTP query/admin surface (internal/httpapi).
type HTTPConfig struct {
	// Addr is the listen address, e.g. ":8080" or "127.0.0.1:8080".
	Addr string `yaml:"addr" json:"addr"`
}

// RerankingConfig configures the optional cross-encoder reranking pass.
type RerankingConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Model   string `yaml:"model" json:"model"`
	TopN    int    `yaml:"top_n" json:"top_n"`
}

// CacheConfig configures the query-result LRU cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	MaxSize int  `yaml:"max_size" json:"max_size"`
}

// ExpansionConfig configures LLM-backed query expansion.
type ExpansionConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Model   string `yaml:"model" json:"model"`
}

// WatchConfig configures the filesystem watcher driving incremental indexing.
type WatchConfig struct {
	Enabled         bool `yaml:"enabled" json:"enabled"`
	DebounceSeconds int  `yaml:"debounce_seconds" json:"debounce_seconds"`
	BatchSize       int  `yaml:"batch_size" json:"batch_size"`
}

// SelfHealConfig configures the startup self-healing pass (C8).
type SelfHealConfig struct {
	// AutoSelfHeal runs config validation, resume and repair automatically at startup.
	AutoSelfHeal bool `yaml:"auto_self_heal" json:"auto_self_heal"`
	// AutoRepairOrphans re-enqueues completed ledger rows with no backing document.
	AutoRepairOrphans bool `yaml:"auto_repair_orphans" json:"auto_repair_orphans"`
	// CheckHNSWHealth runs the vector/lexical consistency checker at startup.
	CheckHNSWHealth bool `yaml:"check_hnsw_health" json:"check_hnsw_health"`
	// OrphanThreshold is the orphan ratio that flags the vector index for compaction.
	OrphanThreshold float64 `yaml:"orphan_threshold" json:"orphan_threshold"`
	// MinOrphanCount is the minimum number of orphans before flagging compaction.
	MinOrphanCount int `yaml:"min_orphan_count" json:"min_orphan_count"`
}

// ContextualConfig configures contextual retrieval.
// Uses a small local LLM to generate context for chunks at index time.
// See: https://www.anthropic.com/news/contextual-retrieval
type ContextualConfig struct {
	// Enabled enables contextual retrieval (default: true).
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Model is the Ollama model for context generation (default: qwen3:0.6b).
	Model string `yaml:"model" json:"model"`
	// Timeout is the per-chunk timeout (default: 5s).
	Timeout string `yaml:"timeout" json:"timeout"`
	// BatchSize is chunks per batch for prompt caching (default: 8).
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// FallbackOnly uses pattern-based fallback only, no LLM (default: false).
	FallbackOnly bool `yaml:"fallback_only" json:"fallback_only"`
	// CodeChunks enables context generation for code chunks (default: false).
	// When false, only markdown/docs get contextual prefixes.
	CodeChunks bool `yaml:"code_chunks" json:"code_chunks"`
}

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		Search: SearchConfig{
			BM25Weight:     0.65,
			SemanticWeight: 0.35,
			// RRF constant k=60 is industry standard (Azure AI Search, OpenSearch)
			RRFConstant:    60,
			LexicalBackend: "bleve",
			VectorBackend:  "hnsw",
			ChunkSize:      1500,
			ChunkOverlap:   200,
			MaxResults:     20,
		},
		Embeddings: EmbeddingsConfig{
			Provider:             "", // Empty triggers auto-detection: Ollama → Static
			Model:                "qwen3-embedding:8b",
			Dimensions:           0, // Auto-detect from embedder
			BatchSize:            32,
			Workers:              runtime.NumCPU(),
			MaxPending:           runtime.NumCPU() * 2,
			ModelDownloadTimeout: 10 * time.Minute, // Large models may take time on slow networks
			OllamaHost:           "",               // Empty uses default http://localhost:11434
			// Thermal management defaults for large codebases.
			InterBatchDelay:        "",  // Disabled by default (empty = 0)
			TimeoutProgression:     1.5, // 50% increase per 1000 chunks for thermal adaptation
			RetryTimeoutMultiplier: 1.0, // No multiplier by default
		},
		Performance: PerformanceConfig{
			MaxFiles:      100000,
			IndexWorkers:  runtime.NumCPU(),
			CacheSize:     1000,
			MemoryLimit:   "auto",
			SQLiteCacheMB: 64, // 64MB SQLite cache
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Reranking: RerankingConfig{
			Enabled: false,
			Model:   "",
			TopN:    20,
		},
		Cache: CacheConfig{
			Enabled: true,
			MaxSize: 100,
		},
		Expansion: ExpansionConfig{
			Enabled: false,
			Model:   "qwen3:0.6b",
		},
		Watch: WatchConfig{
			Enabled:         true,
			DebounceSeconds: 2,
			BatchSize:       50,
		},
		SelfHeal: SelfHealConfig{
			AutoSelfHeal:      true,
			AutoRepairOrphans: true,
			CheckHNSWHealth:   true,
			OrphanThreshold:   0.2, // Trigger when >20% orphans
			MinOrphanCount:    100, // Skip small indexes
		},
		Contextual: ContextualConfig{
			Enabled:      true,         // Enabled by default for error reduction on ambiguous chunks
			Model:        "qwen3:0.6b", // Small, fast model (~50ms per chunk)
			Timeout:      "5s",         // Per-chunk timeout
			BatchSize:    8,            // Chunks per batch for prompt caching
			FallbackOnly: false,        // Use LLM when available
			CodeChunks:   false,        // Skip prefixes for code (improves vector search)
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/ragkb/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/ragkb/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ragkb", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback - should rarely happen
		return filepath.Join(os.TempDir(), ".config", "ragkb", "config.yaml")
	}
	return filepath.Join(home, ".config", "ragkb", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	// Check if file exists
	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	// Load the config
	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/ragkb/config.yaml)
//  3. Project config (.ragkb.yaml in project root)
//  4. Environment variables (RAGKB_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	// Step 1: Load user/global config (if exists)
	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	// Step 2: Load project config (overrides user config)
	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	// Step 3: Apply environment variable overrides (highest precedence)
	cfg.applyEnvOverrides()

	// Step 4: Validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .ragkb.yaml or .ragkb.yml.
func (c *Config) loadFromFile(dir string) error {
	// Try .yaml first (takes precedence)
	yamlPath := filepath.Join(dir, ".ragkb.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	// Try .yml as fallback
	ymlPath := filepath.Join(dir, ".ragkb.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Use a temporary struct for parsing to detect type errors
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Merge parsed values with defaults (only non-zero values)
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Paths
	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		// Merge with defaults rather than replace
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	// Search weights and RRF constant
	// Note: 0 is not a practical value for weights, so we only merge non-zero values
	if other.Search.BM25Weight != 0 {
		c.Search.BM25Weight = other.Search.BM25Weight
	}
	if other.Search.SemanticWeight != 0 {
		c.Search.SemanticWeight = other.Search.SemanticWeight
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.LexicalBackend != "" {
		c.Search.LexicalBackend = other.Search.LexicalBackend
	}
	if other.Search.VectorBackend != "" {
		c.Search.VectorBackend = other.Search.VectorBackend
	}
	if other.Search.ChunkSize != 0 {
		c.Search.ChunkSize = other.Search.ChunkSize
	}
	if other.Search.ChunkOverlap != 0 {
		c.Search.ChunkOverlap = other.Search.ChunkOverlap
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.Workers != 0 {
		c.Embeddings.Workers = other.Embeddings.Workers
	}
	if other.Embeddings.MaxPending != 0 {
		c.Embeddings.MaxPending = other.Embeddings.MaxPending
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	// Thermal management settings
	if other.Embeddings.InterBatchDelay != "" {
		c.Embeddings.InterBatchDelay = other.Embeddings.InterBatchDelay
	}
	if other.Embeddings.TimeoutProgression != 0 {
		c.Embeddings.TimeoutProgression = other.Embeddings.TimeoutProgression
	}
	if other.Embeddings.RetryTimeoutMultiplier != 0 {
		c.Embeddings.RetryTimeoutMultiplier = other.Embeddings.RetryTimeoutMultiplier
	}

	// Performance
	if other.Performance.MaxFiles != 0 {
		c.Performance.MaxFiles = other.Performance.MaxFiles
	}
	if other.Performance.IndexWorkers != 0 {
		c.Performance.IndexWorkers = other.Performance.IndexWorkers
	}
	if other.Performance.CacheSize != 0 {
		c.Performance.CacheSize = other.Performance.CacheSize
	}
	if other.Performance.MemoryLimit != "" {
		c.Performance.MemoryLimit = other.Performance.MemoryLimit
	}
	if other.Performance.SQLiteCacheMB != 0 {
		c.Performance.SQLiteCacheMB = other.Performance.SQLiteCacheMB
	}

	// Server / HTTP
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}

	// Reranking, cache, expansion - booleans merge whenever any sibling field is set
	if other.Reranking.Model != "" || other.Reranking.TopN != 0 || other.Reranking.Enabled {
		c.Reranking.Enabled = other.Reranking.Enabled
	}
	if other.Reranking.Model != "" {
		c.Reranking.Model = other.Reranking.Model
	}
	if other.Reranking.TopN != 0 {
		c.Reranking.TopN = other.Reranking.TopN
	}
	if other.Cache.MaxSize != 0 || other.Cache.Enabled {
		c.Cache.Enabled = other.Cache.Enabled
	}
	if other.Cache.MaxSize != 0 {
		c.Cache.MaxSize = other.Cache.MaxSize
	}
	if other.Expansion.Model != "" || other.Expansion.Enabled {
		c.Expansion.Enabled = other.Expansion.Enabled
	}
	if other.Expansion.Model != "" {
		c.Expansion.Model = other.Expansion.Model
	}

	// Watch
	if other.Watch.DebounceSeconds != 0 || other.Watch.BatchSize != 0 {
		c.Watch.Enabled = other.Watch.Enabled
	}
	if other.Watch.DebounceSeconds != 0 {
		c.Watch.DebounceSeconds = other.Watch.DebounceSeconds
	}
	if other.Watch.BatchSize != 0 {
		c.Watch.BatchSize = other.Watch.BatchSize
	}

	// Self-heal (compaction/orphan accounting)
	if other.SelfHeal.OrphanThreshold != 0 || other.SelfHeal.MinOrphanCount != 0 {
		c.SelfHeal.AutoSelfHeal = other.SelfHeal.AutoSelfHeal
	}
	if other.SelfHeal.OrphanThreshold != 0 {
		c.SelfHeal.OrphanThreshold = other.SelfHeal.OrphanThreshold
	}
	if other.SelfHeal.MinOrphanCount != 0 {
		c.SelfHeal.MinOrphanCount = other.SelfHeal.MinOrphanCount
	}
}

// applyEnvOverrides applies RAGKB_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Search weights (support explicit zero values via env vars)
	if v := os.Getenv("RAGKB_BM25_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.BM25Weight = w
		}
	}
	if v := os.Getenv("RAGKB_SEMANTIC_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.SemanticWeight = w
		}
	}
	// RRF constant env override
	if v := os.Getenv("RAGKB_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}

	if v := os.Getenv("RAGKB_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	// RAGKB_EMBEDDER is an alias for RAGKB_EMBEDDINGS_PROVIDER
	if v := os.Getenv("RAGKB_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("RAGKB_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("RAGKB_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("RAGKB_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("RAGKB_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}

	if v := os.Getenv("RAGKB_SELF_HEAL_ENABLED"); v != "" {
		c.SelfHeal.AutoSelfHeal = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("RAGKB_ORPHAN_THRESHOLD"); v != "" {
		if t, err := parseFloat64(v); err == nil && t >= 0 && t <= 1 {
			c.SelfHeal.OrphanThreshold = t
		}
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// DetectProjectType detects the project type based on marker files.
// Priority: go.mod > package.json > pyproject.toml/requirements.txt
func DetectProjectType(dir string) ProjectType {
	// Check for Go project
	if fileExists(filepath.Join(dir, "go.mod")) {
		return ProjectTypeGo
	}

	// Check for Node.js project
	if fileExists(filepath.Join(dir, "package.json")) {
		return ProjectTypeNode
	}

	// Check for Python project
	if fileExists(filepath.Join(dir, "pyproject.toml")) ||
		fileExists(filepath.Join(dir, "requirements.txt")) {
		return ProjectTypePython
	}

	return ProjectTypeUnknown
}

// FindProjectRoot finds the project root directory.
// It looks for .git directory or .ragkb.yaml/.yml file by walking up the directory tree.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		// Check for .git directory
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}

		// Check for .ragkb.yaml or .ragkb.yml
		if fileExists(filepath.Join(currentDir, ".ragkb.yaml")) ||
			fileExists(filepath.Join(currentDir, ".ragkb.yml")) {
			return currentDir, nil
		}

		// Move up one directory
		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			// Reached root, return original directory
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// DiscoverSourceDirs discovers common source directories in the project.
func DiscoverSourceDirs(dir string) []string {
	commonSourceDirs := []string{"src", "lib", "pkg", "internal", "cmd"}
	frameworkDirs := []string{"app", "pages"} // Next.js, etc.

	var found []string

	// Check common source directories
	for _, d := range commonSourceDirs {
		if dirExists(filepath.Join(dir, d)) {
			found = append(found, d)
		}
	}

	// Check for framework-specific directories
	if isNextJS(dir) {
		for _, d := range frameworkDirs {
			if dirExists(filepath.Join(dir, d)) {
				found = append(found, d)
			}
		}
	}

	return found
}

// DiscoverDocsDirs discovers documentation directories in the project.
func DiscoverDocsDirs(dir string) []string {
	commonDocDirs := []string{"docs", "doc"}
	commonDocFiles := []string{"README.md", "readme.md", "README.markdown"}

	var found []string

	// Check common doc directories
	for _, d := range commonDocDirs {
		if dirExists(filepath.Join(dir, d)) {
			found = append(found, d)
		}
	}

	// Check for README files
	for _, f := range commonDocFiles {
		if fileExists(filepath.Join(dir, f)) {
			found = append(found, f)
			break // Only add one README
		}
	}

	return found
}

// isNextJS checks if the project is a Next.js project.
func isNextJS(dir string) bool {
	pkgPath := filepath.Join(dir, "package.json")
	if !fileExists(pkgPath) {
		return false
	}

	data, err := os.ReadFile(pkgPath)
	if err != nil {
		return false
	}

	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return false
	}

	_, hasNext := pkg.Dependencies["next"]
	_, hasNextDev := pkg.DevDependencies["next"]
	return hasNext || hasNextDev
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// String returns a string representation of ProjectType.
func (p ProjectType) String() string {
	return string(p)
}

// IsKnown returns true if the project type is known (not unknown).
func (p ProjectType) IsKnown() bool {
	return p != ProjectTypeUnknown
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	// Validate search weights
	if c.Search.BM25Weight < 0 || c.Search.BM25Weight > 1 {
		return fmt.Errorf("bm25_weight must be between 0 and 1, got %f", c.Search.BM25Weight)
	}
	if c.Search.SemanticWeight < 0 || c.Search.SemanticWeight > 1 {
		return fmt.Errorf("semantic_weight must be between 0 and 1, got %f", c.Search.SemanticWeight)
	}

	// Validate weight sum
	sum := c.Search.BM25Weight + c.Search.SemanticWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("bm25_weight + semantic_weight must equal 1.0, got %.2f", sum)
	}

	// Validate non-negative values
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("max_results must be non-negative, got %d", c.Search.MaxResults)
	}
	if c.Search.ChunkSize < 0 {
		return fmt.Errorf("chunk_size must be non-negative, got %d", c.Search.ChunkSize)
	}

	// Validate provider (empty string allowed for auto-detection)
	if c.Embeddings.Provider != "" {
		validProviders := map[string]bool{"static": true, "ollama": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'static', 'ollama', or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}

	// Validate backends
	validVectorBackends := map[string]bool{"hnsw": true, "flat": true}
	if !validVectorBackends[strings.ToLower(c.Search.VectorBackend)] {
		return fmt.Errorf("search.vector_backend must be 'hnsw' or 'flat', got %s", c.Search.VectorBackend)
	}
	validLexicalBackends := map[string]bool{"bleve": true, "sqlite_fts": true}
	if !validLexicalBackends[strings.ToLower(c.Search.LexicalBackend)] {
		return fmt.Errorf("search.lexical_backend must be 'bleve' or 'sqlite_fts', got %s", c.Search.LexicalBackend)
	}

	// Validate log level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// BackupUserConfig copies the existing user config file to a timestamped
// backup alongside it, returning the backup path.
func BackupUserConfig() (string, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return "", fmt.Errorf("no user config file to back up at %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	backupPath := configPath + ".bak"
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write config backup: %w", err)
	}

	return backupPath, nil
}

// MergeNewDefaults adds new default fields while preserving existing values.
// Returns a list of field names that were added with their default values.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Search.BM25Weight == 0 {
		c.Search.BM25Weight = defaults.Search.BM25Weight
		added = append(added, "search.bm25_weight")
	}
	if c.Search.SemanticWeight == 0 {
		c.Search.SemanticWeight = defaults.Search.SemanticWeight
		added = append(added, "search.semantic_weight")
	}
	if c.Search.RRFConstant == 0 {
		c.Search.RRFConstant = defaults.Search.RRFConstant
		added = append(added, "search.rrf_constant")
	}
	if c.Search.LexicalBackend == "" {
		c.Search.LexicalBackend = defaults.Search.LexicalBackend
		added = append(added, "search.lexical_backend")
	}
	if c.Search.VectorBackend == "" {
		c.Search.VectorBackend = defaults.Search.VectorBackend
		added = append(added, "search.vector_backend")
	}

	if c.Embeddings.TimeoutProgression == 0 {
		c.Embeddings.TimeoutProgression = defaults.Embeddings.TimeoutProgression
		added = append(added, "embeddings.timeout_progression")
	}
	if c.Embeddings.RetryTimeoutMultiplier == 0 {
		c.Embeddings.RetryTimeoutMultiplier = defaults.Embeddings.RetryTimeoutMultiplier
		added = append(added, "embeddings.retry_timeout_multiplier")
	}
	// InterBatchDelay uses empty string as "disabled", so only set if not present
	// We don't auto-add this since "" is a valid value meaning "disabled"

	if c.Performance.SQLiteCacheMB == 0 {
		c.Performance.SQLiteCacheMB = defaults.Performance.SQLiteCacheMB
		added = append(added, "performance.sqlite_cache_mb")
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = defaults.HTTP.Addr
		added = append(added, "http.addr")
	}
	if c.Cache.MaxSize == 0 {
		c.Cache.MaxSize = defaults.Cache.MaxSize
		added = append(added, "cache.max_size")
	}

	return added
}
