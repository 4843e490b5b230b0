// Package config loads Mimir's environment-driven configuration into a
// typed Config struct via github.com/spf13/viper, with
// github.com/joho/godotenv loading local .env overrides first. Defaults
// come from Default(); MIMIR_-prefixed environment variables, read
// through viper's AutomaticEnv (or os.Getenv for the boolean switches),
// then override them key by key.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mimirhq/mimir/pkg/graph"
)

const envPrefix = "MIMIR"

// Config is the process-wide configuration.
type Config struct {
	Graph     GraphConfig
	Embedding EmbeddingConfig
	Chunking  ChunkingConfig
	RRF       RRFConfig
	Retention RetentionConfig
	TLS       TLSConfig
	Blob      BlobConfig
}

// GraphConfig selects and configures the graph store backend.
type GraphConfig struct {
	URI      string // e.g. "memory://" or "badger:///var/lib/mimir/data"
	Username string
	Password string
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider string // "ollama" or "openai"
	Model    string
	Endpoint string
	APIKey   string
	CacheSize int
}

// ChunkingConfig configures the chunker.
type ChunkingConfig struct {
	ChunkSize int
	Overlap   int
}

// RRFConfig holds the fusion profile settings loaded from the
// environment. Only Validate reads them: pkg/search does not, and picks
// its profile per query with search.DetectProfile.
type RRFConfig struct {
	DefaultProfile string // "keyword", "balanced", or "semantic"
	K              int
	VectorWeight   float64
	BM25Weight     float64
	MinScore       float64
}

// RetentionConfig configures the data-retention sweep.
type RetentionConfig struct {
	Enabled       bool
	DefaultDays   int
	PolicyDays    map[string]int
	SweepInterval time.Duration
}

// TLSConfig controls certificate validation. InsecureSkipVerify
// defaults to false; it must be opted into explicitly.
type TLSConfig struct {
	InsecureSkipVerify bool
}

// BlobConfig configures the out-of-band large-property store. Disabled
// by default: large properties then live only in the graph Engine.
type BlobConfig struct {
	Enabled bool
	// EncryptionKey is 32 raw bytes, hex-decoded from
	// MIMIR_BLOB_ENCRYPTION_KEY (64 hex chars). Nil/empty disables
	// sealing; blobs are then stored as plain bytes.
	EncryptionKey []byte
}

// Default returns Mimir's built-in defaults (RRF k=60, chunk size 768).
func Default() *Config {
	return &Config{
		Graph: GraphConfig{URI: "memory://"},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			Endpoint:  "http://localhost:11434",
			CacheSize: 1000,
		},
		Chunking: ChunkingConfig{ChunkSize: 768, Overlap: 10},
		RRF: RRFConfig{
			DefaultProfile: "balanced",
			K:              60,
			VectorWeight:   1.0,
			BM25Weight:     1.0,
			MinScore:       0.01,
		},
		Retention: RetentionConfig{
			Enabled:       false,
			DefaultDays:   365,
			PolicyDays:    map[string]int{},
			SweepInterval: 24 * time.Hour,
		},
		TLS:  TLSConfig{InsecureSkipVerify: false},
		Blob: BlobConfig{Enabled: false},
	}
}

// Load loads .env overrides, then environment variables prefixed
// MIMIR_, onto the built-in defaults.
func Load() (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	applyEnvOverrides(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}
}

// applyEnvOverrides reads each recognized key through viper, falling
// back to cfg's existing default when unset.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if s := v.GetString("GRAPH_URI"); s != "" {
		cfg.Graph.URI = s
	}
	if s := v.GetString("GRAPH_USERNAME"); s != "" {
		cfg.Graph.Username = s
	}
	if s := v.GetString("GRAPH_PASSWORD"); s != "" {
		cfg.Graph.Password = s
	}

	if s := v.GetString("EMBEDDING_PROVIDER"); s != "" {
		cfg.Embedding.Provider = s
	}
	if s := v.GetString("EMBEDDING_MODEL"); s != "" {
		cfg.Embedding.Model = s
	}
	if s := v.GetString("EMBEDDING_ENDPOINT"); s != "" {
		cfg.Embedding.Endpoint = s
	}
	if s := v.GetString("EMBEDDING_API_KEY"); s != "" {
		cfg.Embedding.APIKey = s
	}
	if n := v.GetInt("EMBEDDING_CACHE_SIZE"); n != 0 {
		cfg.Embedding.CacheSize = n
	}

	if n := v.GetInt("CHUNK_SIZE"); n != 0 {
		cfg.Chunking.ChunkSize = n
	}
	if n := v.GetInt("CHUNK_OVERLAP"); n != 0 {
		cfg.Chunking.Overlap = n
	}

	if s := v.GetString("RRF_DEFAULT_PROFILE"); s != "" {
		cfg.RRF.DefaultProfile = s
	}
	if n := v.GetInt("RRF_K"); n != 0 {
		cfg.RRF.K = n
	}

	if s := os.Getenv("MIMIR_RETENTION_ENABLED"); s != "" {
		cfg.Retention.Enabled = s == "true" || s == "1"
	}
	if n := v.GetInt("RETENTION_DEFAULT_DAYS"); n != 0 {
		cfg.Retention.DefaultDays = n
	}
	if s := v.GetString("RETENTION_POLICY_DAYS"); s != "" {
		cfg.Retention.PolicyDays = parsePolicyDays(s)
	}
	if s := v.GetString("RETENTION_SWEEP_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.Retention.SweepInterval = d
		}
	}

	if s := os.Getenv("MIMIR_TLS_INSECURE_SKIP_VERIFY"); s != "" {
		cfg.TLS.InsecureSkipVerify = s == "true" || s == "1"
	}

	if s := os.Getenv("MIMIR_BLOB_STORE_ENABLED"); s != "" {
		cfg.Blob.Enabled = s == "true" || s == "1"
	}
	if s := os.Getenv("MIMIR_BLOB_ENCRYPTION_KEY"); s != "" {
		if key, err := hex.DecodeString(s); err == nil {
			cfg.Blob.EncryptionKey = key
			cfg.Blob.Enabled = true
		}
	}
}

// parsePolicyDays parses "todo=30,memory=90" into a per-type day map.
func parsePolicyDays(s string) map[string]int {
	out := make(map[string]int)
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 {
			continue
		}
		days, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			continue
		}
		out[strings.TrimSpace(kv[0])] = days
	}
	return out
}

// PolicyDaysByType converts the string-keyed policy map into
// graph.NodeType keys for pkg/retention.
func (c *Config) PolicyDaysByType() map[graph.NodeType]int {
	out := make(map[graph.NodeType]int, len(c.Retention.PolicyDays))
	for k, v := range c.Retention.PolicyDays {
		out[graph.NodeType(k)] = v
	}
	return out
}

// Validate rejects configurations that would fail at startup in a
// confusing way rather than at load time.
func (c *Config) Validate() error {
	if c.Embedding.Provider != "ollama" && c.Embedding.Provider != "openai" {
		return fmt.Errorf("config: unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("config: chunk size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("config: chunk overlap must be in [0, chunkSize), got %d", c.Chunking.Overlap)
	}
	switch c.RRF.DefaultProfile {
	case "keyword", "balanced", "semantic":
	default:
		return fmt.Errorf("config: unknown RRF profile %q", c.RRF.DefaultProfile)
	}
	if len(c.Blob.EncryptionKey) != 0 && len(c.Blob.EncryptionKey) != 32 {
		return fmt.Errorf("config: MIMIR_BLOB_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(c.Blob.EncryptionKey))
	}
	return nil
}
