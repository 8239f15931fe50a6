// Package config loads service configuration from an optional YAML file and
// GRAPHMEM_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Object    ObjectConfig    `mapstructure:"object_store"`
	Graph     GraphConfig     `mapstructure:"graph_store"`
	Vector    VectorConfig    `mapstructure:"vector_store"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	RAG       RAGConfig       `mapstructure:"rag"`
	Backup    BackupConfig    `mapstructure:"backup"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Ontology  OntologyConfig  `mapstructure:"ontology"`
}

type ServerConfig struct {
	Host  string `mapstructure:"host"`
	Port  int    `mapstructure:"port"`
	Debug bool   `mapstructure:"debug"`
}

type ObjectConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

type GraphConfig struct {
	URI          string        `mapstructure:"uri"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

type VectorConfig struct {
	Addr             string `mapstructure:"addr"`
	CollectionPrefix string `mapstructure:"collection_prefix"`
}

type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type EmbeddingConfig struct {
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	BatchSize  int    `mapstructure:"batch_size"`
	Parallel   int    `mapstructure:"parallel"`
}

type IngestConfig struct {
	MaxDocumentSizeMB   int `mapstructure:"max_document_size_mb"`
	MaxTextLength       int `mapstructure:"max_text_length"`
	ExtractionChunkSize int `mapstructure:"extraction_chunk_size"`
	ContextBudgetChars  int `mapstructure:"context_budget_chars"`
	ChunkSize           int `mapstructure:"chunk_size"`
	ChunkOverlap        int `mapstructure:"chunk_overlap"`
}

type RAGConfig struct {
	ScoreThreshold float64 `mapstructure:"score_threshold"`
	ChunkLimit     int     `mapstructure:"chunk_limit"`
	SearchLimit    int     `mapstructure:"search_limit"`
}

type BackupConfig struct {
	RetentionCount int    `mapstructure:"retention_count"`
	Schedule       string `mapstructure:"schedule"`
	Prefix         string `mapstructure:"prefix"`
}

type AuthConfig struct {
	BootstrapKey string `mapstructure:"bootstrap_key"`
}

type OntologyConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load reads configuration from the given file (optional) and the
// environment. Environment variables win over file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8002)
	v.SetDefault("server.debug", false)

	v.SetDefault("object_store.use_ssl", true)
	v.SetDefault("object_store.region", "fr1")

	v.SetDefault("graph_store.uri", "bolt://neo4j:7687")
	v.SetDefault("graph_store.user", "neo4j")
	v.SetDefault("graph_store.query_timeout", 30*time.Second)

	v.SetDefault("vector_store.addr", "qdrant:6334")
	v.SetDefault("vector_store.collection_prefix", "memory_")

	v.SetDefault("llm.max_tokens", 60000)
	v.SetDefault("llm.temperature", 1.0)
	v.SetDefault("llm.timeout", 600*time.Second)

	v.SetDefault("embedding.model", "bge-m3:567m")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("embedding.parallel", 2)

	v.SetDefault("ingest.max_document_size_mb", 50)
	v.SetDefault("ingest.max_text_length", 950000)
	v.SetDefault("ingest.extraction_chunk_size", 25000)
	v.SetDefault("ingest.context_budget_chars", 6000)
	v.SetDefault("ingest.chunk_size", 500)
	v.SetDefault("ingest.chunk_overlap", 50)

	v.SetDefault("rag.score_threshold", 0.58)
	v.SetDefault("rag.chunk_limit", 8)
	v.SetDefault("rag.search_limit", 10)

	v.SetDefault("backup.retention_count", 5)
	v.SetDefault("backup.prefix", "_backups")

	v.SetDefault("ontology.dir", "ontologies")
}

func bindEnvVars(v *viper.Viper) {
	v.SetEnvPrefix("GRAPHMEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	keys := []string{
		"server.host", "server.port", "server.debug",
		"object_store.endpoint", "object_store.access_key", "object_store.secret_key",
		"object_store.bucket", "object_store.use_ssl", "object_store.region",
		"graph_store.uri", "graph_store.user", "graph_store.password", "graph_store.query_timeout",
		"vector_store.addr", "vector_store.collection_prefix",
		"llm.base_url", "llm.api_key", "llm.model", "llm.max_tokens", "llm.temperature", "llm.timeout",
		"embedding.model", "embedding.dimensions", "embedding.batch_size", "embedding.parallel",
		"ingest.max_document_size_mb", "ingest.max_text_length",
		"ingest.extraction_chunk_size", "ingest.context_budget_chars",
		"ingest.chunk_size", "ingest.chunk_overlap",
		"rag.score_threshold", "rag.chunk_limit", "rag.search_limit",
		"backup.retention_count", "backup.schedule", "backup.prefix",
		"auth.bootstrap_key",
		"ontology.dir",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// Validate checks the settings that have no workable defaults.
func (c *Config) Validate() error {
	if c.Object.Endpoint == "" {
		return fmt.Errorf("object_store.endpoint is required")
	}
	if c.Object.AccessKey == "" || c.Object.SecretKey == "" {
		return fmt.Errorf("object_store credentials are required")
	}
	if c.Object.Bucket == "" {
		return fmt.Errorf("object_store.bucket is required")
	}
	if c.Graph.Password == "" {
		return fmt.Errorf("graph_store.password is required")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.Auth.BootstrapKey == "" {
		return fmt.Errorf("auth.bootstrap_key is required")
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be smaller than ingest.chunk_size")
	}
	if c.RAG.ScoreThreshold < 0 || c.RAG.ScoreThreshold > 1 {
		return fmt.Errorf("rag.score_threshold must be within [0, 1]")
	}
	return nil
}

// MaxDocumentSizeBytes converts the configured megabyte limit.
func (c *Config) MaxDocumentSizeBytes() int64 {
	return int64(c.Ingest.MaxDocumentSizeMB) * 1024 * 1024
}
