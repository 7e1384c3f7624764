package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Graph     GraphConfig
	Query     QueryConfig
	Storage   StorageConfig
	Neo4j     Neo4jConfig
	Zilliz    ZillizConfig
	Redis     RedisConfig
	LLM       LLMConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type GraphConfig struct {
	EntityExtractionConfidence float64
	SimilarityThreshold        float64
	Extractor                  string
	ParallelDocuments          int
	ParallelChunks             int
	ChunksPerPage              int
	ChunkSize                  int
}

type QueryConfig struct {
	DefaultMaxResults   int
	StopWords           []string
	EmbeddingTimeoutSec int
	CacheEnabled        bool
}

type StorageConfig struct {
	SQLitePath string
	TimeoutSec int
}

type Neo4jConfig struct {
	Enabled  bool
	URI      string
	Username string
	Password string
	Database string
}

type ZillizConfig struct {
	Enabled        bool
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLSec   int
}

type LLMConfig struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	EmbeddingDim   int
	TimeoutSec     int
}

type RateLimitConfig struct {
	MaxRequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads config.yaml from the usual search paths, overlays KGRAPH_* env
// vars and fills everything else from defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/kgraph")

	return load(v)
}

// LoadFile reads an explicit config file instead of searching for one.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("KGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Graph.EntityExtractionConfidence < 0 || c.Graph.EntityExtractionConfidence > 1 {
		return fmt.Errorf("graph.entityExtractionConfidence must be within [0,1], got %v", c.Graph.EntityExtractionConfidence)
	}
	if c.Graph.SimilarityThreshold <= 0 || c.Graph.SimilarityThreshold > 1 {
		return fmt.Errorf("graph.similarityThreshold must be within (0,1], got %v", c.Graph.SimilarityThreshold)
	}
	switch c.Graph.Extractor {
	case "pattern", "prose":
	default:
		return fmt.Errorf("graph.extractor must be \"pattern\" or \"prose\", got %q", c.Graph.Extractor)
	}
	if c.Query.DefaultMaxResults <= 0 {
		return fmt.Errorf("query.defaultMaxResults must be positive, got %d", c.Query.DefaultMaxResults)
	}
	return nil
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 10485760)

	v.SetDefault("graph.entityExtractionConfidence", 0.6)
	v.SetDefault("graph.similarityThreshold", 0.8)
	v.SetDefault("graph.extractor", "pattern")
	v.SetDefault("graph.parallelDocuments", 4)
	v.SetDefault("graph.parallelChunks", 8)
	v.SetDefault("graph.chunksPerPage", 3)
	v.SetDefault("graph.chunkSize", 1000)

	v.SetDefault("query.defaultMaxResults", 10)
	v.SetDefault("query.stopWords", []string{"the", "a", "an", "is", "are", "was", "were", "please", "show", "me", "tell", "find", "give", "list"})
	v.SetDefault("query.embeddingTimeoutSec", 15)
	v.SetDefault("query.cacheEnabled", true)

	v.SetDefault("storage.sqlitePath", "./data/kgraph.db")
	v.SetDefault("storage.timeoutSec", 10)

	v.SetDefault("neo4j.enabled", false)
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("zilliz.enabled", false)
	v.SetDefault("zilliz.endpoint", "localhost:19530")
	v.SetDefault("zilliz.collectionName", "kgraph_chunks")
	v.SetDefault("zilliz.vectorDim", 1536)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlSec", 86400)

	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 1536)
	v.SetDefault("llm.timeoutSec", 15)

	v.SetDefault("ratelimit.maxRequestsPerMinute", 120)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
