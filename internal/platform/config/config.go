package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// Redis設定（RediSearchバックエンド用）
	Redis RedisConfig

	// OpenAI設定（Embeddings用）
	OpenAI OpenAIConfig

	// Embeddingプロバイダ設定
	Embedding EmbeddingConfig

	// ベクトルインデックス設定
	VectorIndex VectorIndexConfig

	// チャンク分割設定
	Chunking ChunkingConfig

	// イベントハブ設定
	EventHub EventHubConfig

	// ログ設定
	Log LogConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig はRedis接続設定
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
}

// EmbeddingConfig は埋め込みプロバイダの選択設定
type EmbeddingConfig struct {
	Provider string // "openai" or "hash"
}

// VectorIndexConfig はベクトルインデックスの選択設定
type VectorIndexConfig struct {
	Backend    string // "pgvector", "redisearch" or "memory"
	Collection string
}

// ChunkingConfig はチャンク分割のデフォルト設定
type ChunkingConfig struct {
	MaxSize int
	Overlap int
}

// EventHubConfig はイベントハブ設定
type EventHubConfig struct {
	BufferSize int
}

// LogConfig はログ出力設定
type LogConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text"
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "researchrag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "researchrag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
		},
		Embedding: EmbeddingConfig{
			Provider: getEnv("EMBEDDING_PROVIDER", "openai"),
		},
		VectorIndex: VectorIndexConfig{
			Backend:    getEnv("VECTOR_BACKEND", "pgvector"),
			Collection: getEnv("VECTOR_COLLECTION", "research_chunks"),
		},
		Chunking: ChunkingConfig{
			MaxSize: getEnvAsInt("CHUNK_MAX_SIZE", 1000),
			Overlap: getEnvAsInt("CHUNK_OVERLAP", 120),
		},
		EventHub: EventHubConfig{
			BufferSize: getEnvAsInt("EVENT_BUFFER_SIZE", 500),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
