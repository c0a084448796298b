package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jinford/research-rag/internal/core/ingestion"
	"github.com/jinford/research-rag/internal/core/retrieval"
	"github.com/jinford/research-rag/internal/infra/hashembed"
	"github.com/jinford/research-rag/internal/infra/loader"
	"github.com/jinford/research-rag/internal/infra/memindex"
	"github.com/jinford/research-rag/internal/infra/memstore"
	"github.com/jinford/research-rag/internal/infra/openai"
	"github.com/jinford/research-rag/internal/infra/postgres"
	"github.com/jinford/research-rag/internal/infra/redisearch"
	"github.com/jinford/research-rag/internal/platform/config"
	"github.com/jinford/research-rag/internal/platform/eventhub"
	"github.com/jinford/research-rag/internal/platform/logger"
	"github.com/jinford/research-rag/pkg/db"
)

// AppContext はコマンド実行に必要な共通リソースを保持する
type AppContext struct {
	Config   *config.Config
	Logger   *slog.Logger
	Database *db.DB        // memoryバックエンドではnil
	Redis    *redis.Client // redisearchバックエンド以外ではnil

	Store     ingestion.Store
	Hub       *eventhub.Hub[ingestion.Event]
	Sources   *ingestion.SourceService
	Jobs      *ingestion.JobService
	Retrieval *retrieval.RetrievalService

	index ingestion.VectorIndex
}

// NewAppContext は設定を読み込み、バックエンドに接続してAppContextを作成する
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		// 標準出力はコマンドの実行結果用に空けておく
		Output: os.Stderr,
	})

	a := &AppContext{Config: cfg, Logger: appLogger}

	if err := a.connectBackends(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}

	provider, err := buildEmbeddingProvider(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Hub = eventhub.New[ingestion.Event](eventhub.WithBufferSize(cfg.EventHub.BufferSize))

	pipeline := ingestion.NewPipeline(
		a.Store,
		loader.New(loader.WithLogger(appLogger)),
		ingestion.NewChunker(),
		provider,
		a.index,
		a.Hub,
		ingestion.WithPipelineLogger(appLogger),
	)

	a.Sources = ingestion.NewSourceService(a.Store, ingestion.WithSourceLogger(appLogger))
	a.Jobs = ingestion.NewJobService(a.Store, pipeline, a.Hub,
		ingestion.WithJobLogger(appLogger),
		ingestion.WithJobDefaults(ingestion.JobConfig{
			MaxChunkSize: cfg.Chunking.MaxSize,
			ChunkOverlap: cfg.Chunking.Overlap,
		}),
	)
	a.Retrieval = retrieval.NewRetrievalService(a.Store, provider, a.index,
		retrieval.WithRetrievalLogger(appLogger),
	)

	return a, nil
}

// connectBackends は設定されたバックエンドに応じてストアとベクトルインデックスを用意する
func (a *AppContext) connectBackends(ctx context.Context, cfg *config.Config) error {
	backend := cfg.VectorIndex.Backend

	// memoryバックエンドはデータベース接続を必要としない
	if backend == "memory" {
		a.Store = memstore.New()
		a.index = memindex.New()
		return nil
	}

	database, err := dbConnect(ctx, cfg)
	if err != nil {
		return err
	}
	a.Database = database
	a.Store = postgres.NewStore(database.Pool)

	switch backend {
	case "pgvector":
		a.index = postgres.NewVectorIndex(database.Pool, cfg.VectorIndex.Collection)
	case "redisearch":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("Redis接続に失敗: %w", err)
		}
		a.Redis = client
		a.index = redisearch.NewIndex(client, cfg.VectorIndex.Collection)
	default:
		return fmt.Errorf("未知のベクトルインデックスバックエンド: %q", backend)
	}

	return nil
}

// Close はAppContextが保持するリソースをクリーンアップする。
// 実行中の取り込みタスクの完了を待ってから接続を閉じる。
func (a *AppContext) Close() {
	if a.Jobs != nil {
		a.Jobs.Wait()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Database != nil {
		a.Database.Close()
	}
}

func dbConnect(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	database, err := db.New(ctx, db.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	return database, nil
}

func buildEmbeddingProvider(cfg *config.Config) (ingestion.EmbeddingProvider, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openaiプロバイダにはOPENAI_API_KEYの設定が必要です")
		}
		return openai.NewEmbedder(cfg.OpenAI.APIKey,
			openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
			openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
		), nil
	case "hash":
		return hashembed.New(), nil
	default:
		return nil, fmt.Errorf("未知の埋め込みプロバイダ: %q", cfg.Embedding.Provider)
	}
}

// parseID はコマンドフラグで渡されたUUIDを検証する
func parseID(value, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%sが不正です: %w", name, err)
	}
	return id, nil
}

// optional は空文字列をnilに変換する
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
