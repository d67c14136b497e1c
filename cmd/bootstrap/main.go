package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"timeline-rag-api/internal/config"
	"timeline-rag-api/internal/wire"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("Starting storage bootstrap...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Store.Backend != wire.BackendMilvus {
		fmt.Printf("Backend %q keeps everything in memory, nothing to bootstrap.\n", cfg.Store.Backend)
		return
	}

	ctx := context.Background()

	// 建表与建集合都在数据层初始化时完成
	cfg.Database.Postgres.AutoMigrate = true
	dataLayer, cleanup, err := wire.InitializeDataLayer(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize data layer: %v", err)
	}
	defer cleanup()

	fmt.Println("PostgreSQL tables migrated: event_relations, ingestion_jobs")
	fmt.Printf("Milvus collections ready (prefix %q)\n", cfg.Vector.Milvus.CollectionPrefix)

	for name, check := range map[string]func(context.Context) error{
		"postgres": dataLayer.PgClient.HealthCheck,
		"redis":    dataLayer.RedisClient.HealthCheck,
		"milvus":   dataLayer.MilvusClient.HealthCheck,
	} {
		if err := check(ctx); err != nil {
			log.Fatalf("%s health check failed: %v", name, err)
		}
		fmt.Printf("%s: ok\n", name)
	}

	fmt.Println("Bootstrap completed successfully!")
}
