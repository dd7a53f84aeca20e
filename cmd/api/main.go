package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"github.com/scoutline/discovery/internal/config"
	"github.com/scoutline/discovery/internal/db"
	"github.com/scoutline/discovery/internal/httpapi"
	"github.com/scoutline/discovery/internal/provider"
	"github.com/scoutline/discovery/internal/provider/actorapi"
	"github.com/scoutline/discovery/internal/provider/webdir"
	"github.com/scoutline/discovery/internal/queue"
	"github.com/scoutline/discovery/internal/store/redisstore"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()
	if err := rds.Ping(context.Background()); err != nil {
		log.Printf("redis unreachable: %v (dead-letter alerts disabled)", err)
	}

	dispatcher, err := queue.NewDispatcher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	registry := provider.NewRegistry()
	for _, platform := range []string{"tiktok", "instagram", "youtube"} {
		p := platform
		registry.Register(p, func(ctx context.Context) (provider.Provider, error) {
			return actorapi.New(cfg.ActorAPIBaseURL, cfg.ActorAPIToken, p)
		})
	}
	if cfg.WebDirBaseURL != "" {
		registry.Register("webdir", func(ctx context.Context) (provider.Provider, error) {
			return webdir.New(cfg.WebDirBaseURL, "webdir", nil), nil
		})
	}

	r := httpapi.NewRouter(gdb, cfg, rds, registry, dispatcher)

	log.Printf("api listening addr=%s queue=%s", cfg.ListenAddr, cfg.RabbitQueue)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
