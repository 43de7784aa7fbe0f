package main

import (
	"log"
	"os"
	"time"

	"github.com/suPer8Hu/gopherchat-stream/internal/ai"
	"github.com/suPer8Hu/gopherchat-stream/internal/billing"
	"github.com/suPer8Hu/gopherchat-stream/internal/config"
	"github.com/suPer8Hu/gopherchat-stream/internal/db"
	"github.com/suPer8Hu/gopherchat-stream/internal/httpapi"
	"github.com/suPer8Hu/gopherchat-stream/internal/store/rabbitmq"
	"github.com/suPer8Hu/gopherchat-stream/internal/store/redisstore"
	"github.com/suPer8Hu/gopherchat-stream/internal/stream"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	repo := stream.NewRepo(gdb)
	gate := billing.NewGate(gdb, cfg.DailyCeilingCents)
	client := ai.NewClient(cfg.OpenRouterBaseURL, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName)

	locks := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.StreamTimeout+time.Minute)
	defer locks.Close()

	var svc *stream.Service
	switch cfg.DispatchMode {
	case "local":
		pool := stream.NewLocalDispatcher(cfg.WorkerConcurrency * 2)
		svc = stream.NewService(repo, client, gate, pool, locks, cfg)
		pool.Start(cfg.WorkerConcurrency, svc.Execute)
		defer pool.Stop()
	default:
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatalf("rabbit publisher: %v", err)
		}
		defer pub.Close()
		svc = stream.NewService(repo, client, gate, pub, locks, cfg)
	}

	r := httpapi.NewRouter(gdb, cfg, svc)

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("server listening addr=%s dispatch=%s", addr, cfg.DispatchMode)
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
