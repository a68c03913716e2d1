package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chatrelay/chatrelay/internal/conversation"
	"github.com/chatrelay/chatrelay/internal/inference"
	"github.com/chatrelay/chatrelay/internal/server"
	"github.com/chatrelay/chatrelay/internal/stats"
	"github.com/chatrelay/chatrelay/pkg/config"
	"github.com/chatrelay/chatrelay/pkg/observability"
)

var (
	// Version information (set via ldflags)
	Version = "dev"

	configFile = flag.String("config", os.Getenv("CONFIG_FILE"), "Service configuration file")
	addr       = flag.String("addr", "", "HTTP listen address (overrides config)")
)

func main() {
	flag.Parse()

	log.Printf("Starting chatrelay v%s", Version)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	observability.InitMetrics()

	conversations, err := conversation.NewRedisStore(conversation.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
		TTL:      cfg.Redis.TTL(),
	})
	if err != nil {
		log.Fatalf("Conversation store error: %v", err)
	}
	defer func() { _ = conversations.Close() }()

	infer, err := inference.NewHTTPService(cfg.Inference.BaseURL, cfg.Inference.Timeout())
	if err != nil {
		log.Fatalf("Inference service error: %v", err)
	}

	// Analytics is optional; without a directory the endpoint reports
	// itself unconfigured.
	var statsStore *stats.Store
	if cfg.Stats.Dir != "" {
		backend, err := stats.NewFileBackend(cfg.Stats.Dir)
		if err != nil {
			log.Fatalf("Stats backend error: %v", err)
		}
		statsStore = stats.NewStore(backend)
		log.Printf("Analytics enabled, stats dir: %s", cfg.Stats.Dir)
	} else {
		log.Printf("Analytics disabled (no stats dir configured)")
	}

	health := observability.NewHealthChecker()
	health.RegisterCheck(observability.RedisCheck(conversations.Ping))
	health.RegisterCheck(observability.StatsCheck(func(ctx context.Context) error {
		if statsStore == nil {
			return fmt.Errorf("analytics not configured")
		}
		return nil
	}))

	srv := server.New(server.Options{
		Addr:          cfg.Addr,
		Conversations: conversations,
		Inference:     infer,
		Variants: inference.Variants{
			Fast:    cfg.Inference.FastModel,
			Quality: cfg.Inference.QualityModel,
		},
		Stats:  statsStore,
		Health: health,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("HTTP server listening on %s", cfg.Addr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Error: %v", err)
	}

	log.Println("chatrelay stopped")
}

func loadConfig() (*config.Config, error) {
	if *configFile == "" {
		return config.Default(), nil
	}
	return config.LoadConfig(*configFile)
}
