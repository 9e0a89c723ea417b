package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/parkside-ed/engage-sync-go/internal/cache"
	"github.com/parkside-ed/engage-sync-go/internal/config"
	"github.com/parkside-ed/engage-sync-go/internal/database"
	"github.com/parkside-ed/engage-sync-go/internal/entity"
	"github.com/parkside-ed/engage-sync-go/internal/events"
	"github.com/parkside-ed/engage-sync-go/internal/gateway"
	"github.com/parkside-ed/engage-sync-go/internal/observability"
	enginesync "github.com/parkside-ed/engage-sync-go/internal/sync"
	cloud "github.com/parkside-ed/engage-sync-go/pkg/cloudinary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.ViewerID == "" {
		log.Fatalf("viewer id must be provided")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	actor := entity.Identity{UserID: cfg.ViewerID, Role: cfg.ViewerRole}

	gw, err := gateway.NewHTTPGateway(cfg.GatewayBaseURL, cfg.GatewayTimeout, logger)
	if err != nil {
		log.Fatalf("failed to create gateway client: %v", err)
	}

	store := cache.NewStore(logger)

	var warm *cache.WarmStore
	if cfg.WarmCacheEnabled() {
		redisClient, err := database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()

		warm = cache.NewWarmStore(redisClient, cfg.ViewerID, cfg.WarmCacheTTL, logger)
		if err := warm.Load(context.Background(), store); err != nil {
			logger.Warn().Err(err).Msg("warm cache unavailable, starting cold")
		}
	}

	engineOpts := []enginesync.EngineOption{enginesync.WithTimeout(cfg.GatewayTimeout)}
	if cfg.EventsEnabled() {
		natsConn, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()

		engineOpts = append(engineOpts, enginesync.WithPublisher(events.NewNATSPublisher(natsConn, logger)))
	}

	var uploader enginesync.Uploader
	if cfg.UploaderEnabled() {
		cdn, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
		if err != nil {
			log.Fatalf("failed to create cloudinary client: %v", err)
		}
		uploader = cdn
	}

	client, err := enginesync.NewClient(store, gw, uploader, logger, engineOpts...)
	if err != nil {
		log.Fatalf("failed to assemble sync client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := client.Scopes.Activate(ctx, actor, enginesync.PostScope(entity.PostStatusPosted), false); err != nil {
		logger.Error().Err(err).Msg("initial feed load failed")
	}
	if err := client.Directory.Load(ctx, actor); err != nil {
		logger.Error().Err(err).Msg("directory load failed")
	}

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.MetricsHandler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Error().Err(err).Msg("metrics listener stopped")
			}
		}()
	}

	if cfg.GatewayWebsocketURL != "" {
		go func() {
			if err := client.Feed.Run(ctx, cfg.GatewayWebsocketURL, actor); err != nil {
				logger.Error().Err(err).Msg("live feed disconnected")
			}
		}()
	}

	logger.Info().Str("viewer", cfg.ViewerID).Msg("sync session started")
	<-ctx.Done()

	if warm != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := warm.Save(saveCtx, store); err != nil {
			logger.Warn().Err(err).Msg("failed to persist warm cache")
		}
	}

	logger.Info().Msg("sync session stopped")
}
