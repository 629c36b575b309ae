// Command cloud runs the Cloud coordinator: the authoritative store, the
// Mutation Engine, the Reservation Registry, the Event Bus hub, and the
// HTTP surface spec.md §6 describes.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/meomeohuhu/ParkingDistributed/internal/cloudapi"
	"github.com/meomeohuhu/ParkingDistributed/internal/cloudcore"
	"github.com/meomeohuhu/ParkingDistributed/internal/config"
	"github.com/meomeohuhu/ParkingDistributed/internal/eventbus"
	"github.com/meomeohuhu/ParkingDistributed/internal/imagestore"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cloud:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envPath string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "run the Cloud HTTP + WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), envPath)
		},
	}

	root := &cobra.Command{
		Use:           "cloud",
		Short:         "parking-lot Cloud coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.PersistentFlags().StringVar(&envPath, "env-file", ".env", "path to a .env file to load")
	root.AddCommand(serve)
	return root
}

func run(ctx context.Context, envPath string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	config.LoadDotenv(envPath)
	cfg := config.LoadCloud()

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDB, cfg.PostgresUser, cfg.PostgresPass)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}

	store := cloudcore.NewStore(db)
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var reservations cloudcore.ReservationRegistry
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opt)
		reservations = cloudcore.NewRedisReservationRegistry(redisClient)
		sugar.Infow("reservation registry backed by redis")
	} else {
		reservations = cloudcore.NewInMemoryReservationRegistry()
		sugar.Warnw("no REDIS_URL configured, falling back to in-memory reservation registry")
	}

	hub := eventbus.NewHub(nil, redisClient)
	engine := cloudcore.NewEngine(store, reservations, hub)
	hub.SetHeartbeats(engine)

	if redisClient != nil {
		go hub.RunRelay(ctx)
	}

	images := imagestore.New(cfg.ImageRoot)
	server := cloudapi.NewServer(engine, hub, images, cfg.SecretToken, sugar)
	router := server.NewRouter()

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		sugar.Infow("cloud listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stopCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-stopCtx.Done():
		sugar.Infow("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
