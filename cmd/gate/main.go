// Command gate runs a Gate Node: the local-first HTTP API, the two
// reconciler workers, and the Event Bus client, per spec.md §4.5-§4.7.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meomeohuhu/ParkingDistributed/internal/config"
	"github.com/meomeohuhu/ParkingDistributed/internal/gateapi"
	"github.com/meomeohuhu/ParkingDistributed/internal/gatecloud"
	"github.com/meomeohuhu/ParkingDistributed/internal/gatestore"
	"github.com/meomeohuhu/ParkingDistributed/internal/imagestore"
	"github.com/meomeohuhu/ParkingDistributed/internal/reconciler"
	"github.com/meomeohuhu/ParkingDistributed/internal/wsclient"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gate:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envPath, configPath string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "run the Gate Local API, reconciler, and WS client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), envPath, configPath)
		},
	}

	root := &cobra.Command{
		Use:           "gate",
		Short:         "parking-lot Gate Node",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.PersistentFlags().StringVar(&envPath, "env-file", ".env", "path to a .env file to load")
	root.PersistentFlags().StringVar(&configPath, "config", "config.json", "path to a config.json file to load")
	root.AddCommand(serve)
	return root
}

func run(ctx context.Context, envPath, configPath string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	config.LoadDotenv(envPath)
	cfg := config.LoadGate(configPath)

	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("open local db: %w", err)
	}
	store := gatestore.NewStore(db)
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate local db: %w", err)
	}

	images := imagestore.New(cfg.ImageRoot)
	cloud := gatecloud.New(cfg.CloudAPI, cfg.SecretToken)
	ws := wsclient.New(cfg.CloudAPI, cfg.GateID)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	go ws.Run(workerCtx)
	go reconciler.NewSnapshotPuller(store, cloud, sugar).Run(workerCtx)
	go reconciler.NewQueueDrainer(store, cloud, images, sugar).Run(workerCtx)

	server := gateapi.NewServer(store, cloud, ws, images, cfg.GateID, cfg.CloudAPI, sugar)
	router := server.NewRouter()

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		sugar.Infow("gate listening", "addr", cfg.ListenAddr, "gate_id", cfg.GateID)
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

	cancelWorkers()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
