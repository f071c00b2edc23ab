package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wardenhq/warden/internal/api"
	"github.com/wardenhq/warden/internal/authgw"
	"github.com/wardenhq/warden/internal/compute"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/credentials"
	"github.com/wardenhq/warden/internal/gameapi"
	"github.com/wardenhq/warden/internal/idle"
	"github.com/wardenhq/warden/internal/lifecycle"
	"github.com/wardenhq/warden/internal/logger"
	"github.com/wardenhq/warden/internal/scheduler"
	"github.com/wardenhq/warden/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the controller API server",
	Long: `Start the controller API server and the idle monitor.

The server requires a configuration file (--config) that specifies:
- The game server container image and ports
- Idle-shutdown policy
- Secret store location and key names

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverRequestTimeout   = 10 * time.Minute // start waits on provisioning; must cover the full task-running deadline
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 11 * time.Minute // must be > serverRequestTimeout to let middleware handle timeout
	serverIdleTimeout      = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address"))
	if err != nil {
		logger.Fatalf("Failed to bind address flag: %v", err)
	}
	err = viper.BindPFlag("config", serveCmd.Flags().Lookup("config"))
	if err != nil {
		logger.Fatalf("Failed to bind config flag: %v", err)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		logger.Fatalf("Failed to mark config flag as required: %v", err)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	address := viper.GetString("address")

	logger.Infof("Starting warden server on %s", address)

	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Infof("Loaded configuration from %s (server: %s, image: %s)",
		configPath, cfg.ServerName, cfg.Compute.Image)

	// Open the durable store. Secrets and state records share one file.
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Errorf("Failed to close state store: %v", err)
		}
	}()

	secrets := store.NewCachedSecretStore(db, config.Duration(cfg.Store.SecretCacheTTL))
	keys := credentials.Keys{
		AdminPassword:  cfg.Store.Keys.AdminPassword,
		APIToken:       cfg.Store.Keys.APIToken,
		ClientPassword: cfg.Store.Keys.ClientPassword,
		SigningSecret:  cfg.Store.Keys.SigningSecret,
	}

	creds := credentials.NewManager(secrets, keys, cfg.ServerName)

	provider, err := compute.NewDockerProvider(compute.DockerConfig{
		Image:         cfg.Compute.Image,
		ContainerName: cfg.Compute.ContainerName,
		GamePort:      cfg.Compute.GamePort,
		PublicAddress: cfg.Compute.PublicAddress,
		Env:           cfg.Compute.Env,
	})
	if err != nil {
		return fmt.Errorf("failed to create compute provider: %w", err)
	}

	clients := newClientFactory(cfg.Game)

	// The scheduler drives the idle monitor, the monitor stops through the
	// controller, and the controller registers the schedule on start. The
	// monitor is created last and reached through the job closure.
	var monitor *idle.Monitor
	sched := scheduler.New(db, config.Duration(cfg.Idle.PollInterval), func(ctx context.Context) {
		monitor.RunCycle(ctx)
	})

	controller := lifecycle.NewController(provider, clients, creds, secrets, db, idle.NewSchedule(sched, db), keys, lifecycle.Config{
		ServerName:         cfg.ServerName,
		TaskRunningTimeout: config.Duration(cfg.Start.TaskRunningTimeout),
		TaskPollInterval:   config.Duration(cfg.Start.TaskPollInterval),
		APIReadyAttempts:   cfg.Start.APIReadyAttempts,
		APIReadyInterval:   config.Duration(cfg.Start.APIReadyInterval),
	})
	monitor = idle.NewMonitor(controller, db, cfg.Idle.TimeoutMinutes)

	gateway := authgw.New(secrets, keys.AdminPassword, keys.SigningSecret)

	router := api.NewServer(controller, gateway,
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(serverRequestTimeout),
			api.LoggingMiddleware,
		),
	)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	go sched.Run(schedCtx)

	go func() {
		logger.Infof("Server listening on %s", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	schedCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
		return err
	}

	logger.Info("Server shutdown complete")
	return nil
}

// newClientFactory builds game API clients for task addresses using the
// configured control port and TLS mode.
func newClientFactory(cfg config.GameConfig) gameapi.Factory {
	return func(address string) gameapi.Client {
		opts := []gameapi.Option{
			gameapi.WithRequestTimeout(config.Duration(cfg.RequestTimeout)),
		}
		if cfg.InsecureTLS {
			opts = append(opts, gameapi.WithInsecureTLS())
		}
		return gameapi.NewClient(fmt.Sprintf("https://%s:%d", address, cfg.APIPort), opts...)
	}
}
