package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"record-sync/core/config"
	"record-sync/core/loader"
	"record-sync/core/logger"
	"record-sync/core/middleware/auth"
	"record-sync/core/middleware/rayid"
	"record-sync/feature/syncer"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sync server",
	Long: `Starts the HTTP server, signs in to the remote store, resumes interrupted
uploads and pulls remote changes periodically when feed.interval is set.`,
	Run: func(cmd *cobra.Command, args []string) {
		// 1. Load configuration, following config.yaml when there is one
		cfg, err := config.Watch(configDir, func(next *config.Config, err error) {
			if err != nil {
				zap.L().Warn("Ignoring invalid configuration change", zap.Error(err))
				return
			}
			if err := logger.SetLevel(next.Log.Level); err != nil {
				zap.L().Warn("Ignoring invalid log level", zap.Error(err))
				return
			}
			zap.L().Info("Log level changed", zap.String("level", next.Log.Level))
		})
		if err != nil {
			cfg, err = config.LoadConfig(configDir)
		}
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}

		// 2. Initialize Logger
		logg, err := logger.New(&cfg.Log)
		if err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
		defer logg.Sync()
		zap.ReplaceGlobals(logg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// 3. Build the engine
		engine, err := syncer.Open(ctx, cfg, logg)
		if err != nil {
			logg.Fatal("Failed to open sync engine", zap.Error(err))
		}
		defer engine.Close()
		svc := engine.Service

		// 4. Sign in and pick up where the last run stopped
		if err := svc.Connect(ctx); err != nil {
			logg.Warn("Remote sign-in failed, retry with POST /sync/connect", zap.Error(err))
		}
		if _, err := svc.Resume(ctx); err != nil {
			logg.Error("Failed to resume interrupted sync", zap.Error(err))
		}
		go svc.Run(ctx)

		// 5. Initialize Fiber App
		app := fiber.New(fiber.Config{
			DisableStartupMessage: true,
		})

		// RayID must be first to trace everything
		app.Use(rayid.New())
		app.Use(func(c *fiber.Ctx) error {
			l := logger.WithRayID(logg, c)
			l.Info("Request started",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
			)
			err := c.Next()
			if err != nil {
				l.Error("Request error", zap.Error(err))
			}
			return err
		})
		app.Use(auth.New(auth.Config{ApiKey: cfg.Server.ApiKey, JWTSecret: cfg.Server.JWTSecret}))
		if !cfg.Server.AuthEnabled() {
			logg.Warn("API is unprotected, set server.api_key or server.jwt_secret")
		}

		// 6. Load Features
		mgr := loader.NewManager(logg)
		mgr.Register(syncer.NewFeature(svc))
		if err := mgr.LoadAll(app); err != nil {
			logg.Fatal("Failed to load features", zap.Error(err))
		}

		// 7. Start Server
		go func() {
			logg.Info("Starting server", zap.String("port", cfg.Server.Port))
			if err := app.Listen(":" + cfg.Server.Port); err != nil {
				logg.Error("Server failed", zap.Error(err))
				stop()
			}
		}()

		// 8. Graceful Shutdown
		<-ctx.Done()
		logg.Info("Shutting down server...")
		_ = app.Shutdown()
	},
}

func init() {
	RootCmd.AddCommand(startCmd)
}
