package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/maskdetect/internal/assets"
	"github.com/example/maskdetect/internal/config"
	"github.com/example/maskdetect/internal/events"
	"github.com/example/maskdetect/internal/handlers"
	"github.com/example/maskdetect/internal/health"
	"github.com/example/maskdetect/internal/logging"
	"github.com/example/maskdetect/internal/usecase"
	"github.com/example/maskdetect/internal/vision"
	"github.com/example/maskdetect/internal/vision/dnn"
	"github.com/example/maskdetect/internal/vision/haar"
	"github.com/example/maskdetect/internal/vision/pigo"
)

// Version is the application version.
const Version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "maskdetect",
	Short:         "Face mask detection HTTP service",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Fetch missing models, load them and serve POST /detect",
	RunE:  runServe,
}

var fetchAssetsCmd = &cobra.Command{
	Use:   "fetch-assets",
	Short: "Download missing model artifacts and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		return provision(cmd.Context(), cfg, logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default ./config/config.yaml if present)")
	rootCmd.AddCommand(serveCmd, fetchAssetsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

func provision(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	p := assets.NewProvisioner(cfg.Assets.Dir, cfg.Files(), logger,
		assets.WithBaseURL(cfg.Assets.BaseURL),
		assets.WithHTTPClient(&http.Client{Timeout: cfg.Assets.Timeout}),
		assets.WithProgress(os.Stderr),
	)
	if err := p.Ensure(ctx); err != nil {
		return err
	}
	logger.Info("models are ready")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if err := provision(ctx, cfg, logger); err != nil {
		logger.Error("asset provisioning failed", zap.Error(err))
		return err
	}

	var healthSrv *health.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("listen grpc %s: %w", cfg.GRPC.Addr, err)
		}
		healthSrv = health.NewServer(logger)
		go func() {
			if err := healthSrv.Serve(lis); err != nil {
				logger.Error("gRPC health server stopped", zap.Error(err))
			}
		}()
	}

	locator, closeLocator, err := newLocator(cfg.Vision)
	if err != nil {
		return err
	}
	defer closeLocator()

	modelPath := filepath.Join(cfg.Assets.Dir, cfg.Vision.ModelPath)
	classifier, err := dnn.New(modelPath)
	if err != nil {
		return err
	}
	defer classifier.Close() //nolint:errcheck

	cache := newCache(ctx, cfg.Redis, logger)
	producer := events.NewProducer(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	defer producer.Close() //nolint:errcheck

	uc := usecase.NewDetectionUseCase(locator, classifier, cache, producer, logger, usecase.Options{
		MaxPixels:      cfg.Vision.MaxPixels,
		CacheTTL:       cfg.Redis.TTL,
		CacheNamespace: backendNamespace(cfg.Vision, modelPath),
	})

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.MaxMultipartMemory = cfg.Server.MaxUploadBytes
	handlers.RegisterRoutes(r, uc, handlers.Options{
		MaxUploadSize: cfg.Server.MaxUploadBytes,
		Logger:        logger,
	})

	// A signal during model loading or the Redis/Kafka dials must not be lost.
	if err := ctx.Err(); err != nil {
		logger.Info("shutdown requested during startup", zap.NamedError("reason", context.Cause(ctx)))
		if healthSrv != nil {
			healthSrv.Stop()
		}
		return nil
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	opts := serveOptions{shutdownTimeout: cfg.Server.ShutdownTimeout}
	if healthSrv != nil {
		healthSrv.MarkServing()
		opts.onShutdown = healthSrv.Stop
	}

	logger.Info("mask detection API listening",
		zap.String("addr", server.Addr),
		zap.String("locator", cfg.Vision.Locator),
	)
	if err := serveHTTPServer(ctx, server, logger, opts); err != nil {
		logger.Error("server failed", zap.Error(err))
		return err
	}
	return nil
}

func newLocator(cfg config.VisionConfig) (vision.Locator, func(), error) {
	switch cfg.Locator {
	case "pigo":
		l, err := pigo.New(cfg.PigoPath, pigo.DefaultParams)
		if err != nil {
			return nil, nil, err
		}
		return l, func() {}, nil
	default:
		l, err := haar.New(cfg.CascadePath)
		if err != nil {
			return nil, nil, err
		}
		return l, func() { _ = l.Close() }, nil
	}
}

// backendNamespace scopes cached results to the configured locator, its
// cascade file and the classifier model file.
func backendNamespace(cfg config.VisionConfig, modelPath string) string {
	cascadePath := cfg.CascadePath
	if cfg.Locator == "pigo" {
		cascadePath = cfg.PigoPath
	}
	return usecase.CacheNamespace(cfg.Locator, fileIdentity(cascadePath), fileIdentity(modelPath))
}

func fileIdentity(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return path
	}
	return fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
}

// newCache returns a Redis-backed cache, or a no-op one when Redis is not
// configured or unreachable. Caching never gates startup.
func newCache(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) usecase.Cache {
	if cfg.Addr == "" {
		logger.Info("redis not configured, result caching disabled")
		return usecase.NoopCache{}
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis connection failed, result caching disabled", zap.Error(err), zap.String("addr", cfg.Addr))
		_ = client.Close()
		return usecase.NoopCache{}
	}
	return usecase.NewRedisCache(client)
}
