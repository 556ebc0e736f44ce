package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gravitas-games/forge/internal/config"
	"github.com/gravitas-games/forge/internal/craft"
	"github.com/gravitas-games/forge/internal/inventory"
	"github.com/gravitas-games/forge/internal/journal"
	"github.com/gravitas-games/forge/internal/ledger"
	"github.com/gravitas-games/forge/internal/server"
	"github.com/gravitas-games/forge/internal/synth"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/server.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		os.Exit(stopWithError(logger, err))
	}
	logger.Info("server stopped")
}

// stopWithError logs err and flushes the logger before the process exits,
// since os.Exit skips deferred calls. It returns the exit code.
func stopWithError(logger *zap.Logger, err error) int {
	logger.Error("server stopped with error", zap.Error(err))
	_ = logger.Sync()
	return 1
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Address))
	}

	l, err := openLedger(cfg, rdb)
	if err != nil {
		if rdb != nil {
			rdb.Close()
		}
		return err
	}
	defer l.Close()
	// The redis ledger closes the client itself.
	if rdb != nil && cfg.Ledger.Backend != config.BackendRedis {
		defer rdb.Close()
	}
	logger.Info("ledger ready", zap.String("backend", cfg.Ledger.Backend))

	catalog, err := loadCatalog(cfg.Catalog)
	if err != nil {
		return err
	}
	templates, err := loadTemplates(cfg.Crafting)
	if err != nil {
		return err
	}
	forge := synth.NewForge(templates, synth.WithCatalog(catalog), synth.WithScaling(*cfg.Crafting.Scaling))

	var synthesizer synth.Synthesizer = forge
	if cfg.Crafting.SynthesizerURL != "" {
		synthesizer = synth.NewRemote(cfg.Crafting.SynthesizerURL, cfg.Crafting.SynthesisTimeout)
		logger.Info("using remote synthesizer", zap.String("url", cfg.Crafting.SynthesizerURL))
	}

	opts := []craft.Option{
		craft.WithLogger(logger.Named("craft")),
		craft.WithEventBus(craft.NewSimpleEventBus()),
		craft.WithSynthesisTimeout(cfg.Crafting.SynthesisTimeout),
		craft.WithCompensationTimeout(cfg.Crafting.CompensationTimeout),
	}
	if cfg.Catalog.Enforce {
		opts = append(opts, craft.WithCatalog(catalog))
	}
	if cfg.Journal.Dir != "" {
		j := journal.NewWriter(cfg.Journal.Dir, cfg.Journal.Prefix)
		defer j.Close()
		opts = append(opts, craft.WithRecorder(j))
		logger.Info("craft journal enabled", zap.String("dir", cfg.Journal.Dir))
	}
	engine := craft.NewEngine(l, synthesizer, opts...)

	validator, err := server.NewJWTValidator(cfg.JWT, rdb, cfg.Redis.BlacklistPrefix, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT validator: %w", err)
	}
	go validator.RunKeyRefresh(ctx)

	srv, err := server.New(cfg, server.Deps{
		Engine:         engine,
		Ledger:         l,
		Forge:          forge,
		Catalog:        catalog,
		EnforceCatalog: cfg.Catalog.Enforce,
		Auth:           validator,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(cfg.Server.Addr())
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openLedger(cfg *config.Config, rdb *redis.Client) (ledger.Ledger, error) {
	switch cfg.Ledger.Backend {
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Ledger.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		return ledger.OpenSQLite(cfg.Ledger.SQLitePath)
	case config.BackendRedis:
		return ledger.NewRedis(rdb,
			ledger.WithRedisPrefix(cfg.Ledger.RedisPrefix),
			ledger.WithRedisRetries(cfg.Ledger.RedisRetries),
		), nil
	default:
		return ledger.NewMemory(), nil
	}
}

func loadCatalog(cfg config.CatalogConfig) (*inventory.Catalog, error) {
	if cfg.Path == "" {
		return inventory.DefaultCatalog()
	}
	return inventory.LoadCatalog(cfg.Path)
}

func loadTemplates(cfg config.CraftingConfig) (*synth.TemplateRegistry, error) {
	if cfg.TemplatesPath == "" {
		return synth.DefaultTemplates()
	}
	return synth.LoadTemplates(cfg.TemplatesPath)
}
