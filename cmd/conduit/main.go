package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gocloud.dev/blob"

	app "github.com/kode4food/conduit"
	"github.com/kode4food/conduit/internal/archive"
	"github.com/kode4food/conduit/internal/config"
	"github.com/kode4food/conduit/internal/engine"
	"github.com/kode4food/conduit/internal/loader"
	"github.com/kode4food/conduit/internal/server"
	"github.com/kode4food/conduit/internal/watch"
	"github.com/kode4food/conduit/pkg/flow"
	"github.com/kode4food/conduit/pkg/log"
	"github.com/kode4food/conduit/pkg/trace"
)

type conduit struct {
	cfg        *config.Config
	redis      *redis.Client
	tracer     *trace.Tracer
	engine     *engine.Engine
	flows      *flow.Registry
	watcher    *watch.Watcher
	bucket     *blob.Bucket
	archiver   *archive.Archiver
	apiServer  *server.Server
	httpServer *http.Server
	quit       chan os.Signal
}

var (
	ErrConnectRedis   = errors.New("failed to connect to redis")
	ErrLoadFlows      = errors.New("failed to load flows")
	ErrActivateFlows  = errors.New("failed to activate flows")
	ErrStartWatcher   = errors.New("failed to start run watcher")
	ErrCreateArchiver = errors.New("failed to create archiver")
)

const connectTimeout = 5 * time.Second

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &conduit{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *conduit) run() error {
	if err := s.initializeStore(); err != nil {
		return err
	}

	if err := s.initializeFlows(); err != nil {
		s.closeStore()
		return err
	}

	if err := s.startServer(); err != nil {
		s.shutdown()
		return err
	}

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *conduit) setupLogging() {
	level, ok := logLevels[s.cfg.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Conduit starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("redis_addr", s.cfg.Redis.Addr),
		slog.Int("redis_db", s.cfg.Redis.DB),
		slog.String("flows_dir", s.cfg.FlowsDir),
		slog.Bool("archive_enabled", s.cfg.ArchiveEnabled()),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort))
}

func (s *conduit) initializeStore() error {
	s.redis = redis.NewClient(&redis.Options{
		Addr:     s.cfg.Redis.Addr,
		Password: s.cfg.Redis.Password,
		DB:       s.cfg.Redis.DB,
	})
	s.tracer = trace.NewTracer(s.redis)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := s.tracer.Ping(ctx); err != nil {
		_ = s.redis.Close()
		return fmt.Errorf("%w: %w", ErrConnectRedis, err)
	}
	return nil
}

func (s *conduit) initializeFlows() error {
	flows, err := loader.LoadDir(s.cfg.FlowsDir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoadFlows, err)
	}

	s.flows = flow.NewRegistry()
	if err := s.flows.Register(flows...); err != nil {
		return fmt.Errorf("%w: %w", ErrLoadFlows, err)
	}

	s.engine = engine.New(s.tracer, s.cfg)
	s.engine.Start()
	return nil
}

func (s *conduit) startServer() error {
	s.watcher = watch.New(s.tracer, s.cfg.PollInterval)
	s.apiServer = server.NewServer(
		s.tracer, s.flows, s.watcher, s.cfg.RefreshInterval,
	)
	mux := s.apiServer.SetupRoutes()

	if err := s.flows.Activate(flow.Collaborators{
		Routes:  mux,
		Invoker: s.engine,
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrActivateFlows, err)
	}

	if err := s.watcher.Start(context.Background()); err != nil {
		return fmt.Errorf("%w: %w", ErrStartWatcher, err)
	}

	if err := s.startArchiver(); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
	return nil
}

func (s *conduit) startArchiver() error {
	if !s.cfg.ArchiveEnabled() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	bucket, err := archive.OpenBucket(ctx, s.cfg.Archive.BucketURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateArchiver, err)
	}
	s.bucket = bucket

	w, err := archive.NewWriter(bucket, s.cfg.Archive.Prefix)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateArchiver, err)
	}
	s.archiver, err = archive.New(s.tracer, w, s.cfg.Archive)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateArchiver, err)
	}
	s.archiver.Start()
	return nil
}

func (s *conduit) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Error("Shutdown failed", log.Error(err))
		}
	}

	if s.apiServer != nil {
		s.apiServer.CloseWebSockets()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.archiver != nil {
		s.archiver.Stop()
	}

	if err := s.engine.Stop(); err != nil {
		slog.Error("Engine shutdown failed", log.Error(err))
	}

	if s.bucket != nil {
		_ = s.bucket.Close()
	}
	s.closeStore()

	slog.Info("Server exited")
}

func (s *conduit) closeStore() {
	_ = s.redis.Close()
}
