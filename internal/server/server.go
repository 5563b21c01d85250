package server

import (
	"context"
	"log/slog"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/vectorstore/internal/action"
	"github.com/Zereker/vectorstore/internal/api/consumer"
	"github.com/Zereker/vectorstore/internal/api/http"
	"github.com/Zereker/vectorstore/internal/api/mcp"
	genkitpkg "github.com/Zereker/vectorstore/pkg/genkit"
	"github.com/Zereker/vectorstore/pkg/log"
	"github.com/Zereker/vectorstore/pkg/mq"
	"github.com/Zereker/vectorstore/pkg/redis"
	"github.com/Zereker/vectorstore/pkg/vector"
)

// Version is reported by the MCP server.
const Version = "0.1.0"

var errStdinClosed = errors.New("stdin closed")

// Server represents the vector store service
type Server struct {
	config   Config
	logger   *slog.Logger
	store    vector.Store
	queue    mq.MessageQueue
	vectors  *action.Vectors
	consumer *consumer.Consumer
}

// NewServer creates a new server with the given configuration
func NewServer(conf Config) (*Server, error) {
	server := &Server{
		config: conf,
	}

	if err := server.initDepend(); err != nil {
		return nil, errors.WithMessage(err, "init server dependency failed")
	}

	if err := server.initVectors(); err != nil {
		return nil, errors.WithMessage(err, "init vectors failed")
	}

	if err := server.initConsumer(); err != nil {
		return nil, errors.WithMessage(err, "init consumer failed")
	}

	return server, nil
}

// NewServerWithStore creates a server over an already opened store. Logging, genkit and
// the store backend are not initialized.
func NewServerWithStore(conf Config, store vector.Store) (*Server, error) {
	server := &Server{
		config: conf,
		logger: log.Logger("server"),
		store:  store,
	}

	if err := server.initQueue(); err != nil {
		return nil, errors.WithMessage(err, "init message queue failed")
	}

	if err := server.initVectors(); err != nil {
		return nil, errors.WithMessage(err, "init vectors failed")
	}

	if err := server.initConsumer(); err != nil {
		return nil, errors.WithMessage(err, "init consumer failed")
	}

	return server, nil
}

// initDepend initializes all dependencies
func (s *Server) initDepend() error {
	// Initialize log first
	if err := log.Init(s.config.Log); err != nil {
		return errors.WithMessage(err, "failed to init log")
	}

	// Create logger for this module
	s.logger = log.Logger("server")
	s.logger.Info("initializing dependencies")

	ctx := context.Background()

	s.logger.Info("initializing genkit embedders", "enabled", s.config.Models.Enabled())
	if err := genkitpkg.Init(ctx, s.config.Models); err != nil {
		return errors.WithMessage(err, "failed to init models")
	}

	if s.config.Redis.Enabled {
		s.logger.Info("initializing embedding cache", "addr", s.config.Redis.Addr)
		if err := redis.Init(s.config.Redis); err != nil {
			return errors.WithMessage(err, "failed to init redis")
		}
	}

	s.logger.Info("initializing storage", "backend", s.config.Storage.Backend)
	if err := vector.Init(ctx, s.config.Storage); err != nil {
		return errors.WithMessage(err, "failed to init storage")
	}
	s.store = vector.NewStore()

	return s.initQueue()
}

// initQueue selects kafka when enabled and an in-process queue otherwise.
func (s *Server) initQueue() error {
	if !s.config.Kafka.Enabled {
		s.logger.Info("kafka disabled, asynchronous writes are applied in process")
		s.queue = mq.NewInMemoryQueue()
		return nil
	}

	s.logger.Info("initializing message queue", "brokers", s.config.Kafka.Brokers)
	if err := mq.Init(s.config.Kafka); err != nil {
		return errors.WithMessage(err, "failed to init message queue")
	}
	s.queue = mq.NewQueue()
	return nil
}

// initVectors initializes the vector service
func (s *Server) initVectors() error {
	s.logger.Info("initializing vectors")

	opts := []action.Option{action.WithQueue(s.queue, s.mutationTopic())}
	if s.config.Models.Enabled() {
		opts = append(opts, action.WithEmbedder(s.embedder()))
	}

	s.vectors = action.NewVectors(s.store, opts...)
	return nil
}

// embedder returns the configured genkit embedder, behind the redis cache when one is connected.
func (s *Server) embedder() action.Embedder {
	embedder := genkitpkg.NewEmbedder(genkitpkg.Genkit(), s.config.Models.Embedder)

	client := redis.Client()
	if client == nil {
		return embedder
	}
	return redis.NewEmbeddingCache(redis.NewKV(client), embedder, embedder.Name(), s.config.Redis.TTLDuration())
}

// initConsumer initializes the mutation consumer
func (s *Server) initConsumer() error {
	s.logger.Info("initializing consumer")

	var (
		c   *consumer.Consumer
		err error
	)
	if s.config.Kafka.Enabled {
		c, err = consumer.NewConsumer(s.vectors, consumer.Config{Kafka: s.config.Kafka})
	} else {
		c, err = consumer.NewQueueConsumer(s.vectors, s.queue, s.mutationTopic())
	}
	if err != nil {
		return errors.WithMessage(err, "failed to create consumer")
	}

	s.consumer = c
	return nil
}

func (s *Server) mutationTopic() string {
	if s.config.Kafka.MutationTopic != "" {
		return s.config.Kafka.MutationTopic
	}
	return "vector-mutations"
}

// Vectors returns the vector service.
func (s *Server) Vectors() *action.Vectors {
	return s.vectors
}

// Start starts the server based on configuration mode
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case <-sigCh:
			s.logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	return s.Run(ctx)
}

// Run serves until ctx is cancelled or a component fails.
func (s *Server) Run(ctx context.Context) error {
	var servers []func(context.Context) error
	switch s.config.Server.Mode {
	case ModeHTTP:
		servers = append(servers, s.runHTTPServer)
	case ModeMCP:
		// closing stdin ends an mcp-only process
		servers = append(servers, func(ctx context.Context) error {
			if err := s.runMCPServer(ctx); err != nil {
				return err
			}
			return errStdinClosed
		})
	case ModeBoth:
		servers = append(servers, s.runHTTPServer, s.runMCPServer)
	default:
		return errors.Errorf("unknown mode: %s", s.config.Server.Mode)
	}

	s.logger.Info("starting", "mode", s.config.Server.Mode, "port", s.config.Server.Port)

	g, ctx := errgroup.WithContext(ctx)

	if s.consumer != nil {
		g.Go(func() error {
			return s.runConsumer(ctx)
		})
	}

	for _, run := range servers {
		g.Go(func() error {
			return run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errStdinClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down")

	// Stop consumer
	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			s.logger.Error("failed to stop consumer", "error", err)
		}
	}

	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			s.logger.Error("failed to close message queue", "error", err)
		}
	}

	if err := redis.Close(); err != nil {
		s.logger.Error("failed to close redis", "error", err)
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close store", "error", err)
		}
	}

	return nil
}

func (s *Server) httpConfig() http.ServerConfig {
	serverCfg := http.DefaultServerConfig()
	serverCfg.Port = s.config.Server.Port
	if s.config.Server.Host != "" {
		serverCfg.Host = s.config.Server.Host
	}
	if s.config.Server.MaxBodyMB > 0 {
		serverCfg.MaxBodyBytes = int64(s.config.Server.MaxBodyMB) << 20
	}
	return serverCfg
}

func (s *Server) runHTTPServer(ctx context.Context) error {
	srv := http.NewServer(s.vectors, s.httpConfig())

	// Shutdown when context is cancelled
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
		return errors.WithMessage(err, "http server error")
	}
	return nil
}

func (s *Server) runMCPServer(ctx context.Context) error {
	server := mcp.NewServer(s.vectors, mcp.ServerConfig{
		Name:    "vectorstore",
		Version: Version,
	})

	if err := server.RunStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return errors.WithMessage(err, "mcp server error")
	}
	return nil
}

func (s *Server) runConsumer(ctx context.Context) error {
	if err := s.consumer.Start(ctx); err != nil {
		return errors.WithMessage(err, "consumer start error")
	}

	// Wait for context cancellation
	<-ctx.Done()

	return s.consumer.Stop()
}
