package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"agileflow/internal/api"
	"agileflow/internal/config"
	"agileflow/internal/domain"
	"agileflow/internal/realtime"
	"agileflow/internal/storage"
	"agileflow/internal/tasks"
)

const shutdownTimeout = 10 * time.Second

var defaultWorkflow = []domain.CreateStatusRequest{
	{Name: "To Do", Slug: "todo", Color: "#6b7280", Category: "TODO"},
	{Name: "In Progress", Slug: "in-progress", Color: "#3b82f6", Category: "IN_PROGRESS"},
	{Name: "Done", Slug: "done", Color: "#10b981", Category: "DONE"},
}

func serveCmd() *cobra.Command {
	var seedSpace string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the board API and realtime transports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, seedSpace)
		},
	}
	cmd.Flags().StringVar(&seedSpace, "seed-space", "", "create the default workflow columns in this space on start (in-memory store only)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, seedSpace string) error {
	logger := log.StandardLogger()

	var rc *redis.Client
	if cfg.RedisConnStr != "" {
		opts, err := config.RedisOptions(cfg.RedisConnStr)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		rc = redis.NewClient(opts)
		defer rc.Close()
	}

	store, err := newStore(cfg, rc)
	if err != nil {
		return err
	}

	hub := realtime.NewHub(logger, 0)
	publisher, err := newPublisher(cfg, rc, hub, logger)
	if err != nil {
		return err
	}

	svc := tasks.NewService(store, publisher, logger,
		tasks.WithMaxAttempts(cfg.MoveMaxAttempts),
		tasks.WithTxTimeout(cfg.MoveTxTimeout),
	)
	if seedSpace != "" {
		if cfg.StorageConnStr != "" {
			return errors.New("--seed-space is only supported with the in-memory store")
		}
		for _, req := range defaultWorkflow {
			if _, err := svc.CreateStatus(ctx, seedSpace, req); err != nil {
				return fmt.Errorf("seed workflow: %w", err)
			}
		}
		logger.WithField("space", seedSpace).Info("seeded default workflow")
	}

	auth, err := newAuth(cfg)
	if err != nil {
		return err
	}

	var deduper api.Deduper
	if rc != nil {
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{cfg.CORSOrigin},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())
	e.Use(echoprometheus.NewMiddleware("agileflow"))
	e.GET("/metrics", echoprometheus.NewHandler())
	api.Register(e, svc, auth, deduper, hub, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.ListenAddr).Info("board api listening")
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	if rc != nil {
		g.Go(func() error {
			realtime.Subscribe(gctx, logger, rc, hub)
			return nil
		})
	}
	return g.Wait()
}

// newStore selects Azure Tables when a storage connection string is set and
// falls back to process memory otherwise. Board views go through Redis when
// it is configured.
func newStore(cfg config.Config, rc *redis.Client) (tasks.Store, error) {
	var base storage.Backend
	if cfg.StorageConnStr != "" {
		ts, err := storage.NewTableStore(cfg.StorageConnStr, cfg.BoardTable)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		base = ts
	} else {
		log.Warn("STORAGE_CONNECTION_STRING not set, using in-memory store")
		base = storage.NewMemoryStore()
	}
	if rc != nil && cfg.BoardCacheTTL > 0 {
		return storage.NewCache(base, rc, cfg.BoardCacheTTL), nil
	}
	return base, nil
}

// newPublisher publishes through Redis when it is configured so that every
// replica's hub receives the event, parking failed publishes on the fallback
// queue. A single process without Redis broadcasts straight into its hub.
func newPublisher(cfg config.Config, rc *redis.Client, hub *realtime.Hub, logger *log.Logger) (tasks.Publisher, error) {
	if rc == nil {
		return realtime.NewHubPublisher(hub), nil
	}
	primary := realtime.NewRedisPublisher(rc)
	if cfg.StorageConnStr == "" {
		return primary, nil
	}
	q, err := storage.NewEventQueue(cfg.StorageConnStr, cfg.FallbackQueue)
	if err != nil {
		return nil, fmt.Errorf("event queue: %w", err)
	}
	return realtime.NewFallbackPublisher(primary, q, logger), nil
}

func newAuth(cfg config.Config) (*api.Auth, error) {
	switch cfg.AuthMode {
	case config.AuthHS256:
		return api.NewSecretAuth([]byte(cfg.AuthSecret), cfg.Auth0Audience, ""), nil
	case config.AuthJWKS:
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			return nil, fmt.Errorf("jwks: %w", err)
		}
		return api.NewJWKSAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/"), nil
	default:
		return api.NewDemoAuth(cfg.DemoUserID), nil
	}
}
