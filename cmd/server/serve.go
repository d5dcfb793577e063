package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jacksonlee411/loanportal/internal/config"
	"github.com/jacksonlee411/loanportal/internal/server"
	"github.com/jacksonlee411/loanportal/pkg/ratelimit"
)

func newServeCmd(a *app) *cobra.Command {
	var memory bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, memory)
		},
	}
	cmd.Flags().BoolVar(&memory, "memory", false, "run without Postgres on in-memory stores; the /rest/v1 proxy is not mounted")
	return cmd
}

func (a *app) serve(ctx context.Context, memory bool) error {
	opts := server.HandlerOptions{Config: a.cfg, Logger: a.logger}

	if !memory {
		pool, err := openPool(ctx, a.cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()
		opts.DB = pool
	}

	if a.cfg.RateLimit.Enabled && a.cfg.RateLimit.Backend == "redis" {
		client, limiters, err := redisLimiters(ctx, a.cfg.RateLimit)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		opts.Limiters = limiters
	}

	h, err := server.NewHandler(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("listening", zap.String("addr", srv.Addr), zap.Bool("database", opts.DB != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down", zap.Duration("timeout", a.cfg.HTTP.ShutdownTimeout))
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	pc.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}
	return pool, nil
}

// redisLimiters builds one shared limiter per policy on a single client.
func redisLimiters(ctx context.Context, cfg config.RateLimitConfig) (*redis.Client, map[string]ratelimit.Limiter, error) {
	ro, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("rate limit: %w", err)
	}
	client := redis.NewClient(ro)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("rate limit: redis ping: %w", err)
	}

	limiters := make(map[string]ratelimit.Limiter, 3)
	for name, p := range cfg.Policies() {
		limiters[name] = ratelimit.NewRedis(client, p.Limit, p.Window)
	}
	return client, limiters, nil
}
