package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/hireme/chatsync/internal/devserver"
	"github.com/hireme/chatsync/internal/identity"
	"github.com/hireme/chatsync/internal/logging"
	"github.com/hireme/chatsync/internal/pushdb"
)

func main() {
	_ = godotenv.Load()

	addr := pflag.String("addr", envOr("CHATSYNC_DEV_ADDR", ":8080"), "listen address")
	secret := pflag.String("secret", os.Getenv("CHATSYNC_TOKEN_SECRET"), "token signing secret")
	redisAddr := pflag.String("redis", os.Getenv("CHATSYNC_REDIS_ADDR"), "redis address for the push database (empty = in memory)")
	prefix := pflag.String("redis-prefix", "chatsync:", "redis key prefix")
	dsn := pflag.String("database-url", os.Getenv("DATABASE_URL"), "postgres url for history (empty = in memory)")
	mint := pflag.String("mint", "", "print a token for uid[:name] and exit")
	ttl := pflag.Duration("ttl", 24*time.Hour, "lifetime of minted tokens")
	level := pflag.String("log-level", "info", "log level (debug, info, warn, error)")
	pflag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "error: --secret or CHATSYNC_TOKEN_SECRET is required")
		os.Exit(1)
	}
	issuer := identity.NewIssuer(*secret, *ttl, nil)

	if *mint != "" {
		uid, name, _ := strings.Cut(*mint, ":")
		token, exp, err := issuer.Mint(identity.Principal{UserID: uid, DisplayName: name})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
		return
	}

	logger := logging.NewConsole("devserver", logging.ParseLevel(*level))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, issuer, *addr, *redisAddr, *prefix, *dsn); err != nil {
		logger.Error("devserver stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *zap.Logger, issuer *identity.Issuer, addr, redisAddr, prefix, dsn string) error {
	var push pushdb.Store = pushdb.NewMemory()
	if redisAddr != "" {
		r, err := pushdb.DialRedis(ctx, &redis.Options{Addr: redisAddr}, prefix, logger.Named("pushdb"))
		if err != nil {
			return err
		}
		push = r
		logger.Info("push database on redis", zap.String("addr", redisAddr))
	}
	defer func() { _ = push.Close() }()

	var repo devserver.Repository = devserver.NewMemoryRepository()
	if dsn != "" {
		pg, err := devserver.OpenPostgres(ctx, dsn)
		if err != nil {
			return err
		}
		repo = pg
		logger.Info("history on postgres")
	}
	defer func() { _ = repo.Close() }()

	srv := devserver.New(devserver.Options{
		Repo:     repo,
		Push:     push,
		Verifier: issuer,
		Logger:   logger,
	})
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return httpSrv.Shutdown(shutdownCtx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
