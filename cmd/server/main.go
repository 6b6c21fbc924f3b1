// Command chat-server runs the room chat service.
//
//	chat-server [port]
//
// The chat protocol listens on CHAT_ADDR (or the given port) and the admin
// HTTP surface on HTTP_ADDR. See internal/server for the environment keys.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/server"
)

func main() {
	if len(os.Args) > 2 {
		fmt.Println("[USAGE]: chat-server [port]")
		os.Exit(2)
	}

	cfg := server.NewConfigFromEnv()
	if len(os.Args) == 2 {
		cfg.ChatAddr = ":" + os.Args[1]
	}

	logger := server.NewLogger(cfg, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("chat server failed")
	}
	logger.Info().Msg("server stopped")
}

func run(cfg *server.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	building, err := loadBuilding(cfg, logger)
	if err != nil {
		return err
	}

	authenticator, closeAuth, err := newAuthenticator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeAuth()

	chatServer := server.New(cfg, building, authenticator, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return chatServer.ListenAndServe(gctx)
	})

	if cfg.HTTPAddr != "" {
		httpServer := server.CreateServer(cfg.HTTPAddr, server.NewRouter(chatServer, logger))
		g.Go(func() error {
			return server.StartServer(httpServer, logger)
		})
		g.Go(func() error {
			<-gctx.Done()
			return server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")
		if err := chatServer.Shutdown(cfg.ShutdownTimeout); err != nil {
			logger.Warn().Err(err).Msg("chat server forced to shutdown")
		}
		return nil
	})

	logger.Info().
		Str("chat_addr", cfg.ChatAddr).
		Str("http_addr", cfg.HTTPAddr).
		Str("env", cfg.Env).
		Msg("starting chat server")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func loadBuilding(cfg *server.Config, logger zerolog.Logger) (*chat.Building, error) {
	layout := chat.DefaultLayout()
	if cfg.BuildingFile != "" {
		var err error
		if layout, err = chat.LoadLayout(cfg.BuildingFile); err != nil {
			return nil, err
		}
		logger.Info().Str("file", cfg.BuildingFile).Msg("loaded building layout")
	}
	return layout.Build(logger)
}

// newAuthenticator prefers Redis, then a users file, then the demo accounts.
func newAuthenticator(ctx context.Context, cfg *server.Config, logger zerolog.Logger) (chat.Authenticator, func(), error) {
	hasher := auth.NewPasswordHasher(auth.DefaultBcryptCost)
	noop := func() {}

	switch {
	case cfg.RedisURL != "":
		a, err := auth.NewRedisAuthenticator(ctx, cfg.RedisURL, auth.DefaultRedisKey, hasher, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("redis authenticator: %w", err)
		}
		logger.Info().Msg("connected to Redis")
		return a, func() { _ = a.Close() }, nil
	case cfg.UsersFile != "":
		a, err := auth.LoadUsersFile(cfg.UsersFile, hasher)
		if err != nil {
			return nil, noop, err
		}
		logger.Info().Str("file", cfg.UsersFile).Int("users", a.Len()).Msg("loaded users file")
		return a, noop, nil
	default:
		a, err := auth.Demo(hasher)
		if err != nil {
			return nil, noop, err
		}
		logger.Warn().Msg("using built-in demo accounts")
		return a, noop, nil
	}
}
