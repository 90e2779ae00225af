package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"projectflow/internal/app"
	"projectflow/internal/logger"
	"projectflow/internal/outbox"
	"projectflow/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader, noReplay bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				cfg := w.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:              viper.GetString("jwt-secret"),
					AllowLegacyActorHeader: allowActorHeader,
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
					return fmt.Errorf("PROJECTFLOW_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:    w.Engine,
					BasePath:  basePath,
					Auth:      authCfg,
					RateLimit: server.RateLimitConfig{RPS: cfg.Server.RateLimit.RPS, Burst: cfg.Server.RateLimit.Burst},
					Metrics:   w.Metrics,
					Gatherer:  w.Registry,
				})
				if err != nil {
					return err
				}

				hooks := server.NewEventHooks(w.Engine, cfg.Server.EventHooks)
				go hooks.Run(ctx)

				if !noReplay {
					o, err := w.OpenOutbox()
					if err != nil {
						return err
					}
					defer o.Close()
					s, err := outbox.NewScheduler(o, app.Replayer{Engine: w.Engine}, cfg.Outbox.Schedule, drainTimeout)
					if err != nil {
						return err
					}
					s.Start()
					defer s.Stop()
				}

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logger.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving projectflow API")
				fmt.Printf("Serving Projectflow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust X-Actor-Id without a token (local use only)")
	cmd.Flags().BoolVar(&noReplay, "no-replay", false, "do not drain the outbox while serving")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				// only directory members get tokens; roles are looked up per request
				if _, err := w.Engine.GetActor(ctx, actor); err != nil {
					return err
				}
				token, err := server.SignToken(viper.GetString("jwt-secret"), actor, ttl)
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}
