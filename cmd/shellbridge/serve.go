package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/remote-agent-terminal/shellbridge/api/handlers"
	"github.com/remote-agent-terminal/shellbridge/internal/db"
	"github.com/remote-agent-terminal/shellbridge/internal/repository"
	"github.com/remote-agent-terminal/shellbridge/internal/session"
	"github.com/remote-agent-terminal/shellbridge/internal/ws"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session over HTTP and WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				opts.config.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, log := opts.config, opts.log

	database, err := db.Open(cfg.Server.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	profiles := repository.NewProfileRepository(database)

	manager := session.NewManager(profiles, cfg.SessionConfig(), log)
	defer manager.Close()

	// The API already allows any origin.
	ws.SetCheckOrigin(func(*http.Request) bool { return true })
	wsService := ws.NewService(manager, log)
	defer wsService.Close()
	manager.AddListener(wsService)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(log), handlers.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"connected": manager.Status().Connected,
			"clients":   wsService.ClientCount(),
		})
	})

	api := r.Group("/api")
	{
		handlers.NewSessionHandler(manager).RegisterRoutes(api)
		handlers.NewProfileHandler(profiles).RegisterRoutes(api)
		handlers.NewWebSocketHandler(wsService).RegisterRoutes(api)
	}

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := manager.Disconnect(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("session did not shut down cleanly")
	}
	return srv.Shutdown(shutdownCtx)
}
