package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/stockrelay/stockrelay/server/internal/api"
	"github.com/stockrelay/stockrelay/server/internal/auth"
	"github.com/stockrelay/stockrelay/server/internal/config"
	"github.com/stockrelay/stockrelay/server/internal/ingest"
	"github.com/stockrelay/stockrelay/server/internal/metrics"
	"github.com/stockrelay/stockrelay/server/internal/receiver"
	"github.com/stockrelay/stockrelay/server/internal/store"
	"github.com/stockrelay/stockrelay/server/internal/ws"
)

const shutdownTimeout = 5 * time.Second

var rootCmd = &cobra.Command{
	Use:   "stockrelay",
	Short: "In-memory relay for game stock snapshots",
	Long: `stockrelay keeps the latest stock snapshots pushed by a game client in memory
and serves them to polling or WebSocket viewers. Entries expire when they stop
being refreshed.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.Flags().String("config", "config.yaml", "path to config file")
	rootCmd.Flags().String("ui-dir", "", "serve the viewer's static files from this directory; leave empty to disable")
	rootCmd.Flags().Bool("watch", true, "reload auth, expiry and log level when the config file changes")
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	uiDir, _ := cmd.Flags().GetString("ui-dir")
	watch, _ := cmd.Flags().GetBool("watch")

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("stockrelay starting", "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level.Set(cfg.Server.Log.SlogLevel())

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"grpc_port", cfg.Server.GRPCPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"max_age", cfg.Server.Store.MaxAge,
		"sweep_interval", cfg.Server.Store.SweepInterval,
		"categories", cfg.Server.Ingest.Categories,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := store.New(cfg.Server.Store.MaxAge)
	m := metrics.New(st)

	sweeper := store.NewSweeper(st, cfg.Server.Store.SweepInterval)
	sweeper.OnSweep = m.ObserveSwept
	go sweeper.Run(ctx)

	guard := auth.NewGuard(authSettings(cfg.Server.Auth))
	parser := ingest.NewParser(cfg.Server.Ingest.Categories[0], cfg.Server.Ingest.Categories[1])

	if watch {
		go func() {
			err := config.Watch(ctx, configPath, func(next *config.Config) {
				guard.Update(authSettings(next.Server.Auth))
				st.SetMaxAge(next.Server.Store.MaxAge)
				level.Set(next.Server.Log.SlogLevel())
			})
			if err != nil {
				slog.Error("config watch stopped", "err", err)
			}
		}()
	}

	hub := ws.New(st, cfg.Server.WS.Interval)
	go hub.Run(ctx)

	apiHandler := api.New(api.Options{
		Store:    st,
		Parser:   parser,
		Guard:    guard,
		Metrics:  m,
		OnChange: hub.Notify,
	})

	r := chi.NewRouter()
	r.Handle("/metrics", m.Handler())
	r.Handle("/ws/stream", guard.Middleware(hub))
	r.Handle("/healthz", apiHandler)
	r.Handle("/api/*", apiHandler)
	if uiDir != "" {
		r.NotFound(spaHandler(uiDir))
		slog.Info("serving viewer static files", "dir", uiDir)
	}

	var grpcSrv *grpc.Server
	if cfg.Server.GRPCPort > 0 {
		grpcSrv = grpc.NewServer(grpc.UnaryInterceptor(guard.UnaryInterceptor()))
		receiver.Register(grpcSrv, receiver.New(st, parser, m))

		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			return fmt.Errorf("listen on gRPC port %d: %w", cfg.Server.GRPCPort, err)
		}
		go func() {
			slog.Info("gRPC ingest listening", "port", cfg.Server.GRPCPort)
			if err := grpcSrv.Serve(lis); err != nil {
				slog.Error("gRPC server stopped", "err", err)
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	select {
	case err := <-serverErrors:
		cancel()
		return fmt.Errorf("HTTP server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("stockrelay shutting down")
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "err", err)
		httpSrv.Close() //nolint:errcheck
	}
	return nil
}

func authSettings(a config.AuthConfig) auth.Settings {
	return auth.Settings{
		Mode:        a.Mode,
		Header:      a.Header,
		Key:         a.Key(),
		PublicParam: a.PublicParam,
		PublicValue: a.PublicValue,
	}
}

// spaHandler serves files from dir and falls back to index.html for unknown
// paths so client-side routing works.
func spaHandler(dir string) http.HandlerFunc {
	fs := http.FileServer(http.Dir(dir))
	return func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		fs.ServeHTTP(w, r)
	}
}
