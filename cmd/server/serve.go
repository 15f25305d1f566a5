package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"groupchat/internal/auth"
	"groupchat/internal/config"
	"groupchat/internal/database"
	"groupchat/internal/handlers"
	"groupchat/internal/metrics"
	"groupchat/internal/migrate"
	"groupchat/internal/relay"
	"groupchat/internal/services"
	"groupchat/internal/websocket"
	"groupchat/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type serveOptions struct {
	port        string
	logLevel    string
	inMemory    bool
	autoMigrate bool
}

func buildServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.port != "" {
				cfg.Server.Port = opts.port
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
			}
			return runServe(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.port, "port", "p", "", "Listen address, e.g. :8080 (default: PORT)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level (default: LOG_LEVEL)")
	cmd.Flags().BoolVar(&opts.inMemory, "in-memory", false, "Use the in-memory store instead of PostgreSQL")
	cmd.Flags().BoolVar(&opts.autoMigrate, "migrate", false, "Apply pending migrations before serving")
	return cmd
}

func runServe(parent context.Context, cfg *config.Config, opts serveOptions) error {
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer logger.Install(log)()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg, opts, log)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Realtime core
	registry := websocket.NewSessionRegistry(m)
	dispatcher := websocket.NewBroadcastDispatcher(registry, log.Named("dispatch"), m)
	presence := websocket.NewPresenceTracker(cfg.Realtime.PresenceDebounce, registry, db, dispatcher, log.Named("presence"), m)

	authService := auth.NewService(db, cfg.JWT.Secret, cfg.JWT.ExpiresIn)
	messageService := services.NewMessageService(db, services.NewSequenceAllocator(db), db)
	syncService := services.NewSyncService(db, cfg.Realtime.SyncPageLimit)
	roomService := services.NewRoomService(db, messageService, dispatcher, registry, log.Named("rooms"))

	router := websocket.NewMessageRouter(db, messageService, syncService, dispatcher, log.Named("router"), m)
	hub := websocket.NewHub(registry, presence, router, dispatcher, db, websocket.Options{
		PongWait:       cfg.Realtime.PongWait,
		WriteWait:      cfg.Realtime.WriteWait,
		MaxMessageSize: cfg.Realtime.MaxMessageSize,
		SendBuffer:     cfg.Realtime.SendBuffer,
	}, log.Named("hub"))

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Redis.URL != "" {
		rdb, err := relay.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis relay: %w", err)
		}
		defer rdb.Close()

		r := relay.NewRedisRelay(rdb, cfg.Redis.Channel, log.Named("relay"))
		dispatcher.SetRelay(r)
		g.Go(func() error {
			return r.Run(gctx, dispatcher.DeliverLocal)
		})
	}

	h := handlers.Handlers{
		Auth:      handlers.NewAuthHandlers(authService, log.Named("auth")),
		Rooms:     handlers.NewRoomHandlers(roomService, syncService, authService, log.Named("http")),
		WebSocket: handlers.NewWebSocketHandlers(authService, hub, log.Named("ws")),
		Health:    handlers.NewHealthHandlers(db, hub.OnlineCount, log.Named("health")),
	}
	if cfg.Metrics.Enabled {
		h.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     handlers.NewRouter(h),
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout does not apply to hijacked websocket connections.
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		log.Info("server started", zap.String("addr", cfg.Server.Port), zap.Bool("in_memory", opts.inMemory))
		handlers.LogEndpoints(log, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		hub.Shutdown()
		return err
	})

	return g.Wait()
}

func openDatabase(ctx context.Context, cfg *config.Config, opts serveOptions, log *zap.Logger) (database.Database, error) {
	if opts.inMemory {
		log.Warn("using in-memory store, data is lost on exit")
		return database.NewMemoryDB(), nil
	}

	if opts.autoMigrate {
		if err := migrate.Up(ctx, cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	db, err := database.NewPostgresDB(ctx, cfg.Database.URL, log.Named("db"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
