package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"classlobby/internal/api"
	"classlobby/internal/config"
	"classlobby/internal/database"
	"classlobby/internal/hub"
	"classlobby/internal/presence"
	"classlobby/internal/relay"
	"classlobby/internal/roster"
	"classlobby/internal/websocket"
	pkgdatabase "classlobby/pkg/database"
)

// Application wires all lobby components together and owns their lifecycle.
type Application struct {
	config     *config.Config
	chatLog    *database.Manager
	registry   *roster.Registry
	chatRelay  *relay.Relay
	lobbyHub   *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication builds the component graph in dependency order:
// ChatLog → Registry → Broadcaster → Relay → Hub → API → WebSocket → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}

	chatLog, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat log: %w", err)
	}

	registry := roster.NewRegistry()
	broadcaster := presence.NewBroadcaster(registry)
	chatRelay := relay.NewRelay(registry, chatLog, cfg.Presence.OutboxSize)

	lobbyHub := hub.NewHub(broadcaster, chatRelay, cfg.Presence.RebroadcastDelay)

	apiServer := api.NewServer(chatLog, registry, chatRelay, cfg.Presence.HistoryLimit)

	wsHandler := websocket.NewHandler(lobbyHub, chatLog, websocket.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
		HistoryLimit: cfg.Presence.HistoryLimit,
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		chatLog:    chatLog,
		registry:   registry,
		chatRelay:  chatRelay,
		lobbyHub:   lobbyHub,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start brings the hub up before the HTTP listener so the first join finds a
// running event loop.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting lobby server on %s", app.httpServer.Addr)

	if err := app.lobbyHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.lobbyHub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Lobby server started")
		return nil
	case <-ctx.Done():
		app.lobbyHub.Stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse order: the listener first so no new
// events arrive, then the hub, then the relay so its outbox flushes into the
// chat log before the log closes.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down lobby server")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := app.lobbyHub.Stop(); err != nil {
		log.Printf("Hub shutdown error: %v", err)
	}

	if err := app.chatRelay.Close(); err != nil {
		log.Printf("Relay shutdown error: %v", err)
	}

	if err := app.chatLog.Close(); err != nil {
		log.Printf("Chat log shutdown error: %v", err)
	}

	log.Printf("Lobby server shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
