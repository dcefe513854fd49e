package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autkucakan/Chat-Block/internal/auth"
	"github.com/autkucakan/Chat-Block/internal/hub"
	"github.com/autkucakan/Chat-Block/internal/server/middleware"
	"github.com/autkucakan/Chat-Block/internal/session"
	"github.com/autkucakan/Chat-Block/internal/store"
	"github.com/autkucakan/Chat-Block/pkg/config"
	"github.com/autkucakan/Chat-Block/pkg/transport"
)

type App struct {
	logger      *slog.Logger
	registry    *hub.Registry
	broadcaster *hub.Broadcaster
	store       store.Store
	validator   *auth.Validator
	wg          sync.WaitGroup
	http        *http.Server
	config      *config.Config

	metrics        *Metrics
	sessionMetrics *session.Metrics

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, st store.Store, promReg prometheus.Registerer) *App {
	hubMetrics := hub.NewMetrics(promReg)
	registry := hub.NewRegistry(logger, hubMetrics)
	broadcaster := hub.NewBroadcaster(registry, logger, hubMetrics)

	app := &App{
		logger:         logger,
		registry:       registry,
		broadcaster:    broadcaster,
		store:          st,
		validator:      auth.NewValidator(cfg.Server.Auth.JWTSecret),
		config:         cfg,
		metrics:        NewMetrics(promReg),
		sessionMetrics: session.NewMetrics(promReg),
		ctx:            rootCtx,
	}

	chain := func(h http.Handler) http.Handler {
		return middleware.Chain(h,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewAuthMiddleware(app.logger, app.validator, app.metrics.RecordAuthFailure),
			middleware.NewConnectionLimiter(
				app.logger,
				registry.UserConnectionCount,
				app.cycleOldestConnection,
				cfg.Server.ConnectionLimit,
			),
		)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /ws/chat/{chatID}", chain(http.HandlerFunc(app.chatHandler)))
	mux.Handle("GET /ws/status", chain(http.HandlerFunc(app.presenceHandler)))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	app.http = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}

	return app
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

// cycleOldestConnection closes the user's longest-lived connection so a new
// one can take its slot.
func (a *App) cycleOldestConnection(userID int64) {
	oldest, found := a.registry.OldestUserConnection(userID)
	if found {
		a.logger.Info("Cycling connection: closing oldest",
			slog.Int64("userID", userID),
			slog.String("connID", oldest.ID().String()),
		)
		oldest.Close(errors.New("connection cycled by new connection"))
	}
}

// chatHandler establishes a chat-channel session. Authentication has already
// happened in the middleware chain; authorization (chat membership) is checked
// here, before the upgrade, so non-members never reach the registry. A chat
// the user does not belong to and a chat that does not exist answer
// identically.
func (a *App) chatHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, ok := middleware.ReqMetadataFrom(r.Context())
	if !ok {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.Int64("userID", reqMeta.UserID),
	)

	chatID, err := strconv.ParseInt(r.PathValue("chatID"), 10, 64)
	if err != nil {
		a.metrics.RecordUpgradeRejected()
		http.Error(w, "chat not found", http.StatusNotFound)
		return
	}

	member, err := a.store.IsChatMember(r.Context(), chatID, reqMeta.UserID)
	if err != nil {
		connLogger.Error("membership check failed", slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if !member {
		a.metrics.RecordUpgradeRejected()
		http.Error(w, "chat not found", http.StatusNotFound)
		return
	}

	conn, ok := a.acceptConnection(w, r, connLogger)
	if !ok {
		return
	}

	sess := session.NewChat(chatID, reqMeta.UserID, conn, a.registry, a.broadcaster, a.store, a.sessionMetrics, a.logger)
	conn.SetOnMessageHandler(sess.HandleMessage)
	conn.SetOnCloseHandler(sess.HandleClose)
	sess.Attach()

	connLogger.Info("chat session established", slog.Int64("chatID", chatID))
	conn.Run()
	<-conn.Done()
}

// presenceHandler establishes a presence-channel session on the global key.
func (a *App) presenceHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, ok := middleware.ReqMetadataFrom(r.Context())
	if !ok {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.Int64("userID", reqMeta.UserID),
	)

	conn, ok := a.acceptConnection(w, r, connLogger)
	if !ok {
		return
	}

	sess := session.NewPresence(reqMeta.UserID, conn, a.registry, a.broadcaster, a.store, a.sessionMetrics, a.logger)
	conn.SetOnMessageHandler(sess.HandleMessage)
	conn.SetOnCloseHandler(sess.HandleClose)
	sess.Attach(r.Context())

	connLogger.Info("presence session established")
	conn.Run()
	<-conn.Done()
}

func (a *App) acceptConnection(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*transport.Connection, bool) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return nil, false
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig{
			ReadTimeout: a.config.Transport.ReadTimeout,
			SendBuffer:  a.config.Transport.SendBuffer,
		},
		a.logger,
	)
	return conn, true
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Close all active WebSocket connections; each close path deregisters the
	// connection from the hub.
	a.logger.Info("Closing all active connections...")
	for _, conn := range a.registry.AllConnections() {
		conn.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
