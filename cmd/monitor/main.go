package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/inboxsift/backend/internal/api"
	"github.com/inboxsift/backend/internal/apply"
	"github.com/inboxsift/backend/internal/config"
	"github.com/inboxsift/backend/internal/credentials"
	"github.com/inboxsift/backend/internal/crypto"
	"github.com/inboxsift/backend/internal/db"
	"github.com/inboxsift/backend/internal/imap"
	"github.com/inboxsift/backend/internal/logging"
	"github.com/inboxsift/backend/internal/monitor"
	"github.com/inboxsift/backend/internal/pipeline"
	ws "github.com/inboxsift/backend/internal/websocket"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.CloseConnection(pool)

	log.WithField("environment", cfg.Environment).Info("Connected to database")

	supervisor, hub := buildSupervisor(cfg, pool, log)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newHTTPHandler(cfg, supervisor, hub, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("address", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP server stopped")
		}
	}()

	// Blocks until the context is canceled, then stops every monitor.
	supervisor.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown failed")
	}

	log.Info("Shutdown complete")
}

// buildSupervisor wires the stores, credential manager and processing
// pipeline into a tenant supervisor.
func buildSupervisor(cfg *config.Config, pool *pgxpool.Pool, log *logrus.Logger) (*monitor.Supervisor, *ws.Hub) {
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		log.WithError(err).Fatal("Failed to create encryptor")
	}

	tenantStore := db.NewTenantStore(pool)
	threadStore := db.NewThreadStore(pool)

	exchanger := credentials.NewOAuthExchanger(cfg.OAuthTokenURL, cfg.OAuthClientID, cfg.OAuthClientSecret)
	creds := credentials.NewManager(tenantStore, encryptor, exchanger, cfg.TokenRefreshCooldown, log)

	imapDialer := imap.NewDialer(cfg.IMAPServerHostname, cfg.IMAPUseTLS, creds, log)
	hub := ws.NewHub(cfg.MaxConnsPerTenant, log)

	var classifier monitor.Classifier
	if cfg.ClassifierURL != "" {
		var sender apply.ReplySender
		applyCfg := apply.Config{DraftsFolder: cfg.DraftsFolderName}
		if cfg.DirectSendReplies {
			sender = apply.NewSMTPSender(cfg.SMTPServerHostname, creds, log)
			applyCfg.SMTPServer = cfg.SMTPServerHostname
		}
		applier := apply.NewApplier(apply.NewIMAPDialer(imapDialer), sender, applyCfg, log)
		classifier = pipeline.NewClassifier(cfg.ClassifierURL, cfg.ClassifierAPIKey, applier, log)
	} else {
		log.Warn("No classifier URL configured, threads will be stored unclassified")
	}

	reconciler := monitor.NewReconciler(threadStore)
	processor := monitor.NewProcessor(threadStore, tenantStore, reconciler, classifier, hub, cfg.ViewWindowSize)

	monitorCfg := monitor.Config{
		WatchFolder:       cfg.InboxFolderName,
		SentFolder:        cfg.SentFolderName,
		IdleTimeout:       cfg.IdleTimeout,
		ReconnectDelay:    cfg.ReconnectBaseDelay,
		MaxReconnectTries: cfg.MaxReconnectTries,
	}
	factory := func(tenant string) *monitor.Monitor {
		entry := log.WithField("tenant", tenant)
		return monitor.New(tenant, monitorCfg, monitor.NewIMAPDialer(imapDialer), creds, tenantStore, processor, entry)
	}

	return monitor.NewSupervisor(tenantStore, factory, cfg.SweepInterval, 30*time.Second, log), hub
}

// newHTTPHandler builds the service's HTTP surface: liveness, monitor status
// and the event WebSocket.
func newHTTPHandler(cfg *config.Config, supervisor *monitor.Supervisor, hub *ws.Hub, log *logrus.Logger) http.Handler {
	statusHandler := api.NewStatusHandler(supervisor, log)
	wsHandler := api.NewWebSocketHandler(hub, cfg.DashboardAPIKey, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", api.HealthHandler)
	mux.HandleFunc("/api/v1/status", statusHandler.Handle)
	mux.HandleFunc("/api/v1/labels", api.LabelsHandler)
	// WebSocket handler does its own authentication via query parameter
	// (browsers can't set headers on WebSocket connections).
	mux.HandleFunc("/api/v1/ws", wsHandler.Handle)
	return mux
}
