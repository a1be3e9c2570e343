// Command server runs the alert-relay service.
//
// # Usage
//
//	server --port 8080
//
// # Configuration
//
// The server is configured through environment variables (ALERTRELAY_*;
// see SPEC_FULL.md section 6 for the complete list) plus the --port,
// --debug and --version flags. ALERTRELAY_HTTP_PORT, when set to a number,
// overrides --port.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pilot-net/alert-relay/db/migrate"
	"github.com/pilot-net/alert-relay/internal/api"
	"github.com/pilot-net/alert-relay/internal/chat"
	"github.com/pilot-net/alert-relay/internal/config"
	"github.com/pilot-net/alert-relay/internal/dedup"
	"github.com/pilot-net/alert-relay/internal/escalation"
	"github.com/pilot-net/alert-relay/internal/incident"
	"github.com/pilot-net/alert-relay/internal/ingress"
	"github.com/pilot-net/alert-relay/internal/metrics"
	"github.com/pilot-net/alert-relay/internal/processor"
	"github.com/pilot-net/alert-relay/internal/reconciler"
	"github.com/pilot-net/alert-relay/internal/store"
	"github.com/pilot-net/alert-relay/internal/types"
)

const (
	escalationInterval = 60 * time.Second
	reconcileInterval  = 30 * time.Minute
	auditSweepInterval = time.Hour
	defaultAuditTTL    = 30 * 24 * time.Hour
)

func main() {
	var (
		port    = flag.Int("port", 8080, "HTTP server port")
		debug   = flag.Bool("debug", false, "Enable debug logging")
		version = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("alert-relay v0.1.0")
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug || strings.EqualFold(os.Getenv("ALERTRELAY_LOG_LEVEL"), "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if envPort := os.Getenv("ALERTRELAY_HTTP_PORT"); envPort != "" {
		if p, err := strconv.Atoi(envPort); err == nil {
			*port = p
		}
	}

	chatToken := os.Getenv("ALERTRELAY_CHAT_TOKEN")
	if chatToken == "" {
		logger.Error("ALERTRELAY_CHAT_TOKEN is required")
		os.Exit(1)
	}

	redisURL := os.Getenv("ALERTRELAY_STORE_REDIS_URL")
	if redisURL == "" {
		logger.Error("ALERTRELAY_STORE_REDIS_URL is required")
		os.Exit(1)
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Error("invalid ALERTRELAY_STORE_REDIS_URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	dedupStore := dedup.NewFromClient(redisClient)
	incidentStore := incident.NewFromClient(redisClient)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	var db *store.Store
	if dbURL := os.Getenv("ALERTRELAY_DATABASE_URL"); dbURL != "" {
		db, err = store.NewFromURL(ctx, dbURL)
		if err != nil {
			logger.Error("database connect failed", "error", err)
			cancel()
			os.Exit(1)
		}
		if err := db.Ping(ctx); err != nil {
			logger.Error("database ping failed", "error", err)
			cancel()
			os.Exit(1)
		}

		migCtx, migCancel := context.WithTimeout(context.Background(), 5*time.Minute)
		if err := migrate.Run(migCtx, db.Pool(), logger); err != nil {
			logger.Error("database migration failed", "error", err)
			migCancel()
			cancel()
			os.Exit(1)
		}
		migCancel()
		logger.Info("connected to database")
	} else {
		logger.Info("ALERTRELAY_DATABASE_URL not set, running without persistent config/guides/audit")
	}
	cancel()

	configPath := os.Getenv("ALERTRELAY_CONFIG_FILE")
	var cfgDB config.DBStore
	if db != nil {
		cfgDB = db
	}
	cfgSvc := config.New(configPath, cfgDB, logger)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := cfgSvc.Bootstrap(bootCtx); err != nil {
		logger.Error("config bootstrap failed", "error", err)
		bootCancel()
		os.Exit(1)
	}
	bootCancel()

	defaultChannel := os.Getenv("ALERTRELAY_DEFAULT_CHANNEL_ID")

	m := metrics.New()

	onRateLimit := func() {
		m.ChatRateLimits.Inc()
		logger.Warn("discord rate limit hit")
	}
	discordClient, err := chat.NewDiscordClient(chat.DiscordConfig{Token: chatToken}, onRateLimit, logger)
	if err != nil {
		logger.Error("discord client init failed", "error", err)
		os.Exit(1)
	}
	if err := discordClient.Open(); err != nil {
		logger.Error("discord gateway open failed", "error", err)
		os.Exit(1)
	}

	mirror := chat.NewMirror(discordClient, logger)

	var guideStore api.GuideStore
	if db != nil {
		guideStore = db
	}

	guideLookup := processor.GuideLookup(func(ruleName string) bool {
		if db == nil {
			return false
		}
		g, err := db.GetGuide(context.Background(), ruleName)
		if err != nil || g == nil {
			return false
		}
		return true
	})

	proc := processor.New(&dedupAdapter{dedupStore}, incidentStore, mirror, &auditAdapter{db}, cfgSvc.Get, guideLookup, m, logger)

	chat.RegisterInteractions(discordClient.Session(), chat.InteractionHandlers{
		OnAck: proc.Acknowledge,
		OnResolve: func(ctx context.Context, incidentKey, userID string) error {
			return proc.Resolve(ctx, incidentKey, userID)
		},
		OnTroubleshoot: func(ctx context.Context, incidentKey string) (string, bool) {
			if db == nil {
				return "", false
			}
			rec, err := incidentStore.Get(ctx, incidentKey)
			if err != nil || rec == nil {
				return "", false
			}
			g, err := db.GetGuide(ctx, rec.RuleName)
			if err != nil || g == nil {
				return "", false
			}
			return g.Content, true
		},
	}, logger)

	escLoop := escalation.New(incidentStore, mirror, escalation.RuleLookup(cfgSvc.Get), escalationInterval, logger)
	recon := reconciler.New(incidentStore, discordClient, reconcileInterval, logger)

	pool := ingress.NewPool(ingress.DefaultWorkers, ingress.DefaultWorkers*4, logger)
	webhook := ingress.NewWebhook(pool, proc, cfgSvc.Get, defaultChannel, m, logger)

	apiServer := api.NewServer(cfgSvc, guideStore, m, os.Getenv("ALERTRELAY_BEARER_TOKEN"), logger)
	apiServer.Mux().Handle("/alerts", webhook)

	var queuePoller *ingress.QueuePoller
	if queueURL := os.Getenv("ALERTRELAY_QUEUE_URL"); queueURL != "" {
		queuePoller, err = ingress.NewQueuePoller(context.Background(), queueURL, os.Getenv("ALERTRELAY_QUEUE_REGION"), pool, proc, cfgSvc.Get, defaultChannel, m, logger)
		if err != nil {
			logger.Error("queue poller init failed", "error", err)
			os.Exit(1)
		}
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	go func() {
		if err := cfgSvc.Watch(runCtx); err != nil {
			logger.Warn("config watch stopped", "error", err)
		}
	}()
	go escLoop.Run(runCtx)
	go recon.Run(runCtx)
	if queuePoller != nil {
		go queuePoller.Run(runCtx)
	}
	if db != nil {
		go runAuditRetention(runCtx, db, auditTTL(logger), logger)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      apiServer,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", *port)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	runCancel()
	cfgSvc.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	if err := discordClient.Close(); err != nil {
		logger.Warn("discord close error", "error", err)
	}
	if err := incidentStore.Close(); err != nil {
		logger.Warn("incident store close error", "error", err)
	}
	if db != nil {
		db.Close()
	}

	logger.Info("shutdown complete")
}

// dedupAdapter adapts dedup.Store's Result type onto processor.Seen so
// the processor package never has to import dedup directly.
type dedupAdapter struct {
	store *dedup.Store
}

func (a *dedupAdapter) TestAndSet(ctx context.Context, fingerprint string, ttl time.Duration) (processor.Seen, error) {
	result, err := a.store.TestAndSet(ctx, fingerprint, ttl)
	if err != nil {
		return processor.SeenNew, err
	}
	if result == dedup.Duplicate {
		return processor.SeenDuplicate, nil
	}
	return processor.SeenNew, nil
}

func (a *dedupAdapter) Clear(ctx context.Context, fingerprint string) error {
	return a.store.Clear(ctx, fingerprint)
}

func (a *dedupAdapter) SetTTL(ctx context.Context, fingerprint string, ttl time.Duration) error {
	return a.store.SetTTL(ctx, fingerprint, ttl)
}

// auditAdapter adapts a possibly-nil *store.Store onto processor.AuditStore,
// dropping audit writes when no database is configured rather than making
// the processor handle a nil store itself.
type auditAdapter struct {
	db *store.Store
}

func (a *auditAdapter) AppendAudit(ctx context.Context, ev types.AuditEvent) error {
	if a.db == nil {
		return nil
	}
	return a.db.AppendAudit(ctx, ev)
}

// auditTTL parses ALERTRELAY_AUDIT_TTL (Nd, Ndays, or raw seconds). It
// returns 0 when the variable is unset, which runAuditRetention treats as
// "retention disabled" rather than falling back to a default window: spec
// requires that an unset TTL skip the sweep entirely, not silently delete
// under a guessed default.
func auditTTL(logger *slog.Logger) time.Duration {
	raw := os.Getenv("ALERTRELAY_AUDIT_TTL")
	if raw == "" {
		return 0
	}
	trimmed := strings.TrimSuffix(strings.TrimSuffix(raw, "days"), "d")
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		logger.Warn("invalid ALERTRELAY_AUDIT_TTL, using default", "value", raw)
		return defaultAuditTTL
	}
	if trimmed != raw {
		return time.Duration(n) * 24 * time.Hour
	}
	return time.Duration(n) * time.Second
}

// runAuditRetention deletes audit rows older than ttl, sweeping once
// immediately on startup and then hourly, mirroring reconciler.Run's
// sweep-then-tick shape. ttl <= 0 means retention is unconfigured and the
// loop is a no-op.
func runAuditRetention(ctx context.Context, db *store.Store, ttl time.Duration, logger *slog.Logger) {
	if ttl <= 0 {
		logger.Info("audit retention disabled, ALERTRELAY_AUDIT_TTL not set")
		return
	}

	sweep := func() {
		n, err := db.DeleteAuditOlderThan(context.Background(), time.Now().Add(-ttl))
		if err != nil {
			logger.Error("audit retention sweep failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("audit retention sweep", "deleted", n)
		}
	}

	sweep()

	ticker := time.NewTicker(auditSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
