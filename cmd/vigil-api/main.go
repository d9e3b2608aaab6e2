// README: Entry point; loads config, wires services, starts HTTP server, ingestion, and sweeps.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vigil/internal/ai"
	"vigil/internal/config"
	httptransport "vigil/internal/http"
	"vigil/internal/infra"
	"vigil/internal/ingest"
	"vigil/internal/logging"
	"vigil/internal/maps"
	"vigil/internal/metrics"
	"vigil/internal/modules/aiusage"
	"vigil/internal/modules/broadcast"
	"vigil/internal/modules/escalation"
	"vigil/internal/modules/monitor"
	"vigil/internal/modules/safetycheck"
	"vigil/internal/modules/share"
	"vigil/internal/modules/sos"
	"vigil/internal/notify"
	"vigil/internal/tickets"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(os.Getenv("VIGIL_DEBUG") != "")
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("database init", zap.Error(err))
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer func() { _ = redisClient.Close() }()

	natsConn, err := infra.NewNATS(cfg.NATS.URL, collector, logger)
	if err != nil {
		logger.Fatal("nats init", zap.Error(err))
	}
	defer natsConn.Close()

	var notifier notify.Notifier = &notify.LogNotifier{Log: logger}
	var verifier infra.TokenVerifier
	if cfg.Firebase.CredentialsFile != "" || cfg.Firebase.ProjectID != "" {
		messagingClient, err := infra.NewFirebaseMessaging(ctx, cfg.Firebase.CredentialsFile)
		if err != nil {
			logger.Fatal("firebase messaging init", zap.Error(err))
		}
		notifier = notify.NewFCMNotifier(messagingClient, collector, logger)

		verifier, err = infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			logger.Fatal("firebase verifier init", zap.Error(err))
		}
	} else {
		logger.Warn("firebase not configured: pushes log-only, API auth disabled")
	}

	var geocoder escalation.Geocoder
	if cfg.Maps.APIKey != "" {
		geocoder, err = maps.NewGeocodeService(cfg.Maps.APIKey)
		if err != nil {
			logger.Fatal("maps init", zap.Error(err))
		}
	}

	var summarizer ai.Summarizer
	if cfg.AI.GeminiKey != "" {
		gemini, err := ai.NewGeminiSummarizer(ctx, cfg.AI.GeminiKey)
		if err != nil {
			logger.Fatal("gemini init", zap.Error(err))
		}
		defer gemini.Close()
		budget := aiusage.NewService(aiusage.NewStore(dbPool))
		summarizer = aiusage.NewBudgetedSummarizer(budget, gemini)
	}

	hub := broadcast.NewHub(collector, logger)

	shareStore := share.NewPGStore(dbPool)
	shareSvc := share.NewService(shareStore, hub, notifier, logger)

	sosStore := sos.NewPGStore(dbPool)
	sosSvc := sos.NewService(sosStore, hub, shareSvc, notifier, collector, logger)

	eventStore := monitor.NewPGStore(dbPool)
	locks := monitor.NewRegistry()
	cache := monitor.NewLocationCache(redisClient)
	dispatcher := safetycheck.NewDispatcher(notifier, collector, logger)
	monitorSvc := monitor.NewService(eventStore, locks, cache, dispatcher,
		sosSvc, shareSvc, cfg.Monitor, collector, logger)

	coordinator := escalation.NewCoordinator(eventStore, locks, cache,
		&notify.LogCaller{Log: logger}, tickets.NewPGCreator(dbPool),
		escalation.NewRedisMarkers(redisClient), geocoder, summarizer,
		cfg.Monitor, collector, logger)

	subscriber := ingest.NewSubscriber(natsConn, monitorSvc, collector, logger)
	if err := subscriber.Start(cfg.NATS.LocationSubject); err != nil {
		logger.Fatal("ingestion start", zap.Error(err))
	}
	defer func() { _ = subscriber.Stop() }()

	go runSweeps(ctx, cfg.Monitor.SweepInterval, logger, monitorSvc, coordinator)

	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Monitor:  monitorSvc,
		SOS:      sosSvc,
		Share:    shareSvc,
		Hub:      hub,
		Metrics:  collector,
		Verifier: verifier,
		Log:      logger,
	})
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("vigil api listening", zap.String("addr", cfg.HTTP.Addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("http server", zap.Error(err))
	}
}

func runSweeps(ctx context.Context, interval time.Duration, logger *zap.Logger, monitorSvc *monitor.Service, coordinator *escalation.Coordinator) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := monitorSvc.RunStationarySweep(ctx); err != nil {
				logger.Error("stationary sweep", zap.Error(err))
			}
			if err := coordinator.RunSweep(ctx); err != nil {
				logger.Error("escalation sweep", zap.Error(err))
			}
		}
	}
}
