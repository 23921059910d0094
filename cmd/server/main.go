package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"cloud.google.com/go/spanner"

	"github.com/ocx/botdetect/internal/action"
	"github.com/ocx/botdetect/internal/adminapi"
	"github.com/ocx/botdetect/internal/config"
	"github.com/ocx/botdetect/internal/detect/aggregator"
	"github.com/ocx/botdetect/internal/detect/detectors"
	"github.com/ocx/botdetect/internal/detect/orchestrator"
	"github.com/ocx/botdetect/internal/learning"
	"github.com/ocx/botdetect/internal/middleware"
	"github.com/ocx/botdetect/internal/obsv"
	"github.com/ocx/botdetect/internal/policy"
	"github.com/ocx/botdetect/internal/reputation"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, continuing with process environment")
	}

	slog.Info("🤖 Starting Bot Classification Engine...")

	cfg := config.Get()

	store, err := buildReputationStore(cfg.Reputation)
	if err != nil {
		log.Fatalf("failed to build reputation store: %v", err)
	}
	reputation.NewSweeper(store, 0).Start()

	bus, err := buildLearningBus(cfg.Learning)
	if err != nil {
		log.Fatalf("failed to build learning bus: %v", err)
	}
	learning.RegisterReputationSink(bus, store)

	if cfg.Learning.DriftEnabled {
		driftCfg := learning.DriftMonitorConfig{
			RecentWindowSize:     cfg.Learning.DriftRecentWindowSize,
			HistoricalWindowSize: cfg.Learning.DriftHistoricalWindowSize,
			MinSamples:           cfg.Learning.DriftMinSamples,
			DriftThreshold:       cfg.Learning.DriftThreshold,
		}
		learning.NewDriftMonitor(driftCfg, bus)
		slog.Info("drift monitor enabled", "recent_window", driftCfg.RecentWindowSize, "historical_window", driftCfg.HistoricalWindowSize)
	}

	metrics := obsv.NewMetrics()

	datacenterRanges := loadDatacenterRanges(cfg.Detection.DatacenterCIDRPath)
	roster := []detectors.Detector{
		detectors.NewReputationFastPath(store),
		detectors.NewUserAgent(),
		detectors.NewHeader(),
		detectors.NewDatacenter(datacenterRanges),
		detectors.NewVersionAge(detectors.VersionAgeOptions{}),
		detectors.NewInconsistency(),
		detectors.NewBehavioral(detectors.BehavioralOptions{}),
		detectors.NewAIEscalation(0.5, 0.6),
	}

	agg := aggregator.New(aggregator.Config{
		ReferenceWeight:   cfg.Aggregator.ReferenceWeight,
		ElevatedThreshold: cfg.Aggregator.ElevatedThreshold,
		MediumThreshold:   cfg.Aggregator.MediumThreshold,
		HighThreshold:     cfg.Aggregator.HighThreshold,
		VeryHighThreshold: cfg.Aggregator.VeryHighThreshold,
	})

	orc := orchestrator.New(roster, agg, orchestrator.Config{
		MaxParallelDetectors: cfg.Detection.MaxParallelDetectors,
		WallClockBudget:      time.Duration(cfg.Detection.WallClockBudgetMs) * time.Millisecond,
	}).WithMetrics(metrics).WithBus(bus)

	policyMgr, err := config.NewPolicyManager(cfg.Detection.PolicyPath)
	if err != nil {
		slog.Warn("failed to load policy file, starting in observe-only mode", "path", cfg.Detection.PolicyPath, "error", err)
		reg := policy.NewRegistry(nil, nil, policy.DefaultPermissive())
		policyMgr = config.NewPolicyManagerFromRegistry(reg)
	}

	resolver := action.NewResolver(cfg.Detection.EnableInfoHeaders)
	stream := adminapi.NewVerdictStream()

	detectMw := middleware.NewDetect(policyMgr.Registry(), orc, resolver, cfg.Detection.TestModeEnabled).
		WithTestModeHeader(cfg.Detection.TestModeHeaderName).
		WithMetrics(metrics).
		WithStream(stream)

	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "service": "botdetect"})
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	if cfg.AdminAPI.Enabled {
		registerAdminRoutes(router, cfg, store, policyMgr, stream, bus)
	}

	root := func(w http.ResponseWriter, r *http.Request) {
		evidence, _ := middleware.EvidenceFromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"allowed":         true,
			"bot_probability": evidence.BotProbability,
			"risk_band":       evidence.RiskBand.String(),
		})
	}
	handler := detectMw.Wrap(root)
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
			MaxCallsPerMinute: cfg.RateLimit.MaxCallsPerMinute,
			BurstSize:         cfg.RateLimit.BurstSize,
		})
		handler = limiter.Wrap(handler)
	}
	router.PathPrefix("/").HandlerFunc(handler)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Interface, cfg.GetPort()),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("received shutdown signal, shutting down gracefully")
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("🚀 Bot Classification Engine listening", "port", cfg.GetPort(), "env", cfg.Server.Env)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed to start: %v", err)
	}
}

func registerAdminRoutes(router *mux.Router, cfg *config.Config, store reputation.Store, policyMgr *config.PolicyManager, stream *adminapi.VerdictStream, bus learning.Bus) {
	auth := adminapi.NewAuth(cfg.AdminAPI.TokenHashBase64)
	admin := router.PathPrefix("/admin/v1").Subrouter()

	admin.HandleFunc("/reputation/export", auth.Wrap(adminapi.HandleExportTrainingData(store))).Methods("GET")
	admin.HandleFunc("/reputation/{patternId:.+}/override", auth.Wrap(adminapi.HandleOverridePattern(store))).Methods("POST")
	admin.HandleFunc("/reputation/{patternId:.+}", auth.Wrap(adminapi.HandleInspectPattern(store))).Methods("GET")
	admin.HandleFunc("/policy/reload", auth.Wrap(adminapi.HandleReloadPolicy(policyMgr))).Methods("POST")
	admin.HandleFunc("/feedback", auth.Wrap(adminapi.HandleSubmitFeedback(bus))).Methods("POST")
	admin.HandleFunc("/stream", stream.Handle).Methods("GET")
}

func buildReputationStore(cfg config.ReputationConfig) (reputation.Store, error) {
	repCfg := reputation.Config{
		Alpha:                 cfg.Alpha,
		Prior:                 cfg.Prior,
		MaxSupport:            cfg.MaxSupport,
		TauScore:              time.Duration(cfg.TauScoreHours * float64(time.Hour)),
		TauSupport:            time.Duration(cfg.TauSupportHours * float64(time.Hour)),
		PromoteSuspectScore:   cfg.PromoteSuspectScore,
		PromoteSuspectSupport: cfg.PromoteSuspectSupport,
		PromoteBadScore:       cfg.PromoteBadScore,
		PromoteBadSupport:     cfg.PromoteBadSupport,
		DemoteBadScore:        cfg.DemoteBadScore,
		DemoteBadSupport:      cfg.DemoteBadSupport,
		GCEligibleAge:         time.Duration(cfg.GCEligibleDays * 24 * float64(time.Hour)),
		GCMinSupport:          cfg.GCMinSupport,
	}
	if repCfg.Alpha == 0 {
		repCfg = reputation.DefaultConfig()
	}

	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		backend := reputation.NewRedisBackend(client, cfg.Redis.KeyPrefix)
		return reputation.NewGuardedStore(repCfg, backend), nil

	case "spanner":
		ctx := context.Background()
		dbPath := "projects/" + cfg.Spanner.ProjectID + "/instances/" + cfg.Spanner.InstanceID + "/databases/" + cfg.Spanner.DatabaseID
		client, err := spanner.NewClient(ctx, dbPath)
		if err != nil {
			return nil, err
		}
		backend := reputation.NewSpannerBackend(client)
		return reputation.NewGuardedStore(repCfg, backend), nil

	case "postgres":
		ctx := context.Background()
		backend, err := reputation.NewPostgresBackend(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		return reputation.NewGuardedStore(repCfg, backend), nil

	default:
		slog.Info("reputation backend: in-memory (not durable across restarts)")
		return reputation.NewMemStore(repCfg), nil
	}
}

func buildLearningBus(cfg config.LearningConfig) (learning.Bus, error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return learning.NewRedisBus(client, cfg.RedisChannel), nil
	case "pubsub":
		return learning.NewPubSubBus(context.Background(), cfg.PubSubProjectID, cfg.PubSubTopicID)
	default:
		return learning.NewLocalBus(), nil
	}
}

func loadDatacenterRanges(path string) []*net.IPNet {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("failed to read datacenter CIDR list, datacenter detector will never match", "path", path, "error", err)
		return nil
	}

	var ranges []*net.IPNet
	for _, line := range splitLines(string(data)) {
		if line == "" {
			continue
		}
		_, ipnet, err := net.ParseCIDR(line)
		if err != nil {
			slog.Warn("invalid CIDR in datacenter range file, skipping", "line", line, "error", err)
			continue
		}
		ranges = append(ranges, ipnet)
	}
	return ranges
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, trimCR(s[start:i]))
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, trimCR(s[start:]))
	}
	return lines
}

func trimCR(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\r' {
		return s[:len(s)-1]
	}
	return s
}
