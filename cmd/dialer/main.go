package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/davidleathers/predictive-dialer-backend/internal/engine"
	"github.com/davidleathers/predictive-dialer-backend/internal/infrastructure/cache"
	"github.com/davidleathers/predictive-dialer-backend/internal/infrastructure/config"
	"github.com/davidleathers/predictive-dialer-backend/internal/infrastructure/repository"
	"github.com/davidleathers/predictive-dialer-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/predictive-dialer-backend/internal/infrastructure/telephony"
	"github.com/davidleathers/predictive-dialer-backend/internal/metrics"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/compliance"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/dispatch"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/disposition"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/leadselect"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/pacing"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/reporting"
)

// System disposition mnemonics the engine applies when no agent owns the
// outcome. They must exist in disposition_codes.
const (
	codeNoAnswer         = "NA"
	codeBusy             = "B"
	codeFailed           = "FAIL"
	codeAbandoned        = "DROP"
	codeAnsweringMachine = "AM"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("dialer exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.InitializeOpenTelemetry(ctx, &telemetry.Config{
		ServiceName:    "predictive-dialer",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   "localhost:4317",
		Enabled:        cfg.Environment != "test",
		SamplingRate:   1.0,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer provider.Shutdown(context.Background())

	registry, err := metrics.NewRegistry("predictive-dialer")
	if err != nil {
		return fmt.Errorf("creating metrics registry: %w", err)
	}

	pool, err := repository.NewPool(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.NewClient(&cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer redisClient.Close()

	// Repositories.
	leadRepo := repository.NewLeadRepository(pool.Pgx())
	campaignRepo := repository.NewCampaignRepository(pool.Pgx())
	callLogRepo := repository.NewCallLogRepository(pool.Pgx())
	dncRepo := repository.NewDNCRepository(pool.Pgx())
	dispositionRepo := repository.NewDispositionRepository(pool.Pgx(), leadRepo, campaignRepo, callLogRepo)
	agentRepo := repository.NewAgentRepository(pool.Pgx())

	systemDNCList, err := dncRepo.SystemListID(ctx)
	if err != nil {
		return fmt.Errorf("resolving system dnc list: %w", err)
	}
	systemCodes, err := resolveSystemCodes(ctx, dispositionRepo)
	if err != nil {
		return fmt.Errorf("resolving system disposition codes: %w", err)
	}

	// Live agent registry seeded from the store.
	agentPool := engine.NewAgentPool()
	agents, err := agentRepo.All(ctx)
	if err != nil {
		return fmt.Errorf("loading agents: %w", err)
	}
	for _, a := range agents {
		agentPool.Upsert(a)
	}
	logger.Info("agent pool seeded", zap.Int("agents", len(agents)))

	// Services.
	dncCache := cache.NewDNCCache(redisClient, dncRepo, logger)
	budget := cache.NewHourlyBudget(redisClient, logger)

	scrubber := compliance.NewService(dncCache, leadRepo, logger)
	selector := leadselect.NewService(leadRepo, campaignRepo, logger,
		leadselect.WithClaimTTL(cfg.Engine.ClaimTTL))

	activeCalls := &activeCallsProxy{}
	pacer := pacing.NewService(agentPool, activeCalls, budget,
		cfg.Pacing.GlobalDialRate, logger)

	dispositions := disposition.NewService(dispositionRepo, systemDNCList, logger,
		disposition.WithDNCInvalidator(dncCache))

	eng := engine.New(campaignRepo, selector, scrubber, pacer, dispositions,
		systemCodes, registry, engine.Config{
			TickInterval:  cfg.Engine.TickInterval,
			SelectionSize: cfg.Engine.SelectionSize,
			DrainTimeout:  cfg.Engine.DrainTimeout,
		}, logger)

	gateway, err := telephony.NewGateway(cfg.Telephony, eng.HandleEvent, logger)
	if err != nil {
		return fmt.Errorf("connecting telephony gateway: %w", err)
	}
	defer gateway.Close()

	dispatchCfg := dispatch.DefaultConfig()
	dispatchCfg.WatchdogTimeout = cfg.Engine.WatchdogTimeout
	dispatcher := dispatch.NewDispatcher(gateway, agentPool, callLogRepo,
		eng.OnTerminal, dispatchCfg, logger)
	activeCalls.d = dispatcher
	eng.SetDispatcher(dispatcher)

	reports := reporting.NewService(campaignRepo, agentPool, dispatcher, pacer)

	// Admin access records go through the trace-stamped slog handler so a
	// request line can be joined to its OTLP trace.
	access, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("creating access logger: %w", err)
	}

	admin := newAdminServer(cfg.Server, eng, agentPool, reports, dispositions, pool, redisClient, access, logger)
	go func() {
		if err := admin.ListenAndServe(); err != nil {
			logger.Error("admin server stopped", zap.Error(err))
		}
	}()
	defer admin.Shutdown(cfg.Server.ShutdownTimeout)

	// The DNC list size gauge tracks store growth between imports and
	// escalations.
	go watchDNCSize(ctx, dncRepo, registry, time.Minute, logger)

	logger.Info("predictive dialer starting",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment))

	return eng.Run(ctx)
}

// activeCallsProxy breaks the pacer/dispatcher construction cycle. The
// dispatcher is assigned before the engine starts ticking.
type activeCallsProxy struct {
	d *dispatch.Dispatcher
}

func (p *activeCallsProxy) ActiveCalls(ctx context.Context, campaignID uuid.UUID) (int, error) {
	if p.d == nil {
		return 0, nil
	}
	return p.d.ActiveCalls(ctx, campaignID)
}

func resolveSystemCodes(ctx context.Context, repo *repository.DispositionRepository) (engine.SystemCodes, error) {
	var sc engine.SystemCodes
	var err error
	if sc.NoAnswer, err = repo.CodeByMnemonic(ctx, codeNoAnswer); err != nil {
		return sc, err
	}
	if sc.Busy, err = repo.CodeByMnemonic(ctx, codeBusy); err != nil {
		return sc, err
	}
	if sc.Failed, err = repo.CodeByMnemonic(ctx, codeFailed); err != nil {
		return sc, err
	}
	if sc.Abandoned, err = repo.CodeByMnemonic(ctx, codeAbandoned); err != nil {
		return sc, err
	}
	if sc.AnsweringMachine, err = repo.CodeByMnemonic(ctx, codeAnsweringMachine); err != nil {
		return sc, err
	}
	return sc, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if cfg.Environment == "development" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
