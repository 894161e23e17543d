package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/calllog"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/campaign"
	"github.com/davidleathers/predictive-dialer-backend/internal/metrics"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/compliance"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/dispatch"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/disposition"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/leadselect"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/pacing"
)

// CampaignRepository is the engine's view of campaign persistence.
type CampaignRepository interface {
	Campaign(ctx context.Context, id uuid.UUID) (*campaign.Campaign, error)
	ActiveCampaigns(ctx context.Context) ([]*campaign.Campaign, error)
	Assignments(ctx context.Context, campaignID uuid.UUID) ([]leadselect.ListAssignment, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	SetPaused(ctx context.Context, id uuid.UUID, paused bool) error
}

// SystemCodes maps non-agent outcomes to disposition code IDs so every
// terminated call gets dispositioned even when no agent was involved.
type SystemCodes struct {
	NoAnswer         uuid.UUID
	Busy             uuid.UUID
	Failed           uuid.UUID
	Abandoned        uuid.UUID
	AnsweringMachine uuid.UUID
}

// codeFor returns the system code for a terminal log, or Nil when the
// outcome awaits an agent disposition.
func (sc SystemCodes) codeFor(log *calllog.CallLog) uuid.UUID {
	switch {
	case log.Abandoned:
		return sc.Abandoned
	case log.AnsweringMachineDetected:
		return sc.AnsweringMachine
	case log.AgentID != nil:
		return uuid.Nil // agent supplies the disposition
	case log.ErrorMessage != "":
		return sc.Failed
	}
	switch log.ResultStatus {
	case calllog.StatusNoAnswer:
		return sc.NoAnswer
	case calllog.StatusBusy:
		return sc.Busy
	case calllog.StatusFailed:
		return sc.Failed
	case calllog.StatusConnected:
		return uuid.Nil // agent supplies the disposition
	}
	return sc.Failed
}

// Config bounds engine timing.
type Config struct {
	TickInterval  time.Duration
	SelectionSize int // hard cap on candidates per tick
	DrainTimeout  time.Duration
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		TickInterval:  time.Second,
		SelectionSize: 50,
		DrainTimeout:  5 * time.Minute,
	}
}

// Engine runs one pacing loop per active campaign and closes the
// select -> scrub -> dial -> disposition -> recycle cycle.
type Engine struct {
	campaigns    CampaignRepository
	selector     leadselect.Service
	scrubber     compliance.Service
	pacer        pacing.Service
	dispatcher   *dispatch.Dispatcher
	dispositions disposition.Service
	systemCodes  SystemCodes
	registry     *metrics.Registry
	cfg          Config
	logger       *zap.Logger

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu    sync.Mutex
	loops map[uuid.UUID]context.CancelFunc
	wg    sync.WaitGroup
}

// New wires the engine. The dispatcher must have been constructed with
// this engine's OnTerminal as its terminal handler.
func New(campaigns CampaignRepository, selector leadselect.Service, scrubber compliance.Service, pacer pacing.Service, dispositions disposition.Service, systemCodes SystemCodes, registry *metrics.Registry, cfg Config, logger *zap.Logger) *Engine {
	// The root context exists from construction so StartCampaign works
	// before Run; Run's shutdown cancels it.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Engine{
		campaigns:    campaigns,
		selector:     selector,
		scrubber:     scrubber,
		pacer:        pacer,
		dispositions: dispositions,
		systemCodes:  systemCodes,
		registry:     registry,
		cfg:          cfg,
		logger:       logger,
		rootCtx:      rootCtx,
		rootCancel:   rootCancel,
		loops:        make(map[uuid.UUID]context.CancelFunc),
	}
}

// SetDispatcher breaks the construction cycle between engine and dispatcher
func (e *Engine) SetDispatcher(d *dispatch.Dispatcher) {
	e.dispatcher = d
}

// Run starts loops for every active campaign and blocks until ctx is done,
// then drains in-flight calls.
func (e *Engine) Run(ctx context.Context) error {
	active, err := e.campaigns.ActiveCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("loading active campaigns: %w", err)
	}
	for _, c := range active {
		e.startLoop(c.ID)
	}
	e.logger.Info("engine started", zap.Int("campaigns", len(active)))

	<-ctx.Done()
	return e.shutdown()
}

func (e *Engine) shutdown() error {
	e.mu.Lock()
	for id, cancel := range e.loops {
		cancel()
		delete(e.loops, id)
	}
	e.mu.Unlock()
	e.wg.Wait()

	// In-flight calls drain to a terminal state; only the drain deadline
	// forces synthetic failures.
	drainCtx, cancel := context.WithTimeout(context.Background(), e.cfg.DrainTimeout)
	defer cancel()
	err := e.dispatcher.Drain(drainCtx)
	e.rootCancel()
	e.logger.Info("engine stopped")
	return err
}

// startLoop spawns the per-campaign tick loop if not already running
func (e *Engine) startLoop(campaignID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, running := e.loops[campaignID]; running {
		return
	}
	loopCtx, cancel := context.WithCancel(e.rootCtx)
	e.loops[campaignID] = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runLoop(loopCtx, campaignID)
	}()
}

func (e *Engine) stopLoop(campaignID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.loops[campaignID]; ok {
		cancel()
		delete(e.loops, campaignID)
	}
}

// runLoop is the per-campaign pacing tick. Campaign flags are re-read every
// tick so operator changes take effect within one interval.
func (e *Engine) runLoop(ctx context.Context, campaignID uuid.UUID) {
	logger := e.logger.With(zap.String("campaign_id", campaignID.String()))
	logger.Info("campaign loop started")
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("campaign loop stopped")
			return
		case <-ticker.C:
			if err := e.tick(ctx, campaignID, logger); err != nil {
				// A failed tick never kills the loop or other campaigns.
				logger.Error("tick failed", zap.Error(err))
			}
		}
	}
}

func (e *Engine) tick(ctx context.Context, campaignID uuid.UUID, logger *zap.Logger) error {
	c, err := e.campaigns.Campaign(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("loading campaign: %w", err)
	}
	if !c.Dialable() {
		return nil
	}

	assignments, err := e.campaigns.Assignments(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("loading assignments: %w", err)
	}
	links := make([]*campaign.CampaignList, 0, len(assignments))
	for _, a := range assignments {
		links = append(links, a.Link)
	}

	permitted, err := e.pacer.PermittedNewCalls(ctx, c, links)
	if err != nil {
		return fmt.Errorf("pacing: %w", err)
	}
	e.registry.ObservePacingDecision(ctx, permitted)
	if permitted <= 0 {
		return nil
	}
	if permitted > e.cfg.SelectionSize {
		permitted = e.cfg.SelectionSize
	}

	candidates, err := e.selector.Next(ctx, c, permitted)
	if err != nil {
		return fmt.Errorf("selection: %w", err)
	}

	for _, cand := range candidates {
		decision, err := e.scrubber.Check(ctx, compliance.CheckRequest{
			Lead:     cand.Lead,
			Phone:    cand.Phone,
			Campaign: c,
			List:     cand.List,
		})
		if err != nil {
			logger.Error("scrub failed", zap.String("lead_id", cand.Lead.ID.String()), zap.Error(err))
			e.selector.Release(cand.Lead.ID)
			continue
		}
		if !decision.Allowed {
			e.registry.CountComplianceDeny(ctx, string(decision.Reason))
			e.selector.Release(cand.Lead.ID)
			continue
		}

		if err := e.pacer.RecordDial(ctx, c.ID, cand.List.ID); err != nil {
			// Global ceiling hit; stop this round, the claim frees up.
			e.selector.Release(cand.Lead.ID)
			break
		}

		// Dispatcher machines run off the root context so deactivating a
		// campaign drains them instead of killing them.
		if _, err := e.dispatcher.Start(e.rootCtx, c, cand.Lead, cand.List.ID, cand.Phone); err != nil {
			logger.Error("dispatch start failed", zap.String("lead_id", cand.Lead.ID.String()), zap.Error(err))
			e.selector.Release(cand.Lead.ID)
			continue
		}
		e.registry.CountDial(ctx, c.Name)
	}
	return nil
}

// OnTerminal is the dispatcher's terminal handler: it releases the lead
// claim, feeds pacing statistics and applies a system disposition when no
// agent owns the outcome.
func (e *Engine) OnTerminal(ctx context.Context, log *calllog.CallLog) {
	e.selector.Release(log.LeadID)

	connected := log.ConnectedAt != nil
	e.pacer.RecordOutcome(log.CampaignID, connected, log.Abandoned)
	e.registry.ObserveCallEnd(ctx, log.CallStatus.String(), log.DurationSeconds, log.Abandoned)

	codeID := e.systemCodes.codeFor(log)
	if codeID == uuid.Nil {
		return // awaiting agent disposition
	}
	if _, err := e.dispositions.Apply(ctx, log.ID, codeID, nil); err != nil {
		e.logger.Error("system disposition failed",
			zap.String("call_id", log.ID.String()),
			zap.Error(err))
	}
}
