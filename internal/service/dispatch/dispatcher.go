package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/calllog"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/campaign"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/lead"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/values"
)

// Dispatcher runs one state machine per in-flight call attempt and routes
// inbound telephony events to them by call ID.
type Dispatcher struct {
	transport  Transport
	agents     AgentRouter
	logs       CallLogRepository
	onTerminal TerminalHandler
	cfg        Config
	logger     *zap.Logger

	mu       sync.RWMutex
	inflight map[uuid.UUID]*machine
	byCamp   map[uuid.UUID]int

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher
func NewDispatcher(transport Transport, agents AgentRouter, logs CallLogRepository, onTerminal TerminalHandler, cfg Config, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		transport:  transport,
		agents:     agents,
		logs:       logs,
		onTerminal: onTerminal,
		cfg:        cfg,
		logger:     logger,
		inflight:   make(map[uuid.UUID]*machine),
		byCamp:     make(map[uuid.UUID]int),
	}
}

// Start opens a call log, spawns the state machine and issues the dial
// command. The lead's attempt counter is incremented here, before the dial,
// so abandoned and failed attempts count like any other.
func (d *Dispatcher) Start(ctx context.Context, c *campaign.Campaign, l *lead.Lead, listID uuid.UUID, phone values.PhoneNumber) (uuid.UUID, error) {
	l.RecordAttempt()

	log, err := calllog.New(c.ID, listID, l.ID, phone, l.CallAttempts)
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating call log: %w", err)
	}
	if err := d.logs.Create(ctx, log); err != nil {
		return uuid.Nil, fmt.Errorf("persisting call log: %w", err)
	}

	m := d.newMachine(log, c)
	d.mu.Lock()
	d.inflight[log.ID] = m
	d.byCamp[c.ID]++
	d.mu.Unlock()

	if err := d.transport.Dial(ctx, log.ID, phone); err != nil {
		// The machine still runs so the failure flows through the normal
		// terminal path and the log is never left open.
		d.logger.Error("dial command failed",
			zap.String("call_id", log.ID.String()),
			zap.Error(err))
		m.log.Fail(fmt.Sprintf("dial failed: %v", err))
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if m.log.CallStatus == calllog.StatusFailed {
			m.end(ctx, "dial_failed")
			d.finish(ctx, m)
			return
		}
		m.run(ctx)
	}()

	return log.ID, nil
}

// HandleEvent routes an inbound event to its machine. Events for unknown or
// already-terminated calls are logged and discarded.
func (d *Dispatcher) HandleEvent(ev Event) {
	d.mu.RLock()
	m, ok := d.inflight[ev.CallID]
	d.mu.RUnlock()
	if !ok {
		d.logger.Info("dropping event for unknown call",
			zap.String("call_id", ev.CallID.String()),
			zap.String("type", string(ev.Type)))
		return
	}
	select {
	case m.events <- ev:
	default:
		d.logger.Warn("event buffer full, dropping event",
			zap.String("call_id", ev.CallID.String()),
			zap.String("type", string(ev.Type)))
	}
}

// finish runs exactly once per machine, after its loop exits.
func (d *Dispatcher) finish(ctx context.Context, m *machine) {
	d.mu.Lock()
	if _, ok := d.inflight[m.log.ID]; !ok {
		d.mu.Unlock()
		return
	}
	delete(d.inflight, m.log.ID)
	d.byCamp[m.campaign.ID]--
	if d.byCamp[m.campaign.ID] <= 0 {
		delete(d.byCamp, m.campaign.ID)
	}
	d.mu.Unlock()

	if m.reservedAgent != nil {
		if err := d.agents.Release(ctx, *m.reservedAgent); err != nil {
			d.logger.Error("agent release failed",
				zap.String("agent_id", m.reservedAgent.String()),
				zap.Error(err))
		}
	}

	if err := d.logs.Update(ctx, m.log); err != nil {
		d.logger.Error("final call log update failed",
			zap.String("call_id", m.log.ID.String()),
			zap.Error(err))
	}

	if d.onTerminal != nil {
		d.onTerminal(ctx, m.log)
	}
}

// ActiveCalls reports the number of in-flight attempts for a campaign
func (d *Dispatcher) ActiveCalls(_ context.Context, campaignID uuid.UUID) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byCamp[campaignID], nil
}

// ActiveCallIDs lists the in-flight call IDs, for reporting snapshots
func (d *Dispatcher) ActiveCallIDs() []uuid.UUID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(d.inflight))
	for id := range d.inflight {
		out = append(out, id)
	}
	return out
}

// Snapshot returns copies of the in-flight call logs
func (d *Dispatcher) Snapshot() []calllog.CallLog {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]calllog.CallLog, 0, len(d.inflight))
	for _, m := range d.inflight {
		out = append(out, *m.log)
	}
	return out
}

// Drain waits for every in-flight machine to reach a terminal state, up to
// the context deadline. New Start calls during a drain are the caller's
// responsibility to prevent.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain timed out with %d calls in flight", len(d.ActiveCallIDs()))
	}
}
