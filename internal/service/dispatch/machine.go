package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/calllog"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/campaign"
	domainerrors "github.com/davidleathers/predictive-dialer-backend/internal/domain/errors"
)

// machine owns one call attempt from initiation to termination. It runs in
// its own goroutine and consumes events from its channel only.
type machine struct {
	log      *calllog.CallLog
	campaign *campaign.Campaign
	d        *Dispatcher

	events chan Event

	// amd holds the verdict when it arrives before the answered event.
	amd AMDVerdict

	// reservedAgent is set while an agent holds this call.
	reservedAgent *uuid.UUID
}

func (d *Dispatcher) newMachine(log *calllog.CallLog, c *campaign.Campaign) *machine {
	return &machine{
		log:      log,
		campaign: c,
		d:        d,
		events:   make(chan Event, 16),
	}
}

// run is the machine's event loop. It returns when the call log is terminal.
func (m *machine) run(ctx context.Context) {
	defer m.d.finish(ctx, m)

	watchdog := time.NewTimer(m.d.cfg.WatchdogTimeout)
	defer watchdog.Stop()

	for {
		select {
		case ev := <-m.events:
			if m.handle(ctx, ev) {
				return
			}
			// Any sign of life restarts the watchdog; only total silence
			// forces the synthetic failure.
			if !watchdog.Stop() {
				select {
				case <-watchdog.C:
				default:
				}
			}
			watchdog.Reset(m.d.cfg.WatchdogTimeout)
		case <-watchdog.C:
			m.forceFail(ctx, "no terminal event within watchdog timeout")
			return
		case <-ctx.Done():
			m.forceFail(ctx, "dispatcher shutting down")
			return
		}
	}
}

// handle applies one event; returns true when the call reached Ended.
func (m *machine) handle(ctx context.Context, ev Event) bool {
	switch ev.Type {
	case EventRinging:
		m.transition(calllog.StatusRinging)
		return false

	case EventAMD:
		// Verdict may race the answered event in either order.
		m.amd = ev.AMD
		if m.log.CallStatus == calllog.StatusConnected && !m.log.AnsweringMachineDetected {
			return m.afterConnect(ctx)
		}
		return false

	case EventAnswered:
		if ev.AMD != AMDUnknown {
			m.amd = ev.AMD
		}
		m.transition(calllog.StatusConnected)
		return m.afterConnect(ctx)

	case EventNoAnswer:
		m.transition(calllog.StatusNoAnswer)
		return m.end(ctx, ev.HangupReason)

	case EventBusy:
		m.transition(calllog.StatusBusy)
		return m.end(ctx, ev.HangupReason)

	case EventFailed:
		m.log.Fail(ev.Error)
		return m.end(ctx, ev.HangupReason)

	case EventHangup:
		if m.log.CallStatus == calllog.StatusConnected {
			return m.end(ctx, ev.HangupReason)
		}
		// Hangup before connect counts as no answer.
		m.transition(calllog.StatusNoAnswer)
		return m.end(ctx, ev.HangupReason)

	default:
		m.d.logger.Warn("unknown telephony event type",
			zap.String("call_id", m.log.ID.String()),
			zap.String("type", string(ev.Type)))
		return false
	}
}

// afterConnect branches on the AMD verdict, then routes humans to an agent.
func (m *machine) afterConnect(ctx context.Context) bool {
	if m.campaign.AMDEnabled && m.amd == AMDMachine {
		m.log.MarkMachine()
		return m.handleMachineAnswer(ctx)
	}
	return m.routeToAgent(ctx)
}

// handleMachineAnswer executes the campaign's configured machine action.
func (m *machine) handleMachineAnswer(ctx context.Context) bool {
	switch m.campaign.AnsweringMachineAction {
	case campaign.AMDActionLeaveMessage:
		if err := m.d.transport.PlayMessage(ctx, m.log.ID, "voicemail_drop"); err != nil {
			m.d.logger.Error("play message failed",
				zap.String("call_id", m.log.ID.String()),
				zap.Error(err))
		}
		m.hangup(ctx, "machine_message_left")
		return m.end(ctx, "machine")
	case campaign.AMDActionTransferToAgent:
		return m.routeToAgent(ctx)
	default: // hangup
		m.hangup(ctx, "machine_detected")
		return m.end(ctx, "machine")
	}
}

// routeToAgent reserves an eligible agent, retrying inside the abandon
// grace period while still consuming hangup/failure events. A connect that
// outlives the grace period unmatched is abandoned.
func (m *machine) routeToAgent(ctx context.Context) bool {
	grace := time.NewTimer(m.campaign.AbandonThreshold)
	defer grace.Stop()
	retry := time.NewTicker(m.d.cfg.AgentRetryInterval)
	defer retry.Stop()

	for {
		a, err := m.d.agents.Reserve(ctx, m.campaign.ID, m.campaign.RequiredSkillLevel)
		if err == nil {
			if err := m.log.AssignAgent(a.ID); err != nil {
				m.d.logger.Error("agent assignment failed", zap.Error(err))
				_ = m.d.agents.Release(ctx, a.ID)
				return m.end(ctx, "assignment_failed")
			}
			agentID := a.ID
			m.reservedAgent = &agentID
			if err := m.d.transport.TransferToAgent(ctx, m.log.ID, a.ID); err != nil {
				m.d.logger.Error("transfer to agent failed",
					zap.String("call_id", m.log.ID.String()),
					zap.Error(err))
				m.log.Fail("transfer failed")
				return m.end(ctx, "transfer_failed")
			}
			return false // stays connected until a hangup event ends it
		}
		if !errors.Is(err, domainerrors.ErrNoEligibleAgent) && !domainerrors.IsType(err, domainerrors.ErrorTypeBusiness) {
			m.d.logger.Error("agent reservation failed",
				zap.String("call_id", m.log.ID.String()),
				zap.Error(err))
		}

		select {
		case ev := <-m.events:
			// The callee may hang up while we hunt for an agent.
			if ev.Type == EventHangup || ev.Type == EventFailed {
				return m.handle(ctx, ev)
			}
			if ev.Type == EventAMD {
				m.amd = ev.AMD
			}
		case <-grace.C:
			return m.abandon(ctx)
		case <-retry.C:
		case <-ctx.Done():
			m.forceFail(ctx, "dispatcher shutting down")
			return true
		}
	}
}

// abandon sheds a connected call that no agent could take in time. The
// attempt increment already happened at dial time; abandons carry no extra
// penalty.
func (m *machine) abandon(ctx context.Context) bool {
	m.log.MarkAbandoned()
	m.hangup(ctx, "abandoned")
	return m.end(ctx, "abandoned")
}

func (m *machine) hangup(ctx context.Context, reason string) {
	if err := m.d.transport.Hangup(ctx, m.log.ID, reason); err != nil {
		m.d.logger.Warn("hangup command failed",
			zap.String("call_id", m.log.ID.String()),
			zap.Error(err))
	}
}

func (m *machine) transition(to calllog.Status) {
	if err := m.log.Transition(to); err != nil {
		m.d.logger.Warn("ignoring invalid transition",
			zap.String("call_id", m.log.ID.String()),
			zap.String("to", to.String()),
			zap.Error(err))
	}
}

// end finalizes the log into Ended.
func (m *machine) end(_ context.Context, hangupReason string) bool {
	if hangupReason != "" && m.log.HangupReason == "" {
		m.log.HangupReason = hangupReason
	}
	m.transition(calllog.StatusEnded)
	return true
}

// forceFail is the watchdog/shutdown path: synthetic Failed -> Ended.
func (m *machine) forceFail(ctx context.Context, reason string) {
	m.log.Fail(reason)
	m.end(ctx, "forced")
}
