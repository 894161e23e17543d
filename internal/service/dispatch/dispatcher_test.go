package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/agent"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/calllog"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/campaign"
	domainerrors "github.com/davidleathers/predictive-dialer-backend/internal/domain/errors"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/lead"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/values"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/dispatch"
)

type command struct {
	kind   string
	callID uuid.UUID
	detail string
}

type fakeTransport struct {
	mu          sync.Mutex
	commands    []command
	dialErr     error
	transferErr error
	playErr     error
}

func (f *fakeTransport) record(kind string, callID uuid.UUID, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command{kind: kind, callID: callID, detail: detail})
}

func (f *fakeTransport) Dial(_ context.Context, callID uuid.UUID, phone values.PhoneNumber) error {
	if f.dialErr != nil {
		return f.dialErr
	}
	f.record("dial", callID, phone.String())
	return nil
}

func (f *fakeTransport) Hangup(_ context.Context, callID uuid.UUID, reason string) error {
	f.record("hangup", callID, reason)
	return nil
}

func (f *fakeTransport) PlayMessage(_ context.Context, callID uuid.UUID, messageID string) error {
	if f.playErr != nil {
		return f.playErr
	}
	f.record("play", callID, messageID)
	return nil
}

func (f *fakeTransport) TransferToAgent(_ context.Context, callID uuid.UUID, agentID uuid.UUID) error {
	if f.transferErr != nil {
		return f.transferErr
	}
	f.record("transfer", callID, agentID.String())
	return nil
}

func (f *fakeTransport) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.commands {
		out = append(out, c.kind)
	}
	return out
}

func (f *fakeTransport) find(kind string) (command, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commands {
		if c.kind == kind {
			return c, true
		}
	}
	return command{}, false
}

type fakeRouter struct {
	mu       sync.Mutex
	agent    *agent.Agent
	failures int // number of Reserve calls to fail before succeeding
	released []uuid.UUID
	reserves int
}

func (f *fakeRouter) Reserve(_ context.Context, _ uuid.UUID, _ int) (*agent.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserves++
	if f.agent == nil || f.reserves <= f.failures {
		return nil, domainerrors.ErrNoEligibleAgent
	}
	copied := *f.agent
	return &copied, nil
}

func (f *fakeRouter) Release(_ context.Context, agentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, agentID)
	return nil
}

func (f *fakeRouter) releasedIDs() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.released...)
}

type fakeLogs struct {
	mu      sync.Mutex
	created []*calllog.CallLog
	updated []*calllog.CallLog
}

func (f *fakeLogs) Create(_ context.Context, log *calllog.CallLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, log)
	return nil
}

func (f *fakeLogs) Update(_ context.Context, log *calllog.CallLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, log)
	return nil
}

type harness struct {
	d         *dispatch.Dispatcher
	transport *fakeTransport
	router    *fakeRouter
	logs      *fakeLogs
	terminal  chan *calllog.CallLog

	campaign *campaign.Campaign
	lead     *lead.Lead
	listID   uuid.UUID
}

func newHarness(t *testing.T, cfg dispatch.Config, mutate func(h *harness)) *harness {
	t.Helper()

	c, err := campaign.NewCampaign("dispatch-test")
	require.NoError(t, err)
	c.IsActive = true
	c.AbandonThreshold = 100 * time.Millisecond

	a, err := agent.NewAgent("Pat", 3)
	require.NoError(t, err)
	a.IsLoggedIn = true
	a.Status = agent.StatusAvailable
	a.QualifiedCampaigns = []uuid.UUID{c.ID}

	l, err := lead.NewLead(uuid.New(), "Jane", "Doe", "+15551234567", 5)
	require.NoError(t, err)

	h := &harness{
		transport: &fakeTransport{},
		router:    &fakeRouter{agent: a},
		logs:      &fakeLogs{},
		terminal:  make(chan *calllog.CallLog, 4),
		campaign:  c,
		lead:      l,
		listID:    l.ListID,
	}
	if mutate != nil {
		mutate(h)
	}
	onTerminal := func(_ context.Context, log *calllog.CallLog) {
		h.terminal <- log
	}
	h.d = dispatch.NewDispatcher(h.transport, h.router, h.logs, onTerminal, cfg, zap.NewNop())
	return h
}

func testConfig() dispatch.Config {
	return dispatch.Config{
		WatchdogTimeout:    5 * time.Second,
		AgentRetryInterval: 10 * time.Millisecond,
	}
}

func (h *harness) start(t *testing.T) uuid.UUID {
	t.Helper()
	callID, err := h.d.Start(context.Background(), h.campaign, h.lead, h.listID, h.lead.Phone)
	require.NoError(t, err)
	return callID
}

func waitTerminal(t *testing.T, h *harness) *calllog.CallLog {
	t.Helper()
	select {
	case log := <-h.terminal:
		return log
	case <-time.After(3 * time.Second):
		t.Fatal("call never reached a terminal state")
		return nil
	}
}

func TestDispatcher_AnsweredCallRoutedToAgent(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	callID := h.start(t)

	assert.Equal(t, 1, h.lead.CallAttempts, "attempt counted at dial time")

	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventRinging})
	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventAnswered, AMD: dispatch.AMDHuman})

	// Wait for the transfer before hanging up.
	require.Eventually(t, func() bool {
		_, ok := h.transport.find("transfer")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventHangup, HangupReason: "normal_clearing"})

	log := waitTerminal(t, h)
	assert.Equal(t, calllog.StatusEnded, log.CallStatus)
	assert.Equal(t, calllog.StatusConnected, log.ResultStatus)
	assert.Equal(t, "normal_clearing", log.HangupReason)
	require.NotNil(t, log.AgentID)
	assert.Equal(t, h.router.agent.ID, *log.AgentID)
	assert.False(t, log.Abandoned)

	// The reserved agent is released on termination.
	released := h.router.releasedIDs()
	require.Len(t, released, 1)
	assert.Equal(t, h.router.agent.ID, released[0])

	assert.Equal(t, []string{"dial", "transfer"}, h.transport.kinds())

	active, err := h.d.ActiveCalls(context.Background(), h.campaign.ID)
	require.NoError(t, err)
	assert.Zero(t, active)
}

func TestDispatcher_NoAnswer(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	callID := h.start(t)

	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventRinging})
	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventNoAnswer, HangupReason: "no_answer"})

	log := waitTerminal(t, h)
	assert.Equal(t, calllog.StatusNoAnswer, log.ResultStatus)
	assert.Equal(t, "no_answer", log.HangupReason)
	assert.Nil(t, log.AgentID)
	assert.Empty(t, h.router.releasedIDs())
}

func TestDispatcher_Busy(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	callID := h.start(t)

	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventRinging})
	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventBusy})

	log := waitTerminal(t, h)
	assert.Equal(t, calllog.StatusBusy, log.ResultStatus)
}

func TestDispatcher_HangupBeforeConnectIsNoAnswer(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	callID := h.start(t)

	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventRinging})
	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventHangup, HangupReason: "originator_cancel"})

	log := waitTerminal(t, h)
	assert.Equal(t, calllog.StatusNoAnswer, log.ResultStatus)
	assert.Equal(t, "originator_cancel", log.HangupReason)
}

func TestDispatcher_FailedEvent(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	callID := h.start(t)

	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventFailed, Error: "destination unreachable"})

	log := waitTerminal(t, h)
	assert.Equal(t, calllog.StatusFailed, log.ResultStatus)
	assert.Equal(t, "destination unreachable", log.ErrorMessage)
}

func TestDispatcher_MachineDetectedHangup(t *testing.T) {
	h := newHarness(t, testConfig(), func(h *harness) {
		h.campaign.AMDEnabled = true
		h.campaign.AnsweringMachineAction = campaign.AMDActionHangup
	})
	callID := h.start(t)

	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventAnswered, AMD: dispatch.AMDMachine})

	log := waitTerminal(t, h)
	assert.True(t, log.AnsweringMachineDetected)
	assert.Equal(t, "machine", log.HangupReason)
	assert.Nil(t, log.AgentID, "machine answers never reach an agent")

	cmd, ok := h.transport.find("hangup")
	require.True(t, ok)
	assert.Equal(t, "machine_detected", cmd.detail)
}

func TestDispatcher_MachineLeaveMessage(t *testing.T) {
	h := newHarness(t, testConfig(), func(h *harness) {
		h.campaign.AMDEnabled = true
		h.campaign.AnsweringMachineAction = campaign.AMDActionLeaveMessage
	})
	callID := h.start(t)

	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventAnswered, AMD: dispatch.AMDMachine})

	log := waitTerminal(t, h)
	assert.True(t, log.AnsweringMachineDetected)

	play, ok := h.transport.find("play")
	require.True(t, ok)
	assert.Equal(t, "voicemail_drop", play.detail)
	hang, ok := h.transport.find("hangup")
	require.True(t, ok)
	assert.Equal(t, "machine_message_left", hang.detail)
}

func TestDispatcher_MachineTransferToAgent(t *testing.T) {
	h := newHarness(t, testConfig(), func(h *harness) {
		h.campaign.AMDEnabled = true
		h.campaign.AnsweringMachineAction = campaign.AMDActionTransferToAgent
	})
	callID := h.start(t)

	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventAnswered, AMD: dispatch.AMDMachine})

	require.Eventually(t, func() bool {
		_, ok := h.transport.find("transfer")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventHangup})

	log := waitTerminal(t, h)
	assert.True(t, log.AnsweringMachineDetected)
	require.NotNil(t, log.AgentID)
}

func TestDispatcher_AMDVerdictBeforeAnswer(t *testing.T) {
	h := newHarness(t, testConfig(), func(h *harness) {
		h.campaign.AMDEnabled = true
		h.campaign.AnsweringMachineAction = campaign.AMDActionHangup
	})
	callID := h.start(t)

	// The verdict arrives first; the machine branch fires on the answer.
	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventAMD, AMD: dispatch.AMDMachine})
	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventAnswered})

	log := waitTerminal(t, h)
	assert.True(t, log.AnsweringMachineDetected)
	assert.Equal(t, "machine", log.HangupReason)
}

func TestDispatcher_AMDDisabledIgnoresVerdict(t *testing.T) {
	h := newHarness(t, testConfig(), func(h *harness) {
		h.campaign.AMDEnabled = false
	})
	callID := h.start(t)

	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventAnswered, AMD: dispatch.AMDMachine})

	require.Eventually(t, func() bool {
		_, ok := h.transport.find("transfer")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventHangup})

	log := waitTerminal(t, h)
	assert.False(t, log.AnsweringMachineDetected)
	require.NotNil(t, log.AgentID, "verdict ignored when AMD is disabled")
}

func TestDispatcher_AbandonWhenNoAgent(t *testing.T) {
	h := newHarness(t, testConfig(), func(h *harness) {
		h.router.agent = nil // nobody ever becomes available
		h.campaign.AbandonThreshold = 50 * time.Millisecond
	})
	callID := h.start(t)

	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventAnswered, AMD: dispatch.AMDHuman})

	log := waitTerminal(t, h)
	assert.True(t, log.Abandoned)
	assert.Equal(t, "abandoned", log.HangupReason)
	assert.Equal(t, calllog.StatusConnected, log.ResultStatus)

	cmd, ok := h.transport.find("hangup")
	require.True(t, ok)
	assert.Equal(t, "abandoned", cmd.detail)
}

func TestDispatcher_AgentFoundOnRetry(t *testing.T) {
	h := newHarness(t, testConfig(), func(h *harness) {
		h.router.failures = 2
		h.campaign.AbandonThreshold = 2 * time.Second
	})
	callID := h.start(t)

	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventAnswered, AMD: dispatch.AMDHuman})

	require.Eventually(t, func() bool {
		_, ok := h.transport.find("transfer")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventHangup})

	log := waitTerminal(t, h)
	assert.False(t, log.Abandoned)
	require.NotNil(t, log.AgentID)
}

func TestDispatcher_HangupDuringAgentHunt(t *testing.T) {
	h := newHarness(t, testConfig(), func(h *harness) {
		h.router.agent = nil
		h.campaign.AbandonThreshold = 2 * time.Second
	})
	callID := h.start(t)

	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventAnswered, AMD: dispatch.AMDHuman})
	time.Sleep(30 * time.Millisecond) // let the hunt begin
	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventHangup, HangupReason: "callee_hangup"})

	log := waitTerminal(t, h)
	assert.False(t, log.Abandoned)
	assert.Equal(t, "callee_hangup", log.HangupReason)
}

func TestDispatcher_DialCommandFailure(t *testing.T) {
	h := newHarness(t, testConfig(), func(h *harness) {
		h.transport.dialErr = errors.New("gateway unreachable")
	})
	h.start(t)

	log := waitTerminal(t, h)
	assert.Equal(t, calllog.StatusFailed, log.ResultStatus)
	assert.Equal(t, "dial_failed", log.HangupReason)
	assert.Contains(t, log.ErrorMessage, "gateway unreachable")
}

func TestDispatcher_TransferFailure(t *testing.T) {
	h := newHarness(t, testConfig(), func(h *harness) {
		h.transport.transferErr = errors.New("bridge failed")
	})
	callID := h.start(t)

	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventAnswered, AMD: dispatch.AMDHuman})

	log := waitTerminal(t, h)
	assert.Equal(t, "transfer_failed", log.HangupReason)
	// The reserved agent is released even though the transfer never landed.
	require.Len(t, h.router.releasedIDs(), 1)
}

func TestDispatcher_WatchdogForcesFailure(t *testing.T) {
	cfg := testConfig()
	cfg.WatchdogTimeout = 50 * time.Millisecond
	h := newHarness(t, cfg, nil)
	callID := h.start(t)

	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventRinging})
	// Silence after ringing: the watchdog fires.

	log := waitTerminal(t, h)
	assert.Equal(t, calllog.StatusEnded, log.CallStatus)
	assert.Equal(t, calllog.StatusFailed, log.ResultStatus)
	assert.Equal(t, "forced", log.HangupReason)
	assert.Contains(t, log.ErrorMessage, "watchdog")
}

func TestDispatcher_UnknownCallEventDropped(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	// No panic, no machine.
	h.d.HandleEvent(dispatch.Event{CallID: uuid.New(), Type: dispatch.EventAnswered})
	assert.Empty(t, h.d.ActiveCallIDs())
}

func TestDispatcher_ActiveCallAccounting(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	callID := h.start(t)

	active, err := h.d.ActiveCalls(context.Background(), h.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
	assert.Len(t, h.d.ActiveCallIDs(), 1)

	snap := h.d.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, callID, snap[0].ID)

	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventNoAnswer})
	waitTerminal(t, h)

	active, err = h.d.ActiveCalls(context.Background(), h.campaign.ID)
	require.NoError(t, err)
	assert.Zero(t, active)
}

func TestDispatcher_Drain(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	callID := h.start(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventNoAnswer})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.d.Drain(ctx))
	waitTerminal(t, h)
}

func TestDispatcher_ShutdownForcesInflightCalls(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	callID, err := h.d.Start(ctx, h.campaign, h.lead, h.listID, h.lead.Phone)
	require.NoError(t, err)
	_ = callID

	cancel()

	log := waitTerminal(t, h)
	assert.Equal(t, calllog.StatusEnded, log.CallStatus)
	assert.Equal(t, "forced", log.HangupReason)
	assert.Contains(t, log.ErrorMessage, "shutting down")
}

func TestDispatcher_TerminalFiredExactlyOnce(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	callID := h.start(t)

	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventNoAnswer})
	waitTerminal(t, h)

	// Late events for the finished call are dropped, not re-terminated.
	h.d.HandleEvent(dispatch.Event{CallID: callID, Type: dispatch.EventHangup})
	select {
	case <-h.terminal:
		t.Fatal("terminal handler fired twice")
	case <-time.After(100 * time.Millisecond):
	}

	h.logs.mu.Lock()
	updates := len(h.logs.updated)
	h.logs.mu.Unlock()
	assert.Equal(t, 1, updates)
}
