package disposition_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/calllog"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/campaign"
	domaindisp "github.com/davidleathers/predictive-dialer-backend/internal/domain/disposition"
	domainerrors "github.com/davidleathers/predictive-dialer-backend/internal/domain/errors"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/lead"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/values"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/disposition"
)

// fakeRepo hands out copies on read and only persists mutations through
// ApplyOutcome, matching the store's row semantics: edits the service makes
// to a loaded entity are invisible until the outcome commits.
type fakeRepo struct {
	logs      map[uuid.UUID]*calllog.CallLog
	leads     map[uuid.UUID]*lead.Lead
	lists     map[uuid.UUID]*campaign.List
	campaigns map[uuid.UUID]*campaign.Campaign
	codes     map[uuid.UUID]*domaindisp.Code

	outcomes []*disposition.Outcome
	applyErr error
}

func (f *fakeRepo) CallLog(_ context.Context, id uuid.UUID) (*calllog.CallLog, error) {
	log, ok := f.logs[id]
	if !ok {
		return nil, nil
	}
	cp := *log
	return &cp, nil
}

func (f *fakeRepo) Lead(_ context.Context, id uuid.UUID) (*lead.Lead, error) {
	l, ok := f.leads[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (f *fakeRepo) List(_ context.Context, id uuid.UUID) (*campaign.List, error) {
	return f.lists[id], nil
}

func (f *fakeRepo) Campaign(_ context.Context, id uuid.UUID) (*campaign.Campaign, error) {
	return f.campaigns[id], nil
}

func (f *fakeRepo) Code(_ context.Context, id uuid.UUID) (*domaindisp.Code, error) {
	return f.codes[id], nil
}

func (f *fakeRepo) ApplyOutcome(_ context.Context, outcome *disposition.Outcome) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.outcomes = append(f.outcomes, outcome)
	f.leads[outcome.Lead.ID] = outcome.Lead
	f.logs[outcome.CallLog.ID] = outcome.CallLog
	return nil
}

type fixture struct {
	repo     *fakeRepo
	svc      disposition.Service
	log      *calllog.CallLog
	lead     *lead.Lead
	list     *campaign.List
	campaign *campaign.Campaign
	dncList  uuid.UUID
	now      time.Time
}

func newFixture(t *testing.T, opts ...disposition.Option) *fixture {
	t.Helper()

	c, err := campaign.NewCampaign("dispo-test")
	require.NoError(t, err)
	c.MinCallInterval = time.Hour

	list, err := campaign.NewList("leads")
	require.NoError(t, err)

	// The stored lead row predates the dial: no attempt recorded yet.
	l, err := lead.NewLead(list.ID, "Jane", "Doe", "+15551234567", 5)
	require.NoError(t, err)

	log, err := calllog.New(c.ID, list.ID, l.ID, values.MustNewPhoneNumber("+15551234567"), 1)
	require.NoError(t, err)
	require.NoError(t, log.Transition(calllog.StatusRinging))
	require.NoError(t, log.Transition(calllog.StatusNoAnswer))
	require.NoError(t, log.Transition(calllog.StatusEnded))

	repo := &fakeRepo{
		logs:      map[uuid.UUID]*calllog.CallLog{log.ID: log},
		leads:     map[uuid.UUID]*lead.Lead{l.ID: l},
		lists:     map[uuid.UUID]*campaign.List{list.ID: list},
		campaigns: map[uuid.UUID]*campaign.Campaign{c.ID: c},
		codes:     map[uuid.UUID]*domaindisp.Code{},
	}

	f := &fixture{
		repo:     repo,
		log:      log,
		lead:     l,
		list:     list,
		campaign: c,
		dncList:  uuid.New(),
		now:      time.Now(),
	}
	opts = append([]disposition.Option{
		disposition.WithNowFunc(func() time.Time { return f.now }),
	}, opts...)
	f.svc = disposition.NewService(repo, f.dncList, zap.NewNop(), opts...)
	return f
}

func (f *fixture) storedLead() *lead.Lead {
	return f.repo.leads[f.lead.ID]
}

func (f *fixture) storedLog() *calllog.CallLog {
	return f.repo.logs[f.log.ID]
}

func (f *fixture) addCode(t *testing.T, mnemonic string, mutate func(c *domaindisp.Code)) *domaindisp.Code {
	t.Helper()
	code, err := domaindisp.NewCode(uuid.New(), mnemonic, mnemonic)
	require.NoError(t, err)
	if mutate != nil {
		mutate(code)
	}
	f.repo.codes[code.ID] = code
	return code
}

func TestApply_RecycleCode(t *testing.T) {
	f := newFixture(t)
	code := f.addCode(t, "NA", func(c *domaindisp.Code) {
		c.ShouldRecycle = true
		c.RecycleDelayHours = 4
	})

	res, err := f.svc.Apply(context.Background(), f.log.ID, code.ID, nil)
	require.NoError(t, err)
	assert.False(t, res.AlreadyApplied)
	assert.False(t, res.Sale)

	require.NotNil(t, res.NextCallAt)
	assert.Equal(t, f.now.Add(4*time.Hour), *res.NextCallAt)
	l := f.storedLead()
	require.NotNil(t, l.NextCallAt)
	assert.Equal(t, "NA", l.LastCallOutcome)
	require.NotNil(t, l.Disposition)
	assert.Equal(t, code.ID, *l.Disposition)

	log := f.storedLog()
	assert.True(t, log.DispositionApplied)
	require.NotNil(t, log.DispositionID)
	assert.Equal(t, code.ID, *log.DispositionID)

	require.Len(t, f.repo.outcomes, 1)
	assert.Equal(t, 1, f.repo.outcomes[0].CalledDelta)
	assert.Zero(t, f.repo.outcomes[0].ContactedDelta)
	assert.Nil(t, f.repo.outcomes[0].DNCNumber)
}

func TestApply_PersistsAttemptAccounting(t *testing.T) {
	f := newFixture(t)
	code := f.addCode(t, "NA", nil)

	require.Zero(t, f.storedLead().CallAttempts)
	require.Nil(t, f.storedLead().LastCalledAt)

	_, err := f.svc.Apply(context.Background(), f.log.ID, code.ID, nil)
	require.NoError(t, err)

	// The committed lead row carries the attempt the call log recorded,
	// so MaxCallAttempts and MinCallInterval bind on the next selection.
	l := f.storedLead()
	assert.Equal(t, 1, l.CallAttempts)
	require.NotNil(t, l.LastCalledAt)
	assert.True(t, l.LastCalledAt.Equal(f.log.InitiatedAt))
}

func TestApply_AttemptAccountingNeverRegresses(t *testing.T) {
	f := newFixture(t)
	code := f.addCode(t, "NA", nil)

	// A lagging log must not roll back a row that already reflects a
	// later attempt.
	later := f.log.InitiatedAt.Add(30 * time.Minute)
	f.lead.CallAttempts = 3
	f.lead.LastCalledAt = &later

	_, err := f.svc.Apply(context.Background(), f.log.ID, code.ID, nil)
	require.NoError(t, err)

	l := f.storedLead()
	assert.Equal(t, 3, l.CallAttempts)
	require.NotNil(t, l.LastCalledAt)
	assert.True(t, l.LastCalledAt.Equal(later))
}

func TestApply_RecycleRespectsMinInterval(t *testing.T) {
	f := newFixture(t)
	// The call started ten minutes ago; a 0-hour recycle delay would land
	// before InitiatedAt + MinCallInterval.
	f.log.InitiatedAt = f.now.Add(-10 * time.Minute)

	code := f.addCode(t, "NA", func(c *domaindisp.Code) {
		c.ShouldRecycle = true
		c.RecycleDelayHours = 0
	})

	res, err := f.svc.Apply(context.Background(), f.log.ID, code.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, res.NextCallAt)
	assert.Equal(t, f.log.InitiatedAt.Add(time.Hour), *res.NextCallAt, "floored to min call interval")
}

func TestApply_ContactCode(t *testing.T) {
	f := newFixture(t)
	code := f.addCode(t, "NI", func(c *domaindisp.Code) {
		c.IsContact = true
	})

	_, err := f.svc.Apply(context.Background(), f.log.ID, code.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, lead.StatusContacted, f.storedLead().Status)
	require.Len(t, f.repo.outcomes, 1)
	assert.Equal(t, 1, f.repo.outcomes[0].ContactedDelta)
}

func TestApply_SaleCode(t *testing.T) {
	f := newFixture(t)
	code := f.addCode(t, "SALE", func(c *domaindisp.Code) {
		c.IsContact = true
		c.IsSale = true
		c.ShouldRecycle = true // ignored for terminal statuses
		c.RecycleDelayHours = 4
	})

	res, err := f.svc.Apply(context.Background(), f.log.ID, code.ID, nil)
	require.NoError(t, err)
	assert.True(t, res.Sale)
	assert.Equal(t, lead.StatusConverted, f.storedLead().Status)
	assert.Nil(t, res.NextCallAt, "converted leads are never recycled")
	assert.False(t, f.storedLead().Callable())
}

func TestApply_CallbackWinsOverRecycle(t *testing.T) {
	f := newFixture(t)
	code := f.addCode(t, "CALLBK", func(c *domaindisp.Code) {
		c.RequiresCallback = true
		c.ShouldRecycle = true
		c.RecycleDelayHours = 24
	})

	callback := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	res, err := f.svc.Apply(context.Background(), f.log.ID, code.ID, map[string]string{
		disposition.AgentFieldCallbackAt: callback.Format(time.RFC3339),
	})
	require.NoError(t, err)

	require.NotNil(t, res.CallbackAt)
	assert.True(t, res.CallbackAt.Equal(callback))
	assert.Nil(t, res.NextCallAt, "callback replaces the recycle schedule")
	l := f.storedLead()
	assert.Equal(t, lead.StatusCallback, l.Status)
	require.NotNil(t, l.ScheduledCallbackAt)
	assert.True(t, l.ScheduledCallbackAt.Equal(callback))
}

func TestApply_CallbackFieldErrors(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"missing field", nil},
		{"empty field", map[string]string{disposition.AgentFieldCallbackAt: ""}},
		{"unparseable field", map[string]string{disposition.AgentFieldCallbackAt: "tomorrow at 3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			code := f.addCode(t, "CALLBK", func(c *domaindisp.Code) {
				c.RequiresCallback = true
			})

			_, err := f.svc.Apply(context.Background(), f.log.ID, code.ID, tt.fields)
			require.Error(t, err)
			assert.Empty(t, f.repo.outcomes, "nothing persists on validation failure")
			assert.False(t, f.storedLog().DispositionApplied)
		})
	}
}

func TestApply_MissingRequiredFields(t *testing.T) {
	f := newFixture(t)
	code := f.addCode(t, "SALE", func(c *domaindisp.Code) {
		c.RequiredFields = []string{"order_id"}
	})

	_, err := f.svc.Apply(context.Background(), f.log.ID, code.ID, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrMissingRequiredFields) ||
		domainerrors.IsType(err, domainerrors.ErrorTypeValidation))
	assert.Empty(t, f.repo.outcomes)
	assert.Equal(t, lead.StatusNew, f.storedLead().Status, "stored lead untouched")

	// Supplying the field succeeds.
	_, err = f.svc.Apply(context.Background(), f.log.ID, code.ID, map[string]string{"order_id": "A-1001"})
	require.NoError(t, err)
}

func TestApply_DNCEscalation(t *testing.T) {
	f := newFixture(t)
	code := f.addCode(t, "DNC", func(c *domaindisp.Code) {
		c.IsContact = true
		c.AddsToDNC = true
	})

	res, err := f.svc.Apply(context.Background(), f.log.ID, code.ID, nil)
	require.NoError(t, err)
	assert.True(t, res.AddedToDNC)
	l := f.storedLead()
	assert.Equal(t, lead.StatusDoNotCall, l.Status)
	assert.True(t, l.IsExcluded)

	require.Len(t, f.repo.outcomes, 1)
	entry := f.repo.outcomes[0].DNCNumber
	require.NotNil(t, entry)
	assert.Equal(t, f.dncList, entry.DncListID)
	assert.Equal(t, "+15551234567", entry.Phone.String())
	assert.Equal(t, "DNC", entry.Reason)
}

type fakeInvalidator struct {
	phones []values.PhoneNumber
	err    error
}

func (f *fakeInvalidator) Invalidate(_ context.Context, phone values.PhoneNumber) error {
	f.phones = append(f.phones, phone)
	return f.err
}

func TestApply_DNCEscalationInvalidatesCache(t *testing.T) {
	inv := &fakeInvalidator{}
	f := newFixture(t, disposition.WithDNCInvalidator(inv))
	code := f.addCode(t, "DNC", func(c *domaindisp.Code) {
		c.AddsToDNC = true
	})

	_, err := f.svc.Apply(context.Background(), f.log.ID, code.ID, nil)
	require.NoError(t, err)
	require.Len(t, inv.phones, 1)
	assert.Equal(t, "+15551234567", inv.phones[0].String())
}

func TestApply_InvalidatorFailureIsNonFatal(t *testing.T) {
	inv := &fakeInvalidator{err: errors.New("redis down")}
	f := newFixture(t, disposition.WithDNCInvalidator(inv))
	code := f.addCode(t, "DNC", func(c *domaindisp.Code) {
		c.AddsToDNC = true
	})

	// The disposition committed; a stale cached verdict only shortens to
	// its TTL.
	res, err := f.svc.Apply(context.Background(), f.log.ID, code.ID, nil)
	require.NoError(t, err)
	assert.True(t, res.AddedToDNC)
	require.Len(t, f.repo.outcomes, 1)
}

func TestApply_NoInvalidationWithoutEscalation(t *testing.T) {
	inv := &fakeInvalidator{}
	f := newFixture(t, disposition.WithDNCInvalidator(inv))
	code := f.addCode(t, "NA", nil)

	_, err := f.svc.Apply(context.Background(), f.log.ID, code.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, inv.phones)
}

func TestApply_Idempotency(t *testing.T) {
	f := newFixture(t)
	code := f.addCode(t, "NA", func(c *domaindisp.Code) {
		c.ShouldRecycle = true
		c.RecycleDelayHours = 4
	})
	other := f.addCode(t, "B", nil)

	_, err := f.svc.Apply(context.Background(), f.log.ID, code.ID, nil)
	require.NoError(t, err)

	// Retried delivery of the same code is a quiet no-op.
	res, err := f.svc.Apply(context.Background(), f.log.ID, code.ID, nil)
	require.NoError(t, err)
	assert.True(t, res.AlreadyApplied)
	assert.Len(t, f.repo.outcomes, 1, "no second write")

	// A different code against the finalized log is a conflict.
	_, err = f.svc.Apply(context.Background(), f.log.ID, other.ID, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrCallAlreadyFinalized))
}

func TestApply_StoreConflictSurfaces(t *testing.T) {
	// Two workers race past the loaded-log check; the store rejects the
	// loser's finalization and that rejection must reach the caller intact.
	f := newFixture(t)
	f.repo.applyErr = domainerrors.ErrCallAlreadyFinalized
	code := f.addCode(t, "NA", nil)

	_, err := f.svc.Apply(context.Background(), f.log.ID, code.ID, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrCallAlreadyFinalized))
}

func TestApply_NonTerminalCall(t *testing.T) {
	f := newFixture(t)
	code := f.addCode(t, "NA", nil)

	live, err := calllog.New(f.campaign.ID, f.list.ID, f.lead.ID, f.log.Phone, 1)
	require.NoError(t, err)
	require.NoError(t, live.Transition(calllog.StatusRinging))
	f.repo.logs[live.ID] = live

	_, err = f.svc.Apply(context.Background(), live.ID, code.ID, nil)
	require.Error(t, err)
	assert.Empty(t, f.repo.outcomes)
}

func TestApply_NotFound(t *testing.T) {
	f := newFixture(t)
	code := f.addCode(t, "NA", nil)

	_, err := f.svc.Apply(context.Background(), uuid.New(), code.ID, nil)
	assert.True(t, errors.Is(err, domainerrors.ErrCallLogNotFound))

	_, err = f.svc.Apply(context.Background(), f.log.ID, uuid.New(), nil)
	assert.True(t, errors.Is(err, domainerrors.ErrDispositionNotFound))
}

func TestApply_PersistFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.applyErr = errors.New("tx rollback")
	code := f.addCode(t, "NA", nil)

	_, err := f.svc.Apply(context.Background(), f.log.ID, code.ID, nil)
	require.Error(t, err)

	// Rollback left the stored rows untouched; the retry succeeds cleanly.
	assert.False(t, f.storedLog().DispositionApplied)
	assert.Zero(t, f.storedLead().CallAttempts)

	f.repo.applyErr = nil
	res, err := f.svc.Apply(context.Background(), f.log.ID, code.ID, nil)
	require.NoError(t, err)
	assert.False(t, res.AlreadyApplied)
	assert.Equal(t, 1, f.storedLead().CallAttempts)
}
