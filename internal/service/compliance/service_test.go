package compliance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/campaign"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/lead"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/values"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/compliance"
)

type fakeDNC struct {
	listed bool
	source string
	err    error
	calls  int
}

func (f *fakeDNC) IsListed(_ context.Context, _ values.PhoneNumber, _, _ uuid.UUID) (bool, string, error) {
	f.calls++
	return f.listed, f.source, f.err
}

type fakeMarker struct {
	excluded []uuid.UUID
	err      error
}

func (f *fakeMarker) MarkExcluded(_ context.Context, leadID uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.excluded = append(f.excluded, leadID)
	return nil
}

// Wednesday noon UTC, inside the default 09:00-20:00 weekday window.
var insideWindow = time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

func checkRequest(t *testing.T) compliance.CheckRequest {
	t.Helper()
	c, err := campaign.NewCampaign("scrub-test")
	require.NoError(t, err)
	list, err := campaign.NewList("leads")
	require.NoError(t, err)
	l, err := lead.NewLead(list.ID, "Jane", "Doe", "+15551234567", 5)
	require.NoError(t, err)
	return compliance.CheckRequest{
		Lead:     l,
		Phone:    l.Phone,
		Campaign: c,
		List:     list,
	}
}

func newService(t *testing.T, dnc *fakeDNC, marker *fakeMarker, now time.Time) compliance.Service {
	t.Helper()
	return compliance.NewService(dnc, marker, zap.NewNop(),
		compliance.WithNowFunc(func() time.Time { return now }))
}

func TestCheck_Allows(t *testing.T) {
	dnc := &fakeDNC{}
	svc := newService(t, dnc, &fakeMarker{}, insideWindow)

	dec, err := svc.Check(context.Background(), checkRequest(t))
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, compliance.DenyNone, dec.Reason)
	assert.Equal(t, 1, dnc.calls)
}

func TestCheck_DenyOrder(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(req *compliance.CheckRequest)
		dnc     *fakeDNC
		reason  compliance.DenyReason
		noDNC   bool // deny happens before the DNC lookup
	}{
		{
			name:   "excluded lead denied before DNC lookup",
			mutate: func(req *compliance.CheckRequest) { req.Lead.Exclude() },
			dnc:    &fakeDNC{listed: true, source: "federal"},
			reason: compliance.DenyExcluded,
			noDNC:  true,
		},
		{
			name:   "terminal status denied",
			mutate: func(req *compliance.CheckRequest) { req.Lead.Status = lead.StatusConverted },
			dnc:    &fakeDNC{},
			reason: compliance.DenyExcluded,
			noDNC:  true,
		},
		{
			name:   "opted-out lead denied",
			mutate: func(req *compliance.CheckRequest) { req.Lead.HasOptedOut = true },
			dnc:    &fakeDNC{},
			reason: compliance.DenyOptedOut,
			noDNC:  true,
		},
		{
			name:   "DNC hit denied before window check",
			mutate: func(*compliance.CheckRequest) {},
			dnc:    &fakeDNC{listed: true, source: "federal"},
			reason: compliance.DenyDNCMatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := checkRequest(t)
			tt.mutate(&req)
			svc := newService(t, tt.dnc, &fakeMarker{}, insideWindow)

			dec, err := svc.Check(context.Background(), req)
			require.NoError(t, err)
			assert.False(t, dec.Allowed)
			assert.Equal(t, tt.reason, dec.Reason)
			if tt.noDNC {
				assert.Zero(t, tt.dnc.calls)
			}
		})
	}
}

func TestCheck_DNCHitMarksLeadExcluded(t *testing.T) {
	req := checkRequest(t)
	marker := &fakeMarker{}
	svc := newService(t, &fakeDNC{listed: true, source: "campaign opt-outs"}, marker, insideWindow)

	dec, err := svc.Check(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Contains(t, dec.Detail, "campaign opt-outs")
	require.Len(t, marker.excluded, 1)
	assert.Equal(t, req.Lead.ID, marker.excluded[0])
}

func TestCheck_MarkFailureStillDenies(t *testing.T) {
	req := checkRequest(t)
	marker := &fakeMarker{err: errors.New("db down")}
	svc := newService(t, &fakeDNC{listed: true}, marker, insideWindow)

	dec, err := svc.Check(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, compliance.DenyDNCMatch, dec.Reason)
}

func TestCheck_DNCLookupErrorPropagates(t *testing.T) {
	svc := newService(t, &fakeDNC{err: errors.New("redis timeout")}, &fakeMarker{}, insideWindow)

	_, err := svc.Check(context.Background(), checkRequest(t))
	assert.Error(t, err)
}

func TestCheck_OutsideWindow(t *testing.T) {
	// Wednesday 23:00 UTC is past the 20:00 end.
	night := time.Date(2026, 3, 11, 23, 0, 0, 0, time.UTC)
	svc := newService(t, &fakeDNC{}, &fakeMarker{}, night)

	dec, err := svc.Check(context.Background(), checkRequest(t))
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, compliance.DenyOutsideWindow, dec.Reason)
}

func TestCheck_ListWindowOverride(t *testing.T) {
	req := checkRequest(t)
	end := "11:00"
	req.List.CallEndTime = &end

	// Noon passes the campaign window but not the list override.
	svc := newService(t, &fakeDNC{}, &fakeMarker{}, insideWindow)
	dec, err := svc.Check(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, compliance.DenyOutsideWindow, dec.Reason)
}

func TestCheck_RespectsLeadTimeZone(t *testing.T) {
	req := checkRequest(t)
	req.Campaign.RespectLeadTimeZone = true
	req.Lead.TimeZone = "America/Los_Angeles"

	// 16:00 UTC is 09:00 PDT, inside the lead's local window; in UTC it is
	// also inside, so use an instant that differs: 04:00 UTC Wednesday is
	// 21:00 PDT Tuesday, outside the window in the lead's zone.
	early := time.Date(2026, 3, 11, 4, 0, 0, 0, time.UTC)
	svc := newService(t, &fakeDNC{}, &fakeMarker{}, early)
	dec, err := svc.Check(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, compliance.DenyOutsideWindow, dec.Reason)

	// 17:00 UTC Wednesday is 10:00 PDT Wednesday: allowed.
	morning := time.Date(2026, 3, 11, 17, 0, 0, 0, time.UTC)
	svc = newService(t, &fakeDNC{}, &fakeMarker{}, morning)
	dec, err = svc.Check(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
}

func TestCheck_BadLeadTimeZoneFallsBack(t *testing.T) {
	req := checkRequest(t)
	req.Campaign.RespectLeadTimeZone = true
	req.Lead.TimeZone = "Mars/Olympus"

	svc := newService(t, &fakeDNC{}, &fakeMarker{}, insideWindow)
	dec, err := svc.Check(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, dec.Allowed, "campaign zone used when lead zone is unparseable")
}

func TestCheck_RequiresCampaignAndList(t *testing.T) {
	req := checkRequest(t)
	req.List = nil
	svc := newService(t, &fakeDNC{}, &fakeMarker{}, insideWindow)
	_, err := svc.Check(context.Background(), req)
	assert.Error(t, err)
}
