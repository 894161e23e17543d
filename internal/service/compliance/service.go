package compliance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/campaign"
)

// service implements Service. Checks are pure except that a DNC hit marks
// the lead excluded so future rounds skip it without a lookup.
type service struct {
	dnc    DNCChecker
	leads  LeadMarker
	logger *zap.Logger
	now    func() time.Time
}

// Option configures the service
type Option func(*service)

// WithNowFunc injects a time source for tests
func WithNowFunc(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a compliance scrubber
func NewService(dnc DNCChecker, leads LeadMarker, logger *zap.Logger, opts ...Option) Service {
	s := &service{
		dnc:    dnc,
		leads:  leads,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check runs the scrub order: exclusion flags, DNC, calling window.
// Short-circuits on the first deny.
func (s *service) Check(ctx context.Context, req CheckRequest) (Decision, error) {
	if req.Campaign == nil || req.List == nil {
		return Decision{}, fmt.Errorf("campaign and list are required")
	}

	// (a) lead-level exclusion and opt-out flags
	if req.Lead != nil {
		if req.Lead.IsExcluded || req.Lead.Status.IsTerminal() {
			return Deny(DenyExcluded, "lead is excluded"), nil
		}
		if req.Lead.HasOptedOut {
			return Deny(DenyOptedOut, "lead has opted out"), nil
		}
	}

	// (b) DNC lists, most specific source reported
	listed, source, err := s.dnc.IsListed(ctx, req.Phone, req.Campaign.ID, req.List.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("dnc lookup: %w", err)
	}
	if listed {
		s.excludeLead(ctx, req)
		return Deny(DenyDNCMatch, fmt.Sprintf("phone on DNC list (%s)", source)), nil
	}

	// (c) calling window in the resolved time zone, list overrides first
	window := req.List.EffectiveWindow(req.Campaign)
	loc := s.resolveLocation(req, window)
	if !window.WithinWindow(s.now(), loc) {
		return Deny(DenyOutsideWindow, fmt.Sprintf("outside window %s-%s in %s", window.CallStartTime, window.CallEndTime, loc)), nil
	}

	return Allow(), nil
}

// resolveLocation picks the lead's zone when the campaign respects it and
// the lead carries a parseable one, else the campaign/list zone.
func (s *service) resolveLocation(req CheckRequest, window *campaign.Campaign) *time.Location {
	if req.Campaign.RespectLeadTimeZone && req.Lead != nil && req.Lead.TimeZone != "" {
		if loc, err := time.LoadLocation(req.Lead.TimeZone); err == nil {
			return loc
		}
		s.logger.Warn("unparseable lead time zone, falling back to campaign zone",
			zap.String("lead_id", req.Lead.ID.String()),
			zap.String("time_zone", req.Lead.TimeZone))
	}
	return window.Location()
}

// excludeLead is best effort; a failed write never blocks the deny.
func (s *service) excludeLead(ctx context.Context, req CheckRequest) {
	if req.Lead == nil || s.leads == nil {
		return
	}
	if err := s.leads.MarkExcluded(ctx, req.Lead.ID); err != nil {
		s.logger.Error("failed to mark DNC-matched lead excluded",
			zap.String("lead_id", req.Lead.ID.String()),
			zap.Error(err))
	}
}
