package disposition

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/dnc"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/errors"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/lead"
)

// service implements Service.
type service struct {
	repo          Repository
	systemDNCList uuid.UUID // escalation target for AddsToDNC codes
	invalidator   DNCInvalidator
	logger        *zap.Logger
	now           func() time.Time
}

// Option configures the service
type Option func(*service)

// WithNowFunc injects a time source for tests
func WithNowFunc(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// WithDNCInvalidator wires cached-verdict invalidation for DNC escalations
func WithDNCInvalidator(inv DNCInvalidator) Option {
	return func(s *service) { s.invalidator = inv }
}

// NewService creates a disposition engine. systemDNCList receives numbers
// escalated by DNC-flagged codes.
func NewService(repo Repository, systemDNCList uuid.UUID, logger *zap.Logger, opts ...Option) Service {
	s := &service{
		repo:          repo,
		systemDNCList: systemDNCList,
		logger:        logger,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Apply(ctx context.Context, callLogID, codeID uuid.UUID, agentFields map[string]string) (*Result, error) {
	log, err := s.repo.CallLog(ctx, callLogID)
	if err != nil {
		return nil, errors.Wrap(err, "loading call log")
	}
	if log == nil {
		return nil, errors.ErrCallLogNotFound
	}

	// Idempotency: retried delivery of the same disposition is a no-op;
	// a different code against a finalized log is a conflict.
	if log.DispositionApplied {
		if log.DispositionID != nil && *log.DispositionID == codeID {
			return &Result{AlreadyApplied: true}, nil
		}
		return nil, errors.ErrCallAlreadyFinalized
	}

	if !log.CallStatus.Terminal() {
		return nil, errors.NewBusinessError("CALL_NOT_TERMINAL",
			fmt.Sprintf("call %s is still %s", log.ID, log.CallStatus))
	}

	code, err := s.repo.Code(ctx, codeID)
	if err != nil {
		return nil, errors.Wrap(err, "loading disposition code")
	}
	if code == nil {
		return nil, errors.ErrDispositionNotFound
	}

	// Validation failures reject the disposition outright; the call stays
	// pending agent input and nothing is mutated.
	if missing := code.ValidateFields(agentFields); len(missing) > 0 {
		return nil, errors.ErrMissingRequiredFields.WithDetails(map[string]interface{}{
			"missing_fields": missing,
		})
	}

	var callbackAt *time.Time
	if code.RequiresCallback {
		at, err := parseCallbackAt(agentFields)
		if err != nil {
			return nil, err
		}
		callbackAt = &at
	}

	l, err := s.repo.Lead(ctx, log.LeadID)
	if err != nil {
		return nil, errors.Wrap(err, "loading lead")
	}
	if l == nil {
		return nil, errors.ErrLeadNotFound
	}

	// The call log is the attempt's record of truth. The stored lead row
	// predates the dial, so attempt accounting is derived from the log
	// here rather than trusted from the row; this is what makes
	// MaxCallAttempts and MinCallInterval bind on the next selection.
	if log.Attempt > l.CallAttempts {
		l.CallAttempts = log.Attempt
	}
	if l.LastCalledAt == nil || l.LastCalledAt.Before(log.InitiatedAt) {
		calledAt := log.InitiatedAt
		l.LastCalledAt = &calledAt
	}

	list, err := s.repo.List(ctx, log.ListID)
	if err != nil {
		return nil, errors.Wrap(err, "loading list")
	}
	c, err := s.repo.Campaign(ctx, log.CampaignID)
	if err != nil {
		return nil, errors.Wrap(err, "loading campaign")
	}

	result := &Result{Lead: l, Code: code}
	outcome := &Outcome{CallLog: log, Lead: l, List: list, CalledDelta: 1}

	l.LastCallOutcome = code.Code
	l.Disposition = &code.ID

	if code.IsContact {
		l.Status = lead.StatusContacted
		outcome.ContactedDelta = 1
	}
	if code.IsSale {
		l.Status = lead.StatusConverted
		result.Sale = true
	}

	switch {
	case callbackAt != nil:
		// A requested callback always wins over recycling: the agent's
		// time commitment beats the code's generic delay.
		if err := l.ScheduleCallback(*callbackAt); err != nil {
			return nil, errors.NewValidationError("INVALID_CALLBACK_TIME", err.Error())
		}
		result.CallbackAt = callbackAt
	case code.ShouldRecycle && !l.Status.IsTerminal():
		next := s.recycleTime(code.RecycleDelay(), list.EffectiveMinInterval(c), l)
		l.ScheduleRecycle(next)
		result.NextCallAt = &next
	}

	if code.AddsToDNC {
		entry, err := dnc.NewNumber(s.systemDNCList, log.Phone.String(), code.Code)
		if err != nil {
			return nil, errors.Wrap(err, "creating DNC entry")
		}
		outcome.DNCNumber = entry
		l.MarkDoNotCall()
		result.AddedToDNC = true
	}

	log.DispositionID = &code.ID
	log.DispositionApplied = true

	if err := s.repo.ApplyOutcome(ctx, outcome); err != nil {
		return nil, errors.Wrap(err, "persisting disposition outcome")
	}

	if result.AddedToDNC && s.invalidator != nil {
		// A cached negative verdict must not outlive the escalation; a
		// failed invalidation only shortens to the cache TTL, so it is
		// logged rather than failing the applied disposition.
		if err := s.invalidator.Invalidate(ctx, log.Phone); err != nil {
			s.logger.Warn("dnc cache invalidation failed",
				zap.String("phone", log.Phone.String()),
				zap.Error(err))
		}
	}

	s.logger.Info("disposition applied",
		zap.String("call_id", log.ID.String()),
		zap.String("lead_id", l.ID.String()),
		zap.String("code", code.Code),
		zap.Bool("sale", result.Sale),
		zap.Bool("dnc", result.AddedToDNC))
	return result, nil
}

// recycleTime enforces NextCallAt >= LastCalledAt + MinCallInterval even
// when the code's recycle delay is shorter.
func (s *service) recycleTime(delay, minInterval time.Duration, l *lead.Lead) time.Time {
	next := s.now().Add(delay)
	if l.LastCalledAt != nil {
		if floor := l.LastCalledAt.Add(minInterval); next.Before(floor) {
			next = floor
		}
	}
	return next
}

func parseCallbackAt(fields map[string]string) (time.Time, error) {
	raw, ok := fields[AgentFieldCallbackAt]
	if !ok || raw == "" {
		return time.Time{}, errors.NewValidationError("MISSING_CALLBACK_TIME",
			fmt.Sprintf("disposition requires %q field", AgentFieldCallbackAt))
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.NewValidationError("INVALID_CALLBACK_TIME",
			fmt.Sprintf("cannot parse %q as RFC 3339", raw)).WithCause(err)
	}
	return at, nil
}
