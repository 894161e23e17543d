package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/calllog"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/campaign"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/disposition"
	domainerrors "github.com/davidleathers/predictive-dialer-backend/internal/domain/errors"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/lead"
	dispositionsvc "github.com/davidleathers/predictive-dialer-backend/internal/service/disposition"
)

// DispositionRepository is the disposition service's persistence boundary.
// Reads delegate to the entity repositories; ApplyOutcome commits the whole
// write set in one transaction.
type DispositionRepository struct {
	db        *pgxpool.Pool
	leads     *LeadRepository
	campaigns *CampaignRepository
	callLogs  *CallLogRepository
}

// NewDispositionRepository creates a disposition repository over the pool.
func NewDispositionRepository(db *pgxpool.Pool, leads *LeadRepository, campaigns *CampaignRepository, callLogs *CallLogRepository) *DispositionRepository {
	return &DispositionRepository{
		db:        db,
		leads:     leads,
		campaigns: campaigns,
		callLogs:  callLogs,
	}
}

func (r *DispositionRepository) CallLog(ctx context.Context, id uuid.UUID) (*calllog.CallLog, error) {
	return r.callLogs.CallLog(ctx, id)
}

func (r *DispositionRepository) Lead(ctx context.Context, id uuid.UUID) (*lead.Lead, error) {
	return r.leads.Lead(ctx, id)
}

func (r *DispositionRepository) List(ctx context.Context, id uuid.UUID) (*campaign.List, error) {
	return r.campaigns.List(ctx, id)
}

func (r *DispositionRepository) Campaign(ctx context.Context, id uuid.UUID) (*campaign.Campaign, error) {
	return r.campaigns.Campaign(ctx, id)
}

// Code retrieves a disposition code by ID.
func (r *DispositionRepository) Code(ctx context.Context, id uuid.UUID) (*disposition.Code, error) {
	query := `
		SELECT id, category_id, code, name,
		       is_contact, is_sale,
		       should_recycle, recycle_delay_hours,
		       requires_callback, adds_to_dnc,
		       required_fields, is_active, created_at
		FROM disposition_codes WHERE id = $1`

	var c disposition.Code
	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.CategoryID, &c.Code, &c.Name,
		&c.IsContact, &c.IsSale,
		&c.ShouldRecycle, &c.RecycleDelayHours,
		&c.RequiresCallback, &c.AddsToDNC,
		&c.RequiredFields, &c.IsActive, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainerrors.ErrDispositionNotFound
		}
		return nil, fmt.Errorf("failed to get disposition code: %w", err)
	}
	return &c, nil
}

// CodeByMnemonic resolves an active code by its short mnemonic, used to
// bind the engine's system outcome codes at startup.
func (r *DispositionRepository) CodeByMnemonic(ctx context.Context, mnemonic string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx,
		`SELECT id FROM disposition_codes WHERE code = $1 AND is_active = true`,
		mnemonic).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("disposition code %q not configured", mnemonic)
		}
		return uuid.Nil, fmt.Errorf("failed to resolve disposition code %q: %w", mnemonic, err)
	}
	return id, nil
}

// ApplyOutcome persists the lead mutation, call log finalization, list
// rollup deltas and any DNC entry as one transaction.
func (r *DispositionRepository) ApplyOutcome(ctx context.Context, outcome *dispositionsvc.Outcome) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	l := outcome.Lead
	if _, err := tx.Exec(ctx, `
		UPDATE leads SET
			status = $2, call_attempts = $3,
			last_called_at = $4, next_call_at = $5, scheduled_callback_at = $6,
			last_call_outcome = $7, disposition_id = $8,
			is_excluded = $9, has_opted_out = $10, updated_at = $11
		WHERE id = $1`,
		l.ID, int(l.Status), l.CallAttempts,
		l.LastCalledAt, l.NextCallAt, l.ScheduledCallbackAt,
		l.LastCallOutcome, l.Disposition,
		l.IsExcluded, l.HasOptedOut, l.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to update lead: %w", err)
	}

	log := outcome.CallLog
	tag, err := tx.Exec(ctx, `
		UPDATE call_logs SET
			disposition_id = $2, disposition_applied = true, updated_at = $3
		WHERE id = $1 AND NOT disposition_applied`,
		log.ID, log.DispositionID, log.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize call log: %w", err)
	}
	// A concurrent Apply already finalized this log; rolling back keeps
	// the counters from double-incrementing.
	if tag.RowsAffected() == 0 {
		return domainerrors.ErrCallAlreadyFinalized
	}

	if outcome.CalledDelta != 0 || outcome.ContactedDelta != 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE lists SET
				called_leads = called_leads + $2,
				contacted_leads = contacted_leads + $3,
				updated_at = now()
			WHERE id = $1`,
			outcome.List.ID, outcome.CalledDelta, outcome.ContactedDelta,
		); err != nil {
			return fmt.Errorf("failed to update list counters: %w", err)
		}
	}

	if n := outcome.DNCNumber; n != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO dnc_numbers (id, dnc_list_id, phone, country_code, reason, added_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (dnc_list_id, phone) DO NOTHING`,
			n.ID, n.DncListID, n.Phone.String(), n.CountryCode, n.Reason, n.AddedAt, n.ExpiresAt,
		); err != nil {
			return fmt.Errorf("failed to add dnc number: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit outcome: %w", err)
	}
	return nil
}
