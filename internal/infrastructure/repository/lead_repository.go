package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainerrors "github.com/davidleathers/predictive-dialer-backend/internal/domain/errors"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/lead"
)

const leadColumns = `
	id, list_id, first_name, last_name, phone, time_zone,
	status, priority, call_attempts,
	last_called_at, next_call_at, scheduled_callback_at,
	last_call_outcome, disposition_id, is_excluded, has_opted_out,
	custom_fields, created_at, updated_at`

// LeadRepository persists leads and their alternate phone numbers.
type LeadRepository struct {
	db *pgxpool.Pool
}

// NewLeadRepository creates a lead repository over the given pool.
func NewLeadRepository(db *pgxpool.Pool) *LeadRepository {
	return &LeadRepository{db: db}
}

// Create inserts a new lead, typically from a list import.
func (r *LeadRepository) Create(ctx context.Context, l *lead.Lead) error {
	query := `
		INSERT INTO leads (` + leadColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err := r.db.Exec(ctx, query,
		l.ID, l.ListID, l.FirstName, l.LastName, l.Phone.String(), l.TimeZone,
		int(l.Status), l.Priority, l.CallAttempts,
		l.LastCalledAt, l.NextCallAt, l.ScheduledCallbackAt,
		l.LastCallOutcome, l.Disposition, l.IsExcluded, l.HasOptedOut,
		l.CustomFields, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create lead: %w", err)
	}
	return nil
}

// Lead retrieves a lead by ID.
func (r *LeadRepository) Lead(ctx context.Context, id uuid.UUID) (*lead.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`

	l, err := scanLead(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainerrors.ErrLeadNotFound
		}
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return l, nil
}

// Update persists the full mutable state of a lead.
func (r *LeadRepository) Update(ctx context.Context, l *lead.Lead) error {
	query := `
		UPDATE leads SET
			status = $2, priority = $3, call_attempts = $4,
			last_called_at = $5, next_call_at = $6, scheduled_callback_at = $7,
			last_call_outcome = $8, disposition_id = $9,
			is_excluded = $10, has_opted_out = $11,
			custom_fields = $12, updated_at = $13
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		l.ID, int(l.Status), l.Priority, l.CallAttempts,
		l.LastCalledAt, l.NextCallAt, l.ScheduledCallbackAt,
		l.LastCallOutcome, l.Disposition,
		l.IsExcluded, l.HasOptedOut,
		l.CustomFields, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.ErrLeadNotFound
	}
	return nil
}

// MarkExcluded soft-excludes a lead so selection skips it without a store
// round trip through the full entity.
func (r *LeadRepository) MarkExcluded(ctx context.Context, leadID uuid.UUID) error {
	query := `
		UPDATE leads
		SET is_excluded = true, status = $2, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, leadID, int(lead.StatusExcluded))
	if err != nil {
		return fmt.Errorf("failed to exclude lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.ErrLeadNotFound
	}
	return nil
}

// FindDialable returns callable leads in a list due at or before dueBefore
// with fewer than maxAttempts attempts. inOrder returns creation order,
// otherwise an unbiased random draw.
func (r *LeadRepository) FindDialable(ctx context.Context, listID uuid.UUID, dueBefore time.Time, maxAttempts int, inOrder bool, limit int) ([]*lead.Lead, error) {
	order := "ORDER BY random()"
	if inOrder {
		order = "ORDER BY created_at ASC"
	}

	query := `
		SELECT ` + leadColumns + `
		FROM leads
		WHERE list_id = $1
		  AND is_excluded = false
		  AND has_opted_out = false
		  AND status NOT IN ($2, $3, $4)
		  AND call_attempts < $5
		  AND COALESCE(scheduled_callback_at, next_call_at, to_timestamp(0)) <= $6
		` + order + `
		LIMIT $7`

	rows, err := r.db.Query(ctx, query,
		listID,
		int(lead.StatusConverted), int(lead.StatusDoNotCall), int(lead.StatusExcluded),
		maxAttempts, dueBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query dialable leads: %w", err)
	}
	defer rows.Close()

	var leads []*lead.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

// AlternatePhones returns the extra numbers for a lead ordered by priority.
func (r *LeadRepository) AlternatePhones(ctx context.Context, leadID uuid.UUID) ([]*lead.AlternatePhone, error) {
	query := `
		SELECT id, lead_id, phone, label, priority,
		       status, is_active, is_validated, validation_result, created_at
		FROM lead_phones
		WHERE lead_id = $1
		ORDER BY priority ASC`

	rows, err := r.db.Query(ctx, query, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alternate phones: %w", err)
	}
	defer rows.Close()

	var phones []*lead.AlternatePhone
	for rows.Next() {
		var p lead.AlternatePhone
		var status int
		if err := rows.Scan(
			&p.ID, &p.LeadID, &p.Phone, &p.Label, &p.Priority,
			&status, &p.IsActive, &p.IsValidated, &p.ValidationResult, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alternate phone: %w", err)
		}
		p.Status = lead.PhoneStatus(status)
		phones = append(phones, &p)
	}
	return phones, rows.Err()
}

func scanLead(row pgx.Row) (*lead.Lead, error) {
	var l lead.Lead
	var status int
	err := row.Scan(
		&l.ID, &l.ListID, &l.FirstName, &l.LastName, &l.Phone, &l.TimeZone,
		&status, &l.Priority, &l.CallAttempts,
		&l.LastCalledAt, &l.NextCallAt, &l.ScheduledCallbackAt,
		&l.LastCallOutcome, &l.Disposition, &l.IsExcluded, &l.HasOptedOut,
		&l.CustomFields, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Status = lead.Status(status)
	return &l, nil
}
