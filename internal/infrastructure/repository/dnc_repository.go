package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/dnc"
)

// DNCRepository is the authoritative do-not-call store.
type DNCRepository struct {
	db *pgxpool.Pool
}

// NewDNCRepository creates a DNC repository over the given pool.
func NewDNCRepository(db *pgxpool.Pool) *DNCRepository {
	return &DNCRepository{db: db}
}

// Lookup reports whether the phone appears on any active DNC list whose
// scope covers the campaign/list pair. The returned source names the first
// matching list.
func (r *DNCRepository) Lookup(ctx context.Context, phone string, campaignID, listID uuid.UUID) (bool, string, error) {
	query := `
		SELECT dl.name
		FROM dnc_numbers dn
		JOIN dnc_lists dl ON dl.id = dn.dnc_list_id
		WHERE dn.phone = $1
		  AND dl.is_active = true
		  AND (dn.expires_at IS NULL OR dn.expires_at > now())
		  AND (
		        dl.scope = $2
		     OR (dl.scope = $3 AND dl.campaign_id = $4)
		     OR (dl.scope = $5 AND dl.list_id = $6)
		  )
		LIMIT 1`

	var source string
	err := r.db.QueryRow(ctx, query,
		phone,
		string(dnc.ScopeSystemWide),
		string(dnc.ScopeCampaignSpecific), campaignID,
		string(dnc.ScopeListSpecific), listID,
	).Scan(&source)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("failed to check dnc: %w", err)
	}
	return true, source, nil
}

// Add inserts a number onto a DNC list. Duplicate numbers on the same list
// are absorbed silently.
func (r *DNCRepository) Add(ctx context.Context, n *dnc.Number) error {
	query := `
		INSERT INTO dnc_numbers (id, dnc_list_id, phone, country_code, reason, added_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dnc_list_id, phone) DO NOTHING`

	_, err := r.db.Exec(ctx, query,
		n.ID, n.DncListID, n.Phone.String(), n.CountryCode, n.Reason, n.AddedAt, n.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to add dnc number: %w", err)
	}
	return nil
}

// SystemListID returns the active system-wide DNC list used for
// disposition-driven escalations.
func (r *DNCRepository) SystemListID(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx,
		`SELECT id FROM dnc_lists WHERE scope = $1 AND is_active = true ORDER BY created_at ASC LIMIT 1`,
		string(dnc.ScopeSystemWide)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("no active system-wide dnc list configured")
		}
		return uuid.Nil, fmt.Errorf("failed to resolve system dnc list: %w", err)
	}
	return id, nil
}

// Count returns the number of active entries across all lists, for the
// DNC size gauge.
func (r *DNCRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM dnc_numbers WHERE expires_at IS NULL OR expires_at > now()`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count dnc numbers: %w", err)
	}
	return n, nil
}
