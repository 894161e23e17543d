package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/campaign"
	domainerrors "github.com/davidleathers/predictive-dialer-backend/internal/domain/errors"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/leadfilter"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/leadselect"
)

const campaignColumns = `
	id, name, is_active, is_paused,
	dialing_ratio, max_concurrent_calls, apply_ratio_to_idle_agents_only,
	call_start_time, call_end_time, allowed_days_of_week, time_zone, respect_lead_time_zone,
	max_call_attempts, call_attempt_delay_seconds, min_call_interval_seconds,
	amd_enabled, answering_machine_action, abandon_threshold_seconds,
	required_skill_level, filter_id, created_at, updated_at`

// CampaignRepository persists campaigns, lists and their assignments.
type CampaignRepository struct {
	db *pgxpool.Pool
}

// NewCampaignRepository creates a campaign repository over the given pool.
func NewCampaignRepository(db *pgxpool.Pool) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Campaign retrieves a campaign by ID.
func (r *CampaignRepository) Campaign(ctx context.Context, id uuid.UUID) (*campaign.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	c, err := scanCampaign(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainerrors.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return c, nil
}

// ActiveCampaigns returns every campaign currently flagged active.
func (r *CampaignRepository) ActiveCampaigns(ctx context.Context) ([]*campaign.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE is_active = true`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*campaign.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// SetActive flips a campaign's active flag.
func (r *CampaignRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE campaigns SET is_active = $2, updated_at = now() WHERE id = $1`,
		id, active)
	if err != nil {
		return fmt.Errorf("failed to set campaign active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.ErrCampaignNotFound
	}
	return nil
}

// SetPaused flips a campaign's paused flag.
func (r *CampaignRepository) SetPaused(ctx context.Context, id uuid.UUID, paused bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE campaigns SET is_paused = $2, updated_at = now() WHERE id = $1`,
		id, paused)
	if err != nil {
		return fmt.Errorf("failed to set campaign paused: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.ErrCampaignNotFound
	}
	return nil
}

// List retrieves a lead list by ID.
func (r *CampaignRepository) List(ctx context.Context, id uuid.UUID) (*campaign.List, error) {
	query := `
		SELECT id, name, is_active,
		       call_start_time, call_end_time, time_zone,
		       max_call_attempts, min_call_interval_seconds,
		       total_leads, called_leads, contacted_leads,
		       created_at, updated_at
		FROM lists WHERE id = $1`

	l, err := scanList(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainerrors.ErrListNotFound
		}
		return nil, fmt.Errorf("failed to get list: %w", err)
	}
	return l, nil
}

// Assignments returns the active lists attached to a campaign with their
// link settings, highest link priority first.
func (r *CampaignRepository) Assignments(ctx context.Context, campaignID uuid.UUID) ([]leadselect.ListAssignment, error) {
	query := `
		SELECT l.id, l.name, l.is_active,
		       l.call_start_time, l.call_end_time, l.time_zone,
		       l.max_call_attempts, l.min_call_interval_seconds,
		       l.total_leads, l.called_leads, l.contacted_leads,
		       l.created_at, l.updated_at,
		       cl.campaign_id, cl.list_id, cl.allocation_percentage,
		       cl.max_calls_per_hour, cl.priority, cl.call_in_order, cl.created_at
		FROM campaign_lists cl
		JOIN lists l ON l.id = cl.list_id
		WHERE cl.campaign_id = $1 AND l.is_active = true
		ORDER BY cl.priority DESC`

	rows, err := r.db.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []leadselect.ListAssignment
	for rows.Next() {
		var l campaign.List
		var link campaign.CampaignList
		var minIntervalSecs *int64
		if err := rows.Scan(
			&l.ID, &l.Name, &l.IsActive,
			&l.CallStartTime, &l.CallEndTime, &l.TimeZone,
			&l.MaxCallAttempts, &minIntervalSecs,
			&l.TotalLeads, &l.CalledLeads, &l.ContactedLeads,
			&l.CreatedAt, &l.UpdatedAt,
			&link.CampaignID, &link.ListID, &link.AllocationPercentage,
			&link.MaxCallsPerHour, &link.Priority, &link.CallInOrder, &link.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		if minIntervalSecs != nil {
			d := time.Duration(*minIntervalSecs) * time.Second
			l.MinCallInterval = &d
		}
		assignments = append(assignments, leadselect.ListAssignment{List: &l, Link: &link})
	}
	return assignments, rows.Err()
}

// Filter returns the lead filter assigned to a campaign, or nil when the
// campaign has none.
func (r *CampaignRepository) Filter(ctx context.Context, campaignID uuid.UUID) (*leadfilter.Filter, error) {
	query := `
		SELECT f.id, f.name, f.type, f.rules, f.sql_text, f.is_active, f.created_at
		FROM filters f
		JOIN campaigns c ON c.filter_id = f.id
		WHERE c.id = $1`

	var f leadfilter.Filter
	var rulesJSON []byte
	err := r.db.QueryRow(ctx, query, campaignID).Scan(
		&f.ID, &f.Name, &f.Type, &rulesJSON, &f.SQLText, &f.IsActive, &f.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get filter: %w", err)
	}

	if len(rulesJSON) > 0 {
		var rules leadfilter.RuleGroup
		if err := json.Unmarshal(rulesJSON, &rules); err != nil {
			return nil, fmt.Errorf("failed to decode filter rules: %w", err)
		}
		f.Rules = &rules
	}
	return &f, nil
}

func scanCampaign(row pgx.Row) (*campaign.Campaign, error) {
	var c campaign.Campaign
	var days []int
	var action int
	var attemptDelaySecs, minIntervalSecs, abandonSecs int64
	err := row.Scan(
		&c.ID, &c.Name, &c.IsActive, &c.IsPaused,
		&c.DialingRatio, &c.MaxConcurrentCalls, &c.ApplyRatioToIdleAgentsOnly,
		&c.CallStartTime, &c.CallEndTime, &days, &c.TimeZone, &c.RespectLeadTimeZone,
		&c.MaxCallAttempts, &attemptDelaySecs, &minIntervalSecs,
		&c.AMDEnabled, &action, &abandonSecs,
		&c.RequiredSkillLevel, &c.FilterID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.AllowedDaysOfWeek = make([]time.Weekday, 0, len(days))
	for _, d := range days {
		c.AllowedDaysOfWeek = append(c.AllowedDaysOfWeek, time.Weekday(d))
	}
	c.AnsweringMachineAction = campaign.AnsweringMachineAction(action)
	c.CallAttemptDelay = time.Duration(attemptDelaySecs) * time.Second
	c.MinCallInterval = time.Duration(minIntervalSecs) * time.Second
	c.AbandonThreshold = time.Duration(abandonSecs) * time.Second
	return &c, nil
}

func scanList(row pgx.Row) (*campaign.List, error) {
	var l campaign.List
	var minIntervalSecs *int64
	err := row.Scan(
		&l.ID, &l.Name, &l.IsActive,
		&l.CallStartTime, &l.CallEndTime, &l.TimeZone,
		&l.MaxCallAttempts, &minIntervalSecs,
		&l.TotalLeads, &l.CalledLeads, &l.ContactedLeads,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if minIntervalSecs != nil {
		d := time.Duration(*minIntervalSecs) * time.Second
		l.MinCallInterval = &d
	}
	return &l, nil
}
