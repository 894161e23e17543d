package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/calllog"
	domainerrors "github.com/davidleathers/predictive-dialer-backend/internal/domain/errors"
)

const callLogColumns = `
	id, campaign_id, list_id, lead_id, phone, attempt,
	call_status, result_status,
	initiated_at, ringing_at, connected_at, ended_at,
	ring_duration_seconds, talk_duration_seconds, duration_seconds,
	agent_id, answering_machine_detected, abandoned,
	hangup_reason, error_message, cost,
	disposition_id, disposition_applied, created_at, updated_at`

// CallLogRepository persists dial attempts.
type CallLogRepository struct {
	db *pgxpool.Pool
}

// NewCallLogRepository creates a call log repository over the given pool.
func NewCallLogRepository(db *pgxpool.Pool) *CallLogRepository {
	return &CallLogRepository{db: db}
}

// Create inserts a call log at dial time.
func (r *CallLogRepository) Create(ctx context.Context, log *calllog.CallLog) error {
	query := `
		INSERT INTO call_logs (` + callLogColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`

	_, err := r.db.Exec(ctx, query,
		log.ID, log.CampaignID, log.ListID, log.LeadID, log.Phone.String(), log.Attempt,
		int(log.CallStatus), int(log.ResultStatus),
		log.InitiatedAt, log.RingingAt, log.ConnectedAt, log.EndedAt,
		log.RingDurationSeconds, log.TalkDurationSeconds, log.DurationSeconds,
		log.AgentID, log.AnsweringMachineDetected, log.Abandoned,
		log.HangupReason, log.ErrorMessage, log.Cost,
		log.DispositionID, log.DispositionApplied, log.CreatedAt, log.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create call log: %w", err)
	}
	return nil
}

// Update persists lifecycle progress for an existing call log.
func (r *CallLogRepository) Update(ctx context.Context, log *calllog.CallLog) error {
	query := `
		UPDATE call_logs SET
			call_status = $2, result_status = $3,
			ringing_at = $4, connected_at = $5, ended_at = $6,
			ring_duration_seconds = $7, talk_duration_seconds = $8, duration_seconds = $9,
			agent_id = $10, answering_machine_detected = $11, abandoned = $12,
			hangup_reason = $13, error_message = $14, cost = $15,
			disposition_id = $16, disposition_applied = $17, updated_at = $18
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		log.ID, int(log.CallStatus), int(log.ResultStatus),
		log.RingingAt, log.ConnectedAt, log.EndedAt,
		log.RingDurationSeconds, log.TalkDurationSeconds, log.DurationSeconds,
		log.AgentID, log.AnsweringMachineDetected, log.Abandoned,
		log.HangupReason, log.ErrorMessage, log.Cost,
		log.DispositionID, log.DispositionApplied, log.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update call log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.ErrCallLogNotFound
	}
	return nil
}

// CallLog retrieves a call log by ID.
func (r *CallLogRepository) CallLog(ctx context.Context, id uuid.UUID) (*calllog.CallLog, error) {
	query := `SELECT ` + callLogColumns + ` FROM call_logs WHERE id = $1`

	log, err := scanCallLog(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainerrors.ErrCallLogNotFound
		}
		return nil, fmt.Errorf("failed to get call log: %w", err)
	}
	return log, nil
}

// CountSince returns calls initiated at or after the cutoff, for reporting.
func (r *CallLogRepository) CountSince(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM call_logs WHERE initiated_at >= $1`, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count call logs: %w", err)
	}
	return n, nil
}

func scanCallLog(row pgx.Row) (*calllog.CallLog, error) {
	var log calllog.CallLog
	var callStatus, resultStatus int
	err := row.Scan(
		&log.ID, &log.CampaignID, &log.ListID, &log.LeadID, &log.Phone, &log.Attempt,
		&callStatus, &resultStatus,
		&log.InitiatedAt, &log.RingingAt, &log.ConnectedAt, &log.EndedAt,
		&log.RingDurationSeconds, &log.TalkDurationSeconds, &log.DurationSeconds,
		&log.AgentID, &log.AnsweringMachineDetected, &log.Abandoned,
		&log.HangupReason, &log.ErrorMessage, &log.Cost,
		&log.DispositionID, &log.DispositionApplied, &log.CreatedAt, &log.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	log.CallStatus = calllog.Status(callStatus)
	log.ResultStatus = calllog.Status(resultStatus)
	return &log, nil
}
