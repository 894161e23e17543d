package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/agent"
)

// AgentRepository loads agent definitions. Live presence is tracked in
// memory by the engine's agent pool; this only seeds it.
type AgentRepository struct {
	db *pgxpool.Pool
}

// NewAgentRepository creates an agent repository over the given pool.
func NewAgentRepository(db *pgxpool.Pool) *AgentRepository {
	return &AgentRepository{db: db}
}

// All returns every configured agent with its campaign qualifications.
func (r *AgentRepository) All(ctx context.Context) ([]*agent.Agent, error) {
	query := `
		SELECT a.id, a.name, a.max_concurrent_calls, a.skill_level,
		       COALESCE(array_agg(aq.campaign_id) FILTER (WHERE aq.campaign_id IS NOT NULL), '{}')
		FROM agents a
		LEFT JOIN agent_qualifications aq ON aq.agent_id = a.id
		GROUP BY a.id, a.name, a.max_concurrent_calls, a.skill_level`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var agents []*agent.Agent
	for rows.Next() {
		var a agent.Agent
		if err := rows.Scan(
			&a.ID, &a.Name, &a.MaxConcurrentCalls, &a.SkillLevel,
			&a.QualifiedCampaigns,
		); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		a.Status = agent.StatusOffline
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}
