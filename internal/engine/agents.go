package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/agent"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/errors"
)

// AgentPool is the live agent registry. Only the dispatcher (via Reserve
// and Release) mutates active-call counters; presence changes come from
// the control boundary.
type AgentPool struct {
	mu     sync.Mutex
	agents map[uuid.UUID]*agent.Agent
}

// NewAgentPool creates an empty registry
func NewAgentPool() *AgentPool {
	return &AgentPool{agents: make(map[uuid.UUID]*agent.Agent)}
}

// Upsert registers or refreshes an agent
func (p *AgentPool) Upsert(a *agent.Agent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agents[a.ID] = a
}

// SetPresence updates login state and availability
func (p *AgentPool) SetPresence(agentID uuid.UUID, loggedIn bool, status agent.Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[agentID]
	if !ok {
		return errors.ErrAgentNotFound
	}
	a.IsLoggedIn = loggedIn
	a.Status = status
	return nil
}

// Reserve finds an eligible idle agent and assigns the call slot.
// Implements dispatch.AgentRouter.
func (p *AgentPool) Reserve(_ context.Context, campaignID uuid.UUID, requiredSkill int) (*agent.Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *agent.Agent
	for _, a := range p.agents {
		if !a.EligibleFor(campaignID, requiredSkill) {
			continue
		}
		// Least-loaded first, then higher skill.
		if best == nil ||
			a.ActiveCalls < best.ActiveCalls ||
			(a.ActiveCalls == best.ActiveCalls && a.SkillLevel > best.SkillLevel) {
			best = a
		}
	}
	if best == nil {
		return nil, errors.ErrNoEligibleAgent
	}
	if err := best.AssignCall(); err != nil {
		return nil, err
	}
	copied := *best
	return &copied, nil
}

// Release frees an agent slot after its call terminates
func (p *AgentPool) Release(_ context.Context, agentID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[agentID]
	if !ok {
		return errors.ErrAgentNotFound
	}
	a.ReleaseCall()
	// Wrap-up is a UI concern; the engine returns the agent to the pool.
	if a.ActiveCalls == 0 && a.IsLoggedIn {
		a.Status = agent.StatusAvailable
	}
	return nil
}

// AgentsFor implements pacing.AgentProvider
func (p *AgentPool) AgentsFor(_ context.Context, campaignID uuid.UUID) ([]*agent.Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*agent.Agent
	for _, a := range p.agents {
		if a.QualifiedFor(campaignID) {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

// AllAgents implements reporting.AgentProvider
func (p *AgentPool) AllAgents(_ context.Context) ([]*agent.Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*agent.Agent, 0, len(p.agents))
	for _, a := range p.agents {
		copied := *a
		out = append(out, &copied)
	}
	return out, nil
}
