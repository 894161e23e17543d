package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/predictive-dialer-backend/internal/service/dispatch"
)

// ControlResult is returned to the external control surface (CLI/API).
type ControlResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StartCampaign activates a campaign and spawns its pacing loop.
func (e *Engine) StartCampaign(ctx context.Context, campaignID uuid.UUID) (ControlResult, error) {
	c, err := e.campaigns.Campaign(ctx, campaignID)
	if err != nil {
		return ControlResult{}, fmt.Errorf("loading campaign: %w", err)
	}
	if err := e.campaigns.SetActive(ctx, campaignID, true); err != nil {
		return ControlResult{}, fmt.Errorf("activating campaign: %w", err)
	}
	e.startLoop(campaignID)
	e.logger.Info("campaign started", zap.String("campaign_id", campaignID.String()))
	return ControlResult{Success: true, Message: fmt.Sprintf("campaign %q started", c.Name)}, nil
}

// StopCampaign deactivates a campaign. New selections stop immediately;
// in-flight calls drain to a terminal state on their own.
func (e *Engine) StopCampaign(ctx context.Context, campaignID uuid.UUID) (ControlResult, error) {
	c, err := e.campaigns.Campaign(ctx, campaignID)
	if err != nil {
		return ControlResult{}, fmt.Errorf("loading campaign: %w", err)
	}
	if err := e.campaigns.SetActive(ctx, campaignID, false); err != nil {
		return ControlResult{}, fmt.Errorf("deactivating campaign: %w", err)
	}
	e.stopLoop(campaignID)

	inflight, _ := e.dispatcher.ActiveCalls(ctx, campaignID)
	e.logger.Info("campaign stopped",
		zap.String("campaign_id", campaignID.String()),
		zap.Int("draining_calls", inflight))
	return ControlResult{
		Success: true,
		Message: fmt.Sprintf("campaign %q stopped, %d calls draining", c.Name, inflight),
	}, nil
}

// PauseCampaign halts new selections without tearing the loop down.
func (e *Engine) PauseCampaign(ctx context.Context, campaignID uuid.UUID) (ControlResult, error) {
	if err := e.campaigns.SetPaused(ctx, campaignID, true); err != nil {
		return ControlResult{}, fmt.Errorf("pausing campaign: %w", err)
	}
	e.logger.Info("campaign paused", zap.String("campaign_id", campaignID.String()))
	return ControlResult{Success: true, Message: "campaign paused"}, nil
}

// ResumeCampaign lifts a pause.
func (e *Engine) ResumeCampaign(ctx context.Context, campaignID uuid.UUID) (ControlResult, error) {
	if err := e.campaigns.SetPaused(ctx, campaignID, false); err != nil {
		return ControlResult{}, fmt.Errorf("resuming campaign: %w", err)
	}
	e.startLoop(campaignID)
	e.logger.Info("campaign resumed", zap.String("campaign_id", campaignID.String()))
	return ControlResult{Success: true, Message: "campaign resumed"}, nil
}

// HandleEvent is the inbound telephony fan-in, keyed by call identifier.
// Events arriving before the dispatcher is wired are dropped.
func (e *Engine) HandleEvent(ev dispatch.Event) {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.HandleEvent(ev)
}
