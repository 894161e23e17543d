package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds all domain-specific metrics for the dialer
type Registry struct {
	meter metric.Meter

	// Pacing Metrics
	PacingPermitted    metric.Int64Histogram
	DialsPerSecond     metric.Float64ObservableGauge
	DialCounter        metric.Int64Counter
	StarvedTickCounter metric.Int64Counter

	// Call Metrics
	ActiveCalls      metric.Int64ObservableGauge
	CallDuration     metric.Float64Histogram
	CallEndCounter   metric.Int64Counter
	AbandonedCounter metric.Int64Counter

	// Compliance Metrics
	ComplianceDenyCounter metric.Int64Counter
	DNCListSize           metric.Int64ObservableGauge

	// State for observable metrics
	mu             sync.RWMutex
	activeCalls    int64
	dncListSize    int64
	dialsTotal     int64
	lastDialsTotal int64
	lastDialTime   time.Time
}

// NewRegistry creates a new metrics registry with all dialer metrics
func NewRegistry(meterName string) (*Registry, error) {
	meter := otel.Meter(meterName)
	r := &Registry{
		meter:        meter,
		lastDialTime: time.Now(),
	}

	if err := r.initPacingMetrics(); err != nil {
		return nil, err
	}

	if err := r.initCallMetrics(); err != nil {
		return nil, err
	}

	if err := r.initComplianceMetrics(); err != nil {
		return nil, err
	}

	return r, nil
}

// initPacingMetrics initializes pacing decision metrics
func (r *Registry) initPacingMetrics() error {
	var err error

	r.PacingPermitted, err = r.meter.Int64Histogram(
		"dialer.pacing.permitted_calls",
		metric.WithDescription("Number of new calls permitted per pacing tick"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5, 10, 25, 50, 100),
	)
	if err != nil {
		return err
	}

	r.DialsPerSecond, err = r.meter.Float64ObservableGauge(
		"dialer.pacing.dials_per_second",
		metric.WithDescription("Current outbound dial rate per second"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			r.mu.Lock()
			defer r.mu.Unlock()

			now := time.Now()
			elapsed := now.Sub(r.lastDialTime).Seconds()
			if elapsed > 0 {
				rate := float64(r.dialsTotal-r.lastDialsTotal) / elapsed
				o.Observe(rate)
				r.lastDialsTotal = r.dialsTotal
				r.lastDialTime = now
			}
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.DialCounter, err = r.meter.Int64Counter(
		"dialer.pacing.dials_total",
		metric.WithDescription("Total number of outbound dials placed"),
	)
	if err != nil {
		return err
	}

	r.StarvedTickCounter, err = r.meter.Int64Counter(
		"dialer.pacing.starved_ticks_total",
		metric.WithDescription("Pacing ticks that permitted zero new calls"),
	)

	return err
}

// initCallMetrics initializes call lifecycle metrics
func (r *Registry) initCallMetrics() error {
	var err error

	r.ActiveCalls, err = r.meter.Int64ObservableGauge(
		"dialer.call.active_total",
		metric.WithDescription("Number of currently active calls"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.activeCalls)
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.CallDuration, err = r.meter.Float64Histogram(
		"dialer.call.duration",
		metric.WithDescription("Call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600),
	)
	if err != nil {
		return err
	}

	r.CallEndCounter, err = r.meter.Int64Counter(
		"dialer.call.ended_total",
		metric.WithDescription("Total number of calls reaching a terminal state"),
	)
	if err != nil {
		return err
	}

	r.AbandonedCounter, err = r.meter.Int64Counter(
		"dialer.call.abandoned_total",
		metric.WithDescription("Total calls abandoned with no agent available"),
	)

	return err
}

// initComplianceMetrics initializes compliance scrub metrics
func (r *Registry) initComplianceMetrics() error {
	var err error

	r.ComplianceDenyCounter, err = r.meter.Int64Counter(
		"dialer.compliance.deny_total",
		metric.WithDescription("Total leads denied by the compliance scrub"),
	)
	if err != nil {
		return err
	}

	r.DNCListSize, err = r.meter.Int64ObservableGauge(
		"dialer.compliance.dnc_list_size",
		metric.WithDescription("Current size of the Do Not Call list"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.dncListSize)
			return nil
		}),
	)

	return err
}

// ObservePacingDecision records the outcome of one pacing tick.
func (r *Registry) ObservePacingDecision(ctx context.Context, permitted int) {
	r.PacingPermitted.Record(ctx, int64(permitted))
	if permitted == 0 {
		r.StarvedTickCounter.Add(ctx, 1)
	}
}

// CountDial records a placed dial attributed to its campaign.
func (r *Registry) CountDial(ctx context.Context, campaignName string) {
	r.DialCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("campaign", campaignName),
	))

	r.mu.Lock()
	r.dialsTotal++
	r.activeCalls++
	r.mu.Unlock()
}

// ObserveCallEnd records a call reaching a terminal state.
func (r *Registry) ObserveCallEnd(ctx context.Context, status string, durationSeconds int, abandoned bool) {
	r.CallEndCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
	r.CallDuration.Record(ctx, float64(durationSeconds))
	if abandoned {
		r.AbandonedCounter.Add(ctx, 1)
	}

	r.mu.Lock()
	if r.activeCalls > 0 {
		r.activeCalls--
	}
	r.mu.Unlock()
}

// CountComplianceDeny records one denied lead by deny reason.
func (r *Registry) CountComplianceDeny(ctx context.Context, reason string) {
	r.ComplianceDenyCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// SetDNCListSize updates the DNC list size gauge
func (r *Registry) SetDNCListSize(size int64) {
	r.mu.Lock()
	r.dncListSize = size
	r.mu.Unlock()
}
