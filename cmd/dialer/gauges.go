package main

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// dncCounter is the slice of DNCRepository the gauge needs.
type dncCounter interface {
	Count(ctx context.Context) (int64, error)
}

type dncGauge interface {
	SetDNCListSize(size int64)
}

// watchDNCSize polls the store and keeps the DNC list size gauge current.
// A failed poll keeps the previous reading; the next tick retries.
func watchDNCSize(ctx context.Context, store dncCounter, registry dncGauge, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	refresh := func() {
		n, err := store.Count(ctx)
		if err != nil {
			logger.Warn("dnc size poll failed", zap.Error(err))
			return
		}
		registry.SetDNCListSize(n)
	}

	refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}
