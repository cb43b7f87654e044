package ws

import (
	"context"
	"log/slog"
	"time"
)

// Prober periodically sweeps the connection registry, evicting peers that
// stopped answering liveness probes.
type Prober struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger
}

func NewProber(manager *Manager, interval time.Duration, logger *slog.Logger) *Prober {
	return &Prober{
		manager:  manager,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps on a fixed period until ctx is cancelled. An in-flight sweep
// finishes before the loop exits; the registry is then force-cleared.
func (p *Prober) Run(ctx context.Context) error {
	p.logger.Info("liveness prober started", slog.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.manager.CloseAll()
			p.logger.Info("liveness prober stopped")
			return nil
		case <-ticker.C:
			p.manager.Sweep(ctx)
		}
	}
}
