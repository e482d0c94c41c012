package identity

import (
	"context"
	"time"
)

// Renewer periodically re-runs a bootstrap and feeds the result into
// credentials.
type Renewer struct {
	Bootstrap   *Bootstrap
	Credentials *Credentials
	Interval    time.Duration
}

// Run renews until ctx is done. Failed passes are logged and retried at the
// next tick; the credentials keep their previous material meanwhile.
func (r *Renewer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.renew(ctx)
		}
	}
}

func (r *Renewer) renew(ctx context.Context) {
	logger := r.Bootstrap.logger()
	result, err := r.Bootstrap.Run(ctx)
	if err != nil {
		logger.Error("identity renewal failed", "err", err)
		return
	}
	if err := r.Credentials.Update(result); err != nil {
		logger.Error("cannot update credentials", "err", err)
		return
	}
	if result.Renewed || result.RootChanged {
		logger.Info("credentials updated", "renewed", result.Renewed, "rootChanged", result.RootChanged, "notAfter", r.Credentials.NotAfter())
	}
}
