package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// runMaintenanceLoop purges spent verification codes and prunes accounts
// that were never confirmed, once at startup and then every Purge.Interval.
func runMaintenanceLoop(ctx context.Context, a *app) {
	log := a.log.WithField("component", "maintenance")

	interval := a.cfg.Purge.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	runOnce := func() {
		ctxRun, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		if a.cfg.Purge.OTPRetention > 0 {
			n, err := a.otp.Purge(ctxRun, a.cfg.Purge.OTPRetention)
			if err != nil {
				log.WithError(err).Warn("otp purge failed")
			} else if n > 0 {
				log.WithField("purged", n).Info("purged verification codes")
			}
		}

		if a.cfg.Purge.PendingTTL > 0 {
			n, err := a.accounts.PrunePending(ctxRun, a.cfg.Purge.PendingTTL)
			if err != nil {
				log.WithError(err).Warn("pending account prune failed")
			} else if n > 0 {
				log.WithFields(logrus.Fields{"pruned": n, "older_than": a.cfg.Purge.PendingTTL}).Info("pruned unconfirmed accounts")
			}
		}
	}

	runOnce()

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			runOnce()
		}
	}
}
