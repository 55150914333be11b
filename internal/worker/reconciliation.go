package worker

import (
	"context"
	"time"

	"school-payments/internal/domain"
	"school-payments/internal/infrastructure/payment"
	"school-payments/internal/repo"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ReconciliationWorker polls the gateway for statuses that no callback has
// settled and applies what the gateway reports.
type ReconciliationWorker struct {
	orderRepo  repo.OrderRepo
	statusRepo repo.StatusRepo
	gateway    payment.Gateway
	limiter    *rate.Limiter
	interval   time.Duration
	staleAfter time.Duration
	batch      int
	logger     *zap.Logger
}

type Options struct {
	Interval   time.Duration
	StaleAfter time.Duration
	Batch      int
	// RPS caps gateway queries per second. Zero or less means unlimited.
	RPS float64
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Checked  int
	Updated  int
	Skipped  int
	Conflict int
}

func NewReconciliationWorker(
	orderRepo repo.OrderRepo,
	statusRepo repo.StatusRepo,
	gateway payment.Gateway,
	opts Options,
	logger *zap.Logger,
) *ReconciliationWorker {
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	if opts.Batch <= 0 {
		opts.Batch = 50
	}
	return &ReconciliationWorker{
		orderRepo:  orderRepo,
		statusRepo: statusRepo,
		gateway:    gateway,
		limiter:    rate.NewLimiter(limit, 1),
		interval:   opts.Interval,
		staleAfter: opts.StaleAfter,
		batch:      opts.Batch,
		logger:     logger,
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	if rw.interval <= 0 {
		return
	}
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.logger.Info("reconciliation worker started",
		zap.Duration("interval", rw.interval),
		zap.Duration("stale_after", rw.staleAfter),
	)

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("reconciliation worker stopped")
			return
		case <-ticker.C:
			res, err := rw.Sweep(ctx)
			if err != nil {
				rw.logger.Error("reconciliation sweep failed", zap.Error(err))
				continue
			}
			if res.Checked > 0 {
				rw.logger.Info("reconciliation sweep finished",
					zap.Int("checked", res.Checked),
					zap.Int("updated", res.Updated),
					zap.Int("skipped", res.Skipped),
					zap.Int("conflict", res.Conflict),
				)
			}
		}
	}
}

// Sweep runs one reconciliation pass.
func (rw *ReconciliationWorker) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	stale, err := rw.statusRepo.FindStale(ctx, time.Now().Add(-rw.staleAfter), rw.batch)
	if err != nil {
		return res, err
	}

	for _, status := range stale {
		if err := rw.limiter.Wait(ctx); err != nil {
			return res, err
		}
		res.Checked++

		order, err := rw.orderRepo.FindById(ctx, status.OrderID.String())
		if err != nil {
			rw.logger.Warn("failed to load order for status",
				zap.String("order_id", status.OrderID.String()),
				zap.Error(err),
			)
			res.Skipped++
			continue
		}
		if order == nil {
			res.Skipped++
			continue
		}

		view := rw.gateway.CheckStatus(ctx, order.SchoolID, *status.CollectRequestID)
		if view.Degraded() || view.Status == "" || view.Status == status.Status {
			res.Skipped++
			continue
		}

		// The version guard lets a callback that landed in the meantime win.
		version := status.Version
		update := domain.StatusUpdate{
			Status:        view.Status,
			PaymentTime:   time.Now().UTC(),
			ExpectVersion: &version,
		}
		if view.Amount > 0 {
			amount := view.Amount
			update.TransactionAmount = &amount
		}
		if len(view.Details) > 0 && string(view.Details) != "null" {
			details := string(view.Details)
			update.PaymentDetails = &details
		}

		updated, err := rw.statusRepo.UpdateStatus(ctx, nil, status.OrderID, update)
		if err != nil {
			rw.logger.Warn("failed to apply reconciled status",
				zap.String("order_id", status.OrderID.String()),
				zap.Error(err),
			)
			res.Skipped++
			continue
		}
		if !updated {
			res.Conflict++
			continue
		}

		rw.logger.Info("status reconciled from gateway",
			zap.String("order_id", status.OrderID.String()),
			zap.String("collect_request_id", *status.CollectRequestID),
			zap.String("from", string(status.Status)),
			zap.String("to", string(view.Status)),
		)
		res.Updated++
	}
	return res, nil
}
