package service

import (
	"context"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-settlements/app/entity"
	"github.com/vibast-solutions/ms-go-settlements/app/provider"
)

const expiredReason = "expired"

// RunReconcileBatch polls the rail for pending payments that have not moved
// recently, catching up on webhooks that never arrived.
func (s *PaymentService) RunReconcileBatch(ctx context.Context) error {
	before := s.now().Add(-s.paymentsCfg.ReconcileStaleAfter)
	items, err := s.paymentRepo.ListForReconcile(ctx, before, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, payment := range items {
		if payment == nil {
			continue
		}
		if payment.ExternalID == nil {
			if _, err := s.recoverSubmission(ctx, payment, sourceReconcile); err != nil &&
				!errors.Is(err, errRecoveryUnsupported) && !errors.Is(err, ErrInvalidTransition) {
				firstErr = keepFirstErr(firstErr, err)
			}
			continue
		}

		result, err := s.queryRail(ctx, payment)
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}

		if _, err := s.applyRailStatus(ctx, payment.ID, result.Status, result.Details, sourceReconcile); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				s.logger.WithError(err).WithField("payment_id", payment.ID).Warn("reconcile conflicts with recorded status")
				continue
			}
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

// RunExpirePendingBatch fails payments that stayed pending past the timeout.
// Each one gets a final poll first so a late completion is not lost. A
// payment whose rail cannot be reached is left for the next run. A payment
// that never received its rail reference is recovered first; on rails that
// cannot recover it, it waits for a correlated webhook until the unattached
// timeout.
func (s *PaymentService) RunExpirePendingBatch(ctx context.Context) error {
	cutoff := s.now().Add(-s.paymentsCfg.PendingTimeout)
	items, err := s.paymentRepo.ListExpiredPending(ctx, cutoff, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, payment := range items {
		if payment == nil || payment.Status != entity.PaymentStatusPending {
			continue
		}

		if payment.ExternalID == nil {
			current, err := s.recoverSubmission(ctx, payment, sourceExpiry)
			switch {
			case err == nil:
				if current.Status != entity.PaymentStatusPending {
					continue
				}
			case errors.Is(err, errRecoveryUnsupported):
				if payment.CreatedAt.After(s.now().Add(-s.unattachedTimeout())) {
					continue
				}
				s.logger.WithField("payment_id", payment.ID).
					Warn("expiring payment without rail reference, review against rail statement")
			case errors.Is(err, ErrInvalidTransition):
				continue
			case errors.Is(err, ErrRailRejected):
				// the rail refuses the replayed submission, so nothing was collected
			default:
				firstErr = keepFirstErr(firstErr, err)
				continue
			}
		} else {
			result, err := s.queryRail(ctx, payment)
			if err != nil {
				firstErr = keepFirstErr(firstErr, err)
				continue
			}
			if result.Status == provider.RailStatusCompleted || result.Status == provider.RailStatusFailed {
				if _, err := s.applyRailStatus(ctx, payment.ID, result.Status, result.Details, sourceExpiry); err != nil && !errors.Is(err, ErrInvalidTransition) {
					firstErr = keepFirstErr(firstErr, err)
				}
				continue
			}
		}

		if _, err := s.ledger.MarkFailed(ctx, payment.ID, expiredReason); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

// RunDispatchEffectsBatch retries completion side effects whose outbox entry
// is due, including ones whose worker lease expired.
func (s *PaymentService) RunDispatchEffectsBatch(ctx context.Context) error {
	items, err := s.paymentRepo.ListDueEffects(ctx, s.now(), s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, payment := range items {
		if payment == nil {
			continue
		}
		if err := s.runEffects(ctx, payment.ID); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

func (s *PaymentService) queryRail(ctx context.Context, payment *entity.Payment) (*provider.StatusResult, error) {
	railProvider, err := s.providerReg.Get(payment.Rail)
	if err != nil {
		return nil, err
	}
	return railProvider.QueryStatus(ctx, *payment.ExternalID)
}

func (s *PaymentService) unattachedTimeout() time.Duration {
	if s.paymentsCfg.UnattachedTimeout > s.paymentsCfg.PendingTimeout {
		return s.paymentsCfg.UnattachedTimeout
	}
	return s.paymentsCfg.PendingTimeout
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
