package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-settlements/app/currency"
	"github.com/vibast-solutions/ms-go-settlements/app/entity"
	"github.com/vibast-solutions/ms-go-settlements/app/metrics"
)

const (
	eventEffectsDispatched     = "effects_dispatched"
	eventEffectsDispatchFailed = "effects_dispatch_failed"

	effectsTimeout = 30 * time.Second
)

// dispatchEffectsAsync runs the completion side effects off the request path.
// The outbox row armed by the completion keeps them recoverable if this
// process dies before they finish.
func (s *PaymentService) dispatchEffectsAsync(paymentID uint64) {
	s.effects.Add(1)
	go func() {
		defer s.effects.Done()

		ctx, cancel := context.WithTimeout(context.Background(), effectsTimeout)
		defer cancel()

		if err := s.runEffects(ctx, paymentID); err != nil {
			s.logger.WithError(err).WithField("payment_id", paymentID).Warn("completion side effects failed, will retry")
		}
	}()
}

// Wait blocks until in-flight side-effect dispatches return.
func (s *PaymentService) Wait() {
	s.effects.Wait()
}

// runEffects claims the payment's outbox entry and applies its side effects.
// A claim lost to another worker is not an error.
func (s *PaymentService) runEffects(ctx context.Context, paymentID uint64) error {
	now := s.now()
	claimed, err := s.paymentRepo.ClaimEffects(ctx, paymentID, now, now.Add(s.effectsLease()))
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	payment, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}

	if applyErr := s.applyEffects(ctx, payment); applyErr != nil {
		return s.recordEffectsFailure(ctx, payment, applyErr)
	}

	if err := s.paymentRepo.CompleteEffects(ctx, payment.ID); err != nil {
		return err
	}
	metrics.RecordSideEffect("success")
	s.recordEffectsEvent(ctx, payment, eventEffectsDispatched)
	return nil
}

// applyEffects extends the license a renewal paid for and notifies the payer.
// The renewal is keyed by payment, so a retry never extends twice.
func (s *PaymentService) applyEffects(ctx context.Context, payment *entity.Payment) error {
	logger := s.logger.WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"attempt":    payment.EffectsAttempts,
	})

	if payment.Purpose == entity.PurposeLicenseRenewal && payment.LicenseID != nil {
		renewal, applied, err := s.licenseRepo.Renew(ctx, payment.ID, *payment.LicenseID, s.paymentsCfg.LicenseRenewalWindow, s.now())
		if err != nil {
			return fmt.Errorf("renew license %d: %w", *payment.LicenseID, err)
		}
		if applied {
			logger.WithFields(logrus.Fields{
				"license_id":  renewal.LicenseID,
				"extended_to": renewal.ExtendedTo,
			}).Info("license renewed")
		}
	}

	if s.notifier != nil {
		if err := s.notifier.SendPaymentConfirmation(ctx, payment); err != nil {
			return fmt.Errorf("send payment confirmation: %w", err)
		}
	}

	return nil
}

func (s *PaymentService) recordEffectsFailure(ctx context.Context, payment *entity.Payment, effectsErr error) error {
	maxAttempts := s.paymentsCfg.EffectsMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var nextAt *time.Time
	if payment.EffectsAttempts < maxAttempts {
		next := s.now().Add(s.effectsBackoff(payment.EffectsAttempts))
		nextAt = &next
		metrics.RecordSideEffect("retry")
	} else {
		metrics.RecordSideEffect("failed")
		s.logger.WithError(effectsErr).WithField("payment_id", payment.ID).Error("completion side effects exhausted retries")
	}

	if err := s.paymentRepo.RecordEffectsFailure(ctx, payment.ID, nextAt, currency.Truncate(effectsErr.Error(), 1024)); err != nil {
		return err
	}

	s.recordEffectsEvent(ctx, payment, eventEffectsDispatchFailed)

	return effectsErr
}

// recordEffectsEvent appends to the audit trail. The outbox row already holds
// the outcome, so a failed insert is logged and not returned.
func (s *PaymentService) recordEffectsEvent(ctx context.Context, payment *entity.Payment, eventType string) {
	err := s.eventRepo.Create(ctx, &entity.PaymentEvent{
		PaymentID: payment.ID,
		EventType: eventType,
		NewStatus: payment.Status,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"payment_id": payment.ID,
			"event_type": eventType,
		}).Error("failed to record payment event")
	}
}

// effectsBackoff doubles the retry delay per attempt, capped at the configured
// maximum.
func (s *PaymentService) effectsBackoff(attempts int32) time.Duration {
	base := s.paymentsCfg.EffectsRetryBase
	if base <= 0 {
		base = 30 * time.Second
	}
	max := s.paymentsCfg.EffectsRetryMax
	if max <= 0 {
		max = time.Hour
	}

	delay := base
	for i := int32(1); i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	return delay
}

func (s *PaymentService) effectsLease() time.Duration {
	if s.paymentsCfg.EffectsLease > 0 {
		return s.paymentsCfg.EffectsLease
	}
	return 5 * time.Minute
}
