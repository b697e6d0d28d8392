package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-settlements/app/currency"
	"github.com/vibast-solutions/ms-go-settlements/app/entity"
	"github.com/vibast-solutions/ms-go-settlements/app/factory"
	"github.com/vibast-solutions/ms-go-settlements/app/provider"
)

const (
	sourceInitiate  = "initiate"
	sourceWebhook   = "webhook"
	sourcePoll      = "poll"
	sourceCapture   = "capture"
	sourceReconcile = "reconcile"
	sourceExpiry    = "expiry"

	refundModeRail   = "rail"
	refundModeManual = "manual"
)

// RefundResult describes a recorded refund. Mode is "manual" when the rail
// has no refund API and money must be returned out of band.
type RefundResult struct {
	Payment  *entity.Payment
	RefundID string
	Mode     string
}

// applyRailStatus folds a rail-reported status into the ledger and returns
// the payment as stored afterwards. Every settlement path goes through here.
func (s *PaymentService) applyRailStatus(ctx context.Context, paymentID uint64, status provider.RailStatus, details map[string]string, source string) (*entity.Payment, error) {
	switch status {
	case provider.RailStatusCompleted:
		patch := cloneDetails(details)
		patch[entity.DetailCompletedVia] = source
		return s.complete(ctx, paymentID, patch)
	case provider.RailStatusFailed:
		reason := details[entity.DetailFailureReason]
		if reason == "" {
			reason = "rail reported failure"
		}
		extra := cloneDetails(details)
		delete(extra, entity.DetailFailureReason)
		if len(extra) > 0 {
			if err := s.ledger.MergeDetails(ctx, paymentID, extra); err != nil {
				return nil, err
			}
		}
		if _, err := s.ledger.MarkFailed(ctx, paymentID, reason); err != nil {
			return nil, err
		}
	default:
		if len(details) > 0 {
			if err := s.ledger.MergeDetails(ctx, paymentID, details); err != nil {
				return nil, err
			}
		}
	}

	return s.GetPayment(ctx, paymentID)
}

// complete moves the payment to COMPLETED. Side effects are dispatched only
// by the caller that won the transition.
func (s *PaymentService) complete(ctx context.Context, paymentID uint64, details map[string]string) (*entity.Payment, error) {
	result, err := s.ledger.MarkCompleted(ctx, paymentID, details)
	if err != nil {
		return nil, err
	}
	if !result.WasAlreadyCompleted {
		s.dispatchEffectsAsync(paymentID)
	}
	return result.Payment, nil
}

// CheckStatus returns the payment, polling the rail first when it is still
// pending. An unreachable rail leaves the stored status untouched.
func (s *PaymentService) CheckStatus(ctx context.Context, paymentID, requesterID uint64) (*entity.Payment, error) {
	payment, err := s.loadOwned(ctx, paymentID, requesterID)
	if err != nil {
		return nil, err
	}
	if payment.Status != entity.PaymentStatusPending {
		return payment, nil
	}
	if payment.ExternalID == nil {
		return s.checkUnattached(ctx, payment)
	}

	railProvider, err := s.providerReg.Get(payment.Rail)
	if err != nil {
		return nil, ErrProviderUnsupported
	}

	result, err := railProvider.QueryStatus(ctx, *payment.ExternalID)
	if err != nil {
		factory.LoggerWithRequestContext(ctx, s.logger).WithError(err).WithField("payment_id", payment.ID).
			Warn("status poll failed, returning stored status")
		return payment, nil
	}

	current, err := s.applyRailStatus(ctx, payment.ID, result.Status, result.Details, sourcePoll)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return s.GetPayment(ctx, payment.ID)
		}
		return nil, err
	}
	return current, nil
}

// checkUnattached tries to recover the rail reference of a payment whose
// initiate response was lost. Without one there is nothing to poll, so any
// failure returns the stored payment.
func (s *PaymentService) checkUnattached(ctx context.Context, payment *entity.Payment) (*entity.Payment, error) {
	current, err := s.recoverSubmission(ctx, payment, sourcePoll)
	switch {
	case err == nil:
		return current, nil
	case errors.Is(err, ErrInvalidTransition):
		return s.GetPayment(ctx, payment.ID)
	case errors.Is(err, errRecoveryUnsupported):
		return payment, nil
	default:
		factory.LoggerWithRequestContext(ctx, s.logger).WithError(err).WithField("payment_id", payment.ID).
			Warn("recovery failed, returning stored status")
		return payment, nil
	}
}

// CaptureCardOrder captures an approved card order. Capturing an order that
// already completed returns it unchanged.
func (s *PaymentService) CaptureCardOrder(ctx context.Context, paymentID, requesterID uint64) (*entity.Payment, error) {
	payment, err := s.loadOwned(ctx, paymentID, requesterID)
	if err != nil {
		return nil, err
	}
	if payment.Rail != entity.RailCardOrder {
		return nil, fmt.Errorf("%w: only card orders can be captured", ErrInvalidRequest)
	}
	if payment.Status == entity.PaymentStatusCompleted {
		return payment, nil
	}
	if payment.Status != entity.PaymentStatusPending || payment.ExternalID == nil {
		return nil, fmt.Errorf("%w: cannot capture %s payment", ErrInvalidTransition, payment.Status)
	}

	railProvider, err := s.providerReg.Get(payment.Rail)
	if err != nil {
		return nil, ErrProviderUnsupported
	}
	capturer, ok := railProvider.(provider.Capturer)
	if !ok {
		return nil, ErrProviderUnsupported
	}

	logger := factory.LoggerWithRequestContext(ctx, s.logger).WithField("payment_id", payment.ID)
	result, err := capturer.Capture(ctx, *payment.ExternalID)
	if err != nil {
		note := currency.Truncate(err.Error(), maxDetailLength)
		if mergeErr := s.ledger.MergeDetails(ctx, payment.ID, map[string]string{entity.DetailRailError: note}); mergeErr != nil {
			return nil, mergeErr
		}
		if errors.Is(err, provider.ErrRailRejected) {
			logger.WithError(err).Info("capture rejected")
			if _, failErr := s.ledger.MarkFailed(ctx, payment.ID, note); failErr != nil {
				return nil, failErr
			}
			return nil, err
		}
		logger.WithError(err).Warn("capture failed, payment left pending")
		if errors.Is(err, provider.ErrRailUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRailUnavailable, err)
	}

	return s.applyRailStatus(ctx, payment.ID, result.Status, result.Details, sourceCapture)
}

// Refund refunds a completed payment through its rail, or records a manual
// refund when the rail has no refund API.
func (s *PaymentService) Refund(ctx context.Context, paymentID uint64, reason, rawAmount string) (*RefundResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalidRequest)
	}

	payment, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != entity.PaymentStatusCompleted {
		return nil, fmt.Errorf("%w: cannot refund %s payment", ErrInvalidTransition, payment.Status)
	}

	amount, err := parseOptionalAmount(rawAmount, payment.Currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if amount != nil && (!amount.IsPositive() || amount.GreaterThan(payment.Amount)) {
		return nil, fmt.Errorf("%w: refund amount must be positive and at most %s", ErrInvalidRequest, currency.Format(payment.Amount, payment.Currency))
	}

	railProvider, err := s.providerReg.Get(payment.Rail)
	if err != nil {
		return nil, ErrProviderUnsupported
	}

	reference := payment.Detail(entity.DetailCaptureID)
	if reference == "" && payment.ExternalID != nil {
		reference = *payment.ExternalID
	}

	logger := factory.LoggerWithRequestContext(ctx, s.logger).WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"rail":       payment.Rail,
	})

	details := map[string]string{}
	result := &RefundResult{Mode: refundModeRail}
	refund, err := railProvider.Refund(ctx, &provider.RefundInput{
		ExternalReferenceID: reference,
		Amount:              amount,
		Currency:            payment.Currency,
		Reason:              reason,
		CorrelationID:       fmt.Sprintf("refund-%d", payment.ID),
	})
	switch {
	case errors.Is(err, provider.ErrRefundNotSupported):
		result.Mode = refundModeManual
		logger.Info("rail has no refund API, recording manual refund")
	case err != nil:
		logger.WithError(err).Warn("rail refund failed")
		return nil, err
	default:
		result.RefundID = refund.RefundID
		details[entity.DetailRefundID] = refund.RefundID
	}
	details[entity.DetailRefundMode] = result.Mode

	updated, err := s.ledger.MarkRefunded(ctx, payment.ID, reason, details)
	if err != nil {
		return nil, err
	}
	result.Payment = updated
	return result, nil
}
