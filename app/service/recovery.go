package service

import (
	"context"
	"errors"

	"github.com/vibast-solutions/ms-go-settlements/app/entity"
	"github.com/vibast-solutions/ms-go-settlements/app/factory"
	"github.com/vibast-solutions/ms-go-settlements/app/provider"
)

// errRecoveryUnsupported is returned for rails that cannot look a submission
// up by correlation id. Payments on those rails wait for a correlated webhook.
var errRecoveryUnsupported = errors.New("rail cannot recover submissions")

// attachSubmission stores the rail reference and metadata returned for a
// submission.
func (s *PaymentService) attachSubmission(ctx context.Context, paymentID uint64, output *provider.InitiateOutput) error {
	if err := s.ledger.AttachExternalID(ctx, paymentID, output.ExternalID); err != nil {
		return err
	}
	details := cloneDetails(output.Details)
	if output.ApprovalURL != "" {
		details[entity.DetailApproveURL] = output.ApprovalURL
	}
	if len(details) == 0 {
		return nil
	}
	return s.ledger.MergeDetails(ctx, paymentID, details)
}

// recoverSubmission resolves a PENDING payment whose initiate response never
// arrived. The rail is asked for the submission carrying the payment's
// correlation id, its reference is attached and the current rail status is
// applied.
func (s *PaymentService) recoverSubmission(ctx context.Context, payment *entity.Payment, source string) (*entity.Payment, error) {
	railProvider, err := s.providerReg.Get(payment.Rail)
	if err != nil {
		return nil, ErrProviderUnsupported
	}
	recoverer, ok := railProvider.(provider.Recoverer)
	if !ok || payment.Detail(entity.DetailCorrelationID) == "" {
		return nil, errRecoveryUnsupported
	}

	output, err := recoverer.Recover(ctx, s.replayInput(payment))
	if err != nil {
		return nil, err
	}
	if err := s.attachSubmission(ctx, payment.ID, output); err != nil {
		return nil, err
	}
	factory.LoggerWithRequestContext(ctx, s.logger).WithField("payment_id", payment.ID).
		WithField("external_id", output.ExternalID).Info("recovered rail reference for pending payment")

	status, details := output.Status, map[string]string(nil)
	if result, err := railProvider.QueryStatus(ctx, output.ExternalID); err == nil {
		status, details = result.Status, result.Details
	}
	return s.applyRailStatus(ctx, payment.ID, status, details, source)
}

// resumeExisting answers a repeated initiation. A payment still missing its
// rail reference gets one recovery attempt; on any failure the stored payment
// is returned as is.
func (s *PaymentService) resumeExisting(ctx context.Context, existing *entity.Payment) *PaymentHandle {
	if existing.Status != entity.PaymentStatusPending || existing.ExternalID != nil {
		return handleFor(existing)
	}
	current, err := s.recoverSubmission(ctx, existing, sourceInitiate)
	if err != nil {
		if !errors.Is(err, errRecoveryUnsupported) {
			factory.LoggerWithRequestContext(ctx, s.logger).WithError(err).WithField("payment_id", existing.ID).
				Warn("recovery on repeated initiate failed")
		}
		return handleFor(existing)
	}
	return handleFor(current)
}

// replayInput rebuilds the rail submission from what was stored at
// initiation.
func (s *PaymentService) replayInput(payment *entity.Payment) *provider.InitiateInput {
	return &provider.InitiateInput{
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		PayerIdentity: payment.Detail(entity.DetailPhoneNumber),
		Operator:      payment.Detail(entity.DetailOperator),
		Description:   s.paymentsCfg.Description,
		CorrelationID: payment.Detail(entity.DetailCorrelationID),
		ReturnURL:     payment.Detail(entity.DetailReturnURL),
		CancelURL:     payment.Detail(entity.DetailCancelURL),
	}
}
