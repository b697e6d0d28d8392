package service

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-settlements/app/currency"
	"github.com/vibast-solutions/ms-go-settlements/app/entity"
	"github.com/vibast-solutions/ms-go-settlements/app/factory"
	"github.com/vibast-solutions/ms-go-settlements/app/metrics"
	"github.com/vibast-solutions/ms-go-settlements/app/provider"
)

const maxSignatureLength = 255

type WebhookRequest interface {
	GetRail() string
	GetPayload() []byte
	GetHeaders() http.Header
}

// WebhookAck is what the rail gets back. Rails only need to know the
// notification was received, so everything short of a storage failure is
// acknowledged.
type WebhookAck struct {
	Result    string
	PaymentID uint64
	Status    string
}

const (
	webhookResultProcessed        = "processed"
	webhookResultIgnored          = "ignored"
	webhookResultInvalidSignature = "invalid_signature"
	webhookResultUnparseable      = "unparseable"
	webhookResultUnknownPayment   = "unknown_payment"
)

// HandleWebhook verifies, parses and applies one rail notification. Only
// storage errors and verification the rail could not complete are returned.
func (s *PaymentService) HandleWebhook(ctx context.Context, req WebhookRequest) (*WebhookAck, error) {
	rail := strings.TrimSpace(req.GetRail())
	railProvider, err := s.providerReg.Get(rail)
	if err != nil {
		return nil, ErrProviderUnsupported
	}

	payload := req.GetPayload()
	headers := req.GetHeaders()
	record := &entity.PaymentCallback{
		Rail:        rail,
		Signature:   signatureFromHeaders(headers),
		PayloadJSON: string(payload),
	}
	logger := factory.LoggerWithRequestContext(ctx, s.logger).WithField("rail", rail)

	verified, err := railProvider.VerifySignature(ctx, payload, headers)
	if err != nil {
		// unverifiable is not invalid, fail the delivery so the rail resends it
		logger.WithError(err).Warn("webhook signature could not be verified")
		metrics.RecordWebhook(rail, "verification_unavailable")
		return nil, err
	}
	if !verified {
		logger.Warn("webhook signature rejected")
		return s.finishWebhook(ctx, record, entity.CallbackStatusRejected, ErrSignatureInvalid.Error(), webhookResultInvalidSignature)
	}

	event, err := railProvider.ParseCallback(payload)
	if err != nil {
		logger.WithError(err).Warn("webhook payload rejected")
		return s.finishWebhook(ctx, record, entity.CallbackStatusRejected, err.Error(), webhookResultUnparseable)
	}
	record.EventType = event.EventType

	if event.ExternalID == "" || event.Status == "" {
		return s.finishWebhook(ctx, record, entity.CallbackStatusIgnored, "event carries no payment status", webhookResultIgnored)
	}
	externalID := event.ExternalID
	record.ExternalID = &externalID

	correlationID := event.Details[entity.DetailCorrelationID]
	details := cloneDetails(event.Details)
	delete(details, entity.DetailCorrelationID)

	payment, err := s.resolveWebhookPayment(ctx, rail, externalID, correlationID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		logger.WithField("external_id", externalID).Warn("webhook for unknown payment")
		return s.finishWebhook(ctx, record, entity.CallbackStatusIgnored, "no payment for external id", webhookResultUnknownPayment)
	}
	paymentID := payment.ID
	record.PaymentID = &paymentID

	logger = logger.WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"event_type": event.EventType,
	})

	current, err := s.applyRailStatus(ctx, payment.ID, event.Status, details, sourceWebhook)
	if err != nil {
		if !errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		logger.WithError(err).Warn("webhook conflicts with recorded status")
		ack, finishErr := s.finishWebhook(ctx, record, entity.CallbackStatusIgnored, err.Error(), webhookResultIgnored)
		if ack != nil {
			ack.PaymentID = payment.ID
			ack.Status = payment.Status
		}
		return ack, finishErr
	}

	ack, err := s.finishWebhook(ctx, record, entity.CallbackStatusProcessed, "", webhookResultProcessed)
	if ack != nil {
		ack.PaymentID = current.ID
		ack.Status = current.Status
	}
	return ack, err
}

// resolveWebhookPayment finds the payment an event refers to. When the rail
// reference is unknown, the echoed correlation id identifies a payment whose
// initiate response was lost, and the reference is attached to it.
func (s *PaymentService) resolveWebhookPayment(ctx context.Context, rail, externalID, correlationID string) (*entity.Payment, error) {
	payment, err := s.paymentRepo.FindByExternalID(ctx, rail, externalID)
	if err != nil || payment != nil || correlationID == "" {
		return payment, err
	}

	payment, err = s.paymentRepo.FindByCorrelationID(ctx, rail, correlationID)
	if err != nil || payment == nil {
		return nil, err
	}
	if payment.ExternalID != nil {
		if *payment.ExternalID != externalID {
			return nil, nil
		}
		return payment, nil
	}
	if payment.Status != entity.PaymentStatusPending {
		return payment, nil
	}

	if err := s.ledger.AttachExternalID(ctx, payment.ID, externalID); err != nil {
		if !errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		current, err := s.paymentRepo.FindByID(ctx, payment.ID)
		if err != nil || current == nil || current.ExternalID == nil || *current.ExternalID != externalID {
			return nil, err
		}
		return current, nil
	}
	factory.LoggerWithRequestContext(ctx, s.logger).WithFields(logrus.Fields{
		"payment_id":  payment.ID,
		"external_id": externalID,
	}).Info("attached rail reference from correlated webhook")
	payment.ExternalID = &externalID
	return payment, nil
}

func (s *PaymentService) finishWebhook(ctx context.Context, record *entity.PaymentCallback, status int32, note, result string) (*WebhookAck, error) {
	now := s.now()
	record.Status = status
	if note != "" {
		trimmed := currency.Truncate(note, maxDetailLength)
		record.Error = &trimmed
	}
	record.CreatedAt = now
	record.UpdatedAt = now

	metrics.RecordWebhook(record.Rail, result)
	if err := s.callbackRepo.Create(ctx, record); err != nil {
		return nil, err
	}
	return &WebhookAck{Result: result}, nil
}

// signatureFromHeaders picks the signature header for the audit record.
// Rails name it differently, so any header mentioning a signature counts.
func signatureFromHeaders(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for key := range headers {
		upper := strings.ToUpper(key)
		if strings.Contains(upper, "SIGNATURE") || strings.HasSuffix(upper, "-SIG") {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return currency.Truncate(headers.Get(keys[0]), maxSignatureLength)
}
