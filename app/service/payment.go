package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-settlements/app/currency"
	"github.com/vibast-solutions/ms-go-settlements/app/entity"
	"github.com/vibast-solutions/ms-go-settlements/app/factory"
	"github.com/vibast-solutions/ms-go-settlements/app/ledger"
	"github.com/vibast-solutions/ms-go-settlements/app/metrics"
	"github.com/vibast-solutions/ms-go-settlements/app/msisdn"
	"github.com/vibast-solutions/ms-go-settlements/app/provider"
	"github.com/vibast-solutions/ms-go-settlements/app/repository"
	"github.com/vibast-solutions/ms-go-settlements/config"
)

const (
	defaultListLimit = int32(100)
	defaultBatchSize = int32(100)
	maxDetailLength  = 512
)

type InitiateMobileMoneyRequest interface {
	GetPayerId() uint64
	GetIdempotencyKey() string
	GetAmount() string
	GetCurrency() string
	GetPhoneNumber() string
	GetOperatorCode() string
	GetPurpose() string
	GetLicenseId() uint64
}

type InitiateCardOrderRequest interface {
	GetPayerId() uint64
	GetIdempotencyKey() string
	GetAmount() string
	GetCurrency() string
	GetReturnUrl() string
	GetCancelUrl() string
	GetPurpose() string
	GetLicenseId() uint64
}

type ListPaymentsRequest interface {
	GetPayerId() uint64
	GetRail() string
	GetStatus() string
	GetPurpose() string
	GetLimit() int32
	GetOffset() int32
}

type paymentRepository interface {
	ledger.Store
	FindByPayerIdempotencyKey(ctx context.Context, payerID uint64, key string) (*entity.Payment, error)
	FindByExternalID(ctx context.Context, rail, externalID string) (*entity.Payment, error)
	FindByCorrelationID(ctx context.Context, rail, correlationID string) (*entity.Payment, error)
	List(ctx context.Context, filter repository.PaymentFilter) ([]*entity.Payment, error)
	ListForReconcile(ctx context.Context, before time.Time, limit int32) ([]*entity.Payment, error)
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Payment, error)
	ListDueEffects(ctx context.Context, now time.Time, limit int32) ([]*entity.Payment, error)
	ClaimEffects(ctx context.Context, id uint64, now, leaseUntil time.Time) (bool, error)
	CompleteEffects(ctx context.Context, id uint64) error
	RecordEffectsFailure(ctx context.Context, id uint64, nextAt *time.Time, lastErr string) error
}

type paymentEventRepository interface {
	Create(ctx context.Context, event *entity.PaymentEvent) error
}

type paymentCallbackRepository interface {
	Create(ctx context.Context, callback *entity.PaymentCallback) error
}

type licenseRepository interface {
	FindByID(ctx context.Context, id uint64) (*entity.License, error)
	FindForUser(ctx context.Context, userID uint64) (*entity.License, error)
	Renew(ctx context.Context, paymentID, licenseID uint64, window time.Duration, now time.Time) (*entity.LicenseRenewal, bool, error)
}

type confirmationNotifier interface {
	SendPaymentConfirmation(ctx context.Context, payment *entity.Payment) error
}

// PaymentHandle is the result of an initiation. ApprovalURL is set for rails
// that need the payer to approve the payment out of band.
type PaymentHandle struct {
	Payment     *entity.Payment
	ApprovalURL string
}

type PaymentService struct {
	ledger       *ledger.Ledger
	paymentRepo  paymentRepository
	eventRepo    paymentEventRepository
	callbackRepo paymentCallbackRepository
	licenseRepo  licenseRepository
	notifier     confirmationNotifier
	providerReg  *provider.Registry
	converter    *currency.Converter
	paymentsCfg  config.PaymentsConfig
	logger       logrus.FieldLogger
	now          func() time.Time

	effects sync.WaitGroup
}

func NewPaymentService(
	ledger *ledger.Ledger,
	paymentRepo paymentRepository,
	eventRepo paymentEventRepository,
	callbackRepo paymentCallbackRepository,
	licenseRepo licenseRepository,
	notifier confirmationNotifier,
	providerReg *provider.Registry,
	converter *currency.Converter,
	paymentsCfg config.PaymentsConfig,
) *PaymentService {
	return &PaymentService{
		ledger:       ledger,
		paymentRepo:  paymentRepo,
		eventRepo:    eventRepo,
		callbackRepo: callbackRepo,
		licenseRepo:  licenseRepo,
		notifier:     notifier,
		providerReg:  providerReg,
		converter:    converter,
		paymentsCfg:  paymentsCfg,
		logger:       factory.NewModuleLogger("payments-service"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type initiateParams struct {
	payerID        uint64
	idempotencyKey string
	rail           string
	amount         string
	currency       string
	purpose        string
	licenseID      uint64

	payerIdentity string
	operator      string
	returnURL     string
	cancelURL     string
}

func (s *PaymentService) InitiateMobileMoney(ctx context.Context, req InitiateMobileMoneyRequest) (*PaymentHandle, error) {
	return s.initiatePayment(ctx, initiateParams{
		payerID:        req.GetPayerId(),
		idempotencyKey: req.GetIdempotencyKey(),
		rail:           entity.RailMobileMoney,
		amount:         req.GetAmount(),
		currency:       req.GetCurrency(),
		purpose:        req.GetPurpose(),
		licenseID:      req.GetLicenseId(),
		payerIdentity:  req.GetPhoneNumber(),
		operator:       req.GetOperatorCode(),
	})
}

func (s *PaymentService) InitiateCardOrder(ctx context.Context, req InitiateCardOrderRequest) (*PaymentHandle, error) {
	return s.initiatePayment(ctx, initiateParams{
		payerID:        req.GetPayerId(),
		idempotencyKey: req.GetIdempotencyKey(),
		rail:           entity.RailCardOrder,
		amount:         req.GetAmount(),
		currency:       req.GetCurrency(),
		purpose:        req.GetPurpose(),
		licenseID:      req.GetLicenseId(),
		returnURL:      req.GetReturnUrl(),
		cancelURL:      req.GetCancelUrl(),
	})
}

// initiatePayment creates a PENDING payment and submits it to the rail. A
// rejected submission fails the payment; an unavailable rail leaves it
// PENDING for the poll and webhook paths to resolve.
func (s *PaymentService) initiatePayment(ctx context.Context, params initiateParams) (*PaymentHandle, error) {
	idempotencyKey := strings.TrimSpace(params.idempotencyKey)
	if params.payerID == 0 || idempotencyKey == "" {
		return nil, fmt.Errorf("%w: payer and idempotency key are required", ErrInvalidRequest)
	}

	existing, err := s.paymentRepo.FindByPayerIdempotencyKey(ctx, params.payerID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.resumeExisting(ctx, existing), nil
	}

	payment, input, err := s.buildPayment(ctx, params)
	if err != nil {
		return nil, err
	}

	railProvider, err := s.providerReg.Get(params.rail)
	if err != nil {
		return nil, ErrProviderUnsupported
	}

	payment, err = s.ledger.CreatePending(ctx, payment)
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicatePayment) {
			existing, findErr := s.paymentRepo.FindByPayerIdempotencyKey(ctx, params.payerID, idempotencyKey)
			if findErr != nil {
				return nil, findErr
			}
			if existing != nil {
				return s.resumeExisting(ctx, existing), nil
			}
		}
		if errors.Is(err, ledger.ErrInvalidPayment) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return nil, err
	}

	logger := factory.LoggerWithRequestContext(ctx, s.logger).WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"rail":       payment.Rail,
	})

	output, railErr := railProvider.Initiate(ctx, input)
	if railErr != nil {
		return nil, s.recordInitiateFailure(ctx, logger, payment, railErr)
	}

	if err := s.attachSubmission(ctx, payment.ID, output); err != nil {
		return nil, err
	}
	metrics.RecordInitiation(payment.Rail, "accepted")

	current, err := s.applyRailStatus(ctx, payment.ID, output.Status, nil, sourceInitiate)
	if err != nil {
		return nil, err
	}
	return &PaymentHandle{Payment: current, ApprovalURL: output.ApprovalURL}, nil
}

func (s *PaymentService) buildPayment(ctx context.Context, params initiateParams) (*entity.Payment, *provider.InitiateInput, error) {
	purpose := strings.ToLower(strings.TrimSpace(params.purpose))
	if purpose != entity.PurposeLicenseRenewal && purpose != entity.PurposeServiceFee {
		return nil, nil, fmt.Errorf("%w: unsupported purpose %q", ErrInvalidRequest, params.purpose)
	}

	code := strings.ToUpper(strings.TrimSpace(params.currency))
	amount, err := currency.Parse(params.amount, code)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !amount.IsPositive() {
		return nil, nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	correlationID := uuid.NewString()
	details := map[string]string{entity.DetailCorrelationID: correlationID}
	input := &provider.InitiateInput{
		CorrelationID: correlationID,
		Description:   s.paymentsCfg.Description,
	}

	switch params.rail {
	case entity.RailMobileMoney:
		if code != s.converter.Home {
			return nil, nil, fmt.Errorf("%w: mobile money collects in %s", ErrInvalidRequest, s.converter.Home)
		}
		phone, err := msisdn.Normalize(params.payerIdentity)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		operator := msisdn.DetectOperator(phone)
		if operator == msisdn.OperatorUndetected {
			return nil, nil, fmt.Errorf("%w: operator not detected for phone number", ErrInvalidRequest)
		}
		if requested := strings.ToUpper(strings.TrimSpace(params.operator)); requested != "" {
			if !msisdn.IsKnownOperator(requested) {
				return nil, nil, fmt.Errorf("%w: unknown operator %s", ErrInvalidRequest, requested)
			}
			if requested != operator {
				return nil, nil, fmt.Errorf("%w: operator %s does not match phone number", ErrInvalidRequest, requested)
			}
		}
		details[entity.DetailPhoneNumber] = phone
		details[entity.DetailOperator] = operator
		input.PayerIdentity = phone
		input.Operator = operator
	case entity.RailCardOrder:
		input.ReturnURL = strings.TrimSpace(params.returnURL)
		input.CancelURL = strings.TrimSpace(params.cancelURL)
		if input.ReturnURL == "" || input.CancelURL == "" {
			return nil, nil, fmt.Errorf("%w: return_url and cancel_url are required", ErrInvalidRequest)
		}
		details[entity.DetailReturnURL] = input.ReturnURL
		details[entity.DetailCancelURL] = input.CancelURL
		converted, err := s.converter.Convert(amount, code)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: card orders accept %s or %s", ErrInvalidRequest, s.converter.Home, s.converter.Settlement)
		}
		if code != s.converter.Settlement {
			details[entity.DetailOriginalAmount] = currency.Format(amount, code)
			details[entity.DetailOriginalCurrency] = code
			amount = converted
			code = s.converter.Settlement
		}
	default:
		return nil, nil, ErrProviderUnsupported
	}

	licenseID, err := s.resolveLicense(ctx, params.payerID, purpose, params.licenseID)
	if err != nil {
		return nil, nil, err
	}

	input.Amount = amount
	input.Currency = code

	return &entity.Payment{
		PayerID:        params.payerID,
		LicenseID:      licenseID,
		IdempotencyKey: strings.TrimSpace(params.idempotencyKey),
		Amount:         amount,
		Currency:       code,
		Purpose:        purpose,
		Rail:           params.rail,
		Details:        details,
	}, input, nil
}

// resolveLicense returns the license a renewal applies to: the explicit one
// when it belongs to the payer, otherwise the payer's own license.
func (s *PaymentService) resolveLicense(ctx context.Context, payerID uint64, purpose string, requested uint64) (*uint64, error) {
	if purpose != entity.PurposeLicenseRenewal {
		return nil, nil
	}

	var license *entity.License
	var err error
	if requested > 0 {
		license, err = s.licenseRepo.FindByID(ctx, requested)
	} else {
		license, err = s.licenseRepo.FindForUser(ctx, payerID)
	}
	if err != nil {
		return nil, err
	}
	if license == nil || license.UserID != payerID {
		return nil, ErrLicenseNotFound
	}

	id := license.ID
	return &id, nil
}

func (s *PaymentService) recordInitiateFailure(ctx context.Context, logger logrus.FieldLogger, payment *entity.Payment, railErr error) error {
	note := currency.Truncate(railErr.Error(), maxDetailLength)

	if errors.Is(railErr, provider.ErrRailRejected) {
		metrics.RecordInitiation(payment.Rail, "rejected")
		logger.WithError(railErr).Info("rail rejected payment")
		if err := s.ledger.MergeDetails(ctx, payment.ID, map[string]string{entity.DetailRailError: note}); err != nil {
			return err
		}
		if _, err := s.ledger.MarkFailed(ctx, payment.ID, note); err != nil {
			return err
		}
		return railErr
	}

	metrics.RecordInitiation(payment.Rail, "unavailable")
	logger.WithError(railErr).Warn("rail unavailable, payment left pending")
	if err := s.ledger.MergeDetails(ctx, payment.ID, map[string]string{entity.DetailRailError: note}); err != nil {
		return err
	}
	if errors.Is(railErr, provider.ErrRailUnavailable) {
		return railErr
	}
	return fmt.Errorf("%w: %v", ErrRailUnavailable, railErr)
}

func (s *PaymentService) GetPayment(ctx context.Context, id uint64) (*entity.Payment, error) {
	payment, err := s.paymentRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

func (s *PaymentService) ListPayments(ctx context.Context, req ListPaymentsRequest) ([]*entity.Payment, error) {
	limit := req.GetLimit()
	if limit <= 0 {
		limit = defaultListLimit
	}

	filter := repository.PaymentFilter{
		PayerID: req.GetPayerId(),
		Rail:    strings.TrimSpace(req.GetRail()),
		Status:  strings.ToUpper(strings.TrimSpace(req.GetStatus())),
		Purpose: strings.TrimSpace(req.GetPurpose()),
		Limit:   limit,
		Offset:  req.GetOffset(),
	}

	return s.paymentRepo.List(ctx, filter)
}

func (s *PaymentService) loadOwned(ctx context.Context, paymentID, requesterID uint64) (*entity.Payment, error) {
	payment, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.PayerID != requesterID {
		return nil, ErrForbidden
	}
	return payment, nil
}

func (s *PaymentService) batchSize() int32 {
	if s.paymentsCfg.JobBatchSize > 0 {
		return s.paymentsCfg.JobBatchSize
	}
	return defaultBatchSize
}

func handleFor(payment *entity.Payment) *PaymentHandle {
	return &PaymentHandle{Payment: payment, ApprovalURL: payment.Detail(entity.DetailApproveURL)}
}

func cloneDetails(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func parseOptionalAmount(raw, code string) (*decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	amount, err := currency.Parse(raw, code)
	if err != nil {
		return nil, err
	}
	return &amount, nil
}
