package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusRefunded  = "REFUNDED"
)

const (
	RailMobileMoney = "mobile_money"
	RailCardOrder   = "card_order"
)

const (
	PurposeLicenseRenewal = "license_renewal"
	PurposeServiceFee     = "service_fee"
)

const (
	EffectsNone       int32 = 0
	EffectsPending    int32 = 1
	EffectsProcessing int32 = 2
	EffectsSuccess    int32 = 10
	EffectsFailed     int32 = 20
)

// Details keys written by the orchestrator and the rail adapters.
const (
	DetailPhoneNumber      = "phone_number"
	DetailOperator         = "operator"
	DetailCorrelationID    = "correlation_id"
	DetailApproveURL       = "approve_url"
	DetailCaptureID        = "capture_id"
	DetailFailureReason    = "failure_reason"
	DetailRailError        = "rail_error"
	DetailOriginalAmount   = "original_amount"
	DetailOriginalCurrency = "original_currency"
	DetailRefundID         = "refund_id"
	DetailRefundReason     = "refund_reason"
	DetailRefundMode       = "refund_mode"
	DetailCompletedVia     = "completed_via"
	DetailReturnURL        = "return_url"
	DetailCancelURL        = "cancel_url"
)

type Payment struct {
	ID uint64

	PayerID        uint64
	LicenseID      *uint64
	IdempotencyKey string

	Amount   decimal.Decimal
	Currency string
	Purpose  string
	Rail     string
	Status   string

	ExternalID *string

	Details map[string]string

	EffectsStatus   int32
	EffectsAttempts int32
	EffectsNextAt   *time.Time
	EffectsLastErr  *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *Payment) Detail(key string) string {
	if p == nil || p.Details == nil {
		return ""
	}
	return p.Details[key]
}

func IsTerminalStatus(status string) bool {
	switch status {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}
