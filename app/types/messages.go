package types

import "net/http"

type InitiateMobileMoneyRequest struct {
	PayerId        uint64 `json:"-"`
	IdempotencyKey string `json:"-"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	PhoneNumber    string `json:"phone_number"`
	OperatorCode   string `json:"operator_code,omitempty"`
	Purpose        string `json:"purpose"`
	LicenseId      uint64 `json:"license_id,omitempty"`
}

func (r *InitiateMobileMoneyRequest) GetPayerId() uint64 {
	if r == nil {
		return 0
	}
	return r.PayerId
}

func (r *InitiateMobileMoneyRequest) GetIdempotencyKey() string {
	if r == nil {
		return ""
	}
	return r.IdempotencyKey
}

func (r *InitiateMobileMoneyRequest) GetAmount() string {
	if r == nil {
		return ""
	}
	return r.Amount
}

func (r *InitiateMobileMoneyRequest) GetCurrency() string {
	if r == nil {
		return ""
	}
	return r.Currency
}

func (r *InitiateMobileMoneyRequest) GetPhoneNumber() string {
	if r == nil {
		return ""
	}
	return r.PhoneNumber
}

func (r *InitiateMobileMoneyRequest) GetOperatorCode() string {
	if r == nil {
		return ""
	}
	return r.OperatorCode
}

func (r *InitiateMobileMoneyRequest) GetPurpose() string {
	if r == nil {
		return ""
	}
	return r.Purpose
}

func (r *InitiateMobileMoneyRequest) GetLicenseId() uint64 {
	if r == nil {
		return 0
	}
	return r.LicenseId
}

type InitiateCardOrderRequest struct {
	PayerId        uint64 `json:"-"`
	IdempotencyKey string `json:"-"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	ReturnUrl      string `json:"return_url"`
	CancelUrl      string `json:"cancel_url"`
	Purpose        string `json:"purpose"`
	LicenseId      uint64 `json:"license_id,omitempty"`
}

func (r *InitiateCardOrderRequest) GetPayerId() uint64 {
	if r == nil {
		return 0
	}
	return r.PayerId
}

func (r *InitiateCardOrderRequest) GetIdempotencyKey() string {
	if r == nil {
		return ""
	}
	return r.IdempotencyKey
}

func (r *InitiateCardOrderRequest) GetAmount() string {
	if r == nil {
		return ""
	}
	return r.Amount
}

func (r *InitiateCardOrderRequest) GetCurrency() string {
	if r == nil {
		return ""
	}
	return r.Currency
}

func (r *InitiateCardOrderRequest) GetReturnUrl() string {
	if r == nil {
		return ""
	}
	return r.ReturnUrl
}

func (r *InitiateCardOrderRequest) GetCancelUrl() string {
	if r == nil {
		return ""
	}
	return r.CancelUrl
}

func (r *InitiateCardOrderRequest) GetPurpose() string {
	if r == nil {
		return ""
	}
	return r.Purpose
}

func (r *InitiateCardOrderRequest) GetLicenseId() uint64 {
	if r == nil {
		return 0
	}
	return r.LicenseId
}

// PaymentActionRequest addresses one payment on behalf of its payer, for
// status checks and card capture.
type PaymentActionRequest struct {
	Id          uint64 `json:"-"`
	RequesterId uint64 `json:"-"`
}

func (r *PaymentActionRequest) GetId() uint64 {
	if r == nil {
		return 0
	}
	return r.Id
}

func (r *PaymentActionRequest) GetRequesterId() uint64 {
	if r == nil {
		return 0
	}
	return r.RequesterId
}

type GetPaymentRequest struct {
	Id uint64 `json:"id"`
}

func (r *GetPaymentRequest) GetId() uint64 {
	if r == nil {
		return 0
	}
	return r.Id
}

type RefundPaymentRequest struct {
	Id     uint64 `json:"-"`
	Reason string `json:"reason"`
	Amount string `json:"amount,omitempty"`
}

func (r *RefundPaymentRequest) GetId() uint64 {
	if r == nil {
		return 0
	}
	return r.Id
}

func (r *RefundPaymentRequest) GetReason() string {
	if r == nil {
		return ""
	}
	return r.Reason
}

func (r *RefundPaymentRequest) GetAmount() string {
	if r == nil {
		return ""
	}
	return r.Amount
}

type ListPaymentsRequest struct {
	PayerId uint64 `json:"payer_id,omitempty"`
	Rail    string `json:"rail,omitempty"`
	Status  string `json:"status,omitempty"`
	Purpose string `json:"purpose,omitempty"`
	Limit   int32  `json:"limit"`
	Offset  int32  `json:"offset"`
}

func (r *ListPaymentsRequest) GetPayerId() uint64 {
	if r == nil {
		return 0
	}
	return r.PayerId
}

func (r *ListPaymentsRequest) GetRail() string {
	if r == nil {
		return ""
	}
	return r.Rail
}

func (r *ListPaymentsRequest) GetStatus() string {
	if r == nil {
		return ""
	}
	return r.Status
}

func (r *ListPaymentsRequest) GetPurpose() string {
	if r == nil {
		return ""
	}
	return r.Purpose
}

func (r *ListPaymentsRequest) GetLimit() int32 {
	if r == nil {
		return 0
	}
	return r.Limit
}

func (r *ListPaymentsRequest) GetOffset() int32 {
	if r == nil {
		return 0
	}
	return r.Offset
}

// WebhookRequest carries a rail notification exactly as received. The raw
// payload is kept because signatures are computed over the exact bytes.
type WebhookRequest struct {
	Rail    string
	Payload []byte
	Headers http.Header
}

func (r *WebhookRequest) GetRail() string {
	if r == nil {
		return ""
	}
	return r.Rail
}

func (r *WebhookRequest) GetPayload() []byte {
	if r == nil {
		return nil
	}
	return r.Payload
}

func (r *WebhookRequest) GetHeaders() http.Header {
	if r == nil {
		return nil
	}
	return r.Headers
}

type DetectOperatorRequest struct {
	PhoneNumber string `json:"phone_number"`
}

func (r *DetectOperatorRequest) GetPhoneNumber() string {
	if r == nil {
		return ""
	}
	return r.PhoneNumber
}

type Payment struct {
	Id          uint64            `json:"id"`
	PayerId     uint64            `json:"payer_id"`
	LicenseId   uint64            `json:"license_id,omitempty"`
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	Purpose     string            `json:"purpose"`
	Rail        string            `json:"rail"`
	Status      string            `json:"status"`
	ExternalId  string            `json:"external_id,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
	ApprovalUrl string            `json:"approval_url,omitempty"`
}

type PaymentEnvelopeResponse struct {
	Payment *Payment `json:"payment"`
}

type ListPaymentsResponse struct {
	Payments []*Payment `json:"payments"`
	Limit    int32      `json:"limit"`
	Offset   int32      `json:"offset"`
}

type RefundPaymentResponse struct {
	Payment  *Payment `json:"payment"`
	RefundId string   `json:"refund_id,omitempty"`
	Mode     string   `json:"mode"`
}

type WebhookAckResponse struct {
	Message   string `json:"message"`
	Result    string `json:"result"`
	PaymentId uint64 `json:"payment_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

type DetectOperatorResponse struct {
	PhoneNumber string `json:"phone_number"`
	Operator    string `json:"operator"`
	Detected    bool   `json:"detected"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
