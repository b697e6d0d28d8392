package types

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vibast-solutions/ms-go-settlements/app/entity"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"

	maxListLimit = 500
)

func NewInitiateMobileMoneyRequestFromContext(ctx echo.Context) (*InitiateMobileMoneyRequest, error) {
	var body InitiateMobileMoneyRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.IdempotencyKey = idempotencyKeyFromContext(ctx)
	body.Amount = strings.TrimSpace(body.Amount)
	body.Currency = strings.ToUpper(strings.TrimSpace(body.Currency))
	body.PhoneNumber = strings.TrimSpace(body.PhoneNumber)
	body.OperatorCode = strings.ToUpper(strings.TrimSpace(body.OperatorCode))
	body.Purpose = strings.ToLower(strings.TrimSpace(body.Purpose))

	return &body, nil
}

func (r *InitiateMobileMoneyRequest) Validate() error {
	if r.GetPayerId() == 0 {
		return errors.New("payer is required")
	}
	if err := validateIdempotencyKey(r.GetIdempotencyKey()); err != nil {
		return err
	}
	if err := validateAmount(r.GetAmount(), r.GetCurrency()); err != nil {
		return err
	}
	if strings.TrimSpace(r.GetPhoneNumber()) == "" {
		return errors.New("phone_number is required")
	}
	return validatePurpose(r.GetPurpose())
}

func NewInitiateCardOrderRequestFromContext(ctx echo.Context) (*InitiateCardOrderRequest, error) {
	var body InitiateCardOrderRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.IdempotencyKey = idempotencyKeyFromContext(ctx)
	body.Amount = strings.TrimSpace(body.Amount)
	body.Currency = strings.ToUpper(strings.TrimSpace(body.Currency))
	body.ReturnUrl = strings.TrimSpace(body.ReturnUrl)
	body.CancelUrl = strings.TrimSpace(body.CancelUrl)
	body.Purpose = strings.ToLower(strings.TrimSpace(body.Purpose))

	return &body, nil
}

func (r *InitiateCardOrderRequest) Validate() error {
	if r.GetPayerId() == 0 {
		return errors.New("payer is required")
	}
	if err := validateIdempotencyKey(r.GetIdempotencyKey()); err != nil {
		return err
	}
	if err := validateAmount(r.GetAmount(), r.GetCurrency()); err != nil {
		return err
	}
	if r.GetReturnUrl() == "" {
		return errors.New("return_url is required")
	}
	if r.GetCancelUrl() == "" {
		return errors.New("cancel_url is required")
	}
	return validatePurpose(r.GetPurpose())
}

func NewPaymentActionRequestFromContext(ctx echo.Context) (*PaymentActionRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &PaymentActionRequest{Id: id}, nil
}

func (r *PaymentActionRequest) Validate() error {
	if r.GetId() == 0 {
		return errors.New("invalid payment id")
	}
	if r.GetRequesterId() == 0 {
		return errors.New("requester is required")
	}
	return nil
}

func NewGetPaymentRequestFromContext(ctx echo.Context) (*GetPaymentRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &GetPaymentRequest{Id: id}, nil
}

func (r *GetPaymentRequest) Validate() error {
	if r.GetId() == 0 {
		return errors.New("invalid payment id")
	}
	return nil
}

func NewRefundPaymentRequestFromContext(ctx echo.Context) (*RefundPaymentRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}

	var body RefundPaymentRequest
	if err = ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.Id = id
	body.Reason = strings.TrimSpace(body.Reason)
	body.Amount = strings.TrimSpace(body.Amount)

	return &body, nil
}

func (r *RefundPaymentRequest) Validate() error {
	if r.GetId() == 0 {
		return errors.New("invalid payment id")
	}
	if r.GetReason() == "" {
		return errors.New("reason is required")
	}
	return nil
}

func NewListPaymentsRequestFromContext(ctx echo.Context) (*ListPaymentsRequest, error) {
	req := &ListPaymentsRequest{
		Rail:    strings.ToLower(strings.TrimSpace(ctx.QueryParam("rail"))),
		Status:  strings.ToUpper(strings.TrimSpace(ctx.QueryParam("status"))),
		Purpose: strings.ToLower(strings.TrimSpace(ctx.QueryParam("purpose"))),
		Limit:   100,
		Offset:  0,
	}

	if payerRaw := strings.TrimSpace(ctx.QueryParam("payer_id")); payerRaw != "" {
		payerID, err := strconv.ParseUint(payerRaw, 10, 64)
		if err != nil {
			return nil, err
		}
		req.PayerId = payerID
	}

	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.ParseInt(limitRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Limit = int32(limit)
	}

	if offsetRaw := strings.TrimSpace(ctx.QueryParam("offset")); offsetRaw != "" {
		offset, err := strconv.ParseInt(offsetRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Offset = int32(offset)
	}

	return req, nil
}

func (r *ListPaymentsRequest) Validate() error {
	if r.Limit == 0 {
		r.Limit = 100
	}
	if r.GetLimit() <= 0 || r.GetLimit() > maxListLimit {
		return errors.New("limit must be between 1 and 500")
	}
	if r.GetOffset() < 0 {
		return errors.New("offset must be >= 0")
	}
	if r.GetStatus() != "" && !isValidPaymentStatus(r.GetStatus()) {
		return errors.New("invalid status")
	}
	if r.GetRail() != "" && !isValidRail(r.GetRail()) {
		return errors.New("invalid rail")
	}
	if r.GetPurpose() != "" {
		if err := validatePurpose(r.GetPurpose()); err != nil {
			return err
		}
	}
	return nil
}

// NewWebhookRequestFromContext reads the raw notification body. The rail
// comes from the route, never from the payload.
func NewWebhookRequestFromContext(ctx echo.Context, rail string) (*WebhookRequest, error) {
	rawBody, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}

	return &WebhookRequest{
		Rail:    rail,
		Payload: rawBody,
		Headers: ctx.Request().Header.Clone(),
	}, nil
}

func (r *WebhookRequest) Validate() error {
	if !isValidRail(r.GetRail()) {
		return errors.New("invalid rail")
	}
	if len(r.GetPayload()) == 0 {
		return errors.New("payload is required")
	}
	return nil
}

func NewDetectOperatorRequestFromContext(ctx echo.Context) (*DetectOperatorRequest, error) {
	phone := strings.TrimSpace(ctx.QueryParam("phone"))
	if phone == "" {
		phone = strings.TrimSpace(ctx.QueryParam("phone_number"))
	}
	if phone == "" && ctx.Request().Method != http.MethodGet {
		var body DetectOperatorRequest
		if err := ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		phone = strings.TrimSpace(body.PhoneNumber)
	}
	return &DetectOperatorRequest{PhoneNumber: phone}, nil
}

func (r *DetectOperatorRequest) Validate() error {
	if r.GetPhoneNumber() == "" {
		return errors.New("phone_number is required")
	}
	return nil
}

// idempotencyKeyFromContext prefers the Idempotency-Key header and falls back
// to the client supplied X-Request-ID.
func idempotencyKeyFromContext(ctx echo.Context) string {
	key := strings.TrimSpace(ctx.Request().Header.Get(HeaderIdempotencyKey))
	if key == "" {
		key = strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
	}
	return key
}

func validateIdempotencyKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("Idempotency-Key or X-Request-ID header is required")
	}
	if len(key) > 128 {
		return errors.New("Idempotency-Key must be at most 128 characters")
	}
	return nil
}

func validateAmount(amount, currency string) error {
	if strings.TrimSpace(amount) == "" {
		return errors.New("amount is required")
	}
	if len(strings.TrimSpace(currency)) != 3 {
		return errors.New("currency must be 3 letters")
	}
	return nil
}

func validatePurpose(purpose string) error {
	switch purpose {
	case entity.PurposeLicenseRenewal, entity.PurposeServiceFee:
		return nil
	default:
		return errors.New("purpose must be license_renewal or service_fee")
	}
}

func isValidRail(rail string) bool {
	switch rail {
	case entity.RailMobileMoney, entity.RailCardOrder:
		return true
	default:
		return false
	}
}

func isValidPaymentStatus(status string) bool {
	switch status {
	case entity.PaymentStatusPending, entity.PaymentStatusCompleted, entity.PaymentStatusFailed, entity.PaymentStatusRefunded:
		return true
	default:
		return false
	}
}
