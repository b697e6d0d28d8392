package types

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestNewInitiateMobileMoneyRequestFromContextNormalizes(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/payments/mobile-money", bytes.NewBufferString(`{"amount":" 5000 ","currency":"xaf","phone_number":" 677123456 ","operator_code":"mtn","purpose":"License_Renewal"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(HeaderIdempotencyKey, " key-1 ")
	ctx := e.NewContext(req, httptest.NewRecorder())

	parsed, err := NewInitiateMobileMoneyRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetIdempotencyKey() != "key-1" {
		t.Fatalf("expected header idempotency key, got %q", parsed.GetIdempotencyKey())
	}
	if parsed.GetCurrency() != "XAF" || parsed.GetOperatorCode() != "MTN" || parsed.GetPurpose() != "license_renewal" {
		t.Fatalf("unexpected normalization: %+v", parsed)
	}
	if parsed.GetAmount() != "5000" || parsed.GetPhoneNumber() != "677123456" {
		t.Fatalf("unexpected trimmed fields: %+v", parsed)
	}

	if err := parsed.Validate(); err == nil {
		t.Fatal("expected payer validation error")
	}
	parsed.PayerId = 7
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestNewInitiateCardOrderRequestFromContextFallsBackToRequestID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/payments/card-order", bytes.NewBufferString(`{"amount":"10.00","currency":"eur","return_url":"https://a/r","cancel_url":"https://a/c","purpose":"service_fee"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderXRequestID, "req-from-header")
	ctx := e.NewContext(req, httptest.NewRecorder())

	parsed, err := NewInitiateCardOrderRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetIdempotencyKey() != "req-from-header" {
		t.Fatalf("expected request id as idempotency key, got %q", parsed.GetIdempotencyKey())
	}
	if parsed.GetCurrency() != "EUR" {
		t.Fatalf("expected upper-cased currency, got %q", parsed.GetCurrency())
	}
}

func TestInitiateMobileMoneyValidate(t *testing.T) {
	base := InitiateMobileMoneyRequest{
		PayerId:        1,
		IdempotencyKey: "key-1",
		Amount:         "5000",
		Currency:       "XAF",
		PhoneNumber:    "677123456",
		Purpose:        "service_fee",
	}

	cases := map[string]func(r *InitiateMobileMoneyRequest){
		"missing idempotency key": func(r *InitiateMobileMoneyRequest) { r.IdempotencyKey = "" },
		"missing amount":          func(r *InitiateMobileMoneyRequest) { r.Amount = "" },
		"bad currency":            func(r *InitiateMobileMoneyRequest) { r.Currency = "XA" },
		"missing phone":           func(r *InitiateMobileMoneyRequest) { r.PhoneNumber = "" },
		"unknown purpose":         func(r *InitiateMobileMoneyRequest) { r.Purpose = "donation" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := base
			mutate(&req)
			if err := req.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestInitiateCardOrderValidateRequiresRedirects(t *testing.T) {
	req := &InitiateCardOrderRequest{
		PayerId:        1,
		IdempotencyKey: "key-1",
		Amount:         "10.00",
		Currency:       "EUR",
		Purpose:        "service_fee",
	}
	if err := req.Validate(); err == nil {
		t.Fatal("expected return_url validation error")
	}

	req.ReturnUrl = "https://app.example.com/return"
	req.CancelUrl = "https://app.example.com/cancel"
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestNewListPaymentsRequestFromContextAndValidate(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("GET", "/payments?status=completed&rail=MOBILE_MONEY&payer_id=9&limit=20&offset=3", nil)
	ctx := e.NewContext(req, httptest.NewRecorder())

	parsed, err := NewListPaymentsRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetStatus() != "COMPLETED" || parsed.GetRail() != "mobile_money" || parsed.GetPayerId() != 9 {
		t.Fatalf("unexpected parse: %+v", parsed)
	}
	if parsed.GetLimit() != 20 || parsed.GetOffset() != 3 {
		t.Fatalf("unexpected paging: %+v", parsed)
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid list request, got %v", err)
	}
}

func TestListPaymentsValidateRejectsUnknownFilters(t *testing.T) {
	if err := (&ListPaymentsRequest{Status: "PAID"}).Validate(); err == nil {
		t.Fatal("expected status validation error")
	}
	if err := (&ListPaymentsRequest{Rail: "cash"}).Validate(); err == nil {
		t.Fatal("expected rail validation error")
	}
	if err := (&ListPaymentsRequest{Limit: 501}).Validate(); err == nil {
		t.Fatal("expected limit validation error")
	}

	req := &ListPaymentsRequest{}
	if err := req.Validate(); err != nil {
		t.Fatalf("expected default limit to validate, got %v", err)
	}
	if req.GetLimit() != 100 {
		t.Fatalf("expected default limit 100, got %d", req.GetLimit())
	}
}

func TestNewWebhookRequestFromContextKeepsRawBody(t *testing.T) {
	e := echo.New()
	raw := `{"status":"SUCCESSFUL",  "reference":"ref-1"}`
	req := httptest.NewRequest("POST", "/webhooks/mobile-money", bytes.NewBufferString(raw))
	req.Header.Set("X-Signature", "sha256=abc")
	ctx := e.NewContext(req, httptest.NewRecorder())

	parsed, err := NewWebhookRequestFromContext(ctx, "mobile_money")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if string(parsed.GetPayload()) != raw {
		t.Fatalf("expected raw payload to be preserved, got %q", parsed.GetPayload())
	}
	if parsed.GetHeaders().Get("X-Signature") != "sha256=abc" {
		t.Fatalf("expected signature header to be kept")
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid webhook request, got %v", err)
	}

	if err := (&WebhookRequest{Rail: "mobile_money"}).Validate(); err == nil {
		t.Fatal("expected empty payload to be rejected")
	}
}

func TestNewRefundPaymentRequestFromContextAllowsEmptyBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/admin/payments/5/refund", nil)
	ctx := e.NewContext(req, httptest.NewRecorder())
	ctx.SetParamNames("id")
	ctx.SetParamValues("5")

	parsed, err := NewRefundPaymentRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetId() != 5 {
		t.Fatalf("expected id 5, got %d", parsed.GetId())
	}
	if err := parsed.Validate(); err == nil {
		t.Fatal("expected reason validation error")
	}
}

func TestNewDetectOperatorRequestFromQuery(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("GET", "/payments/operators/detect?phone=%2B237677123456", nil)
	ctx := e.NewContext(req, httptest.NewRecorder())

	parsed, err := NewDetectOperatorRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetPhoneNumber() != "+237677123456" {
		t.Fatalf("unexpected phone number %q", parsed.GetPhoneNumber())
	}
}
