package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-settlements/app/currency"
	"github.com/vibast-solutions/ms-go-settlements/app/entity"
	"github.com/vibast-solutions/ms-go-settlements/app/metrics"
)

const (
	defaultPayPalBaseURL      = "https://api-m.sandbox.paypal.com"
	payPalDescriptionLimit    = 127
	payPalVerificationSuccess = "SUCCESS"
)

type PayPalConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	WebhookID    string
	BrandName    string
	HTTPTimeout  time.Duration
}

type PayPalProvider struct {
	cfg    PayPalConfig
	client *http.Client
	tokens *TokenCache
}

func NewPayPalProvider(cfg PayPalConfig) *PayPalProvider {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultRailHTTPTimeout
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultPayPalBaseURL
	}

	return &PayPalProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		tokens: NewTokenCache(defaultTokenSafetyMargin),
	}
}

func (p *PayPalProvider) Rail() string {
	return entity.RailCardOrder
}

type payPalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type payPalCapture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type payPalOrder struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []payPalLink `json:"links"`
	PurchaseUnits []struct {
		CustomID string `json:"custom_id"`
		Payments struct {
			Captures []payPalCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (p *PayPalProvider) Initiate(ctx context.Context, input *InitiateInput) (*InitiateOutput, error) {
	return p.createOrder(ctx, input, "create_order")
}

// Recover replays order creation with the original PayPal-Request-Id. PayPal
// answers a repeated request id with the order it already created, so a
// create whose response was lost yields its order id here.
func (p *PayPalProvider) Recover(ctx context.Context, input *InitiateInput) (*InitiateOutput, error) {
	if strings.TrimSpace(input.CorrelationID) == "" {
		return nil, rejected("correlation id is required to recover an order")
	}
	return p.createOrder(ctx, input, "recover_order")
}

func (p *PayPalProvider) createOrder(ctx context.Context, input *InitiateInput, operation string) (*InitiateOutput, error) {
	returnURL := strings.TrimSpace(input.ReturnURL)
	cancelURL := strings.TrimSpace(input.CancelURL)
	if returnURL == "" || cancelURL == "" {
		return nil, rejected("return and cancel urls are required")
	}

	request := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{{
			"reference_id": input.CorrelationID,
			"custom_id":    input.CorrelationID,
			"description":  currency.Truncate(strings.TrimSpace(input.Description), payPalDescriptionLimit),
			"amount": map[string]string{
				"currency_code": strings.ToUpper(input.Currency),
				"value":         currency.Format(input.Amount, input.Currency),
			},
		}},
		"application_context": map[string]string{
			"return_url":          returnURL,
			"cancel_url":          cancelURL,
			"brand_name":          p.cfg.BrandName,
			"user_action":         "PAY_NOW",
			"shipping_preference": "NO_SHIPPING",
		},
	}

	respBody, err := p.authorized(ctx, func(token string) ([]byte, error) {
		body, err := jsonBody(request)
		if err != nil {
			return nil, err
		}
		return do(ctx, p.client, railRequest{
			rail:      p.Rail(),
			operation: operation,
			method:    http.MethodPost,
			url:       joinURL(p.cfg.BaseURL, "/v2/checkout/orders"),
			headers:   p.headers(token, input.CorrelationID),
			body:      body,
		})
	})
	if err != nil {
		return nil, err
	}

	var order payPalOrder
	if err := json.Unmarshal(respBody, &order); err != nil {
		return nil, unavailable(err)
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return nil, unavailable(errors.New("create order response has no id"))
	}

	status, details := mapPayPalOrder(&order)
	output := &InitiateOutput{ExternalID: orderID, Status: status, Details: details}
	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			output.ApprovalURL = strings.TrimSpace(link.Href)
			output.Details[entity.DetailApproveURL] = output.ApprovalURL
			break
		}
	}
	return output, nil
}

// Capture settles an approved order. An order that was already captured is
// resolved by reading its current state.
func (p *PayPalProvider) Capture(ctx context.Context, externalID string) (*CaptureResult, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, rejected("empty order id")
	}

	respBody, err := p.authorized(ctx, func(token string) ([]byte, error) {
		return do(ctx, p.client, railRequest{
			rail:      p.Rail(),
			operation: "capture_order",
			method:    http.MethodPost,
			url:       joinURL(p.cfg.BaseURL, "/v2/checkout/orders/"+url.PathEscape(externalID)+"/capture"),
			headers:   p.headers(token, "capture-"+externalID),
			body:      strings.NewReader("{}"),
		})
	})
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && strings.Contains(statusErr.Body, "ORDER_ALREADY_CAPTURED") {
			current, queryErr := p.QueryStatus(ctx, externalID)
			if queryErr != nil {
				return nil, queryErr
			}
			return &CaptureResult{Status: current.Status, Details: current.Details}, nil
		}
		return nil, err
	}

	var order payPalOrder
	if err := json.Unmarshal(respBody, &order); err != nil {
		return nil, unavailable(err)
	}
	status, details := mapPayPalOrder(&order)
	return &CaptureResult{Status: status, Details: details}, nil
}

func (p *PayPalProvider) QueryStatus(ctx context.Context, externalID string) (*StatusResult, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, rejected("empty order id")
	}

	respBody, err := p.authorized(ctx, func(token string) ([]byte, error) {
		return do(ctx, p.client, railRequest{
			rail:      p.Rail(),
			operation: "get_order",
			method:    http.MethodGet,
			url:       joinURL(p.cfg.BaseURL, "/v2/checkout/orders/"+url.PathEscape(externalID)),
			headers:   p.headers(token, ""),
		})
	})
	if err != nil {
		return nil, err
	}

	var order payPalOrder
	if err := json.Unmarshal(respBody, &order); err != nil {
		return nil, unavailable(err)
	}
	status, details := mapPayPalOrder(&order)
	return &StatusResult{Status: status, Details: details}, nil
}

// VerifySignature asks the rail to verify the transmission. A negative or
// refused verdict is an invalid signature; an unreachable verification
// endpoint is reported as an error so the event is redelivered.
func (p *PayPalProvider) VerifySignature(ctx context.Context, payload []byte, headers http.Header) (bool, error) {
	if strings.TrimSpace(p.cfg.WebhookID) == "" || !json.Valid(payload) {
		return false, nil
	}

	request := map[string]interface{}{
		"auth_algo":         headerValue(headers, "PAYPAL-AUTH-ALGO"),
		"cert_url":          headerValue(headers, "PAYPAL-CERT-URL"),
		"transmission_id":   headerValue(headers, "PAYPAL-TRANSMISSION-ID"),
		"transmission_sig":  headerValue(headers, "PAYPAL-TRANSMISSION-SIG"),
		"transmission_time": headerValue(headers, "PAYPAL-TRANSMISSION-TIME"),
		"webhook_id":        p.cfg.WebhookID,
		"webhook_event":     json.RawMessage(payload),
	}
	for _, key := range []string{"auth_algo", "cert_url", "transmission_id", "transmission_sig", "transmission_time"} {
		if request[key] == "" {
			return false, nil
		}
	}

	respBody, err := p.authorized(ctx, func(token string) ([]byte, error) {
		body, err := jsonBody(request)
		if err != nil {
			return nil, err
		}
		return do(ctx, p.client, railRequest{
			rail:      p.Rail(),
			operation: "verify_webhook_signature",
			method:    http.MethodPost,
			url:       joinURL(p.cfg.BaseURL, "/v1/notifications/verify-webhook-signature"),
			headers:   p.headers(token, ""),
			body:      body,
		})
	})
	if err != nil {
		if errors.Is(err, ErrRailUnavailable) {
			return false, err
		}
		return false, nil
	}

	var verification struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(respBody, &verification); err != nil {
		return false, unavailable(err)
	}
	return verification.VerificationStatus == payPalVerificationSuccess, nil
}

func (p *PayPalProvider) ParseCallback(payload []byte) (*CallbackEvent, error) {
	var event struct {
		ID        string          `json:"id"`
		EventType string          `json:"event_type"`
		Resource  json.RawMessage `json:"resource"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, ErrInvalidCallback
	}
	if strings.TrimSpace(event.EventType) == "" {
		return nil, ErrInvalidCallback
	}

	result := &CallbackEvent{
		EventID:   strings.TrimSpace(event.ID),
		EventType: strings.TrimSpace(event.EventType),
		Details:   map[string]string{},
	}

	switch result.EventType {
	case "PAYMENT.CAPTURE.COMPLETED", "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED", "PAYMENT.CAPTURE.PENDING":
		var capture struct {
			ID                string `json:"id"`
			CustomID          string `json:"custom_id"`
			SupplementaryData struct {
				RelatedIDs struct {
					OrderID string `json:"order_id"`
				} `json:"related_ids"`
			} `json:"supplementary_data"`
		}
		if json.Unmarshal(event.Resource, &capture) != nil {
			return nil, ErrInvalidCallback
		}
		result.ExternalID = strings.TrimSpace(capture.SupplementaryData.RelatedIDs.OrderID)
		if s := strings.TrimSpace(capture.ID); s != "" {
			result.Details[entity.DetailCaptureID] = s
		}
		if s := strings.TrimSpace(capture.CustomID); s != "" {
			result.Details[entity.DetailCorrelationID] = s
		}
		switch result.EventType {
		case "PAYMENT.CAPTURE.COMPLETED":
			result.Status = RailStatusCompleted
		case "PAYMENT.CAPTURE.PENDING":
			result.Status = RailStatusPending
		default:
			result.Status = RailStatusFailed
			result.Details[entity.DetailFailureReason] = strings.ToLower(result.EventType)
		}
	case "CHECKOUT.ORDER.APPROVED", "CHECKOUT.ORDER.COMPLETED", "CHECKOUT.ORDER.VOIDED":
		var order payPalOrder
		if json.Unmarshal(event.Resource, &order) != nil {
			return nil, ErrInvalidCallback
		}
		result.ExternalID = strings.TrimSpace(order.ID)
		result.Status, result.Details = mapPayPalOrder(&order)
		for _, unit := range order.PurchaseUnits {
			if s := strings.TrimSpace(unit.CustomID); s != "" {
				result.Details[entity.DetailCorrelationID] = s
				break
			}
		}
	}

	return result, nil
}

func (p *PayPalProvider) Refund(ctx context.Context, input *RefundInput) (*RefundResult, error) {
	captureID := strings.TrimSpace(input.ExternalReferenceID)
	if captureID == "" {
		return nil, rejected("capture id is required for refund")
	}

	request := map[string]interface{}{}
	if input.Amount != nil {
		request["amount"] = map[string]string{
			"currency_code": strings.ToUpper(input.Currency),
			"value":         currency.Format(*input.Amount, input.Currency),
		}
	}
	if reason := strings.TrimSpace(input.Reason); reason != "" {
		request["note_to_payer"] = currency.Truncate(reason, 255)
	}

	respBody, err := p.authorized(ctx, func(token string) ([]byte, error) {
		body, err := jsonBody(request)
		if err != nil {
			return nil, err
		}
		return do(ctx, p.client, railRequest{
			rail:      p.Rail(),
			operation: "refund_capture",
			method:    http.MethodPost,
			url:       joinURL(p.cfg.BaseURL, "/v2/payments/captures/"+url.PathEscape(captureID)+"/refund"),
			headers:   p.headers(token, input.CorrelationID),
			body:      body,
		})
	})
	if err != nil {
		return nil, err
	}

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(respBody, &refund); err != nil {
		return nil, unavailable(err)
	}
	return &RefundResult{RefundID: strings.TrimSpace(refund.ID), Status: strings.TrimSpace(refund.Status)}, nil
}

func (p *PayPalProvider) authorized(ctx context.Context, call func(token string) ([]byte, error)) ([]byte, error) {
	token, err := p.token(ctx)
	if err != nil {
		return nil, err
	}
	body, err := call(token)
	if err == nil || !isUnauthorized(err) {
		return body, err
	}

	p.tokens.Invalidate()
	token, err = p.token(ctx)
	if err != nil {
		return nil, err
	}
	return call(token)
}

func (p *PayPalProvider) token(ctx context.Context) (string, error) {
	if token, ok := p.tokens.Get(); ok {
		return token, nil
	}
	if strings.TrimSpace(p.cfg.ClientID) == "" || strings.TrimSpace(p.cfg.ClientSecret) == "" {
		return "", errors.New("paypal client credentials are not configured")
	}

	values := url.Values{}
	values.Set("grant_type", "client_credentials")
	basic := base64.StdEncoding.EncodeToString([]byte(p.cfg.ClientID + ":" + p.cfg.ClientSecret))

	respBody, err := do(ctx, p.client, railRequest{
		rail:      p.Rail(),
		operation: "token",
		method:    http.MethodPost,
		url:       joinURL(p.cfg.BaseURL, "/v1/oauth2/token"),
		headers: map[string]string{
			"Authorization": "Basic " + basic,
			"Content-Type":  "application/x-www-form-urlencoded",
			"Accept":        "application/json",
		},
		body: strings.NewReader(values.Encode()),
	})
	if err != nil {
		if errors.Is(err, ErrRailRejected) {
			return "", unavailable(err)
		}
		return "", err
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return "", unavailable(err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return "", unavailable(errors.New("token response has no access_token"))
	}

	p.tokens.Store(payload.AccessToken, time.Duration(payload.ExpiresIn)*time.Second)
	metrics.RecordTokenRefresh(p.Rail())
	return payload.AccessToken, nil
}

func (p *PayPalProvider) headers(token, requestID string) map[string]string {
	headers := map[string]string{
		"Authorization": "Bearer " + token,
		"Content-Type":  "application/json",
		"Accept":        "application/json",
	}
	if requestID != "" {
		headers["PayPal-Request-Id"] = requestID
	}
	return headers
}

func mapPayPalOrder(order *payPalOrder) (RailStatus, map[string]string) {
	details := map[string]string{}

	switch strings.ToUpper(strings.TrimSpace(order.Status)) {
	case "COMPLETED":
		var capture *payPalCapture
		for i := range order.PurchaseUnits {
			if captures := order.PurchaseUnits[i].Payments.Captures; len(captures) > 0 {
				capture = &captures[0]
				break
			}
		}
		if capture == nil {
			return RailStatusPending, details
		}
		if s := strings.TrimSpace(capture.ID); s != "" {
			details[entity.DetailCaptureID] = s
		}
		switch strings.ToUpper(strings.TrimSpace(capture.Status)) {
		case "COMPLETED":
			return RailStatusCompleted, details
		case "DECLINED", "FAILED":
			details[entity.DetailFailureReason] = "capture " + strings.ToLower(capture.Status)
			return RailStatusFailed, details
		default:
			return RailStatusPending, details
		}
	case "VOIDED":
		details[entity.DetailFailureReason] = "order voided"
		return RailStatusFailed, details
	case "APPROVED":
		return RailStatusAccepted, details
	default:
		return RailStatusPending, details
	}
}
