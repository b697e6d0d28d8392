package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-settlements/app/currency"
	"github.com/vibast-solutions/ms-go-settlements/app/entity"
	"github.com/vibast-solutions/ms-go-settlements/app/metrics"
	"github.com/vibast-solutions/ms-go-settlements/app/msisdn"
)

const (
	MobileMoneyDescriptionLimit = 22
	defaultMobileMoneySigHeader = "X-Signature"
	defaultMobileMoneyTokenTTL  = time.Hour
	defaultRailHTTPTimeout      = 10 * time.Second
)

type MobileMoneyConfig struct {
	BaseURL         string
	Username        string
	Password        string
	WebhookSecret   string
	SignatureHeader string
	HTTPTimeout     time.Duration
}

type MobileMoneyProvider struct {
	cfg    MobileMoneyConfig
	client *http.Client
	tokens *TokenCache
}

func NewMobileMoneyProvider(cfg MobileMoneyConfig) *MobileMoneyProvider {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultRailHTTPTimeout
	}
	if strings.TrimSpace(cfg.SignatureHeader) == "" {
		cfg.SignatureHeader = defaultMobileMoneySigHeader
	}

	return &MobileMoneyProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		tokens: NewTokenCache(defaultTokenSafetyMargin),
	}
}

func (p *MobileMoneyProvider) Rail() string {
	return entity.RailMobileMoney
}

func (p *MobileMoneyProvider) Initiate(ctx context.Context, input *InitiateInput) (*InitiateOutput, error) {
	phone, err := msisdn.Normalize(input.PayerIdentity)
	if err != nil {
		return nil, rejected("malformed phone number")
	}
	operator := msisdn.DetectOperator(phone)
	if operator == msisdn.OperatorUndetected {
		return nil, rejected("operator not detected for phone number")
	}
	if requested := strings.ToUpper(strings.TrimSpace(input.Operator)); requested != "" && requested != operator {
		return nil, rejected("operator %s does not own phone number prefix", requested)
	}

	request := map[string]string{
		"amount":             currency.Format(input.Amount, input.Currency),
		"currency":           strings.ToUpper(input.Currency),
		"from":               phone,
		"description":        currency.Truncate(strings.TrimSpace(input.Description), MobileMoneyDescriptionLimit),
		"external_reference": input.CorrelationID,
		"operator":           operator,
	}

	respBody, err := p.authorized(ctx, func(token string) ([]byte, error) {
		body, err := jsonBody(request)
		if err != nil {
			return nil, err
		}
		return do(ctx, p.client, railRequest{
			rail:      p.Rail(),
			operation: "collect",
			method:    http.MethodPost,
			url:       joinURL(p.cfg.BaseURL, "/collect/"),
			headers:   p.headers(token),
			body:      body,
		})
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, unavailable(err)
	}
	reference := strings.TrimSpace(payload.Reference)
	if reference == "" {
		return nil, unavailable(errors.New("collect response has no reference"))
	}

	return &InitiateOutput{
		ExternalID: reference,
		Status:     mapMobileMoneyStatus(payload.Status),
		Details: map[string]string{
			entity.DetailPhoneNumber: phone,
			entity.DetailOperator:    operator,
		},
	}, nil
}

func (p *MobileMoneyProvider) QueryStatus(ctx context.Context, externalID string) (*StatusResult, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, rejected("empty transaction reference")
	}

	respBody, err := p.authorized(ctx, func(token string) ([]byte, error) {
		return do(ctx, p.client, railRequest{
			rail:      p.Rail(),
			operation: "transaction_status",
			method:    http.MethodGet,
			url:       joinURL(p.cfg.BaseURL, "/transaction/"+url.PathEscape(externalID)+"/"),
			headers:   p.headers(token),
		})
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Reference         string `json:"reference"`
		Status            string `json:"status"`
		Reason            string `json:"reason"`
		OperatorReference string `json:"operator_reference"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, unavailable(err)
	}

	result := &StatusResult{Status: mapMobileMoneyStatus(payload.Status), Details: map[string]string{}}
	if s := strings.TrimSpace(payload.OperatorReference); s != "" {
		result.Details["operator_reference"] = s
	}
	if s := strings.TrimSpace(payload.Reason); s != "" && result.Status == RailStatusFailed {
		result.Details[entity.DetailFailureReason] = s
	}
	return result, nil
}

func (p *MobileMoneyProvider) VerifySignature(_ context.Context, payload []byte, headers http.Header) (bool, error) {
	return verifyHMACSignature(payload, headerValue(headers, p.cfg.SignatureHeader), p.cfg.WebhookSecret), nil
}

func (p *MobileMoneyProvider) ParseCallback(payload []byte) (*CallbackEvent, error) {
	var body struct {
		Reference         string `json:"reference"`
		Status            string `json:"status"`
		ExternalReference string `json:"external_reference"`
		Operator          string `json:"operator"`
		OperatorReference string `json:"operator_reference"`
		Reason            string `json:"reason"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, ErrInvalidCallback
	}
	reference := strings.TrimSpace(body.Reference)
	if reference == "" {
		return nil, ErrInvalidCallback
	}

	event := &CallbackEvent{
		EventType:  "collection." + strings.ToLower(strings.TrimSpace(body.Status)),
		ExternalID: reference,
		Status:     mapMobileMoneyStatus(body.Status),
		Details:    map[string]string{},
	}
	if s := strings.TrimSpace(body.OperatorReference); s != "" {
		event.EventID = s
		event.Details["operator_reference"] = s
	}
	if s := strings.TrimSpace(body.ExternalReference); s != "" {
		event.Details[entity.DetailCorrelationID] = s
	}
	if s := strings.TrimSpace(body.Reason); s != "" && event.Status == RailStatusFailed {
		event.Details[entity.DetailFailureReason] = s
	}
	return event, nil
}

// Refund is a payout on this rail, which the settlement service does not perform.
func (p *MobileMoneyProvider) Refund(context.Context, *RefundInput) (*RefundResult, error) {
	return nil, ErrRefundNotSupported
}

// authorized runs call with a cached token, refreshing it once when the rail
// answers 401.
func (p *MobileMoneyProvider) authorized(ctx context.Context, call func(token string) ([]byte, error)) ([]byte, error) {
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

func (p *MobileMoneyProvider) token(ctx context.Context) (string, error) {
	if token, ok := p.tokens.Get(); ok {
		return token, nil
	}
	if strings.TrimSpace(p.cfg.Username) == "" || strings.TrimSpace(p.cfg.Password) == "" {
		return "", errors.New("mobile money credentials are not configured")
	}

	body, err := jsonBody(map[string]string{"username": p.cfg.Username, "password": p.cfg.Password})
	if err != nil {
		return "", err
	}
	respBody, err := do(ctx, p.client, railRequest{
		rail:      p.Rail(),
		operation: "token",
		method:    http.MethodPost,
		url:       joinURL(p.cfg.BaseURL, "/token/"),
		headers:   map[string]string{"Content-Type": "application/json"},
		body:      body,
	})
	if err != nil {
		if errors.Is(err, ErrRailRejected) {
			// bad credentials are our misconfiguration, not a payer decline
			return "", unavailable(err)
		}
		return "", err
	}

	var payload struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return "", unavailable(err)
	}
	if strings.TrimSpace(payload.Token) == "" {
		return "", unavailable(errors.New("token response has no token"))
	}

	ttl := time.Duration(payload.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = defaultMobileMoneyTokenTTL
	}
	p.tokens.Store(payload.Token, ttl)
	metrics.RecordTokenRefresh(p.Rail())
	return payload.Token, nil
}

func (p *MobileMoneyProvider) headers(token string) map[string]string {
	return map[string]string{
		"Authorization": "Token " + token,
		"Content-Type":  "application/json",
		"Accept":        "application/json",
	}
}

func mapMobileMoneyStatus(status string) RailStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCESSFUL", "SUCCESS", "COMPLETED":
		return RailStatusCompleted
	case "FAILED", "CANCELLED", "REJECTED", "EXPIRED":
		return RailStatusFailed
	case "PENDING":
		return RailStatusPending
	default:
		return RailStatusAccepted
	}
}

func verifyHMACSignature(payload []byte, signature string, secret string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" || strings.TrimSpace(secret) == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	candidate, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hmac.Equal(candidate, mac.Sum(nil))
}
