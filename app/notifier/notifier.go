package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-settlements/app/entity"
)

const confirmationPath = "/notifications/payment-confirmed"

type confirmationPayload struct {
	PaymentID  uint64 `json:"payment_id"`
	PayerID    uint64 `json:"payer_id"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Purpose    string `json:"purpose"`
	Rail       string `json:"rail"`
	Status     string `json:"status"`
	ExternalID string `json:"external_id,omitempty"`
	SettledAt  string `json:"settled_at"`
}

// HTTPNotifier posts payment confirmations to the notifications service.
// With no base URL configured every send is a no-op.
type HTTPNotifier struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPNotifier(baseURL, apiKey string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPNotifier{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  &http.Client{Timeout: timeout},
	}
}

func (n *HTTPNotifier) Enabled() bool {
	return n.baseURL != ""
}

func (n *HTTPNotifier) SendPaymentConfirmation(ctx context.Context, payment *entity.Payment) error {
	if !n.Enabled() {
		return nil
	}

	payload := confirmationPayload{
		PaymentID: payment.ID,
		PayerID:   payment.PayerID,
		Amount:    payment.Amount.String(),
		Currency:  payment.Currency,
		Purpose:   payment.Purpose,
		Rail:      payment.Rail,
		Status:    payment.Status,
		SettledAt: payment.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if payment.ExternalID != nil {
		payload.ExternalID = *payment.ExternalID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+confirmationPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", fmt.Sprintf("payment-%d-confirmation", payment.ID))
	if n.apiKey != "" {
		req.Header.Set("X-API-Key", n.apiKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notifications endpoint returned status=%d", resp.StatusCode)
	}
	return nil
}
