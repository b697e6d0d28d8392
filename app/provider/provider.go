package provider

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
)

// RailStatus is the rail-side view of a payment, before it is mapped onto the
// ledger state machine.
type RailStatus string

const (
	RailStatusAccepted  RailStatus = "accepted"
	RailStatusPending   RailStatus = "pending"
	RailStatusCompleted RailStatus = "completed"
	RailStatusFailed    RailStatus = "failed"
)

type InitiateInput struct {
	Amount        decimal.Decimal
	Currency      string
	PayerIdentity string
	Operator      string
	Description   string
	CorrelationID string

	ReturnURL string
	CancelURL string
}

type InitiateOutput struct {
	ExternalID  string
	Status      RailStatus
	ApprovalURL string
	Details     map[string]string
}

type StatusResult struct {
	Status  RailStatus
	Details map[string]string
}

type CallbackEvent struct {
	EventID    string
	EventType  string
	ExternalID string
	Status     RailStatus
	Details    map[string]string
}

type RefundInput struct {
	ExternalReferenceID string
	Amount              *decimal.Decimal
	Currency            string
	Reason              string
	CorrelationID       string
}

type RefundResult struct {
	RefundID string
	Status   string
}

type CaptureResult struct {
	Status  RailStatus
	Details map[string]string
}

type Provider interface {
	Rail() string
	Initiate(ctx context.Context, input *InitiateInput) (*InitiateOutput, error)
	QueryStatus(ctx context.Context, externalID string) (*StatusResult, error)
	// VerifySignature reports whether the notification is authentic. An
	// error means verification could not be completed and the rail should
	// redeliver.
	VerifySignature(ctx context.Context, payload []byte, headers http.Header) (bool, error)
	ParseCallback(payload []byte) (*CallbackEvent, error)
	Refund(ctx context.Context, input *RefundInput) (*RefundResult, error)
}

// Capturer is implemented by rails with a two-phase approve/capture flow.
type Capturer interface {
	Capture(ctx context.Context, externalID string) (*CaptureResult, error)
}

// Recoverer is implemented by rails that can return the submission created by
// an earlier Initiate carrying the same correlation id, without creating a
// second one.
type Recoverer interface {
	Recover(ctx context.Context, input *InitiateInput) (*InitiateOutput, error)
}
