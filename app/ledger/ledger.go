// Package ledger owns the payment state machine. Every status change is a
// single conditional update against the store, so concurrent webhook and
// polling paths resolve to exactly one effective transition.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-settlements/app/entity"
	"github.com/vibast-solutions/ms-go-settlements/app/factory"
	"github.com/vibast-solutions/ms-go-settlements/app/metrics"
	"github.com/vibast-solutions/ms-go-settlements/app/repository"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrDuplicatePayment  = errors.New("payment already exists")
	ErrInvalidPayment    = errors.New("invalid payment")
)

const (
	EventPaymentCreated     = "payment_created"
	EventPaymentCompleted   = "payment_completed"
	EventPaymentFailed      = "payment_failed"
	EventPaymentRefunded    = "payment_refunded"
	EventExternalIDAttached = "external_id_attached"
)

type Store interface {
	Create(ctx context.Context, payment *entity.Payment) error
	FindByID(ctx context.Context, id uint64) (*entity.Payment, error)
	TransitionStatus(ctx context.Context, t repository.Transition) (bool, error)
	AttachExternalID(ctx context.Context, id uint64, externalID string, at time.Time) (bool, error)
	MergeDetails(ctx context.Context, id uint64, details map[string]string, at time.Time) error
}

type EventStore interface {
	Create(ctx context.Context, event *entity.PaymentEvent) error
}

// CompletionResult reports the payment after a completion attempt.
// WasAlreadyCompleted is true when another caller won the transition.
type CompletionResult struct {
	Payment             *entity.Payment
	WasAlreadyCompleted bool
}

type Ledger struct {
	payments Store
	events   EventStore
	now      func() time.Time
	logger   logrus.FieldLogger
}

func New(payments Store, events EventStore) *Ledger {
	return &Ledger{
		payments: payments,
		events:   events,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   factory.NewModuleLogger("ledger"),
	}
}

func (l *Ledger) CreatePending(ctx context.Context, payment *entity.Payment) (*entity.Payment, error) {
	if payment == nil || !payment.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidPayment)
	}
	if strings.TrimSpace(payment.Currency) == "" || strings.TrimSpace(payment.Rail) == "" {
		return nil, fmt.Errorf("%w: currency and rail are required", ErrInvalidPayment)
	}

	now := l.now()
	payment.Status = entity.PaymentStatusPending
	payment.EffectsStatus = entity.EffectsNone
	payment.EffectsAttempts = 0
	payment.EffectsNextAt = nil
	payment.EffectsLastErr = nil
	if payment.Details == nil {
		payment.Details = map[string]string{}
	}
	payment.CreatedAt = now
	payment.UpdatedAt = now

	if err := l.payments.Create(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrPaymentAlreadyExists) {
			return nil, ErrDuplicatePayment
		}
		return nil, err
	}

	l.recordEvent(ctx, payment.ID, EventPaymentCreated, nil, payment.Status, nil)
	return payment, nil
}

// AttachExternalID stores the rail reference of a pending payment. Attaching
// the same reference twice is a no-op.
func (l *Ledger) AttachExternalID(ctx context.Context, id uint64, externalID string) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return fmt.Errorf("%w: empty external id", ErrInvalidPayment)
	}

	applied, err := l.payments.AttachExternalID(ctx, id, externalID, l.now())
	if err != nil {
		if errors.Is(err, repository.ErrPaymentAlreadyExists) {
			return fmt.Errorf("%w: external id %s belongs to another payment", ErrInvalidTransition, externalID)
		}
		return err
	}
	if applied {
		l.recordEvent(ctx, id, EventExternalIDAttached, nil, entity.PaymentStatusPending, nil)
		return nil
	}

	current, err := l.load(ctx, id)
	if err != nil {
		return err
	}
	if current.ExternalID != nil && *current.ExternalID == externalID {
		return nil
	}
	return fmt.Errorf("%w: cannot attach external id to %s payment", ErrInvalidTransition, current.Status)
}

func (l *Ledger) MergeDetails(ctx context.Context, id uint64, details map[string]string) error {
	return l.payments.MergeDetails(ctx, id, details, l.now())
}

// MarkCompleted moves a pending payment to COMPLETED and arms its side
// effects. Only the caller that wins the transition gets
// WasAlreadyCompleted=false.
func (l *Ledger) MarkCompleted(ctx context.Context, id uint64, details map[string]string) (*CompletionResult, error) {
	applied, err := l.payments.TransitionStatus(ctx, repository.Transition{
		ID:         id,
		From:       entity.PaymentStatusPending,
		To:         entity.PaymentStatusCompleted,
		Details:    details,
		ArmEffects: true,
		At:         l.now(),
	})
	if err != nil {
		return nil, err
	}

	current, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	source := details[entity.DetailCompletedVia]

	if applied {
		from := entity.PaymentStatusPending
		l.recordEvent(ctx, id, EventPaymentCompleted, &from, entity.PaymentStatusCompleted, details)
		metrics.RecordTransition(current.Rail, entity.PaymentStatusCompleted, source)
		return &CompletionResult{Payment: current, WasAlreadyCompleted: false}, nil
	}

	switch current.Status {
	case entity.PaymentStatusCompleted, entity.PaymentStatusRefunded:
		metrics.RecordDuplicateCompletion(current.Rail, source)
		return &CompletionResult{Payment: current, WasAlreadyCompleted: true}, nil
	case entity.PaymentStatusFailed:
		l.logger.WithFields(logrus.Fields{
			"payment_id": id,
			"source":     source,
		}).Warn("completion reported for failed payment, manual review required")
		return nil, fmt.Errorf("%w: payment %d is FAILED", ErrInvalidTransition, id)
	default:
		return nil, fmt.Errorf("%w: payment %d stayed %s", ErrInvalidTransition, id, current.Status)
	}
}

// MarkFailed moves a pending payment to FAILED. It is a no-op, reported as
// applied=false, from any other status.
func (l *Ledger) MarkFailed(ctx context.Context, id uint64, reason string) (bool, error) {
	details := map[string]string{entity.DetailFailureReason: reason}
	applied, err := l.payments.TransitionStatus(ctx, repository.Transition{
		ID:      id,
		From:    entity.PaymentStatusPending,
		To:      entity.PaymentStatusFailed,
		Details: details,
		At:      l.now(),
	})
	if err != nil {
		return false, err
	}
	if !applied {
		if _, err := l.load(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}

	from := entity.PaymentStatusPending
	l.recordEvent(ctx, id, EventPaymentFailed, &from, entity.PaymentStatusFailed, details)
	if current, err := l.load(ctx, id); err == nil {
		metrics.RecordTransition(current.Rail, entity.PaymentStatusFailed, "ledger")
	}
	return true, nil
}

func (l *Ledger) MarkRefunded(ctx context.Context, id uint64, reason string, details map[string]string) (*entity.Payment, error) {
	patch := make(map[string]string, len(details)+1)
	for k, v := range details {
		patch[k] = v
	}
	patch[entity.DetailRefundReason] = reason

	applied, err := l.payments.TransitionStatus(ctx, repository.Transition{
		ID:      id,
		From:    entity.PaymentStatusCompleted,
		To:      entity.PaymentStatusRefunded,
		Details: patch,
		At:      l.now(),
	})
	if err != nil {
		return nil, err
	}

	current, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("%w: cannot refund %s payment", ErrInvalidTransition, current.Status)
	}

	from := entity.PaymentStatusCompleted
	l.recordEvent(ctx, id, EventPaymentRefunded, &from, entity.PaymentStatusRefunded, patch)
	metrics.RecordTransition(current.Rail, entity.PaymentStatusRefunded, "refund")
	return current, nil
}

func (l *Ledger) load(ctx context.Context, id uint64) (*entity.Payment, error) {
	payment, err := l.payments.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

// recordEvent appends to the audit trail. The transition is already
// committed, so a failed append is logged and not returned.
func (l *Ledger) recordEvent(ctx context.Context, paymentID uint64, eventType string, oldStatus *string, newStatus string, payload map[string]string) {
	event := &entity.PaymentEvent{
		PaymentID: paymentID,
		EventType: eventType,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		CreatedAt: l.now(),
	}
	if len(payload) > 0 {
		if encoded, err := encodePayload(payload); err == nil {
			event.PayloadJSON = &encoded
		}
	}
	if err := l.events.Create(ctx, event); err != nil {
		l.logger.WithError(err).WithFields(logrus.Fields{
			"payment_id": paymentID,
			"event_type": eventType,
		}).Error("failed to record payment event")
	}
}

func encodePayload(payload map[string]string) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
