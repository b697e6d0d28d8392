package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-settlements/app/entity"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentAlreadyExists = errors.New("payment already exists")
)

const paymentColumns = `
	id, payer_id, license_id, idempotency_key,
	amount, currency, purpose, rail, status, external_id, details_json,
	effects_status, effects_attempts, effects_next_at, effects_last_error,
	created_at, updated_at
`

type PaymentFilter struct {
	PayerID uint64
	Rail    string
	Status  string
	Purpose string
	Limit   int32
	Offset  int32
}

// Transition describes a guarded status change. It applies only while the
// row is still in From.
type Transition struct {
	ID         uint64
	From       string
	To         string
	Details    map[string]string
	ArmEffects bool
	At         time.Time
}

type PaymentRepository struct {
	db DBTX
}

func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *entity.Payment) error {
	detailsJSON, err := serializeDetails(payment.Details)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payments (
			payer_id, license_id, idempotency_key,
			amount, currency, purpose, rail, status, external_id, details_json,
			effects_status, effects_attempts, effects_next_at, effects_last_error,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		payment.PayerID,
		nullableUint64Value(payment.LicenseID),
		payment.IdempotencyKey,
		payment.Amount,
		payment.Currency,
		payment.Purpose,
		payment.Rail,
		payment.Status,
		nullableStringValue(payment.ExternalID),
		detailsJSON,
		payment.EffectsStatus,
		payment.EffectsAttempts,
		nullableTimeValue(payment.EffectsNextAt),
		nullableStringValue(payment.EffectsLastErr),
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrPaymentAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	payment.ID = uint64(id)
	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id uint64) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`
	return r.findOne(ctx, query, id)
}

func (r *PaymentRepository) FindByPayerIdempotencyKey(ctx context.Context, payerID uint64, key string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE payer_id = ? AND idempotency_key = ? LIMIT 1`
	return r.findOne(ctx, query, payerID, key)
}

func (r *PaymentRepository) FindByExternalID(ctx context.Context, rail, externalID string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE rail = ? AND external_id = ? LIMIT 1`
	return r.findOne(ctx, query, rail, externalID)
}

// FindByCorrelationID matches a payment by the correlation id sent to the
// rail at initiation. It is the only handle on a submission whose response
// was lost.
func (r *PaymentRepository) FindByCorrelationID(ctx context.Context, rail, correlationID string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE rail = ? AND correlation_id = ? LIMIT 1`
	return r.findOne(ctx, query, rail, correlationID)
}

// TransitionStatus performs the compare-and-swap on status. It reports false
// when the row was not in the expected state.
func (r *PaymentRepository) TransitionStatus(ctx context.Context, t Transition) (bool, error) {
	patch, err := serializeDetails(t.Details)
	if err != nil {
		return false, err
	}

	set := []string{"status = ?", "details_json = JSON_MERGE_PATCH(details_json, ?)", "updated_at = ?"}
	args := []interface{}{t.To, patch, t.At}
	if t.ArmEffects {
		set = append(set, "effects_status = ?", "effects_attempts = 0", "effects_next_at = ?", "effects_last_error = NULL")
		args = append(args, entity.EffectsPending, t.At)
	}
	args = append(args, t.ID, t.From)

	query := `UPDATE payments SET ` + strings.Join(set, ", ") + ` WHERE id = ? AND status = ?`
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// AttachExternalID sets the rail reference once, while the payment is pending.
func (r *PaymentRepository) AttachExternalID(ctx context.Context, id uint64, externalID string, at time.Time) (bool, error) {
	query := `
		UPDATE payments SET external_id = ?, updated_at = ?
		WHERE id = ? AND status = ? AND external_id IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, externalID, at, id, entity.PaymentStatusPending)
	if err != nil {
		if isDuplicateEntryError(err) {
			return false, ErrPaymentAlreadyExists
		}
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *PaymentRepository) MergeDetails(ctx context.Context, id uint64, details map[string]string, at time.Time) error {
	if len(details) == 0 {
		return nil
	}
	patch, err := serializeDetails(details)
	if err != nil {
		return err
	}

	query := `UPDATE payments SET details_json = JSON_MERGE_PATCH(details_json, ?), updated_at = ? WHERE id = ?`
	_, err = r.db.ExecContext(ctx, query, patch, at, id)
	return err
}

// ClaimEffects moves a due outbox entry to processing and leases it until
// leaseUntil. Exactly one concurrent caller wins the claim.
func (r *PaymentRepository) ClaimEffects(ctx context.Context, id uint64, now, leaseUntil time.Time) (bool, error) {
	query := `
		UPDATE payments
		SET effects_status = ?, effects_attempts = effects_attempts + 1, effects_next_at = ?
		WHERE id = ?
		  AND effects_status IN (?, ?)
		  AND effects_next_at IS NOT NULL
		  AND effects_next_at <= ?
	`
	result, err := r.db.ExecContext(ctx, query,
		entity.EffectsProcessing, leaseUntil,
		id,
		entity.EffectsPending, entity.EffectsProcessing,
		now,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *PaymentRepository) CompleteEffects(ctx context.Context, id uint64) error {
	query := `
		UPDATE payments
		SET effects_status = ?, effects_next_at = NULL, effects_last_error = NULL
		WHERE id = ? AND effects_status = ?
	`
	_, err := r.db.ExecContext(ctx, query, entity.EffectsSuccess, id, entity.EffectsProcessing)
	return err
}

// RecordEffectsFailure stores a failed attempt. A nil nextAt marks the
// outbox entry as permanently failed.
func (r *PaymentRepository) RecordEffectsFailure(ctx context.Context, id uint64, nextAt *time.Time, lastErr string) error {
	status := entity.EffectsPending
	if nextAt == nil {
		status = entity.EffectsFailed
	}

	query := `
		UPDATE payments
		SET effects_status = ?, effects_next_at = ?, effects_last_error = ?
		WHERE id = ? AND effects_status = ?
	`
	_, err := r.db.ExecContext(ctx, query, status, nullableTimeValue(nextAt), lastErr, id, entity.EffectsProcessing)
	return err
}

func (r *PaymentRepository) ListDueEffects(ctx context.Context, now time.Time, limit int32) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE effects_status IN (?, ?)
		  AND effects_next_at IS NOT NULL
		  AND effects_next_at <= ?
		ORDER BY effects_next_at ASC
		LIMIT ?
	`
	return r.findMany(ctx, query, entity.EffectsPending, entity.EffectsProcessing, now, limit)
}

func (r *PaymentRepository) ListForReconcile(ctx context.Context, before time.Time, limit int32) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = ?
		  AND updated_at <= ?
		ORDER BY updated_at ASC
		LIMIT ?
	`
	return r.findMany(ctx, query, entity.PaymentStatusPending, before, limit)
}

func (r *PaymentRepository) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = ?
		  AND created_at <= ?
		ORDER BY created_at ASC
		LIMIT ?
	`
	return r.findMany(ctx, query, entity.PaymentStatusPending, cutoff, limit)
}

func (r *PaymentRepository) List(ctx context.Context, filter PaymentFilter) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments`

	conditions := make([]string, 0, 4)
	args := make([]interface{}, 0, 6)

	if filter.PayerID > 0 {
		conditions = append(conditions, "payer_id = ?")
		args = append(args, filter.PayerID)
	}
	if strings.TrimSpace(filter.Rail) != "" {
		conditions = append(conditions, "rail = ?")
		args = append(args, filter.Rail)
	}
	if strings.TrimSpace(filter.Status) != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if strings.TrimSpace(filter.Purpose) != "" {
		conditions = append(conditions, "purpose = ?")
		args = append(args, filter.Purpose)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	return r.findMany(ctx, query, args...)
}

func (r *PaymentRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.Payment, error) {
	payment := &entity.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, args...), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return payment, nil
}

func (r *PaymentRepository) findMany(ctx context.Context, query string, args ...interface{}) ([]*entity.Payment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]*entity.Payment, 0)
	for rows.Next() {
		item := &entity.Payment{}
		if err := scanPayment(rows, item); err != nil {
			return nil, err
		}
		payments = append(payments, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payments, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(scan rowScanner, payment *entity.Payment) error {
	var licenseID sql.NullInt64
	var externalID sql.NullString
	var detailsJSON string
	var effectsNextAt sql.NullTime
	var effectsLastErr sql.NullString

	err := scan.Scan(
		&payment.ID,
		&payment.PayerID,
		&licenseID,
		&payment.IdempotencyKey,
		&payment.Amount,
		&payment.Currency,
		&payment.Purpose,
		&payment.Rail,
		&payment.Status,
		&externalID,
		&detailsJSON,
		&payment.EffectsStatus,
		&payment.EffectsAttempts,
		&effectsNextAt,
		&effectsLastErr,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return err
	}

	payment.LicenseID = uint64PtrFromNull(licenseID)
	payment.ExternalID = stringPtrFromNull(externalID)
	payment.EffectsNextAt = timePtrFromNull(effectsNextAt)
	payment.EffectsLastErr = stringPtrFromNull(effectsLastErr)

	details, err := parseDetails(detailsJSON)
	if err != nil {
		return err
	}
	payment.Details = details

	return nil
}
