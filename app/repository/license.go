package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-settlements/app/entity"
)

var ErrLicenseNotFound = errors.New("license not found")

type LicenseRepository struct {
	db TxDB
}

func NewLicenseRepository(db TxDB) *LicenseRepository {
	return &LicenseRepository{db: db}
}

func (r *LicenseRepository) FindByID(ctx context.Context, id uint64) (*entity.License, error) {
	query := `
		SELECT id, user_id, status, expires_at, created_at, updated_at
		FROM licenses
		WHERE id = ?
	`
	license := &entity.License{}
	if err := scanLicense(r.db.QueryRowContext(ctx, query, id), license); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return license, nil
}

// FindForUser returns the user's most recent license.
func (r *LicenseRepository) FindForUser(ctx context.Context, userID uint64) (*entity.License, error) {
	query := `
		SELECT id, user_id, status, expires_at, created_at, updated_at
		FROM licenses
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT 1
	`
	license := &entity.License{}
	if err := scanLicense(r.db.QueryRowContext(ctx, query, userID), license); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return license, nil
}

// Renew activates the license and extends its expiry by window, starting from
// the later of now and the current expiry. A payment renews at most once:
// repeated calls return the recorded renewal and applied=false.
func (r *LicenseRepository) Renew(ctx context.Context, paymentID, licenseID uint64, window time.Duration, now time.Time) (renewal *entity.LicenseRenewal, applied bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	license := &entity.License{}
	lockQuery := `
		SELECT id, user_id, status, expires_at, created_at, updated_at
		FROM licenses
		WHERE id = ?
		FOR UPDATE
	`
	if err = scanLicense(tx.QueryRowContext(ctx, lockQuery, licenseID), license); err == sql.ErrNoRows {
		err = ErrLicenseNotFound
		return nil, false, err
	} else if err != nil {
		return nil, false, err
	}

	existing := &entity.LicenseRenewal{}
	findQuery := `
		SELECT id, payment_id, license_id, extended_to, created_at
		FROM license_renewals
		WHERE payment_id = ?
	`
	err = tx.QueryRowContext(ctx, findQuery, paymentID).Scan(
		&existing.ID, &existing.PaymentID, &existing.LicenseID, &existing.ExtendedTo, &existing.CreatedAt,
	)
	if err == nil {
		if err = tx.Commit(); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, err
	}

	base := now
	if license.ExpiresAt != nil && license.ExpiresAt.After(now) {
		base = *license.ExpiresAt
	}
	renewal = &entity.LicenseRenewal{
		PaymentID:  paymentID,
		LicenseID:  licenseID,
		ExtendedTo: base.Add(window),
		CreatedAt:  now,
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO license_renewals (payment_id, license_id, extended_to, created_at)
		VALUES (?, ?, ?, ?)
	`, renewal.PaymentID, renewal.LicenseID, renewal.ExtendedTo, renewal.CreatedAt)
	if err != nil {
		return nil, false, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, err
	}
	renewal.ID = uint64(id)

	if _, err = tx.ExecContext(ctx, `
		UPDATE licenses SET status = ?, expires_at = ?, updated_at = ?
		WHERE id = ?
	`, entity.LicenseStatusActive, renewal.ExtendedTo, now, licenseID); err != nil {
		return nil, false, err
	}

	if err = tx.Commit(); err != nil {
		return nil, false, err
	}
	return renewal, true, nil
}

func scanLicense(scan rowScanner, license *entity.License) error {
	var expiresAt sql.NullTime
	if err := scan.Scan(
		&license.ID,
		&license.UserID,
		&license.Status,
		&expiresAt,
		&license.CreatedAt,
		&license.UpdatedAt,
	); err != nil {
		return err
	}
	license.ExpiresAt = timePtrFromNull(expiresAt)
	return nil
}
