package entity

import "time"

const (
	LicenseStatusInactive = "inactive"
	LicenseStatusActive   = "active"
)

type License struct {
	ID        uint64
	UserID    uint64
	Status    string
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type LicenseRenewal struct {
	ID         uint64
	PaymentID  uint64
	LicenseID  uint64
	ExtendedTo time.Time
	CreatedAt  time.Time
}
