package entity

import "time"

const (
	CallbackStatusProcessed int32 = 10
	CallbackStatusIgnored   int32 = 15
	CallbackStatusRejected  int32 = 20
)

type PaymentCallback struct {
	ID uint64

	PaymentID *uint64

	Rail        string
	ExternalID  *string
	EventType   string
	Signature   string
	PayloadJSON string
	Status      int32
	Error       *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
