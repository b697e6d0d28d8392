package service

import (
	"errors"

	"github.com/vibast-solutions/ms-go-settlements/app/ledger"
	"github.com/vibast-solutions/ms-go-settlements/app/provider"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrForbidden           = errors.New("forbidden")
	ErrSignatureInvalid    = errors.New("webhook signature invalid")
	ErrLicenseNotFound     = errors.New("license not found")
	ErrProviderUnsupported = errors.New("provider is not supported")

	ErrInvalidTransition = ledger.ErrInvalidTransition
	ErrRailRejected      = provider.ErrRailRejected
	ErrRailUnavailable   = provider.ErrRailUnavailable
)
