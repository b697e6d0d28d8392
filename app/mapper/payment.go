package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-settlements/app/currency"
	"github.com/vibast-solutions/ms-go-settlements/app/entity"
	"github.com/vibast-solutions/ms-go-settlements/app/types"
)

func PaymentToResponse(item *entity.Payment) *types.Payment {
	if item == nil {
		return nil
	}

	details := make(map[string]string, len(item.Details))
	for k, v := range item.Details {
		details[k] = v
	}

	return &types.Payment{
		Id:          item.ID,
		PayerId:     item.PayerID,
		LicenseId:   derefUint64(item.LicenseID),
		Amount:      currency.Format(item.Amount, item.Currency),
		Currency:    item.Currency,
		Purpose:     item.Purpose,
		Rail:        item.Rail,
		Status:      item.Status,
		ExternalId:  derefString(item.ExternalID),
		Details:     details,
		CreatedAt:   item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   item.UpdatedAt.UTC().Format(time.RFC3339),
		ApprovalUrl: item.Detail(entity.DetailApproveURL),
	}
}

func PaymentsToResponse(items []*entity.Payment) []*types.Payment {
	out := make([]*types.Payment, 0, len(items))
	for _, item := range items {
		out = append(out, PaymentToResponse(item))
	}
	return out
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefUint64(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}
