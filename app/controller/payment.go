package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-settlements/app/entity"
	"github.com/vibast-solutions/ms-go-settlements/app/factory"
	"github.com/vibast-solutions/ms-go-settlements/app/mapper"
	"github.com/vibast-solutions/ms-go-settlements/app/middleware"
	"github.com/vibast-solutions/ms-go-settlements/app/msisdn"
	"github.com/vibast-solutions/ms-go-settlements/app/service"
	"github.com/vibast-solutions/ms-go-settlements/app/types"
)

const webhookAckMessage = "notification received"

type paymentService interface {
	InitiateMobileMoney(ctx context.Context, req service.InitiateMobileMoneyRequest) (*service.PaymentHandle, error)
	InitiateCardOrder(ctx context.Context, req service.InitiateCardOrderRequest) (*service.PaymentHandle, error)
	CaptureCardOrder(ctx context.Context, paymentID, requesterID uint64) (*entity.Payment, error)
	CheckStatus(ctx context.Context, paymentID, requesterID uint64) (*entity.Payment, error)
	HandleWebhook(ctx context.Context, req service.WebhookRequest) (*service.WebhookAck, error)
	Refund(ctx context.Context, paymentID uint64, reason, amount string) (*service.RefundResult, error)
	GetPayment(ctx context.Context, id uint64) (*entity.Payment, error)
	ListPayments(ctx context.Context, req service.ListPaymentsRequest) ([]*entity.Payment, error)
}

type PaymentController struct {
	paymentService paymentService
	logger         logrus.FieldLogger
}

func NewPaymentController(paymentService paymentService) *PaymentController {
	return &PaymentController{
		paymentService: paymentService,
		logger:         factory.NewModuleLogger("payments-controller"),
	}
}

func (c *PaymentController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *PaymentController) InitiateMobileMoney(ctx echo.Context) error {
	req, err := types.NewInitiateMobileMoneyRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	req.PayerId = middleware.UserID(ctx)
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	handle, err := c.paymentService.InitiateMobileMoney(ctx.Request().Context(), req)
	if err != nil {
		return c.writeServiceError(ctx, err, "Initiate mobile money payment failed")
	}

	return ctx.JSON(http.StatusCreated, envelope(handle))
}

func (c *PaymentController) InitiateCardOrder(ctx echo.Context) error {
	req, err := types.NewInitiateCardOrderRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	req.PayerId = middleware.UserID(ctx)
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	handle, err := c.paymentService.InitiateCardOrder(ctx.Request().Context(), req)
	if err != nil {
		return c.writeServiceError(ctx, err, "Initiate card order failed")
	}

	return ctx.JSON(http.StatusCreated, envelope(handle))
}

func (c *PaymentController) ConfirmCardOrder(ctx echo.Context) error {
	req, err := types.NewPaymentActionRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	req.RequesterId = middleware.UserID(ctx)
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.CaptureCardOrder(ctx.Request().Context(), req.GetId(), req.GetRequesterId())
	if err != nil {
		return c.writeServiceError(ctx, err, "Confirm card order failed")
	}

	return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func (c *PaymentController) CheckStatus(ctx echo.Context) error {
	req, err := types.NewPaymentActionRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	req.RequesterId = middleware.UserID(ctx)
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.CheckStatus(ctx.Request().Context(), req.GetId(), req.GetRequesterId())
	if err != nil {
		return c.writeServiceError(ctx, err, "Check payment status failed")
	}

	return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func (c *PaymentController) MobileMoneyWebhook(ctx echo.Context) error {
	return c.handleWebhook(ctx, entity.RailMobileMoney)
}

func (c *PaymentController) CardOrderWebhook(ctx echo.Context) error {
	return c.handleWebhook(ctx, entity.RailCardOrder)
}

// handleWebhook answers 200 for anything the rail should not resend and 500
// only when the notification could not be stored.
func (c *PaymentController) handleWebhook(ctx echo.Context, rail string) error {
	req, err := types.NewWebhookRequestFromContext(ctx, rail)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return ctx.JSON(http.StatusOK, &types.WebhookAckResponse{Message: webhookAckMessage, Result: "ignored"})
	}

	ack, err := c.paymentService.HandleWebhook(ctx.Request().Context(), req)
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).WithField("rail", rail).Error("Handle webhook failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.WebhookAckResponse{
		Message:   webhookAckMessage,
		Result:    ack.Result,
		PaymentId: ack.PaymentID,
		Status:    ack.Status,
	})
}

func (c *PaymentController) RefundPayment(ctx echo.Context) error {
	req, err := types.NewRefundPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	result, err := c.paymentService.Refund(ctx.Request().Context(), req.GetId(), req.GetReason(), req.GetAmount())
	if err != nil {
		return c.writeServiceError(ctx, err, "Refund payment failed")
	}

	return ctx.JSON(http.StatusOK, &types.RefundPaymentResponse{
		Payment:  mapper.PaymentToResponse(result.Payment),
		RefundId: result.RefundID,
		Mode:     result.Mode,
	})
}

func (c *PaymentController) DetectOperator(ctx echo.Context) error {
	req, err := types.NewDetectOperatorRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	normalized, err := msisdn.Normalize(req.GetPhoneNumber())
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}
	operator := msisdn.DetectOperator(normalized)

	return ctx.JSON(http.StatusOK, &types.DetectOperatorResponse{
		PhoneNumber: normalized,
		Operator:    operator,
		Detected:    operator != msisdn.OperatorUndetected,
	})
}

func (c *PaymentController) GetPayment(ctx echo.Context) error {
	req, err := types.NewGetPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.GetPayment(ctx.Request().Context(), req.GetId())
	if err != nil {
		return c.writeServiceError(ctx, err, "Get payment failed")
	}

	return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func (c *PaymentController) ListPayments(ctx echo.Context) error {
	req, err := types.NewListPaymentsRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.paymentService.ListPayments(ctx.Request().Context(), req)
	if err != nil {
		return c.writeServiceError(ctx, err, "List payments failed")
	}

	return ctx.JSON(http.StatusOK, &types.ListPaymentsResponse{
		Payments: mapper.PaymentsToResponse(items),
		Limit:    req.GetLimit(),
		Offset:   req.GetOffset(),
	})
}

func (c *PaymentController) writeServiceError(ctx echo.Context, err error, message string) error {
	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrProviderUnsupported):
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrRailRejected):
		return c.writeError(ctx, http.StatusPaymentRequired, "payment rejected by rail")
	case errors.Is(err, service.ErrRailUnavailable):
		return c.writeError(ctx, http.StatusServiceUnavailable, "payment rail unavailable, check status later")
	case errors.Is(err, service.ErrInvalidTransition):
		return c.writeError(ctx, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrForbidden):
		return c.writeError(ctx, http.StatusForbidden, "forbidden")
	case errors.Is(err, service.ErrPaymentNotFound):
		return c.writeError(ctx, http.StatusNotFound, "payment not found")
	case errors.Is(err, service.ErrLicenseNotFound):
		return c.writeError(ctx, http.StatusNotFound, "license not found")
	default:
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error(message)
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}
}

func (c *PaymentController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}

func envelope(handle *service.PaymentHandle) *types.PaymentEnvelopeResponse {
	payment := mapper.PaymentToResponse(handle.Payment)
	if payment != nil && handle.ApprovalURL != "" {
		payment.ApprovalUrl = handle.ApprovalURL
	}
	return &types.PaymentEnvelopeResponse{Payment: payment}
}
