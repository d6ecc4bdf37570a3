package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/architecte-ia/etsy-analytics-pro/internal/domain"
	"github.com/architecte-ia/etsy-analytics-pro/internal/service"

	"go.uber.org/zap"
)

const maxWebhookBytes = 64 << 10

// POST /webhooks/stripe
//
// Signature and payload problems answer 400 so the processor stops
// retrying. Anything else answers 500 and the event is delivered again.
func stripeWebhookHandler(onboarding *service.OnboardingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /webhooks/stripe")
		defer span.End()

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "payload unreadable or too large", Code: "invalid_payload"})
			return
		}

		c, err := onboarding.HandlePurchase(ctx, payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			var unauthorized *domain.ErrUnauthorized
			var validation *domain.ErrValidation
			switch {
			case errors.As(err, &unauthorized):
				logger.Warn("webhook: rejected", zap.Error(err))
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: unauthorized.Message, Code: "invalid_signature"})
			case errors.As(err, &validation):
				logger.Warn("webhook: unusable event", zap.Error(err))
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: validation.Error(), Code: "invalid_event"})
			default:
				logger.Error("webhook: purchase not applied", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "purchase not applied", Code: "internal_error"})
			}
			return
		}

		if c == nil {
			writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "ignored"})
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "processed", ID: c.ID})
	}
}
