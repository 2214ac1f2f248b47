package controllers

import (
	"net/http"

	"github.com/selimbenhamida/revend-backend/api/middleware"
	"github.com/selimbenhamida/revend-backend/api/responses"
	"github.com/selimbenhamida/revend-backend/api/validators"
	"github.com/selimbenhamida/revend-backend/internal/payments"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
)

type createIntentRequest struct {
	OrderID string `json:"orderId" validate:"required,uuid"`
}

// CreatePaymentIntent opens a gateway intent for a pending order. The charged
// amount comes from the persisted order, never from the request.
func CreatePaymentIntent(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createIntentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseUUIDField(req.OrderID, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		intent, err := svc.CreateIntent(r.Context(), orderID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, intent)
	}
}
