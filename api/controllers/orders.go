package controllers

import (
	"net/http"

	"github.com/selimbenhamida/revend-backend/api/middleware"
	"github.com/selimbenhamida/revend-backend/api/responses"
	"github.com/selimbenhamida/revend-backend/api/validators"
	"github.com/selimbenhamida/revend-backend/internal/orders"
	"github.com/selimbenhamida/revend-backend/internal/ratings"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
)

type createOrderRequest struct {
	Street     string `json:"street" validate:"required,max=200"`
	PostalCode string `json:"postalCode" validate:"required,max=20"`
	City       string `json:"city" validate:"required,max=100"`
	Country    string `json:"country" validate:"required,max=100"`
}

type rateOrderRequest struct {
	OrderID string `json:"orderId" validate:"required,uuid"`
	Score   int    `json:"score" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=2000"`
}

// CreateOrder freezes the caller's cart into a priced order awaiting payment.
func CreateOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		order, err := svc.Create(r.Context(), userID, orders.AddressInput{
			Street:     req.Street,
			PostalCode: req.PostalCode,
			City:       req.City,
			Country:    req.Country,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// GetOrder returns the caller's order with its detail lines.
func GetOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		order, err := svc.Get(r.Context(), orderID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// GetOrderStatus reports the lifecycle position and frozen totals of an order.
func GetOrderStatus(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		status, err := svc.Status(r.Context(), orderID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

// RateOrder records a score for a paid order. A second submission for the
// same order answers with a conflict.
func RateOrder(svc ratings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rateOrderRequest
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
		rating, err := svc.Submit(r.Context(), ratings.SubmitParams{
			UserID:  userID,
			OrderID: orderID,
			Score:   req.Score,
			Comment: req.Comment,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, rating)
	}
}

// CanRateOrder reports whether the caller may still rate the order.
func CanRateOrder(svc ratings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		eligibility, err := svc.CanRate(r.Context(), userID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, eligibility)
	}
}
