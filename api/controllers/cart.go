package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/selimbenhamida/revend-backend/api/middleware"
	"github.com/selimbenhamida/revend-backend/api/responses"
	"github.com/selimbenhamida/revend-backend/api/validators"
	"github.com/selimbenhamida/revend-backend/internal/cart"
	pkgerrors "github.com/selimbenhamida/revend-backend/pkg/errors"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
)

type addCartItemRequest struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	Qty       int    `json:"qty" validate:"required,min=1,max=99"`
}

type setCartItemQtyRequest struct {
	Qty int `json:"qty" validate:"required,min=1,max=99"`
}

// GetCart returns the live-priced snapshot of the caller's cart.
func GetCart(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		snapshot, err := svc.Snapshot(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}

// AddCartItem adds a product to the cart, merging quantity when the line exists.
func AddCartItem(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addCartItemRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		productID, err := parseUUIDField(req.ProductID, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		if err := svc.AddItem(r.Context(), userID, productID, req.Qty); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, nil)
	}
}

// SetCartItemQty replaces the quantity of one cart line.
func SetCartItemQty(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := validators.PathUUID(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req setCartItemQtyRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		if err := svc.SetItemQty(r.Context(), userID, productID, req.Qty); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

// RemoveCartItem deletes one line from the cart.
func RemoveCartItem(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := validators.PathUUID(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		if err := svc.RemoveItem(r.Context(), userID, productID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

// ClearCart empties the caller's cart.
func ClearCart(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if err := svc.Clear(r.Context(), userID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

func parseUUIDField(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "must be a valid uuid").WithDetails(map[string]any{"field": field})
	}
	return id, nil
}
