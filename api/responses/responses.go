package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	pkgerrors "github.com/selimbenhamida/revend-backend/pkg/errors"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
	"github.com/selimbenhamida/revend-backend/pkg/types"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	payload := types.ErrorEnvelope{
		Error: types.APIError{
			Code:    string(typed.Code()),
			Message: publicMessage(typed, meta),
		},
	}
	if meta.DetailsAllowed {
		payload.Error.Details = typed.Details()
	}

	logRequestError(ctx, logg, err)
	writeJSON(w, meta.HTTPStatus, payload)
}

// publicMessage prefers the typed message for client-facing codes; internal
// codes always get the generic metadata message.
func publicMessage(typed *pkgerrors.Error, meta pkgerrors.Metadata) string {
	switch typed.Code() {
	case pkgerrors.CodeValidation,
		pkgerrors.CodeForbidden,
		pkgerrors.CodeUnauthorized,
		pkgerrors.CodeNotFound,
		pkgerrors.CodeConflict,
		pkgerrors.CodeStockShort,
		pkgerrors.CodeRateLimit:
		if m := typed.Message(); m != "" {
			return m
		}
	}
	return meta.PublicMessage
}

func logRequestError(ctx context.Context, logg *logger.Logger, err error) {
	if logg == nil {
		return
	}
	dump := pkgerrors.Dump(err)
	ctx = logg.WithFields(ctx, map[string]any{
		"error":         dump.TopMessage,
		"error_code":    dump.Code,
		"error_chain":   dump.Chain,
		"pg_code":       dump.PGCode,
		"pg_detail":     dump.PGDetail,
		"pg_constraint": dump.PGConstraint,
	})
	logg.Error(ctx, "request.error", err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf(`{"level":"error","msg":"failed to encode response","err":"%v"}`, err)
	}
}
