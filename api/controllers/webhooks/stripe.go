package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/selimbenhamida/revend-backend/api/responses"
	pkgerrors "github.com/selimbenhamida/revend-backend/pkg/errors"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
)

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type stripeWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type stripeClient interface {
	SigningSecret() string
}

// StripeWebhook verifies and dispatches Stripe payment events. The body is
// consumed raw; any re-serialization would break signature verification.
func StripeWebhook(svc StripeWebhookService, client stripeClient, guard stripeWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var missing string
		switch {
		case svc == nil:
			missing = "webhook service unavailable"
		case client == nil:
			missing = "stripe client unavailable"
		case guard == nil:
			missing = "idempotency guard unavailable"
		}
		if missing != "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, missing))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, client.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeSignatureInvalid, err, "verify signature"))
			return
		}

		alreadyProcessed, err := guard.CheckAndMark(ctx, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, nil)
			return
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			// Release the claim so Stripe's retry gets another attempt.
			_ = guard.Delete(ctx, event.ID)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}
