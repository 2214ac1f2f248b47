package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/selimbenhamida/revend-backend/api/controllers"
	webhookcontrollers "github.com/selimbenhamida/revend-backend/api/controllers/webhooks"
	"github.com/selimbenhamida/revend-backend/api/middleware"
	"github.com/selimbenhamida/revend-backend/internal/cart"
	"github.com/selimbenhamida/revend-backend/internal/notifications"
	"github.com/selimbenhamida/revend-backend/internal/orders"
	"github.com/selimbenhamida/revend-backend/internal/payments"
	"github.com/selimbenhamida/revend-backend/internal/ratings"
	stripewebhook "github.com/selimbenhamida/revend-backend/internal/webhooks/stripe"
	"github.com/selimbenhamida/revend-backend/pkg/config"
	"github.com/selimbenhamida/revend-backend/pkg/db"
	"github.com/selimbenhamida/revend-backend/pkg/enums"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
	"github.com/selimbenhamida/revend-backend/pkg/redis"
	"github.com/selimbenhamida/revend-backend/pkg/stripe"
)

// Deps collects everything the router wires into handlers.
type Deps struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          *db.Client
	Redis       *redis.Client
	Stripe      *stripe.Client
	Cart        cart.Service
	Orders      orders.Service
	Payments    payments.Service
	Ratings     ratings.Service
	Notify      notifications.Service
	Dispatcher  notifications.Dispatcher
	Webhook     *stripewebhook.Service
	WebhookIdem *stripewebhook.IdempotencyGuard
}

func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	logg := d.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	apiPolicy := middleware.NewRateLimitPolicy("api", cfg.RateLimit.Window, cfg.RateLimit.PerUser)
	checkoutPolicy := middleware.NewRateLimitPolicy("checkout", cfg.RateLimit.Window, cfg.RateLimit.CheckoutCap)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, d.DB, d.Redis, logg))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Stripe calls this unauthenticated; the signature check is the gate.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(d.Webhook, d.Stripe, d.WebhookIdem, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(apiPolicy, d.Redis, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.GetCart(d.Cart, logg))
			r.Post("/items", controllers.AddCartItem(d.Cart, logg))
			r.Patch("/items/{productId}", controllers.SetCartItemQty(d.Cart, logg))
			r.Delete("/items/{productId}", controllers.RemoveCartItem(d.Cart, logg))
			r.Delete("/", controllers.ClearCart(d.Cart, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.With(middleware.RateLimit(checkoutPolicy, d.Redis, logg)).
				Post("/", controllers.CreateOrder(d.Orders, logg))
			r.Post("/rate", controllers.RateOrder(d.Ratings, logg))
			r.Get("/{orderId}", controllers.GetOrder(d.Orders, logg))
			r.Get("/{orderId}/status", controllers.GetOrderStatus(d.Orders, logg))
			r.Get("/{orderId}/can-rate", controllers.CanRateOrder(d.Ratings, logg))
		})

		r.Route("/payments", func(r chi.Router) {
			r.With(middleware.RateLimit(checkoutPolicy, d.Redis, logg)).
				Post("/intent", controllers.CreatePaymentIntent(d.Payments, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(d.Notify, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(d.Notify, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(d.Notify, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(string(enums.RoleAdmin), logg))
			r.Post("/promotions/broadcast", controllers.BroadcastPromotion(d.Dispatcher, logg))
		})
	})

	return r
}
