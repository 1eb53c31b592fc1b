package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/fitcore/handler"
	"github.com/dmitrymomot/fitcore/svc/auth"
	"github.com/dmitrymomot/fitcore/svc/billing/engine"
	"github.com/dmitrymomot/fitcore/svc/billing/gateway"
	"github.com/dmitrymomot/fitcore/svc/billing/plan"
	"github.com/dmitrymomot/fitcore/svc/billing/store"
	"github.com/dmitrymomot/fitcore/svc/cart"
)

// API mounts the billing HTTP surface.
type API struct {
	engine  *engine.Engine
	catalog *plan.Catalog
	auth    *auth.Service
	webhook http.Handler
	carts   *cart.Store
	probes  []func(context.Context) error
	log     *slog.Logger
}

func New(eng *engine.Engine, catalog *plan.Catalog, authSvc *auth.Service, webhook http.Handler, log *slog.Logger, probes ...func(context.Context) error) *API {
	return &API{
		engine:  eng,
		catalog: catalog,
		auth:    authSvc,
		webhook: webhook,
		probes:  probes,
		log:     log,
	}
}

// WithCart mounts the cart endpoints on the authenticated group.
func (a *API) WithCart(carts *cart.Store) *API {
	a.carts = carts
	return a
}

// Router builds the chi router rooted at /api/v1.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", a.healthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/subscriptions/plans", a.listPlans)
		r.Post("/webhooks/stripe", a.webhook.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(a.auth.Middleware)
			r.Post("/subscriptions/checkout-session", a.createCheckoutSession)
			r.Post("/subscriptions/create", a.createSubscription)
			r.Get("/subscriptions/status", a.subscriptionStatus)
			r.Get("/subscriptions/user/current", a.currentSubscription)
			r.Get("/subscriptions/user/all", a.listSubscriptions)
			r.Delete("/subscriptions/{id}/cancel", a.cancelSubscription)
			r.Post("/subscriptions/{id}/resume", a.resumeSubscription)
			r.Put("/subscriptions/{id}/plan", a.updatePlan)
			r.Get("/subscriptions/{id}/invoices", a.listInvoices)

			if a.carts != nil {
				r.Get("/cart", a.getCart)
				r.Post("/cart/items", a.addCartItem)
				r.Delete("/cart", a.clearCart)
			}
		})
	})
	return r
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	for _, probe := range a.probes {
		if err := probe(r.Context()); err != nil {
			handler.JSONError(w, errors.Join(handler.ErrServiceUnavailable, err))
			return
		}
	}
	handler.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// apiError folds domain sentinels into the HTTP error taxonomy.
func apiError(err error) error {
	switch {
	case errors.Is(err, plan.ErrInvalidPlan) || errors.Is(err, engine.ErrFreePlan):
		return handler.ValidationError{}.Add("plan", "must be a purchasable plan")
	case errors.Is(err, engine.ErrIncompleteProfile):
		return handler.ErrUnprocessableEntity
	case errors.Is(err, engine.ErrActiveSubscription):
		return handler.NewHTTPError(http.StatusConflict, "ACTIVE_SUBSCRIPTION_EXISTS")
	case errors.Is(err, engine.ErrNotCancelPending):
		return handler.ErrUnprocessableEntity
	case errors.Is(err, store.ErrUserNotFound) || errors.Is(err, store.ErrSubscriptionNotFound):
		return handler.ErrNotFound
	case errors.Is(err, gateway.ErrNotFound):
		return handler.ErrNotFound
	case errors.Is(err, gateway.ErrInvalidPaymentMethod):
		return handler.NewHTTPError(http.StatusBadRequest, "invalid_payment_method")
	case errors.Is(err, gateway.ErrConflict):
		return handler.ErrConflict
	case errors.Is(err, gateway.ErrNetwork), errors.Is(err, gateway.ErrProvider),
		errors.Is(err, engine.ErrPriceUnavailable):
		return handler.ErrBadGateway
	default:
		return err
	}
}
