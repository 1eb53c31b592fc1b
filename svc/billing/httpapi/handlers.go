package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/fitcore/handler"
	"github.com/dmitrymomot/fitcore/pkg/async"
	"github.com/dmitrymomot/fitcore/svc/auth"
	"github.com/dmitrymomot/fitcore/svc/billing/plan"
	"github.com/dmitrymomot/fitcore/svc/billing/store"
)

type checkoutRequest struct {
	Plan       plan.Tag `json:"plan"`
	SuccessURL string   `json:"successUrl"`
	CancelURL  string   `json:"cancelUrl"`
}

type createSubscriptionRequest struct {
	Plan            plan.Tag `json:"plan"`
	PaymentMethodID string   `json:"paymentMethodId"`
}

type cancelRequest struct {
	AtPeriodEnd bool `json:"atPeriodEnd"`
}

type updatePlanRequest struct {
	Plan plan.Tag `json:"plan"`
}

type statusResponse struct {
	HasActiveSubscription bool       `json:"hasActiveSubscription"`
	Status                string     `json:"status"`
	Plan                  plan.Tag   `json:"plan,omitempty"`
	CurrentPeriodEnd      *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd     bool       `json:"cancelAtPeriodEnd"`
	SubscriptionCount     int        `json:"subscriptionCount"`
}

func (a *API) listPlans(w http.ResponseWriter, r *http.Request) {
	handler.JSON(w, http.StatusOK, a.catalog.AllWithPricing(r.Context()))
}

func (a *API) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		handler.JSONError(w, handler.ErrUnauthorized)
		return
	}

	var req checkoutRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.JSONError(w, err)
		return
	}
	if verr := validateCheckout(req); len(verr) > 0 {
		handler.JSONError(w, verr)
		return
	}

	result, err := a.engine.StartCheckout(r.Context(), account.ID, req.Plan, req.SuccessURL, req.CancelURL)
	if err != nil {
		handler.JSONError(w, apiError(err))
		return
	}
	handler.JSON(w, http.StatusOK, result)
}

func validateCheckout(req checkoutRequest) handler.ValidationError {
	verr := handler.ValidationError{}
	if req.Plan == "" {
		verr.Add("plan", "is required")
	}
	if req.SuccessURL == "" {
		verr.Add("successUrl", "is required")
	}
	if req.CancelURL == "" {
		verr.Add("cancelUrl", "is required")
	}
	if len(verr) == 0 {
		return nil
	}
	return verr
}

func (a *API) createSubscription(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		handler.JSONError(w, handler.ErrUnauthorized)
		return
	}

	var req createSubscriptionRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.JSONError(w, err)
		return
	}
	if req.Plan == "" || req.PaymentMethodID == "" {
		verr := handler.ValidationError{}
		if req.Plan == "" {
			verr.Add("plan", "is required")
		}
		if req.PaymentMethodID == "" {
			verr.Add("paymentMethodId", "is required")
		}
		handler.JSONError(w, verr)
		return
	}

	sub, err := a.engine.CreateDirectSubscription(r.Context(), account.ID, req.Plan, req.PaymentMethodID)
	if err != nil {
		handler.JSONError(w, apiError(err))
		return
	}
	handler.JSON(w, http.StatusCreated, sub)
}

// subscriptionStatus aggregates the projection and the history count in
// parallel round-trips.
func (a *API) subscriptionStatus(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		handler.JSONError(w, handler.ErrUnauthorized)
		return
	}

	projFuture := async.Async(r.Context(), account.ID, a.engine.CurrentProjection)
	listFuture := async.Async(r.Context(), account.ID, a.engine.ListSubscriptions)

	proj, err := projFuture.Await()
	if err != nil {
		handler.JSONError(w, apiError(err))
		return
	}
	rows, err := listFuture.Await()
	if err != nil {
		handler.JSONError(w, apiError(err))
		return
	}

	handler.JSON(w, http.StatusOK, statusResponse{
		HasActiveSubscription: proj.HasActive(time.Now()),
		Status:                string(proj.Status),
		Plan:                  proj.Plan,
		CurrentPeriodEnd:      proj.CurrentPeriodEnd,
		CancelAtPeriodEnd:     proj.CancelAtPeriodEnd,
		SubscriptionCount:     len(rows),
	})
}

func (a *API) currentSubscription(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		handler.JSONError(w, handler.ErrUnauthorized)
		return
	}

	proj, err := a.engine.CurrentProjection(r.Context(), account.ID)
	if err != nil {
		handler.JSONError(w, apiError(err))
		return
	}
	handler.JSON(w, http.StatusOK, proj)
}

func (a *API) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		handler.JSONError(w, handler.ErrUnauthorized)
		return
	}

	rows, err := a.engine.ListSubscriptions(r.Context(), account.ID)
	if err != nil {
		handler.JSONError(w, apiError(err))
		return
	}
	if rows == nil {
		rows = []store.Subscription{}
	}
	handler.JSON(w, http.StatusOK, rows)
}

func (a *API) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		handler.JSONError(w, handler.ErrUnauthorized)
		return
	}

	var req cancelRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.JSONError(w, err)
		return
	}

	proj, err := a.engine.CancelSubscription(r.Context(), account.ID, chi.URLParam(r, "id"), req.AtPeriodEnd)
	if err != nil {
		handler.JSONError(w, apiError(err))
		return
	}
	handler.JSON(w, http.StatusOK, proj)
}

func (a *API) resumeSubscription(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		handler.JSONError(w, handler.ErrUnauthorized)
		return
	}

	proj, err := a.engine.ResumeSubscription(r.Context(), account.ID, chi.URLParam(r, "id"))
	if err != nil {
		handler.JSONError(w, apiError(err))
		return
	}
	handler.JSON(w, http.StatusOK, proj)
}

func (a *API) updatePlan(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		handler.JSONError(w, handler.ErrUnauthorized)
		return
	}

	var req updatePlanRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.JSONError(w, err)
		return
	}
	if req.Plan == "" {
		handler.JSONError(w, handler.ValidationError{}.Add("plan", "is required"))
		return
	}

	sub, err := a.engine.UpdatePlan(r.Context(), account.ID, chi.URLParam(r, "id"), req.Plan)
	if err != nil {
		handler.JSONError(w, apiError(err))
		return
	}
	handler.JSON(w, http.StatusOK, sub)
}

func (a *API) listInvoices(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		handler.JSONError(w, handler.ErrUnauthorized)
		return
	}

	invoices, err := a.engine.ListInvoices(r.Context(), account.ID, chi.URLParam(r, "id"))
	if err != nil {
		handler.JSONError(w, apiError(err))
		return
	}
	handler.JSON(w, http.StatusOK, invoices)
}
