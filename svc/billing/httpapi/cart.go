package httpapi

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/fitcore/handler"
	"github.com/dmitrymomot/fitcore/svc/auth"
	"github.com/dmitrymomot/fitcore/svc/cart"
)

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

func (a *API) getCart(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		handler.JSONError(w, handler.ErrUnauthorized)
		return
	}

	c, err := a.carts.Load(r.Context(), account.ID)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			handler.JSON(w, http.StatusOK, cart.Cart{UserID: account.ID, Items: []cart.Item{}})
			return
		}
		handler.JSONError(w, err)
		return
	}
	handler.JSON(w, http.StatusOK, c)
}

func (a *API) addCartItem(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		handler.JSONError(w, handler.ErrUnauthorized)
		return
	}

	var req addItemRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.JSONError(w, err)
		return
	}
	verr := handler.ValidationError{}
	if req.ProductID == "" {
		verr.Add("productId", "is required")
	}
	if req.Quantity <= 0 {
		verr.Add("quantity", "must be positive")
	}
	if len(verr) > 0 {
		handler.JSONError(w, verr)
		return
	}

	c, err := a.carts.AddItem(r.Context(), account.ID, cart.Item{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Amount:    req.Amount,
		Currency:  req.Currency,
	})
	if err != nil {
		handler.JSONError(w, err)
		return
	}
	handler.JSON(w, http.StatusOK, c)
}

func (a *API) clearCart(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		handler.JSONError(w, handler.ErrUnauthorized)
		return
	}

	if err := a.carts.Clear(r.Context(), account.ID); err != nil {
		handler.JSONError(w, err)
		return
	}
	handler.JSON(w, http.StatusOK, map[string]bool{"cleared": true})
}
