package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/dmitrymomot/fitcore/pkg/logger"
	"github.com/dmitrymomot/fitcore/svc/billing/plan"
)

// Config holds provider credentials and request tuning.
type Config struct {
	SecretKey     string        `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET,required"`
	Timeout       time.Duration `env:"STRIPE_TIMEOUT" envDefault:"10s"`
	MaxRetries    int64         `env:"STRIPE_MAX_RETRIES" envDefault:"2"`
}

// StripeGateway implements Gateway against the Stripe API. The client is
// initialized lazily so construction never performs I/O.
type StripeGateway struct {
	cfg Config
	log *slog.Logger

	once sync.Once
	api  *client.API
}

var _ Gateway = (*StripeGateway)(nil)
var _ plan.PriceSource = (*StripeGateway)(nil)

// NewStripeGateway creates the gateway. It does not contact the provider.
func NewStripeGateway(cfg Config, log *slog.Logger) *StripeGateway {
	return &StripeGateway{cfg: cfg, log: log}
}

// Environment reports test or production mode from the secret key prefix.
func (g *StripeGateway) Environment() Environment {
	if strings.HasPrefix(g.cfg.SecretKey, "sk_test_") {
		return EnvTest
	}
	return EnvProduction
}

func (g *StripeGateway) client() *client.API {
	g.once.Do(func() {
		backends := &stripe.Backends{
			API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
				MaxNetworkRetries: stripe.Int64(g.cfg.MaxRetries),
			}),
			Connect: stripe.GetBackend(stripe.ConnectBackend),
			Uploads: stripe.GetBackend(stripe.UploadsBackend),
		}
		g.api = &client.API{}
		g.api.Init(g.cfg.SecretKey, backends)
	})
	return g.api
}

func (g *StripeGateway) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.cfg.Timeout)
}

// FindOrCreateCustomer looks up a customer by email and creates one when
// none exists. When a payment method id is supplied it is attached and set
// as the default for invoices.
func (g *StripeGateway) FindOrCreateCustomer(ctx context.Context, email string, metadata map[string]string, paymentMethodID string) (Customer, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	listParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)

	iter := g.client().Customers.List(listParams)
	for iter.Next() {
		c := iter.Customer()
		if c.Deleted {
			continue
		}
		if paymentMethodID != "" {
			if err := g.attachDefaultPaymentMethod(ctx, c.ID, paymentMethodID); err != nil {
				return Customer{}, err
			}
		}
		return Customer{ID: c.ID, Email: c.Email}, nil
	}
	if err := iter.Err(); err != nil {
		return Customer{}, classify(err)
	}

	createParams := &stripe.CustomerParams{Email: stripe.String(email)}
	createParams.Context = ctx
	for k, v := range metadata {
		createParams.AddMetadata(k, v)
	}

	c, err := g.client().Customers.New(createParams)
	if err != nil {
		return Customer{}, classify(err)
	}
	if paymentMethodID != "" {
		if err := g.attachDefaultPaymentMethod(ctx, c.ID, paymentMethodID); err != nil {
			return Customer{}, err
		}
	}

	g.log.InfoContext(ctx, "created provider customer",
		logger.Component("stripe_gateway"),
		slog.String("customer_id", c.ID))
	return Customer{ID: c.ID, Email: c.Email}, nil
}

func (g *StripeGateway) attachDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	attachParams := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	attachParams.Context = ctx
	if _, err := g.client().PaymentMethods.Attach(paymentMethodID, attachParams); err != nil {
		return classify(err)
	}

	updateParams := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	updateParams.Context = ctx
	if _, err := g.client().Customers.Update(customerID, updateParams); err != nil {
		return classify(err)
	}
	return nil
}

// RetrieveCustomer fetches a customer by provider id. Deleted customers are
// returned with the Deleted flag set rather than as an error.
func (g *StripeGateway) RetrieveCustomer(ctx context.Context, id string) (Customer, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.CustomerParams{}
	params.Context = ctx

	c, err := g.client().Customers.Get(id, params)
	if err != nil {
		return Customer{}, classify(err)
	}
	return Customer{ID: c.ID, Email: c.Email, Deleted: c.Deleted}, nil
}

// ActiveRecurringPrices implements plan.PriceSource.
func (g *StripeGateway) ActiveRecurringPrices(ctx context.Context, productID string) ([]plan.ProviderPrice, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.PriceListParams{
		Product: stripe.String(productID),
		Active:  stripe.Bool(true),
		Type:    stripe.String(string(stripe.PriceTypeRecurring)),
	}
	params.Context = ctx

	var out []plan.ProviderPrice
	iter := g.client().Prices.List(params)
	for iter.Next() {
		p := iter.Price()
		out = append(out, plan.ProviderPrice{
			ID:         p.ID,
			UnitAmount: p.UnitAmount,
			Currency:   plan.Currency(p.Currency),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// CreateSubscription creates a subscription directly, without checkout.
func (g *StripeGateway) CreateSubscription(ctx context.Context, customerID, priceID string, opts SubscriptionOptions) (Subscription, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
		PaymentBehavior: stripe.String("error_if_incomplete"),
	}
	params.Context = ctx
	if opts.PaymentMethodID != "" {
		params.DefaultPaymentMethod = stripe.String(opts.PaymentMethodID)
	}
	for k, v := range opts.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := g.client().Subscriptions.New(params)
	if err != nil {
		return Subscription{}, classify(err)
	}
	return normalizeSubscription(s), nil
}

// RetrieveSubscription fetches a subscription by provider id.
func (g *StripeGateway) RetrieveSubscription(ctx context.Context, id string) (Subscription, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	s, err := g.client().Subscriptions.Get(id, params)
	if err != nil {
		return Subscription{}, classify(err)
	}
	return normalizeSubscription(s), nil
}

// UpdateSubscriptionPrice swaps the subscription onto a new price with
// prorations for the unused portion of the current period.
func (g *StripeGateway) UpdateSubscriptionPrice(ctx context.Context, id, priceID string) (Subscription, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx
	s, err := g.client().Subscriptions.Get(id, getParams)
	if err != nil {
		return Subscription{}, classify(err)
	}
	if len(s.Items.Data) == 0 {
		return Subscription{}, ErrProvider
	}

	params := &stripe.SubscriptionParams{
		ProrationBehavior: stripe.String("create_prorations"),
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(s.Items.Data[0].ID),
				Price: stripe.String(priceID),
			},
		},
	}
	params.Context = ctx

	updated, err := g.client().Subscriptions.Update(id, params)
	if err != nil {
		return Subscription{}, classify(err)
	}
	return normalizeSubscription(updated), nil
}

// CancelSubscription cancels a subscription, either at period end by
// flipping the cancellation flag or immediately.
func (g *StripeGateway) CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) (Subscription, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	if atPeriodEnd {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		s, err := g.client().Subscriptions.Update(id, params)
		if err != nil {
			return Subscription{}, classify(err)
		}
		return normalizeSubscription(s), nil
	}

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	s, err := g.client().Subscriptions.Cancel(id, params)
	if err != nil {
		return Subscription{}, classify(err)
	}
	return normalizeSubscription(s), nil
}

// ResumeSubscription clears a pending period-end cancellation.
func (g *StripeGateway) ResumeSubscription(ctx context.Context, id string) (Subscription, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(false)}
	params.Context = ctx

	s, err := g.client().Subscriptions.Update(id, params)
	if err != nil {
		return Subscription{}, classify(err)
	}
	return normalizeSubscription(s), nil
}

// CreateCheckoutSession creates a hosted checkout session.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (CheckoutSession, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	quantity := p.Quantity
	if quantity == 0 {
		quantity = 1
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(p.Mode),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(quantity),
			},
		},
	}
	params.Context = ctx
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := g.client().CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, classify(err)
	}
	return normalizeCheckoutSession(s), nil
}

// ListInvoices returns invoices for a provider subscription, newest first.
func (g *StripeGateway) ListInvoices(ctx context.Context, subscriptionID string) ([]Invoice, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	params := &stripe.InvoiceListParams{Subscription: stripe.String(subscriptionID)}
	params.Context = ctx

	var out []Invoice
	iter := g.client().Invoices.List(params)
	for iter.Next() {
		inv := iter.Invoice()
		out = append(out, Invoice{
			ID:               inv.ID,
			Number:           inv.Number,
			Status:           string(inv.Status),
			AmountPaid:       inv.AmountPaid,
			AmountDue:        inv.AmountDue,
			Currency:         string(inv.Currency),
			CreatedAt:        time.Unix(inv.Created, 0).UTC(),
			HostedInvoiceURL: inv.HostedInvoiceURL,
			PDFURL:           inv.InvoicePDF,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// VerifyWebhook checks the signature over the raw payload and returns the
// normalized event. Signature failures map to ErrBadSignature.
func (g *StripeGateway) VerifyWebhook(payload []byte, signature string) (Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, errors.Join(ErrBadSignature, err)
	}
	return Event{
		ID:        event.ID,
		Type:      string(event.Type),
		CreatedAt: time.Unix(event.Created, 0).UTC(),
		Raw:       event.Data.Raw,
	}, nil
}

func normalizeSubscription(s *stripe.Subscription) Subscription {
	sub := Subscription{
		ID:                 s.ID,
		Status:             string(s.Status),
		CurrentPeriodStart: time.Unix(s.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(s.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
	}
	if s.Customer != nil {
		sub.CustomerID = s.Customer.ID
	}
	if s.CanceledAt > 0 {
		t := time.Unix(s.CanceledAt, 0).UTC()
		sub.CanceledAt = &t
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		price := s.Items.Data[0].Price
		sub.PriceID = price.ID
		sub.Amount = price.UnitAmount
		sub.Currency = string(price.Currency)
		if price.Product != nil {
			sub.ProductID = price.Product.ID
		}
	}
	return sub
}

func normalizeCheckoutSession(s *stripe.CheckoutSession) CheckoutSession {
	cs := CheckoutSession{
		ID:       s.ID,
		URL:      s.URL,
		Mode:     string(s.Mode),
		Metadata: s.Metadata,
	}
	if s.Customer != nil {
		cs.CustomerID = s.Customer.ID
	}
	if s.Subscription != nil {
		cs.SubscriptionID = s.Subscription.ID
	}
	return cs
}

func classify(err error) error {
	if err == nil {
		return nil
	}

	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		switch {
		case sErr.Code == stripe.ErrorCodeResourceMissing:
			return errors.Join(ErrNotFound, err)
		case sErr.Type == stripe.ErrorTypeCard || sErr.Code == stripe.ErrorCodeCardDeclined:
			return errors.Join(ErrInvalidPaymentMethod, err)
		case sErr.Type == stripe.ErrorTypeIdempotency || sErr.HTTPStatusCode == 409:
			return errors.Join(ErrConflict, err)
		case sErr.HTTPStatusCode >= 500:
			return errors.Join(ErrNetwork, err)
		default:
			return errors.Join(ErrProvider, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrNetwork, err)
	}
	return errors.Join(ErrProvider, err)
}
