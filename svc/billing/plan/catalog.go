package plan

import (
	"context"
	_ "embed"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/fitcore/pkg/logger"
)

//go:embed fallback.yaml
var fallbackYAML []byte

// Config maps plans to provider identifiers. Either the price id or the
// product id must be set for a paid plan; with only a product id the
// price is resolved against the provider at runtime.
type Config struct {
	Price1Month    string `env:"STRIPE_PRICE_1_MONTH"`
	Price3Month    string `env:"STRIPE_PRICE_3_MONTH"`
	Price6Month    string `env:"STRIPE_PRICE_6_MONTH"`
	Price12Month   string `env:"STRIPE_PRICE_12_MONTH"`
	Product1Month  string `env:"STRIPE_PRODUCT_1_MONTH"`
	Product3Month  string `env:"STRIPE_PRODUCT_3_MONTH"`
	Product6Month  string `env:"STRIPE_PRODUCT_6_MONTH"`
	Product12Month string `env:"STRIPE_PRODUCT_12_MONTH"`
}

// ProviderPrice is the normalized shape of an active recurring provider price.
type ProviderPrice struct {
	ID         string
	UnitAmount int64
	Currency   Currency
}

// PriceSource lists the active recurring prices attached to a provider
// product. Implemented by the provider gateway.
type PriceSource interface {
	ActiveRecurringPrices(ctx context.Context, productID string) ([]ProviderPrice, error)
}

type fallbackFile struct {
	Plans []struct {
		Tag            Tag      `yaml:"tag"`
		DurationMonths int      `yaml:"duration_months"`
		Amount         int64    `yaml:"amount"`
		Currency       Currency `yaml:"currency"`
	} `yaml:"plans"`
}

// Catalog is the fixed plan enumeration with runtime price resolution and
// static fallback pricing.
type Catalog struct {
	cfg    Config
	prices PriceSource
	log    *slog.Logger

	fallback map[Tag]Plan

	mu       sync.RWMutex
	resolved map[Tag]string // tag -> provider price id resolved at runtime
}

// NewCatalog builds the catalog from the embedded fallback table.
func NewCatalog(cfg Config, prices PriceSource, log *slog.Logger) (*Catalog, error) {
	var f fallbackFile
	if err := yaml.Unmarshal(fallbackYAML, &f); err != nil {
		return nil, err
	}

	fallback := make(map[Tag]Plan, len(f.Plans))
	for _, p := range f.Plans {
		currency := p.Currency
		if currency == "" {
			currency = USD
		}
		fallback[p.Tag] = Plan{
			Tag:            p.Tag,
			DurationMonths: p.DurationMonths,
			Amount:         p.Amount,
			Currency:       currency,
			DisplayPrice:   displayPrice(p.Amount, currency),
		}
	}

	return &Catalog{
		cfg:      cfg,
		prices:   prices,
		log:      log,
		fallback: fallback,
		resolved: make(map[Tag]string),
	}, nil
}

// Get is total over the fixed enumeration and returns ErrInvalidPlan only
// for tags outside the set. No provider call is made; paid plans carry
// fallback pricing and configured identifiers.
func (c *Catalog) Get(tag Tag) (Plan, error) {
	if !tag.Valid() {
		return Plan{}, ErrInvalidPlan
	}
	if tag == Free {
		return Plan{Tag: Free, Currency: USD, DisplayPrice: displayPrice(0, USD)}, nil
	}

	p := c.fallback[tag]
	p.PriceID = c.configuredPriceID(tag)
	p.ProductID = c.configuredProductID(tag)
	return p, nil
}

// ResolvePriceID queries the provider for the one active recurring price
// of a product. It returns "" rather than an error when the provider
// denies the request or the product has no active recurring price; the
// caller falls back to static pricing.
func (c *Catalog) ResolvePriceID(ctx context.Context, productID string) string {
	if productID == "" || c.prices == nil {
		return ""
	}
	prices, err := c.prices.ActiveRecurringPrices(ctx, productID)
	if err != nil {
		c.log.WarnContext(ctx, "price resolution failed, using fallback pricing",
			logger.Component("plan_catalog"),
			slog.String("product_id", productID),
			logger.Error(err))
		return ""
	}
	if len(prices) == 0 {
		return ""
	}
	return prices[0].ID
}

// PriceIDFor returns the provider price id for a paid plan: the configured
// price id when present, otherwise resolved through the configured product
// id. Returns "" when neither yields a price.
func (c *Catalog) PriceIDFor(ctx context.Context, tag Tag) string {
	if !tag.Paid() {
		return ""
	}
	if id := c.configuredPriceID(tag); id != "" {
		return id
	}

	c.mu.RLock()
	id, ok := c.resolved[tag]
	c.mu.RUnlock()
	if ok {
		return id
	}

	id = c.ResolvePriceID(ctx, c.configuredProductID(tag))
	if id != "" {
		c.mu.Lock()
		c.resolved[tag] = id
		c.mu.Unlock()
	}
	return id
}

// TagForPriceID maps a provider price id back to a plan tag: runtime-
// resolved price ids first, then the configured STRIPE_PRICE_<N> mapping.
// Unknown price ids map to Unknown, never to Free.
func (c *Catalog) TagForPriceID(priceID string) Tag {
	if priceID == "" {
		return Unknown
	}

	c.mu.RLock()
	for tag, id := range c.resolved {
		if id == priceID {
			c.mu.RUnlock()
			return tag
		}
	}
	c.mu.RUnlock()

	for _, tag := range Tags {
		if tag.Paid() && c.configuredPriceID(tag) == priceID {
			return tag
		}
	}
	return Unknown
}

// AllWithPricing returns every plan with display pricing and savings
// relative to the monthly rate. Provider pricing is preferred; fallback
// amounts are used when resolution fails.
func (c *Catalog) AllWithPricing(ctx context.Context) []Plan {
	plans := make([]Plan, 0, len(Tags))

	monthly := c.pricedPlan(ctx, OneMonth)

	for _, tag := range Tags {
		if tag == Free {
			free, _ := c.Get(Free)
			plans = append(plans, free)
			continue
		}
		p := c.pricedPlan(ctx, tag)
		if monthly.Amount > 0 && p.DurationMonths > 1 {
			perMonth := p.Amount / int64(p.DurationMonths)
			p.SavingsPercent = int((monthly.Amount - perMonth) * 100 / monthly.Amount)
		}
		plans = append(plans, p)
	}
	return plans
}

func (c *Catalog) pricedPlan(ctx context.Context, tag Tag) Plan {
	p, _ := c.Get(tag)
	if c.prices == nil {
		return p
	}

	productID := c.configuredProductID(tag)
	if productID == "" {
		return p
	}
	prices, err := c.prices.ActiveRecurringPrices(ctx, productID)
	if err != nil || len(prices) == 0 {
		return p
	}
	p.PriceID = prices[0].ID
	p.Amount = prices[0].UnitAmount
	if prices[0].Currency != "" {
		p.Currency = prices[0].Currency
	}
	p.DisplayPrice = displayPrice(p.Amount, p.Currency)

	c.mu.Lock()
	c.resolved[tag] = prices[0].ID
	c.mu.Unlock()

	return p
}

func (c *Catalog) configuredPriceID(tag Tag) string {
	switch tag {
	case OneMonth:
		return c.cfg.Price1Month
	case ThreeMonth:
		return c.cfg.Price3Month
	case SixMonth:
		return c.cfg.Price6Month
	case TwelveMonth:
		return c.cfg.Price12Month
	}
	return ""
}

func (c *Catalog) configuredProductID(tag Tag) string {
	switch tag {
	case OneMonth:
		return c.cfg.Product1Month
	case ThreeMonth:
		return c.cfg.Product3Month
	case SixMonth:
		return c.cfg.Product6Month
	case TwelveMonth:
		return c.cfg.Product12Month
	}
	return ""
}
