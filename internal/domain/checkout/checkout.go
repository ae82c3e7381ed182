package checkout

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/product"
)

// ErrEmptyCart is returned when checkout is attempted with no cart lines.
var ErrEmptyCart = errors.New("cart is empty")

// ProviderError reports a failure of the external payment provider. The cart
// is never modified when it is returned, so the user may retry.
type ProviderError struct {
	Provider string
	// Detail is the provider's own error message, when it sent one.
	Detail string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("payment provider %s: %s", e.Provider, e.Detail)
	}
	return fmt.Sprintf("payment provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// LineItem is one purchasable entry of a checkout session.
type LineItem struct {
	Name string
	// UnitAmount is the unit price in minor currency units.
	UnitAmount int64
	Quantity   int64
}

// ShippingOption is a fixed-amount shipping rate.
type ShippingOption struct {
	DisplayName string
	// Amount is in minor currency units.
	Amount int64
	// MinBusinessDays and MaxBusinessDays bound the delivery estimate.
	MinBusinessDays int64
	MaxBusinessDays int64
}

// Redirects holds the URLs the provider sends the browser back to.
type Redirects struct {
	SuccessURL string
	CancelURL  string
}

// Request is an immutable description of a hosted checkout session.
type Request struct {
	Currency         string
	LineItems        []LineItem
	Shipping         ShippingOption
	AllowedCountries []string
	Redirects
}

// Session is the provider's answer to a session-creation call.
type Session struct {
	ID  string
	URL string
}

// Gateway creates hosted checkout sessions at an external payment provider.
type Gateway interface {
	CreateSession(ctx context.Context, req *Request) (*Session, error)
}

// Config holds the fixed parts of every checkout request.
type Config struct {
	Currency         string
	Shipping         ShippingOption
	AllowedCountries []string
}

// DefaultConfig returns the storefront defaults: euro pricing, 5.00 standard
// shipping within 3-7 business days, delivery to SK, CZ and DE.
func DefaultConfig() Config {
	return Config{
		Currency: "eur",
		Shipping: ShippingOption{
			DisplayName:     "Standard Shipping",
			Amount:          500,
			MinBusinessDays: 3,
			MaxBusinessDays: 7,
		},
		AllowedCountries: []string{"SK", "CZ", "DE"},
	}
}

// Builder turns carts into checkout requests.
type Builder struct {
	catalog product.Finder
	cfg     Config
}

// NewBuilder creates a Builder resolving products against catalog.
func NewBuilder(catalog product.Finder, cfg Config) *Builder {
	return &Builder{catalog: catalog, cfg: cfg}
}

// Build snapshots the cart into a Request. It returns ErrEmptyCart when the
// cart has no lines that resolve against the catalog.
func (b *Builder) Build(c *cart.Cart, redirects Redirects) (*Request, error) {
	items := c.Lines(b.catalog)
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	lineItems := make([]LineItem, len(items))
	for i, item := range items {
		lineItems[i] = LineItem{
			Name:       item.Product.Name,
			UnitAmount: MinorUnits(item.Product.Price),
			Quantity:   int64(item.Quantity),
		}
	}

	countries := make([]string, len(b.cfg.AllowedCountries))
	copy(countries, b.cfg.AllowedCountries)

	return &Request{
		Currency:         b.cfg.Currency,
		LineItems:        lineItems,
		Shipping:         b.cfg.Shipping,
		AllowedCountries: countries,
		Redirects:        redirects,
	}, nil
}

// MinorUnits converts a currency amount to minor units, rounding half away
// from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
