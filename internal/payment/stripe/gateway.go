// Package stripe creates hosted Stripe Checkout sessions.
package stripe

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-storefront/internal/domain/checkout"
)

const providerName = "stripe"

var _ checkout.Gateway = (*Gateway)(nil)

// Config configures the Stripe client.
type Config struct {
	APIKey string
	// BackendURL overrides the Stripe API endpoint. Empty means production.
	BackendURL         string
	// Timeout bounds each session creation, independent of the HTTP
	// client's own timeout. Zero means no extra deadline.
	Timeout            time.Duration
	PaymentMethodTypes []string
	// MaxFailures consecutive provider failures open the breaker for
	// OpenTimeout.
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Gateway implements checkout.Gateway on top of stripe-go.
type Gateway struct {
	api     *client.API
	breaker *gobreaker.CircuitBreaker[*stripego.CheckoutSession]
	methods []string
	timeout time.Duration
	lg      *zap.Logger
}

// NewHTTPClient returns an instrumented client with the given timeout.
func NewHTTPClient(timeout time.Duration, tp trace.TracerProvider, mp metric.MeterProvider) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithTracerProvider(tp),
			otelhttp.WithMeterProvider(mp),
		),
	}
}

// New creates a Gateway. Network retries are disabled: a failed checkout is
// reported to the user, who may retry.
func New(cfg Config, httpClient *http.Client, lg *zap.Logger) *Gateway {
	backendCfg := &stripego.BackendConfig{
		HTTPClient:        httpClient,
		LeveledLogger:     lg.Named("client").Sugar(),
		MaxNetworkRetries: stripego.Int64(0),
		EnableTelemetry:   stripego.Bool(false),
	}
	if cfg.BackendURL != "" {
		backendCfg.URL = stripego.String(cfg.BackendURL)
	}
	backend := stripego.GetBackendWithConfig(stripego.APIBackend, backendCfg)

	api := &client.API{}
	api.Init(cfg.APIKey, &stripego.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})

	methods := cfg.PaymentMethodTypes
	if len(methods) == 0 {
		methods = []string{"card"}
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	g := &Gateway{api: api, methods: methods, timeout: cfg.Timeout, lg: lg}
	g.breaker = gobreaker.NewCircuitBreaker[*stripego.CheckoutSession](gobreaker.Settings{
		Name:    providerName,
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: isProviderHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return g
}

// CreateSession implements checkout.Gateway.
func (g *Gateway) CreateSession(ctx context.Context, req *checkout.Request) (*checkout.Session, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	params := g.sessionParams(req)
	params.Context = ctx

	sess, err := g.breaker.Execute(func() (*stripego.CheckoutSession, error) {
		return g.api.CheckoutSessions.New(params)
	})
	if err != nil {
		return nil, toProviderError(err)
	}

	g.lg.Debug("Checkout session created", zap.String("session_id", sess.ID))
	return &checkout.Session{ID: sess.ID, URL: sess.URL}, nil
}

// State returns the breaker state for health reporting.
func (g *Gateway) State() gobreaker.State {
	return g.breaker.State()
}

// Check fails while the breaker is open. It never calls Stripe.
func (g *Gateway) Check(context.Context) error {
	if st := g.breaker.State(); st == gobreaker.StateOpen {
		return errors.Errorf("%s circuit breaker is %s", providerName, st)
	}
	return nil
}

func (g *Gateway) sessionParams(req *checkout.Request) *stripego.CheckoutSessionParams {
	lineItems := make([]*stripego.CheckoutSessionLineItemParams, len(req.LineItems))
	for i, item := range req.LineItems {
		lineItems[i] = &stripego.CheckoutSessionLineItemParams{
			PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
				Currency: stripego.String(req.Currency),
				ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripego.String(item.Name),
				},
				UnitAmount: stripego.Int64(item.UnitAmount),
			},
			Quantity: stripego.Int64(item.Quantity),
		}
	}

	shipping := req.Shipping
	return &stripego.CheckoutSessionParams{
		Mode:               stripego.String(string(stripego.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripego.StringSlice(g.methods),
		LineItems:          lineItems,
		ShippingAddressCollection: &stripego.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripego.StringSlice(req.AllowedCountries),
		},
		ShippingOptions: []*stripego.CheckoutSessionShippingOptionParams{{
			ShippingRateData: &stripego.CheckoutSessionShippingOptionShippingRateDataParams{
				DisplayName: stripego.String(shipping.DisplayName),
				Type:        stripego.String("fixed_amount"),
				FixedAmount: &stripego.CheckoutSessionShippingOptionShippingRateDataFixedAmountParams{
					Amount:   stripego.Int64(shipping.Amount),
					Currency: stripego.String(req.Currency),
				},
				DeliveryEstimate: &stripego.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateParams{
					Minimum: &stripego.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateMinimumParams{
						Unit:  stripego.String("business_day"),
						Value: stripego.Int64(shipping.MinBusinessDays),
					},
					Maximum: &stripego.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateMaximumParams{
						Unit:  stripego.String("business_day"),
						Value: stripego.Int64(shipping.MaxBusinessDays),
					},
				},
			},
		}},
		SuccessURL: stripego.String(req.SuccessURL),
		CancelURL:  stripego.String(req.CancelURL),
	}
}

// isProviderHealthy tells the breaker which failures are the caller's fault.
// Rejected requests prove Stripe is up and must not open the breaker.
func isProviderHealthy(err error) bool {
	if err == nil {
		return true
	}
	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripego.ErrorTypeInvalidRequest, stripego.ErrorTypeCard:
			return true
		}
	}
	return false
}

func toProviderError(err error) *checkout.ProviderError {
	pe := &checkout.ProviderError{Provider: providerName, Err: err}

	var stripeErr *stripego.Error
	switch {
	case errors.As(err, &stripeErr):
		pe.Detail = stripeErr.Msg
		if pe.Detail == "" {
			pe.Detail = string(stripeErr.Type)
		}
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		pe.Detail = "temporarily unavailable"
	}
	return pe
}
