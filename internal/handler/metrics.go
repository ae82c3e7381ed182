package handler

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	resultOK              = "ok"
	resultUnknownProduct  = "unknown_product"
	resultInvalidQuantity = "invalid_quantity"
	resultError           = "error"

	resultCreated       = "created"
	resultEmpty         = "empty_cart"
	resultProviderError = "provider_error"
)

type metrics struct {
	cartMutations    metric.Int64Counter
	checkoutSessions metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter("github.com/xenking/kart-storefront/internal/handler")

	mutations, err := meter.Int64Counter("storefront.cart.mutations",
		metric.WithDescription("Cart mutations by operation and result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "cart mutations counter")
	}
	sessions, err := meter.Int64Counter("storefront.checkout.sessions",
		metric.WithDescription("Checkout attempts by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "checkout sessions counter")
	}
	return &metrics{cartMutations: mutations, checkoutSessions: sessions}, nil
}

func (m *metrics) mutation(ctx context.Context, op, result string) {
	m.cartMutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("result", result),
	))
}

func (m *metrics) checkoutResult(ctx context.Context, result string) {
	m.checkoutSessions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
