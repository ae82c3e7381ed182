package checkout

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-storefront/internal/domain/cart"
)

// Service builds checkout requests and submits them to the payment gateway.
type Service struct {
	builder *Builder
	gateway Gateway
}

// NewService creates a checkout Service.
func NewService(builder *Builder, gateway Gateway) *Service {
	return &Service{builder: builder, gateway: gateway}
}

// Submit sends the request to the gateway and returns the URL the browser
// must be redirected to. Gateway failures are returned as *ProviderError.
// There is no automatic retry.
func (s *Service) Submit(ctx context.Context, req *Request) (string, error) {
	sess, err := s.gateway.CreateSession(ctx, req)
	if err != nil {
		var provErr *ProviderError
		if errors.As(err, &provErr) {
			return "", provErr
		}
		return "", &ProviderError{Provider: "gateway", Err: err}
	}
	if sess == nil || sess.URL == "" {
		return "", &ProviderError{Provider: "gateway", Detail: "session has no redirect url"}
	}
	return sess.URL, nil
}

// Checkout builds a request from the cart and submits it. The cart itself is
// only read; clearing it is left to the success callback.
func (s *Service) Checkout(ctx context.Context, c *cart.Cart, redirects Redirects) (string, error) {
	req, err := s.builder.Build(c, redirects)
	if err != nil {
		return "", err
	}
	return s.Submit(ctx, req)
}

// Complete handles the provider's success redirect by emptying the cart.
func (s *Service) Complete(c *cart.Cart) {
	c.Clear()
}
