package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/checkout"
)

const checkoutFailedNotice = "We could not reach the payment provider. Your cart is unchanged, please try again."

// Checkout creates a hosted payment session for the cart and redirects the
// browser to it. An empty cart goes back to the catalog.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	c, err := h.sessions.View(ctx, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	url, err := h.checkout.Checkout(ctx, c, h.redirects(r))
	if err != nil {
		var provErr *checkout.ProviderError
		switch {
		case errors.Is(err, checkout.ErrEmptyCart):
			h.metrics.checkoutResult(ctx, resultEmpty)
			redirect(w, r, "/")
		case errors.As(err, &provErr):
			h.metrics.checkoutResult(ctx, resultProviderError)
			lg.Warn("Checkout failed",
				zap.String("provider", provErr.Provider),
				zap.String("detail", provErr.Detail),
				zap.Error(err),
			)
			h.renderCart(w, r, http.StatusBadGateway, c, checkoutFailedNotice)
		default:
			h.metrics.checkoutResult(ctx, resultError)
			h.fail(w, r, err)
		}
		return
	}

	h.metrics.checkoutResult(ctx, resultCreated)
	lg.Info("Checkout session created", zap.Int("lines", c.Len()))
	redirect(w, r, url)
}

// Success is the provider's redirect target after payment. It empties the
// cart and shows a confirmation.
func (h *Handler) Success(w http.ResponseWriter, r *http.Request) {
	err := h.sessions.Update(r.Context(), w, r, func(c *cart.Cart) error {
		h.checkout.Complete(c)
		return nil
	})
	if err != nil {
		h.metrics.mutation(r.Context(), opClear, resultError)
		h.fail(w, r, err)
		return
	}
	h.metrics.mutation(r.Context(), opClear, resultOK)
	h.views.render(w, r, http.StatusOK, pageSuccess, Layout{Title: "Thank you"})
}

// redirects returns the absolute success and cancel URLs.
func (h *Handler) redirects(r *http.Request) checkout.Redirects {
	base := h.cfg.BaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return checkout.Redirects{
		SuccessURL: base + "/success",
		CancelURL:  base + "/cart",
	}
}
