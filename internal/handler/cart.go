package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-storefront/internal/domain/cart"
)

const (
	opAdd    = "add"
	opUpdate = "update"
	opRemove = "remove"
	opClear  = "clear"
)

// Index renders the catalog.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	c, err := h.sessions.View(r.Context(), r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.views.render(w, r, http.StatusOK, pageIndex, indexData{
		Layout:   Layout{Title: "Shop", CartQuantity: c.TotalQuantity()},
		Products: productViews(h.catalog.List()),
	})
}

// Cart renders the cart with its totals.
func (h *Handler) Cart(w http.ResponseWriter, r *http.Request) {
	c, err := h.sessions.View(r.Context(), r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.renderCart(w, r, http.StatusOK, c, "")
}

func (h *Handler) renderCart(w http.ResponseWriter, r *http.Request, status int, c *cart.Cart, notice string) {
	h.views.render(w, r, status, pageCart, newCartData(c, h.catalog, notice))
}

// AddToCart adds form.quantity (default 1) of a product.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(r)
	if !ok {
		h.finishMutation(w, r, opAdd, &cart.UnknownProductError{})
		return
	}
	qty, err := formQuantity(r, 1)
	if err != nil {
		h.finishMutation(w, r, opAdd, &cart.InvalidQuantityError{ProductID: id})
		return
	}
	err = h.sessions.Update(r.Context(), w, r, func(c *cart.Cart) error {
		return c.Add(h.catalog, id, qty)
	})
	h.finishMutation(w, r, opAdd, err)
}

// UpdateCart sets a line's quantity, floored at 1. Unknown products and
// unparseable quantities leave the cart as it is.
func (h *Handler) UpdateCart(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(r)
	if !ok {
		redirect(w, r, "/cart")
		return
	}
	qty, err := formQuantity(r, 1)
	if err != nil {
		h.finishMutation(w, r, opUpdate, &cart.InvalidQuantityError{ProductID: id})
		return
	}
	err = h.sessions.Update(r.Context(), w, r, func(c *cart.Cart) error {
		c.UpdateQuantity(id, qty)
		return nil
	})
	h.finishMutation(w, r, opUpdate, err)
}

// RemoveFromCart drops a line.
func (h *Handler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(r)
	if !ok {
		redirect(w, r, "/cart")
		return
	}
	err := h.sessions.Update(r.Context(), w, r, func(c *cart.Cart) error {
		c.Remove(id)
		return nil
	})
	h.finishMutation(w, r, opRemove, err)
}

// finishMutation records the outcome and redirects to the cart. Domain
// rejections are not errors from the user's point of view: the cart is
// simply shown unchanged.
func (h *Handler) finishMutation(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()

	var (
		unknownErr  *cart.UnknownProductError
		quantityErr *cart.InvalidQuantityError
	)
	switch {
	case err == nil:
		h.metrics.mutation(ctx, op, resultOK)
	case errors.As(err, &unknownErr):
		h.metrics.mutation(ctx, op, resultUnknownProduct)
		zctx.From(ctx).Info("Cart mutation rejected",
			zap.String("op", op),
			zap.Int64("product_id", unknownErr.ProductID),
			zap.Error(err),
		)
	case errors.As(err, &quantityErr):
		h.metrics.mutation(ctx, op, resultInvalidQuantity)
		zctx.From(ctx).Info("Cart mutation rejected",
			zap.String("op", op),
			zap.Int64("product_id", quantityErr.ProductID),
			zap.Error(err),
		)
	default:
		h.metrics.mutation(ctx, op, resultError)
		h.fail(w, r, err)
		return
	}
	redirect(w, r, "/cart")
}
