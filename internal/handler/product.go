package handler

import (
	"net/http"
)

// Product renders a single product with an add-to-cart form.
func (h *Handler) Product(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	p, ok := h.catalog.Find(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	c, err := h.sessions.View(r.Context(), r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.views.render(w, r, http.StatusOK, pageProduct, productData{
		Layout:  Layout{Title: p.Name, CartQuantity: c.TotalQuantity()},
		Product: newProductView(p),
	})
}
