package handler

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/product"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	pageIndex   = "index"
	pageCart    = "cart"
	pageProduct = "product"
	pageSuccess = "success"
)

// views holds one template set per page, each combined with the layout.
type views struct {
	pages map[string]*template.Template
}

func parseViews() (*views, error) {
	layout, err := template.ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, errors.Wrap(err, "layout")
	}
	v := &views{pages: make(map[string]*template.Template)}
	for _, name := range []string{pageIndex, pageCart, pageProduct, pageSuccess} {
		t, err := layout.Clone()
		if err != nil {
			return nil, errors.Wrapf(err, "clone layout for %s", name)
		}
		if _, err := t.ParseFS(templateFS, "templates/"+name+".html"); err != nil {
			return nil, errors.Wrapf(err, "page %s", name)
		}
		v.pages[name] = t
	}
	return v, nil
}

// render executes a page into a buffer first so a template error can still
// produce a clean 500.
func (v *views) render(w http.ResponseWriter, r *http.Request, status int, page string, data any) {
	t, ok := v.pages[page]
	if !ok {
		zctx.From(r.Context()).Error("Unknown page", zap.String("page", page))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		zctx.From(r.Context()).Error("Render page", zap.String("page", page), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// Layout is shared by every page.
type Layout struct {
	Title        string
	CartQuantity int
}

type productView struct {
	ID          int64
	Name        string
	Price       string
	Description string
	Image       string
}

func newProductView(p product.Product) productView {
	return productView{
		ID:          p.ID,
		Name:        p.Name,
		Price:       cart.FormatPrice(p.Price),
		Description: p.Description,
		Image:       p.Image,
	}
}

func productViews(products []product.Product) []productView {
	out := make([]productView, len(products))
	for i, p := range products {
		out[i] = newProductView(p)
	}
	return out
}

type indexData struct {
	Layout
	Products []productView
}

type productData struct {
	Layout
	Product productView
}

type lineView struct {
	Product  productView
	Quantity int
	Subtotal string
}

type cartData struct {
	Layout
	Lines      []lineView
	TotalPrice string
	// Notice is shown above the cart, e.g. after a failed checkout.
	Notice string
}

func newCartData(c *cart.Cart, catalog product.Finder, notice string) cartData {
	items := c.Lines(catalog)
	lines := make([]lineView, len(items))
	for i, item := range items {
		lines[i] = lineView{
			Product:  newProductView(item.Product),
			Quantity: item.Quantity,
			Subtotal: cart.FormatPrice(item.Subtotal()),
		}
	}
	return cartData{
		Layout:     Layout{Title: "Cart", CartQuantity: c.TotalQuantity()},
		Lines:      lines,
		TotalPrice: cart.FormatPrice(c.TotalPrice(catalog)),
		Notice:     notice,
	}
}
