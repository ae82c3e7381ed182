// Package handler serves the storefront's HTML pages and form endpoints.
package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/kart-storefront/internal/domain/checkout"
	"github.com/xenking/kart-storefront/internal/domain/product"
	"github.com/xenking/kart-storefront/internal/session"
	"github.com/xenking/kart-storefront/pkg/httpmiddleware"
)

// Catalog is the read-only product catalog the pages are rendered from.
type Catalog interface {
	product.Finder
	List() []product.Product
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// BaseURL is the external address used for the payment provider's
	// success and cancel redirects. When empty it is derived from the request.
	BaseURL string
	// TrustedOrigins may submit forms in addition to the site itself.
	TrustedOrigins []string
	// CheckoutLimiter throttles checkout attempts per client. Nil disables it.
	CheckoutLimiter *httpmiddleware.Limiter
	// StaticDir is served under /static/. Empty disables it.
	StaticDir string
}

// Handler implements the storefront routes.
type Handler struct {
	catalog  Catalog
	sessions *session.Manager
	checkout *checkout.Service

	cfg     Config
	views   *views
	metrics *metrics
}

// New creates a Handler.
func New(
	cfg Config,
	catalog Catalog,
	sessions *session.Manager,
	checkoutSvc *checkout.Service,
	mp metric.MeterProvider,
) (*Handler, error) {
	v, err := parseViews()
	if err != nil {
		return nil, errors.Wrap(err, "parse views")
	}
	m, err := newMetrics(mp)
	if err != nil {
		return nil, errors.Wrap(err, "metrics")
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Handler{
		catalog:  catalog,
		sessions: sessions,
		checkout: checkoutSvc,
		cfg:      cfg,
		views:    v,
		metrics:  m,
	}, nil
}

// Router returns a chi router with all storefront routes and the per-route
// middlewares (request logging, route labeling, origin checks).
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.LogRequests(),
		httpmiddleware.Labeler(),
		httpmiddleware.SameOrigin(h.cfg.TrustedOrigins...),
	)

	r.Get("/", h.Index)
	r.Get("/cart", h.Cart)
	r.Get("/product/{product_id}", h.Product)
	r.Post("/add_to_cart/{product_id}", h.AddToCart)
	r.Post("/update_cart/{product_id}", h.UpdateCart)
	r.Get("/remove_from_cart/{product_id}", h.RemoveFromCart)
	r.Group(func(r chi.Router) {
		if h.cfg.CheckoutLimiter != nil {
			r.Use(h.cfg.CheckoutLimiter.Middleware())
		}
		r.Get("/checkout", h.Checkout)
		r.Post("/checkout", h.Checkout)
	})
	r.Get("/success", h.Success)
	if h.cfg.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(h.cfg.StaticDir))))
	}
	return r
}

// productID parses the {product_id} route parameter.
func productID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// formQuantity parses the "quantity" form field, returning def when absent.
func formQuantity(r *http.Request, def int) (int, error) {
	raw := strings.TrimSpace(r.FormValue("quantity"))
	if raw == "" {
		return def, nil
	}
	q, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrap(err, "parse quantity")
	}
	return q, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func redirect(w http.ResponseWriter, r *http.Request, to string) {
	http.Redirect(w, r, to, http.StatusSeeOther)
}
