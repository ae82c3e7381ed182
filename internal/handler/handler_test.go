package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/kart-storefront/internal/domain/checkout"
	"github.com/xenking/kart-storefront/internal/domain/product"
	"github.com/xenking/kart-storefront/internal/session"
	"github.com/xenking/kart-storefront/pkg/httpmiddleware"
)

const sessionCookie = "storefront_session"

type fakeGateway struct {
	mu   sync.Mutex
	reqs []*checkout.Request
	err  error
}

func (g *fakeGateway) CreateSession(_ context.Context, req *checkout.Request) (*checkout.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	if g.err != nil {
		return nil, g.err
	}
	return &checkout.Session{ID: "cs_test_1", URL: "https://checkout.stripe.test/pay/cs_test_1"}, nil
}

func (g *fakeGateway) requests() []*checkout.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reqs
}

func testCatalog(t *testing.T) *product.Catalog {
	t.Helper()
	c, err := product.NewCatalog([]product.Product{
		{ID: 1, Name: "Go Kart", Price: decimal.RequireFromString("10.00"), Description: "Fast and small."},
		{ID: 2, Name: "Helmet", Price: decimal.RequireFromString("25.50")},
		{ID: 3, Name: "Gloves", Price: decimal.RequireFromString("7.99")},
	})
	require.NoError(t, err)
	return c
}

func newServer(t *testing.T, gw checkout.Gateway, cfg Config) http.Handler {
	t.Helper()
	catalog := testCatalog(t)

	signer, err := session.NewSigner(strings.Repeat("k", 32))
	require.NoError(t, err)
	store := session.NewCookieStore(signer, catalog, session.CookieConfig{})
	svc := checkout.NewService(checkout.NewBuilder(catalog, checkout.DefaultConfig()), gw)

	h, err := New(cfg, catalog, session.NewManager(store), svc, noop.NewMeterProvider())
	require.NoError(t, err)

	return httpmiddleware.Wrap(h.Router(), httpmiddleware.InjectLogger(zaptest.NewLogger(t)))
}

// browser replays the session cookie between requests.
type browser struct {
	t       *testing.T
	srv     http.Handler
	cookies map[string]*http.Cookie
}

func newBrowser(t *testing.T, srv http.Handler) *browser {
	return &browser{t: t, srv: srv, cookies: make(map[string]*http.Cookie)}
}

func (b *browser) do(method, path string, form url.Values) *httptest.ResponseRecorder {
	b.t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, "http://shop.local"+path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, "http://shop.local"+path, nil)
	}
	for _, c := range b.cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	b.srv.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		b.cookies[c.Name] = c
	}
	return w
}

func (b *browser) add(id string, quantity string) *httptest.ResponseRecorder {
	form := url.Values{}
	if quantity != "" {
		form.Set("quantity", quantity)
	}
	return b.do(http.MethodPost, "/add_to_cart/"+id, form)
}

func (b *browser) cartPage() string {
	b.t.Helper()
	w := b.do(http.MethodGet, "/cart", nil)
	require.Equal(b.t, http.StatusOK, w.Code)
	return w.Body.String()
}

func assertRedirect(t *testing.T, w *httptest.ResponseRecorder, to string) {
	t.Helper()
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, to, w.Header().Get("Location"))
}

func TestIndex(t *testing.T) {
	b := newBrowser(t, newServer(t, &fakeGateway{}, Config{}))

	w := b.do(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "Go Kart")
	assert.Contains(t, body, "25.50")
	assert.Contains(t, body, "Cart (0)")
	assert.Less(t, strings.Index(body, "Go Kart"), strings.Index(body, "Helmet"), "catalog order")
}

func TestCartFlow(t *testing.T) {
	gw := &fakeGateway{}
	b := newBrowser(t, newServer(t, gw, Config{BaseURL: "https://shop.example/"}))

	// Checkout of an empty cart goes home without calling the provider.
	assertRedirect(t, b.do(http.MethodPost, "/checkout", nil), "/")
	assert.Empty(t, gw.requests())

	assertRedirect(t, b.add("1", "2"), "/cart")
	assertRedirect(t, b.add("2", ""), "/cart")
	assertRedirect(t, b.add("1", "3"), "/cart")

	page := b.cartPage()
	assert.Contains(t, page, "Cart (6)")
	assert.Contains(t, page, `<span class="total-price">75.50</span>`)
	assert.Less(t, strings.Index(page, "Go Kart"), strings.Index(page, "Helmet"), "insertion order")

	w := b.do(http.MethodPost, "/checkout", nil)
	assertRedirect(t, w, "https://checkout.stripe.test/pay/cs_test_1")

	reqs := gw.requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, []checkout.LineItem{
		{Name: "Go Kart", UnitAmount: 1000, Quantity: 5},
		{Name: "Helmet", UnitAmount: 2550, Quantity: 1},
	}, req.LineItems)
	assert.Equal(t, "https://shop.example/success", req.SuccessURL)
	assert.Equal(t, "https://shop.example/cart", req.CancelURL)

	// The cart survives until the provider confirms payment.
	assert.Contains(t, b.cartPage(), "Cart (6)")

	w = b.do(http.MethodGet, "/success", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Thank you")

	page = b.cartPage()
	assert.Contains(t, page, "Cart (0)")
	assert.Contains(t, page, "Your cart is empty")
}

func TestAddToCart_Rejected(t *testing.T) {
	b := newBrowser(t, newServer(t, &fakeGateway{}, Config{}))
	require.Equal(t, http.StatusSeeOther, b.add("3", "1").Code)

	for _, tt := range []struct {
		name     string
		id       string
		quantity string
	}{
		{"UnknownProduct", "99", "1"},
		{"MalformedID", "kart", "1"},
		{"ZeroQuantity", "1", "0"},
		{"NegativeQuantity", "1", "-2"},
		{"MalformedQuantity", "1", "two"},
		{"QuantityOverLimit", "3", "9999"},
		{"QuantityOverflow", "3", "9223372036854775807"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			assertRedirect(t, b.add(tt.id, tt.quantity), "/cart")
			page := b.cartPage()
			assert.Contains(t, page, "Cart (1)")
			assert.Contains(t, page, `<span class="total-price">7.99</span>`)
		})
	}
}

func TestUpdateCart(t *testing.T) {
	b := newBrowser(t, newServer(t, &fakeGateway{}, Config{}))
	b.add("2", "1")

	assertRedirect(t, b.do(http.MethodPost, "/update_cart/2", url.Values{"quantity": {"4"}}), "/cart")
	assert.Contains(t, b.cartPage(), `<span class="total-price">102.00</span>`)

	// Below one is floored.
	b.do(http.MethodPost, "/update_cart/2", url.Values{"quantity": {"0"}})
	assert.Contains(t, b.cartPage(), `<span class="total-price">25.50</span>`)

	// Absent product and garbage input are no-ops.
	assertRedirect(t, b.do(http.MethodPost, "/update_cart/1", url.Values{"quantity": {"9"}}), "/cart")
	assertRedirect(t, b.do(http.MethodPost, "/update_cart/2", url.Values{"quantity": {"x"}}), "/cart")
	page := b.cartPage()
	assert.Contains(t, page, "Cart (1)")
	assert.NotContains(t, page, "Go Kart")
}

func TestRemoveFromCart(t *testing.T) {
	b := newBrowser(t, newServer(t, &fakeGateway{}, Config{}))
	b.add("1", "1")
	b.add("2", "1")

	assertRedirect(t, b.do(http.MethodGet, "/remove_from_cart/1", nil), "/cart")
	assertRedirect(t, b.do(http.MethodGet, "/remove_from_cart/1", nil), "/cart")

	page := b.cartPage()
	assert.Contains(t, page, "Cart (1)")
	assert.Contains(t, page, `<span class="total-price">25.50</span>`)
}

func TestCheckout_ProviderError(t *testing.T) {
	gw := &fakeGateway{err: &checkout.ProviderError{Provider: "stripe", Detail: "api_error"}}
	b := newBrowser(t, newServer(t, gw, Config{}))
	b.add("1", "2")

	w := b.do(http.MethodPost, "/checkout", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "Your cart is unchanged")
	assert.Contains(t, w.Body.String(), `<span class="total-price">20.00</span>`)

	assert.Contains(t, b.cartPage(), "Cart (2)")
	require.Len(t, gw.requests(), 1)
	// Without a configured base URL the redirects follow the request host.
	assert.Equal(t, "http://shop.local/success", gw.requests()[0].SuccessURL)
}

func TestCheckout_RateLimited(t *testing.T) {
	limiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{Max: 1, Window: time.Hour})
	b := newBrowser(t, newServer(t, &fakeGateway{}, Config{CheckoutLimiter: limiter}))

	assert.Equal(t, http.StatusSeeOther, b.do(http.MethodGet, "/checkout", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, b.do(http.MethodGet, "/checkout", nil).Code)
	// Other routes are not throttled.
	assert.Equal(t, http.StatusOK, b.do(http.MethodGet, "/cart", nil).Code)
}

func TestTamperedSession(t *testing.T) {
	b := newBrowser(t, newServer(t, &fakeGateway{}, Config{}))
	b.add("1", "5")

	ck := b.cookies[sessionCookie]
	require.NotNil(t, ck)
	ck.Value = "x" + ck.Value

	page := b.cartPage()
	assert.Contains(t, page, "Cart (0)")
}

func TestProduct(t *testing.T) {
	b := newBrowser(t, newServer(t, &fakeGateway{}, Config{}))

	w := b.do(http.MethodGet, "/product/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Fast and small.")
	assert.Contains(t, w.Body.String(), `action="/add_to_cart/1"`)

	assert.Equal(t, http.StatusNotFound, b.do(http.MethodGet, "/product/42", nil).Code)
	assert.Equal(t, http.StatusNotFound, b.do(http.MethodGet, "/product/kart", nil).Code)
}

func TestCrossOriginFormRejected(t *testing.T) {
	srv := newServer(t, &fakeGateway{}, Config{})

	req := httptest.NewRequest(http.MethodPost, "http://shop.local/add_to_cart/1", strings.NewReader("quantity=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Result().Cookies())
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "img"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "img", "kart.svg"), []byte("<svg/>"), 0o600))

	srv := newServer(t, &fakeGateway{}, Config{StaticDir: dir})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://shop.local/static/img/kart.svg", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<svg/>", rec.Body.String())

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://shop.local/static/img/missing.svg", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Disabled without a directory.
	rec = httptest.NewRecorder()
	newServer(t, &fakeGateway{}, Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://shop.local/static/img/kart.svg", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
