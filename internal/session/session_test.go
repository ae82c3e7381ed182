package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/product"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// --- Helpers ---

func newCatalog(t *testing.T) *product.Catalog {
	t.Helper()
	c, err := product.NewCatalog([]product.Product{
		{ID: 1, Name: "A", Price: decimal.RequireFromString("10.00")},
		{ID: 2, Name: "B", Price: decimal.RequireFromString("2.50")},
	})
	require.NoError(t, err)
	return c
}

func newSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(testSecret)
	require.NoError(t, err)
	return s
}

func newRedisStore(t *testing.T, catalog product.Finder) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, newSigner(t), catalog, CookieConfig{}, time.Hour), mr
}

// roundTrip carries the cookies set on w into a new request.
func roundTrip(w *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/cart", nil)
	for _, ck := range w.Result().Cookies() {
		r.AddCookie(ck)
	}
	return r
}

func addOne(catalog product.Finder, id int64) func(*cart.Cart) error {
	return func(c *cart.Cart) error { return c.Add(catalog, id, 1) }
}

// --- Signer ---

func TestSigner(t *testing.T) {
	s := newSigner(t)
	token := s.Sign([]byte(`{"sid":"x"}`))

	payload, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, `{"sid":"x"}`, string(payload))

	other, err := NewSigner(strings.Repeat("z", 32))
	require.NoError(t, err)
	_, err = other.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	for _, bad := range []string{"", ".", "abc", "abc.", ".abc", token + "x", "!!!." + strings.Split(token, ".")[1]} {
		_, err := s.Verify(bad)
		assert.ErrorIs(t, err, ErrInvalidToken, bad)
	}
}

func TestNewSigner_ShortSecret(t *testing.T) {
	_, err := NewSigner("short")
	require.Error(t, err)
}

// --- Codec ---

func TestCartCodec(t *testing.T) {
	catalog := newCatalog(t)
	c := cart.New(cart.Line{ProductID: 2, Quantity: 3}, cart.Line{ProductID: 1, Quantity: 1})

	data := MarshalCart(c, catalog)
	assert.JSONEq(t, `[
		{"id":2,"name":"B","price":"2.50","quantity":3},
		{"id":1,"name":"A","price":"10.00","quantity":1}
	]`, string(data))

	decoded, err := UnmarshalCart(data)
	require.NoError(t, err)
	assert.Equal(t, c.Snapshot(), decoded.Snapshot())
}

func TestCartCodec_IgnoresStoredPrice(t *testing.T) {
	decoded, err := UnmarshalCart([]byte(`[{"id":1,"name":"Old","price":0.01,"quantity":2,"extra":{"a":[1]}}]`))
	require.NoError(t, err)
	assert.Equal(t, []cart.Line{{ProductID: 1, Quantity: 2}}, decoded.Snapshot())
	assert.Equal(t, "20.00", cart.FormatPrice(decoded.TotalPrice(newCatalog(t))))
}

func TestCartCodec_Invalid(t *testing.T) {
	for _, in := range []string{`{}`, `[{"quantity":1}]`, `[{"id":"x"}]`, `[`} {
		_, err := UnmarshalCart([]byte(in))
		assert.Error(t, err, in)
	}
}

// --- CookieStore ---

func TestCookieStore_RoundTrip(t *testing.T) {
	catalog := newCatalog(t)
	m := NewManager(NewCookieStore(newSigner(t), catalog, CookieConfig{}))
	ctx := context.Background()

	w := httptest.NewRecorder()
	require.NoError(t, m.Update(ctx, w, httptest.NewRequest(http.MethodPost, "/", nil), addOne(catalog, 1)))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "storefront_session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)

	w2 := httptest.NewRecorder()
	require.NoError(t, m.Update(ctx, w2, roundTrip(w), addOne(catalog, 1)))

	c, err := m.View(ctx, roundTrip(w2))
	require.NoError(t, err)
	assert.Equal(t, 2, c.Quantity(1))
}

func TestCookieStore_KeepsSessionID(t *testing.T) {
	catalog := newCatalog(t)
	store := NewCookieStore(newSigner(t), catalog, CookieConfig{})
	m := NewManager(store)
	ctx := context.Background()

	w := httptest.NewRecorder()
	require.NoError(t, m.Update(ctx, w, httptest.NewRequest(http.MethodPost, "/", nil), addOne(catalog, 1)))
	id, ok := store.SessionID(roundTrip(w))
	require.True(t, ok)

	w2 := httptest.NewRecorder()
	require.NoError(t, m.Update(ctx, w2, roundTrip(w), addOne(catalog, 2)))
	id2, ok := store.SessionID(roundTrip(w2))
	require.True(t, ok)
	assert.Equal(t, id, id2)
}

func TestCookieStore_TamperedCookie(t *testing.T) {
	catalog := newCatalog(t)
	store := NewCookieStore(newSigner(t), catalog, CookieConfig{})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	forged := payload{ID: "evil", Cart: cart.New(cart.Line{ProductID: 1, Quantity: 100})}
	r.AddCookie(&http.Cookie{
		Name:  "storefront_session",
		Value: encoding.EncodeToString(marshalPayload(forged, catalog)) + ".AAAA",
	})

	st, err := store.Load(context.Background(), r)
	require.NoError(t, err)
	assert.True(t, st.Fresh)
	assert.True(t, st.Cart.IsEmpty())
	assert.NotEqual(t, "evil", st.ID)
}

func TestCookieStore_PrunesUnknownProducts(t *testing.T) {
	catalog := newCatalog(t)
	signer := newSigner(t)
	store := NewCookieStore(signer, catalog, CookieConfig{})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	stale := payload{ID: "s1", Cart: cart.New(cart.Line{ProductID: 1, Quantity: 1}, cart.Line{ProductID: 9, Quantity: 1})}
	r.AddCookie(&http.Cookie{Name: "storefront_session", Value: signer.Sign(marshalPayload(stale, catalog))})

	st, err := store.Load(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, "s1", st.ID)
	assert.Equal(t, []cart.Line{{ProductID: 1, Quantity: 1}}, st.Cart.Snapshot())
}

// --- Manager ---

func TestManager_FailedMutationIsNotSaved(t *testing.T) {
	catalog := newCatalog(t)
	m := NewManager(NewCookieStore(newSigner(t), catalog, CookieConfig{}))
	ctx := context.Background()

	w := httptest.NewRecorder()
	require.NoError(t, m.Update(ctx, w, httptest.NewRequest(http.MethodPost, "/", nil), addOne(catalog, 1)))

	w2 := httptest.NewRecorder()
	err := m.Update(ctx, w2, roundTrip(w), func(c *cart.Cart) error {
		c.Clear()
		return errors.New("rejected")
	})
	require.EqualError(t, err, "rejected")
	assert.Empty(t, w2.Result().Cookies(), "nothing may be persisted")

	c, err := m.View(ctx, roundTrip(w))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Quantity(1))
}

func TestManager_SerializesSession(t *testing.T) {
	catalog := newCatalog(t)
	store, _ := newRedisStore(t, catalog)
	m := NewManager(store)
	ctx := context.Background()

	w := httptest.NewRecorder()
	require.NoError(t, m.Update(ctx, w, httptest.NewRequest(http.MethodPost, "/", nil), addOne(catalog, 1)))
	cookies := w.Result().Cookies()

	const workers = 20
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			for _, ck := range cookies {
				r.AddCookie(ck)
			}
			assert.NoError(t, m.Update(ctx, httptest.NewRecorder(), r, addOne(catalog, 1)))
		}()
	}
	wg.Wait()

	c, err := m.View(ctx, roundTrip(w))
	require.NoError(t, err)
	assert.Equal(t, workers+1, c.Quantity(1))
	assert.Zero(t, m.locks.size(), "locks must be released")
}

// --- RedisStore ---

func TestRedisStore(t *testing.T) {
	catalog := newCatalog(t)
	store, mr := newRedisStore(t, catalog)
	m := NewManager(store)
	ctx := context.Background()

	w := httptest.NewRecorder()
	require.NoError(t, m.Update(ctx, w, httptest.NewRequest(http.MethodPost, "/", nil), addOne(catalog, 2)))

	id, ok := store.SessionID(roundTrip(w))
	require.True(t, ok)

	stored, err := mr.Get(cartKey(id))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":2,"name":"B","price":"2.50","quantity":1}]`, stored)
	assert.Greater(t, mr.TTL(cartKey(id)), time.Duration(0))

	require.NoError(t, m.Update(ctx, httptest.NewRecorder(), roundTrip(w), func(c *cart.Cart) error {
		c.Clear()
		return nil
	}))
	assert.False(t, mr.Exists(cartKey(id)), "empty carts are deleted")
}

func TestRedisStore_ExpiredCart(t *testing.T) {
	catalog := newCatalog(t)
	store, mr := newRedisStore(t, catalog)
	m := NewManager(store)
	ctx := context.Background()

	w := httptest.NewRecorder()
	require.NoError(t, m.Update(ctx, w, httptest.NewRequest(http.MethodPost, "/", nil), addOne(catalog, 1)))

	mr.FastForward(2 * time.Hour)

	st, err := store.Load(ctx, roundTrip(w))
	require.NoError(t, err)
	assert.False(t, st.Fresh)
	assert.True(t, st.Cart.IsEmpty())
}

func TestRedisStore_CorruptEntry(t *testing.T) {
	catalog := newCatalog(t)
	store, mr := newRedisStore(t, catalog)
	m := NewManager(store)

	w := httptest.NewRecorder()
	require.NoError(t, m.Update(context.Background(), w, httptest.NewRequest(http.MethodPost, "/", nil), addOne(catalog, 1)))
	id, ok := store.SessionID(roundTrip(w))
	require.True(t, ok)
	require.NoError(t, mr.Set(cartKey(id), `{"not":"a cart"`))

	core, logs := observer.New(zapcore.WarnLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))

	st, err := store.Load(ctx, roundTrip(w))
	require.NoError(t, err)
	assert.Equal(t, id, st.ID)
	assert.True(t, st.Cart.IsEmpty())

	entries := logs.FilterMessage("Discarding undecodable cart").All()
	require.Len(t, entries, 1)
	assert.Equal(t, cartKey(id), entries[0].ContextMap()["key"])
	assert.Contains(t, entries[0].ContextMap(), "error")
}

func TestRedisStore_Unavailable(t *testing.T) {
	catalog := newCatalog(t)
	store, mr := newRedisStore(t, catalog)
	m := NewManager(store)
	ctx := context.Background()

	w := httptest.NewRecorder()
	require.NoError(t, m.Update(ctx, w, httptest.NewRequest(http.MethodPost, "/", nil), addOne(catalog, 1)))

	mr.Close()

	_, err := m.View(ctx, roundTrip(w))
	require.Error(t, err)
	require.Error(t, store.Ping(ctx))
}
