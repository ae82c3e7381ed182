// Package session keeps each browser's cart between requests.
//
// Every session is identified by a random id carried in an HMAC-signed
// cookie. The cart itself either travels in that cookie (CookieStore) or is
// kept in Redis under the session id (RedisStore). Mutations go through
// Manager.Update, which serializes concurrent requests of one session and
// persists the cart only when the mutation succeeded.
package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/product"
)

// State is the session loaded for one request.
type State struct {
	ID   string
	Cart *cart.Cart
	// Fresh is set when the request carried no valid session.
	Fresh bool
}

func newState() *State {
	return &State{ID: uuid.NewString(), Cart: &cart.Cart{}, Fresh: true}
}

// Store loads and persists session state.
type Store interface {
	// SessionID returns the verified session id carried by the request.
	SessionID(r *http.Request) (string, bool)
	// Load returns the request's session, or a fresh empty one.
	Load(ctx context.Context, r *http.Request) (*State, error)
	// Save persists the state and refreshes the session cookie.
	Save(ctx context.Context, w http.ResponseWriter, s *State) error
}

// CookieConfig controls the session cookie attributes.
type CookieConfig struct {
	Name   string
	Path   string
	MaxAge time.Duration
	Secure bool
}

func (c CookieConfig) withDefaults() CookieConfig {
	if c.Name == "" {
		c.Name = "storefront_session"
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 30 * 24 * time.Hour
	}
	return c
}

// tokenCookie reads and writes the signed session cookie shared by all
// stores.
type tokenCookie struct {
	cfg     CookieConfig
	signer  *Signer
	catalog product.Finder
}

func (t tokenCookie) read(r *http.Request) (payload, bool) {
	ck, err := r.Cookie(t.cfg.Name)
	if err != nil {
		return payload{}, false
	}
	raw, err := t.signer.Verify(ck.Value)
	if err != nil {
		return payload{}, false
	}
	p, err := unmarshalPayload(raw)
	if err != nil {
		return payload{}, false
	}
	return p, true
}

func (t tokenCookie) write(w http.ResponseWriter, p payload) {
	http.SetCookie(w, &http.Cookie{
		Name:     t.cfg.Name,
		Value:    t.signer.Sign(marshalPayload(p, t.catalog)),
		Path:     t.cfg.Path,
		MaxAge:   int(t.cfg.MaxAge.Seconds()),
		Secure:   t.cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Manager serializes access to sessions and applies cart mutations.
type Manager struct {
	store Store
	locks *keyedMutex
}

// NewManager creates a Manager on top of store.
func NewManager(store Store) *Manager {
	return &Manager{store: store, locks: newKeyedMutex()}
}

// View loads the request's cart for reading. Nothing is persisted.
func (m *Manager) View(ctx context.Context, r *http.Request) (*cart.Cart, error) {
	st, err := m.store.Load(ctx, r)
	if err != nil {
		return nil, errors.Wrap(err, "load session")
	}
	return st.Cart, nil
}

// Update loads the cart, applies fn and saves the result. When fn returns an
// error nothing is saved and the error is returned as is.
func (m *Manager) Update(ctx context.Context, w http.ResponseWriter, r *http.Request, fn func(*cart.Cart) error) error {
	if id, ok := m.store.SessionID(r); ok {
		unlock := m.locks.Lock(id)
		defer unlock()
	}

	st, err := m.store.Load(ctx, r)
	if err != nil {
		return errors.Wrap(err, "load session")
	}
	if err := fn(st.Cart); err != nil {
		return err
	}
	if err := m.store.Save(ctx, w, st); err != nil {
		return errors.Wrap(err, "save session")
	}
	return nil
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns the matching unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()

		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
