package session

import (
	"context"
	"net/http"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/product"
)

var _ Store = (*CookieStore)(nil)

// CookieStore keeps the whole cart inside the signed session cookie. No
// server-side state is needed.
type CookieStore struct {
	cookie  tokenCookie
	catalog product.Finder
}

// NewCookieStore creates a CookieStore. The catalog is used to prune lines
// of products that no longer exist and to label the serialized lines.
func NewCookieStore(signer *Signer, catalog product.Finder, cfg CookieConfig) *CookieStore {
	return &CookieStore{
		cookie:  tokenCookie{cfg: cfg.withDefaults(), signer: signer, catalog: catalog},
		catalog: catalog,
	}
}

// SessionID implements Store.
func (s *CookieStore) SessionID(r *http.Request) (string, bool) {
	p, ok := s.cookie.read(r)
	return p.ID, ok
}

// Load implements Store. Missing, tampered or undecodable cookies yield a
// fresh session.
func (s *CookieStore) Load(_ context.Context, r *http.Request) (*State, error) {
	p, ok := s.cookie.read(r)
	if !ok {
		return newState(), nil
	}
	st := &State{ID: p.ID, Cart: p.Cart}
	if st.Cart == nil {
		st.Cart = &cart.Cart{}
	}
	st.Cart.Prune(s.catalog)
	return st, nil
}

// Save implements Store.
func (s *CookieStore) Save(_ context.Context, w http.ResponseWriter, st *State) error {
	s.cookie.write(w, payload{ID: st.ID, Cart: st.Cart})
	return nil
}
