package session

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-storefront/internal/domain/cart"
	"github.com/xenking/kart-storefront/internal/domain/product"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps carts in Redis under "cart:<session id>". The cookie only
// carries the signed session id.
type RedisStore struct {
	client  redis.Cmdable
	cookie  tokenCookie
	catalog product.Finder
	ttl     time.Duration
}

// NewRedisStore creates a RedisStore. Carts expire after ttl without
// activity; every save extends the expiry.
func NewRedisStore(client redis.Cmdable, signer *Signer, catalog product.Finder, cfg CookieConfig, ttl time.Duration) *RedisStore {
	cfg = cfg.withDefaults()
	if ttl <= 0 {
		ttl = cfg.MaxAge
	}
	return &RedisStore{
		client:  client,
		cookie:  tokenCookie{cfg: cfg, signer: signer, catalog: catalog},
		catalog: catalog,
		ttl:     ttl,
	}
}

// SessionID implements Store.
func (s *RedisStore) SessionID(r *http.Request) (string, bool) {
	p, ok := s.cookie.read(r)
	return p.ID, ok
}

// Load implements Store. An expired, missing or undecodable key yields an
// empty cart under the same session id; undecodable entries are logged.
func (s *RedisStore) Load(ctx context.Context, r *http.Request) (*State, error) {
	p, ok := s.cookie.read(r)
	if !ok {
		return newState(), nil
	}

	data, err := s.client.Get(ctx, cartKey(p.ID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &State{ID: p.ID, Cart: &cart.Cart{}}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}

	c, err := UnmarshalCart(data)
	if err != nil {
		// Start over with an empty cart under the same session.
		zctx.From(ctx).Warn("Discarding undecodable cart",
			zap.String("key", cartKey(p.ID)),
			zap.Error(err),
		)
		return &State{ID: p.ID, Cart: &cart.Cart{}}, nil
	}
	c.Prune(s.catalog)
	return &State{ID: p.ID, Cart: c}, nil
}

// Save implements Store. Empty carts delete the key.
func (s *RedisStore) Save(ctx context.Context, w http.ResponseWriter, st *State) error {
	key := cartKey(st.ID)
	if st.Cart.IsEmpty() {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return errors.Wrap(err, "redis del")
		}
	} else if err := s.client.Set(ctx, key, MarshalCart(st.Cart, s.catalog), s.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	s.cookie.write(w, payload{ID: st.ID})
	return nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func cartKey(id string) string {
	return "cart:" + id
}
