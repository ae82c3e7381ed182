package app

import (
	"os"
	"slices"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:5000"

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr string `default:"0.0.0.0:5000" usage:"HTTP listen address"`
	// BaseURL is the external address of the shop, used for the payment
	// provider's redirects. Derived from the request when empty.
	BaseURL        string   `usage:"External base URL, e.g. https://shop.example.com" flag:"base-url"`
	TrustedOrigins []string `usage:"Extra origins allowed to submit forms" flag:"trusted-origins"`
	StaticDir      string   `default:"static" usage:"Directory served under /static/, empty disables" flag:"static-dir"`
	Catalog        CatalogConfig
	Session        SessionConfig
	Stripe         StripeConfig
	RateLimit      RateLimitConfig
	Graceful       GracefulConfig
}

// CatalogConfig selects where products are loaded from at startup.
type CatalogConfig struct {
	Source      string `default:"file" usage:"Catalog source: file or postgres"`
	File        string `default:"product.json" usage:"Catalog JSON file, optionally .gz"`
	DatabaseURL string `usage:"PostgreSQL connection URL (SHOP_CATALOG_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
}

// SessionConfig controls the session cookie and cart storage.
type SessionConfig struct {
	Secret  string        `usage:"Session signing secret (SHOP_SESSION_SECRET or SECRET_KEY)"`
	Backend string        `default:"cookie" usage:"Cart storage: cookie or redis"`
	Cookie  string        `default:"storefront_session" usage:"Session cookie name"`
	MaxAge  time.Duration `default:"720h" usage:"Session cookie lifetime"`
	Secure  bool          `default:"false" usage:"Send the session cookie over HTTPS only"`
	Redis   RedisConfig
}

// RedisConfig is used by the redis session backend.
type RedisConfig struct {
	URL string        `usage:"Redis URL (SHOP_SESSION_REDIS_URL or REDIS_URL)"`
	TTL time.Duration `default:"168h" usage:"Idle cart expiry"`
}

// StripeConfig configures the payment provider.
type StripeConfig struct {
	Key              string   `usage:"Stripe secret key (SHOP_STRIPE_KEY or API_KEY)"`
	BackendURL       string   `usage:"Override the Stripe API endpoint" flag:"stripe-backend-url"`
	Currency         string   `default:"eur" usage:"Checkout currency"`
	AllowedCountries []string `default:"SK,CZ,DE" usage:"Countries accepted for shipping"`
	Shipping         ShippingConfig
	Timeout          time.Duration `default:"10s" usage:"Stripe request timeout"`
	MaxFailures      uint32        `default:"5" usage:"Consecutive failures that open the circuit breaker"`
	OpenTimeout      time.Duration `default:"30s" usage:"How long the breaker stays open"`
}

// ShippingConfig describes the single fixed shipping option.
type ShippingConfig struct {
	Name    string `default:"Standard Shipping"`
	Amount  int64  `default:"500" usage:"Shipping price in minor units"`
	MinDays int64  `default:"3" usage:"Minimum delivery estimate in business days"`
	MaxDays int64  `default:"7" usage:"Maximum delivery estimate in business days"`
}

// RateLimitConfig controls the per-client checkout rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"10" usage:"Max checkout attempts per window, 0 disables"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the conventional variables (PORT, SECRET_KEY,
// API_KEY, DATABASE_URL, REDIS_URL) onto unset SHOP_ settings.
func (c *Config) applyPlatformDefaults(getenv func(string) string) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = getenv(key)
		}
	}
	fill(&c.Session.Secret, "SECRET_KEY")
	fill(&c.Stripe.Key, "API_KEY")
	fill(&c.Catalog.DatabaseURL, "DATABASE_URL")
	fill(&c.Session.Redis.URL, "REDIS_URL")

	if port := getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// Validate reports missing secrets and inconsistent settings. Startup must
// fail on any of them.
func (c *Config) Validate() error {
	if c.Session.Secret == "" {
		return errors.New("session secret is required: set SHOP_SESSION_SECRET or SECRET_KEY")
	}
	if c.Stripe.Key == "" {
		return errors.New("stripe key is required: set SHOP_STRIPE_KEY or API_KEY")
	}

	switch c.Catalog.Source {
	case "file":
		if c.Catalog.File == "" {
			return errors.New("catalog file is required for the file source")
		}
	case "postgres":
		if c.Catalog.DatabaseURL == "" {
			return errors.New("database URL is required for the postgres catalog: set SHOP_CATALOG_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown catalog source %q", c.Catalog.Source)
	}

	switch c.Session.Backend {
	case "cookie":
	case "redis":
		if c.Session.Redis.URL == "" {
			return errors.New("redis URL is required for the redis session backend: set SHOP_SESSION_REDIS_URL or REDIS_URL")
		}
	default:
		return errors.Errorf("unknown session backend %q", c.Session.Backend)
	}

	if len(c.Stripe.AllowedCountries) == 0 || slices.Contains(c.Stripe.AllowedCountries, "") {
		return errors.New("at least one shipping country is required")
	}
	if c.Stripe.Shipping.MinDays > c.Stripe.Shipping.MaxDays {
		return errors.Errorf("shipping estimate %d-%d days is inverted", c.Stripe.Shipping.MinDays, c.Stripe.Shipping.MaxDays)
	}
	return nil
}
