// Package health serves the storefront's /livez and /readyz probes.
//
// Checks are registered on a Prober before Run and are executed periodically
// in the background; the HTTP endpoints only report the last known result,
// so a slow dependency never stalls a probe request. A check flips to
// unhealthy only after FailAfter consecutive failures and recovers on the
// first success.
package health

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"golang.org/x/sync/errgroup"
)

// CheckFunc returns nil when the checked dependency is usable.
type CheckFunc func(ctx context.Context) error

// Kind selects the probe a check contributes to.
type Kind uint8

const (
	Liveness Kind = iota
	Readiness
)

// Options tune a single check.
type Options struct {
	// Timeout bounds one execution. Defaults to one second.
	Timeout time.Duration
	// FailAfter consecutive failures mark the check unhealthy. Defaults to 3.
	FailAfter int
}

type check struct {
	name string
	kind Kind
	fn   CheckFunc
	opts Options

	// fails is only touched by the goroutine running the check.
	fails int

	healthy atomic.Bool
	lastErr atomic.Pointer[string]
}

func (c *check) exec(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	if err := c.fn(ctx); err != nil {
		msg := err.Error()
		c.lastErr.Store(&msg)
		c.fails++
		if c.fails >= c.opts.FailAfter {
			c.healthy.Store(false)
		}
		return
	}
	c.lastErr.Store(nil)
	c.fails = 0
	c.healthy.Store(true)
}

func (c *check) failure() (string, bool) {
	if c.healthy.Load() {
		return "", false
	}
	if msg := c.lastErr.Load(); msg != nil {
		return *msg, true
	}
	return "check is unhealthy", true
}

// Prober holds the registered checks and the manual readiness flag.
type Prober struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*check
}

// New creates a Prober. It reports not ready until SetReady(true).
func New() *Prober {
	return &Prober{}
}

// Register adds a check. Checks start out healthy.
func (p *Prober) Register(kind Kind, name string, fn CheckFunc, opts Options) {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	if opts.FailAfter <= 0 {
		opts.FailAfter = 3
	}
	c := &check{name: name, kind: kind, fn: fn, opts: opts}
	c.healthy.Store(true)

	p.mu.Lock()
	p.checks = append(p.checks, c)
	p.mu.Unlock()
}

// Run executes every check immediately and then once per interval until ctx
// is done. It always returns nil.
func (p *Prober) Run(ctx context.Context, interval time.Duration) error {
	p.mu.RLock()
	checks := slices.Clone(p.checks)
	p.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range checks {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				c.exec(ctx)
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}
	return g.Wait()
}

// SetReady toggles readiness. The app sets it after startup and clears it at
// the beginning of a graceful shutdown.
func (p *Prober) SetReady(ready bool) {
	p.ready.Store(ready)
}

// Ready reports whether the service is marked ready and all readiness checks
// pass.
func (p *Prober) Ready() bool {
	return p.ready.Load() && len(p.failures(Readiness)) == 0
}

func (p *Prober) failures(kind Kind) map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]string)
	for _, c := range p.checks {
		if c.kind != kind {
			continue
		}
		if msg, failed := c.failure(); failed {
			out[c.name] = msg
		}
	}
	return out
}

// Livez serves the liveness probe.
func (p *Prober) Livez(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, p.failures(Liveness))
}

// Readyz serves the readiness probe.
func (p *Prober) Readyz(w http.ResponseWriter, _ *http.Request) {
	failures := p.failures(Readiness)
	if !p.ready.Load() {
		failures["service"] = "not ready"
	}
	writeStatus(w, failures)
}

// writeStatus responds with {"status":"ok"} or 503 and
// {"status":"unhealthy","checks":{name: error}}. Check names are sorted.
func writeStatus(w http.ResponseWriter, failures map[string]string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	status := http.StatusOK
	e.Obj(func(e *jx.Encoder) {
		if len(failures) == 0 {
			e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
			return
		}
		status = http.StatusServiceUnavailable
		e.Field("status", func(e *jx.Encoder) { e.Str("unhealthy") })
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range slices.Sorted(maps.Keys(failures)) {
					e.Field(name, func(e *jx.Encoder) { e.Str(failures[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
