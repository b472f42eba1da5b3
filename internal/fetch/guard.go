package fetch

import (
	"context"
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/time/rate"

	"github.com/kalambet/leadnexus/internal/apperr"
)

// Guard validates URLs and paces outbound fetches before delegating to the
// wrapped Fetcher.
type Guard struct {
	next         Fetcher
	blocked      []glob.Glob
	limiter      *rate.Limiter
	allowPrivate bool
}

// NewGuard compiles the blocked host patterns. A ratePerSecond <= 0 disables
// pacing. IP literals outside public address space are rejected unless
// AllowPrivateNetworks is given.
func NewGuard(next Fetcher, blockedHosts []string, ratePerSecond float64, opts ...Option) (*Guard, error) {
	g := &Guard{next: next, allowPrivate: applyOptions(opts).allowPrivate}
	for _, p := range blockedHosts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		compiled, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling blocked host pattern %q: %w", p, err)
		}
		g.blocked = append(g.blocked, compiled)
	}
	if ratePerSecond > 0 {
		burst := int(ratePerSecond)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return g, nil
}

func (g *Guard) Fetch(ctx context.Context, rawURL string) (Page, error) {
	if err := g.Check(rawURL); err != nil {
		return Page{}, err
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return Page{}, fmt.Errorf("waiting for fetch slot: %w", err)
		}
	}
	return g.next.Fetch(ctx, rawURL)
}

// Check reports whether rawURL may be fetched.
func (g *Guard) Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return apperr.New(apperr.ValidationFailure, "invalid URL %q", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperr.New(apperr.ValidationFailure, "unsupported URL scheme %q in %s", u.Scheme, rawURL)
	}
	host := strings.ToLower(u.Hostname())
	for _, b := range g.blocked {
		if b.Match(host) {
			return apperr.New(apperr.ValidationFailure, "host %s is not allowed", host)
		}
	}
	if ip, err := netip.ParseAddr(host); err == nil && !g.allowPrivate && !publicAddr(ip) {
		return apperr.New(apperr.ValidationFailure, "host %s is not allowed", host)
	}
	return nil
}
