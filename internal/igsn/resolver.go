package igsn

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	// ResolverURL is the IGSN resolver base. It delegates to hdl.handle.net.
	ResolverURL = "http://igsn.org/"

	// N2TResolverURL is the Name-to-Thing resolver base, which handles many
	// identifier schemes including IGSNs.
	N2TResolverURL = "https://n2t.net/"

	defaultMaxHops = 10
)

// FollowFunc is consulted before each resolution hop. Returning false stops
// the walk at the hops collected so far.
type FollowFunc func(url string) bool

// Hop records one response in a resolution chain.
type Hop struct {
	URL        string      `json:"url"`
	StatusCode int         `json:"status_code"`
	Location   string      `json:"location,omitempty"`
	Headers    http.Header `json:"-"`
}

// Resolver walks resolver redirect chains without delegating redirect
// handling to the HTTP client, so every intermediate response is observable.
type Resolver struct {
	client      *http.Client
	logger      *slog.Logger
	userAgent   string
	maxHops     int
	includeBody bool
	follow      FollowFunc
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.client.Timeout = d }
}

// WithMaxHops bounds the number of redirects followed.
func WithMaxHops(n int) ResolverOption {
	return func(r *Resolver) { r.maxHops = n }
}

// WithIncludeBody switches from HEAD to GET requests.
func WithIncludeBody(include bool) ResolverOption {
	return func(r *Resolver) { r.includeBody = include }
}

// WithFollowFunc installs a callback consulted before each hop.
func WithFollowFunc(fn FollowFunc) ResolverOption {
	return func(r *Resolver) { r.follow = fn }
}

// NewResolver creates a Resolver with the given logger and options.
func NewResolver(logger *slog.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		client: &http.Client{
			Timeout: 5 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:    logger,
		userAgent: "igsn-lib/0.2",
		maxHops:   defaultMaxHops,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve walks the IGSN resolver chain for a pre-normalized IGSN value.
func (r *Resolver) Resolve(ctx context.Context, igsnValue string) ([]Hop, error) {
	return r.walk(ctx, ResolverURL+url.PathEscape(igsnValue))
}

// ResolveN2T walks the N2T resolver chain for any identifier.
func (r *Resolver) ResolveN2T(ctx context.Context, identifier string) ([]Hop, error) {
	return r.walk(ctx, N2TResolverURL+url.PathEscape(identifier))
}

// walk issues requests one redirect at a time until a terminal 2xx/4xx/5xx
// response, the hop limit, or the follow callback stops the chain.
func (r *Resolver) walk(ctx context.Context, startURL string) ([]Hop, error) {
	hops := make([]Hop, 0, 4)
	current := startURL

	for i := 0; i < r.maxHops; i++ {
		if r.follow != nil && !r.follow(current) {
			r.logger.Debug("resolution stopped by callback", slog.String("url", current))
			return hops, nil
		}

		method := http.MethodHead
		if r.includeBody {
			method = http.MethodGet
		}

		req, err := http.NewRequestWithContext(ctx, method, current, nil)
		if err != nil {
			return hops, fmt.Errorf("failed to build resolve request: %w", err)
		}
		req.Header.Set("User-Agent", r.userAgent)
		req.Header.Set("Accept", "application/json, application/ld+json;q=0.9, text/xml;q=0.7, text/html;q=0.5")

		resp, err := r.client.Do(req)
		if err != nil {
			return hops, fmt.Errorf("resolve step failed at %s: %w", current, err)
		}
		resp.Body.Close()

		hop := Hop{
			URL:        current,
			StatusCode: resp.StatusCode,
			Location:   resp.Header.Get("Location"),
			Headers:    resp.Header,
		}
		hops = append(hops, hop)

		switch {
		case resp.StatusCode >= 400:
			r.logger.Warn("resolution ended on error status",
				slog.String("url", current),
				slog.Int("status", resp.StatusCode),
			)
			return hops, nil
		case resp.StatusCode >= 300:
			if hop.Location == "" {
				r.logger.Warn("redirect status without location header",
					slog.String("url", current),
					slog.Int("status", resp.StatusCode),
				)
				return hops, nil
			}
			next, err := req.URL.Parse(hop.Location)
			if err != nil {
				return hops, fmt.Errorf("invalid redirect location %q: %w", hop.Location, err)
			}
			current = next.String()
		default:
			return hops, nil
		}
	}

	return hops, fmt.Errorf("redirect limit of %d exceeded resolving %s", r.maxHops, startURL)
}
