// Package proxy rotates upstream calls over a list of proxies and benches the
// ones that keep failing.
package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrNoProxy is returned when every proxy of a pool is benched.
var ErrNoProxy = errors.New("proxy: no healthy proxy available")

// Config tunes a Pool. Zero values select the defaults.
type Config struct {
	// MaxFailures is the number of consecutive failures that bench a proxy.
	// Defaults to 3.
	MaxFailures int
	// Cooldown is how long a benched proxy sits out. Defaults to 5 minutes.
	Cooldown time.Duration
	// Now is the clock used for cooldowns. Defaults to time.Now.
	Now func() time.Time
}

type entry struct {
	url       *url.URL
	failures  int
	benchedTo time.Time
}

// Pool hands out proxies round-robin. It is safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	entries []*entry
	next    int
	cfg     Config
}

// NewPool returns an empty pool.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pool{cfg: cfg}
}

// Add parses and appends proxy URLs. A URL without a scheme is taken as http.
func (p *Pool) Add(raw ...string) error {
	parsed := make([]*entry, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if !strings.Contains(r, "://") {
			r = "http://" + r
		}
		u, err := url.Parse(r)
		if err != nil {
			return fmt.Errorf("proxy: parse %q: %w", r, err)
		}
		if u.Host == "" {
			return fmt.Errorf("proxy: %q has no host", r)
		}
		parsed = append(parsed, &entry{url: u})
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, parsed...)
	return nil
}

// Load adds one proxy per line of r. Blank lines and lines starting with '#'
// are skipped.
func (p *Pool) Load(r io.Reader) error {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("proxy: read list: %w", err)
	}
	return p.Add(lines...)
}

// LoadFile is Load over the file at path.
func (p *Pool) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("proxy: open list: %w", err)
	}
	defer f.Close()
	return p.Load(f)
}

// Len returns the number of proxies, benched or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Next returns the next proxy that is not benched, or nil when there is none.
func (p *Pool) Next() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.cfg.Now()
	for range p.entries {
		e := p.entries[p.next]
		p.next = (p.next + 1) % len(p.entries)
		if now.Before(e.benchedTo) {
			continue
		}
		return e.url
	}
	return nil
}

// Report records the outcome of a call made through u. A nil err resets the
// failure streak; MaxFailures failures in a row bench the proxy.
func (p *Pool) Report(u *url.URL, err error) {
	if u == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.entries {
		if e.url.String() != u.String() {
			continue
		}
		if err == nil {
			e.failures = 0
			return
		}
		e.failures++
		if e.failures >= p.cfg.MaxFailures {
			e.failures = 0
			e.benchedTo = p.cfg.Now().Add(p.cfg.Cooldown)
		}
		return
	}
}

type ctxKey struct{}

// WithProxy returns a context that routes requests made with it through u.
func WithProxy(ctx context.Context, u *url.URL) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromRequest is an http.Transport Proxy func returning the proxy chosen
// with WithProxy. Requests without one go direct.
func FromRequest(req *http.Request) (*url.URL, error) {
	u, _ := req.Context().Value(ctxKey{}).(*url.URL)
	return u, nil
}
