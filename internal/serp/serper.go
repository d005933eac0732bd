package serp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/FranksOps/rankscout/internal/fingerprint"
	"github.com/FranksOps/rankscout/internal/metrics"
	"github.com/FranksOps/rankscout/pkg/httpclient"
	"github.com/FranksOps/rankscout/pkg/proxy"
)

const (
	// DefaultEndpoint is the Serper places search API.
	DefaultEndpoint = "https://google.serper.dev/places"
	// CredentialEnv is the environment variable holding the Serper API key.
	CredentialEnv = "SERPER_API_KEY"
	// DefaultZoom is the map zoom sent with a location bias.
	DefaultZoom = 14
)

// SerperConfig configures the Serper provider.
type SerperConfig struct {
	Endpoint string
	// Credential returns the API key. It is called on every request so a key
	// rotated in the environment is picked up without a restart. Defaults to
	// reading CredentialEnv.
	Credential  func() string
	Timeout     time.Duration
	Zoom        int
	UserAgent   string
	Fingerprint fingerprint.Profile
	ProxyURL    string
	// Proxies rotates requests over a pool instead of the single ProxyURL.
	Proxies *proxy.Pool
	// Transport overrides the transport built from Fingerprint and ProxyURL.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Serper is a Provider backed by the Serper places API. It issues exactly one
// HTTP request per Search call.
type Serper struct {
	cfg    SerperConfig
	client *httpclient.Client
	logger *slog.Logger
}

var _ Provider = (*Serper)(nil)

// NewSerper builds a Serper provider. The credential is not checked here:
// a missing key fails each Search with a *ConfigurationError.
func NewSerper(cfg SerperConfig) (*Serper, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Credential == nil {
		cfg.Credential = func() string { return os.Getenv(CredentialEnv) }
	}
	if cfg.Zoom <= 0 {
		cfg.Zoom = DefaultZoom
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	transport := cfg.Transport
	if transport == nil {
		opts := fingerprint.Options{}
		if cfg.ProxyURL != "" && cfg.Proxies != nil {
			return nil, errors.New("serp: set either a proxy url or a proxy pool")
		}
		if cfg.Proxies != nil {
			opts.ProxyFunc = proxy.FromRequest
		}
		proxied := cfg.ProxyURL != "" || cfg.Proxies != nil
		if proxied && cfg.Fingerprint != "" && cfg.Fingerprint != fingerprint.ProfileGo {
			cfg.Logger.Warn("tls profile ignored behind a proxy, using go",
				"profile", cfg.Fingerprint,
			)
		}
		if cfg.ProxyURL != "" {
			u, err := url.Parse(cfg.ProxyURL)
			if err != nil {
				return nil, fmt.Errorf("serp: parse proxy url: %w", err)
			}
			opts.Proxy = u
		}
		rt, err := fingerprint.Transport(cfg.Fingerprint, opts)
		if err != nil {
			return nil, fmt.Errorf("serp: setup transport: %w", err)
		}
		transport = rt
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:   cfg.Timeout,
		UserAgent: cfg.UserAgent,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("serp: create client: %w", err)
	}

	return &Serper{cfg: cfg, client: client, logger: cfg.Logger}, nil
}

type serperRequest struct {
	Q    string `json:"q"`
	GL   string `json:"gl,omitempty"`
	HL   string `json:"hl,omitempty"`
	Page int    `json:"page,omitempty"`
	LL   string `json:"ll,omitempty"`
}

type serperResponse struct {
	Places []Listing `json:"places"`
}

// encodeLL renders a location bias in Serper's "@lat,lng,zoomz" form.
func encodeLL(lat, lng float64, zoom int) string {
	return "@" + strconv.FormatFloat(lat, 'f', 7, 64) + "," +
		strconv.FormatFloat(lng, 'f', 7, 64) + "," + strconv.Itoa(zoom) + "z"
}

// Search fetches one page of places. Device is not part of the places API
// request; it is carried on the Request for the caller's bookkeeping.
func (s *Serper) Search(ctx context.Context, req Request) ([]Listing, error) {
	key := strings.TrimSpace(s.cfg.Credential())
	if key == "" {
		return nil, &ConfigurationError{Reason: CredentialEnv + " is not set"}
	}
	if req.Page < 1 {
		req.Page = 1
	}

	body := serperRequest{
		Q:    req.Query,
		GL:   req.Country,
		HL:   req.Language,
		Page: req.Page,
	}
	if req.Point != nil {
		body.LL = encodeLL(req.Point.Latitude, req.Point.Longitude, s.cfg.Zoom)
	}

	var via *url.URL
	if s.cfg.Proxies != nil {
		if via = s.cfg.Proxies.Next(); via == nil {
			return nil, &TransportError{Err: proxy.ErrNoProxy}
		}
		ctx = proxy.WithProxy(ctx, via)
	}

	start := time.Now()
	var out serperResponse
	err := s.client.PostJSON(ctx, s.cfg.Endpoint, http.Header{"X-API-KEY": {key}}, body, &out)
	elapsed := time.Since(start)

	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			if statusErr.StatusCode == http.StatusProxyAuthRequired {
				s.reportProxy(via, err)
			} else {
				s.reportProxy(via, nil)
			}
			metrics.RecordUpstream(statusErr.StatusCode, elapsed)
			return nil, &UpstreamError{
				StatusCode: statusErr.StatusCode,
				Status:     statusErr.Status,
				Body:       statusErr.Body,
			}
		}
		var decodeErr *httpclient.DecodeError
		if errors.As(err, &decodeErr) {
			s.reportProxy(via, nil)
			metrics.RecordUpstream(decodeErr.StatusCode, elapsed)
			return nil, &UpstreamError{
				StatusCode: decodeErr.StatusCode,
				Body:       "malformed response: " + decodeErr.Err.Error(),
			}
		}
		metrics.RecordUpstream(0, elapsed)
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		s.reportProxy(via, err)
		if via != nil {
			s.logger.Warn("proxied request failed", "proxy", via.Redacted(), "err", err)
		}
		return nil, &TransportError{Err: err}
	}

	s.reportProxy(via, nil)
	metrics.RecordUpstream(http.StatusOK, elapsed)
	s.logger.Debug("serper page fetched",
		"query", req.Query,
		"page", req.Page,
		"ll", body.LL,
		"listings", len(out.Places),
		"duration", elapsed,
	)
	return out.Places, nil
}

func (s *Serper) reportProxy(via *url.URL, err error) {
	if via != nil {
		s.cfg.Proxies.Report(via, err)
	}
}
