package fingerprint

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
)

// Profile represents a recognized TLS ClientHello profile for the upstream transport.
type Profile string

const (
	ProfileGo      Profile = "go" // standard crypto/tls
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
)

// ParseProfile maps a configuration value onto a Profile. Empty means ProfileGo.
func ParseProfile(s string) (Profile, error) {
	switch p := Profile(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ProfileGo, nil
	case ProfileGo, ProfileChrome, ProfileFirefox, ProfileSafari:
		return p, nil
	default:
		return "", fmt.Errorf("fingerprint: unknown profile %q", s)
	}
}

// Options tune the transport returned by Transport.
type Options struct {
	// Proxy routes every request through a fixed HTTP(S) proxy. Behind a proxy
	// the TLS session is negotiated with crypto/tls whatever the profile.
	Proxy *url.URL
	// ProxyFunc picks a proxy per request and takes precedence over Proxy.
	ProxyFunc   func(*http.Request) (*url.URL, error)
	DialTimeout time.Duration
	// RootCAs overrides the system roots, for private upstreams and tests.
	RootCAs *x509.CertPool
}

func helloID(p Profile) (utls.ClientHelloID, error) {
	switch p {
	case ProfileChrome:
		return utls.HelloChrome_Auto, nil
	case ProfileFirefox:
		return utls.HelloFirefox_Auto, nil
	case ProfileSafari:
		return utls.HelloIOS_Auto, nil
	default:
		return utls.ClientHelloID{}, fmt.Errorf("fingerprint: no uTLS hello for profile %q", p)
	}
}

// Transport returns an http.RoundTripper for the given profile. ProfileGo is a
// clone of http.DefaultTransport; the other profiles dial TLS through uTLS
// with ALPN pinned to http/1.1, since net/http cannot speak h2 over a custom
// TLS connection.
func Transport(p Profile, opts Options) (http.RoundTripper, error) {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	dialer := &net.Dialer{Timeout: opts.DialTimeout, KeepAlive: 30 * time.Second}
	transport.DialContext = dialer.DialContext
	if opts.RootCAs != nil {
		transport.TLSClientConfig = &tls.Config{RootCAs: opts.RootCAs}
	}

	if opts.Proxy != nil || opts.ProxyFunc != nil {
		transport.Proxy = opts.ProxyFunc
		if transport.Proxy == nil {
			transport.Proxy = http.ProxyURL(opts.Proxy)
		}
		if _, err := ParseProfile(string(p)); err != nil {
			return nil, err
		}
		return transport, nil
	}
	if p == ProfileGo || p == "" {
		return transport, nil
	}

	id, err := helloID(p)
	if err != nil {
		return nil, err
	}
	if _, err := utls.UTLSIdToSpec(id); err != nil {
		return nil, fmt.Errorf("fingerprint: build spec for %q: %w", p, err)
	}

	transport.ForceAttemptHTTP2 = false
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		// Each connection needs its own copy: ApplyPreset mutates extensions.
		connSpec, err := utls.UTLSIdToSpec(id)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		pinHTTP1(&connSpec)

		uConn := utls.UClient(conn, &utls.Config{ServerName: host, RootCAs: opts.RootCAs}, utls.HelloCustom)
		if err := uConn.ApplyPreset(&connSpec); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("fingerprint: apply preset: %w", err)
		}
		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("fingerprint: utls handshake failed: %w", err)
		}
		return uConn, nil
	}

	return transport, nil
}

func pinHTTP1(spec *utls.ClientHelloSpec) {
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			return
		}
	}
}
