package fingerprint

import (
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestTransport_Profiles(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	roots := x509.NewCertPool()
	roots.AddCert(ts.Certificate())

	for _, p := range []Profile{ProfileGo, ProfileChrome, ProfileFirefox, ProfileSafari} {
		t.Run(string(p), func(t *testing.T) {
			rt, err := Transport(p, Options{RootCAs: roots})
			if err != nil {
				t.Fatalf("unexpected error creating transport for %s: %v", p, err)
			}

			tr, ok := rt.(*http.Transport)
			if !ok {
				t.Fatalf("expected *http.Transport, got %T", rt)
			}
			if p != ProfileGo && tr.DialTLSContext == nil {
				t.Fatalf("expected uTLS dialer for profile %s", p)
			}

			client := &http.Client{Transport: tr}
			resp, err := client.Get(ts.URL)
			if err != nil {
				t.Fatalf("request failed for profile %s: %v", p, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Errorf("expected 200 OK, got %d for profile %s", resp.StatusCode, p)
			}
			if resp.ProtoMajor != 1 {
				t.Errorf("expected HTTP/1.x, got %s", resp.Proto)
			}
		})
	}
}

func TestTransport_Proxy(t *testing.T) {
	proxyURL, _ := url.Parse("http://127.0.0.1:3128")
	rt, err := Transport(ProfileChrome, Options{Proxy: proxyURL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr := rt.(*http.Transport)
	if tr.DialTLSContext != nil {
		t.Errorf("expected crypto/tls behind a proxy")
	}

	req, _ := http.NewRequest(http.MethodGet, "https://google.serper.dev/places", nil)
	got, err := tr.Proxy(req)
	if err != nil || got.String() != proxyURL.String() {
		t.Errorf("expected proxy %v, got %v (err %v)", proxyURL, got, err)
	}
}

func TestTransport_ProxyFunc(t *testing.T) {
	picked, _ := url.Parse("http://10.0.0.1:8080")
	rt, err := Transport(ProfileSafari, Options{
		Proxy:     &url.URL{Scheme: "http", Host: "127.0.0.1:3128"},
		ProxyFunc: func(*http.Request) (*url.URL, error) { return picked, nil },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr := rt.(*http.Transport)
	if tr.DialTLSContext != nil {
		t.Errorf("expected crypto/tls behind a proxy")
	}

	req, _ := http.NewRequest(http.MethodGet, "https://google.serper.dev/places", nil)
	if got, _ := tr.Proxy(req); got != picked {
		t.Errorf("expected ProxyFunc to win, got %v", got)
	}
}

func TestTransport_UnknownProfile(t *testing.T) {
	if _, err := Transport(Profile("unknown_browser"), Options{}); err == nil {
		t.Fatal("expected error for unknown profile, got nil")
	}
}

func TestParseProfile(t *testing.T) {
	cases := map[string]Profile{
		"":         ProfileGo,
		"go":       ProfileGo,
		" Chrome ": ProfileChrome,
		"FIREFOX":  ProfileFirefox,
		"safari":   ProfileSafari,
	}
	for in, want := range cases {
		got, err := ParseProfile(in)
		if err != nil {
			t.Errorf("ParseProfile(%q): unexpected error %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseProfile(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseProfile("netscape"); err == nil {
		t.Error("expected error for unknown profile")
	}
}
