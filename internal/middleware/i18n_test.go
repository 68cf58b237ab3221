package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectLocale(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		fallback string
		country  string
		want     string
	}{
		{name: "explicit header", headers: map[string]string{"X-Locale": "pt_BR"}, want: LocalePortuguese},
		{name: "explicit unsupported", headers: map[string]string{"X-Locale": "ja"}, fallback: LocalePortuguese, want: LocaleEnglish},
		{name: "accept language portuguese", headers: map[string]string{"Accept-Language": "pt, en;q=0.5"}, want: LocalePortuguese},
		{name: "accept language english", headers: map[string]string{"Accept-Language": "en-US,en;q=0.9"}, want: LocaleEnglish},
		{name: "country brazil", country: "BR", want: LocalePortuguese},
		{name: "country lower case", country: "pt", want: LocalePortuguese},
		{name: "other country", country: "US", fallback: LocalePortuguese, want: LocaleEnglish},
		{name: "fallback", fallback: "pt-BR", want: LocalePortuguese},
		{name: "empty fallback", want: LocaleEnglish},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := detectLocale(req, tc.fallback, tc.country); got != tc.want {
				t.Fatalf("detectLocale() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolveCountry(t *testing.T) {
	lookupCalls := 0
	lookup := func(ip string) (string, error) {
		lookupCalls++
		if ip == "203.0.113.5" {
			return "br", nil
		}
		return "", errors.New("unknown")
	}

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "header hint", headers: map[string]string{"CF-IPCountry": "de"}, want: "DE"},
		{name: "locale region", headers: map[string]string{"X-Locale": "en-GB"}, want: "GB"},
		{name: "accept language region", headers: map[string]string{"Accept-Language": "pt-PT,pt;q=0.8"}, want: "PT"},
		{name: "language without region uses lookup", headers: map[string]string{"Accept-Language": "en"}, remote: "203.0.113.5:80", want: "BR"},
		{name: "forwarded ip", headers: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, want: "BR"},
		{name: "lookup failure", remote: "198.51.100.1:80", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.remote != "" {
				req.RemoteAddr = tc.remote
			}
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := ResolveCountry(req, lookup); got != tc.want {
				t.Fatalf("ResolveCountry() = %q, want %q", got, tc.want)
			}
		})
	}
	if lookupCalls == 0 {
		t.Fatal("expected lookup to be consulted")
	}
}

func TestI18NStoresLocaleAndCountry(t *testing.T) {
	var locale, country string
	h := I18N(LocaleEnglish, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale = LocaleFromContext(r.Context())
		country = CountryFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Country-Code", "br")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if locale != LocalePortuguese || country != "BR" {
		t.Fatalf("locale=%q country=%q", locale, country)
	}
	if rec.Header().Get("Content-Language") != LocalePortuguese {
		t.Fatalf("Content-Language = %q", rec.Header().Get("Content-Language"))
	}
}
