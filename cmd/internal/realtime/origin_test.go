package realtime

import (
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestEnforceOrigin(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		allowed  []string
		required bool
		origin   string
		wantErr  bool
	}{
		{name: "exact match", allowed: []string{"https://shop.example.com"}, origin: "https://shop.example.com"},
		{name: "host match ignores port", allowed: []string{"http://localhost"}, origin: "http://localhost:3000"},
		{name: "trailing slash in config", allowed: []string{"https://shop.example.com/"}, origin: "https://shop.example.com"},
		{name: "other host", allowed: []string{"https://shop.example.com"}, origin: "https://evil.example.net", wantErr: true},
		{name: "missing origin required", allowed: []string{"https://shop.example.com"}, required: true, wantErr: true},
		{name: "missing origin optional", allowed: []string{"https://shop.example.com"}},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://anything.example"},
		{name: "empty allowlist", origin: "https://shop.example.com", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			g := &Gateway{opts: Options{AllowedOrigins: tc.allowed, OriginRequired: tc.required}}
			r := httptest.NewRequest("GET", "/ws", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			err := g.enforceOrigin(r)
			if (err != nil) != tc.wantErr {
				t.Fatalf("enforceOrigin()=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatterns([]string{"http://localhost:3000", "https://Shop.Example.com", "http://localhost:3000"})
	want := []string{"localhost", "localhost:3000", "shop.example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("deriveOriginPatterns()=%v want %v", got, want)
	}

	if got := deriveOriginPatterns([]string{"https://a.example", "*"}); !reflect.DeepEqual(got, []string{"*"}) {
		t.Fatalf("wildcard patterns=%v", got)
	}
}
