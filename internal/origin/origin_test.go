package origin

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		wantNorm string
		wantHost string
		wantOK   bool
	}{
		{"https", "https://example.com", "https://example.com", "example.com", true},
		{"http with port", "http://example.com:8080", "http://example.com:8080", "example.com:8080", true},
		{"default http port stripped", "http://example.com:80", "http://example.com", "example.com", true},
		{"default https port stripped", "https://example.com:443", "https://example.com", "example.com", true},
		{"uppercase host lowered", "https://EXAMPLE.com", "https://example.com", "example.com", true},
		{"trailing slash ok", "https://example.com/", "https://example.com", "example.com", true},
		{"ipv6", "http://[::1]:3000", "http://[::1]:3000", "[::1]:3000", true},
		{"ipv6 default port", "http://[::1]:80", "http://[::1]", "[::1]", true},
		{"null origin", "null", "null", "", true},
		{"surrounding whitespace", "  https://example.com  ", "https://example.com", "example.com", true},

		{"empty", "", "", "", false},
		{"no scheme", "example.com", "", "", false},
		{"ftp scheme", "ftp://example.com", "", "", false},
		{"ws scheme", "ws://example.com", "", "", false},
		{"path", "https://example.com/app", "", "", false},
		{"query", "https://example.com?x=1", "", "", false},
		{"fragment", "https://example.com#frag", "", "", false},
		{"userinfo", "https://user@example.com", "", "", false},
		{"port zero", "https://example.com:0", "", "", false},
		{"port out of range", "https://example.com:70000", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			norm, host, ok := Normalize(tt.header)
			if ok != tt.wantOK {
				t.Fatalf("Normalize(%q) ok=%v, want %v", tt.header, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if norm != tt.wantNorm || host != tt.wantHost {
				t.Fatalf("Normalize(%q)=(%q, %q), want (%q, %q)", tt.header, norm, host, tt.wantNorm, tt.wantHost)
			}
		})
	}
}

func TestAllowed_Allowlist(t *testing.T) {
	allowlist := []string{"https://app.example.com", "http://localhost:3000"}

	tests := []struct {
		name       string
		normalized string
		want       bool
	}{
		{"listed origin", "https://app.example.com", true},
		{"listed localhost", "http://localhost:3000", true},
		{"unlisted origin", "https://evil.example.com", false},
		{"scheme mismatch", "http://app.example.com", false},
		{"null origin not listed", "null", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Allowed(tt.normalized, "", "relay.example.com", allowlist); got != tt.want {
				t.Fatalf("Allowed(%q)=%v, want %v", tt.normalized, got, tt.want)
			}
		})
	}

	t.Run("wildcard allows anything", func(t *testing.T) {
		if !Allowed("https://anywhere.example.com", "", "relay.example.com", []string{"*"}) {
			t.Fatalf("wildcard should allow any origin")
		}
		if !Allowed("null", "", "relay.example.com", []string{"*"}) {
			t.Fatalf("wildcard should allow null origins")
		}
	})
}

func TestAllowed_SameHostDefault(t *testing.T) {
	tests := []struct {
		name        string
		originHost  string
		requestHost string
		want        bool
	}{
		{"exact match", "relay.example.com", "relay.example.com", true},
		{"match with port", "relay.example.com:8080", "relay.example.com:8080", true},
		{"default port equivalence", "relay.example.com", "relay.example.com:80", true},
		{"https default port equivalence", "relay.example.com:443", "relay.example.com", true},
		{"host mismatch", "other.example.com", "relay.example.com", false},
		{"port mismatch", "relay.example.com:8080", "relay.example.com:9090", false},
		{"ipv6 default port", "[::1]", "[::1]:80", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Allowed("https://"+tt.originHost, tt.originHost, tt.requestHost, nil); got != tt.want {
				t.Fatalf("Allowed(%q vs %q)=%v, want %v", tt.originHost, tt.requestHost, got, tt.want)
			}
		})
	}

	t.Run("null origin rejected without allowlist", func(t *testing.T) {
		if Allowed("null", "", "relay.example.com", nil) {
			t.Fatalf("null origin must not pass same-host policy")
		}
	})
}
