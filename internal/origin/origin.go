// Package origin normalizes browser Origin headers and decides whether an
// origin may reach the relay's HTTP and websocket surface.
package origin

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates a browser Origin header and returns it in canonical
// scheme://host[:port] form plus the host[:port] part used for same-host
// comparisons. Default ports are stripped. The special value "null" (opaque
// origins, e.g. sandboxed iframes) is passed through.
func Normalize(header string) (normalized string, host string, ok bool) {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	if u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", "", false
	}

	portPart := u.Port()
	if portPart != "" {
		n, err := strconv.ParseUint(portPart, 10, 16)
		if err != nil || n == 0 {
			return "", "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			portPart = ""
		} else {
			portPart = strconv.FormatUint(n, 10)
		}
	}

	host = hostname
	if strings.Contains(hostname, ":") {
		// IPv6 literal.
		host = "[" + hostname + "]"
	}
	if portPart != "" {
		host += ":" + portPart
	}
	return scheme + "://" + host, host, true
}

// Allowed reports whether a normalized origin may access the given request
// host.
//
// With a non-empty allow-list, entries are either "*" or normalized origins.
// With an empty allow-list the policy is same-host: the origin's host[:port]
// must equal the request's Host header (default ports equivalent).
func Allowed(normalized, originHost, requestHost string, allowlist []string) bool {
	if len(allowlist) > 0 {
		for _, entry := range allowlist {
			if entry == "*" || entry == normalized {
				return true
			}
		}
		return false
	}

	if normalized == "null" {
		return false
	}
	return equalHost(originHost, requestHost)
}

func equalHost(a, b string) bool {
	return canonicalHost(a) == canonicalHost(b)
}

func canonicalHost(hostport string) string {
	hostport = strings.ToLower(strings.TrimSpace(hostport))
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	switch port {
	case "80", "443":
		// Treat default ports as the bare host so http://example.com matches
		// a Host header of example.com:80.
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	default:
		return hostport
	}
}
