package registry

import (
	"net"
	"net/url"
	"strings"
)

const (
	// Order settlement API for progressive execution. Chunked instruction
	// lists are submitted here and settled iteration by iteration.
	SettlementAPIBaseURL = "https://api.leverlabs.xyz/orders/v1"
	SettlementStatusURL  = "https://api.leverlabs.xyz/orders/v1/status"

	// Shared GraphQL endpoints used by the market resolver and the borrow
	// rate provider.
	MorphoGraphQLEndpoint = "https://api.morpho.org/graphql"
	AaveGraphQLEndpoint   = "https://api.v3.aave.com/graphql"
)

// IsAllowedSettlementURL guards the endpoint a progressive order is
// submitted to. Loopback hosts pass for tests and local development;
// anything else must match the canonical settlement URL exactly after
// scheme, port, and path normalization.
func IsAllowedSettlementURL(endpoint string) bool {
	if strings.TrimSpace(endpoint) == "" {
		return true
	}
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return false
	}
	if strings.TrimSpace(parsed.Hostname()) == "" {
		return false
	}
	if isLoopbackHost(parsed.Hostname()) {
		scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
		return scheme == "" || scheme == "http" || scheme == "https"
	}
	if !strings.EqualFold(strings.TrimSpace(parsed.Scheme), "https") {
		return false
	}
	allowed, err := url.Parse(SettlementAPIBaseURL)
	if err != nil {
		return false
	}
	if !strings.EqualFold(parsed.Scheme, allowed.Scheme) {
		return false
	}
	if !strings.EqualFold(parsed.Hostname(), allowed.Hostname()) {
		return false
	}
	if normalizedURLPort(parsed) != normalizedURLPort(allowed) {
		return false
	}
	return normalizedURLPath(parsed.Path) == normalizedURLPath(allowed.Path)
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

func normalizedURLPort(parsed *url.URL) string {
	if parsed == nil {
		return ""
	}
	if port := strings.TrimSpace(parsed.Port()); port != "" {
		return port
	}
	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}

func normalizedURLPath(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return "/"
	}
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return "/"
	}
	return p
}
