// Package security guards the service's outbound HTTP surface against
// SSRF: the inference gateway URL is operator-supplied and must not be
// redirected into internal infrastructure.
package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// SSRFConfig configures outbound URL validation.
type SSRFConfig struct {
	// AllowedHosts restricts outbound connections to these hostnames.
	// An empty list allows any host that passes the IP checks.
	AllowedHosts []string
	// AllowedSchemes lists acceptable URL schemes (default: http, https).
	AllowedSchemes []string
	// AllowLocalhost permits loopback targets (default for the gateway).
	AllowLocalhost bool
	// BlockPrivateIPs rejects RFC1918 ranges.
	BlockPrivateIPs bool
	// BlockLinkLocal rejects link-local ranges, including the cloud
	// metadata endpoint 169.254.169.254.
	BlockLinkLocal bool
}

// SSRFValidator validates outbound URLs and dial targets.
type SSRFValidator struct {
	config  SSRFConfig
	allowed map[string]bool
}

// NewSSRFValidator creates a validator from the given configuration.
func NewSSRFValidator(config SSRFConfig) *SSRFValidator {
	if len(config.AllowedSchemes) == 0 {
		config.AllowedSchemes = []string{"http", "https"}
	}

	allowed := make(map[string]bool, len(config.AllowedHosts))
	for _, host := range config.AllowedHosts {
		allowed[strings.ToLower(host)] = true
	}

	return &SSRFValidator{config: config, allowed: allowed}
}

// DefaultGatewayAllowlist holds the hosts an inference gateway is
// expected to run on without extra configuration.
var DefaultGatewayAllowlist = []string{
	"localhost",
	"127.0.0.1",
	"::1",
	"inference",
	"inference-gateway",
}

// GatewayAllowedHosts returns the default allowlist extended with the
// comma-separated INFERENCE_ALLOWED_HOSTS environment variable.
func GatewayAllowedHosts() []string {
	hosts := make([]string, len(DefaultGatewayAllowlist))
	copy(hosts, DefaultGatewayAllowlist)

	for _, host := range strings.Split(os.Getenv("INFERENCE_ALLOWED_HOSTS"), ",") {
		if host = strings.TrimSpace(host); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

// NewGatewaySSRFValidator creates a validator configured for the
// inference gateway target.
func NewGatewaySSRFValidator() *SSRFValidator {
	return NewSSRFValidator(SSRFConfig{
		AllowedHosts:    GatewayAllowedHosts(),
		AllowLocalhost:  true,
		BlockPrivateIPs: true,
		BlockLinkLocal:  true,
	})
}

// ValidateURL checks a full URL's scheme and host.
func (v *SSRFValidator) ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	schemeOK := false
	for _, scheme := range v.config.AllowedSchemes {
		if strings.EqualFold(parsed.Scheme, scheme) {
			schemeOK = true
			break
		}
	}
	if !schemeOK {
		return fmt.Errorf("invalid URL scheme %q (allowed: %v)", parsed.Scheme, v.config.AllowedSchemes)
	}

	return v.ValidateHost(parsed.Hostname())
}

// ValidateHost checks a hostname against the allowlist and its resolved
// addresses against the IP policy.
func (v *SSRFValidator) ValidateHost(host string) error {
	hostLower := strings.ToLower(host)

	if len(v.allowed) > 0 && !v.allowed[hostLower] {
		return fmt.Errorf("host not in allowlist: %s", host)
	}

	if err := v.validateResolved(hostLower); err != nil {
		return fmt.Errorf("invalid IP address: %w", err)
	}
	return nil
}

func (v *SSRFValidator) validateResolved(host string) error {
	// localhost always resolves to loopback, no lookup needed.
	if v.config.AllowLocalhost && host == "localhost" {
		return nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		// Container service names may not resolve outside their
		// network; they are already allowlisted by name.
		if v.allowed[host] && net.ParseIP(host) == nil {
			return nil
		}
		if strings.HasSuffix(host, ".local") {
			return nil
		}
		return err
	}

	for _, ip := range ips {
		if err := v.ValidateIP(ip); err != nil {
			return err
		}
	}
	return nil
}

// ValidateIP checks a single resolved address against the IP policy.
func (v *SSRFValidator) ValidateIP(ip net.IP) error {
	if v.config.AllowLocalhost && ip.IsLoopback() {
		return nil
	}
	if v.config.BlockPrivateIPs && ip.IsPrivate() {
		return fmt.Errorf("private IP addresses not allowed: %s", ip)
	}
	if v.config.BlockLinkLocal && (ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()) {
		return fmt.Errorf("link-local addresses not allowed: %s", ip)
	}
	if ip.IsMulticast() {
		return fmt.Errorf("multicast addresses not allowed: %s", ip)
	}
	return nil
}

// SecureTransport returns an http.Transport that re-validates the dial
// target, protecting against DNS rebinding between request validation
// and connection time.
func (v *SSRFValidator) SecureTransport() *http.Transport {
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				host = addr
			}
			if err := v.ValidateHost(host); err != nil {
				return nil, fmt.Errorf("connection blocked: %w", err)
			}
			dialer := &net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
